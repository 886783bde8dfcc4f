// Package kms manages per-project data keys wrapped by a master key
// encryption key. Unwrapped keys are cached in memory so hot paths do not
// re-derive ciphers per request.
package kms

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keyfold/keyfold/internal/apperr"
	"github.com/keyfold/keyfold/internal/crypto"
	"github.com/keyfold/keyfold/internal/database"
)

// Service wraps and unwraps project data keys with the master KEK.
type Service struct {
	master *crypto.Cipher
	keys   database.KMSKeyRepository
	logger zerolog.Logger

	mu      sync.Mutex
	keyring map[uuid.UUID]*projectKeys
}

// projectKeys is the cached unwrapped key material for one project.
type projectKeys struct {
	cipher  *crypto.Cipher
	indexer *crypto.BlindIndexer
}

// NewService creates a KMS service from a hex-encoded 32-byte master key.
func NewService(masterKeyHex string, keys database.KMSKeyRepository, logger zerolog.Logger) (*Service, error) {
	masterKey, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("master key is not valid hex: %w", err)
	}
	master, err := crypto.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("invalid master key: %w", err)
	}
	return &Service{
		master:  master,
		keys:    keys,
		logger:  logger.With().Str("component", "kms").Logger(),
		keyring: make(map[uuid.UUID]*projectKeys),
	}, nil
}

// CreateProjectKey generates a fresh data key for the project, wraps it under
// the master KEK, and persists the wrapped form. Returns Conflict if the
// project already has a key.
func (s *Service) CreateProjectKey(ctx context.Context, projectID uuid.UUID) error {
	dataKey, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("failed to generate data key: %w", err)
	}

	wrapped, err := s.master.Encrypt(dataKey)
	if err != nil {
		return fmt.Errorf("failed to wrap data key: %w", err)
	}

	k := &database.KMSKey{
		ProjectID:  projectID,
		WrappedKey: wrapped.Ciphertext,
		WrapIV:     wrapped.IV,
		WrapTag:    wrapped.Tag,
		Version:    1,
	}
	if err := s.keys.Create(ctx, k); err != nil {
		if database.IsDuplicate(err) {
			return apperr.NewConflict("project already has a data key")
		}
		return apperr.WrapDatabase(err, "failed to persist project key")
	}

	s.logger.Info().Str("project_id", projectID.String()).Msg("created project data key")
	return nil
}

// CipherForProject returns the project's data key cipher, unwrapping and
// caching it on first use.
func (s *Service) CipherForProject(ctx context.Context, projectID uuid.UUID) (*crypto.Cipher, error) {
	pk, err := s.projectKeys(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return pk.cipher, nil
}

// IndexerForProject returns the project's blind indexer.
func (s *Service) IndexerForProject(ctx context.Context, projectID uuid.UUID) (*crypto.BlindIndexer, error) {
	pk, err := s.projectKeys(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return pk.indexer, nil
}

func (s *Service) projectKeys(ctx context.Context, projectID uuid.UUID) (*projectKeys, error) {
	s.mu.Lock()
	if pk, ok := s.keyring[projectID]; ok {
		s.mu.Unlock()
		return pk, nil
	}
	s.mu.Unlock()

	k, err := s.keys.GetByProject(ctx, projectID)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, apperr.NewNotFound("project data key not found")
		}
		return nil, apperr.WrapDatabase(err, "failed to load project key")
	}

	dataKey, err := s.master.Decrypt(&crypto.EncryptedValue{
		Ciphertext: k.WrappedKey,
		IV:         k.WrapIV,
		Tag:        k.WrapTag,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap project key: %w", err)
	}

	cipher, err := crypto.NewCipher(dataKey)
	if err != nil {
		return nil, fmt.Errorf("unwrapped key is invalid: %w", err)
	}
	indexer, err := crypto.NewBlindIndexer(dataKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build blind indexer: %w", err)
	}

	pk := &projectKeys{cipher: cipher, indexer: indexer}
	s.mu.Lock()
	s.keyring[projectID] = pk
	s.mu.Unlock()
	return pk, nil
}

// Forget drops a project's cached key material, forcing the next use to
// unwrap again. Used after key rotation.
func (s *Service) Forget(projectID uuid.UUID) {
	s.mu.Lock()
	delete(s.keyring, projectID)
	s.mu.Unlock()
}
