// Package secrets implements the versioned, envelope-encrypted secret store.
package secrets

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keyfold/keyfold/internal/apperr"
	"github.com/keyfold/keyfold/internal/crypto"
	"github.com/keyfold/keyfold/internal/database"
	"github.com/keyfold/keyfold/internal/kms"
	"github.com/keyfold/keyfold/internal/permission"
	"github.com/keyfold/keyfold/pkg/metrics"
)

// SecretValue is a decrypted secret returned to callers.
type SecretValue struct {
	ID        uuid.UUID `json:"id"`
	FolderID  uuid.UUID `json:"folder_id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Version   int       `json:"version"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
}

// CreateSecretInput describes a new secret.
type CreateSecretInput struct {
	ProjectID   uuid.UUID
	Environment string
	Path        string
	Key         string
	Value       string
}

// Service performs authorization-checked, envelope-encrypted secret CRUD.
type Service struct {
	repos   *database.Repositories
	perm    *permission.Service
	kms     *kms.Service
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewService creates a secrets service. metrics may be nil in tests.
func NewService(repos *database.Repositories, perm *permission.Service, keys *kms.Service, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repos:   repos,
		perm:    perm,
		kms:     keys,
		logger:  logger.With().Str("component", "secrets").Logger(),
		metrics: m,
	}
}

// CreateSecret encrypts and stores a new secret at version 1 in the folder at
// (Environment, Path), creating the folder if absent.
func (s *Service) CreateSecret(ctx context.Context, actor permission.Actor, in CreateSecretInput) (*SecretValue, error) {
	if in.Key == "" {
		return nil, apperr.NewValidation("key", "secret key is required")
	}
	if err := s.perm.Check(ctx, actor, permission.ActionCreate, permission.SubjectSecrets, in.ProjectID); err != nil {
		return nil, err
	}

	env, err := s.environmentBySlug(ctx, in.ProjectID, in.Environment)
	if err != nil {
		return nil, err
	}
	folder, err := s.repos.Folders.Ensure(ctx, env.ID, in.Path)
	if err != nil {
		return nil, apperr.WrapDatabase(err, "failed to ensure folder")
	}

	cipher, err := s.kms.CipherForProject(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}
	indexer, err := s.kms.IndexerForProject(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}

	enc, err := cipher.Encrypt([]byte(in.Value))
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordCryptoOp("encrypt")
	}

	secret := &database.Secret{
		FolderID:   folder.ID,
		Key:        in.Key,
		Ciphertext: enc.Ciphertext,
		IV:         enc.IV,
		Tag:        enc.Tag,
		BlindIndex: indexer.Index(in.Key),
	}
	if err := s.repos.Secrets.Create(ctx, secret); err != nil {
		if database.IsDuplicate(err) {
			return nil, apperr.NewConflict("secret %s already exists in folder", in.Key)
		}
		return nil, apperr.WrapDatabase(err, "failed to create secret")
	}

	s.logger.Info().
		Str("folder_id", folder.ID.String()).
		Str("key", in.Key).
		Msg("created secret")

	return s.toValue(secret, in.Value), nil
}

// UpdateSecret re-encrypts the secret's value, pushing the previous ciphertext
// into the version history.
func (s *Service) UpdateSecret(ctx context.Context, actor permission.Actor, projectID uuid.UUID, envSlug, folderPath, key, value string) (*SecretValue, error) {
	if err := s.perm.Check(ctx, actor, permission.ActionEdit, permission.SubjectSecrets, projectID); err != nil {
		return nil, err
	}

	secret, err := s.lookup(ctx, projectID, envSlug, folderPath, key)
	if err != nil {
		return nil, err
	}

	cipher, err := s.kms.CipherForProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	enc, err := cipher.Encrypt([]byte(value))
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordCryptoOp("encrypt")
	}

	updated, err := s.repos.Secrets.UpdateValue(ctx, secret.ID, enc.Ciphertext, enc.IV, enc.Tag)
	if err != nil {
		return nil, apperr.WrapDatabase(err, "failed to update secret")
	}
	return s.toValue(updated, value), nil
}

// GetSecret fetches and decrypts one secret via its blind index.
func (s *Service) GetSecret(ctx context.Context, actor permission.Actor, projectID uuid.UUID, envSlug, folderPath, key string) (*SecretValue, error) {
	if err := s.perm.Check(ctx, actor, permission.ActionRead, permission.SubjectSecrets, projectID); err != nil {
		return nil, err
	}

	secret, err := s.lookup(ctx, projectID, envSlug, folderPath, key)
	if err != nil {
		return nil, err
	}
	return s.decryptOne(ctx, projectID, secret)
}

// GetSecrets lists and decrypts the folder's local secrets.
func (s *Service) GetSecrets(ctx context.Context, actor permission.Actor, projectID uuid.UUID, envSlug, folderPath string) ([]SecretValue, error) {
	if err := s.perm.Check(ctx, actor, permission.ActionRead, permission.SubjectSecrets, projectID); err != nil {
		return nil, err
	}

	folder, err := s.repos.Folders.GetByPath(ctx, projectID, envSlug, folderPath)
	if err != nil {
		if database.IsNotFound(err) {
			return []SecretValue{}, nil
		}
		return nil, apperr.WrapDatabase(err, "failed to resolve folder")
	}

	stored, err := s.repos.Secrets.ListByFolder(ctx, folder.ID)
	if err != nil {
		return nil, apperr.WrapDatabase(err, "failed to list secrets")
	}

	out := make([]SecretValue, 0, len(stored))
	for i := range stored {
		v, err := s.decryptOne(ctx, projectID, &stored[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

// DeleteSecret removes a secret from its folder.
func (s *Service) DeleteSecret(ctx context.Context, actor permission.Actor, projectID uuid.UUID, envSlug, folderPath, key string) error {
	if err := s.perm.Check(ctx, actor, permission.ActionDelete, permission.SubjectSecrets, projectID); err != nil {
		return err
	}

	folder, err := s.repos.Folders.GetByPath(ctx, projectID, envSlug, folderPath)
	if err != nil {
		if database.IsNotFound(err) {
			return apperr.NewNotFound("folder %s not found", folderPath)
		}
		return apperr.WrapDatabase(err, "failed to resolve folder")
	}
	if err := s.repos.Secrets.Delete(ctx, folder.ID, key); err != nil {
		if database.IsNotFound(err) {
			return apperr.NewNotFound("secret %s not found", key)
		}
		return apperr.WrapDatabase(err, "failed to delete secret")
	}
	s.logger.Info().
		Str("folder_id", folder.ID.String()).
		Str("key", key).
		Msg("deleted secret")
	return nil
}

// ListVersions returns the decrypted version history of a secret, newest
// first. The current version is not included.
func (s *Service) ListVersions(ctx context.Context, actor permission.Actor, projectID uuid.UUID, envSlug, folderPath, key string) ([]SecretValue, error) {
	if err := s.perm.Check(ctx, actor, permission.ActionRead, permission.SubjectSecrets, projectID); err != nil {
		return nil, err
	}

	secret, err := s.lookup(ctx, projectID, envSlug, folderPath, key)
	if err != nil {
		return nil, err
	}

	versions, err := s.repos.Secrets.ListVersions(ctx, secret.ID)
	if err != nil {
		return nil, apperr.WrapDatabase(err, "failed to list secret versions")
	}

	cipher, err := s.kms.CipherForProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	out := make([]SecretValue, 0, len(versions))
	for _, v := range versions {
		plaintext, err := cipher.Decrypt(&crypto.EncryptedValue{
			Ciphertext: v.Ciphertext, IV: v.IV, Tag: v.Tag,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, SecretValue{
			ID:        v.ID,
			FolderID:  secret.FolderID,
			Key:       secret.Key,
			Value:     string(plaintext),
			Version:   v.Version,
			CreatedAt: v.CreatedAt.Format(time.RFC3339),
		})
	}
	return out, nil
}

// lookup finds a secret by folder path and key, preferring the blind index
// and falling back to the plain key column for rows without one.
func (s *Service) lookup(ctx context.Context, projectID uuid.UUID, envSlug, folderPath, key string) (*database.Secret, error) {
	folder, err := s.repos.Folders.GetByPath(ctx, projectID, envSlug, folderPath)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, apperr.NewNotFound("folder %s not found", folderPath)
		}
		return nil, apperr.WrapDatabase(err, "failed to resolve folder")
	}

	indexer, err := s.kms.IndexerForProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	secret, err := s.repos.Secrets.GetByBlindIndex(ctx, folder.ID, indexer.Index(key))
	if err == nil {
		return secret, nil
	}
	if !database.IsNotFound(err) {
		return nil, apperr.WrapDatabase(err, "failed to look up secret")
	}

	secret, err = s.repos.Secrets.GetByKey(ctx, folder.ID, key)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, apperr.NewNotFound("secret %s not found", key)
		}
		return nil, apperr.WrapDatabase(err, "failed to look up secret")
	}
	return secret, nil
}

func (s *Service) decryptOne(ctx context.Context, projectID uuid.UUID, secret *database.Secret) (*SecretValue, error) {
	cipher, err := s.kms.CipherForProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	plaintext, err := cipher.Decrypt(&crypto.EncryptedValue{
		Ciphertext: secret.Ciphertext, IV: secret.IV, Tag: secret.Tag,
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordCryptoOp("decrypt")
	}
	return s.toValue(secret, string(plaintext)), nil
}

func (s *Service) toValue(secret *database.Secret, plaintext string) *SecretValue {
	return &SecretValue{
		ID:        secret.ID,
		FolderID:  secret.FolderID,
		Key:       secret.Key,
		Value:     plaintext,
		Version:   secret.Version,
		CreatedAt: secret.CreatedAt.Format(time.RFC3339),
		UpdatedAt: secret.UpdatedAt.Format(time.RFC3339),
	}
}

func (s *Service) environmentBySlug(ctx context.Context, projectID uuid.UUID, slug string) (*database.Environment, error) {
	env, err := s.repos.Projects.GetEnvironmentBySlug(ctx, projectID, slug)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, apperr.NewNotFound("environment %s not found", slug)
		}
		return nil, apperr.WrapDatabase(err, "failed to resolve environment")
	}
	return env, nil
}
