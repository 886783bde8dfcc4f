package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keyfold/keyfold/internal/database"
	"github.com/keyfold/keyfold/internal/imports"
	"github.com/keyfold/keyfold/internal/kms"
	"github.com/keyfold/keyfold/internal/permission"
	"github.com/keyfold/keyfold/pkg/metrics"
)

// ErrNotConfigured is returned when no object storage is configured.
var ErrNotConfigured = fmt.Errorf("snapshot storage is not configured")

// Snapshot is the metadata returned after taking a snapshot.
type Snapshot struct {
	Path        string    `json:"path"`
	Environment string    `json:"environment"`
	SecretPath  string    `json:"secret_path"`
	SecretCount int       `json:"secret_count"`
	TakenAt     time.Time `json:"taken_at"`
}

// payload is the serialized form written to storage before encryption.
type payload struct {
	ProjectID   uuid.UUID                    `json:"project_id"`
	Environment string                       `json:"environment"`
	SecretPath  string                       `json:"secret_path"`
	TakenAt     time.Time                    `json:"taken_at"`
	Secrets     []imports.MaterializedSecret `json:"secrets"`
}

// SecretResolver produces the merged, decrypted view of a folder.
type SecretResolver interface {
	ResolveSecrets(ctx context.Context, actor permission.Actor, projectID uuid.UUID, envSlug, folderPath string) ([]imports.MaterializedSecret, error)
}

// Service takes and lists encrypted snapshots of resolved secret views.
type Service struct {
	storage  ObjectStorage
	resolver SecretResolver
	kms      *kms.Service
	perm     *permission.Service
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService creates a snapshot service. storage may be nil, in which case
// every operation returns ErrNotConfigured.
func NewService(storage ObjectStorage, resolver SecretResolver, keys *kms.Service, perm *permission.Service, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		storage:  storage,
		resolver: resolver,
		kms:      keys,
		perm:     perm,
		logger:   logger.With().Str("component", "snapshot").Logger(),
		metrics:  m,
		now:      time.Now,
	}
}

// Enabled reports whether object storage is configured.
func (s *Service) Enabled() bool {
	return s.storage != nil
}

// Take resolves the folder's merged view, encrypts it with the project data
// key, and uploads it as a timestamped object.
func (s *Service) Take(ctx context.Context, actor permission.Actor, projectID uuid.UUID, envSlug, folderPath string) (*Snapshot, error) {
	if s.storage == nil {
		return nil, ErrNotConfigured
	}
	if err := s.perm.Check(ctx, actor, permission.ActionRead, permission.SubjectSnapshots, projectID); err != nil {
		return nil, err
	}

	secrets, err := s.resolver.ResolveSecrets(ctx, actor, projectID, envSlug, folderPath)
	if err != nil {
		return nil, err
	}

	takenAt := s.now().UTC()
	body, err := json.Marshal(payload{
		ProjectID:   projectID,
		Environment: envSlug,
		SecretPath:  database.CanonicalPath(folderPath),
		TakenAt:     takenAt,
		Secrets:     secrets,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	cipher, err := s.kms.CipherForProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	enc, err := cipher.Encrypt(body)
	if err != nil {
		return nil, err
	}
	// IV and tag travel with the ciphertext in one blob.
	blob := make([]byte, 0, len(enc.IV)+len(enc.Ciphertext)+len(enc.Tag))
	blob = append(blob, enc.IV...)
	blob = append(blob, enc.Ciphertext...)
	blob = append(blob, enc.Tag...)

	objectPath := fmt.Sprintf("projects/%s/snapshots/%s%s/%s.json.enc",
		projectID, envSlug, database.CanonicalPath(folderPath),
		takenAt.Format(time.RFC3339))

	if err := s.storage.Upload(ctx, objectPath, blob, "application/octet-stream"); err != nil {
		if s.metrics != nil {
			s.metrics.SnapshotsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.SnapshotsTotal.WithLabelValues("ok").Inc()
	}

	s.logger.Info().
		Str("project_id", projectID.String()).
		Str("path", objectPath).
		Int("secrets", len(secrets)).
		Msg("took snapshot")

	return &Snapshot{
		Path:        objectPath,
		Environment: envSlug,
		SecretPath:  database.CanonicalPath(folderPath),
		SecretCount: len(secrets),
		TakenAt:     takenAt,
	}, nil
}

// List returns the project's snapshot objects.
func (s *Service) List(ctx context.Context, actor permission.Actor, projectID uuid.UUID) ([]ObjectInfo, error) {
	if s.storage == nil {
		return nil, ErrNotConfigured
	}
	if err := s.perm.Check(ctx, actor, permission.ActionRead, permission.SubjectSnapshots, projectID); err != nil {
		return nil, err
	}
	return s.storage.List(ctx, fmt.Sprintf("projects/%s/snapshots/", projectID))
}
