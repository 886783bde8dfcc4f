package imports

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keyfold/keyfold/internal/apperr"
	"github.com/keyfold/keyfold/internal/crypto"
	"github.com/keyfold/keyfold/internal/database"
	"github.com/keyfold/keyfold/internal/kms"
	"github.com/keyfold/keyfold/internal/permission"
	"github.com/keyfold/keyfold/pkg/metrics"
)

// EnvMeta is display metadata of an import's source environment.
type EnvMeta struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Slug string    `json:"slug"`
}

// ImportWithEnv is an import edge joined with its source environment metadata.
type ImportWithEnv struct {
	database.SecretImport
	ImportEnv EnvMeta `json:"import_env"`
}

// GroupedSecrets is the resolved content of one import edge, with provenance.
type GroupedSecrets struct {
	SecretPath  string               `json:"secret_path"`
	Environment string               `json:"environment"`
	FolderID    uuid.UUID            `json:"folder_id"`
	Secrets     []MaterializedSecret `json:"secrets"`
}

// CreateImportInput describes a new import edge.
type CreateImportInput struct {
	ProjectID   uuid.UUID
	Environment string
	Path        string
	ImportEnv   string
	ImportPath  string
}

// UpdateImportInput describes a partial update of an import edge. Nil fields
// are left untouched.
type UpdateImportInput struct {
	ImportEnv  *string
	ImportPath *string
	Position   *int
}

// Service is the authorization-checked façade over the import graph store and
// the resolver.
type Service struct {
	repos    *database.Repositories
	resolver *Resolver
	perm     *permission.Service
	kms      *kms.Service
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// NewService creates an import service. metrics may be nil in tests.
func NewService(repos *database.Repositories, resolver *Resolver, perm *permission.Service, keys *kms.Service, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repos:    repos,
		resolver: resolver,
		perm:     perm,
		kms:      keys,
		logger:   logger.With().Str("component", "imports").Logger(),
		metrics:  m,
	}
}

// CreateImport adds an edge importing (ImportEnv, ImportPath) into the folder
// at (Environment, Path), creating the destination folder if absent. A direct
// reciprocal edge is rejected as a conflict.
func (s *Service) CreateImport(ctx context.Context, actor permission.Actor, in CreateImportInput) (*ImportWithEnv, error) {
	if in.Environment == "" {
		return nil, apperr.NewValidation("environment", "environment is required")
	}
	if in.ImportEnv == "" {
		return nil, apperr.NewValidation("import.environment", "import environment is required")
	}

	if err := s.perm.Check(ctx, actor, permission.ActionCreate, permission.SubjectSecretImports, in.ProjectID); err != nil {
		return nil, err
	}
	if err := s.perm.Check(ctx, actor, permission.ActionRead, permission.SubjectSecrets, in.ProjectID); err != nil {
		return nil, err
	}

	destEnv, err := s.environmentBySlug(ctx, in.ProjectID, in.Environment)
	if err != nil {
		return nil, err
	}
	importEnv, err := s.environmentBySlug(ctx, in.ProjectID, in.ImportEnv)
	if err != nil {
		return nil, err
	}

	destPath := database.CanonicalPath(in.Path)
	importPath := database.CanonicalPath(in.ImportPath)
	if destEnv.ID == importEnv.ID && destPath == importPath {
		return nil, apperr.NewConflict("cyclic import not allowed")
	}

	folder, err := s.repos.Folders.Ensure(ctx, destEnv.ID, destPath)
	if err != nil {
		return nil, apperr.WrapDatabase(err, "failed to ensure destination folder")
	}

	// Reject the direct reciprocal edge up front. Deeper cycles are handled
	// by the resolver's skip set.
	if imported, err := s.repos.Folders.GetByPath(ctx, in.ProjectID, importEnv.Slug, importPath); err == nil {
		if _, err := s.repos.Imports.FindEdge(ctx, imported.ID, destEnv.ID, destPath); err == nil {
			return nil, apperr.NewConflict("cyclic import not allowed")
		}
	}

	edge, err := s.repos.Imports.Create(ctx, folder.ID, importEnv.ID, importPath)
	if err != nil {
		if database.IsDuplicate(err) {
			return nil, apperr.NewConflict("import %s:%s already exists", importEnv.Slug, importPath)
		}
		return nil, apperr.WrapDatabase(err, "failed to create import")
	}

	if s.metrics != nil {
		s.metrics.RecordImportMutation("create")
	}
	s.logger.Info().
		Str("folder_id", folder.ID.String()).
		Str("import_env", importEnv.Slug).
		Str("import_path", importPath).
		Int("position", edge.Position).
		Msg("created secret import")

	return s.withEnv(edge, importEnv), nil
}

// UpdateImport changes an edge's target and/or position. When both change,
// the target updates first, then the position repair runs.
func (s *Service) UpdateImport(ctx context.Context, actor permission.Actor, projectID, importID uuid.UUID, in UpdateImportInput) (*ImportWithEnv, error) {
	if err := s.perm.Check(ctx, actor, permission.ActionEdit, permission.SubjectSecretImports, projectID); err != nil {
		return nil, err
	}

	edge, err := s.loadEdge(ctx, projectID, importID)
	if err != nil {
		return nil, err
	}

	if in.ImportEnv != nil || in.ImportPath != nil {
		envID := edge.ImportEnvID
		if in.ImportEnv != nil {
			env, err := s.environmentBySlug(ctx, projectID, *in.ImportEnv)
			if err != nil {
				return nil, err
			}
			envID = env.ID
		}
		path := edge.ImportPath
		if in.ImportPath != nil {
			path = *in.ImportPath
		}
		edge, err = s.repos.Imports.UpdateTarget(ctx, importID, envID, path)
		if err != nil {
			if database.IsDuplicate(err) {
				return nil, apperr.NewConflict("import with that target already exists")
			}
			return nil, apperr.WrapDatabase(err, "failed to update import target")
		}
	}

	if in.Position != nil {
		edge, err = s.repos.Imports.UpdatePosition(ctx, importID, *in.Position)
		if err != nil {
			if errors.Is(err, database.ErrPositionOutOfRange) {
				return nil, apperr.NewValidation("position", "position %d is out of range", *in.Position)
			}
			return nil, apperr.WrapDatabase(err, "failed to update import position")
		}
	}

	if s.metrics != nil {
		s.metrics.RecordImportMutation("update")
	}

	env, err := s.repos.Projects.GetEnvironment(ctx, edge.ImportEnvID)
	if err != nil {
		return nil, apperr.WrapDatabase(err, "failed to load import environment")
	}
	return s.withEnv(edge, env), nil
}

// DeleteImport removes an edge and returns it. Sibling positions above the
// removed slot shift down by one.
func (s *Service) DeleteImport(ctx context.Context, actor permission.Actor, projectID, importID uuid.UUID) (*ImportWithEnv, error) {
	if err := s.perm.Check(ctx, actor, permission.ActionDelete, permission.SubjectSecretImports, projectID); err != nil {
		return nil, err
	}

	if _, err := s.loadEdge(ctx, projectID, importID); err != nil {
		return nil, err
	}

	edge, err := s.repos.Imports.Delete(ctx, importID)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, apperr.NewNotFound("import %s not found", importID)
		}
		return nil, apperr.WrapDatabase(err, "failed to delete import")
	}

	if s.metrics != nil {
		s.metrics.RecordImportMutation("delete")
	}
	s.logger.Info().
		Str("import_id", importID.String()).
		Int("position", edge.Position).
		Msg("deleted secret import")

	env, err := s.repos.Projects.GetEnvironment(ctx, edge.ImportEnvID)
	if err != nil {
		return nil, apperr.WrapDatabase(err, "failed to load import environment")
	}
	return s.withEnv(edge, env), nil
}

// GetImports lists the folder's edges in ascending position order. An absent
// folder yields an empty list.
func (s *Service) GetImports(ctx context.Context, actor permission.Actor, projectID uuid.UUID, envSlug, folderPath string) ([]ImportWithEnv, error) {
	if err := s.perm.Check(ctx, actor, permission.ActionRead, permission.SubjectSecretImports, projectID); err != nil {
		return nil, err
	}

	folder, err := s.repos.Folders.GetByPath(ctx, projectID, envSlug, folderPath)
	if err != nil {
		if database.IsNotFound(err) {
			return []ImportWithEnv{}, nil
		}
		return nil, apperr.WrapDatabase(err, "failed to resolve folder")
	}

	edges, err := s.repos.Imports.ListByFolder(ctx, folder.ID)
	if err != nil {
		return nil, apperr.WrapDatabase(err, "failed to list imports")
	}

	out := make([]ImportWithEnv, 0, len(edges))
	for i := range edges {
		env, err := s.repos.Projects.GetEnvironment(ctx, edges[i].ImportEnvID)
		if err != nil {
			return nil, apperr.WrapDatabase(err, "failed to load import environment")
		}
		out = append(out, *s.withEnv(&edges[i], env))
	}
	return out, nil
}

// GetSecretsFromImports resolves each top-level edge of the folder into its
// decrypted secret group, keeping per-edge provenance.
func (s *Service) GetSecretsFromImports(ctx context.Context, actor permission.Actor, projectID uuid.UUID, envSlug, folderPath string) ([]GroupedSecrets, error) {
	if err := s.perm.Check(ctx, actor, permission.ActionRead, permission.SubjectSecrets, projectID); err != nil {
		return nil, err
	}

	groups, err := s.resolver.ResolveGrouped(ctx, projectID, envSlug, folderPath)
	if err != nil {
		return nil, err
	}

	cipher, err := s.kms.CipherForProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	decrypt := func(sec *database.Secret) ([]byte, error) {
		if s.metrics != nil {
			s.metrics.RecordCryptoOp("decrypt")
		}
		return cipher.Decrypt(&crypto.EncryptedValue{
			Ciphertext: sec.Ciphertext,
			IV:         sec.IV,
			Tag:        sec.Tag,
		})
	}

	out := make([]GroupedSecrets, 0, len(groups))
	for _, g := range groups {
		secrets, err := g.View.Materialize(decrypt)
		if err != nil {
			return nil, err
		}
		out = append(out, GroupedSecrets{
			SecretPath:  g.SecretPath,
			Environment: g.Environment,
			FolderID:    g.FolderID,
			Secrets:     secrets,
		})
	}
	return out, nil
}

// ResolveSecrets returns the folder's fully merged, decrypted view, used by
// the secrets endpoint with include_imports=true and by snapshots.
func (s *Service) ResolveSecrets(ctx context.Context, actor permission.Actor, projectID uuid.UUID, envSlug, folderPath string) ([]MaterializedSecret, error) {
	if err := s.perm.Check(ctx, actor, permission.ActionRead, permission.SubjectSecrets, projectID); err != nil {
		return nil, err
	}

	view, err := s.resolver.Resolve(ctx, projectID, envSlug, folderPath)
	if err != nil {
		return nil, err
	}

	cipher, err := s.kms.CipherForProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return view.Materialize(func(sec *database.Secret) ([]byte, error) {
		if s.metrics != nil {
			s.metrics.RecordCryptoOp("decrypt")
		}
		return cipher.Decrypt(&crypto.EncryptedValue{
			Ciphertext: sec.Ciphertext,
			IV:         sec.IV,
			Tag:        sec.Tag,
		})
	})
}

// loadEdge fetches an edge and verifies it belongs to the given project.
func (s *Service) loadEdge(ctx context.Context, projectID, importID uuid.UUID) (*database.SecretImport, error) {
	edge, err := s.repos.Imports.Get(ctx, importID)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, apperr.NewNotFound("import %s not found", importID)
		}
		return nil, apperr.WrapDatabase(err, "failed to load import")
	}

	env, err := s.repos.Projects.GetEnvironment(ctx, edge.ImportEnvID)
	if err != nil {
		return nil, apperr.WrapDatabase(err, "failed to load import environment")
	}
	if env.ProjectID != projectID {
		return nil, apperr.NewNotFound("import %s not found", importID)
	}
	return edge, nil
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

func (s *Service) withEnv(edge *database.SecretImport, env *database.Environment) *ImportWithEnv {
	return &ImportWithEnv{
		SecretImport: *edge,
		ImportEnv:    EnvMeta{ID: env.ID, Name: env.Name, Slug: env.Slug},
	}
}
