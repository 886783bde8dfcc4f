package database

import (
	"context"

	"github.com/google/uuid"
)

// ProjectRepository defines data operations for projects, environments, and
// memberships.
type ProjectRepository interface {
	// Create creates a new project.
	Create(ctx context.Context, p *Project) error

	// Get retrieves a project by ID.
	Get(ctx context.Context, id uuid.UUID) (*Project, error)

	// GetBySlug retrieves a project by slug.
	GetBySlug(ctx context.Context, slug string) (*Project, error)

	// List returns projects with pagination.
	List(ctx context.Context, limit, offset int) ([]Project, error)

	// Delete deletes a project.
	Delete(ctx context.Context, id uuid.UUID) error

	// CreateEnvironment creates an environment within a project.
	CreateEnvironment(ctx context.Context, env *Environment) error

	// GetEnvironment retrieves an environment by ID.
	GetEnvironment(ctx context.Context, id uuid.UUID) (*Environment, error)

	// GetEnvironmentBySlug retrieves an environment by project and slug.
	GetEnvironmentBySlug(ctx context.Context, projectID uuid.UUID, slug string) (*Environment, error)

	// ListEnvironments returns a project's environments ordered by position.
	ListEnvironments(ctx context.Context, projectID uuid.UUID) ([]Environment, error)

	// AddMembership grants a user a role on a project.
	AddMembership(ctx context.Context, m *Membership) error

	// GetRole returns the role of a user within a project.
	GetRole(ctx context.Context, projectID uuid.UUID, userID string) (MembershipRole, error)
}

// FolderRepository defines data operations for secret folders.
type FolderRepository interface {
	// Ensure creates the folder at path (and any missing ancestors) in the
	// environment, returning the folder at path. Idempotent.
	Ensure(ctx context.Context, environmentID uuid.UUID, path string) (*SecretFolder, error)

	// Get retrieves a folder by ID.
	Get(ctx context.Context, id uuid.UUID) (*SecretFolder, error)

	// GetByPath resolves (projectID, environment slug, path) to a folder.
	// Returns ErrNotFound if the folder does not exist.
	GetByPath(ctx context.Context, projectID uuid.UUID, envSlug, path string) (*SecretFolder, error)

	// ListByEnvironment returns all folders of an environment ordered by path.
	ListByEnvironment(ctx context.Context, environmentID uuid.UUID) ([]SecretFolder, error)

	// Delete deletes a folder.
	Delete(ctx context.Context, id uuid.UUID) error
}

// SecretRepository defines data operations for secrets and their versions.
type SecretRepository interface {
	// Create inserts a new secret at version 1.
	Create(ctx context.Context, s *Secret) error

	// GetByKey retrieves a secret by folder and key.
	GetByKey(ctx context.Context, folderID uuid.UUID, key string) (*Secret, error)

	// GetByBlindIndex retrieves a secret by folder and blind index.
	GetByBlindIndex(ctx context.Context, folderID uuid.UUID, index []byte) (*Secret, error)

	// ListByFolder returns all secrets of a folder ordered by key.
	ListByFolder(ctx context.Context, folderID uuid.UUID) ([]Secret, error)

	// UpdateValue replaces a secret's ciphertext, pushing the previous value
	// into the version history. The push and the update are one transaction.
	UpdateValue(ctx context.Context, id uuid.UUID, ciphertext, iv, tag []byte) (*Secret, error)

	// Delete deletes a secret by folder and key.
	Delete(ctx context.Context, folderID uuid.UUID, key string) error

	// ListVersions returns a secret's version history, newest first.
	ListVersions(ctx context.Context, secretID uuid.UUID) ([]SecretVersion, error)
}

// SecretImportRepository is the import graph store: durable CRUD over import
// edges with strict position bookkeeping. Every mutation that renumbers
// sibling positions runs in a single transaction with row locks on the
// sibling set, so readers always observe a dense 1-based sequence.
type SecretImportRepository interface {
	// Create appends a new edge at max(position)+1 within the folder.
	// Returns ErrDuplicate if the (folder, env, path) edge already exists.
	Create(ctx context.Context, folderID, importEnvID uuid.UUID, importPath string) (*SecretImport, error)

	// Get retrieves an edge by ID.
	Get(ctx context.Context, id uuid.UUID) (*SecretImport, error)

	// ListByFolder returns a folder's edges in ascending position order.
	ListByFolder(ctx context.Context, folderID uuid.UUID) ([]SecretImport, error)

	// ListByTarget returns every edge importing from (environment, path).
	ListByTarget(ctx context.Context, importEnvID uuid.UUID, importPath string) ([]SecretImport, error)

	// UpdatePosition moves an edge to newPos (1-based), shifting the affected
	// sibling range to keep positions dense. newPos must be within [1, count].
	UpdatePosition(ctx context.Context, id uuid.UUID, newPos int) (*SecretImport, error)

	// UpdateTarget changes what an edge imports without touching its position.
	UpdateTarget(ctx context.Context, id uuid.UUID, importEnvID uuid.UUID, importPath string) (*SecretImport, error)

	// FindEdge returns the ID of the edge with the exact target triple, or
	// ErrNotFound.
	FindEdge(ctx context.Context, folderID, importEnvID uuid.UUID, importPath string) (uuid.UUID, error)

	// Delete removes an edge and closes the position gap it leaves behind.
	// Returns the deleted edge.
	Delete(ctx context.Context, id uuid.UUID) (*SecretImport, error)
}

// APIKeyRepository defines data operations for project-scoped API keys.
type APIKeyRepository interface {
	// Create persists an API key record.
	Create(ctx context.Context, k *APIKey) error

	// GetByHash retrieves an API key by the SHA-256 hash of its token.
	GetByHash(ctx context.Context, hash []byte) (*APIKey, error)

	// Delete removes an API key.
	Delete(ctx context.Context, id uuid.UUID) error
}

// KMSKeyRepository defines data operations for wrapped project data keys.
type KMSKeyRepository interface {
	// Create persists a project's wrapped data key.
	Create(ctx context.Context, k *KMSKey) error

	// GetByProject retrieves the wrapped data key for a project.
	GetByProject(ctx context.Context, projectID uuid.UUID) (*KMSKey, error)
}

// Repositories aggregates all repository implementations.
type Repositories struct {
	Projects ProjectRepository
	Folders  FolderRepository
	Secrets  SecretRepository
	Imports  SecretImportRepository
	KMSKeys  KMSKeyRepository
	APIKeys  APIKeyRepository
}

// NewRepositories creates all repository implementations backed by db.
func NewRepositories(db *DB) *Repositories {
	return &Repositories{
		Projects: NewProjectRepo(db),
		Folders:  NewFolderRepo(db),
		Secrets:  NewSecretRepo(db),
		Imports:  NewSecretImportRepo(db),
		KMSKeys:  NewKMSKeyRepo(db),
		APIKeys:  NewAPIKeyRepo(db),
	}
}
