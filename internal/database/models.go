package database

import (
	"time"

	"github.com/google/uuid"
)

// Project is a top-level tenant owning environments, folders, and secrets.
type Project struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Slug      string    `json:"slug" db:"slug"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Environment is a named secret namespace within a project (dev, staging, prod).
type Environment struct {
	ID        uuid.UUID `json:"id" db:"id"`
	ProjectID uuid.UUID `json:"project_id" db:"project_id"`
	Name      string    `json:"name" db:"name"`
	Slug      string    `json:"slug" db:"slug"`
	Position  int       `json:"position" db:"position"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SecretFolder is a node in an environment's secret hierarchy, addressed by its
// canonical path ("/", "/backend", "/backend/payments", ...).
type SecretFolder struct {
	ID            uuid.UUID `json:"id" db:"id"`
	EnvironmentID uuid.UUID `json:"environment_id" db:"environment_id"`
	Path          string    `json:"path" db:"path"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Secret is an envelope-encrypted key/value pair owned by a folder. Only the
// ciphertext, IV, and GCM tag are persisted; the blind index is a deterministic
// hash of the key used for point lookups without decryption.
type Secret struct {
	ID         uuid.UUID `json:"id" db:"id"`
	FolderID   uuid.UUID `json:"folder_id" db:"folder_id"`
	Key        string    `json:"key" db:"key"`
	Ciphertext []byte    `json:"-" db:"ciphertext"`
	IV         []byte    `json:"-" db:"iv"`
	Tag        []byte    `json:"-" db:"tag"`
	BlindIndex []byte    `json:"-" db:"blind_index"`
	Version    int       `json:"version" db:"version"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// SecretVersion is a historical ciphertext of a secret, pushed on every update.
type SecretVersion struct {
	ID         uuid.UUID `json:"id" db:"id"`
	SecretID   uuid.UUID `json:"secret_id" db:"secret_id"`
	Version    int       `json:"version" db:"version"`
	Ciphertext []byte    `json:"-" db:"ciphertext"`
	IV         []byte    `json:"-" db:"iv"`
	Tag        []byte    `json:"-" db:"tag"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// SecretImport is a directed edge in the import graph: the owning folder pulls
// in the secrets visible at (import environment, import path). Position is a
// dense 1-based sequence within the owning folder and defines evaluation order:
// lower position means lower precedence.
type SecretImport struct {
	ID          uuid.UUID `json:"id" db:"id"`
	FolderID    uuid.UUID `json:"folder_id" db:"folder_id"`
	ImportEnvID uuid.UUID `json:"import_env_id" db:"import_env_id"`
	ImportPath  string    `json:"import_path" db:"import_path"`
	Position    int       `json:"position" db:"position"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// MembershipRole is the role of a user within a project.
type MembershipRole string

const (
	RoleAdmin  MembershipRole = "admin"
	RoleMember MembershipRole = "member"
	RoleViewer MembershipRole = "viewer"
)

// Membership grants a user a role on a project.
type Membership struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	ProjectID uuid.UUID      `json:"project_id" db:"project_id"`
	UserID    string         `json:"user_id" db:"user_id"`
	Role      MembershipRole `json:"role" db:"role"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// APIKey is a project-scoped bearer token. The token itself is never stored;
// lookups go through the SHA-256 hash of the presented token.
type APIKey struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	ProjectID uuid.UUID      `json:"project_id" db:"project_id"`
	Name      string         `json:"name" db:"name"`
	KeyHash   []byte         `json:"-" db:"key_hash"`
	Role      MembershipRole `json:"role" db:"role"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// KMSKey holds a project's data encryption key wrapped by the master KEK.
type KMSKey struct {
	ID         uuid.UUID `json:"id" db:"id"`
	ProjectID  uuid.UUID `json:"project_id" db:"project_id"`
	WrappedKey []byte    `json:"-" db:"wrapped_key"`
	WrapIV     []byte    `json:"-" db:"wrap_iv"`
	WrapTag    []byte    `json:"-" db:"wrap_tag"`
	Version    int       `json:"version" db:"version"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
