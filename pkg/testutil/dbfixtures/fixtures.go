//go:build integration

// Package dbfixtures provides database fixtures for integration tests.
package dbfixtures

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/keyfold/keyfold/internal/database"
	"github.com/keyfold/keyfold/internal/kms"
)

// Fixtures provides factory methods for seeding test data.
type Fixtures struct {
	repos *database.Repositories
	kms   *kms.Service
}

// NewFixtures creates a new Fixtures instance. The KMS service may be nil when
// a test does not create secrets.
func NewFixtures(repos *database.Repositories, kmsSvc *kms.Service) *Fixtures {
	return &Fixtures{repos: repos, kms: kmsSvc}
}

// CreateProject creates a project with a wrapped data key and the given
// environment slugs. Environment names mirror their slugs.
func (f *Fixtures) CreateProject(ctx context.Context, name string, envSlugs ...string) (*database.Project, []database.Environment, error) {
	project := &database.Project{
		Name: name,
		Slug: fmt.Sprintf("%s-%s", name, uuid.New().String()[:8]),
	}
	if err := f.repos.Projects.Create(ctx, project); err != nil {
		return nil, nil, fmt.Errorf("failed to create test project: %w", err)
	}

	if f.kms != nil {
		if err := f.kms.CreateProjectKey(ctx, project.ID); err != nil {
			return nil, nil, fmt.Errorf("failed to create test project key: %w", err)
		}
	}

	envs := make([]database.Environment, 0, len(envSlugs))
	for i, slug := range envSlugs {
		env := &database.Environment{
			ProjectID: project.ID,
			Name:      slug,
			Slug:      slug,
			Position:  i + 1,
		}
		if err := f.repos.Projects.CreateEnvironment(ctx, env); err != nil {
			return nil, nil, fmt.Errorf("failed to create test environment %q: %w", slug, err)
		}
		envs = append(envs, *env)
	}

	return project, envs, nil
}

// CreateFolder ensures the folder at path exists in the environment, creating
// missing ancestors.
func (f *Fixtures) CreateFolder(ctx context.Context, environmentID uuid.UUID, path string) (*database.SecretFolder, error) {
	folder, err := f.repos.Folders.Ensure(ctx, environmentID, path)
	if err != nil {
		return nil, fmt.Errorf("failed to create test folder %q: %w", path, err)
	}
	return folder, nil
}

// CreateSecret encrypts value under the project's data key and inserts it into
// the folder.
func (f *Fixtures) CreateSecret(ctx context.Context, projectID, folderID uuid.UUID, key, value string) (*database.Secret, error) {
	cipher, err := f.kms.CipherForProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project cipher: %w", err)
	}
	indexer, err := f.kms.IndexerForProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project indexer: %w", err)
	}

	enc, err := cipher.Encrypt([]byte(value))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt test secret: %w", err)
	}

	secret := &database.Secret{
		FolderID:   folderID,
		Key:        key,
		Ciphertext: enc.Ciphertext,
		IV:         enc.IV,
		Tag:        enc.Tag,
		BlindIndex: indexer.Index(key),
	}
	if err := f.repos.Secrets.Create(ctx, secret); err != nil {
		return nil, fmt.Errorf("failed to create test secret %q: %w", key, err)
	}
	return secret, nil
}

// CreateImport appends an import edge to the folder.
func (f *Fixtures) CreateImport(ctx context.Context, folderID, importEnvID uuid.UUID, importPath string) (*database.SecretImport, error) {
	imp, err := f.repos.Imports.Create(ctx, folderID, importEnvID, importPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create test import: %w", err)
	}
	return imp, nil
}

// CleanupProject removes a project and everything hanging off it. Foreign keys
// cascade through environments, folders, secrets, and imports.
func (f *Fixtures) CleanupProject(ctx context.Context, projectID uuid.UUID) error {
	return f.repos.Projects.Delete(ctx, projectID)
}

// RandomName generates a random name with a prefix.
func RandomName(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String()[:8])
}
