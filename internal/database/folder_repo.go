package database

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CanonicalPath normalizes a folder path to its canonical form: cleaned, with
// a single leading slash and no trailing slash. The empty string maps to "/".
func CanonicalPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// folderRepo implements FolderRepository.
type folderRepo struct {
	db *DB
}

// NewFolderRepo creates a new folder repository.
func NewFolderRepo(db *DB) FolderRepository {
	return &folderRepo{db: db}
}

// Ensure creates the folder at the given path, along with any missing
// ancestors, inside a single transaction. Ensuring an existing folder is a
// no-op apart from touching updated_at.
func (r *folderRepo) Ensure(ctx context.Context, environmentID uuid.UUID, folderPath string) (*SecretFolder, error) {
	folderPath = CanonicalPath(folderPath)

	var result *SecretFolder
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, p := range ancestorPaths(folderPath) {
			f := &SecretFolder{EnvironmentID: environmentID, Path: p}
			err := tx.QueryRow(ctx, FolderInsert, environmentID, p).
				Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to ensure folder %s: %w", p, WrapDBError(err))
			}
			result = f
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ancestorPaths returns every path from the root down to p, in order.
// For "/a/b" it returns ["/", "/a", "/a/b"].
func ancestorPaths(p string) []string {
	paths := []string{"/"}
	if p == "/" {
		return paths
	}
	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	current := ""
	for _, seg := range segments {
		current = current + "/" + seg
		paths = append(paths, current)
	}
	return paths
}

// Get retrieves a folder by ID.
func (r *folderRepo) Get(ctx context.Context, id uuid.UUID) (*SecretFolder, error) {
	f := &SecretFolder{}
	err := r.db.pool.QueryRow(ctx, FolderGetByID, id).
		Scan(&f.ID, &f.EnvironmentID, &f.Path, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}
	return f, nil
}

// GetByPath resolves (projectID, environment slug, path) to a folder.
func (r *folderRepo) GetByPath(ctx context.Context, projectID uuid.UUID, envSlug, folderPath string) (*SecretFolder, error) {
	folderPath = CanonicalPath(folderPath)
	f := &SecretFolder{}
	err := r.db.pool.QueryRow(ctx, FolderGetByPath, projectID, envSlug, folderPath).
		Scan(&f.ID, &f.EnvironmentID, &f.Path, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get folder by path: %w", err)
	}
	return f, nil
}

// ListByEnvironment returns all folders of an environment ordered by path.
func (r *folderRepo) ListByEnvironment(ctx context.Context, environmentID uuid.UUID) ([]SecretFolder, error) {
	rows, err := r.db.pool.Query(ctx, FolderListByEnvironment, environmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	var folders []SecretFolder
	for rows.Next() {
		var f SecretFolder
		if err := rows.Scan(&f.ID, &f.EnvironmentID, &f.Path, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		folders = append(folders, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating folders: %w", err)
	}
	return folders, nil
}

// Delete deletes a folder by ID.
func (r *folderRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.pool.Exec(ctx, FolderDelete, id)
	if err != nil {
		return fmt.Errorf("failed to delete folder: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
