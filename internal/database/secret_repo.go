package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// secretRepo implements SecretRepository.
type secretRepo struct {
	db *DB
}

// NewSecretRepo creates a new secret repository.
func NewSecretRepo(db *DB) SecretRepository {
	return &secretRepo{db: db}
}

// Create inserts a new secret at version 1.
func (r *secretRepo) Create(ctx context.Context, s *Secret) error {
	err := r.db.pool.QueryRow(ctx, SecretInsert,
		s.FolderID, s.Key, s.Ciphertext, s.IV, s.Tag, s.BlindIndex).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create secret: %w", WrapDBError(err))
	}
	s.Version = 1
	return nil
}

// GetByKey retrieves a secret by folder and key.
func (r *secretRepo) GetByKey(ctx context.Context, folderID uuid.UUID, key string) (*Secret, error) {
	s := &Secret{}
	err := scanSecret(r.db.pool.QueryRow(ctx, SecretGetByKey, folderID, key), s)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}
	return s, nil
}

// GetByBlindIndex retrieves a secret by folder and blind index.
func (r *secretRepo) GetByBlindIndex(ctx context.Context, folderID uuid.UUID, index []byte) (*Secret, error) {
	s := &Secret{}
	err := scanSecret(r.db.pool.QueryRow(ctx, SecretGetByBlindIndex, folderID, index), s)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get secret by blind index: %w", err)
	}
	return s, nil
}

// ListByFolder returns all secrets of a folder ordered by key.
func (r *secretRepo) ListByFolder(ctx context.Context, folderID uuid.UUID) ([]Secret, error) {
	rows, err := r.db.pool.Query(ctx, SecretListByFolder, folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	defer rows.Close()

	var secrets []Secret
	for rows.Next() {
		var s Secret
		if err := scanSecret(rows, &s); err != nil {
			return nil, fmt.Errorf("failed to scan secret: %w", err)
		}
		secrets = append(secrets, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating secrets: %w", err)
	}
	return secrets, nil
}

// UpdateValue replaces a secret's ciphertext. The previous ciphertext is
// pushed into secret_versions in the same transaction so history never skips
// a version.
func (r *secretRepo) UpdateValue(ctx context.Context, id uuid.UUID, ciphertext, iv, tag []byte) (*Secret, error) {
	var updated *Secret
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		s := &Secret{}
		if err := scanSecret(tx.QueryRow(ctx, SecretGetByIDForUpdate, id), s); err != nil {
			if err == pgx.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load secret for update: %w", err)
		}

		v := SecretVersion{}
		err := tx.QueryRow(ctx, SecretVersionInsert,
			s.ID, s.Version, s.Ciphertext, s.IV, s.Tag).Scan(&v.ID, &v.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to record secret version: %w", WrapDBError(err))
		}

		err = tx.QueryRow(ctx, SecretUpdateValue, id, ciphertext, iv, tag).
			Scan(&s.Version, &s.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update secret value: %w", err)
		}
		s.Ciphertext, s.IV, s.Tag = ciphertext, iv, tag
		updated = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete deletes a secret by folder and key.
func (r *secretRepo) Delete(ctx context.Context, folderID uuid.UUID, key string) error {
	result, err := r.db.pool.Exec(ctx, SecretDelete, folderID, key)
	if err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListVersions returns a secret's version history, newest first.
func (r *secretRepo) ListVersions(ctx context.Context, secretID uuid.UUID) ([]SecretVersion, error) {
	rows, err := r.db.pool.Query(ctx, SecretVersionList, secretID)
	if err != nil {
		return nil, fmt.Errorf("failed to list secret versions: %w", err)
	}
	defer rows.Close()

	var versions []SecretVersion
	for rows.Next() {
		var v SecretVersion
		err := rows.Scan(&v.ID, &v.SecretID, &v.Version, &v.Ciphertext, &v.IV, &v.Tag, &v.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan secret version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating secret versions: %w", err)
	}
	return versions, nil
}

// scanSecret scans a full secret row into s.
func scanSecret(row pgx.Row, s *Secret) error {
	return row.Scan(&s.ID, &s.FolderID, &s.Key, &s.Ciphertext, &s.IV, &s.Tag,
		&s.BlindIndex, &s.Version, &s.CreatedAt, &s.UpdatedAt)
}
