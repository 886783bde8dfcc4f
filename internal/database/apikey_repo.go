package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// apiKeyRepo implements APIKeyRepository.
type apiKeyRepo struct {
	db *DB
}

// NewAPIKeyRepo creates a new API key repository.
func NewAPIKeyRepo(db *DB) APIKeyRepository {
	return &apiKeyRepo{db: db}
}

// Create persists an API key record.
func (r *apiKeyRepo) Create(ctx context.Context, k *APIKey) error {
	err := r.db.pool.QueryRow(ctx, APIKeyInsert,
		k.ProjectID, k.Name, k.KeyHash, k.Role).
		Scan(&k.ID, &k.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", WrapDBError(err))
	}
	return nil
}

// GetByHash retrieves an API key by the SHA-256 hash of its token.
func (r *apiKeyRepo) GetByHash(ctx context.Context, hash []byte) (*APIKey, error) {
	k := &APIKey{}
	err := r.db.pool.QueryRow(ctx, APIKeyGetByHash, hash).Scan(
		&k.ID, &k.ProjectID, &k.Name, &k.KeyHash, &k.Role, &k.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return k, nil
}

// Delete removes an API key.
func (r *apiKeyRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.pool.Exec(ctx, APIKeyDelete, id)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
