package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// kmsKeyRepo implements KMSKeyRepository.
type kmsKeyRepo struct {
	db *DB
}

// NewKMSKeyRepo creates a new KMS key repository.
func NewKMSKeyRepo(db *DB) KMSKeyRepository {
	return &kmsKeyRepo{db: db}
}

// Create persists a project's wrapped data key.
func (r *kmsKeyRepo) Create(ctx context.Context, k *KMSKey) error {
	err := r.db.pool.QueryRow(ctx, KMSKeyInsert,
		k.ProjectID, k.WrappedKey, k.WrapIV, k.WrapTag, k.Version).
		Scan(&k.ID, &k.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create kms key: %w", WrapDBError(err))
	}
	return nil
}

// GetByProject retrieves the wrapped data key for a project.
func (r *kmsKeyRepo) GetByProject(ctx context.Context, projectID uuid.UUID) (*KMSKey, error) {
	k := &KMSKey{}
	err := r.db.pool.QueryRow(ctx, KMSKeyGetByProject, projectID).Scan(
		&k.ID, &k.ProjectID, &k.WrappedKey, &k.WrapIV, &k.WrapTag,
		&k.Version, &k.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get kms key: %w", err)
	}
	return k, nil
}
