package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// secretImportRepo implements SecretImportRepository. All position mutations
// lock the sibling edge set up front so concurrent writers serialize per
// folder and the dense 1-based position sequence survives.
type secretImportRepo struct {
	db *DB
}

// NewSecretImportRepo creates a new secret import repository.
func NewSecretImportRepo(db *DB) SecretImportRepository {
	return &secretImportRepo{db: db}
}

// Create appends a new edge at max(position)+1 within the folder.
func (r *secretImportRepo) Create(ctx context.Context, folderID, importEnvID uuid.UUID, importPath string) (*SecretImport, error) {
	importPath = CanonicalPath(importPath)

	imp := &SecretImport{
		FolderID:    folderID,
		ImportEnvID: importEnvID,
		ImportPath:  importPath,
	}
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := lockSiblings(ctx, tx, folderID); err != nil {
			return err
		}

		var maxPos int
		if err := tx.QueryRow(ctx, ImportMaxPosition, folderID).Scan(&maxPos); err != nil {
			return fmt.Errorf("failed to find max import position: %w", err)
		}
		imp.Position = maxPos + 1

		err := tx.QueryRow(ctx, ImportInsert,
			folderID, importEnvID, importPath, imp.Position).
			Scan(&imp.ID, &imp.CreatedAt, &imp.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create import: %w", WrapDBError(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return imp, nil
}

// Get retrieves an edge by ID.
func (r *secretImportRepo) Get(ctx context.Context, id uuid.UUID) (*SecretImport, error) {
	imp := &SecretImport{}
	err := scanImport(r.db.pool.QueryRow(ctx, ImportGetByID, id), imp)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get import: %w", err)
	}
	return imp, nil
}

// ListByFolder returns a folder's edges in ascending position order.
func (r *secretImportRepo) ListByFolder(ctx context.Context, folderID uuid.UUID) ([]SecretImport, error) {
	return r.list(ctx, ImportListByFolder, folderID)
}

// ListByTarget returns every edge importing from (environment, path).
func (r *secretImportRepo) ListByTarget(ctx context.Context, importEnvID uuid.UUID, importPath string) ([]SecretImport, error) {
	return r.list(ctx, ImportListByTarget, importEnvID, CanonicalPath(importPath))
}

func (r *secretImportRepo) list(ctx context.Context, query string, args ...any) ([]SecretImport, error) {
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list imports: %w", err)
	}
	defer rows.Close()

	var imports []SecretImport
	for rows.Next() {
		var imp SecretImport
		if err := scanImport(rows, &imp); err != nil {
			return nil, fmt.Errorf("failed to scan import: %w", err)
		}
		imports = append(imports, imp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating imports: %w", err)
	}
	return imports, nil
}

// UpdatePosition moves an edge to newPos, shifting the siblings between the
// old and new slot by one so no position is skipped or duplicated. newPos must
// be within [1, count]; ErrPositionOutOfRange is returned otherwise.
func (r *secretImportRepo) UpdatePosition(ctx context.Context, id uuid.UUID, newPos int) (*SecretImport, error) {
	imp := &SecretImport{}
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := scanImport(tx.QueryRow(ctx, ImportGetByID, id), imp); err != nil {
			if err == pgx.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load import: %w", err)
		}
		if err := lockSiblings(ctx, tx, imp.FolderID); err != nil {
			return err
		}

		var count int
		if err := tx.QueryRow(ctx, ImportCountByFolder, imp.FolderID).Scan(&count); err != nil {
			return fmt.Errorf("failed to count imports: %w", err)
		}
		if newPos < 1 || newPos > count {
			return fmt.Errorf("%w: position %d not in [1, %d]", ErrPositionOutOfRange, newPos, count)
		}
		if newPos == imp.Position {
			return nil
		}

		if newPos > imp.Position {
			// Moving down the list: everything between the old slot and the
			// new one steps up by one.
			if _, err := tx.Exec(ctx, ImportShiftDown, imp.FolderID, imp.Position, newPos); err != nil {
				return fmt.Errorf("failed to shift imports down: %w", err)
			}
		} else {
			if _, err := tx.Exec(ctx, ImportShiftUp, imp.FolderID, newPos, imp.Position); err != nil {
				return fmt.Errorf("failed to shift imports up: %w", err)
			}
		}

		if err := tx.QueryRow(ctx, ImportSetPosition, id, newPos).Scan(&imp.UpdatedAt); err != nil {
			return fmt.Errorf("failed to set import position: %w", err)
		}
		imp.Position = newPos
		return nil
	})
	if err != nil {
		return nil, err
	}
	return imp, nil
}

// UpdateTarget changes what an edge imports without touching its position.
func (r *secretImportRepo) UpdateTarget(ctx context.Context, id uuid.UUID, importEnvID uuid.UUID, importPath string) (*SecretImport, error) {
	importPath = CanonicalPath(importPath)

	imp, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	err = r.db.pool.QueryRow(ctx, ImportUpdateTarget, id, importEnvID, importPath).
		Scan(&imp.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update import target: %w", WrapDBError(err))
	}
	imp.ImportEnvID = importEnvID
	imp.ImportPath = importPath
	return imp, nil
}

// FindEdge returns the ID of the edge with the exact target triple.
func (r *secretImportRepo) FindEdge(ctx context.Context, folderID, importEnvID uuid.UUID, importPath string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.pool.QueryRow(ctx, ImportFindEdge,
		folderID, importEnvID, CanonicalPath(importPath)).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("failed to find import edge: %w", err)
	}
	return id, nil
}

// Delete removes an edge and shifts every sibling above the freed slot down
// by one, closing the gap in the same transaction.
func (r *secretImportRepo) Delete(ctx context.Context, id uuid.UUID) (*SecretImport, error) {
	imp := &SecretImport{}
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := scanImport(tx.QueryRow(ctx, ImportGetByID, id), imp); err != nil {
			if err == pgx.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load import: %w", err)
		}
		if err := lockSiblings(ctx, tx, imp.FolderID); err != nil {
			return err
		}

		if err := scanImport(tx.QueryRow(ctx, ImportDelete, id), imp); err != nil {
			return fmt.Errorf("failed to delete import: %w", err)
		}
		if _, err := tx.Exec(ctx, ImportShiftAfterDelete, imp.FolderID, imp.Position); err != nil {
			return fmt.Errorf("failed to close position gap: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return imp, nil
}

// lockSiblings takes row locks on every edge of the folder, serializing
// concurrent position mutations per folder.
func lockSiblings(ctx context.Context, tx pgx.Tx, folderID uuid.UUID) error {
	rows, err := tx.Query(ctx, ImportLockSiblings, folderID)
	if err != nil {
		return fmt.Errorf("failed to lock sibling imports: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

// scanImport scans a full import row into imp.
func scanImport(row pgx.Row, imp *SecretImport) error {
	return row.Scan(&imp.ID, &imp.FolderID, &imp.ImportEnvID, &imp.ImportPath,
		&imp.Position, &imp.CreatedAt, &imp.UpdatedAt)
}
