package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration is a single versioned schema migration.
type Migration struct {
	Version   string
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt *time.Time
}

// Migrator applies embedded SQL migrations in version order and tracks them
// in a schema_migrations table.
type Migrator struct {
	db         *DB
	migrations []Migration
	tableName  string
}

// NewMigrator creates a Migrator from the embedded migrations directory.
func NewMigrator(db *DB) (*Migrator, error) {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	return NewMigratorFromFS(db, sub)
}

// NewMigratorFromFS creates a Migrator from an arbitrary filesystem, used by
// tests that load migrations from disk.
func NewMigratorFromFS(db *DB, migrations fs.FS) (*Migrator, error) {
	loaded, err := loadMigrations(migrations)
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	return &Migrator{db: db, migrations: loaded, tableName: "schema_migrations"}, nil
}

// migrationFileRegex matches files like "0001_initial_schema.up.sql".
var migrationFileRegex = regexp.MustCompile(`^(\d+)_(.+)\.(up|down)\.sql$`)

func loadMigrations(migrations fs.FS) ([]Migration, error) {
	byVersion := make(map[string]*Migration)

	err := fs.WalkDir(migrations, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		m := migrationFileRegex.FindStringSubmatch(d.Name())
		if m == nil {
			return nil
		}
		version, name, direction := m[1], m[2], m[3]

		sqlBytes, err := fs.ReadFile(migrations, path)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", path, err)
		}

		mig, ok := byVersion[version]
		if !ok {
			mig = &Migration{Version: version, Name: name}
			byVersion[version] = mig
		}
		if direction == "up" {
			mig.UpSQL = string(sqlBytes)
		} else {
			mig.DownSQL = string(sqlBytes)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if strings.TrimSpace(mig.UpSQL) == "" {
			return nil, fmt.Errorf("migration %s has no up script", mig.Version)
		}
		out = append(out, *mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Up applies all pending migrations and returns the number applied.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range m.migrations {
		if applied[mig.Version] {
			continue
		}
		err := m.db.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("migration %s_%s failed: %w", mig.Version, mig.Name, err)
			}
			_, err := tx.Exec(ctx,
				fmt.Sprintf(`INSERT INTO %s (version, name) VALUES ($1, $2)`, m.tableName),
				mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}

	var version string
	err := m.db.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT version FROM %s ORDER BY version DESC LIMIT 1`, m.tableName)).
		Scan(&version)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil
		}
		return fmt.Errorf("failed to find last migration: %w", err)
	}

	for _, mig := range m.migrations {
		if mig.Version != version {
			continue
		}
		if strings.TrimSpace(mig.DownSQL) == "" {
			return fmt.Errorf("migration %s has no down script", version)
		}
		return m.db.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
				return fmt.Errorf("rollback of %s_%s failed: %w", mig.Version, mig.Name, err)
			}
			_, err := tx.Exec(ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE version = $1`, m.tableName), version)
			return err
		})
	}
	return fmt.Errorf("migration %s not found in embedded set", version)
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, m.tableName))
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.pool.Query(ctx,
		fmt.Sprintf(`SELECT version FROM %s`, m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
