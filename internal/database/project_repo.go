package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// projectRepo implements ProjectRepository.
type projectRepo struct {
	db *DB
}

// NewProjectRepo creates a new project repository.
func NewProjectRepo(db *DB) ProjectRepository {
	return &projectRepo{db: db}
}

// Create creates a new project.
func (r *projectRepo) Create(ctx context.Context, p *Project) error {
	err := r.db.pool.QueryRow(ctx, ProjectInsert, p.Name, p.Slug).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", WrapDBError(err))
	}
	return nil
}

// Get retrieves a project by ID.
func (r *projectRepo) Get(ctx context.Context, id uuid.UUID) (*Project, error) {
	p := &Project{}
	err := r.db.pool.QueryRow(ctx, ProjectGetByID, id).
		Scan(&p.ID, &p.Name, &p.Slug, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// GetBySlug retrieves a project by slug.
func (r *projectRepo) GetBySlug(ctx context.Context, slug string) (*Project, error) {
	p := &Project{}
	err := r.db.pool.QueryRow(ctx, ProjectGetBySlug, slug).
		Scan(&p.ID, &p.Name, &p.Slug, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project by slug: %w", err)
	}
	return p, nil
}

// List returns projects with pagination.
func (r *projectRepo) List(ctx context.Context, limit, offset int) ([]Project, error) {
	rows, err := r.db.pool.Query(ctx, ProjectList, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Slug, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}
	return projects, nil
}

// Delete deletes a project by ID.
func (r *projectRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.pool.Exec(ctx, ProjectDelete, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateEnvironment creates an environment within a project.
func (r *projectRepo) CreateEnvironment(ctx context.Context, env *Environment) error {
	err := r.db.pool.QueryRow(ctx, EnvironmentInsert,
		env.ProjectID, env.Name, env.Slug, env.Position).
		Scan(&env.ID, &env.CreatedAt, &env.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create environment: %w", WrapDBError(err))
	}
	return nil
}

// GetEnvironment retrieves an environment by ID.
func (r *projectRepo) GetEnvironment(ctx context.Context, id uuid.UUID) (*Environment, error) {
	env := &Environment{}
	err := r.db.pool.QueryRow(ctx, EnvironmentGetByID, id).Scan(
		&env.ID, &env.ProjectID, &env.Name, &env.Slug, &env.Position,
		&env.CreatedAt, &env.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get environment: %w", err)
	}
	return env, nil
}

// GetEnvironmentBySlug retrieves an environment by project and slug.
func (r *projectRepo) GetEnvironmentBySlug(ctx context.Context, projectID uuid.UUID, slug string) (*Environment, error) {
	env := &Environment{}
	err := r.db.pool.QueryRow(ctx, EnvironmentGetBySlug, projectID, slug).Scan(
		&env.ID, &env.ProjectID, &env.Name, &env.Slug, &env.Position,
		&env.CreatedAt, &env.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get environment by slug: %w", err)
	}
	return env, nil
}

// ListEnvironments returns a project's environments ordered by position.
func (r *projectRepo) ListEnvironments(ctx context.Context, projectID uuid.UUID) ([]Environment, error) {
	rows, err := r.db.pool.Query(ctx, EnvironmentListByProject, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}
	defer rows.Close()

	var envs []Environment
	for rows.Next() {
		var env Environment
		err := rows.Scan(&env.ID, &env.ProjectID, &env.Name, &env.Slug,
			&env.Position, &env.CreatedAt, &env.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan environment: %w", err)
		}
		envs = append(envs, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating environments: %w", err)
	}
	return envs, nil
}

// AddMembership grants a user a role on a project.
func (r *projectRepo) AddMembership(ctx context.Context, m *Membership) error {
	err := r.db.pool.QueryRow(ctx, MembershipInsert, m.ProjectID, m.UserID, m.Role).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add membership: %w", WrapDBError(err))
	}
	return nil
}

// GetRole returns the role of a user within a project.
func (r *projectRepo) GetRole(ctx context.Context, projectID uuid.UUID, userID string) (MembershipRole, error) {
	var role MembershipRole
	err := r.db.pool.QueryRow(ctx, MembershipGetRole, projectID, userID).Scan(&role)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get membership role: %w", err)
	}
	return role, nil
}
