// Package permission implements role-based access checks for project-scoped
// operations.
package permission

import (
	"context"

	"github.com/google/uuid"

	"github.com/keyfold/keyfold/internal/apperr"
	"github.com/keyfold/keyfold/internal/database"
)

// Action is an operation class being authorized.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Subject names the resource class an action applies to.
type Subject string

const (
	SubjectSecrets       Subject = "secrets"
	SubjectSecretImports Subject = "secret-imports"
	SubjectFolders       Subject = "folders"
	SubjectProjects      Subject = "projects"
	SubjectSnapshots     Subject = "snapshots"
)

// Actor is an authenticated principal. API-key actors carry a fixed project
// scope and role; user actors are resolved against project memberships.
type Actor struct {
	ID string

	// ScopedProject and ScopedRole are set for API-key actors only.
	ScopedProject uuid.UUID
	ScopedRole    database.MembershipRole
}

// IsScoped reports whether the actor carries an explicit project scope.
func (a Actor) IsScoped() bool {
	return a.ScopedProject != uuid.Nil
}

// Service answers permission checks against project memberships.
type Service struct {
	projects database.ProjectRepository
}

// NewService creates a permission service.
func NewService(projects database.ProjectRepository) *Service {
	return &Service{projects: projects}
}

// Check authorizes actor to perform action on subject within projectID.
// viewer grants read, member additionally grants create and edit, admin
// grants everything.
func (s *Service) Check(ctx context.Context, actor Actor, action Action, subject Subject, projectID uuid.UUID) error {
	role, err := s.roleFor(ctx, actor, projectID)
	if err != nil {
		return err
	}
	if !roleAllows(role, action) {
		return apperr.NewForbidden("role %s cannot %s %s", role, action, subject)
	}
	return nil
}

func (s *Service) roleFor(ctx context.Context, actor Actor, projectID uuid.UUID) (database.MembershipRole, error) {
	if actor.IsScoped() {
		if actor.ScopedProject != projectID {
			return "", apperr.NewForbidden("credential is not scoped to this project")
		}
		return actor.ScopedRole, nil
	}

	role, err := s.projects.GetRole(ctx, projectID, actor.ID)
	if err != nil {
		if database.IsNotFound(err) {
			return "", apperr.NewForbidden("not a member of this project")
		}
		return "", apperr.WrapDatabase(err, "failed to resolve project role")
	}
	return role, nil
}

func roleAllows(role database.MembershipRole, action Action) bool {
	switch role {
	case database.RoleAdmin:
		return true
	case database.RoleMember:
		return action != ActionDelete
	case database.RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}
