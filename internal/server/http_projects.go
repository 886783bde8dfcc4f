package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/keyfold/keyfold/internal/apperr"
	"github.com/keyfold/keyfold/internal/database"
	"github.com/keyfold/keyfold/internal/permission"
)

type createProjectRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// defaultEnvironments are provisioned for every new project.
var defaultEnvironments = []struct {
	Name string
	Slug string
}{
	{"Development", "dev"},
	{"Staging", "staging"},
	{"Production", "prod"},
}

// handleCreateProject provisions a project: the record itself, the default
// environments, a wrapped data key, and an admin membership for the creator.
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	// API keys are scoped to an existing project and cannot create new ones.
	if actor.IsScoped() {
		s.writeError(w, r, apperr.NewForbidden("api keys cannot create projects"))
		return
	}

	var req createProjectRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Name == "" {
		s.writeError(w, r, apperr.NewValidation("name", "name is required"))
		return
	}
	if req.Slug == "" {
		s.writeError(w, r, apperr.NewValidation("slug", "slug is required"))
		return
	}

	project := &database.Project{Name: req.Name, Slug: req.Slug}
	if err := s.repos.Projects.Create(r.Context(), project); err != nil {
		if database.IsDuplicate(err) {
			s.writeError(w, r, apperr.NewConflict("project slug %s already exists", req.Slug))
			return
		}
		s.writeError(w, r, apperr.WrapDatabase(err, "failed to create project"))
		return
	}

	environments := make([]database.Environment, 0, len(defaultEnvironments))
	for i, e := range defaultEnvironments {
		env := database.Environment{
			ProjectID: project.ID,
			Name:      e.Name,
			Slug:      e.Slug,
			Position:  i + 1,
		}
		if err := s.repos.Projects.CreateEnvironment(r.Context(), &env); err != nil {
			s.writeError(w, r, apperr.WrapDatabase(err, "failed to create environment %s", e.Slug))
			return
		}
		environments = append(environments, env)
	}

	if err := s.kms.CreateProjectKey(r.Context(), project.ID); err != nil {
		s.writeError(w, r, err)
		return
	}

	membership := &database.Membership{
		ProjectID: project.ID,
		UserID:    actor.ID,
		Role:      database.RoleAdmin,
	}
	if err := s.repos.Projects.AddMembership(r.Context(), membership); err != nil {
		s.writeError(w, r, apperr.WrapDatabase(err, "failed to create membership"))
		return
	}

	s.logger.Info().
		Str("project_id", project.ID.String()).
		Str("slug", project.Slug).
		Str("user_id", actor.ID).
		Msg("created project")

	writeJSON(w, http.StatusCreated, map[string]any{
		"message":      "successfully created project",
		"project":      project,
		"environments": environments,
	})
}

func (s *Server) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	projectID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, apperr.NewValidation("id", "project id must be a UUID"))
		return
	}

	if err := s.perm.Check(r.Context(), actor, permission.ActionRead, permission.SubjectProjects, projectID); err != nil {
		s.writeError(w, r, err)
		return
	}

	environments, err := s.repos.Projects.ListEnvironments(r.Context(), projectID)
	if err != nil {
		s.writeError(w, r, apperr.WrapDatabase(err, "failed to list environments"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"environments": environments})
}
