package server

import (
	"net/http"

	"github.com/keyfold/keyfold/internal/apperr"
	"github.com/keyfold/keyfold/internal/database"
	"github.com/keyfold/keyfold/internal/permission"
)

type createFolderRequest struct {
	ProjectID   string `json:"projectId"`
	Environment string `json:"environment"`
	Path        string `json:"path"`
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	var req createFolderRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	projectID, err := parseProjectID(req.ProjectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Environment == "" {
		s.writeError(w, r, apperr.NewValidation("environment", "environment is required"))
		return
	}

	if err := s.perm.Check(r.Context(), actor, permission.ActionCreate, permission.SubjectFolders, projectID); err != nil {
		s.writeError(w, r, err)
		return
	}

	env, err := s.repos.Projects.GetEnvironmentBySlug(r.Context(), projectID, req.Environment)
	if err != nil {
		if database.IsNotFound(err) {
			s.writeError(w, r, apperr.NewNotFound("environment %s not found", req.Environment))
			return
		}
		s.writeError(w, r, apperr.WrapDatabase(err, "failed to resolve environment"))
		return
	}

	folder, err := s.repos.Folders.Ensure(r.Context(), env.ID, req.Path)
	if err != nil {
		s.writeError(w, r, apperr.WrapDatabase(err, "failed to create folder"))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "successfully created folder",
		"folder":  folder,
	})
}

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	projectID, err := parseProjectID(q.Get("projectId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.perm.Check(r.Context(), actor, permission.ActionRead, permission.SubjectFolders, projectID); err != nil {
		s.writeError(w, r, err)
		return
	}

	env, err := s.repos.Projects.GetEnvironmentBySlug(r.Context(), projectID, q.Get("environment"))
	if err != nil {
		if database.IsNotFound(err) {
			s.writeError(w, r, apperr.NewNotFound("environment %s not found", q.Get("environment")))
			return
		}
		s.writeError(w, r, apperr.WrapDatabase(err, "failed to resolve environment"))
		return
	}

	folders, err := s.repos.Folders.ListByEnvironment(r.Context(), env.ID)
	if err != nil {
		s.writeError(w, r, apperr.WrapDatabase(err, "failed to list folders"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"folders": folders})
}
