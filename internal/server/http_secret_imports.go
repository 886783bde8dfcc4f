package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/keyfold/keyfold/internal/apperr"
	"github.com/keyfold/keyfold/internal/imports"
)

// importTarget is the nested import block of secret-import request bodies.
type importTarget struct {
	Environment *string `json:"environment"`
	Path        *string `json:"path"`
	Position    *int    `json:"position"`
}

type createImportRequest struct {
	ProjectID   string       `json:"projectId"`
	Environment string       `json:"environment"`
	Path        string       `json:"path"`
	Import      importTarget `json:"import"`
}

type updateImportRequest struct {
	ProjectID string       `json:"projectId"`
	Import    importTarget `json:"import"`
}

type deleteImportRequest struct {
	ProjectID string `json:"projectId"`
}

func (s *Server) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	var req createImportRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	projectID, err := parseProjectID(req.ProjectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Import.Environment == nil {
		s.writeError(w, r, apperr.NewValidation("import.environment", "import environment is required"))
		return
	}

	importPath := "/"
	if req.Import.Path != nil {
		importPath = *req.Import.Path
	}

	created, err := s.imports.CreateImport(r.Context(), actor, imports.CreateImportInput{
		ProjectID:   projectID,
		Environment: req.Environment,
		Path:        req.Path,
		ImportEnv:   *req.Import.Environment,
		ImportPath:  importPath,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "successfully created secret import",
		"secretImport": created,
	})
}

func (s *Server) handleGetImports(w http.ResponseWriter, r *http.Request) {
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

	edges, err := s.imports.GetImports(r.Context(), actor, projectID, q.Get("environment"), q.Get("path"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":       "successfully fetched secret imports",
		"secretImports": edges,
	})
}

func (s *Server) handleGetSecretsFromImports(w http.ResponseWriter, r *http.Request) {
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

	groups, err := s.imports.GetSecretsFromImports(r.Context(), actor, projectID, q.Get("environment"), q.Get("path"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"secrets": groups})
}

func (s *Server) handleUpdateImport(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	importID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, apperr.NewValidation("id", "import id must be a UUID"))
		return
	}

	var req updateImportRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	projectID, err := parseProjectID(req.ProjectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	updated, err := s.imports.UpdateImport(r.Context(), actor, projectID, importID, imports.UpdateImportInput{
		ImportEnv:  req.Import.Environment,
		ImportPath: req.Import.Path,
		Position:   req.Import.Position,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "successfully updated secret import",
		"secretImport": updated,
	})
}

func (s *Server) handleDeleteImport(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	importID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, apperr.NewValidation("id", "import id must be a UUID"))
		return
	}

	var req deleteImportRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	projectID, err := parseProjectID(req.ProjectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	deleted, err := s.imports.DeleteImport(r.Context(), actor, projectID, importID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "successfully deleted secret import",
		"secretImport": deleted,
	})
}
