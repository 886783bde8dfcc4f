package server

import (
	"net/http"

	"github.com/keyfold/keyfold/internal/secrets"
)

type createSecretRequest struct {
	ProjectID   string `json:"projectId"`
	Environment string `json:"environment"`
	Path        string `json:"path"`
	Key         string `json:"key"`
	Value       string `json:"value"`
}

type updateSecretRequest struct {
	ProjectID   string `json:"projectId"`
	Environment string `json:"environment"`
	Path        string `json:"path"`
	Value       string `json:"value"`
}

func (s *Server) handleCreateSecret(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	var req createSecretRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	projectID, err := parseProjectID(req.ProjectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	created, err := s.secrets.CreateSecret(r.Context(), actor, secrets.CreateSecretInput{
		ProjectID:   projectID,
		Environment: req.Environment,
		Path:        req.Path,
		Key:         req.Key,
		Value:       req.Value,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "successfully created secret",
		"secret":  created,
	})
}

func (s *Server) handleGetSecrets(w http.ResponseWriter, r *http.Request) {
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
	envSlug := q.Get("environment")
	folderPath := q.Get("path")

	// include_imports=true returns the fully merged view: imports resolved in
	// position order, local secrets overriding last.
	if q.Get("include_imports") == "true" {
		merged, err := s.imports.ResolveSecrets(r.Context(), actor, projectID, envSlug, folderPath)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"secrets": merged})
		return
	}

	list, err := s.secrets.GetSecrets(r.Context(), actor, projectID, envSlug, folderPath)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"secrets": list})
}

func (s *Server) handleUpdateSecret(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	var req updateSecretRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	projectID, err := parseProjectID(req.ProjectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	updated, err := s.secrets.UpdateSecret(r.Context(), actor, projectID,
		req.Environment, req.Path, r.PathValue("key"), req.Value)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "successfully updated secret",
		"secret":  updated,
	})
}

func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
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

	err = s.secrets.DeleteSecret(r.Context(), actor, projectID,
		q.Get("environment"), q.Get("path"), r.PathValue("key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "successfully deleted secret",
	})
}

func (s *Server) handleListSecretVersions(w http.ResponseWriter, r *http.Request) {
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

	versions, err := s.secrets.ListVersions(r.Context(), actor, projectID,
		q.Get("environment"), q.Get("path"), r.PathValue("key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}
