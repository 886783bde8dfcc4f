package server

import (
	"net/http"
)

type takeSnapshotRequest struct {
	ProjectID   string `json:"projectId"`
	Environment string `json:"environment"`
	Path        string `json:"path"`
}

func (s *Server) handleTakeSnapshot(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	var req takeSnapshotRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	projectID, err := parseProjectID(req.ProjectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	snap, err := s.snapshots.Take(r.Context(), actor, projectID, req.Environment, req.Path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message":  "successfully took snapshot",
		"snapshot": snap,
	})
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	projectID, err := parseProjectID(r.URL.Query().Get("projectId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	snapshots, err := s.snapshots.List(r.Context(), actor, projectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snapshots})
}
