// Package server provides the HTTP API for Keyfold: secret CRUD, the import
// graph endpoints, folder and project management, and snapshots.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keyfold/keyfold/internal/apperr"
	"github.com/keyfold/keyfold/internal/database"
	"github.com/keyfold/keyfold/internal/imports"
	"github.com/keyfold/keyfold/internal/kms"
	"github.com/keyfold/keyfold/internal/permission"
	"github.com/keyfold/keyfold/internal/secrets"
	"github.com/keyfold/keyfold/internal/snapshot"
	"github.com/keyfold/keyfold/pkg/metrics"
	"github.com/keyfold/keyfold/pkg/tracing"
)

var (
	errMissingAuth       = errors.New("authorization header not provided")
	errInvalidAuthFormat = errors.New("invalid authorization header format")
)

// Config holds configuration for the HTTP server.
type Config struct {
	// Port is the port to listen on.
	Port int
	// EnableCORS enables CORS support.
	EnableCORS bool
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration
	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration
	// EnableTracing enables OpenTelemetry tracing for HTTP requests.
	EnableTracing bool
}

// DefaultConfig returns sensible defaults for HTTP server configuration.
func DefaultConfig() Config {
	return Config{
		Port:           8080,
		EnableCORS:     true,
		AllowedOrigins: []string{"*"},
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
	}
}

// ImportService is the import graph surface the handlers need.
type ImportService interface {
	CreateImport(ctx context.Context, actor permission.Actor, in imports.CreateImportInput) (*imports.ImportWithEnv, error)
	UpdateImport(ctx context.Context, actor permission.Actor, projectID, importID uuid.UUID, in imports.UpdateImportInput) (*imports.ImportWithEnv, error)
	DeleteImport(ctx context.Context, actor permission.Actor, projectID, importID uuid.UUID) (*imports.ImportWithEnv, error)
	GetImports(ctx context.Context, actor permission.Actor, projectID uuid.UUID, envSlug, folderPath string) ([]imports.ImportWithEnv, error)
	GetSecretsFromImports(ctx context.Context, actor permission.Actor, projectID uuid.UUID, envSlug, folderPath string) ([]imports.GroupedSecrets, error)
	ResolveSecrets(ctx context.Context, actor permission.Actor, projectID uuid.UUID, envSlug, folderPath string) ([]imports.MaterializedSecret, error)
}

// SecretService is the secret CRUD surface the handlers need.
type SecretService interface {
	CreateSecret(ctx context.Context, actor permission.Actor, in secrets.CreateSecretInput) (*secrets.SecretValue, error)
	UpdateSecret(ctx context.Context, actor permission.Actor, projectID uuid.UUID, envSlug, folderPath, key, value string) (*secrets.SecretValue, error)
	GetSecret(ctx context.Context, actor permission.Actor, projectID uuid.UUID, envSlug, folderPath, key string) (*secrets.SecretValue, error)
	GetSecrets(ctx context.Context, actor permission.Actor, projectID uuid.UUID, envSlug, folderPath string) ([]secrets.SecretValue, error)
	DeleteSecret(ctx context.Context, actor permission.Actor, projectID uuid.UUID, envSlug, folderPath, key string) error
	ListVersions(ctx context.Context, actor permission.Actor, projectID uuid.UUID, envSlug, folderPath, key string) ([]secrets.SecretValue, error)
}

// SnapshotService is the snapshot surface the handlers need.
type SnapshotService interface {
	Enabled() bool
	Take(ctx context.Context, actor permission.Actor, projectID uuid.UUID, envSlug, folderPath string) (*snapshot.Snapshot, error)
	List(ctx context.Context, actor permission.Actor, projectID uuid.UUID) ([]snapshot.ObjectInfo, error)
}

// HealthChecker reports storage reachability for the readiness probe.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server is the Keyfold HTTP API server.
type Server struct {
	config    Config
	imports   ImportService
	secrets   SecretService
	snapshots SnapshotService
	repos     *database.Repositories
	perm      *permission.Service
	kms       *kms.Service
	health    HealthChecker
	auth      *Authenticator
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	server    *http.Server
}

// NewServer creates the HTTP API server. metrics may be nil in tests.
func NewServer(
	cfg Config,
	importSvc ImportService,
	secretSvc SecretService,
	snapshotSvc SnapshotService,
	repos *database.Repositories,
	perm *permission.Service,
	keys *kms.Service,
	health HealthChecker,
	auth *Authenticator,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Server {
	return &Server{
		config:    cfg,
		imports:   importSvc,
		secrets:   secretSvc,
		snapshots: snapshotSvc,
		repos:     repos,
		perm:      perm,
		kms:       keys,
		health:    health,
		auth:      auth,
		metrics:   m,
		logger:    logger.With().Str("component", "http_server").Logger(),
	}
}

// Handler builds the full HTTP handler with routes and middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	mux.HandleFunc("POST /api/v1/secret-imports", s.handleCreateImport)
	mux.HandleFunc("GET /api/v1/secret-imports", s.handleGetImports)
	mux.HandleFunc("GET /api/v1/secret-imports/secrets", s.handleGetSecretsFromImports)
	mux.HandleFunc("PATCH /api/v1/secret-imports/{id}", s.handleUpdateImport)
	mux.HandleFunc("DELETE /api/v1/secret-imports/{id}", s.handleDeleteImport)

	mux.HandleFunc("POST /api/v1/secrets", s.handleCreateSecret)
	mux.HandleFunc("GET /api/v1/secrets", s.handleGetSecrets)
	mux.HandleFunc("GET /api/v1/secrets/{key}/versions", s.handleListSecretVersions)
	mux.HandleFunc("PATCH /api/v1/secrets/{key}", s.handleUpdateSecret)
	mux.HandleFunc("DELETE /api/v1/secrets/{key}", s.handleDeleteSecret)

	mux.HandleFunc("POST /api/v1/folders", s.handleCreateFolder)
	mux.HandleFunc("GET /api/v1/folders", s.handleListFolders)

	mux.HandleFunc("POST /api/v1/projects", s.handleCreateProject)
	mux.HandleFunc("GET /api/v1/projects/{id}/environments", s.handleListEnvironments)

	mux.HandleFunc("POST /api/v1/snapshots", s.handleTakeSnapshot)
	mux.HandleFunc("GET /api/v1/snapshots", s.handleListSnapshots)

	var handler http.Handler = mux

	handler = s.authMiddleware(handler)
	if s.metrics != nil {
		handler = s.metricsMiddleware(handler)
	}
	handler = s.loggingMiddleware(handler)
	handler = s.requestIDMiddleware(handler)
	if s.config.EnableTracing {
		handler = tracing.Middleware(handler)
	}
	if s.config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}
	handler = s.recoveryMiddleware(handler)

	return handler
}

// Start starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.Info().
		Str("address", addr).
		Bool("cors_enabled", s.config.EnableCORS).
		Msg("starting HTTP server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info().Msg("context cancelled, stopping HTTP server")
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	}
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.logger.Info().Msg("stopping HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("HTTP server shutdown error")
		return err
	}

	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"detail": err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeJSON serializes v to the response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// writeError maps application errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, snapshot.ErrNotConfigured) {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error:  "snapshots unavailable",
			Detail: err.Error(),
		})
		return
	}

	status := http.StatusInternalServerError
	label := "internal error"
	detail := ""

	if kind, ok := apperr.KindOf(err); ok {
		detail = err.Error()
		switch kind {
		case apperr.KindValidation:
			status, label = http.StatusBadRequest, "validation failed"
		case apperr.KindNotFound:
			status, label = http.StatusNotFound, "not found"
		case apperr.KindConflict:
			status, label = http.StatusConflict, "conflict"
		case apperr.KindForbidden:
			status, label = http.StatusForbidden, "forbidden"
		case apperr.KindDatabase:
			status, label, detail = http.StatusInternalServerError, "internal error", ""
		}
	}

	if status >= 500 {
		s.logger.Error().
			Err(err).
			Str("request_id", GetRequestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}

	writeJSON(w, status, errorResponse{Error: label, Detail: detail})
}

// writeUnauthorized writes a 401 response.
func writeUnauthorized(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Detail: detail})
}

// decodeBody decodes the JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.NewValidation("body", "invalid request body: %v", err)
	}
	return nil
}

// actorOrFail extracts the authenticated actor; absence is a programming error
// since the auth middleware guards every API route.
func (s *Server) actor(w http.ResponseWriter, r *http.Request) (permission.Actor, bool) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "no authenticated actor")
		return permission.Actor{}, false
	}
	return actor, true
}

// parseProjectID parses a required project ID from a string.
func parseProjectID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, apperr.NewValidation("projectId", "projectId is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.NewValidation("projectId", "projectId must be a UUID")
	}
	return id, nil
}
