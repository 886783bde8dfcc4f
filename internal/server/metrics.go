package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/keyfold/keyfold/pkg/metrics"
)

// MetricsServerConfig holds configuration for the metrics server.
type MetricsServerConfig struct {
	// Port is the port to listen on for metrics.
	Port int
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration
	// Path is the path for the metrics endpoint (default: /metrics).
	Path string
}

// DefaultMetricsServerConfig returns sensible defaults for metrics server configuration.
func DefaultMetricsServerConfig() MetricsServerConfig {
	return MetricsServerConfig{
		Port:         9091,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Path:         "/metrics",
	}
}

// MetricsServer serves Prometheus metrics over HTTP.
type MetricsServer struct {
	config  MetricsServerConfig
	metrics *metrics.Metrics
	server  *http.Server
	logger  zerolog.Logger
}

// NewMetricsServer creates a new metrics server.
func NewMetricsServer(cfg MetricsServerConfig, m *metrics.Metrics, logger zerolog.Logger) *MetricsServer {
	return &MetricsServer{
		config:  cfg,
		metrics: m,
		logger:  logger.With().Str("component", "metrics_server").Logger(),
	}
}

// Start starts the metrics HTTP server.
func (s *MetricsServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	// Mount metrics handler
	path := s.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, s.metrics.Handler())

	// Add health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	addr := fmt.Sprintf(":%d", s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info().
		Str("address", addr).
		Str("path", path).
		Msg("starting metrics server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info().Msg("context cancelled, stopping metrics server")
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server error: %w", err)
		}
		return nil
	}
}

// Stop gracefully shuts down the metrics server.
func (s *MetricsServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.logger.Info().Msg("stopping metrics server")

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("metrics server shutdown error")
		return err
	}

	s.logger.Info().Msg("metrics server stopped")
	return nil
}
