// Package main is the entry point for the Keyfold server.
package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/keyfold/keyfold/internal/config"
	"github.com/keyfold/keyfold/internal/database"
	"github.com/keyfold/keyfold/internal/imports"
	"github.com/keyfold/keyfold/internal/kms"
	"github.com/keyfold/keyfold/internal/permission"
	"github.com/keyfold/keyfold/internal/secrets"
	"github.com/keyfold/keyfold/internal/server"
	"github.com/keyfold/keyfold/internal/snapshot"
	"github.com/keyfold/keyfold/pkg/log"
	"github.com/keyfold/keyfold/pkg/metrics"
	"github.com/keyfold/keyfold/pkg/tracing"
)

// Build information, set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize logger
	logger := *log.New(cfg.Log.Level, cfg.Log.Format).Underlying()
	zlog.Logger = logger

	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("build_time", buildTime).
		Str("go_version", runtime.Version()).
		Msg("starting Keyfold server")

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Initialize metrics
	appMetrics := metrics.NewMetrics()

	// Initialize tracing
	var tracer *tracing.Tracer
	if cfg.Observability.TracingEnabled && cfg.Observability.TracingEndpoint != "" {
		tracer, err = tracing.InitTracer(tracing.Config{
			ServiceName:    "keyfold-server",
			ServiceVersion: version,
			Endpoint:       cfg.Observability.TracingEndpoint,
			Insecure:       cfg.Observability.TracingInsecure,
			SampleRate:     cfg.Observability.TracingSampleRate,
			Environment:    cfg.Observability.Environment,
			Enabled:        true,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize tracing - continuing without tracing")
		} else {
			logger.Info().
				Str("endpoint", cfg.Observability.TracingEndpoint).
				Float64("sample_rate", cfg.Observability.TracingSampleRate).
				Msg("tracing initialized")
		}
	} else {
		logger.Info().Msg("tracing disabled")
	}

	// Initialize database
	logger.Info().Msg("connecting to database")
	db, err := database.New(ctx, database.Config{
		URL:               cfg.Database.URL,
		MaxConns:          int32(cfg.Database.MaxOpenConns),
		MinConns:          int32(cfg.Database.MaxIdleConns),
		MaxConnLifetime:   cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime:   cfg.Database.ConnMaxIdleTime,
		HealthCheckPeriod: time.Minute,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Run migrations
	migrator, err := database.NewMigrator(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load migrations")
	}
	applied, err := migrator.Up(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}
	if applied > 0 {
		logger.Info().Int("applied", applied).Msg("database migrations applied")
	}

	// Create repositories and core services
	repos := database.NewRepositories(db)
	perm := permission.NewService(repos.Projects)

	kmsService, err := kms.NewService(cfg.Encryption.MasterKey, repos.KMSKeys, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize key management")
	}

	resolver := imports.NewResolver(repos, logger, appMetrics)
	importService := imports.NewService(repos, resolver, perm, kmsService, logger, appMetrics)
	secretService := secrets.NewService(repos, perm, kmsService, logger, appMetrics)

	// Snapshot storage is optional; the service degrades to ErrNotConfigured
	// when no bucket is configured.
	var snapshotStorage snapshot.ObjectStorage
	if cfg.StorageEnabled() {
		storage, err := snapshot.NewStorage(snapshot.StorageConfig{
			Endpoint:        cfg.Storage.Endpoint,
			Bucket:          cfg.Storage.Bucket,
			Region:          cfg.Storage.Region,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			UseSSL:          cfg.Storage.UseSSL,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize snapshot storage")
		}
		snapshotStorage = storage
		logger.Info().Str("bucket", cfg.Storage.Bucket).Msg("snapshot storage initialized")
	} else {
		logger.Info().Msg("snapshot storage not configured, snapshots disabled")
	}
	snapshotService := snapshot.NewService(snapshotStorage, importService, kmsService, perm, logger, appMetrics)

	// Authentication
	jwtValidator := server.NewJWTValidator(cfg.Auth.JWTSecret)
	authenticator := server.NewAuthenticator(jwtValidator, repos.APIKeys, logger)

	// HTTP API server
	httpConfig := server.DefaultConfig()
	httpConfig.Port = cfg.Server.HTTPPort
	httpConfig.EnableTracing = tracer != nil
	httpServer := server.NewServer(
		httpConfig,
		importService,
		secretService,
		snapshotService,
		repos,
		perm,
		kmsService,
		db,
		authenticator,
		appMetrics,
		logger,
	)

	// Metrics server
	metricsConfig := server.DefaultMetricsServerConfig()
	metricsConfig.Port = cfg.Server.MetricsPort
	metricsServer := server.NewMetricsServer(metricsConfig, appMetrics, logger)

	errCh := make(chan error, 2)

	go func() {
		if err := httpServer.Start(ctx); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := metricsServer.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	logger.Info().
		Int("http_port", cfg.Server.HTTPPort).
		Int("metrics_port", cfg.Server.MetricsPort).
		Msg("Keyfold server started")

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	cancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to stop HTTP server cleanly")
	}
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to stop metrics server cleanly")
	}
	if tracer != nil {
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to shut down tracer cleanly")
		}
	}

	logger.Info().Msg("Keyfold server stopped")
}
