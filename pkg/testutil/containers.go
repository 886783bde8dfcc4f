// Package testutil provides test utilities and helpers for integration tests.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/keyfold/keyfold/internal/config"
)

// PostgresContainer wraps a testcontainers postgres instance.
type PostgresContainer struct {
	Container *postgres.PostgresContainer
	ConnStr   string
	Host      string
	Port      string
	Database  string
	Username  string
	Password  string
}

// PostgresContainerConfig holds configuration for creating a postgres container.
type PostgresContainerConfig struct {
	Database string
	Username string
	Password string
	ImageTag string
}

// DefaultPostgresConfig returns a default postgres container configuration.
func DefaultPostgresConfig() PostgresContainerConfig {
	return PostgresContainerConfig{
		Database: "keyfold_test",
		Username: "keyfold",
		Password: "keyfold_test_pass",
		ImageTag: "16-alpine",
	}
}

// NewPostgresContainer creates a new postgres testcontainer.
func NewPostgresContainer(ctx context.Context, cfg PostgresContainerConfig) (*PostgresContainer, error) {
	if cfg.Database == "" {
		cfg = DefaultPostgresConfig()
	}

	container, err := postgres.Run(ctx,
		fmt.Sprintf("postgres:%s", cfg.ImageTag),
		postgres.WithDatabase(cfg.Database),
		postgres.WithUsername(cfg.Username),
		postgres.WithPassword(cfg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get host: %w", err)
	}

	mappedPort, err := container.MappedPort(ctx, "5432")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	return &PostgresContainer{
		Container: container,
		ConnStr:   connStr,
		Host:      host,
		Port:      mappedPort.Port(),
		Database:  cfg.Database,
		Username:  cfg.Username,
		Password:  cfg.Password,
	}, nil
}

// Terminate stops and removes the container.
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	if c.Container != nil {
		return c.Container.Terminate(ctx)
	}
	return nil
}

// MinioContainer wraps a testcontainers minio instance.
type MinioContainer struct {
	Container       *minio.MinioContainer
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// MinioContainerConfig holds configuration for creating a minio container.
type MinioContainerConfig struct {
	Username string
	Password string
	ImageTag string
}

// DefaultMinioConfig returns a default minio container configuration.
func DefaultMinioConfig() MinioContainerConfig {
	return MinioContainerConfig{
		Username: "minioadmin",
		Password: "minioadmin",
		ImageTag: "latest",
	}
}

// NewMinioContainer creates a new minio testcontainer.
func NewMinioContainer(ctx context.Context, cfg MinioContainerConfig) (*MinioContainer, error) {
	if cfg.Username == "" {
		cfg = DefaultMinioConfig()
	}

	container, err := minio.Run(ctx,
		fmt.Sprintf("minio/minio:%s", cfg.ImageTag),
		minio.WithUsername(cfg.Username),
		minio.WithPassword(cfg.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start minio container: %w", err)
	}

	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get minio endpoint: %w", err)
	}

	return &MinioContainer{
		Container:       container,
		Endpoint:        endpoint,
		AccessKeyID:     cfg.Username,
		SecretAccessKey: cfg.Password,
	}, nil
}

// Terminate stops and removes the container.
func (c *MinioContainer) Terminate(ctx context.Context) error {
	if c.Container != nil {
		return c.Container.Terminate(ctx)
	}
	return nil
}

// TestEnv bundles the containers an integration test needs.
type TestEnv struct {
	Postgres *PostgresContainer
	Minio    *MinioContainer
}

// NewTestEnv starts a postgres container. Minio starts only when withStorage
// is true.
func NewTestEnv(ctx context.Context, withStorage bool) (*TestEnv, error) {
	env := &TestEnv{}

	pg, err := NewPostgresContainer(ctx, DefaultPostgresConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres container: %w", err)
	}
	env.Postgres = pg

	if withStorage {
		mc, err := NewMinioContainer(ctx, DefaultMinioConfig())
		if err != nil {
			env.Terminate(ctx)
			return nil, fmt.Errorf("failed to create minio container: %w", err)
		}
		env.Minio = mc
	}

	return env, nil
}

// Terminate stops all containers.
func (te *TestEnv) Terminate(ctx context.Context) {
	if te.Postgres != nil {
		te.Postgres.Terminate(ctx)
	}
	if te.Minio != nil {
		te.Minio.Terminate(ctx)
	}
}

// ToConfig converts the test environment to a server configuration.
func (te *TestEnv) ToConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9091,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: config.DatabaseConfig{
			URL:             te.Postgres.ConnStr,
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: time.Minute,
		},
		Encryption: config.EncryptionConfig{
			MasterKey: "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
		},
		Auth: config.AuthConfig{
			JWTSecret:     "test-secret-key-that-is-at-least-32-characters-long",
			JWTExpiration: 24 * time.Hour,
		},
		Log: config.LogConfig{
			Level:  "debug",
			Format: "console",
		},
		Observability: config.ObservabilityConfig{
			TracingEnabled: false,
			Environment:    "test",
		},
	}

	if te.Minio != nil {
		cfg.Storage = config.StorageConfig{
			Endpoint:        te.Minio.Endpoint,
			Bucket:          "keyfold-test",
			Region:          "us-east-1",
			AccessKeyID:     te.Minio.AccessKeyID,
			SecretAccessKey: te.Minio.SecretAccessKey,
			UseSSL:          false,
		}
	}

	return cfg
}

// IsDockerAvailable checks if Docker is available for running containers.
func IsDockerAvailable() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			// If testcontainers panics while inspecting Docker host, treat as unavailable.
			available = false
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		return false
	}

	err = provider.Health(ctx)
	return err == nil
}
