// Package config provides configuration management for the Keyfold server.
// Configuration is loaded from environment variables with the KEYFOLD_ prefix.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration settings for the server.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Encryption    EncryptionConfig
	Auth          AuthConfig
	Storage       StorageConfig
	Log           LogConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP and metrics server settings.
type ServerConfig struct {
	// HTTPPort is the port for the REST API (default: 8080)
	HTTPPort int
	// MetricsPort is the port for Prometheus metrics (default: 9091)
	MetricsPort int
	// ShutdownTimeout is the graceful shutdown timeout (default: 30s)
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	URL string
	// MaxOpenConns is the maximum number of open connections (default: 25)
	MaxOpenConns int
	// MaxIdleConns is the minimum number of pooled connections (default: 5)
	MaxIdleConns int
	// ConnMaxLifetime is the maximum connection lifetime (default: 1h)
	ConnMaxLifetime time.Duration
	// ConnMaxIdleTime is the maximum idle time for connections (default: 30m)
	ConnMaxIdleTime time.Duration
}

// EncryptionConfig holds envelope encryption settings.
type EncryptionConfig struct {
	// MasterKey is the hex-encoded 32-byte key encryption key (required)
	MasterKey string
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// JWTSecret is the secret key for JWT validation (required)
	JWTSecret string
	// JWTExpiration is the JWT token expiration time (default: 24h)
	JWTExpiration time.Duration
}

// StorageConfig holds S3/MinIO snapshot storage settings. Optional: snapshots
// are disabled when no bucket is configured.
type StorageConfig struct {
	// Endpoint is the S3/MinIO endpoint URL (empty for AWS S3)
	Endpoint string
	// Bucket is the bucket name for snapshots
	Bucket string
	// Region is the AWS region (default: us-east-1)
	Region string
	// AccessKeyID is the access key
	AccessKeyID string
	// SecretAccessKey is the secret key
	SecretAccessKey string
	// UseSSL enables SSL for MinIO connections (default: true)
	UseSSL bool
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error) (default: info)
	Level string
	// Format is the log format (json, console) (default: json)
	Format string
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	// TracingEnabled enables OpenTelemetry tracing (default: false)
	TracingEnabled bool
	// TracingEndpoint is the OTLP collector endpoint (e.g., "localhost:4318")
	TracingEndpoint string
	// TracingInsecure disables TLS for the tracing connection (default: true)
	TracingInsecure bool
	// TracingSampleRate is the sampling rate (0.0 to 1.0) (default: 1.0)
	TracingSampleRate float64
	// Environment is the deployment environment (e.g., "production", "staging")
	Environment string
}

// Load reads configuration from environment variables.
// Environment variables use the KEYFOLD_ prefix.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			HTTPPort:        getEnvInt("KEYFOLD_HTTP_PORT", 8080),
			MetricsPort:     getEnvInt("KEYFOLD_METRICS_PORT", 9091),
			ShutdownTimeout: getEnvDuration("KEYFOLD_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:             getEnv("KEYFOLD_DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("KEYFOLD_DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("KEYFOLD_DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("KEYFOLD_DATABASE_CONN_MAX_LIFETIME", time.Hour),
			ConnMaxIdleTime: getEnvDuration("KEYFOLD_DATABASE_CONN_MAX_IDLE_TIME", 30*time.Minute),
		},
		Encryption: EncryptionConfig{
			MasterKey: getEnv("KEYFOLD_ENCRYPTION_MASTER_KEY", ""),
		},
		Auth: AuthConfig{
			JWTSecret:     getEnv("KEYFOLD_AUTH_JWT_SECRET", ""),
			JWTExpiration: getEnvDuration("KEYFOLD_AUTH_JWT_EXPIRATION", 24*time.Hour),
		},
		Storage: StorageConfig{
			Endpoint:        getEnv("KEYFOLD_STORAGE_ENDPOINT", ""),
			Bucket:          getEnv("KEYFOLD_STORAGE_BUCKET", ""),
			Region:          getEnv("KEYFOLD_STORAGE_REGION", "us-east-1"),
			AccessKeyID:     getEnv("KEYFOLD_STORAGE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("KEYFOLD_STORAGE_SECRET_ACCESS_KEY", ""),
			UseSSL:          getEnvBool("KEYFOLD_STORAGE_USE_SSL", true),
		},
		Log: LogConfig{
			Level:  getEnv("KEYFOLD_LOG_LEVEL", "info"),
			Format: getEnv("KEYFOLD_LOG_FORMAT", "json"),
		},
		Observability: ObservabilityConfig{
			TracingEnabled:    getEnvBool("KEYFOLD_TRACING_ENABLED", false),
			TracingEndpoint:   getEnv("KEYFOLD_TRACING_ENDPOINT", ""),
			TracingInsecure:   getEnvBool("KEYFOLD_TRACING_INSECURE", true),
			TracingSampleRate: getEnvFloat("KEYFOLD_TRACING_SAMPLE_RATE", 1.0),
			Environment:       getEnv("KEYFOLD_ENVIRONMENT", "development"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set and valid.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		errs = append(errs, errors.New("KEYFOLD_HTTP_PORT must be between 1 and 65535"))
	}
	if c.Server.MetricsPort < 1 || c.Server.MetricsPort > 65535 {
		errs = append(errs, errors.New("KEYFOLD_METRICS_PORT must be between 1 and 65535"))
	}

	if c.Database.URL == "" {
		errs = append(errs, errors.New("KEYFOLD_DATABASE_URL is required"))
	}
	if c.Database.MaxOpenConns < 1 {
		errs = append(errs, errors.New("KEYFOLD_DATABASE_MAX_OPEN_CONNS must be at least 1"))
	}
	if c.Database.MaxIdleConns < 0 {
		errs = append(errs, errors.New("KEYFOLD_DATABASE_MAX_IDLE_CONNS cannot be negative"))
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		errs = append(errs, errors.New("KEYFOLD_DATABASE_MAX_IDLE_CONNS cannot exceed MAX_OPEN_CONNS"))
	}

	if c.Encryption.MasterKey == "" {
		errs = append(errs, errors.New("KEYFOLD_ENCRYPTION_MASTER_KEY is required"))
	} else if key, err := hex.DecodeString(c.Encryption.MasterKey); err != nil || len(key) != 32 {
		errs = append(errs, errors.New("KEYFOLD_ENCRYPTION_MASTER_KEY must be 64 hex characters (32 bytes)"))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("KEYFOLD_AUTH_JWT_SECRET is required"))
	} else if len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("KEYFOLD_AUTH_JWT_SECRET must be at least 32 characters"))
	}

	if c.StorageEnabled() {
		if c.Storage.AccessKeyID == "" {
			errs = append(errs, errors.New("KEYFOLD_STORAGE_ACCESS_KEY_ID is required when storage is configured"))
		}
		if c.Storage.SecretAccessKey == "" {
			errs = append(errs, errors.New("KEYFOLD_STORAGE_SECRET_ACCESS_KEY is required when storage is configured"))
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, errors.New("KEYFOLD_LOG_LEVEL must be one of: debug, info, warn, error"))
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, errors.New("KEYFOLD_LOG_FORMAT must be one of: json, console"))
	}

	if c.Observability.TracingEnabled && c.Observability.TracingEndpoint == "" {
		errs = append(errs, errors.New("KEYFOLD_TRACING_ENDPOINT is required when tracing is enabled"))
	}
	if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
		errs = append(errs, errors.New("KEYFOLD_TRACING_SAMPLE_RATE must be between 0.0 and 1.0"))
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}

	return nil
}

// ValidationError contains multiple validation errors.
type ValidationError struct {
	Errors []error
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Unwrap returns the underlying errors for errors.Is/As compatibility.
func (e *ValidationError) Unwrap() []error {
	return e.Errors
}

// StorageEnabled returns true if snapshot object storage is configured.
func (c *Config) StorageEnabled() bool {
	return c.Storage.Bucket != ""
}

// Helper functions for reading environment variables

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
