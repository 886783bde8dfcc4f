package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setTestEnv sets environment variables for testing and returns a cleanup function.
func setTestEnv(t *testing.T, envVars map[string]string) {
	t.Helper()

	// Store original values
	original := make(map[string]string)
	for key := range envVars {
		original[key] = os.Getenv(key)
	}

	// Set new values
	for key, value := range envVars {
		os.Setenv(key, value)
	}

	// Register cleanup
	t.Cleanup(func() {
		for key, value := range original {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	})
}

// minimalValidEnv returns the minimum required environment variables for a valid config.
func minimalValidEnv() map[string]string {
	return map[string]string{
		"KEYFOLD_DATABASE_URL":          "postgres://localhost/keyfold",
		"KEYFOLD_ENCRYPTION_MASTER_KEY": strings.Repeat("ab", 32),
		"KEYFOLD_AUTH_JWT_SECRET":       "this-is-a-secret-key-at-least-32-chars",
	}
}

func TestLoad_WithValidConfig(t *testing.T) {
	env := minimalValidEnv()
	env["KEYFOLD_HTTP_PORT"] = "8081"
	env["KEYFOLD_METRICS_PORT"] = "9099"
	env["KEYFOLD_LOG_LEVEL"] = "debug"
	env["KEYFOLD_LOG_FORMAT"] = "console"
	setTestEnv(t, env)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.HTTPPort)
	assert.Equal(t, 9099, cfg.Server.MetricsPort)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_Defaults(t *testing.T) {
	setTestEnv(t, minimalValidEnv())

	cfg, err := Load()
	require.NoError(t, err)

	// Server defaults
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)

	// Database defaults
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns)
	assert.Equal(t, time.Hour, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, 30*time.Minute, cfg.Database.ConnMaxIdleTime)

	// Auth defaults
	assert.Equal(t, 24*time.Hour, cfg.Auth.JWTExpiration)

	// Log defaults
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// Storage is off until a bucket is configured
	assert.False(t, cfg.StorageEnabled())

	// Observability defaults
	assert.False(t, cfg.Observability.TracingEnabled)
	assert.Equal(t, 1.0, cfg.Observability.TracingSampleRate)
	assert.Equal(t, "development", cfg.Observability.Environment)
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	setTestEnv(t, map[string]string{
		"KEYFOLD_DATABASE_URL":          "",
		"KEYFOLD_ENCRYPTION_MASTER_KEY": "",
		"KEYFOLD_AUTH_JWT_SECRET":       "",
	})

	_, err := Load()
	require.Error(t, err)

	assert.Contains(t, err.Error(), "KEYFOLD_DATABASE_URL is required")
	assert.Contains(t, err.Error(), "KEYFOLD_ENCRYPTION_MASTER_KEY is required")
	assert.Contains(t, err.Error(), "KEYFOLD_AUTH_JWT_SECRET is required")
}

func TestLoad_MasterKeyMustBeHex(t *testing.T) {
	env := minimalValidEnv()
	env["KEYFOLD_ENCRYPTION_MASTER_KEY"] = "not-hex-at-all"
	setTestEnv(t, env)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "64 hex characters")
}

func TestLoad_MasterKeyWrongLength(t *testing.T) {
	env := minimalValidEnv()
	env["KEYFOLD_ENCRYPTION_MASTER_KEY"] = strings.Repeat("ab", 16)
	setTestEnv(t, env)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "64 hex characters")
}

func TestLoad_ShortJWTSecret(t *testing.T) {
	env := minimalValidEnv()
	env["KEYFOLD_AUTH_JWT_SECRET"] = "too-short"
	setTestEnv(t, env)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 characters")
}

func TestLoad_StorageCredentialsRequiredWhenBucketSet(t *testing.T) {
	env := minimalValidEnv()
	env["KEYFOLD_STORAGE_BUCKET"] = "snapshots"
	setTestEnv(t, env)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KEYFOLD_STORAGE_ACCESS_KEY_ID is required")
	assert.Contains(t, err.Error(), "KEYFOLD_STORAGE_SECRET_ACCESS_KEY is required")
}

func TestLoad_StorageFullyConfigured(t *testing.T) {
	env := minimalValidEnv()
	env["KEYFOLD_STORAGE_BUCKET"] = "snapshots"
	env["KEYFOLD_STORAGE_ENDPOINT"] = "http://localhost:9000"
	env["KEYFOLD_STORAGE_ACCESS_KEY_ID"] = "minioadmin"
	env["KEYFOLD_STORAGE_SECRET_ACCESS_KEY"] = "minioadmin123"
	env["KEYFOLD_STORAGE_USE_SSL"] = "false"
	setTestEnv(t, env)

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.StorageEnabled())
	assert.False(t, cfg.Storage.UseSSL)
	assert.Equal(t, "us-east-1", cfg.Storage.Region)
}

func TestLoad_InvalidLogSettings(t *testing.T) {
	env := minimalValidEnv()
	env["KEYFOLD_LOG_LEVEL"] = "verbose"
	env["KEYFOLD_LOG_FORMAT"] = "xml"
	setTestEnv(t, env)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KEYFOLD_LOG_LEVEL")
	assert.Contains(t, err.Error(), "KEYFOLD_LOG_FORMAT")
}

func TestLoad_InvalidPorts(t *testing.T) {
	env := minimalValidEnv()
	env["KEYFOLD_HTTP_PORT"] = "0"
	setTestEnv(t, env)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KEYFOLD_HTTP_PORT")
}

func TestLoad_IdleConnsCannotExceedOpenConns(t *testing.T) {
	env := minimalValidEnv()
	env["KEYFOLD_DATABASE_MAX_OPEN_CONNS"] = "5"
	env["KEYFOLD_DATABASE_MAX_IDLE_CONNS"] = "10"
	setTestEnv(t, env)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot exceed MAX_OPEN_CONNS")
}

func TestLoad_TracingRequiresEndpoint(t *testing.T) {
	env := minimalValidEnv()
	env["KEYFOLD_TRACING_ENABLED"] = "true"
	setTestEnv(t, env)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KEYFOLD_TRACING_ENDPOINT is required")
}

func TestValidationError_SingleError(t *testing.T) {
	setTestEnv(t, minimalValidEnv())
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Log.Level = "loud"
	err = cfg.Validate()
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Errors, 1)
	assert.Equal(t, ve.Errors[0].Error(), ve.Error())
}
