package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BEACON_STORAGE_CONNECTION", "HTTP_ADDR", "ROUTE_PATH", "SESSION_INACTIVITY",
		"APP_ENV", "LOG_LEVEL", "MAX_BODY_BYTES", "MIGRATE_ON_START", "OTEL_ENDPOINT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("BEACON_STORAGE_CONNECTION", "memory:")

	cfg, err := load(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "memory:", cfg.StorageConnection)
	assert.Equal(t, ":7071", cfg.HTTPAddr)
	assert.Equal(t, "/api/beacon", cfg.RoutePath)
	assert.Equal(t, 30*time.Minute, cfg.Inactivity())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.Equal(t, int64(65536), cfg.MaxBodyBytes)
	assert.True(t, cfg.MigrateOnStart)
	assert.Empty(t, cfg.OTelEndpoint)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_MissingStorage(t *testing.T) {
	clearEnv(t)

	_, err := load(noEnvFile(t))
	require.ErrorContains(t, err, "BEACON_STORAGE_CONNECTION")
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BEACON_STORAGE_CONNECTION", "sqlite:/tmp/beacon.db")
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("SESSION_INACTIVITY", "45m")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("APP_ENV", "production")
	t.Setenv("MAX_BODY_BYTES", "1024")

	cfg, err := load(noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, 45*time.Minute, cfg.Inactivity())
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, int64(1024), cfg.MaxBodyBytes)
	assert.True(t, cfg.IsProduction())
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BEACON_STORAGE_CONNECTION=memory:\nROUTE_PATH=/api/expressAnalytics\n"), 0o600))

	cfg, err := load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory:", cfg.StorageConnection)
	assert.Equal(t, "/api/expressAnalytics", cfg.RoutePath)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"ROUTE_PATH":         "api/beacon",
		"SESSION_INACTIVITY": "soon",
		"LOG_LEVEL":          "loud",
		"MAX_BODY_BYTES":     "-1",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("BEACON_STORAGE_CONNECTION", "memory:")
			t.Setenv(key, value)

			_, err := load(noEnvFile(t))
			require.ErrorContains(t, err, key)
		})
	}
}
