// Package config loads and validates the ingestion server's config from the
// environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds server configuration loaded from the environment.
type Config struct {
	// StorageConnection selects the storage backend (memory:, sqlite:<path>,
	// file:<path> or a postgres:// URL). Required.
	StorageConnection string `mapstructure:"BEACON_STORAGE_CONNECTION"`
	// HTTPAddr is the address the HTTP server listens on (e.g. :7071).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// RoutePath is the ingestion route. /api/expressAnalytics is always
	// served as well.
	RoutePath string `mapstructure:"ROUTE_PATH"`
	// SessionInactivity is the gap that starts a new session (e.g. "30m").
	SessionInactivity string `mapstructure:"SESSION_INACTIVITY"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// MaxBodyBytes caps the _error stack trace body.
	MaxBodyBytes int64 `mapstructure:"MAX_BODY_BYTES"`
	// MigrateOnStart applies pending Postgres migrations at startup.
	MigrateOnStart bool `mapstructure:"MIGRATE_ON_START"`
	// OTelEndpoint is the OTLP/HTTP trace endpoint; tracing is off when empty.
	OTelEndpoint string `mapstructure:"OTEL_ENDPOINT"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored. Env vars override .env.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("BEACON_STORAGE_CONNECTION", "")
	v.SetDefault("HTTP_ADDR", ":7071")
	v.SetDefault("ROUTE_PATH", "/api/beacon")
	v.SetDefault("SESSION_INACTIVITY", "30m")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MAX_BODY_BYTES", 64<<10)
	v.SetDefault("MIGRATE_ON_START", true)
	v.SetDefault("OTEL_ENDPOINT", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.StorageConnection == "" {
		return nil, errors.New("config: BEACON_STORAGE_CONNECTION must be set")
	}
	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if !strings.HasPrefix(cfg.RoutePath, "/") {
		return nil, fmt.Errorf("config: ROUTE_PATH must start with /, got %q", cfg.RoutePath)
	}
	if d, err := time.ParseDuration(cfg.SessionInactivity); err != nil || d <= 0 {
		return nil, fmt.Errorf("config: SESSION_INACTIVITY must be a positive duration, got %q", cfg.SessionInactivity)
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	if cfg.MaxBodyBytes <= 0 {
		return nil, errors.New("config: MAX_BODY_BYTES must be positive")
	}

	return &cfg, nil
}

// Inactivity parses SessionInactivity. Returns 30m if unset or invalid.
func (c *Config) Inactivity() time.Duration {
	d, err := time.ParseDuration(c.SessionInactivity)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// SlogLevel parses LogLevel. Returns info if unset or invalid.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}
