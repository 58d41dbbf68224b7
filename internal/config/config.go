// Package config loads the relay configuration from the environment.
// Everything is read once at process start; there is no hot reload.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Backend names accepted by STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
)

type Config struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	AllowedOrigins []string      `envconfig:"ALLOWED_ORIGINS"`
	StoreBackend   string        `envconfig:"STORE_BACKEND" default:"memory"`
	DatabaseURL    string        `envconfig:"DB_URL"`
	BadgerPath     string        `envconfig:"BADGER_PATH"`
	HistoryLimit   int           `envconfig:"HISTORY_LIMIT" default:"100"`
	StoreTimeout   time.Duration `envconfig:"STORE_TIMEOUT" default:"3s"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.HistoryLimit < 1 {
		return fmt.Errorf("config: HISTORY_LIMIT must be at least 1, got %d", c.HistoryLimit)
	}

	// A selected backend with missing credentials is a startup error.
	// We fail fast here instead of silently picking another backend.
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: STORE_BACKEND=postgres requires DB_URL")
		}
	case BackendBadger:
		if c.BadgerPath == "" {
			return fmt.Errorf("config: STORE_BACKEND=badger requires BADGER_PATH")
		}
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
