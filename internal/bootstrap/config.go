// Package bootstrap assembles the console from configuration: logger, identity adapter,
// device state backend, session store, tenant context, gate and authenticated API client.
package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/target/agentops-console/config"
)

// InitLogger initializes the structured logger. Development mode logs text, otherwise JSON.
// The shell passes stderr so command output on stdout stays machine-readable.
func InitLogger(w io.Writer, cfg config.AppConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Observability.SlogLevel()}
	var h slog.Handler
	if cfg.IsDev {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// LoadConfig loads configuration from environment variables, after a .env file if present.
func LoadConfig() (config.AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config.AppConfig{}, fmt.Errorf("load .env file: %w", err)
	}

	var cfg config.AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}
