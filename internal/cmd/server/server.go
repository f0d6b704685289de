// Package server holds configuration parsing and startup for the keyfold server command.
package server

import (
	"context"
	"flag"
	"log/slog"
	"strings"
	"time"

	"github.com/keyfold/keyfold/internal/auth/app"
	"github.com/keyfold/keyfold/internal/platform/logging"
	"github.com/keyfold/keyfold/internal/platform/otel"
)

// Config holds server command configuration.
type Config struct {
	Addr   string
	DBPath string
}

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// ParseConfig parses flags into a Config, with environment fallbacks.
func ParseConfig(fs *flag.FlagSet, args []string, lookup EnvLookup) (Config, error) {
	cfg := Config{
		Addr:   envOrDefault(lookup, "KEYFOLD_ADDR", "localhost:8080"),
		DBPath: envOrDefault(lookup, "KEYFOLD_DB_PATH", ""),
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The HTTP server address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "Path to the SQLite database file")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the server.
func Run(ctx context.Context, cfg Config) error {
	logger := logging.New(slog.LevelInfo)

	shutdown, err := otel.Setup(ctx, "keyfold")
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Error("otel shutdown", "error", err)
		}
	}()

	return app.Run(ctx, cfg.Addr, cfg.DBPath, logger)
}

func envOrDefault(lookup EnvLookup, key, fallback string) string {
	if lookup == nil {
		return fallback
	}
	value, ok := lookup(key)
	if !ok {
		return fallback
	}
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
