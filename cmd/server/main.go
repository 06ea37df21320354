// Package main provides the entry point for the media ingestion server.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/airc/media-ingest/internal/bootstrap"
	"github.com/airc/media-ingest/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting media ingestion server",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("temp_dir", cfg.TempDir),
		slog.String("store_backend", cfg.Backend()),
		slog.Int("large_video_threshold_mb", cfg.LargeVideoThresholdMB),
		slog.Int("max_upload_mb", cfg.MaxUploadMB),
		slog.Bool("cancel_on_disconnect", cfg.CancelOnDisconnect),
	)

	return bootstrap.RunServer(cfg, logger)
}
