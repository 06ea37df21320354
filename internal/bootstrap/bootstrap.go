// Package bootstrap provides dependency initialization for the media ingestion service.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/airc/media-ingest/internal/auth"
	"github.com/airc/media-ingest/internal/config"
	"github.com/airc/media-ingest/internal/document"
	"github.com/airc/media-ingest/internal/ingest"
	"github.com/airc/media-ingest/internal/media"
	"github.com/airc/media-ingest/internal/metrics"
	"github.com/airc/media-ingest/internal/server"
	"github.com/airc/media-ingest/internal/storage"
)

// Dependencies holds all initialized dependencies for the pipeline.
type Dependencies struct {
	Service *ingest.Service
	Metrics *metrics.Metrics
	Scratch *storage.Scratch
	// MediaDir is the local store root, empty for remote backends.
	MediaDir string
}

// NewDependencies creates and initializes all dependencies for the application.
// users decides who the caller is: the request context for the server, a
// fixed operator for the CLI.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger, users ingest.UserLookup) (*Dependencies, error) {
	scratch, err := storage.NewScratch(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create scratch storage: %w", err)
	}

	store, mediaDir, err := initStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	transcoder := media.NewFFmpegTranscoder(cfg.FFmpegPath,
		media.WithFFprobePath(cfg.FFprobePath),
		media.WithLargeThreshold(cfg.LargeVideoThreshold()),
	)
	compactor := document.NewPDFCompactor()
	m := metrics.New()

	svc := ingest.NewService(
		users,
		scratch,
		transcoder,
		compactor,
		store,
		logger,
		ingest.WithMetrics(m),
		ingest.WithDefaultFolder(cfg.DefaultFolder),
	)

	return &Dependencies{
		Service:  svc,
		Metrics:  m,
		Scratch:  scratch,
		MediaDir: mediaDir,
	}, nil
}

// initStore creates the durable store selected by configuration.
func initStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, string, error) {
	switch cfg.Backend() {
	case config.BackendS3:
		s3Store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			PublicBaseURL:   cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, "", fmt.Errorf("create S3 store: %w", err)
		}
		logger.Info("S3 store configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, "", nil

	case config.BackendMinIO:
		minioStore, err := storage.NewMinIOStore(storage.MinIOConfig{
			Endpoint:      cfg.MinIOEndpoint,
			Bucket:        cfg.MinIOBucket,
			AccessKey:     cfg.MinIOAccessKey,
			SecretKey:     cfg.MinIOSecretKey,
			UseSSL:        cfg.MinIOUseSSL,
			Region:        cfg.S3Region,
			PublicBaseURL: cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, "", fmt.Errorf("create MinIO store: %w", err)
		}
		logger.Info("MinIO store configured",
			slog.String("endpoint", cfg.MinIOEndpoint),
			slog.String("bucket", cfg.MinIOBucket),
		)
		return minioStore, "", nil

	default:
		diskStore, err := storage.NewDiskStore(cfg.StoreDir, cfg.LocalBaseURL())
		if err != nil {
			return nil, "", fmt.Errorf("create local store: %w", err)
		}
		logger.Info("local store configured",
			slog.String("store_dir", cfg.StoreDir),
			slog.String("public_base_url", cfg.LocalBaseURL()),
		)
		return diskStore, diskStore.Root(), nil
	}
}

// NewHTTPServer wires the HTTP handlers around deps.
func NewHTTPServer(cfg *config.Config, deps *Dependencies, logger *slog.Logger) *http.Server {
	handlers := server.NewHandlers(deps.Service, logger,
		server.WithMaxUploadBytes(cfg.MaxUploadBytes()),
		server.WithStreamWriteTimeout(cfg.StreamWriteTimeout),
		server.WithCancelOnDisconnect(cfg.CancelOnDisconnect),
	)
	router := server.NewRouter(handlers, logger, server.Config{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		JWTSecret:      []byte(cfg.JWTSecret),
		Metrics:        deps.Metrics.Handler(),
		MediaDir:       deps.MediaDir,
	})

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       15 * time.Minute, // Large multipart bodies
		WriteTimeout:      300 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// RunServer serves HTTP until SIGINT or SIGTERM, then shuts down gracefully.
func RunServer(cfg *config.Config, logger *slog.Logger) error {
	deps, err := NewDependencies(context.Background(), cfg, logger, auth.ContextLookup{})
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	srv := NewHTTPServer(cfg, deps, logger)

	// Graceful shutdown handling
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case err := <-errCh:
		return err
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
