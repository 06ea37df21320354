// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Supported durable store backends.
const (
	BackendS3    = "s3"
	BackendMinIO = "minio"
	BackendLocal = "local"
)

// Static errors for configuration validation.
var (
	// ErrJWTSecretRequired is returned when AUTH_JWT_SECRET is not set.
	ErrJWTSecretRequired = errors.New("config: AUTH_JWT_SECRET is required")
	// ErrUnknownBackend is returned when STORE_BACKEND names an unsupported store.
	ErrUnknownBackend = errors.New("config: unknown STORE_BACKEND")
	// ErrS3Incomplete is returned when the s3 backend is selected without bucket and region.
	ErrS3Incomplete = errors.New("config: S3_BUCKET and S3_REGION are required for the s3 backend")
	// ErrMinIOIncomplete is returned when the minio backend is selected without endpoint and bucket.
	ErrMinIOIncomplete = errors.New("config: MINIO_ENDPOINT and MINIO_BUCKET are required for the minio backend")
	// ErrInvalidLimit is returned when a size limit is not positive.
	ErrInvalidLimit = errors.New("config: size limits must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port               int           `env:"PORT, default=8080" json:"port"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS, default=*" json:"cors_allowed_origins"`
	StreamWriteTimeout time.Duration `env:"STREAM_WRITE_TIMEOUT, default=30s" json:"stream_write_timeout"`
	CancelOnDisconnect bool          `env:"CANCEL_ON_DISCONNECT, default=false" json:"cancel_on_disconnect"`

	// Auth settings
	JWTSecret string `env:"AUTH_JWT_SECRET, required" json:"-"` // Masked in JSON

	// Scratch storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/airc-ingest" json:"temp_dir"`

	// Processing settings
	FFmpegPath            string `env:"FFMPEG_PATH" json:"ffmpeg_path,omitempty"`
	FFprobePath           string `env:"FFPROBE_PATH" json:"ffprobe_path,omitempty"`
	LargeVideoThresholdMB int    `env:"LARGE_VIDEO_THRESHOLD_MB, default=100" json:"large_video_threshold_mb"`
	MaxUploadMB           int    `env:"MAX_UPLOAD_MB, default=500" json:"max_upload_mb"`
	DefaultFolder         string `env:"DEFAULT_FOLDER, default=airc-portal" json:"default_folder"`

	// Durable store settings
	StoreBackend  string `env:"STORE_BACKEND" json:"store_backend,omitempty"`
	StoreDir      string `env:"STORE_DIR, default=/var/lib/airc-ingest/objects" json:"store_dir"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" json:"public_base_url,omitempty"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Optional MinIO settings
	MinIOEndpoint  string `env:"MINIO_ENDPOINT" json:"minio_endpoint,omitempty"`
	MinIOBucket    string `env:"MINIO_BUCKET" json:"minio_bucket,omitempty"`
	MinIOAccessKey string `env:"MINIO_ACCESS_KEY" json:"-"` // Masked in JSON
	MinIOSecretKey string `env:"MINIO_SECRET_KEY" json:"-"` // Masked in JSON
	MinIOUseSSL    bool   `env:"MINIO_USE_SSL, default=true" json:"minio_use_ssl"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Backend returns the durable store backend to use. An explicit STORE_BACKEND
// wins; otherwise s3 is picked when configured and local disk is the fallback.
func (c *Config) Backend() string {
	if c.StoreBackend != "" {
		return strings.ToLower(c.StoreBackend)
	}
	if c.S3Enabled() {
		return BackendS3
	}
	return BackendLocal
}

// LocalBaseURL returns the URL prefix for objects in the local store.
// Without PUBLIC_BASE_URL the server's own /media/ route is used.
func (c *Config) LocalBaseURL() string {
	if c.PublicBaseURL != "" {
		return c.PublicBaseURL
	}
	return fmt.Sprintf("http://localhost:%d/media", c.Port)
}

// LargeVideoThreshold returns the large-video threshold in bytes.
func (c *Config) LargeVideoThreshold() int64 {
	return int64(c.LargeVideoThresholdMB) << 20
}

// MaxUploadBytes returns the request body limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	return load(envconfig.OsLookuper())
}

func load(lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "AUTH_JWT_SECRET") {
			return nil, ErrJWTSecretRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return ErrJWTSecretRequired
	}
	if c.LargeVideoThresholdMB <= 0 || c.MaxUploadMB <= 0 {
		return ErrInvalidLimit
	}

	switch c.Backend() {
	case BackendS3:
		if !c.S3Enabled() {
			return ErrS3Incomplete
		}
	case BackendMinIO:
		if c.MinIOEndpoint == "" || c.MinIOBucket == "" {
			return ErrMinIOIncomplete
		}
	case BackendLocal:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.StoreBackend)
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, Backend: %s, S3Bucket: %s, S3Region: %s, MinIOEndpoint: %s, MinIOBucket: %s, LargeVideoThresholdMB: %d, MaxUploadMB: %d, DefaultFolder: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.Backend(),
		c.S3Bucket,
		c.S3Region,
		c.MinIOEndpoint,
		c.MinIOBucket,
		c.LargeVideoThresholdMB,
		c.MaxUploadMB,
		c.DefaultFolder,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
