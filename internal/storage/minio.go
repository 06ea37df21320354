package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
)

// Compile-time check that MinIOStore implements Store.
var _ Store = (*MinIOStore)(nil)

// MinIOConfig holds the configuration for a MinIO (or other S3-compatible) server.
type MinIOConfig struct {
	Endpoint      string // host:port, without scheme
	Bucket        string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	Region        string // Optional: skips the bucket location lookup when set
	PublicBaseURL string // Optional: overrides <scheme>://<endpoint>/<bucket>
}

// MinIOStore stores finished media on a MinIO server.
type MinIOStore struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

// NewMinIOStore creates a new MinIOStore from cfg.
func NewMinIOStore(cfg MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create MinIO client: %w", err)
	}

	return &MinIOStore{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: minioBaseURL(cfg),
	}, nil
}

func minioBaseURL(cfg MinIOConfig) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
}

// Upload puts the file at localPath into the bucket and returns its descriptor.
func (s *MinIOStore) Upload(ctx context.Context, localPath string, opts UploadOptions) (*Descriptor, error) {
	if localPath == "" {
		return nil, ErrEmptyPath
	}

	key := objectKey(opts, localPath)
	info, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: opts.ContentType,
		UserMetadata: map[string]string{
			"resource-type":     opts.ResourceType,
			"original-filename": SanitizeName(opts.Filename),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("upload to MinIO: %w", err)
	}

	return &Descriptor{
		SecureURL:        objectURL(s.baseURL, key),
		PublicID:         key,
		ResourceType:     opts.ResourceType,
		Format:           formatOf(opts.Filename),
		Bytes:            info.Size,
		OriginalFilename: opts.Filename,
		CreatedAt:        time.Now().UTC(),
	}, nil
}
