package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Compile-time check that S3Store implements Store.
var _ Store = (*S3Store)(nil)

// S3Config holds the configuration for S3 storage.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
	PublicBaseURL   string // Optional: overrides the virtual-hosted URL
}

// S3Store stores finished media in an S3 bucket.
type S3Store struct {
	client  *s3.Client
	bucket  string
	region  string
	baseURL string
}

// NewS3Store creates a new S3Store from cfg.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}

	return &S3Store{
		client:  s3.NewFromConfig(awsCfg, clientOpts...),
		bucket:  cfg.Bucket,
		region:  cfg.Region,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Upload streams the file at localPath to S3 and returns its descriptor.
func (s *S3Store) Upload(ctx context.Context, localPath string, opts UploadOptions) (*Descriptor, error) {
	if localPath == "" {
		return nil, ErrEmptyPath
	}

	f, err := os.Open(localPath) // #nosec G304 - path comes from the scratch manager
	if err != nil {
		return nil, fmt.Errorf("open upload source: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat upload source: %w", err)
	}

	key := objectKey(opts, localPath)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		Metadata: map[string]string{
			"resource-type":     opts.ResourceType,
			"original-filename": SanitizeName(opts.Filename),
		},
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("upload to S3: %w", err)
	}

	return &Descriptor{
		SecureURL:        objectURL(s.baseURL, key),
		PublicID:         key,
		ResourceType:     opts.ResourceType,
		Format:           formatOf(opts.Filename),
		Bytes:            info.Size(),
		OriginalFilename: opts.Filename,
		CreatedAt:        time.Now().UTC(),
	}, nil
}
