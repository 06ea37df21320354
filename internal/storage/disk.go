package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Compile-time check that DiskStore implements Store.
var _ Store = (*DiskStore)(nil)

// DiskStore keeps finished media in a local directory. It is meant for
// development and single-node deployments that serve the directory themselves.
type DiskStore struct {
	root    string
	baseURL string
}

// NewDiskStore creates a DiskStore under root, creating it if needed.
// URLs in descriptors are baseURL joined with the object key.
func NewDiskStore(root, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &DiskStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Root returns the directory objects are written to.
func (s *DiskStore) Root() string {
	return s.root
}

// Upload copies the file at localPath under the store root.
func (s *DiskStore) Upload(ctx context.Context, localPath string, opts UploadOptions) (*Descriptor, error) {
	if localPath == "" {
		return nil, ErrEmptyPath
	}
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	key := objectKey(opts, localPath)
	dst := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return nil, fmt.Errorf("create object directory: %w", err)
	}

	n, err := copyFile(localPath, dst)
	if err != nil {
		_ = os.Remove(dst)
		return nil, err
	}

	return &Descriptor{
		SecureURL:        objectURL(s.baseURL, key),
		PublicID:         key,
		ResourceType:     opts.ResourceType,
		Format:           formatOf(opts.Filename),
		Bytes:            n,
		OriginalFilename: opts.Filename,
		CreatedAt:        time.Now().UTC(),
	}, nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src) // #nosec G304 - src comes from the scratch manager
	if err != nil {
		return 0, fmt.Errorf("open upload source: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		return 0, fmt.Errorf("create object file: %w", err)
	}

	n, err := io.Copy(out, in)
	if err != nil {
		_ = out.Close()
		return 0, fmt.Errorf("write object file: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("close object file: %w", err)
	}
	return n, nil
}
