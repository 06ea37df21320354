package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrScratchDirRequired is returned when no scratch directory is configured.
var ErrScratchDirRequired = errors.New("storage: scratch directory is required")

// TempFile is a named file on local scratch storage owned by one request.
type TempFile struct {
	// Path is the absolute path of the file.
	Path string
	// Name is the sanitized original name the file was created for.
	Name string
	// Size is the number of bytes written, zero for reserved paths.
	Size int64
}

// Scratch manages scratch files for in-flight uploads under a single directory.
// Names are collision-resistant so concurrent requests never share a file.
type Scratch struct {
	dir string
}

// NewScratch creates a Scratch rooted at dir, creating the directory if needed.
func NewScratch(dir string) (*Scratch, error) {
	if dir == "" {
		return nil, ErrScratchDirRequired
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve scratch directory: %w", err)
	}

	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}

	return &Scratch{dir: abs}, nil
}

// Dir returns the scratch directory path.
func (s *Scratch) Dir() string {
	return s.dir
}

// Reserve allocates a fresh path without creating the file.
// Transform steps use it for their output.
func (s *Scratch) Reserve(prefix, originalName string) TempFile {
	name := SanitizeName(originalName)
	return TempFile{
		Path: filepath.Join(s.dir, fmt.Sprintf("%s_%s_%s", SanitizeName(prefix), uuid.NewString(), name)),
		Name: name,
	}
}

// Create streams data into a fresh scratch file and returns it.
// On failure nothing is left behind.
func (s *Scratch) Create(ctx context.Context, prefix, originalName string, data io.Reader) (TempFile, error) {
	select {
	case <-ctx.Done():
		return TempFile{}, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	tf := s.Reserve(prefix, originalName)

	f, err := os.OpenFile(tf.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return TempFile{}, fmt.Errorf("create temp file: %w", err)
	}

	n, err := io.Copy(f, data)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(tf.Path)
		return TempFile{}, fmt.Errorf("write temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tf.Path)
		return TempFile{}, fmt.Errorf("close temp file: %w", err)
	}

	tf.Size = n
	return tf, nil
}

// Release removes the given files. Files that are already gone are ignored.
// It keeps going when a removal fails and returns the first error.
func (s *Scratch) Release(ctx context.Context, files ...TempFile) error {
	var firstErr error
	for _, f := range files {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if f.Path == "" {
			continue
		}
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove temp file %s: %w", f.Path, err)
			}
		}
	}
	return firstErr
}
