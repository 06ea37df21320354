package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrNoFile is returned by Form.File when the request carries no file.
var ErrNoFile = errors.New("ingest: no file provided")

// Form field names.
const (
	FieldFile         = "file"
	FieldFolder       = "folder"
	FieldResourceType = "resourceType"
)

// FileInfo describes the uploaded file as declared by the client.
type FileInfo struct {
	Filename    string
	ContentType string
	Size        int64
}

// Form gives the pipeline access to one upload request. Implementations may
// defer reading the request body until File or Value is first called, so the
// caller can be authorized before any bytes are consumed.
type Form interface {
	// File returns the uploaded file. The caller closes it.
	File() (io.ReadCloser, FileInfo, error)
	// Value returns a text field, or "" when absent.
	Value(key string) string
}

// LocalForm is a Form backed by a file on disk.
type LocalForm struct {
	Path         string
	ContentType  string
	Folder       string
	ResourceType string
}

// File implements Form.
func (f LocalForm) File() (io.ReadCloser, FileInfo, error) {
	if f.Path == "" {
		return nil, FileInfo{}, ErrNoFile
	}

	file, err := os.Open(f.Path) // #nosec G304 - path is given by the operator
	if err != nil {
		return nil, FileInfo{}, fmt.Errorf("open %s: %w", f.Path, err)
	}

	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, FileInfo{}, fmt.Errorf("stat %s: %w", f.Path, err)
	}

	return file, FileInfo{
		Filename:    filepath.Base(f.Path),
		ContentType: f.ContentType,
		Size:        st.Size(),
	}, nil
}

// Value implements Form.
func (f LocalForm) Value(key string) string {
	switch key {
	case FieldFolder:
		return f.Folder
	case FieldResourceType:
		return f.ResourceType
	default:
		return ""
	}
}
