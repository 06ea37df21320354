// Package storage provides scratch file management for in-flight uploads and
// the durable stores that persist finished media. It defines the Store
// interface (port) and implementations for S3, MinIO and local disk.
package storage

import (
	"context"
	"errors"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Resource types understood by the durable stores.
const (
	ResourceAuto  = "auto"
	ResourceImage = "image"
	ResourceVideo = "video"
	ResourceRaw   = "raw"
)

// ErrEmptyPath is returned when an upload is attempted without a local file.
var ErrEmptyPath = errors.New("storage: local file path is required")

// UploadOptions describes where and how a finished file is stored.
type UploadOptions struct {
	// Folder is the logical folder the object is filed under.
	Folder string
	// ResourceType is one of the Resource* constants.
	ResourceType string
	// Filename is the client's original file name.
	Filename string
	// ContentType is the MIME type recorded with the object.
	ContentType string
}

// Descriptor is the durable store's description of a stored object.
// It is handed to the client verbatim in the terminal progress event.
type Descriptor struct {
	SecureURL        string    `json:"secure_url"`
	PublicID         string    `json:"public_id"`
	ResourceType     string    `json:"resource_type"`
	Format           string    `json:"format,omitempty"`
	Bytes            int64     `json:"bytes"`
	OriginalFilename string    `json:"original_filename,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Store persists a local file durably and describes the stored object.
type Store interface {
	// Upload copies the file at localPath into the store.
	Upload(ctx context.Context, localPath string, opts UploadOptions) (*Descriptor, error)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

const maxNameLen = 100

// SanitizeName reduces a client-supplied file name to a safe base name.
func SanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if len(name) > maxNameLen {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = name[:maxNameLen-len(ext)] + ext
	}
	if name == "" {
		return "file"
	}
	return name
}

// objectKey builds the key for a stored object: <folder>/<resourceType>/<uuid>_<name>.
func objectKey(opts UploadOptions, localPath string) string {
	name := opts.Filename
	if name == "" {
		name = filepath.Base(localPath)
	}

	folder := strings.Trim(path.Clean("/"+strings.ReplaceAll(opts.Folder, "\\", "/")), "/")
	resourceType := opts.ResourceType
	if resourceType == "" {
		resourceType = ResourceAuto
	}

	return path.Join(folder, resourceType, uuid.NewString()+"_"+SanitizeName(name))
}

// objectURL joins baseURL with key, escaping each key segment.
func objectURL(baseURL, key string) string {
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return baseURL + "/" + strings.Join(segs, "/")
}

// formatOf returns the lower-case extension of name without the dot.
func formatOf(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}
