package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/airc/media-ingest/internal/ingest"
)

// Compile-time check that multipartForm implements ingest.Form.
var _ ingest.Form = (*multipartForm)(nil)

// multipartForm reads the multipart body on first use, so unauthorized
// requests are answered without consuming it.
type multipartForm struct {
	r         *http.Request
	maxMemory int64
	parsed    bool
	err       error
}

func newMultipartForm(r *http.Request, maxMemory int64) *multipartForm {
	return &multipartForm{r: r, maxMemory: maxMemory}
}

func (f *multipartForm) parse() error {
	if !f.parsed {
		f.parsed = true
		f.err = f.r.ParseMultipartForm(f.maxMemory)
	}
	return f.err
}

// File implements ingest.Form.
func (f *multipartForm) File() (io.ReadCloser, ingest.FileInfo, error) {
	if err := f.parse(); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, ingest.FileInfo{}, ingest.ErrNoFile
		}
		return nil, ingest.FileInfo{}, fmt.Errorf("parse multipart form: %w", err)
	}

	file, hdr, err := f.r.FormFile(ingest.FieldFile)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, ingest.FileInfo{}, ingest.ErrNoFile
		}
		return nil, ingest.FileInfo{}, fmt.Errorf("read form file: %w", err)
	}

	return file, ingest.FileInfo{
		Filename:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Size:        hdr.Size,
	}, nil
}

// Value implements ingest.Form.
func (f *multipartForm) Value(key string) string {
	if f.parse() != nil {
		return ""
	}
	return f.r.FormValue(key)
}

// cleanup removes any temporary files the multipart reader spilled to disk.
func (f *multipartForm) cleanup() {
	if f.r.MultipartForm != nil {
		_ = f.r.MultipartForm.RemoveAll()
	}
}
