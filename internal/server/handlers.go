package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/airc/media-ingest/internal/ingest"
	"github.com/airc/media-ingest/internal/progress"
)

// Ingester runs the upload pipeline for one request.
type Ingester interface {
	Ingest(ctx context.Context, form ingest.Form, em progress.Emitter)
}

const (
	defaultMaxUploadBytes = 500 << 20
	// multipartMemory is how much of a multipart body is kept in memory
	// before spilling to disk.
	multipartMemory = 32 << 20
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	ingester           Ingester
	logger             *slog.Logger
	maxUploadBytes     int64
	writeTimeout       time.Duration
	cancelOnDisconnect bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxUploadBytes limits the size of an upload request body.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// WithStreamWriteTimeout bounds each progress write to a slow client.
func WithStreamWriteTimeout(d time.Duration) HandlerOption {
	return func(h *Handlers) {
		h.writeTimeout = d
	}
}

// WithCancelOnDisconnect controls whether a client disconnect aborts the
// pipeline. When disabled, work runs to completion with a detached context.
func WithCancelOnDisconnect(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.cancelOnDisconnect = enabled
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(ingester Ingester, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		ingester:       ingester,
		logger:         logger,
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Upload handles POST /api/upload requests. The response is always 200 with
// an NDJSON progress stream; failures are reported in-band.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	form := newMultipartForm(r, multipartMemory)
	defer form.cleanup()

	w.Header().Set("Content-Type", ContentTypeNDJSON)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	// A stream can outlast the server's WriteTimeout. Lift the connection
	// deadline; the emitter bounds each write itself when configured.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("cannot clear write deadline", slog.String("error", err.Error()))
	}

	// Use context.WithoutCancel so a dropped connection does not abort the upload
	ctx := r.Context()
	if !h.cancelOnDisconnect {
		ctx = context.WithoutCancel(ctx)
	}

	em := progress.NewEmitter(w, h.logger, progress.WithWriteTimeout(h.writeTimeout))
	h.ingester.Ingest(ctx, form, em)

	if n := em.Failures(); n > 0 {
		h.logger.Warn("progress stream incomplete",
			slog.Int("failed_writes", n),
			slog.String("remote_addr", r.RemoteAddr),
		)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
