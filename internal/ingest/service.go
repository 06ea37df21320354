// Package ingest sequences one upload through scratch storage, optional
// compression and the durable store while streaming progress to the client.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"github.com/airc/media-ingest/internal/auth"
	"github.com/airc/media-ingest/internal/document"
	"github.com/airc/media-ingest/internal/media"
	"github.com/airc/media-ingest/internal/metrics"
	"github.com/airc/media-ingest/internal/progress"
	"github.com/airc/media-ingest/internal/storage"
)

// Messages sent to the client in error events.
const (
	MsgUnauthorized = "Unauthorized"
	MsgNoFile       = "No file provided"
	MsgUploadFailed = "Upload failed"
)

// DefaultFolder is used when neither the request nor the service names one.
const DefaultFolder = "airc-portal"

// UserLookup resolves the caller of the current request.
type UserLookup interface {
	CurrentUser(ctx context.Context) (auth.User, bool)
}

// Params are the validated text fields of an upload.
type Params struct {
	Folder       string `validate:"required,max=200,excludesall=\\"`
	ResourceType string `validate:"required,oneof=auto image video raw"`
}

// kind is the transform branch chosen for an upload.
type kind int

const (
	kindOther kind = iota
	kindVideo
	kindPDF
)

func (k kind) String() string {
	switch k {
	case kindVideo:
		return "video"
	case kindPDF:
		return "pdf"
	default:
		return "other"
	}
}

// Service runs the ingestion pipeline. It holds no per-request state and is
// safe for concurrent use.
type Service struct {
	users         UserLookup
	scratch       *storage.Scratch
	transcoder    media.Transcoder
	compactor     document.Compactor
	store         storage.Store
	logger        *slog.Logger
	metrics       *metrics.Metrics
	validate      *validator.Validate
	defaultFolder string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithMetrics records pipeline metrics into m.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithDefaultFolder sets the folder used when the request names none.
func WithDefaultFolder(folder string) ServiceOption {
	return func(s *Service) {
		if folder != "" {
			s.defaultFolder = folder
		}
	}
}

// NewService creates a Service.
func NewService(
	users UserLookup,
	scratch *storage.Scratch,
	transcoder media.Transcoder,
	compactor document.Compactor,
	store storage.Store,
	logger *slog.Logger,
	opts ...ServiceOption,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		users:         users,
		scratch:       scratch,
		transcoder:    transcoder,
		compactor:     compactor,
		store:         store,
		logger:        logger,
		validate:      validator.New(),
		defaultFolder: DefaultFolder,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest runs one upload and writes its events to em. Exactly one terminal
// event is emitted, and every scratch file created along the way is removed
// before Ingest returns.
func (s *Service) Ingest(ctx context.Context, form Form, em progress.Emitter) {
	start := time.Now()
	var temps []storage.TempFile
	track := func(tf storage.TempFile) { temps = append(temps, tf) }

	defer func() {
		// Cleanup must survive a cancelled request.
		if err := s.scratch.Release(context.WithoutCancel(ctx), temps...); err != nil {
			s.logger.Error("failed to release scratch files",
				slog.Int("count", len(temps)),
				slog.String("error", err.Error()),
			)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in ingestion pipeline",
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
			s.fail(em, MsgUploadFailed, metrics.OutcomeFailed)
		}
	}()

	user, ok := s.users.CurrentUser(ctx)
	if !ok {
		s.fail(em, MsgUnauthorized, metrics.OutcomeUnauthorized)
		return
	}
	logger := s.logger.With(slog.String("user_id", user.ID))

	file, info, err := form.File()
	if err != nil {
		if !errors.Is(err, ErrNoFile) {
			logger.Warn("failed to read uploaded file", slog.String("error", err.Error()))
		}
		s.fail(em, MsgNoFile, metrics.OutcomeInvalid)
		return
	}
	defer func() { _ = file.Close() }()

	params := Params{
		Folder:       strings.TrimSpace(form.Value(FieldFolder)),
		ResourceType: strings.ToLower(strings.TrimSpace(form.Value(FieldResourceType))),
	}
	if params.Folder == "" {
		params.Folder = s.defaultFolder
	}
	if s.validate.Var(params.ResourceType, "oneof=auto image video raw") != nil {
		if params.ResourceType != "" {
			logger.Warn("unknown resource type, using auto", slog.String("resource_type", params.ResourceType))
		}
		params.ResourceType = storage.ResourceAuto
	}
	if err := s.validate.Struct(params); err != nil {
		logger.Warn("upload parameters rejected", slog.String("error", err.Error()))
		s.fail(em, MsgUploadFailed, metrics.OutcomeInvalid)
		return
	}

	logger = logger.With(slog.String("filename", info.Filename))

	persistStart := time.Now()
	src, err := s.scratch.Create(ctx, "upload", info.Filename, file)
	if err != nil {
		logger.Error("failed to persist upload", slog.String("error", err.Error()))
		s.fail(em, MsgUploadFailed, metrics.OutcomeFailed)
		return
	}
	track(src)
	s.metrics.Stage("persist", persistStart)
	em.Emit(progress.Update(progress.StatusUploading, "File received"))

	contentType := s.contentType(src.Path, info.ContentType)
	k := classify(params.ResourceType, contentType, info.Filename)
	logger.Info("upload received",
		slog.Int64("size", src.Size),
		slog.String("content_type", contentType),
		slog.String("kind", k.String()),
		slog.String("folder", params.Folder),
	)

	out := output{file: src, name: info.Filename, contentType: contentType}
	switch k {
	case kindVideo:
		out = s.transcode(ctx, logger, src, out, em, track)
	case kindPDF:
		out = s.compact(ctx, logger, src, out, em, track)
	default:
		em.Emit(progress.Update(progress.StatusProcessing, "No compression needed"))
	}

	em.Emit(progress.Update(progress.StatusFinalizing, "Uploading to storage..."))

	uploadStart := time.Now()
	desc, err := s.store.Upload(ctx, out.file.Path, storage.UploadOptions{
		Folder:       params.Folder,
		ResourceType: storeResourceType(k),
		Filename:     out.name,
		ContentType:  out.contentType,
	})
	s.metrics.Stage("upload", uploadStart)
	if err != nil {
		logger.Error("durable store upload failed", slog.String("error", err.Error()))
		s.fail(em, MsgUploadFailed, metrics.OutcomeFailed)
		return
	}

	em.Emit(progress.Done(desc))
	s.metrics.Upload(metrics.OutcomeDone)
	s.metrics.Stage("total", start)
	logger.Info("upload stored",
		slog.String("public_id", desc.PublicID),
		slog.Int64("bytes", desc.Bytes),
		slog.Duration("duration", time.Since(start)),
	)
}

// output is the file that will be handed to the store.
type output struct {
	file        storage.TempFile
	name        string
	contentType string
}

func (s *Service) fail(em progress.Emitter, msg, outcome string) {
	em.Emit(progress.Failure(msg))
	s.metrics.Upload(outcome)
}

// transcode compresses a video. On failure the original is kept.
func (s *Service) transcode(ctx context.Context, logger *slog.Logger, src storage.TempFile, orig output,
	em progress.Emitter, track func(storage.TempFile)) output {
	em.Emit(progress.Percent(progress.StatusCompressing, "Compressing video...", 0))

	name := replaceExt(orig.name, ".mp4")
	dst := s.scratch.Reserve("compressed", name)
	track(dst)

	start := time.Now()
	res, err := s.transcoder.Transcode(ctx, src.Path, dst.Path, func(pct int) {
		em.Emit(progress.Percent(progress.StatusCompressing, fmt.Sprintf("Compressing video... %d%%", pct), pct))
	})
	s.metrics.Stage("transcode", start)
	if err != nil {
		logger.Warn("video compression failed, uploading original", slog.String("error", err.Error()))
		s.metrics.TransformFailed(kindVideo.String())
		return orig
	}

	s.metrics.Reduction(kindVideo.String(), res.Reduction())
	logger.Info("video compressed",
		slog.Int64("before", res.BeforeSize),
		slog.Int64("after", res.AfterSize),
		slog.String("reduction", fmt.Sprintf("%.1f%%", res.Reduction())),
	)

	dst.Size = res.AfterSize
	return output{file: dst, name: name, contentType: "video/mp4"}
}

// compact recompresses a PDF. The original is kept on failure or when the
// rewrite is not smaller.
func (s *Service) compact(ctx context.Context, logger *slog.Logger, src storage.TempFile, orig output,
	em progress.Emitter, track func(storage.TempFile)) output {
	em.Emit(progress.Update(progress.StatusCompressing, "Compressing PDF..."))

	dst := s.scratch.Reserve("compressed", orig.name)
	track(dst)

	start := time.Now()
	res, err := s.compactor.Compact(ctx, src.Path, dst.Path, func(msg string) {
		em.Emit(progress.Update(progress.StatusCompressing, msg))
	})
	s.metrics.Stage("compact", start)
	if err != nil {
		logger.Warn("PDF compression failed, uploading original", slog.String("error", err.Error()))
		s.metrics.TransformFailed(kindPDF.String())
		return orig
	}

	s.metrics.Reduction(kindPDF.String(), res.Reduction())
	logger.Info("PDF compacted",
		slog.Int64("before", res.BeforeSize),
		slog.Int64("after", res.AfterSize),
		slog.String("reduction", fmt.Sprintf("%.1f%%", res.Reduction())),
	)
	if res.AfterSize >= res.BeforeSize {
		return orig
	}

	dst.Size = res.AfterSize
	return output{file: dst, name: orig.name, contentType: "application/pdf"}
}

// contentType normalizes the declared type, sniffing the file when the
// client sent nothing useful.
func (s *Service) contentType(path, declared string) string {
	ct := mediaType(declared)
	if ct != "" && ct != "application/octet-stream" {
		return ct
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		s.logger.Debug("content sniffing failed", slog.String("error", err.Error()))
		return "application/octet-stream"
	}
	return mediaType(mt.String())
}

func mediaType(s string) string {
	s, _, _ = strings.Cut(s, ";")
	return strings.ToLower(strings.TrimSpace(s))
}

func classify(resourceType, contentType, filename string) kind {
	switch {
	case resourceType == storage.ResourceVideo || strings.HasPrefix(contentType, "video/"):
		return kindVideo
	case contentType == "application/pdf" || strings.EqualFold(filepath.Ext(filename), ".pdf"):
		return kindPDF
	default:
		return kindOther
	}
}

// storeResourceType maps the upload to the store's resource type. PDFs are
// stored as images because some media hosts restrict delivery of raw files.
func storeResourceType(k kind) string {
	switch k {
	case kindVideo:
		return storage.ResourceVideo
	case kindPDF:
		return storage.ResourceImage
	default:
		return storage.ResourceAuto
	}
}

func replaceExt(name, ext string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + ext
}
