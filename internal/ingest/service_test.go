package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/airc/media-ingest/internal/auth"
	"github.com/airc/media-ingest/internal/media"
	"github.com/airc/media-ingest/internal/metrics"
	"github.com/airc/media-ingest/internal/progress"
	"github.com/airc/media-ingest/internal/storage"
)

// mockTranscoder implements media.Transcoder for testing.
type mockTranscoder struct {
	mock.Mock
}

func (m *mockTranscoder) Transcode(ctx context.Context, src, dst string, onProgress func(int)) (media.Result, error) {
	args := m.Called(ctx, src, dst, onProgress)
	return args.Get(0).(media.Result), args.Error(1)
}

// mockCompactor implements document.Compactor for testing.
type mockCompactor struct {
	mock.Mock
}

func (m *mockCompactor) Compact(ctx context.Context, src, dst string, onProgress func(string)) (media.Result, error) {
	args := m.Called(ctx, src, dst, onProgress)
	return args.Get(0).(media.Result), args.Error(1)
}

// mockStore implements storage.Store for testing.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Upload(ctx context.Context, localPath string, opts storage.UploadOptions) (*storage.Descriptor, error) {
	args := m.Called(ctx, localPath, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Descriptor), args.Error(1)
}

// countingForm records whether the pipeline touched the request body.
type countingForm struct {
	Form
	fileCalls int
}

func (f *countingForm) File() (io.ReadCloser, FileInfo, error) {
	f.fileCalls++
	return f.Form.File()
}

type fixture struct {
	svc        *Service
	scratch    *storage.Scratch
	transcoder *mockTranscoder
	compactor  *mockCompactor
	store      *mockStore
	metrics    *metrics.Metrics
}

var engineer = auth.User{ID: "u-1", Email: "eng@airc.example", Role: auth.RoleEngineer}

func newFixture(t *testing.T, user auth.User) *fixture {
	t.Helper()
	scratch, err := storage.NewScratch(filepath.Join(t.TempDir(), "scratch"))
	require.NoError(t, err)

	f := &fixture{
		scratch:    scratch,
		transcoder: &mockTranscoder{},
		compactor:  &mockCompactor{},
		store:      &mockStore{},
		metrics:    metrics.New(),
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	f.svc = NewService(auth.StaticLookup{User: user}, scratch, f.transcoder, f.compactor, f.store, logger,
		WithMetrics(f.metrics),
	)
	return f
}

// assertScratchEmpty checks that nothing was left behind by the request.
func (f *fixture) assertScratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.scratch.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch files leaked")
}

func (f *fixture) assertMocks(t *testing.T) {
	t.Helper()
	f.transcoder.AssertExpectations(t)
	f.compactor.AssertExpectations(t)
	f.store.AssertExpectations(t)
}

// writeUpload creates a client file outside the scratch directory.
func writeUpload(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0600))
	return p
}

// assertWellFormed checks that the stream ends with its only terminal event.
func assertWellFormed(t *testing.T, events []progress.Event) {
	t.Helper()
	require.NotEmpty(t, events)
	for i, e := range events[:len(events)-1] {
		assert.False(t, e.Terminal(), "event %d is terminal but not last: %+v", i, e)
	}
	assert.True(t, events[len(events)-1].Terminal(), "stream must end with a terminal event")
}

func statuses(events []progress.Event) []progress.Status {
	out := make([]progress.Status, 0, len(events))
	for _, e := range events {
		if len(out) > 0 && out[len(out)-1] == e.Status {
			continue
		}
		out = append(out, e.Status)
	}
	return out
}

func descriptor(resourceType string) *storage.Descriptor {
	return &storage.Descriptor{
		SecureURL:    "https://media.airc.example/airc-portal/" + resourceType + "/x",
		PublicID:     "airc-portal/" + resourceType + "/x",
		ResourceType: resourceType,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestIngest_Unauthorized(t *testing.T) {
	f := newFixture(t, auth.User{})
	form := &countingForm{Form: LocalForm{Path: writeUpload(t, "a.png", []byte("png"))}}
	var rec progress.Recorder

	f.svc.Ingest(context.Background(), form, &rec)

	assert.Equal(t, []progress.Event{{Error: MsgUnauthorized}}, rec.Events())
	assert.Zero(t, form.fileCalls, "request body must not be read")
	f.assertScratchEmpty(t)
	f.store.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngest_NoFile(t *testing.T) {
	f := newFixture(t, engineer)
	var rec progress.Recorder

	f.svc.Ingest(context.Background(), LocalForm{}, &rec)

	assert.Equal(t, []progress.Event{{Error: MsgNoFile}}, rec.Events())
	f.assertScratchEmpty(t)
}

func TestIngest_UnreadableFile(t *testing.T) {
	f := newFixture(t, engineer)
	var rec progress.Recorder

	f.svc.Ingest(context.Background(), LocalForm{Path: "/nonexistent/upload.bin"}, &rec)

	assert.Equal(t, []progress.Event{{Error: MsgNoFile}}, rec.Events())
}

func TestIngest_InvalidParams(t *testing.T) {
	tests := []struct {
		name string
		form LocalForm
	}{
		{"folder too long", LocalForm{Folder: string(make([]byte, 201))}},
		{"backslash folder", LocalForm{Folder: `a\b`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, engineer)
			tt.form.Path = writeUpload(t, "a.png", []byte("png"))
			var rec progress.Recorder

			f.svc.Ingest(context.Background(), tt.form, &rec)

			assert.Equal(t, []progress.Event{{Error: MsgUploadFailed}}, rec.Events())
			f.assertScratchEmpty(t)
		})
	}
}

func TestIngest_Video(t *testing.T) {
	f := newFixture(t, engineer)
	src := writeUpload(t, "lecture.mov", []byte("original video bytes"))

	f.transcoder.On("Transcode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			dst := args.String(2)
			require.NoError(t, os.WriteFile(dst, []byte("small"), 0600))
			report := args.Get(3).(func(int))
			for _, pct := range []int{12, 55, 100} {
				report(pct)
			}
		}).
		Return(media.Result{BeforeSize: 20, AfterSize: 5}, nil)

	var uploaded []byte
	f.store.On("Upload", mock.Anything, mock.Anything, mock.MatchedBy(func(o storage.UploadOptions) bool {
		return o.ResourceType == storage.ResourceVideo &&
			o.Folder == DefaultFolder &&
			o.Filename == "lecture.mp4" &&
			o.ContentType == "video/mp4"
	})).
		Run(func(args mock.Arguments) {
			var err error
			uploaded, err = os.ReadFile(args.String(1))
			require.NoError(t, err)
		}).
		Return(descriptor(storage.ResourceVideo), nil)

	var rec progress.Recorder
	f.svc.Ingest(context.Background(), LocalForm{Path: src, ContentType: "video/quicktime", ResourceType: "video"}, &rec)

	events := rec.Events()
	assertWellFormed(t, events)
	assert.Equal(t, []progress.Status{
		progress.StatusUploading,
		progress.StatusCompressing,
		progress.StatusFinalizing,
		progress.StatusDone,
	}, statuses(events))

	var pcts []int
	for _, e := range events {
		if e.Status == progress.StatusCompressing {
			require.NotNil(t, e.Percent)
			pcts = append(pcts, *e.Percent)
		}
	}
	assert.Equal(t, []int{0, 12, 55, 100}, pcts)
	assert.True(t, slices.IsSorted(pcts))

	last := events[len(events)-1]
	require.NotNil(t, last.Result)
	assert.NotEmpty(t, last.Result.SecureURL)
	assert.Equal(t, []byte("small"), uploaded, "transcoded file is uploaded")

	f.assertMocks(t)
	f.assertScratchEmpty(t)
}

func TestIngest_VideoByContentType(t *testing.T) {
	f := newFixture(t, engineer)
	src := writeUpload(t, "clip.webm", []byte("webm"))

	f.transcoder.On("Transcode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(media.Result{}, &media.TranscodeError{Err: errors.New("exit status 1")})
	f.store.On("Upload", mock.Anything, mock.Anything, mock.MatchedBy(func(o storage.UploadOptions) bool {
		return o.ResourceType == storage.ResourceVideo
	})).Return(descriptor(storage.ResourceVideo), nil)

	var rec progress.Recorder
	f.svc.Ingest(context.Background(), LocalForm{Path: src, ContentType: "video/webm"}, &rec)

	assertWellFormed(t, rec.Events())
	f.assertMocks(t)
}

func TestIngest_TranscodeFailureFallsBack(t *testing.T) {
	f := newFixture(t, engineer)
	src := writeUpload(t, "talk.mp4", []byte("original video bytes"))

	f.transcoder.On("Transcode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			// a failed encoder may leave partial output behind
			require.NoError(t, os.WriteFile(args.String(2), []byte("partial"), 0600))
		}).
		Return(media.Result{}, &media.TranscodeError{Err: errors.New("executable file not found")})

	var uploaded []byte
	f.store.On("Upload", mock.Anything, mock.Anything, mock.MatchedBy(func(o storage.UploadOptions) bool {
		return o.Filename == "talk.mp4" && o.ContentType == "video/mp4"
	})).
		Run(func(args mock.Arguments) {
			uploaded, _ = os.ReadFile(args.String(1))
		}).
		Return(descriptor(storage.ResourceVideo), nil)

	var rec progress.Recorder
	f.svc.Ingest(context.Background(), LocalForm{Path: src, ContentType: "video/mp4", ResourceType: "video"}, &rec)

	events := rec.Events()
	assertWellFormed(t, events)
	assert.Equal(t, progress.StatusDone, events[len(events)-1].Status)
	assert.Equal(t, []progress.Status{
		progress.StatusUploading,
		progress.StatusCompressing,
		progress.StatusFinalizing,
		progress.StatusDone,
	}, statuses(events))
	assert.Equal(t, []byte("original video bytes"), uploaded)

	f.assertMocks(t)
	f.assertScratchEmpty(t)
}

func TestIngest_PDF(t *testing.T) {
	f := newFixture(t, engineer)
	src := writeUpload(t, "Annual Report.pdf", []byte("%PDF-1.7 a rather large original document"))

	f.compactor.On("Compact", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			require.NoError(t, os.WriteFile(args.String(2), []byte("%PDF-1.7 small"), 0600))
			report := args.Get(3).(func(string))
			report("Loading PDF...")
			report("Compressed 2.0 MB → 1.0 MB (50% smaller)")
		}).
		Return(media.Result{BeforeSize: 41, AfterSize: 14}, nil)

	var uploaded []byte
	f.store.On("Upload", mock.Anything, mock.Anything, mock.MatchedBy(func(o storage.UploadOptions) bool {
		return o.ResourceType == storage.ResourceImage && o.ContentType == "application/pdf" && o.Filename == "Annual Report.pdf"
	})).
		Run(func(args mock.Arguments) {
			uploaded, _ = os.ReadFile(args.String(1))
		}).
		Return(descriptor(storage.ResourceImage), nil)

	var rec progress.Recorder
	f.svc.Ingest(context.Background(), LocalForm{Path: src, ContentType: "application/pdf", Folder: "newsletters"}, &rec)

	events := rec.Events()
	assertWellFormed(t, events)
	assert.Equal(t, []progress.Status{
		progress.StatusUploading,
		progress.StatusCompressing,
		progress.StatusFinalizing,
		progress.StatusDone,
	}, statuses(events))

	var messages []string
	for _, e := range events {
		if e.Status == progress.StatusCompressing {
			assert.Nil(t, e.Percent, "PDF progress is message only")
			messages = append(messages, e.Message)
		}
	}
	assert.Equal(t, []string{"Compressing PDF...", "Loading PDF...", "Compressed 2.0 MB → 1.0 MB (50% smaller)"}, messages)
	assert.Equal(t, []byte("%PDF-1.7 small"), uploaded)

	f.store.AssertCalled(t, "Upload", mock.Anything, mock.Anything, mock.MatchedBy(func(o storage.UploadOptions) bool {
		return o.Folder == "newsletters"
	}))
	f.assertMocks(t)
	f.assertScratchEmpty(t)
}

func TestIngest_PDFNotSmallerKeepsOriginal(t *testing.T) {
	f := newFixture(t, engineer)
	original := []byte("%PDF-1.4 tiny")
	src := writeUpload(t, "memo.pdf", original)

	f.compactor.On("Compact", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			require.NoError(t, os.WriteFile(args.String(2), []byte("%PDF-1.4 tiny but larger"), 0600))
		}).
		Return(media.Result{BeforeSize: 13, AfterSize: 24}, nil)

	var uploaded []byte
	f.store.On("Upload", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			uploaded, _ = os.ReadFile(args.String(1))
		}).
		Return(descriptor(storage.ResourceImage), nil)

	var rec progress.Recorder
	f.svc.Ingest(context.Background(), LocalForm{Path: src, ContentType: "application/pdf"}, &rec)

	assertWellFormed(t, rec.Events())
	assert.Equal(t, original, uploaded)
	f.assertScratchEmpty(t)
}

func TestIngest_CompactionFailureFallsBack(t *testing.T) {
	f := newFixture(t, engineer)
	src := writeUpload(t, "broken.pdf", []byte("not really a pdf"))

	f.compactor.On("Compact", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(media.Result{}, errors.New("compaction failed"))
	f.store.On("Upload", mock.Anything, mock.Anything, mock.MatchedBy(func(o storage.UploadOptions) bool {
		return o.ResourceType == storage.ResourceImage
	})).Return(descriptor(storage.ResourceImage), nil)

	var rec progress.Recorder
	// no declared type: the extension decides
	f.svc.Ingest(context.Background(), LocalForm{Path: src}, &rec)

	events := rec.Events()
	assertWellFormed(t, events)
	assert.Equal(t, progress.StatusDone, events[len(events)-1].Status)
	f.assertMocks(t)
	f.assertScratchEmpty(t)
}

func TestIngest_SniffsContentType(t *testing.T) {
	f := newFixture(t, engineer)
	src := writeUpload(t, "scan.bin", []byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n<<>>\nendobj\n"))

	f.compactor.On("Compact", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(media.Result{}, errors.New("compaction failed"))
	f.store.On("Upload", mock.Anything, mock.Anything, mock.MatchedBy(func(o storage.UploadOptions) bool {
		return o.ResourceType == storage.ResourceImage && o.ContentType == "application/pdf"
	})).Return(descriptor(storage.ResourceImage), nil)

	var rec progress.Recorder
	f.svc.Ingest(context.Background(), LocalForm{Path: src, ContentType: "application/octet-stream"}, &rec)

	assertWellFormed(t, rec.Events())
	f.assertMocks(t)
}

func TestIngest_Passthrough(t *testing.T) {
	f := newFixture(t, engineer)
	src := writeUpload(t, "logo.png", []byte("\x89PNG\r\n\x1a\nfake"))

	f.store.On("Upload", mock.Anything, mock.Anything, mock.MatchedBy(func(o storage.UploadOptions) bool {
		return o.ResourceType == storage.ResourceAuto && o.Filename == "logo.png" && o.ContentType == "image/png"
	})).Return(descriptor(storage.ResourceAuto), nil)

	var rec progress.Recorder
	f.svc.Ingest(context.Background(), LocalForm{Path: src, ContentType: "image/png", ResourceType: "image"}, &rec)

	events := rec.Events()
	assertWellFormed(t, events)
	assert.Equal(t, []progress.Status{
		progress.StatusUploading,
		progress.StatusProcessing,
		progress.StatusFinalizing,
		progress.StatusDone,
	}, statuses(events))
	f.transcoder.AssertNotCalled(t, "Transcode", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.compactor.AssertNotCalled(t, "Compact", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.assertScratchEmpty(t)
}

func TestIngest_UnknownResourceTypeFallsBackToAuto(t *testing.T) {
	f := newFixture(t, engineer)
	src := writeUpload(t, "notes.txt", []byte("minutes"))

	f.store.On("Upload", mock.Anything, mock.Anything, mock.MatchedBy(func(o storage.UploadOptions) bool {
		return o.ResourceType == storage.ResourceAuto && o.Folder == DefaultFolder
	})).Return(descriptor(storage.ResourceAuto), nil)

	var rec progress.Recorder
	f.svc.Ingest(context.Background(), LocalForm{Path: src, ContentType: "text/plain", ResourceType: "Audio"}, &rec)

	events := rec.Events()
	assertWellFormed(t, events)
	assert.Equal(t, progress.StatusDone, events[len(events)-1].Status)
	f.assertMocks(t)
	f.assertScratchEmpty(t)
}

func TestIngest_StoreFailure(t *testing.T) {
	f := newFixture(t, engineer)
	src := writeUpload(t, "notes.txt", []byte("hello"))

	f.store.On("Upload", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("upload to S3: AccessDenied: secret bucket detail"))

	var rec progress.Recorder
	f.svc.Ingest(context.Background(), LocalForm{Path: src, ContentType: "text/plain"}, &rec)

	events := rec.Events()
	assertWellFormed(t, events)
	assert.Equal(t, progress.Event{Error: MsgUploadFailed}, events[len(events)-1])
	for _, e := range events {
		assert.NotContains(t, e.Message, "secret bucket detail")
	}
	f.assertScratchEmpty(t)
}

func TestIngest_PanicBecomesUploadFailed(t *testing.T) {
	f := newFixture(t, engineer)
	src := writeUpload(t, "notes.txt", []byte("hello"))

	f.store.On("Upload", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("nil map") }).
		Return(nil, nil)

	var rec progress.Recorder
	assert.NotPanics(t, func() {
		f.svc.Ingest(context.Background(), LocalForm{Path: src, ContentType: "text/plain"}, &rec)
	})

	events := rec.Events()
	assertWellFormed(t, events)
	assert.Equal(t, MsgUploadFailed, events[len(events)-1].Error)
	f.assertScratchEmpty(t)
}

func TestIngest_CancelledContext(t *testing.T) {
	f := newFixture(t, engineer)
	src := writeUpload(t, "notes.txt", []byte("hello"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var rec progress.Recorder
	f.svc.Ingest(ctx, LocalForm{Path: src, ContentType: "text/plain"}, &rec)

	assert.Equal(t, []progress.Event{{Error: MsgUploadFailed}}, rec.Events())
	f.assertScratchEmpty(t)
}

func TestIngest_StreamEmitterGuardsTerminal(t *testing.T) {
	f := newFixture(t, engineer)
	src := writeUpload(t, "notes.txt", []byte("hello"))

	f.store.On("Upload", mock.Anything, mock.Anything, mock.Anything).
		Return(descriptor(storage.ResourceAuto), nil)

	var rec progress.Recorder
	em := progress.NewEmitter(io.Discard, nil)
	f.svc.Ingest(context.Background(), LocalForm{Path: src}, progress.Tee{em, &rec})

	assert.True(t, em.Closed())
	assertWellFormed(t, rec.Events())
}

func TestIngest_ConcurrentRequests(t *testing.T) {
	f := newFixture(t, engineer)
	f.store.On("Upload", mock.Anything, mock.Anything, mock.Anything).
		Return(descriptor(storage.ResourceAuto), nil)

	const n = 8
	done := make(chan []progress.Event, n)
	for i := 0; i < n; i++ {
		src := writeUpload(t, "same-name.txt", []byte("payload"))
		go func() {
			var rec progress.Recorder
			f.svc.Ingest(context.Background(), LocalForm{Path: src, ContentType: "text/plain"}, &rec)
			done <- rec.Events()
		}()
	}

	for i := 0; i < n; i++ {
		events := <-done
		assertWellFormed(t, events)
		assert.Equal(t, progress.StatusDone, events[len(events)-1].Status)
	}
	f.store.AssertNumberOfCalls(t, "Upload", n)
	f.assertScratchEmpty(t)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		resourceType string
		contentType  string
		filename     string
		want         kind
	}{
		{"video hint", "video", "application/octet-stream", "a.bin", kindVideo},
		{"video mime", "auto", "video/mp4", "a.mp4", kindVideo},
		{"pdf mime", "auto", "application/pdf", "a", kindPDF},
		{"pdf extension", "raw", "application/octet-stream", "A.PDF", kindPDF},
		{"image", "image", "image/jpeg", "a.jpg", kindOther},
		{"text", "auto", "text/plain", "a.txt", kindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.resourceType, tt.contentType, tt.filename))
		})
	}
}

func TestStoreResourceType(t *testing.T) {
	assert.Equal(t, storage.ResourceVideo, storeResourceType(kindVideo))
	assert.Equal(t, storage.ResourceImage, storeResourceType(kindPDF))
	assert.Equal(t, storage.ResourceAuto, storeResourceType(kindOther))
}

func TestMediaType(t *testing.T) {
	assert.Equal(t, "text/plain", mediaType("Text/Plain; charset=utf-8"))
	assert.Equal(t, "", mediaType("  "))
}
