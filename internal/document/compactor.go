// Package document recompresses uploaded PDF documents.
package document

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/airc/media-ingest/internal/media"
)

// Compaction stages, reported in CompactionError.Stage.
const (
	StageLoad     = "load"
	StageOptimize = "optimize"
	StageVerify   = "verify"
)

var (
	// ErrCompaction is matched by every error a Compactor returns.
	ErrCompaction = errors.New("compaction failed")
	// ErrPageCountMismatch is returned when the rewritten document lost or gained pages.
	ErrPageCountMismatch = errors.New("page count changed during compaction")
)

// Compactor rewrites documents to reduce their size.
type Compactor interface {
	// Compact writes a recompressed copy of src to dst. onProgress, when
	// non-nil, receives human-readable status messages.
	Compact(ctx context.Context, src, dst string, onProgress func(message string)) (media.Result, error)
}

// CompactionError wraps a failure in one stage of compaction.
type CompactionError struct {
	Stage string
	Err   error
}

func (e *CompactionError) Error() string {
	return fmt.Sprintf("compaction error (%s): %v", e.Stage, e.Err)
}

func (e *CompactionError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrCompaction.
func (e *CompactionError) Is(target error) bool {
	return target == ErrCompaction
}

// Compile-time check that PDFCompactor implements Compactor.
var _ Compactor = (*PDFCompactor)(nil)

// PDFCompactor rewrites PDFs with object streams and cross-reference streams.
// Pages are never added or removed; the result is reopened and its page
// count compared with the input before it is accepted.
type PDFCompactor struct{}

// NewPDFCompactor creates a PDFCompactor.
func NewPDFCompactor() *PDFCompactor {
	api.DisableConfigDir()
	return &PDFCompactor{}
}

// configuration uses relaxed validation so slightly malformed documents
// produced by office suites still load. pdfcpu mutates the configuration
// while it runs, so every call gets its own.
func configuration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	conf.WriteObjectStream = true
	conf.WriteXRefStream = true
	return conf
}

// Compact implements Compactor.
func (c *PDFCompactor) Compact(ctx context.Context, src, dst string, onProgress func(string)) (media.Result, error) {
	report := func(msg string) {
		if onProgress != nil {
			onProgress(msg)
		}
	}

	info, err := os.Stat(src)
	if err != nil {
		return media.Result{}, &CompactionError{Stage: StageLoad, Err: err}
	}

	report("Loading PDF...")
	pages, err := pageCount(src)
	if err != nil {
		return media.Result{}, &CompactionError{Stage: StageLoad, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return media.Result{}, &CompactionError{Stage: StageOptimize, Err: err}
	}

	report("Optimizing document structure...")
	if err := api.OptimizeFile(src, dst, configuration()); err != nil {
		_ = os.Remove(dst)
		return media.Result{}, &CompactionError{Stage: StageOptimize, Err: err}
	}

	report("Verifying compressed PDF...")
	after, err := pageCount(dst)
	if err == nil && after != pages {
		err = fmt.Errorf("%w: %d before, %d after", ErrPageCountMismatch, pages, after)
	}
	if err != nil {
		_ = os.Remove(dst)
		return media.Result{}, &CompactionError{Stage: StageVerify, Err: err}
	}

	out, err := os.Stat(dst)
	if err != nil {
		return media.Result{}, &CompactionError{Stage: StageVerify, Err: err}
	}

	res := media.Result{Path: dst, BeforeSize: info.Size(), AfterSize: out.Size()}
	report(summary(res))
	return res, nil
}

func summary(res media.Result) string {
	before := humanize.Bytes(uint64(res.BeforeSize))
	after := humanize.Bytes(uint64(res.AfterSize))
	if res.AfterSize >= res.BeforeSize {
		return fmt.Sprintf("Already optimized: %s → %s", before, after)
	}
	return fmt.Sprintf("Compressed %s → %s (%.0f%% smaller)", before, after, res.Reduction())
}

// pageCount opens path with an independent parser and counts its pages.
func pageCount(path string) (n int, err error) {
	// the parser panics on some truncated inputs
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse %s: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	return r.NumPage(), nil
}
