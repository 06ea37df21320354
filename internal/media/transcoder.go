// Package media provides video transcoding for uploaded media.
package media

import (
	"context"
	"errors"
	"fmt"
)

// ErrTranscode is matched by every error a Transcoder returns.
var ErrTranscode = errors.New("transcode failed")

// Transcoder shrinks video files.
type Transcoder interface {
	// Transcode re-encodes src into dst. onProgress, when non-nil, receives
	// integer percentages in non-decreasing order; not every value is reported.
	Transcode(ctx context.Context, src, dst string, onProgress func(percent int)) (Result, error)
}

// Result describes the output of a transform step.
type Result struct {
	// Path is the transformed file.
	Path string
	// BeforeSize is the input size in bytes.
	BeforeSize int64
	// AfterSize is the output size in bytes.
	AfterSize int64
}

// Reduction returns how much smaller the output is, in percent of the input.
// It is negative when the output grew.
func (r Result) Reduction() float64 {
	if r.BeforeSize <= 0 {
		return 0
	}
	return float64(r.BeforeSize-r.AfterSize) * 100 / float64(r.BeforeSize)
}

// TranscodeError represents a failed encoder run, including its stderr output.
type TranscodeError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *TranscodeError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("transcode error: %v", e.Err)
	}
	return fmt.Sprintf("transcode error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *TranscodeError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrTranscode.
func (e *TranscodeError) Is(target error) bool {
	return target == ErrTranscode
}
