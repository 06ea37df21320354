package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultLargeThreshold is the input size above which the stricter bitrate cap applies.
const DefaultLargeThreshold int64 = 100 << 20

// ErrFFprobeExecution is returned when ffprobe command fails.
var ErrFFprobeExecution = errors.New("ffprobe execution failed")

// Compile-time check that FFmpegTranscoder implements Transcoder.
var _ Transcoder = (*FFmpegTranscoder)(nil)

// EncodePolicy holds the encoder settings chosen for one input.
type EncodePolicy struct {
	Preset  string
	CRF     int
	MaxRate string
	BufSize string
	Large   bool
}

var (
	smallPolicy = EncodePolicy{Preset: "fast", CRF: 28, MaxRate: "2M", BufSize: "4M"}
	largePolicy = EncodePolicy{Preset: "fast", CRF: 28, MaxRate: "1M", BufSize: "2M", Large: true}
)

// FFmpegTranscoder implements Transcoder using the ffmpeg CLI.
type FFmpegTranscoder struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath    string
	largeThreshold int64
}

// Option configures an FFmpegTranscoder.
type Option func(*FFmpegTranscoder)

// WithFFprobePath sets the ffprobe binary used to read input durations.
func WithFFprobePath(path string) Option {
	return func(t *FFmpegTranscoder) {
		if path != "" {
			t.ffprobePath = path
		}
	}
}

// WithLargeThreshold sets the input size above which the stricter cap applies.
func WithLargeThreshold(n int64) Option {
	return func(t *FFmpegTranscoder) {
		if n > 0 {
			t.largeThreshold = n
		}
	}
}

// NewFFmpegTranscoder creates a new FFmpegTranscoder.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegTranscoder(ffmpegPath string, opts ...Option) *FFmpegTranscoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	t := &FFmpegTranscoder{
		ffmpegPath:     ffmpegPath,
		ffprobePath:    "ffprobe",
		largeThreshold: DefaultLargeThreshold,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// PolicyFor returns the encoder settings for an input of size bytes.
func (t *FFmpegTranscoder) PolicyFor(size int64) EncodePolicy {
	if size > t.largeThreshold {
		return largePolicy
	}
	return smallPolicy
}

// Transcode re-encodes src to an H.264/AAC MP4 at dst with the moov atom at
// the front. Progress is derived from the input duration; if ffprobe cannot
// read it, only completion is reported.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, src, dst string, onProgress func(int)) (Result, error) {
	info, err := os.Stat(src)
	if err != nil {
		return Result{}, &TranscodeError{Err: fmt.Errorf("stat input: %w", err)}
	}

	policy := t.PolicyFor(info.Size())

	// A missing duration only costs us intermediate progress.
	duration, _ := t.probeDuration(ctx, src)

	args := encodeArgs(src, dst, policy)
	if err := t.runFFmpeg(ctx, args, newProgressTracker(duration, onProgress)); err != nil {
		_ = os.Remove(dst)
		return Result{}, err
	}

	out, err := os.Stat(dst)
	if err != nil {
		return Result{}, &TranscodeError{Args: args, Err: fmt.Errorf("stat output: %w", err)}
	}

	return Result{
		Path:       dst,
		BeforeSize: info.Size(),
		AfterSize:  out.Size(),
	}, nil
}

// encodeArgs builds the ffmpeg argument list for one transcode.
func encodeArgs(src, dst string, p EncodePolicy) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-y",      // Overwrite output file without asking
		"-i", src, // Input file
		"-c:v", "libx264", // Video codec
		"-preset", p.Preset, // Encoding speed preset
		"-crf", fmt.Sprint(p.CRF), // Quality target
		"-maxrate", p.MaxRate, // Bitrate cap
		"-bufsize", p.BufSize, // Rate control buffer
		"-pix_fmt", "yuv420p", // Pixel format for compatibility
		"-c:a", "aac", // Audio codec
		"-b:a", "128k", // Audio bitrate
		"-movflags", "+faststart", // moov atom first for progressive playback
		"-progress", "pipe:1", // key=value progress on stdout
		"-f", "mp4",
		dst,
	}
}

// runFFmpeg executes ffmpeg, feeding stdout to the progress tracker, and
// returns a TranscodeError containing stderr output if the command fails.
func (t *FFmpegTranscoder) runFFmpeg(ctx context.Context, args []string, tracker *progressTracker) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &TranscodeError{Args: args, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &TranscodeError{Args: args, Err: err}
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		tracker.line(scanner.Text())
	}
	// Keep the pipe drained if the scanner gave up on an oversized line.
	_, _ = io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		// Check if context was cancelled
		if ctx.Err() != nil {
			return &TranscodeError{Args: args, Err: fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())}
		}
		return &TranscodeError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	tracker.update(100)
	return nil
}

// probeDuration returns the duration of a media file using ffprobe.
func (t *FFmpegTranscoder) probeDuration(ctx context.Context, path string) (time.Duration, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, t.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	var seconds float64
	if _, err := fmt.Sscanf(strings.TrimSpace(stdout.String()), "%f", &seconds); err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}

	return time.Duration(seconds * float64(time.Second)), nil
}
