package progress

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Emitter writes progress events for a single request.
type Emitter interface {
	// Emit writes e. Write failures are handled by the emitter and never
	// reported to the caller.
	Emit(e Event)
}

// Compile-time checks.
var (
	_ Emitter = (*StreamEmitter)(nil)
	_ Emitter = (*Recorder)(nil)
)

// StreamEmitter encodes events as NDJSON onto an io.Writer and flushes after
// each one. Once a terminal event has been written, later events are dropped.
type StreamEmitter struct {
	mu           sync.Mutex
	w            io.Writer
	rc           *http.ResponseController
	writeTimeout time.Duration
	logger       *slog.Logger
	closed       bool
	failures     int
}

// EmitterOption configures a StreamEmitter.
type EmitterOption func(*StreamEmitter)

// WithWriteTimeout bounds how long a single write may block on a slow client.
// It only applies when the writer is an http.ResponseWriter.
func WithWriteTimeout(d time.Duration) EmitterOption {
	return func(e *StreamEmitter) {
		e.writeTimeout = d
	}
}

// NewEmitter creates a StreamEmitter writing to w.
func NewEmitter(w io.Writer, logger *slog.Logger, opts ...EmitterOption) *StreamEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	e := &StreamEmitter{
		w:      w,
		logger: logger,
	}
	if rw, ok := w.(http.ResponseWriter); ok {
		e.rc = http.NewResponseController(rw)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit implements Emitter.
func (e *StreamEmitter) Emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		e.logger.Warn("dropping event after terminal event",
			slog.String("status", string(ev.Status)),
			slog.String("error", ev.Error),
		)
		return
	}
	if ev.Terminal() {
		e.closed = true
	}

	if e.rc != nil && e.writeTimeout > 0 {
		// Not every ResponseWriter supports deadlines; the write still goes ahead.
		_ = e.rc.SetWriteDeadline(time.Now().Add(e.writeTimeout))
		// The deadline covers this write only; the pipeline may stay silent
		// for longer between events.
		defer func() { _ = e.rc.SetWriteDeadline(time.Time{}) }()
	}

	// One failed write must not stop later ones.
	line, err := json.Marshal(ev)
	if err == nil {
		_, err = e.w.Write(append(line, '\n'))
	}
	if err != nil {
		e.failures++
		e.logger.Warn("failed to write progress event",
			slog.String("status", string(ev.Status)),
			slog.Int("failures", e.failures),
			slog.String("error", err.Error()),
		)
		return
	}

	e.flush()
}

func (e *StreamEmitter) flush() {
	if e.rc != nil {
		if err := e.rc.Flush(); err != nil {
			e.logger.Debug("flush failed", slog.String("error", err.Error()))
		}
		return
	}
	if f, ok := e.w.(http.Flusher); ok {
		f.Flush()
	}
}

// Closed reports whether a terminal event has been emitted.
func (e *StreamEmitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Failures returns the number of writes that failed.
func (e *StreamEmitter) Failures() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures
}

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Emitter.
func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything emitted so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Last returns the most recent event, if any.
func (r *Recorder) Last() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}, false
	}
	return r.events[len(r.events)-1], true
}

// Tee fans every event out to several emitters in order.
type Tee []Emitter

// Emit implements Emitter.
func (t Tee) Emit(ev Event) {
	for _, em := range t {
		em.Emit(ev)
	}
}
