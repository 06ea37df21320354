// Package progress streams pipeline status to a client as newline-delimited JSON.
package progress

import "github.com/airc/media-ingest/internal/storage"

// Status is the stage a progress event reports.
type Status string

// Pipeline statuses, in the order they normally appear.
const (
	StatusUploading   Status = "uploading"
	StatusCompressing Status = "compressing"
	StatusProcessing  Status = "processing"
	StatusFinalizing  Status = "finalizing"
	StatusDone        Status = "done"
)

// Event is one line of the response stream. It is either a status update
// (Status set, optionally with Percent or Result) or a failure (Error set).
type Event struct {
	Status  Status              `json:"status,omitempty"`
	Message string              `json:"message,omitempty"`
	Percent *int                `json:"percent,omitempty"`
	Result  *storage.Descriptor `json:"result,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool {
	return e.Status == StatusDone || e.Error != ""
}

// Update returns a non-terminal event without a percentage.
func Update(status Status, message string) Event {
	return Event{Status: status, Message: message}
}

// Percent returns a non-terminal event carrying pct.
func Percent(status Status, message string, pct int) Event {
	return Event{Status: status, Message: message, Percent: &pct}
}

// Done returns the success event for a stored object.
func Done(d *storage.Descriptor) Event {
	return Event{Status: StatusDone, Message: "Upload complete", Result: d}
}

// Failure returns the error event with message.
func Failure(message string) Event {
	return Event{Error: message}
}
