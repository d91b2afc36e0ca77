package crawler

import (
	"time"

	"website-extractor/pkg/types"
)

// ProgressEvent describes one task reaching a terminal state.
type ProgressEvent struct {
	SessionID string          `json:"session_id,omitempty"`
	URL       string          `json:"url"`
	Kind      string          `json:"kind"`
	Depth     int             `json:"depth"`
	State     types.TaskState `json:"state"`
	Transport string          `json:"transport,omitempty"`
	Path      string          `json:"path,omitempty"`
	Bytes     int64           `json:"bytes,omitempty"`
	Error     string          `json:"error,omitempty"`
	Pending   int             `json:"pending"`
	Stats     types.Stats     `json:"stats"`
	Timestamp time.Time       `json:"timestamp"`
}

// ProgressSink receives progress events. Implementations must be safe for
// concurrent use and should not block.
type ProgressSink interface {
	Report(ProgressEvent)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(ProgressEvent)

// Report calls f(ev).
func (f ProgressFunc) Report(ev ProgressEvent) { f(ev) }
