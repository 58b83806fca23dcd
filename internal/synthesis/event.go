package synthesis

import (
	"encoding/json"
)

// JobUpdate is one job-shaped payload from the service: the buffered response,
// a streamed partial event, or a polled job document. Absent fields stay zero
// and are skipped by the registry's merge.
type JobUpdate struct {
	JobID     string            `json:"job_id"`
	Status    Status            `json:"status,omitempty"`
	Plan      *Plan             `json:"plan,omitempty"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
	Progress  *int              `json:"progress,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// StreamEvent is the tagged variant emitted by the stream decoder: a decoded
// update, or the raw payload text when decoding failed. Only the structured
// variant feeds the registry; the raw one is surfaced for logging.
type StreamEvent struct {
	Update *JobUpdate
	Raw    string
}

// Structured reports whether the event carries a decoded update.
func (e StreamEvent) Structured() bool { return e.Update != nil }

// DecodeUpdate parses one event payload. A failure is recoverable: callers
// fall back to the raw variant rather than aborting the stream.
func DecodeUpdate(payload []byte) (*JobUpdate, error) {
	var u JobUpdate
	if err := json.Unmarshal(payload, &u); err != nil {
		return nil, &StreamParseError{Payload: string(payload), Err: err}
	}
	return &u, nil
}
