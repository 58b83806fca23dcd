package synthesis

import (
	"fmt"
	"strings"
)

// ValidationError describes one rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is the ordered list of everything wrong with a request.
// It blocks submission entirely; nothing reaches the network while non-empty.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, ve := range e {
		msgs = append(msgs, ve.Error())
	}
	return "invalid request: " + strings.Join(msgs, "; ")
}

// NetworkError wraps a transport-level failure where no response was obtained.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError carries a non-success status code and the server-supplied detail.
type HTTPError struct {
	StatusCode int
	Detail     string
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("server returned %d", e.StatusCode)
}

// StreamParseError reports one malformed event message. It is recoverable;
// the decoder passes the raw text through and keeps reading.
type StreamParseError struct {
	Payload string
	Err     error
}

func (e *StreamParseError) Error() string {
	return fmt.Sprintf("undecodable stream event: %v", e.Err)
}

func (e *StreamParseError) Unwrap() error { return e.Err }
