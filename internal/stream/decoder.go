// Package stream decodes server-sent event bodies into job updates.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/Mysticmarks/bark/internal/synthesis"
	"github.com/Mysticmarks/bark/internal/telemetry"
)

// dataMarker prefixes the payload line inside each event message.
var dataMarker = []byte("data:")

// Sink receives decoded events strictly in arrival order. The decoder calls
// it synchronously, so the sink returns before the next message is parsed.
type Sink func(synthesis.StreamEvent)

// Decoder turns an arbitrarily-chunked event stream into discrete payloads.
// It owns the reader for the duration of one Run call and is one-shot: a new
// submission needs a new decoder.
type Decoder struct {
	body io.ReadCloser
	buf  []byte
	ran  bool
	log  zerolog.Logger
}

// NewDecoder wraps a response body. The decoder takes ownership of body and
// closes it when Run returns.
func NewDecoder(body io.ReadCloser, logger zerolog.Logger) *Decoder {
	return &Decoder{body: body, log: logger}
}

// Run reads the stream to completion, emitting each event to sink in order.
// It returns nil on a clean end of stream and ctx.Err() when cancelled; in
// both cases the underlying reader has been released. Malformed individual
// messages are passed through as raw events, never treated as fatal.
func (d *Decoder) Run(ctx context.Context, sink Sink) error {
	if d.ran {
		return errors.New("stream: decoder is one-shot; Run called twice")
	}
	d.ran = true

	// Unblock a pending Read when the caller cancels.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = d.body.Close()
		case <-watchDone:
		}
	}()
	defer d.body.Close()

	chunk := make([]byte, 4096)
	for {
		n, err := d.body.Read(chunk)
		if n > 0 {
			// Message boundaries are ASCII newlines, which never land inside
			// a multi-byte UTF-8 sequence, so a rune split across reads is
			// carried forward in the buffer rather than corrupted.
			d.buf = append(d.buf, chunk[:n]...)
			d.drain(sink)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				d.flush(sink)
				return nil
			}
			return fmt.Errorf("stream: read: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// drain emits every complete message currently buffered and retains the
// trailing incomplete fragment for the next read.
func (d *Decoder) drain(sink Sink) {
	for {
		idx, skip := boundary(d.buf)
		if idx < 0 {
			return
		}
		message := d.buf[:idx]
		d.buf = d.buf[idx+skip:]
		d.emit(message, sink)
	}
}

// flush handles a final message the stream ended without terminating.
func (d *Decoder) flush(sink Sink) {
	if len(bytes.TrimSpace(d.buf)) == 0 {
		d.buf = nil
		return
	}
	d.emit(d.buf, sink)
	d.buf = nil
}

func (d *Decoder) emit(message []byte, sink Sink) {
	payload, ok := extractData(message)
	if !ok {
		return
	}

	update, err := synthesis.DecodeUpdate(payload)
	if err != nil {
		telemetry.StreamParseErrors.Inc()
		d.log.Warn().Err(err).Msg("stream: passing undecodable event through raw")
		sink(synthesis.StreamEvent{Raw: string(payload)})
		return
	}
	telemetry.StreamEventsTotal.Inc()
	sink(synthesis.StreamEvent{Update: update})
}

// boundary locates the blank-line message terminator, tolerating CRLF line
// endings. It returns the message end index and the terminator width, or
// (-1, 0) when no complete message is buffered.
func boundary(buf []byte) (int, int) {
	lf := bytes.Index(buf, []byte("\n\n"))
	crlf := bytes.Index(buf, []byte("\r\n\r\n"))
	switch {
	case lf < 0 && crlf < 0:
		return -1, 0
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf, 4
	default:
		return lf, 2
	}
}

// extractData returns the payload of the first data line in a message.
func extractData(message []byte) ([]byte, bool) {
	for _, line := range bytes.Split(message, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if !bytes.HasPrefix(line, dataMarker) {
			continue
		}
		return bytes.TrimSpace(bytes.TrimPrefix(line, dataMarker)), true
	}
	return nil, false
}
