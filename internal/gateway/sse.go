// Package gateway exposes the assistant over HTTP: compose and approval
// endpoints that stream Server-Sent Events, conversation CRUD handlers,
// and the retention janitor.
package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lorekeep/lorekeep/internal/observability"
	"github.com/lorekeep/lorekeep/pkg/models"
)

// Encoder writes stream events as Server-Sent Events frames. Each frame is
// an `event:` line naming the event type, a `data:` line carrying the JSON
// payload, and a blank line. Frames are flushed immediately so tokens reach
// the consumer as they are generated.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
}

// NewEncoder prepares a response writer for SSE output. Returns an error
// if the writer cannot flush incrementally.
func NewEncoder(w http.ResponseWriter) (*Encoder, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &Encoder{w: w, flusher: flusher}, nil
}

// WriteEvent writes one event frame and flushes it.
func (e *Encoder) WriteEvent(ev models.StreamEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// Heartbeat writes an SSE comment frame. Comments keep intermediaries from
// timing out idle streams, such as a stream paused on an approval.
func (e *Encoder) Heartbeat() error {
	if _, err := io.WriteString(e.w, ": ping\n\n"); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// Decoder reads SSE frames back into stream events. Malformed frames are
// skipped, logged, and counted rather than terminating the stream: one bad
// frame should not cost the consumer the rest of the cycle.
type Decoder struct {
	scanner *bufio.Scanner
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewDecoder creates a decoder over an SSE byte stream.
func NewDecoder(r io.Reader, logger *observability.Logger, metrics *observability.Metrics) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &Decoder{scanner: scanner, logger: logger, metrics: metrics}
}

// Next returns the next well-formed event, or io.EOF when the stream ends.
func (d *Decoder) Next() (*models.StreamEvent, error) {
	for {
		eventType, data, err := d.readFrame()
		if err != nil {
			return nil, err
		}

		if eventType == "" || data == "" {
			d.skip("bad_event", eventType)
			continue
		}

		var ev models.StreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			d.skip("bad_json", eventType)
			continue
		}
		if string(ev.Type) != eventType {
			d.skip("bad_event", eventType)
			continue
		}
		return &ev, nil
	}
}

// readFrame scans lines up to the next blank-line frame boundary.
func (d *Decoder) readFrame() (eventType, data string, err error) {
	sawLine := false
	for d.scanner.Scan() {
		line := d.scanner.Text()

		if line == "" {
			if sawLine {
				return eventType, data, nil
			}
			continue
		}
		sawLine = true

		switch {
		case strings.HasPrefix(line, ":"):
			// Comment frame (heartbeat). Resets the boundary so a lone
			// comment does not register as a malformed event.
			sawLine = false
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := d.scanner.Err(); err != nil {
		return "", "", err
	}
	if sawLine {
		// Stream ended mid-frame; treat whatever accumulated as a frame.
		return eventType, data, nil
	}
	return "", "", io.EOF
}

func (d *Decoder) skip(reason, eventType string) {
	if d.logger != nil {
		d.logger.Warn(context.Background(), "skipping malformed stream frame", "reason", reason, "event", eventType)
	}
	if d.metrics != nil {
		d.metrics.RecordMalformedFrame(reason)
	}
}
