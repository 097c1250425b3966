package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SSEWriter writes events as server-sent event frames.
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSSEWriter wraps w. Flushing is skipped when w cannot flush.
func NewSSEWriter(w io.Writer) *SSEWriter {
	f, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: f}
}

// PrepareHeaders sets the headers of an event-stream response.
func PrepareHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Write sends one event frame.
func (s *SSEWriter) Write(e Event) error {
	payload, err := e.Payload()
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", e.Type, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", e.Type, payload); err != nil {
		return err
	}
	s.flush()
	return nil
}

// Ping writes a comment frame to keep intermediaries from closing the connection.
func (s *SSEWriter) Ping() error {
	if _, err := io.WriteString(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *SSEWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// Pump drains events into w until the channel closes, a terminal event is
// written, ctx is cancelled (subscriber disconnect), or a write fails.
func Pump(ctx context.Context, events <-chan Event, w *SSEWriter, heartbeat time.Duration) error {
	var tick <-chan time.Time
	if heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			if err := w.Ping(); err != nil {
				return err
			}
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if err := w.Write(e); err != nil {
				return err
			}
			if e.Type.IsTerminal() {
				return nil
			}
		}
	}
}
