package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// DefaultKeepAliveInterval is how often an idle SSE stream receives a comment line
const DefaultKeepAliveInterval = 25 * time.Second

// ErrStreamingUnsupported is returned when the response writer cannot flush
var ErrStreamingUnsupported = errors.New("streaming unsupported")

// SetSSEHeaders writes the response headers for an event stream
func SetSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// ServeSSE writes every event queued in outbox as a "data:" frame until ctx is done
// or the outbox closes. Idle streams get a keep-alive comment every keepAlive.
// It returns nil when ctx ends and the outbox's close reason otherwise.
func ServeSSE(ctx context.Context, w http.ResponseWriter, outbox *Outbox, keepAlive time.Duration) error {
	rc := http.NewResponseController(w)

	// The stream outlives the server read and write timeouts
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("failed to clear write deadline: %w", err)
	}
	if err := rc.SetReadDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("failed to clear read deadline: %w", err)
	}

	SetSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrStreamingUnsupported, err)
	}

	if keepAlive <= 0 {
		keepAlive = DefaultKeepAliveInterval
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case ev := <-outbox.Events():
			if _, err := fmt.Fprintf(w, "data: %s\n\n", ev.Data); err != nil {
				return fmt.Errorf("failed to write event: %w", err)
			}
			if err := rc.Flush(); err != nil {
				return fmt.Errorf("failed to flush event: %w", err)
			}
			ticker.Reset(keepAlive)
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return fmt.Errorf("failed to write keep-alive: %w", err)
			}
			if err := rc.Flush(); err != nil {
				return fmt.Errorf("failed to flush keep-alive: %w", err)
			}
		case <-outbox.Done():
			return outbox.Err()
		case <-ctx.Done():
			return nil
		}
	}
}
