// Package stream implements the push transports for client windows: a bounded
// per-connection outbox and the Server-Sent Events and WebSocket writers that drain it.
package stream

import (
	"fmt"
	"sync"

	"github.com/stacklok/scroll-sync-server/internal/session"
)

// DefaultOutboxSize is the number of events buffered per connection
const DefaultOutboxSize = 64

// Outbox buffers events for a single connection. It implements session.Sender.
// A full outbox closes itself; the connection is then torn down by its writer.
type Outbox struct {
	events chan session.Event

	closeOnce sync.Once
	closed    chan struct{}
	reason    error
}

// NewOutbox creates an outbox holding up to size events
func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{
		events: make(chan session.Event, size),
		closed: make(chan struct{}),
	}
}

// Send queues ev without blocking
func (o *Outbox) Send(ev session.Event) error {
	select {
	case <-o.closed:
		return session.ErrTransportClosed
	default:
	}

	select {
	case o.events <- ev:
		return nil
	default:
		o.closeWith(fmt.Errorf("%w: outbox full", session.ErrTransportClosed))
		return o.reason
	}
}

// Events returns the channel the writer drains
func (o *Outbox) Events() <-chan session.Event {
	return o.events
}

// Done is closed once the outbox is closed
func (o *Outbox) Done() <-chan struct{} {
	return o.closed
}

// Close stops accepting events. It is safe to call more than once.
func (o *Outbox) Close() {
	o.closeWith(session.ErrTransportClosed)
}

// Err returns why the outbox was closed, or nil while it is open
func (o *Outbox) Err() error {
	select {
	case <-o.closed:
		return o.reason
	default:
		return nil
	}
}

func (o *Outbox) closeWith(reason error) {
	o.closeOnce.Do(func() {
		o.reason = reason
		close(o.closed)
	})
}
