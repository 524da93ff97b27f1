package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/stacklok/scroll-sync-server/internal/telemetry"
)

// Sender pushes events to one connected client.
// Send must not block; it returns ErrTransportClosed once the connection is gone.
//
//go:generate mockgen -destination=mocks/mock_sender.go -package=mocks -source=session.go Sender
type Sender interface {
	Send(ev Event) error
}

// Session is one connected client window. Its mutable fields are owned by the
// user's Set and may only be read or written while that Set is locked.
type Session struct {
	userID      string
	clientID    string
	connID      string
	connectedAt time.Time

	isMain   bool
	lastSeen time.Time
	sender   Sender
}

// ClientID returns the client supplied window id
func (s *Session) ClientID() string { return s.clientID }

// ConnID returns the server assigned id of the push connection backing this session
func (s *Session) ConnID() string { return s.connID }

// IsMain reports whether this session is the main window
func (s *Session) IsMain() bool { return s.isMain }

// LastSeen returns the time of the last inbound message attributed to this client
func (s *Session) LastSeen() time.Time { return s.lastSeen }

// Info returns a copy of the session state that is safe to use after the lock is released
func (s *Session) Info() Info {
	return Info{
		UserID:      s.userID,
		ClientID:    s.clientID,
		ConnID:      s.connID,
		IsMain:      s.isMain,
		ConnectedAt: s.connectedAt,
		LastSeen:    s.lastSeen,
	}
}

// Info is a point-in-time snapshot of a Session
type Info struct {
	UserID      string
	ClientID    string
	ConnID      string
	IsMain      bool
	ConnectedAt time.Time
	LastSeen    time.Time
}

// Set is the locked, ordered collection of one user's sessions.
// A *Set is only valid inside the callback that received it.
type Set struct {
	userID   string
	sessions []*Session
	metrics  *telemetry.SyncMetrics
}

// UserID returns the owning user id
func (s *Set) UserID() string { return s.userID }

// Len returns the number of sessions
func (s *Set) Len() int { return len(s.sessions) }

// Sessions returns the sessions in connection order. The slice must not be retained.
func (s *Set) Sessions() []*Session { return s.sessions }

// Find returns the session registered under clientID
func (s *Set) Find(clientID string) (*Session, bool) {
	for _, sess := range s.sessions {
		if sess.clientID == clientID {
			return sess, true
		}
	}
	return nil, false
}

// Main returns the current main session, if any
func (s *Set) Main() (*Session, bool) {
	for _, sess := range s.sessions {
		if sess.isMain {
			return sess, true
		}
	}
	return nil, false
}

// Promote makes target the main session and demotes every other session.
// It reports whether leadership actually changed.
func (s *Set) Promote(ctx context.Context, target *Session, reason string) bool {
	if target.isMain {
		return false
	}
	for _, sess := range s.sessions {
		sess.isMain = false
	}
	target.isMain = true
	s.metrics.RecordLeaderChange(ctx, reason)
	slog.Info("Main window changed",
		"user_id", s.userID,
		"client_id", target.clientID,
		"reason", reason)
	return true
}

// Touch refreshes the session's heartbeat timestamp
func (*Set) Touch(sess *Session, now time.Time) {
	sess.lastSeen = now
}

// Send delivers ev to a single session.
// A closed transport is logged and counted, never returned.
func (s *Set) Send(ctx context.Context, sess *Session, ev Event) bool {
	err := sess.sender.Send(ev)
	if err == nil {
		s.metrics.RecordEvent(ctx, string(ev.Kind), true)
		return true
	}

	s.metrics.RecordEvent(ctx, string(ev.Kind), false)
	if errors.Is(err, ErrTransportClosed) {
		slog.Debug("Dropping event for closed transport",
			"user_id", s.userID,
			"client_id", sess.clientID,
			"kind", ev.Kind)
	} else {
		slog.Warn("Failed to deliver event",
			"user_id", s.userID,
			"client_id", sess.clientID,
			"kind", ev.Kind,
			"error", err)
	}
	return false
}

// Broadcast delivers ev to every session in connection order and returns how many accepted it
func (s *Set) Broadcast(ctx context.Context, ev Event) int {
	delivered := 0
	for _, sess := range s.sessions {
		if s.Send(ctx, sess, ev) {
			delivered++
		}
	}
	return delivered
}

// infos snapshots every session
func (s *Set) infos() []Info {
	out := make([]Info, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Info())
	}
	return out
}

// remove drops the session at index i, keeping connection order
func (s *Set) remove(i int) *Session {
	removed := s.sessions[i]
	s.sessions = slices.Delete(s.sessions, i, i+1)
	return removed
}
