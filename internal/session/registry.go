package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/scroll-sync-server/internal/telemetry"
)

// Registry owns every user's session set. The zero value is not usable; call NewRegistry.
type Registry struct {
	mu    sync.Mutex
	users map[string]*userEntry

	clock   func() time.Time
	newID   func() string
	metrics *telemetry.SyncMetrics
}

// userEntry guards a single user's Set. Once removed is set the entry has been
// dropped from the registry map and callers must look the user up again.
type userEntry struct {
	mu      sync.Mutex
	set     Set
	removed bool
}

// Option configures a Registry
type Option func(*Registry)

// WithClock overrides the time source
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		r.clock = clock
	}
}

// WithMetrics sets the sync metrics recorder
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		users: make(map[string]*userEntry),
		clock: time.Now,
		newID: uuid.NewString,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// lock returns the user's entry locked. With create set, a missing entry is created.
// It returns nil when the user has no entry and create is false.
func (r *Registry) lock(userID string, create bool) *userEntry {
	for {
		r.mu.Lock()
		entry, ok := r.users[userID]
		if !ok {
			if !create {
				r.mu.Unlock()
				return nil
			}
			entry = &userEntry{set: Set{userID: userID, metrics: r.metrics}}
			r.users[userID] = entry
		}
		r.mu.Unlock()

		entry.mu.Lock()
		if !entry.removed {
			return entry
		}
		// Lost a race with the removal of an empty set; look the user up again.
		entry.mu.Unlock()
	}
}

// release unlocks the entry, dropping it from the registry first if it is empty
func (r *Registry) release(userID string, entry *userEntry) {
	if entry.set.Len() == 0 {
		entry.removed = true
		r.mu.Lock()
		if r.users[userID] == entry {
			delete(r.users, userID)
		}
		r.mu.Unlock()
	}
	entry.mu.Unlock()
}

// Register adds a session for clientID. The first session of a user, or any session
// joining a user with no main window, becomes main. The new session is sent the
// current main window id before Register returns.
func (r *Registry) Register(ctx context.Context, userID, clientID string, sender Sender) (Info, error) {
	if clientID == "" {
		return Info{}, ErrMissingClientID
	}

	entry := r.lock(userID, true)
	defer r.release(userID, entry)

	set := &entry.set
	if _, ok := set.Find(clientID); ok {
		return Info{}, fmt.Errorf("%w: %s", ErrDuplicateClient, clientID)
	}

	now := r.clock()
	sess := &Session{
		userID:      userID,
		clientID:    clientID,
		connID:      r.newID(),
		connectedAt: now,
		lastSeen:    now,
		sender:      sender,
	}
	set.sessions = append(set.sessions, sess)
	r.metrics.RecordSessionOpened(ctx)

	if _, ok := set.Main(); !ok {
		set.Promote(ctx, sess, telemetry.LeaderReasonRegister)
	}

	main, _ := set.Main()
	set.Send(ctx, sess, LeaderEvent(main.clientID))

	slog.Info("Client connected",
		"user_id", userID,
		"client_id", clientID,
		"main", sess.isMain,
		"user_sessions", set.Len())

	return sess.Info(), nil
}

// Unregister removes the session for clientID. When connID is not empty the session is
// only removed if it is still backed by that connection. If no main window remains,
// the oldest remaining session is promoted and told so.
func (r *Registry) Unregister(ctx context.Context, userID, clientID, connID string) error {
	entry := r.lock(userID, false)
	if entry == nil {
		return fmt.Errorf("%w: %s", ErrNotRegistered, clientID)
	}
	defer r.release(userID, entry)

	set := &entry.set
	idx := -1
	for i, sess := range set.sessions {
		if sess.clientID == clientID && (connID == "" || sess.connID == connID) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotRegistered, clientID)
	}

	removed := set.remove(idx)
	r.metrics.RecordSessionClosed(ctx)

	slog.Info("Client disconnected",
		"user_id", userID,
		"client_id", clientID,
		"was_main", removed.isMain,
		"user_sessions", set.Len())

	if set.Len() == 0 {
		return nil
	}
	if _, ok := set.Main(); ok {
		return nil
	}

	next := set.sessions[0]
	set.Promote(ctx, next, telemetry.LeaderReasonFailover)
	set.Send(ctx, next, LeaderEvent(next.clientID))
	return nil
}

// Find returns a snapshot of the session registered under clientID
func (r *Registry) Find(userID, clientID string) (Info, error) {
	entry := r.lock(userID, false)
	if entry == nil {
		return Info{}, fmt.Errorf("%w: %s", ErrNotRegistered, clientID)
	}
	defer r.release(userID, entry)

	sess, ok := entry.set.Find(clientID)
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotRegistered, clientID)
	}
	return sess.Info(), nil
}

// List returns snapshots of the user's sessions in connection order
func (r *Registry) List(userID string) []Info {
	entry := r.lock(userID, false)
	if entry == nil {
		return []Info{}
	}
	defer r.release(userID, entry)

	return entry.set.infos()
}

// Update runs fn with the user's set locked so that it can inspect and change
// leadership and deliver events atomically with respect to every other operation
// on that user. It returns ErrNoActiveSessions if the user has no sessions.
func (r *Registry) Update(userID string, fn func(*Set) error) error {
	entry := r.lock(userID, false)
	if entry == nil {
		return ErrNoActiveSessions
	}
	defer r.release(userID, entry)

	if entry.set.Len() == 0 {
		return ErrNoActiveSessions
	}
	return fn(&entry.set)
}

// Users returns the ids of every user with at least one session, sorted
func (r *Registry) Users() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Now returns the registry's current time
func (r *Registry) Now() time.Time {
	return r.clock()
}
