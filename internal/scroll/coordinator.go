// Package scroll applies client scroll updates to a user's session set: it fans out
// positions from the main window, handles leadership transfers and tells clients
// that have gone quiet that the main window is gone.
package scroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/scroll-sync-server/internal/otel"
	"github.com/stacklok/scroll-sync-server/internal/session"
	"github.com/stacklok/scroll-sync-server/internal/telemetry"
)

// DefaultHeartbeatTimeout is how long a client may stay silent before it is told
// that the main window is gone
const DefaultHeartbeatTimeout = 60 * time.Second

// Outcome describes what an applied update did
type Outcome string

const (
	// OutcomePosition means the main window's payload was broadcast
	OutcomePosition Outcome = "position"
	// OutcomeTransfer means the payload named a new main window and was broadcast
	OutcomeTransfer Outcome = "transfer"
	// OutcomeHeartbeat means only the sender's liveness was refreshed
	OutcomeHeartbeat Outcome = "heartbeat"
)

// Outcome labels recorded for rejected updates
const (
	outcomeNotRegistered = "not_registered"
	outcomeNoSessions    = "no_sessions"
)

// Coordinator is the entry point used by the transports
//
//go:generate mockgen -destination=mocks/mock_coordinator.go -package=mocks -source=coordinator.go Coordinator
type Coordinator interface {
	// Connect registers a client window and announces the current main window to it
	Connect(ctx context.Context, userID, clientID string, sender session.Sender) (session.Info, error)

	// Disconnect removes the session previously returned by Connect
	Disconnect(ctx context.Context, info session.Info)

	// ApplyUpdate applies one inbound client message
	ApplyUpdate(ctx context.Context, userID string, update Update) (Outcome, error)

	// Sweep notifies stale clients of every user and returns how many were notified
	Sweep(ctx context.Context) int

	// Sessions returns the user's sessions in connection order
	Sessions(userID string) []session.Info
}

// defaultCoordinator is the default implementation of Coordinator
type defaultCoordinator struct {
	registry         *session.Registry
	heartbeatTimeout time.Duration
	clock            func() time.Time

	metrics *telemetry.SyncMetrics
	tracer  trace.Tracer
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithHeartbeatTimeout sets how long a client may stay silent before it is considered stale
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(c *defaultCoordinator) {
		if d > 0 {
			c.heartbeatTimeout = d
		}
	}
}

// WithMetrics sets the sync metrics for the coordinator
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(c *defaultCoordinator) {
		c.metrics = m
	}
}

// WithTracer sets the tracer used for update spans
func WithTracer(t trace.Tracer) Option {
	return func(c *defaultCoordinator) {
		c.tracer = t
	}
}

// WithClock overrides the time source. Defaults to the registry clock.
func WithClock(clock func() time.Time) Option {
	return func(c *defaultCoordinator) {
		c.clock = clock
	}
}

// New creates a coordinator backed by registry
func New(registry *session.Registry, opts ...Option) Coordinator {
	c := &defaultCoordinator{
		registry:         registry,
		heartbeatTimeout: DefaultHeartbeatTimeout,
		clock:            registry.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Connect registers the client window for userID
func (c *defaultCoordinator) Connect(
	ctx context.Context,
	userID, clientID string,
	sender session.Sender,
) (session.Info, error) {
	return c.registry.Register(ctx, userID, clientID, sender)
}

// Disconnect unregisters the session. A session that is already gone is ignored.
func (c *defaultCoordinator) Disconnect(ctx context.Context, info session.Info) {
	err := c.registry.Unregister(ctx, info.UserID, info.ClientID, info.ConnID)
	if err != nil && !errors.Is(err, session.ErrNotRegistered) {
		slog.Warn("Failed to unregister client",
			"user_id", info.UserID,
			"client_id", info.ClientID,
			"error", err)
	}
}

// ApplyUpdate refreshes the sender's heartbeat and then, in order:
// a non-empty main field transfers leadership and is broadcast, a main window payload
// with fields beyond clientID is broadcast, anything else is a heartbeat.
// Stale clients are notified afterwards.
func (c *defaultCoordinator) ApplyUpdate(ctx context.Context, userID string, update Update) (Outcome, error) {
	ctx, span := otel.StartSpan(ctx, c.tracer, "scroll.ApplyUpdate",
		trace.WithAttributes(otel.AttrClientID.String(update.ClientID)),
	)
	defer span.End()

	outcome := OutcomeHeartbeat
	err := c.registry.Update(userID, func(set *session.Set) error {
		sender, ok := set.Find(update.ClientID)
		if !ok {
			return fmt.Errorf("%w: %s", session.ErrNotRegistered, update.ClientID)
		}

		now := c.clock()
		set.Touch(sender, now)

		if target, ok := update.TransferTarget(); ok {
			outcome = OutcomeTransfer
			span.SetAttributes(otel.AttrTransferTo.String(target))
			if next, found := set.Find(target); found {
				set.Promote(ctx, next, telemetry.LeaderReasonTransfer)
			} else {
				slog.Warn("Transfer target is not registered",
					"user_id", userID,
					"client_id", update.ClientID,
					"target", target)
			}
			set.Broadcast(ctx, session.PayloadEvent(session.KindTransfer, update.Payload))
		} else if sender.IsMain() && !update.IsHeartbeat() {
			outcome = OutcomePosition
			set.Broadcast(ctx, session.PayloadEvent(session.KindPosition, update.Payload))
		}

		stale := c.sweepSet(ctx, set, now)
		span.SetAttributes(
			otel.AttrSessionCount.Int(set.Len()),
			otel.AttrStaleCount.Int(stale),
		)
		return nil
	})
	if err != nil {
		rejected := rejectedOutcome(err)
		otel.SetOutcome(span, rejected, err)
		c.metrics.RecordUpdate(ctx, rejected)
		return "", err
	}

	otel.SetOutcome(span, string(outcome), nil)
	c.metrics.RecordUpdate(ctx, string(outcome))
	return outcome, nil
}

// Sweep runs the stale client check for every user
func (c *defaultCoordinator) Sweep(ctx context.Context) int {
	total := 0
	for _, userID := range c.registry.Users() {
		err := c.registry.Update(userID, func(set *session.Set) error {
			total += c.sweepSet(ctx, set, c.clock())
			return nil
		})
		if err != nil && !errors.Is(err, session.ErrNoActiveSessions) {
			slog.Warn("Failed to sweep user sessions", "user_id", userID, "error", err)
		}
	}
	return total
}

// Sessions returns the user's sessions
func (c *defaultCoordinator) Sessions(userID string) []session.Info {
	return c.registry.List(userID)
}

// sweepSet sends {"main":null} to every session silent for at least the heartbeat timeout.
// Stale sessions stay registered until their transport closes.
func (c *defaultCoordinator) sweepSet(ctx context.Context, set *session.Set, now time.Time) int {
	stale := 0
	for _, sess := range set.Sessions() {
		if now.Sub(sess.LastSeen()) < c.heartbeatTimeout {
			continue
		}
		stale++
		c.metrics.RecordStaleNotification(ctx)
		slog.Debug("Client heartbeat expired",
			"user_id", set.UserID(),
			"client_id", sess.ClientID(),
			"last_seen", sess.LastSeen())
		set.Send(ctx, sess, session.LeaderLostEvent())
	}
	return stale
}

func rejectedOutcome(err error) string {
	switch {
	case errors.Is(err, session.ErrNoActiveSessions):
		return outcomeNoSessions
	case errors.Is(err, session.ErrNotRegistered):
		return outcomeNotRegistered
	default:
		return "error"
	}
}
