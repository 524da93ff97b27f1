// Package telemetry provides OpenTelemetry instrumentation for the scroll sync server.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMetricsMeterName is the name used for the scroll sync metrics meter
const SyncMetricsMeterName = "github.com/stacklok/scroll-sync-server/sync"

// Leader change reasons recorded on the leader change counter
const (
	LeaderReasonRegister = "register"
	LeaderReasonFailover = "failover"
	LeaderReasonTransfer = "transfer"
)

// SyncMetrics holds the OpenTelemetry instruments for session and broadcast metrics.
// A nil *SyncMetrics is valid and records nothing.
type SyncMetrics struct {
	sessionsActive     metric.Int64UpDownCounter
	eventsTotal        metric.Int64Counter
	leaderChanges      metric.Int64Counter
	staleNotifications metric.Int64Counter
	updatesTotal       metric.Int64Counter
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	sessionsActive, err := meter.Int64UpDownCounter(
		"scroll_sync_sessions_active",
		metric.WithDescription("Number of currently registered client sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	eventsTotal, err := meter.Int64Counter(
		"scroll_sync_events_total",
		metric.WithDescription("Events pushed to client sessions, by kind and result"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	leaderChanges, err := meter.Int64Counter(
		"scroll_sync_leader_changes_total",
		metric.WithDescription("Main window assignments, by reason"),
		metric.WithUnit("{change}"),
	)
	if err != nil {
		return nil, err
	}

	staleNotifications, err := meter.Int64Counter(
		"scroll_sync_stale_notifications_total",
		metric.WithDescription("Leader-lost notifications sent to sessions with an expired heartbeat"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	updatesTotal, err := meter.Int64Counter(
		"scroll_sync_updates_total",
		metric.WithDescription("Inbound update requests, by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		sessionsActive:     sessionsActive,
		eventsTotal:        eventsTotal,
		leaderChanges:      leaderChanges,
		staleNotifications: staleNotifications,
		updatesTotal:       updatesTotal,
	}, nil
}

// RecordSessionOpened increments the active session gauge
func (m *SyncMetrics) RecordSessionOpened(ctx context.Context) {
	if m == nil || m.sessionsActive == nil {
		return
	}
	m.sessionsActive.Add(ctx, 1)
}

// RecordSessionClosed decrements the active session gauge
func (m *SyncMetrics) RecordSessionClosed(ctx context.Context) {
	if m == nil || m.sessionsActive == nil {
		return
	}
	m.sessionsActive.Add(ctx, -1)
}

// RecordEvent records one event push attempt
func (m *SyncMetrics) RecordEvent(ctx context.Context, kind string, delivered bool) {
	if m == nil || m.eventsTotal == nil {
		return
	}

	result := "delivered"
	if !delivered {
		result = "dropped"
	}

	m.eventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", result),
	))
}

// RecordLeaderChange records a main window assignment
func (m *SyncMetrics) RecordLeaderChange(ctx context.Context, reason string) {
	if m == nil || m.leaderChanges == nil {
		return
	}
	m.leaderChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordStaleNotification records a leader-lost notification sent by a heartbeat sweep
func (m *SyncMetrics) RecordStaleNotification(ctx context.Context) {
	if m == nil || m.staleNotifications == nil {
		return
	}
	m.staleNotifications.Add(ctx, 1)
}

// RecordUpdate records the outcome of an inbound update ("position", "transfer", "heartbeat", "not_registered", ...)
func (m *SyncMetrics) RecordUpdate(ctx context.Context, outcome string) {
	if m == nil || m.updatesTotal == nil {
		return
	}
	m.updatesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
