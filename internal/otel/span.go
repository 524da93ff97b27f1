// Package otel provides OpenTelemetry span helpers shared by the scroll sync packages.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on scroll sync spans
const (
	AttrClientID      = attribute.Key("scroll.client_id")
	AttrTransferTo    = attribute.Key("scroll.transfer_target")
	AttrUpdateOutcome = attribute.Key("scroll.update.outcome")
	AttrSessionCount  = attribute.Key("scroll.session_count")
	AttrStaleCount    = attribute.Key("scroll.stale_count")
)

// StartSpan starts a span on tracer, or returns the span already in ctx when tracer is nil
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError marks span as failed. Nil spans and nil errors are ignored.
// The status text stays generic; the error itself is attached as a span event.
func RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "update rejected")
}

// SetOutcome tags an update span with how the update was handled and
// records err when the update was rejected
func SetOutcome(span trace.Span, outcome string, err error) {
	if span == nil {
		return
	}
	span.SetAttributes(AttrUpdateOutcome.String(outcome))
	RecordError(span, err)
}
