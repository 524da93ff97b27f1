package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NewTracerProvider builds the span pipeline described by cfg, registers it globally
// and installs the W3C trace context propagator. Without tracing enabled the result is a no-op.
// The caller shuts the returned provider down.
func NewTracerProvider(ctx context.Context, cfg *Config, opts ...ExportOption) (trace.TracerProvider, error) {
	if !cfg.TracingEnabled() {
		slog.Info("Tracing disabled, using no-op tracer provider")
		return noop.NewTracerProvider(), nil
	}
	o := applyExportOptions(opts)

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	exporter := o.spanExporter
	if exporter == nil {
		exporter, err = otlpSpanExporter(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	// Child spans follow the sampling decision of an incoming traceparent
	sampling := cfg.Tracing.GetSampling()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampling))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	slog.Info("Tracing initialized",
		"endpoint", cfg.GetEndpoint(),
		"sampling_ratio", sampling,
		"insecure", cfg.Insecure,
	)
	return tp, nil
}

func otlpSpanExporter(ctx context.Context, cfg *Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.GetEndpoint())}
	if cfg.Insecure {
		slog.Warn("Tracing over unencrypted HTTP; use only in development")
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}
	return exporter, nil
}
