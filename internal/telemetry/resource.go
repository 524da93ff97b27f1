package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ExportOption overrides where the providers send their data
type ExportOption func(*exportOptions)

type exportOptions struct {
	spanExporter sdktrace.SpanExporter
	readers      []sdkmetric.Reader
	registerer   prometheus.Registerer
}

// WithSpanExporter replaces the OTLP span exporter
func WithSpanExporter(exporter sdktrace.SpanExporter) ExportOption {
	return func(o *exportOptions) {
		o.spanExporter = exporter
	}
}

// WithMetricReader replaces the periodic OTLP metric reader. May be repeated.
func WithMetricReader(reader sdkmetric.Reader) ExportOption {
	return func(o *exportOptions) {
		o.readers = append(o.readers, reader)
	}
}

// WithPrometheusRegisterer sets where the Prometheus exporter registers its collector.
// Without it the exporter uses the prometheus default registerer.
func WithPrometheusRegisterer(reg prometheus.Registerer) ExportOption {
	return func(o *exportOptions) {
		o.registerer = reg
	}
}

func applyExportOptions(opts []ExportOption) *exportOptions {
	o := &exportOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// newResource describes this process on every span and metric
func newResource(ctx context.Context, cfg *Config) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.GetServiceName()),
			semconv.ServiceVersion(cfg.GetServiceVersion()),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
