package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// DefaultMetricsInterval is how often metrics are pushed to the OTLP collector
const DefaultMetricsInterval = 60 * time.Second

// NewMeterProvider builds the metric pipeline described by cfg and registers it globally.
// Metrics are pushed over OTLP unless WithMetricReader supplies readers, and are
// additionally exposed to Prometheus when cfg enables it. Without metrics enabled the
// result is a no-op. The caller shuts the returned provider down.
func NewMeterProvider(ctx context.Context, cfg *Config, opts ...ExportOption) (metric.MeterProvider, error) {
	if !cfg.MetricsEnabled() {
		slog.Info("Metrics disabled, using no-op meter provider")
		return noop.NewMeterProvider(), nil
	}
	o := applyExportOptions(opts)

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	readers := o.readers
	if len(readers) == 0 {
		exporter, err := otlpMetricExporter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(DefaultMetricsInterval)))
	}

	if cfg.PrometheusEnabled() {
		var promOpts []otelprom.Option
		if o.registerer != nil {
			promOpts = append(promOpts, otelprom.WithRegisterer(o.registerer))
		}
		exporter, err := otelprom.New(promOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		readers = append(readers, exporter)
	}

	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		mpOpts = append(mpOpts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(mpOpts...)
	otel.SetMeterProvider(mp)

	slog.Info("Metrics initialized",
		"endpoint", cfg.GetEndpoint(),
		"readers", len(readers),
		"prometheus", cfg.PrometheusEnabled(),
	)
	return mp, nil
}

func otlpMetricExporter(ctx context.Context, cfg *Config) (sdkmetric.Exporter, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.GetEndpoint())}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}
	return exporter, nil
}
