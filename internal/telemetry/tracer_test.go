package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNewTracerProvider_Disabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  *Config
	}{
		{name: "nil config"},
		{name: "telemetry disabled", cfg: &Config{Tracing: &TracingConfig{Enabled: true}}},
		{name: "tracing disabled", cfg: &Config{Enabled: true, Tracing: &TracingConfig{Enabled: false}}},
		{name: "tracing section missing", cfg: &Config{Enabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tp, err := NewTracerProvider(context.Background(), tt.cfg, WithSpanExporter(tracetest.NewInMemoryExporter()))
			require.NoError(t, err)
			assert.IsType(t, noop.TracerProvider{}, tp)
		})
	}
}

func TestNewTracerProvider_ExportsSpans(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp, err := NewTracerProvider(context.Background(), &Config{
		Enabled:        true,
		ServiceName:    "scroll-sync-test",
		ServiceVersion: "0.1.0",
		Tracing:        &TracingConfig{Enabled: true, Sampling: 1},
	}, WithSpanExporter(exporter))
	require.NoError(t, err)

	sdkProvider, ok := tp.(*sdktrace.TracerProvider)
	require.True(t, ok)

	_, span := tp.Tracer("test").Start(context.Background(), "scroll.ApplyUpdate")
	span.End()

	// Shutdown resets the in-memory exporter
	require.NoError(t, sdkProvider.ForceFlush(context.Background()))
	t.Cleanup(func() { _ = sdkProvider.Shutdown(context.Background()) })

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "scroll.ApplyUpdate", spans[0].Name)

	attrs := spans[0].Resource.Set()
	name, ok := attrs.Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "scroll-sync-test", name.AsString())
	version, ok := attrs.Value("service.version")
	require.True(t, ok)
	assert.Equal(t, "0.1.0", version.AsString())
}
