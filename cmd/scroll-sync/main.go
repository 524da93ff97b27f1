// Package main is the entry point for the scroll sync server.
package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/scroll-sync-server/cmd/scroll-sync/app"
	"github.com/stacklok/scroll-sync-server/internal/config"
	"github.com/stacklok/scroll-sync-server/internal/logging"
)

// getLogLevel reads SCROLL_SYNC_LOG_LEVEL, falling back to LOG_LEVEL.
// ok is false when the value is not a known level; info is used then.
func getLogLevel(v *viper.Viper) (level slog.Level, raw string, ok bool) {
	raw = v.GetString("LOG_LEVEL")
	if raw == "" {
		raw = os.Getenv("LOG_LEVEL")
	}
	level, ok = logging.ParseLevel(raw)
	return level, raw, ok
}

// setupLogging installs the default logger. debug forces the debug level.
func setupLogging(debug bool) {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	level, raw, ok := getLogLevel(v)
	if debug {
		level = slog.LevelDebug
	}

	// stderr keeps stdout clean for `version --format json`
	opts := []logging.Option{logging.WithLevel(level), logging.WithOutput(os.Stderr)}
	if format := v.GetString("LOG_FORMAT"); format != "" {
		opts = append(opts, logging.WithFormat(format))
	}
	slog.SetDefault(slog.New(&traceHandler{Handler: logging.NewHandler(opts...)}))

	if !ok {
		slog.Warn("Invalid LOG_LEVEL, using INFO", "value", raw)
	}
}

// traceHandler wraps an slog.Handler to automatically inject OpenTelemetry
// trace_id and span_id into every log record, enabling log-trace correlation.
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		r.AddAttrs(
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

func main() {
	setupLogging(false)

	if err := app.NewRootCmd(setupLogging).Execute(); err != nil {
		os.Exit(1)
	}
}
