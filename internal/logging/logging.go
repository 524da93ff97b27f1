// Package logging builds the process-wide slog handler on top of a zap core.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Output formats
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Option configures NewHandler
type Option func(*options)

type options struct {
	level  slog.Level
	format string
	output io.Writer
}

// WithLevel sets the minimum level emitted
func WithLevel(level slog.Level) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithFormat selects "json" (default) or "console" output
func WithFormat(format string) Option {
	return func(o *options) {
		o.format = format
	}
}

// WithOutput redirects log output. Defaults to stderr.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		o.output = w
	}
}

// NewHandler returns an slog.Handler that writes through zap
func NewHandler(opts ...Option) slog.Handler {
	return logr.ToSlogHandler(NewLogger(opts...))
}

// NewLogger returns the underlying logr.Logger for libraries that expect one
func NewLogger(opts ...Option) logr.Logger {
	o := &options{
		level:  slog.LevelInfo,
		format: FormatJSON,
		output: os.Stderr,
	}
	for _, opt := range opts {
		opt(o)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	encCfg.EncodeLevel = levelEncoder

	var encoder zapcore.Encoder
	if o.format == FormatConsole {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(o.output), zapLevel(o.level))
	return zapr.NewLogger(zap.New(core))
}

// zapLevel maps an slog level onto the zap level zapr uses for it.
// Levels below info become negative zap levels.
func zapLevel(level slog.Level) zapcore.Level {
	switch {
	case level >= slog.LevelError:
		return zapcore.ErrorLevel
	case level >= slog.LevelWarn:
		return zapcore.WarnLevel
	case level >= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.Level(level)
	}
}

func levelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l < zapcore.InfoLevel {
		enc.AppendString("debug")
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}

// ParseLevel converts debug|info|warn|warning|error into an slog level.
// Empty input is info; ok is false for anything unrecognised.
func ParseLevel(s string) (level slog.Level, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
