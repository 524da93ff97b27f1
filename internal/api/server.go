// Package api provides the HTTP server for the scroll sync service.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v1 "github.com/stacklok/scroll-sync-server/internal/api/v1"
	"github.com/stacklok/scroll-sync-server/internal/scroll"
)

// ReadinessCheck reports whether the service can accept clients
type ReadinessCheck func(ctx context.Context) error

// ServerOption configures the scroll sync API server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	scrollOptions  []v1.Option
	readiness      ReadinessCheck
	metricsHandler http.Handler
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithScrollOptions configures the /api/v1 scroll routes
func WithScrollOptions(opts ...v1.Option) ServerOption {
	return func(cfg *serverConfig) {
		cfg.scrollOptions = append(cfg.scrollOptions, opts...)
	}
}

// WithReadinessCheck sets the check behind /readiness
func WithReadinessCheck(check ReadinessCheck) ServerOption {
	return func(cfg *serverConfig) {
		cfg.readiness = check
	}
}

// WithMetricsHandler serves h at /metrics
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metricsHandler = h
	}
}

// NewServer creates and configures the HTTP router with the given coordinator and options
func NewServer(coordinator scroll.Coordinator, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()

	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Mount("/", HealthRouter(cfg.readiness))

	if cfg.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metricsHandler)
	}

	r.Mount("/api/v1", v1.Router(coordinator, cfg.scrollOptions...))

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
