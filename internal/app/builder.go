package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/scroll-sync-server/internal/api"
	v1 "github.com/stacklok/scroll-sync-server/internal/api/v1"
	"github.com/stacklok/scroll-sync-server/internal/auth"
	"github.com/stacklok/scroll-sync-server/internal/config"
	"github.com/stacklok/scroll-sync-server/internal/scroll"
	"github.com/stacklok/scroll-sync-server/internal/session"
	"github.com/stacklok/scroll-sync-server/internal/telemetry"
)

// ScrollTracerName names the tracer used for update spans
const ScrollTracerName = "github.com/stacklok/scroll-sync-server/scroll"

// ScrollSyncAppOptions is a function that configures the app builder
type ScrollSyncAppOptions func(*appConfig) error

// appConfig collects everything needed to build a ScrollSyncApp.
// It supports dependency injection for testing while providing sensible defaults for production.
type appConfig struct {
	config *config.Config

	// HTTP server options
	address     string
	middlewares []func(http.Handler) http.Handler

	// Optional component overrides (primarily for testing)
	authMiddleware func(http.Handler) http.Handler
	sweeper        BackgroundTask
	clock          func() time.Time

	// Telemetry components. When none are injected they are built from config.telemetry.
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsHandler http.Handler
}

func baseConfig(opts ...ScrollSyncAppOptions) (*appConfig, error) {
	cfg := &appConfig{}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		cfg.config = config.Default()
	}
	if cfg.address == "" {
		cfg.address = cfg.config.Server.GetAddress()
	}

	return cfg, nil
}

// NewScrollSyncApp builds the application from the given options
func NewScrollSyncApp(ctx context.Context, opts ...ScrollSyncAppOptions) (*ScrollSyncApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	if err := cfg.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := buildTelemetry(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build telemetry: %w", err)
	}

	components, err := buildSyncComponents(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync components: %w", err)
	}

	if cfg.authMiddleware == nil {
		cfg.authMiddleware, err = auth.NewAuthMiddleware(&cfg.config.Auth)
		if err != nil {
			return nil, fmt.Errorf("failed to build auth middleware: %w", err)
		}
	}

	app := &ScrollSyncApp{
		config:     cfg.config,
		components: components,
		telemetry:  tel,
	}
	app.ctx, app.cancelFunc = context.WithCancel(ctx)

	app.httpServer, err = buildHTTPServer(cfg, components.Coordinator, app.checkReadiness)
	if err != nil {
		app.cancelFunc()
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}
	app.httpServer.BaseContext = func(net.Listener) context.Context {
		return app.ctx
	}

	return app, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) ScrollSyncAppOptions {
	return func(cfg *appConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address, overriding server.address
func WithAddress(addr string) ScrollSyncAppOptions {
	return func(cfg *appConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares replaces the default HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ScrollSyncAppOptions {
	return func(cfg *appConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithAuthMiddleware overrides the middleware built from auth config (for testing)
func WithAuthMiddleware(mw func(http.Handler) http.Handler) ScrollSyncAppOptions {
	return func(cfg *appConfig) error {
		cfg.authMiddleware = mw
		return nil
	}
}

// WithSweeper overrides the heartbeat sweeper (for testing)
func WithSweeper(s BackgroundTask) ScrollSyncAppOptions {
	return func(cfg *appConfig) error {
		cfg.sweeper = s
		return nil
	}
}

// WithClock overrides the time source of the session registry (for testing)
func WithClock(clock func() time.Time) ScrollSyncAppOptions {
	return func(cfg *appConfig) error {
		cfg.clock = clock
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for HTTP and sync metrics
func WithMeterProvider(mp metric.MeterProvider) ScrollSyncAppOptions {
	return func(cfg *appConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider for HTTP and update spans
func WithTracerProvider(tp trace.TracerProvider) ScrollSyncAppOptions {
	return func(cfg *appConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMetricsHandler serves h at /metrics
func WithMetricsHandler(h http.Handler) ScrollSyncAppOptions {
	return func(cfg *appConfig) error {
		cfg.metricsHandler = h
		return nil
	}
}

// buildTelemetry creates providers from config unless they were injected.
// The returned Telemetry is owned by the app and nil when providers were injected.
func buildTelemetry(ctx context.Context, b *appConfig) (*telemetry.Telemetry, error) {
	if b.meterProvider != nil || b.tracerProvider != nil {
		return nil, nil
	}

	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(b.config.Telemetry))
	if err != nil {
		return nil, err
	}

	if b.config.Telemetry.MetricsEnabled() {
		b.meterProvider = tel.MeterProvider()
	}
	if b.config.Telemetry.TracingEnabled() {
		b.tracerProvider = tel.TracerProvider()
	}
	if b.metricsHandler == nil {
		b.metricsHandler = tel.MetricsHandler()
	}
	return tel, nil
}

// buildSyncComponents builds the session registry, coordinator and sweeper
func buildSyncComponents(b *appConfig) (*AppComponents, error) {
	slog.Info("Initializing sync components")

	syncMetrics, err := telemetry.NewSyncMetrics(b.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}
	if syncMetrics != nil {
		slog.Info("Sync metrics enabled")
	}

	regOpts := []session.Option{session.WithMetrics(syncMetrics)}
	if b.clock != nil {
		regOpts = append(regOpts, session.WithClock(b.clock))
	}
	registry := session.NewRegistry(regOpts...)

	coordOpts := []scroll.Option{
		scroll.WithHeartbeatTimeout(b.config.Sync.GetHeartbeatTimeout()),
		scroll.WithMetrics(syncMetrics),
	}
	if b.tracerProvider != nil {
		coordOpts = append(coordOpts, scroll.WithTracer(b.tracerProvider.Tracer(ScrollTracerName)))
	}
	coordinator := scroll.New(registry, coordOpts...)

	sweeper := b.sweeper
	if sweeper == nil {
		sweeper = scroll.NewSweeper(coordinator, b.config.Sync.GetSweepInterval())
	}

	slog.Info("Sync components initialized successfully",
		"heartbeat_timeout", b.config.Sync.GetHeartbeatTimeout(),
		"sweep_interval", b.config.Sync.GetSweepInterval())

	return &AppComponents{
		Registry:    registry,
		Coordinator: coordinator,
		Sweeper:     sweeper,
	}, nil
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(
	b *appConfig,
	coordinator scroll.Coordinator,
	readiness api.ReadinessCheck,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	// Request timeouts are applied per route so push streams are not cut off
	middlewares := b.middlewares
	if middlewares == nil {
		middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			api.LoggingMiddleware,
		}
	}

	// Telemetry goes first to capture requests rejected by auth
	var prefix []func(http.Handler) http.Handler
	if b.tracerProvider != nil {
		prefix = append(prefix, telemetry.TracingMiddleware(b.tracerProvider))
		slog.Info("HTTP tracing middleware enabled")
	}
	if b.meterProvider != nil {
		metricsMiddleware, err := telemetry.MetricsMiddleware(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
		}
		prefix = append(prefix, metricsMiddleware)
		slog.Info("HTTP metrics middleware enabled")
	}
	middlewares = append(append(prefix, middlewares...), b.authMiddleware)

	serverCfg := &b.config.Server
	syncCfg := &b.config.Sync
	serverOpts := []api.ServerOption{
		api.WithMiddlewares(middlewares...),
		api.WithReadinessCheck(readiness),
		api.WithScrollOptions(
			v1.WithSendBuffer(syncCfg.GetSendBuffer()),
			v1.WithKeepAliveInterval(syncCfg.GetKeepAliveInterval()),
			v1.WithRequestTimeout(serverCfg.GetRequestTimeout()),
			v1.WithAllowedOrigins(serverCfg.AllowedOrigins),
		),
	}
	if b.metricsHandler != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(b.metricsHandler))
	}

	router := api.NewServer(coordinator, serverOpts...)

	// No WriteTimeout: push streams stay open indefinitely
	server := &http.Server{
		Addr:              b.address,
		Handler:           router,
		ReadHeaderTimeout: serverCfg.GetReadTimeout(),
		ReadTimeout:       serverCfg.GetReadTimeout(),
		IdleTimeout:       serverCfg.GetIdleTimeout(),
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
