// Package app provides application lifecycle management for the scroll sync server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/scroll-sync-server/internal/config"
	"github.com/stacklok/scroll-sync-server/internal/telemetry"
)

var (
	errNotStarted   = errors.New("server not started")
	errShuttingDown = errors.New("server shutting down")
)

// ScrollSyncApp encapsulates all components needed to run the scroll sync server.
// It provides lifecycle management and graceful shutdown capabilities.
type ScrollSyncApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server
	telemetry  *telemetry.Telemetry

	// ctx is the base context of every request; cancelling it ends all push streams
	ctx        context.Context
	cancelFunc context.CancelFunc

	started  atomic.Bool
	stopping atomic.Bool
}

// Start runs the HTTP server and the heartbeat sweeper.
// It blocks until the HTTP server stops or either component fails; a failing
// server also stops the sweeper.
func (app *ScrollSyncApp) Start() error {
	g, gctx := errgroup.WithContext(app.ctx)

	g.Go(func() error {
		if err := app.components.Sweeper.Start(gctx); err != nil {
			return fmt.Errorf("heartbeat sweeper failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("Server listening", "address", app.httpServer.Addr)
		app.started.Store(true)
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Stop gracefully stops the application with the given timeout.
// It stops the sweeper, ends every push stream so its session unregisters,
// shuts down the HTTP server and flushes telemetry.
func (app *ScrollSyncApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")
	app.stopping.Store(true)

	if err := app.components.Sweeper.Stop(); err != nil {
		slog.Error("Failed to stop heartbeat sweeper", "error", err)
	}

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}

	if app.telemetry != nil {
		if err := app.telemetry.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown telemetry: %w", err))
		}
	}

	if len(errs) == 0 {
		slog.Info("Server shutdown complete")
	}
	return errors.Join(errs...)
}

// checkReadiness backs the /readiness endpoint
func (app *ScrollSyncApp) checkReadiness(context.Context) error {
	switch {
	case app.stopping.Load():
		return errShuttingDown
	case !app.started.Load():
		return errNotStarted
	default:
		return nil
	}
}

// GetConfig returns the application configuration
func (app *ScrollSyncApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *ScrollSyncApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// GetComponents returns the wired application components
func (app *ScrollSyncApp) GetComponents() *AppComponents {
	return app.components
}
