package app

import (
	"context"

	"github.com/stacklok/scroll-sync-server/internal/scroll"
	"github.com/stacklok/scroll-sync-server/internal/session"
)

// BackgroundTask is a component that runs alongside the HTTP server
type BackgroundTask interface {
	Start(ctx context.Context) error
	Stop() error
}

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Registry holds every connected client window
	Registry *session.Registry

	// Coordinator applies updates and manages main window leadership
	Coordinator scroll.Coordinator

	// Sweeper periodically notifies stale clients
	Sweeper BackgroundTask
}
