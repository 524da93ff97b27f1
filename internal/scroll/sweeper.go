package scroll

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically runs the stale client check so that quiet users are
// notified even when nobody sends updates
type Sweeper struct {
	coordinator Coordinator
	interval    time.Duration

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
	stopped    bool
}

// NewSweeper creates a sweeper that calls coordinator.Sweep every interval
func NewSweeper(coordinator Coordinator, interval time.Duration) *Sweeper {
	return &Sweeper{
		coordinator: coordinator,
		interval:    interval,
	}
}

// Start runs the sweep loop. It blocks until ctx is cancelled or Stop is called.
// A non-positive interval disables the loop and Start returns immediately, as
// does a Start that follows Stop.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.interval <= 0 {
		slog.Info("Periodic heartbeat sweep disabled")
		return nil
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.cancelFunc = cancel
	s.done = done
	s.mu.Unlock()

	defer func() {
		cancel()
		close(done)
	}()

	slog.Info("Starting heartbeat sweeper", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.coordinator.Sweep(sweepCtx); n > 0 {
				slog.Debug("Notified stale clients", "count", n)
			}
		case <-sweepCtx.Done():
			slog.Info("Heartbeat sweeper stopping")
			return nil
		}
	}
}

// Stop cancels the loop and waits for it to exit
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	s.stopped = true
	cancel, done := s.cancelFunc, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
