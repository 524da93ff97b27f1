package scroll_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/scroll-sync-server/internal/scroll"
	"github.com/stacklok/scroll-sync-server/internal/scroll/mocks"
)

func TestSweeper_DisabledReturnsImmediately(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	coord := mocks.NewMockCoordinator(ctrl)

	s := scroll.NewSweeper(coord, 0)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

func TestSweeper_SweepsUntilStopped(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	coord := mocks.NewMockCoordinator(ctrl)

	swept := make(chan struct{}, 1)
	coord.EXPECT().Sweep(gomock.Any()).DoAndReturn(func(context.Context) int {
		select {
		case swept <- struct{}{}:
		default:
		}
		return 1
	}).MinTimes(1)

	s := scroll.NewSweeper(coord, 5*time.Millisecond)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(context.Background()) }()

	select {
	case <-swept:
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper never ran")
	}

	require.NoError(t, s.Stop())
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestSweeper_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	coord := mocks.NewMockCoordinator(ctrl)
	coord.EXPECT().Sweep(gomock.Any()).Return(0).AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	s := scroll.NewSweeper(coord, time.Millisecond)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

	// Stop after the loop has exited must not block
	require.NoError(t, s.Stop())
}

func TestSweeper_StopBeforeStart(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	s := scroll.NewSweeper(mocks.NewMockCoordinator(ctrl), time.Second)
	assert.NoError(t, s.Stop())

	// A Start that loses the race with Stop must not run the loop
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(context.Background()) }()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start after Stop did not return")
	}
}
