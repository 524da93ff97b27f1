package session_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/scroll-sync-server/internal/session"
	"github.com/stacklok/scroll-sync-server/internal/session/mocks"
)

const testUser = "user-1"

// recordingSender captures every event it is sent
type recordingSender struct {
	mu     sync.Mutex
	events []session.Event
}

func (s *recordingSender) Send(ev session.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSender) payloads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, string(ev.Data))
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func mainCount(infos []session.Info) int {
	n := 0
	for _, info := range infos {
		if info.IsMain {
			n++
		}
	}
	return n
}

func TestRegistry_RegisterFirstBecomesMain(t *testing.T) {
	t.Parallel()

	reg := session.NewRegistry()
	a := &recordingSender{}

	info, err := reg.Register(context.Background(), testUser, "A", a)
	require.NoError(t, err)
	assert.True(t, info.IsMain)
	assert.Equal(t, "A", info.ClientID)
	assert.NotEmpty(t, info.ConnID)
	assert.Equal(t, []string{`{"main":"A"}`}, a.payloads())
}

func TestRegistry_RegisterFollowerReceivesCurrentMain(t *testing.T) {
	t.Parallel()

	reg := session.NewRegistry()
	a, b := &recordingSender{}, &recordingSender{}

	_, err := reg.Register(context.Background(), testUser, "A", a)
	require.NoError(t, err)
	info, err := reg.Register(context.Background(), testUser, "B", b)
	require.NoError(t, err)

	assert.False(t, info.IsMain)
	assert.Equal(t, []string{`{"main":"A"}`}, b.payloads())
	// The existing main is not told about the newcomer.
	assert.Equal(t, []string{`{"main":"A"}`}, a.payloads())
}

func TestRegistry_RegisterErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		clientID string
		wantErr  error
	}{
		{name: "missing client id", clientID: "", wantErr: session.ErrMissingClientID},
		{name: "duplicate client id", clientID: "A", wantErr: session.ErrDuplicateClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reg := session.NewRegistry()
			_, err := reg.Register(context.Background(), testUser, "A", &recordingSender{})
			require.NoError(t, err)

			dup := &recordingSender{}
			_, err = reg.Register(context.Background(), testUser, tt.clientID, dup)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, dup.payloads())
			assert.Len(t, reg.List(testUser), 1)
		})
	}
}

func TestRegistry_SameClientIDDifferentUsers(t *testing.T) {
	t.Parallel()

	reg := session.NewRegistry()
	first, err := reg.Register(context.Background(), "user-1", "A", &recordingSender{})
	require.NoError(t, err)
	second, err := reg.Register(context.Background(), "user-2", "A", &recordingSender{})
	require.NoError(t, err)

	assert.True(t, first.IsMain)
	assert.True(t, second.IsMain)
	assert.Equal(t, []string{"user-1", "user-2"}, reg.Users())
}

func TestRegistry_UnregisterMainFailsOverToOldest(t *testing.T) {
	t.Parallel()

	reg := session.NewRegistry()
	ctx := context.Background()
	a, b, c := &recordingSender{}, &recordingSender{}, &recordingSender{}

	_, err := reg.Register(ctx, testUser, "A", a)
	require.NoError(t, err)
	_, err = reg.Register(ctx, testUser, "B", b)
	require.NoError(t, err)
	_, err = reg.Register(ctx, testUser, "C", c)
	require.NoError(t, err)

	require.NoError(t, reg.Unregister(ctx, testUser, "A", ""))

	infos := reg.List(testUser)
	require.Len(t, infos, 2)
	assert.Equal(t, "B", infos[0].ClientID)
	assert.True(t, infos[0].IsMain)
	assert.False(t, infos[1].IsMain)

	assert.Equal(t, []string{`{"main":"A"}`, `{"main":"B"}`}, b.payloads())
	assert.Equal(t, []string{`{"main":"A"}`}, c.payloads())
}

func TestRegistry_UnregisterFollowerKeepsMain(t *testing.T) {
	t.Parallel()

	reg := session.NewRegistry()
	ctx := context.Background()
	a, b := &recordingSender{}, &recordingSender{}

	_, err := reg.Register(ctx, testUser, "A", a)
	require.NoError(t, err)
	_, err = reg.Register(ctx, testUser, "B", b)
	require.NoError(t, err)

	require.NoError(t, reg.Unregister(ctx, testUser, "B", ""))

	infos := reg.List(testUser)
	require.Len(t, infos, 1)
	assert.True(t, infos[0].IsMain)
	assert.Equal(t, []string{`{"main":"A"}`}, a.payloads())
}

func TestRegistry_UnregisterLastRemovesUser(t *testing.T) {
	t.Parallel()

	reg := session.NewRegistry()
	ctx := context.Background()

	_, err := reg.Register(ctx, testUser, "A", &recordingSender{})
	require.NoError(t, err)
	require.NoError(t, reg.Unregister(ctx, testUser, "A", ""))

	assert.Empty(t, reg.Users())
	assert.Empty(t, reg.List(testUser))
	err = reg.Update(testUser, func(*session.Set) error { return nil })
	assert.ErrorIs(t, err, session.ErrNoActiveSessions)

	// The user entry heals on the next registration.
	info, err := reg.Register(ctx, testUser, "A", &recordingSender{})
	require.NoError(t, err)
	assert.True(t, info.IsMain)
}

func TestRegistry_UnregisterUnknown(t *testing.T) {
	t.Parallel()

	reg := session.NewRegistry()
	ctx := context.Background()

	err := reg.Unregister(ctx, testUser, "A", "")
	require.ErrorIs(t, err, session.ErrNotRegistered)

	_, err = reg.Register(ctx, testUser, "A", &recordingSender{})
	require.NoError(t, err)
	err = reg.Unregister(ctx, testUser, "B", "")
	require.ErrorIs(t, err, session.ErrNotRegistered)
}

func TestRegistry_UnregisterStaleConnection(t *testing.T) {
	t.Parallel()

	reg := session.NewRegistry()
	ctx := context.Background()

	first, err := reg.Register(ctx, testUser, "A", &recordingSender{})
	require.NoError(t, err)
	require.NoError(t, reg.Unregister(ctx, testUser, "A", first.ConnID))

	second, err := reg.Register(ctx, testUser, "A", &recordingSender{})
	require.NoError(t, err)
	require.NotEqual(t, first.ConnID, second.ConnID)

	// A late close from the first connection must not remove the second one.
	err = reg.Unregister(ctx, testUser, "A", first.ConnID)
	require.ErrorIs(t, err, session.ErrNotRegistered)
	assert.Len(t, reg.List(testUser), 1)
}

func TestRegistry_Find(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	reg := session.NewRegistry(session.WithClock(clock.Now))
	ctx := context.Background()

	_, err := reg.Find(testUser, "A")
	require.ErrorIs(t, err, session.ErrNotRegistered)

	_, err = reg.Register(ctx, testUser, "A", &recordingSender{})
	require.NoError(t, err)

	info, err := reg.Find(testUser, "A")
	require.NoError(t, err)
	assert.Equal(t, testUser, info.UserID)
	assert.Equal(t, clock.Now(), info.LastSeen)
	assert.Equal(t, clock.Now(), info.ConnectedAt)

	_, err = reg.Find(testUser, "missing")
	require.ErrorIs(t, err, session.ErrNotRegistered)
}

func TestRegistry_ClosedTransportDoesNotAbortBroadcast(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	reg := session.NewRegistry()
	ctx := context.Background()

	dead := mocks.NewMockSender(ctrl)
	gomock.InOrder(
		dead.EXPECT().Send(gomock.Any()).Return(nil),
		dead.EXPECT().Send(gomock.Any()).Return(session.ErrTransportClosed),
	)
	live := &recordingSender{}

	_, err := reg.Register(ctx, testUser, "A", dead)
	require.NoError(t, err)
	_, err = reg.Register(ctx, testUser, "B", live)
	require.NoError(t, err)

	ev := session.PayloadEvent(session.KindPosition, json.RawMessage(`{"clientID":"A","position":1}`))
	var delivered int
	err = reg.Update(testUser, func(set *session.Set) error {
		delivered = set.Broadcast(ctx, ev)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, delivered)
	assert.Equal(t, []string{`{"main":"A"}`, `{"clientID":"A","position":1}`}, live.payloads())
}

func TestRegistry_SetPromote(t *testing.T) {
	t.Parallel()

	reg := session.NewRegistry()
	ctx := context.Background()
	for _, id := range []string{"A", "B", "C"} {
		_, err := reg.Register(ctx, testUser, id, &recordingSender{})
		require.NoError(t, err)
	}

	err := reg.Update(testUser, func(set *session.Set) error {
		target, ok := set.Find("C")
		require.True(t, ok)
		assert.True(t, set.Promote(ctx, target, "transfer"))
		assert.False(t, set.Promote(ctx, target, "transfer"))
		main, ok := set.Main()
		require.True(t, ok)
		assert.Equal(t, "C", main.ClientID())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, mainCount(reg.List(testUser)))
}

func TestRegistry_UpdatePropagatesCallbackError(t *testing.T) {
	t.Parallel()

	reg := session.NewRegistry()
	_, err := reg.Register(context.Background(), testUser, "A", &recordingSender{})
	require.NoError(t, err)

	want := fmt.Errorf("boom")
	err = reg.Update(testUser, func(*session.Set) error { return want })
	assert.ErrorIs(t, err, want)
}

func TestRegistry_AtMostOneMainUnderConcurrency(t *testing.T) {
	t.Parallel()

	reg := session.NewRegistry()
	ctx := context.Background()

	const workers = 16
	const rounds = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				id := fmt.Sprintf("client-%d-%d", w, i%3)
				if _, err := reg.Register(ctx, testUser, id, &recordingSender{}); err == nil && i%2 == 0 {
					_ = reg.Unregister(ctx, testUser, id, "")
				}
			}
		}(w)
	}
	wg.Wait()

	infos := reg.List(testUser)
	if len(infos) == 0 {
		return
	}
	assert.Equal(t, 1, mainCount(infos))
}

func TestRegistry_ConnectionOrderPreserved(t *testing.T) {
	t.Parallel()

	reg := session.NewRegistry()
	ctx := context.Background()
	ids := []string{"w1", "w2", "w3", "w4"}
	for _, id := range ids {
		_, err := reg.Register(ctx, testUser, id, &recordingSender{})
		require.NoError(t, err)
	}
	require.NoError(t, reg.Unregister(ctx, testUser, "w2", ""))

	got := make([]string, 0, 3)
	for _, info := range reg.List(testUser) {
		got = append(got, info.ClientID)
	}
	assert.Equal(t, []string{"w1", "w3", "w4"}, got)
}

func TestEvents(t *testing.T) {
	t.Parallel()

	assert.JSONEq(t, `{"main":"abc"}`, session.LeaderEvent("abc").String())
	assert.Equal(t, session.KindLeader, session.LeaderEvent("abc").Kind)
	assert.Equal(t, `{"main":null}`, session.LeaderLostEvent().String())
	assert.Equal(t, session.KindLeaderLost, session.LeaderLostEvent().Kind)
}
