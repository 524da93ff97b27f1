package scroll_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/scroll-sync-server/internal/scroll"
	"github.com/stacklok/scroll-sync-server/internal/session"
)

const testUser = "user-1"

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

func (s *recordingSender) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fixture registers clients A and B for testUser with A as main
type fixture struct {
	clock *fakeClock
	reg   *session.Registry
	coord scroll.Coordinator
	a, b  *recordingSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := newFakeClock()
	reg := session.NewRegistry(session.WithClock(clock.Now))
	f := &fixture{
		clock: clock,
		reg:   reg,
		coord: scroll.New(reg),
		a:     &recordingSender{},
		b:     &recordingSender{},
	}

	ctx := context.Background()
	_, err := f.coord.Connect(ctx, testUser, "A", f.a)
	require.NoError(t, err)
	_, err = f.coord.Connect(ctx, testUser, "B", f.b)
	require.NoError(t, err)

	f.a.reset()
	f.b.reset()
	return f
}

func (f *fixture) apply(t *testing.T, body string) (scroll.Outcome, error) {
	t.Helper()
	u, err := scroll.ParseUpdate([]byte(body))
	require.NoError(t, err)
	return f.coord.ApplyUpdate(context.Background(), testUser, u)
}

func mainOf(infos []session.Info) string {
	for _, info := range infos {
		if info.IsMain {
			return info.ClientID
		}
	}
	return ""
}

func TestApplyUpdate_MainPositionIsBroadcast(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	outcome, err := f.apply(t, `{"clientID":"A","position":120}`)
	require.NoError(t, err)
	assert.Equal(t, scroll.OutcomePosition, outcome)

	want := []string{`{"clientID":"A","position":120}`}
	assert.Equal(t, want, f.a.payloads(), "main window receives its own update")
	assert.Equal(t, want, f.b.payloads())
}

func TestApplyUpdate_FollowerPositionIsHeartbeat(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	outcome, err := f.apply(t, `{"clientID":"B","position":50}`)
	require.NoError(t, err)
	assert.Equal(t, scroll.OutcomeHeartbeat, outcome)
	assert.Empty(t, f.a.payloads())
	assert.Empty(t, f.b.payloads())
}

func TestApplyUpdate_HeartbeatRefreshesLastSeen(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.clock.Advance(10 * time.Second)
	outcome, err := f.apply(t, `{"clientID":"B"}`)
	require.NoError(t, err)
	assert.Equal(t, scroll.OutcomeHeartbeat, outcome)

	info, err := f.reg.Find(testUser, "B")
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), info.LastSeen)
	assert.Empty(t, f.a.payloads())
	assert.Empty(t, f.b.payloads())
}

func TestApplyUpdate_MainHeartbeatIsNotBroadcast(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	outcome, err := f.apply(t, `{"clientID":"A"}`)
	require.NoError(t, err)
	assert.Equal(t, scroll.OutcomeHeartbeat, outcome)
	assert.Empty(t, f.b.payloads())
}

func TestApplyUpdate_ExtraFieldsAreBroadcastVerbatim(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	body := `{"clientID":"A","position":3,"selectedDocument":"chapter-2.md"}`
	_, err := f.apply(t, body)
	require.NoError(t, err)
	assert.Equal(t, []string{body}, f.b.payloads())
}

func TestApplyUpdate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		userID  string
		body    string
		wantErr error
	}{
		{
			name:    "unknown client",
			userID:  testUser,
			body:    `{"clientID":"Z","position":1}`,
			wantErr: session.ErrNotRegistered,
		},
		{
			name:    "user without sessions",
			userID:  "nobody",
			body:    `{"clientID":"A","position":1}`,
			wantErr: session.ErrNoActiveSessions,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)

			u, err := scroll.ParseUpdate([]byte(tt.body))
			require.NoError(t, err)

			outcome, err := f.coord.ApplyUpdate(context.Background(), tt.userID, u)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, outcome)
			assert.Empty(t, f.a.payloads())
			assert.Empty(t, f.b.payloads())
		})
	}
}

func TestApplyUpdate_TransferToKnownClient(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	outcome, err := f.apply(t, `{"clientID":"B","main":"B"}`)
	require.NoError(t, err)
	assert.Equal(t, scroll.OutcomeTransfer, outcome)
	assert.Equal(t, "B", mainOf(f.coord.Sessions(testUser)))

	want := []string{`{"clientID":"B","main":"B"}`}
	assert.Equal(t, want, f.a.payloads())
	assert.Equal(t, want, f.b.payloads())

	// A is now a follower, so its positions are no longer broadcast
	f.a.reset()
	f.b.reset()
	outcome, err = f.apply(t, `{"clientID":"A","position":9}`)
	require.NoError(t, err)
	assert.Equal(t, scroll.OutcomeHeartbeat, outcome)
	assert.Empty(t, f.b.payloads())

	outcome, err = f.apply(t, `{"clientID":"B","position":9}`)
	require.NoError(t, err)
	assert.Equal(t, scroll.OutcomePosition, outcome)
	assert.Equal(t, []string{`{"clientID":"B","position":9}`}, f.a.payloads())
}

func TestApplyUpdate_TransferToUnknownClient(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	outcome, err := f.apply(t, `{"clientID":"A","main":"ghost"}`)
	require.NoError(t, err)
	assert.Equal(t, scroll.OutcomeTransfer, outcome)
	assert.Equal(t, "A", mainOf(f.coord.Sessions(testUser)), "leadership is unchanged")
	assert.Equal(t, []string{`{"clientID":"A","main":"ghost"}`}, f.b.payloads())
}

func TestApplyUpdate_StaleClientsAreNotified(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.clock.Advance(scroll.DefaultHeartbeatTimeout)

	_, err := f.apply(t, `{"clientID":"A"}`)
	require.NoError(t, err)
	assert.Empty(t, f.a.payloads(), "sender was just refreshed")
	assert.Equal(t, []string{`{"main":null}`}, f.b.payloads())

	// Stale sessions stay registered
	assert.Len(t, f.coord.Sessions(testUser), 2)
}

func TestApplyUpdate_BroadcastPrecedesStaleNotice(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.clock.Advance(2 * scroll.DefaultHeartbeatTimeout)

	_, err := f.apply(t, `{"clientID":"A","position":5}`)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"clientID":"A","position":5}`, `{"main":null}`}, f.b.payloads())
}

func TestApplyUpdate_CustomHeartbeatTimeout(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	reg := session.NewRegistry(session.WithClock(clock.Now))
	coord := scroll.New(reg, scroll.WithHeartbeatTimeout(5*time.Second))

	a, b := &recordingSender{}, &recordingSender{}
	ctx := context.Background()
	_, err := coord.Connect(ctx, testUser, "A", a)
	require.NoError(t, err)
	_, err = coord.Connect(ctx, testUser, "B", b)
	require.NoError(t, err)
	b.reset()

	clock.Advance(4 * time.Second)
	u, err := scroll.ParseUpdate([]byte(`{"clientID":"A"}`))
	require.NoError(t, err)
	_, err = coord.ApplyUpdate(ctx, testUser, u)
	require.NoError(t, err)
	assert.Empty(t, b.payloads())

	clock.Advance(time.Second)
	_, err = coord.ApplyUpdate(ctx, testUser, u)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"main":null}`}, b.payloads())
}

func TestSweep(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	other := &recordingSender{}
	_, err := f.coord.Connect(context.Background(), "user-2", "X", other)
	require.NoError(t, err)
	other.reset()

	assert.Zero(t, f.coord.Sweep(context.Background()))

	f.clock.Advance(time.Minute)
	assert.Equal(t, 3, f.coord.Sweep(context.Background()))
	assert.Equal(t, []string{`{"main":null}`}, f.a.payloads())
	assert.Equal(t, []string{`{"main":null}`}, f.b.payloads())
	assert.Equal(t, []string{`{"main":null}`}, other.payloads())
}

func TestDisconnect(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	infos := f.coord.Sessions(testUser)
	require.Len(t, infos, 2)

	f.coord.Disconnect(context.Background(), infos[0])
	assert.Equal(t, []string{`{"main":"B"}`}, f.b.payloads())
	assert.Equal(t, "B", mainOf(f.coord.Sessions(testUser)))

	// A second disconnect of the same session is ignored
	f.coord.Disconnect(context.Background(), infos[0])
	assert.Len(t, f.coord.Sessions(testUser), 1)
}

func TestApplyUpdate_ConcurrentUsers(t *testing.T) {
	t.Parallel()

	reg := session.NewRegistry()
	coord := scroll.New(reg)
	ctx := context.Background()

	users := []string{"u1", "u2", "u3", "u4"}
	senders := make(map[string]*recordingSender)
	for _, u := range users {
		for _, id := range []string{"A", "B"} {
			s := &recordingSender{}
			senders[u+"/"+id] = s
			_, err := coord.Connect(ctx, u, id, s)
			require.NoError(t, err)
		}
	}

	update, err := scroll.ParseUpdate([]byte(`{"clientID":"A","position":1}`))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 25 {
				_, err := coord.ApplyUpdate(ctx, u, update)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	for _, u := range users {
		// one leader announcement plus 25 positions
		assert.Len(t, senders[u+"/B"].payloads(), 26)
	}
}
