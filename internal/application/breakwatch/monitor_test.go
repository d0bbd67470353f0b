package breakwatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focushall/focushall-bot/internal/domain/breakroom"
	"github.com/focushall/focushall-bot/internal/domain/notification"
)

type fakeGateway struct {
	mu        sync.Mutex
	occupants map[string][]string
	dms       []string // DM'd user ids
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{occupants: make(map[string][]string)}
}

func (g *fakeGateway) setOccupants(roomID string, ids ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.occupants[roomID] = ids
}

func (g *fakeGateway) dmCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.dms)
}

func (g *fakeGateway) PostPrompt(_ context.Context, channelID, _ string, _ notification.Control) (notification.MessageRef, error) {
	return notification.MessageRef{ChannelID: channelID, MessageID: "m"}, nil
}

func (g *fakeGateway) EditPrompt(_ context.Context, _ notification.MessageRef, _ string, _ *notification.Control) error {
	return nil
}

func (g *fakeGateway) SendDirect(_ context.Context, userID, _ string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dms = append(g.dms, userID)
	return true, nil
}

func (g *fakeGateway) PostNotice(_ context.Context, _, _ string) error { return nil }

func (g *fakeGateway) RemoveFromRoom(_ context.Context, _, _, _ string) error { return nil }

func (g *fakeGateway) LiveOccupants(_ context.Context, roomID string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.occupants[roomID]...), nil
}

func (g *fakeGateway) HasCapability(_ context.Context, _ string, _ notification.Capability) (bool, error) {
	return true, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMonitor(g *fakeGateway, c *clock) *Monitor {
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.BreakRooms = map[string]struct{}{"break1": {}, "break2": {}}
	cfg.Now = c.Now
	return New(g, cfg)
}

func TestJoinStartsWatch(t *testing.T) {
	g := newFakeGateway()
	c := &clock{now: time.Now()}
	m := newTestMonitor(g, c)

	m.HandleJoin(context.Background(), "A", "break1")
	assert.Equal(t, 1, m.ActiveWatches())
	assert.Equal(t, 1, m.JoinsInWindow("A"))
	m.Shutdown()
}

func TestJoinNonBreakRoomIgnored(t *testing.T) {
	g := newFakeGateway()
	c := &clock{now: time.Now()}
	m := newTestMonitor(g, c)

	m.HandleJoin(context.Background(), "A", "focus-room")
	assert.Zero(t, m.ActiveWatches())
	assert.Zero(t, m.JoinsInWindow("A"))
}

func TestDuplicateJoinIsNoOp(t *testing.T) {
	g := newFakeGateway()
	c := &clock{now: time.Now()}
	m := newTestMonitor(g, c)

	m.HandleJoin(context.Background(), "A", "break1")
	m.HandleJoin(context.Background(), "A", "break1")
	assert.Equal(t, 1, m.ActiveWatches())
	assert.Equal(t, 1, m.JoinsInWindow("A"), "duplicate voice event must not count as a join")
	m.Shutdown()
}

func TestLeaveCancelsReminder(t *testing.T) {
	g := newFakeGateway()
	g.setOccupants("break1", "A")
	c := &clock{now: time.Now()}

	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.BreakRooms = map[string]struct{}{"break1": {}}
	cfg.NagDelay = 20 * time.Millisecond
	cfg.Now = c.Now
	m := New(g, cfg)

	m.HandleJoin(context.Background(), "A", "break1")
	m.HandleLeave(context.Background(), "A", "break1")
	assert.Zero(t, m.ActiveWatches())

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, g.dmCount(), "cancelled reminder must not fire")
}

func TestReminderFiresForLingeringUser(t *testing.T) {
	g := newFakeGateway()
	g.setOccupants("break1", "A")
	c := &clock{now: time.Now()}

	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.BreakRooms = map[string]struct{}{"break1": {}}
	cfg.NagDelay = 15 * time.Millisecond
	cfg.Now = c.Now
	m := New(g, cfg)

	m.HandleJoin(context.Background(), "A", "break1")
	assert.Eventually(t, func() bool { return g.dmCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, m.ActiveWatches(), "fired watch must be removed")
}

func TestReminderSkippedWhenUserAlreadyGone(t *testing.T) {
	// Departure that never produced a leave event: the occupancy re-check at
	// fire time must suppress the reminder.
	g := newFakeGateway()
	c := &clock{now: time.Now()}

	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.BreakRooms = map[string]struct{}{"break1": {}}
	cfg.NagDelay = 15 * time.Millisecond
	cfg.Now = c.Now
	m := New(g, cfg)

	m.HandleJoin(context.Background(), "A", "break1")
	assert.Eventually(t, func() bool { return m.ActiveWatches() == 0 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, g.dmCount())
}

func TestFrequencyNagOnThirdJoin(t *testing.T) {
	g := newFakeGateway()
	c := &clock{now: time.Now()}
	m := newTestMonitor(g, c)

	join := func(room string) bool {
		nagged := m.HandleJoin(context.Background(), "A", room)
		m.HandleLeave(context.Background(), "A", room)
		c.Advance(5 * time.Minute)
		return nagged
	}

	assert.False(t, join("break1"))
	assert.False(t, join("break2"))
	assert.True(t, join("break1"), "third join within the hour draws the nag")
	assert.False(t, join("break2"), "fourth join in the same window must not nag again")
	assert.Equal(t, 1, g.dmCount())
}

func TestFrequencyNagResetsAfterWindowRolls(t *testing.T) {
	g := newFakeGateway()
	c := &clock{now: time.Now()}
	m := newTestMonitor(g, c)

	join := func() bool {
		nagged := m.HandleJoin(context.Background(), "A", "break1")
		m.HandleLeave(context.Background(), "A", "break1")
		return nagged
	}

	for i := 0; i < 3; i++ {
		join()
		c.Advance(time.Minute)
	}
	assert.Equal(t, 1, g.dmCount())

	// Roll the window past all recorded joins and the nag marker.
	c.Advance(breakroom.JoinWindow + time.Minute)
	assert.False(t, join())
	assert.False(t, join())
	assert.True(t, join(), "nag must re-arm once the window rolls past")
	assert.Equal(t, 2, g.dmCount())
}

func TestWatchesPerUserRoomPairIndependent(t *testing.T) {
	g := newFakeGateway()
	c := &clock{now: time.Now()}
	m := newTestMonitor(g, c)

	m.HandleJoin(context.Background(), "A", "break1")
	m.HandleJoin(context.Background(), "B", "break1")
	m.HandleJoin(context.Background(), "A", "break2")
	require.Equal(t, 3, m.ActiveWatches())

	m.HandleLeave(context.Background(), "A", "break1")
	assert.Equal(t, 2, m.ActiveWatches())
	m.Shutdown()
	assert.Zero(t, m.ActiveWatches())
}
