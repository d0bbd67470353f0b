package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focushall/focushall-bot/internal/domain/ledger"
	"github.com/focushall/focushall-bot/internal/domain/notification"
	"github.com/focushall/focushall-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeGateway struct {
	mu        sync.Mutex
	occupants map[string][]string // roomID -> user ids
	canRemove bool

	prompts  []string // posted prompt texts
	notices  []string // channel notices
	dms      []string // DM'd user ids
	removals []string // removed user ids
	edits    int
	nextMsg  int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{occupants: make(map[string][]string), canRemove: true}
}

func (g *fakeGateway) setOccupants(roomID string, ids ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.occupants[roomID] = ids
}

func (g *fakeGateway) PostPrompt(_ context.Context, channelID, text string, _ notification.Control) (notification.MessageRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, text)
	g.nextMsg++
	return notification.MessageRef{ChannelID: channelID, MessageID: fmt.Sprintf("msg-%d", g.nextMsg)}, nil
}

func (g *fakeGateway) EditPrompt(_ context.Context, _ notification.MessageRef, _ string, _ *notification.Control) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edits++
	return nil
}

func (g *fakeGateway) SendDirect(_ context.Context, userID, _ string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dms = append(g.dms, userID)
	return true, nil
}

func (g *fakeGateway) PostNotice(_ context.Context, _, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notices = append(g.notices, text)
	return nil
}

func (g *fakeGateway) RemoveFromRoom(_ context.Context, _, userID, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.canRemove {
		return shared.ErrCapabilityDenied
	}
	g.removals = append(g.removals, userID)
	return nil
}

func (g *fakeGateway) LiveOccupants(_ context.Context, roomID string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.occupants[roomID]...), nil
}

func (g *fakeGateway) HasCapability(_ context.Context, _ string, _ notification.Capability) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.canRemove, nil
}

type fakeLedger struct {
	mu      sync.Mutex
	credits map[string]int // userID -> total credited
	flags   map[string]int // userID -> flag count
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{credits: make(map[string]int), flags: make(map[string]int)}
}

func (l *fakeLedger) Credit(_ context.Context, userID string, amount int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credits[userID] += amount
	return nil
}

func (l *fakeLedger) Flag(_ context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flags[userID]++
	return nil
}

func (l *fakeLedger) Get(_ context.Context, userID string) (*ledger.UserStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &ledger.UserStats{UserID: userID, XP: l.credits[userID], Infractions: l.flags[userID]}, nil
}

func newTestEngine(g *fakeGateway, l *fakeLedger) *Engine {
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.RoomChannels = map[string]string{"room1": "chan1", "room2": "chan2"}
	return New(g, l, cfg)
}

// ══════════════════════════════════════════════════════════════════════════════
// OPEN
// ══════════════════════════════════════════════════════════════════════════════

func TestOpenSession(t *testing.T) {
	g := newFakeGateway()
	g.setOccupants("room1", "A", "B", "C")
	e := newTestEngine(g, newFakeLedger())

	require.NoError(t, e.OpenSession(context.Background(), "room1", "guild1"))

	s := e.Registry().Get("room1")
	require.NotNil(t, s)
	assert.Equal(t, 3, s.ExpectedCount())
	assert.Len(t, g.prompts, 1)
	assert.Equal(t, 1, e.timers.pending())
	e.Shutdown()
}

func TestOpenSessionEmptyRoomNoOp(t *testing.T) {
	g := newFakeGateway()
	e := newTestEngine(g, newFakeLedger())

	err := e.OpenSession(context.Background(), "room1", "guild1")
	assert.ErrorIs(t, err, shared.ErrInvalidState)
	assert.Nil(t, e.Registry().Get("room1"))
	assert.Empty(t, g.prompts)
}

func TestOpenSessionRejectsDuplicate(t *testing.T) {
	g := newFakeGateway()
	g.setOccupants("room1", "A")
	e := newTestEngine(g, newFakeLedger())

	require.NoError(t, e.OpenSession(context.Background(), "room1", "guild1"))
	err := e.OpenSession(context.Background(), "room1", "guild1")
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)
	assert.Len(t, g.prompts, 1)
	e.Shutdown()
}

func TestOpenSessionConcurrentTriggersSingleSession(t *testing.T) {
	g := newFakeGateway()
	g.setOccupants("room1", "A", "B")
	e := newTestEngine(g, newFakeLedger())

	var wg sync.WaitGroup
	var okCount int32
	var mu sync.Mutex
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.OpenSession(context.Background(), "room1", "guild1"); err == nil {
				mu.Lock()
				okCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, okCount)
	assert.Equal(t, 1, e.Registry().Len())
	assert.Len(t, g.prompts, 1)
	e.Shutdown()
}

func TestOpenSessionUnmappedRoomNoOp(t *testing.T) {
	g := newFakeGateway()
	g.setOccupants("roomX", "A")
	e := newTestEngine(g, newFakeLedger())

	err := e.OpenSession(context.Background(), "roomX", "guild1")
	assert.ErrorIs(t, err, shared.ErrConfiguration)
	assert.Nil(t, e.Registry().Get("roomX"))
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIRM
// ══════════════════════════════════════════════════════════════════════════════

func TestConfirm(t *testing.T) {
	g := newFakeGateway()
	g.setOccupants("room1", "A", "B")
	l := newFakeLedger()
	e := newTestEngine(g, l)
	require.NoError(t, e.OpenSession(context.Background(), "room1", "guild1"))
	s := e.Registry().Get("room1")

	out, err := e.Confirm(context.Background(), s.Token, "A")
	require.NoError(t, err)
	assert.True(t, out.Credited)
	assert.Equal(t, 50, out.XP)
	assert.Equal(t, 50, l.credits["A"])
	e.Shutdown()
}

func TestConfirmRepeatCreditsOnce(t *testing.T) {
	g := newFakeGateway()
	g.setOccupants("room1", "A")
	l := newFakeLedger()
	e := newTestEngine(g, l)
	require.NoError(t, e.OpenSession(context.Background(), "room1", "guild1"))
	s := e.Registry().Get("room1")

	_, err := e.Confirm(context.Background(), s.Token, "A")
	require.NoError(t, err)
	out, err := e.Confirm(context.Background(), s.Token, "A")
	require.NoError(t, err)

	assert.True(t, out.Repeat)
	assert.False(t, out.Credited)
	assert.Equal(t, 50, l.credits["A"], "repeat confirmation must credit exactly once")
	e.Shutdown()
}

func TestConfirmUnknownTokenRejected(t *testing.T) {
	e := newTestEngine(newFakeGateway(), newFakeLedger())

	_, err := e.Confirm(context.Background(), "bogus-token", "A")
	assert.ErrorIs(t, err, shared.ErrStaleReference)
}

func TestConfirmStaleTokenFromPreviousSession(t *testing.T) {
	g := newFakeGateway()
	g.setOccupants("room1", "A")
	e := newTestEngine(g, newFakeLedger())
	require.NoError(t, e.OpenSession(context.Background(), "room1", "guild1"))
	oldToken := e.Registry().Get("room1").Token
	require.NoError(t, e.ForceEnd(context.Background(), "room1"))

	// Reopen the same room; the old button must not confirm into the new window.
	require.NoError(t, e.OpenSession(context.Background(), "room1", "guild1"))
	_, err := e.Confirm(context.Background(), oldToken, "A")
	assert.ErrorIs(t, err, shared.ErrStaleReference)
	e.Shutdown()
}

func TestConfirmRejectsAbsentUser(t *testing.T) {
	g := newFakeGateway()
	g.setOccupants("room1", "A", "B")
	l := newFakeLedger()
	e := newTestEngine(g, l)
	require.NoError(t, e.OpenSession(context.Background(), "room1", "guild1"))
	s := e.Registry().Get("room1")

	// B leaves, then taps the button anyway.
	g.setOccupants("room1", "A")
	_, err := e.Confirm(context.Background(), s.Token, "B")
	assert.ErrorIs(t, err, shared.ErrInvalidState)
	assert.Zero(t, l.credits["B"])
	e.Shutdown()
}

func TestConfirmLateJoinerAllowed(t *testing.T) {
	g := newFakeGateway()
	g.setOccupants("room1", "A")
	l := newFakeLedger()
	e := newTestEngine(g, l)
	require.NoError(t, e.OpenSession(context.Background(), "room1", "guild1"))
	s := e.Registry().Get("room1")

	// Z joins after the window opened and confirms: credited but never liable.
	g.setOccupants("room1", "A", "Z")
	out, err := e.Confirm(context.Background(), s.Token, "Z")
	require.NoError(t, err)
	assert.True(t, out.Credited)
	assert.Equal(t, 50, l.credits["Z"])
	e.Shutdown()
}

// ══════════════════════════════════════════════════════════════════════════════
// ENFORCEMENT
// ══════════════════════════════════════════════════════════════════════════════

func TestEnforcementScenario(t *testing.T) {
	// expected = {A,B,C}; B confirms; C leaves before deadline => enforce {A}.
	g := newFakeGateway()
	g.setOccupants("room1", "A", "B", "C")
	l := newFakeLedger()
	e := newTestEngine(g, l)
	require.NoError(t, e.OpenSession(context.Background(), "room1", "guild1"))
	s := e.Registry().Get("room1")

	_, err := e.Confirm(context.Background(), s.Token, "B")
	require.NoError(t, err)
	g.setOccupants("room1", "A", "B")

	e.fireDeadline(context.Background(), "room1", s.Token)

	assert.Equal(t, []string{"A"}, g.removals)
	assert.Equal(t, 1, l.flags["A"])
	assert.Zero(t, l.flags["B"])
	assert.Zero(t, l.flags["C"])
	assert.Nil(t, e.Registry().Get("room1"))
	assert.Zero(t, e.timers.pending())
}

func TestEnforcementCapabilityFallbackAggregateNotice(t *testing.T) {
	g := newFakeGateway()
	g.canRemove = false
	g.setOccupants("room1", "A", "B")
	l := newFakeLedger()
	e := newTestEngine(g, l)
	require.NoError(t, e.OpenSession(context.Background(), "room1", "guild1"))
	s := e.Registry().Get("room1")

	e.fireDeadline(context.Background(), "room1", s.Token)

	// One aggregate notice, never one per user; infractions still flagged.
	assert.Len(t, g.notices, 1)
	assert.Empty(t, g.dms)
	assert.Equal(t, 1, l.flags["A"])
	assert.Equal(t, 1, l.flags["B"])
}

func TestEnforcementCapabilityFallbackDMWithoutMappedChannel(t *testing.T) {
	g := newFakeGateway()
	g.canRemove = false
	g.setOccupants("room1", "A", "B")
	l := newFakeLedger()

	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.RoomChannels = map[string]string{"room1": "chan1"}
	e := New(g, l, cfg)
	require.NoError(t, e.OpenSession(context.Background(), "room1", "guild1"))
	s := e.Registry().Get("room1")

	// Drop the mapping after open: enforcement now has no aggregate channel.
	e.roomChannels = map[string]string{}
	e.fireDeadline(context.Background(), "room1", s.Token)

	assert.Empty(t, g.notices)
	assert.ElementsMatch(t, []string{"A", "B"}, g.dms)
	assert.Equal(t, 1, l.flags["A"])
}

func TestForceEnd(t *testing.T) {
	g := newFakeGateway()
	g.setOccupants("room1", "A", "B")
	l := newFakeLedger()
	e := newTestEngine(g, l)
	require.NoError(t, e.OpenSession(context.Background(), "room1", "guild1"))
	s := e.Registry().Get("room1")
	_, err := e.Confirm(context.Background(), s.Token, "A")
	require.NoError(t, err)

	require.NoError(t, e.ForceEnd(context.Background(), "room1"))

	assert.Equal(t, []string{"B"}, g.removals)
	assert.Nil(t, e.Registry().Get("room1"))
	assert.Zero(t, e.timers.pending(), "force-end must cancel the deadline timer")

	assert.ErrorIs(t, e.ForceEnd(context.Background(), "room1"), shared.ErrNotFound)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROMPT DELETION
// ══════════════════════════════════════════════════════════════════════════════

func TestPromptDeletionCancelsSession(t *testing.T) {
	g := newFakeGateway()
	g.setOccupants("room1", "A", "B")
	l := newFakeLedger()
	e := newTestEngine(g, l)
	require.NoError(t, e.OpenSession(context.Background(), "room1", "guild1"))
	s := e.Registry().Get("room1")
	token := s.Token

	e.HandlePromptDeleted(context.Background(), s.Prompt.ChannelID, s.Prompt.MessageID)

	assert.Nil(t, e.Registry().Get("room1"))
	assert.Zero(t, e.timers.pending(), "deadline timer must not leak")

	// A deadline fire that raced the deletion must be a no-op.
	e.fireDeadline(context.Background(), "room1", token)
	assert.Empty(t, g.removals)
	assert.Zero(t, l.flags["A"])
}

func TestPromptDeletionUnrelatedMessageIgnored(t *testing.T) {
	g := newFakeGateway()
	g.setOccupants("room1", "A")
	e := newTestEngine(g, newFakeLedger())
	require.NoError(t, e.OpenSession(context.Background(), "room1", "guild1"))

	e.HandlePromptDeleted(context.Background(), "chan1", "some-other-message")
	assert.NotNil(t, e.Registry().Get("room1"))
	e.Shutdown()
}

func TestDeadlineTimerFiresOnce(t *testing.T) {
	g := newFakeGateway()
	g.setOccupants("room1", "A")
	l := newFakeLedger()

	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.RoomChannels = map[string]string{"room1": "chan1"}
	cfg.ConfirmWindow = 20 * time.Millisecond
	e := New(g, l, cfg)
	require.NoError(t, e.OpenSession(context.Background(), "room1", "guild1"))

	assert.Eventually(t, func() bool {
		return e.Registry().Get("room1") == nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, l.flags["A"])

	// Independent sessions in other rooms are unaffected by room1's lifecycle.
	g.setOccupants("room2", "X")
	require.NoError(t, e.OpenSession(context.Background(), "room2", "guild1"))
	assert.NotNil(t, e.Registry().Get("room2"))
	e.Shutdown()
}

func TestSessionsAcrossRoomsIndependent(t *testing.T) {
	g := newFakeGateway()
	g.setOccupants("room1", "A")
	g.setOccupants("room2", "B")
	l := newFakeLedger()
	e := newTestEngine(g, l)

	require.NoError(t, e.OpenSession(context.Background(), "room1", "guild1"))
	require.NoError(t, e.OpenSession(context.Background(), "room2", "guild1"))

	s1 := e.Registry().Get("room1")
	require.NoError(t, e.ForceEnd(context.Background(), "room1"))

	assert.Nil(t, e.Registry().Get("room1"))
	assert.NotNil(t, e.Registry().Get("room2"))
	assert.NotEqual(t, s1.Token, e.Registry().Get("room2").Token)
	e.Shutdown()
}

func TestTimerCancelExactlyOnce(t *testing.T) {
	tt := newTimerTable()
	fired := make(chan struct{}, 1)
	tt.schedule("room1", time.Hour, func() { fired <- struct{}{} })

	assert.True(t, tt.cancel("room1"))
	assert.False(t, tt.cancel("room1"), "second cancel must report nothing pending")
	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(50 * time.Millisecond):
	}
}
