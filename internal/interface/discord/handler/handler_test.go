package handler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focushall/focushall-bot/internal/application/engine"
	"github.com/focushall/focushall-bot/internal/application/trigger"
	"github.com/focushall/focushall-bot/internal/domain/ledger"
	"github.com/focushall/focushall-bot/internal/domain/shared"
	"github.com/focushall/focushall-bot/internal/infrastructure/persistence/projections"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeTriggerSink struct {
	lastSignal trigger.Signal
	err        error
}

func (f *fakeTriggerSink) Handle(_ context.Context, sig trigger.Signal) error {
	f.lastSignal = sig
	return f.err
}

type fakeConfirmer struct {
	outcome engine.ConfirmOutcome
	err     error
}

func (f *fakeConfirmer) Confirm(_ context.Context, _, _ string) (engine.ConfirmOutcome, error) {
	return f.outcome, f.err
}

type fakeEnder struct {
	endedRoom string
	err       error
}

func (f *fakeEnder) ForceEnd(_ context.Context, roomID string) error {
	f.endedRoom = roomID
	return f.err
}

type fakeLedger struct {
	stats *ledger.UserStats
	err   error
}

func (f *fakeLedger) Credit(context.Context, string, int) error { return nil }
func (f *fakeLedger) Flag(context.Context, string) error        { return nil }
func (f *fakeLedger) Get(context.Context, string) (*ledger.UserStats, error) {
	return f.stats, f.err
}

type fakeActivity struct {
	entries []projections.RoomActivityEntry
}

func (f *fakeActivity) RecentActivity(string) []projections.RoomActivityEntry {
	return f.entries
}

// ══════════════════════════════════════════════════════════════════════════════
// FOCUS
// ══════════════════════════════════════════════════════════════════════════════

func TestFocusHandlerForwardsSignal(t *testing.T) {
	sink := &fakeTriggerSink{}
	h := NewFocusHandler(sink)

	resp, err := h.Handle(context.Background(), FocusRequest{
		UserID:    "user-1",
		GuildID:   "guild-1",
		ChannelID: "channel-1",
		RoomID:    "room-1",
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "room-1")

	// Slash commands carry no message id, so they skip message dedup.
	assert.Equal(t, "", sink.lastSignal.MessageID)
	assert.Equal(t, "user-1", sink.lastSignal.AuthorID)
	assert.Equal(t, "room-1", sink.lastSignal.ExplicitRoomID)
}

func TestFocusHandlerOutcomeMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"duplicate", shared.ErrDuplicateSignal, "already running"},
		{"unresolved", shared.ErrUnresolvedRoom, "which room"},
		{"empty room", shared.ErrRoomEmpty, "empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewFocusHandler(&fakeTriggerSink{err: tt.err})
			resp, err := h.Handle(context.Background(), FocusRequest{UserID: "user-1", ChannelID: "channel-1"})
			require.NoError(t, err)
			assert.Contains(t, resp.Text, tt.want)
		})
	}
}

func TestFocusHandlerPropagatesUnexpectedError(t *testing.T) {
	boom := errors.New("redis down")
	h := NewFocusHandler(&fakeTriggerSink{err: boom})

	_, err := h.Handle(context.Background(), FocusRequest{UserID: "user-1"})
	assert.ErrorIs(t, err, boom)
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIRM
// ══════════════════════════════════════════════════════════════════════════════

func TestConfirmHandlerCredited(t *testing.T) {
	h := NewConfirmHandler(&fakeConfirmer{outcome: engine.ConfirmOutcome{Credited: true, XP: 50}})

	resp, err := h.Handle(context.Background(), ConfirmRequest{UserID: "user-1", Token: "tok"})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "+50 XP")
}

func TestConfirmHandlerRepeatClick(t *testing.T) {
	h := NewConfirmHandler(&fakeConfirmer{outcome: engine.ConfirmOutcome{Repeat: true}})

	resp, err := h.Handle(context.Background(), ConfirmRequest{UserID: "user-1", Token: "tok"})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "already counted")
}

func TestConfirmHandlerStaleToken(t *testing.T) {
	h := NewConfirmHandler(&fakeConfirmer{err: shared.ErrUnknownToken})

	resp, err := h.Handle(context.Background(), ConfirmRequest{UserID: "user-1", Token: "old"})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "expired")
}

func TestConfirmHandlerNotInRoom(t *testing.T) {
	h := NewConfirmHandler(&fakeConfirmer{err: shared.ErrNotInRoom})

	resp, err := h.Handle(context.Background(), ConfirmRequest{UserID: "user-1", Token: "tok"})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "voice room")
}

// ══════════════════════════════════════════════════════════════════════════════
// END SESSION
// ══════════════════════════════════════════════════════════════════════════════

func TestEndSessionRequiresAdmin(t *testing.T) {
	ender := &fakeEnder{}
	h := NewEndSessionHandler(ender, []string{"admin-1"})

	resp, err := h.Handle(context.Background(), EndSessionRequest{UserID: "user-1", RoomID: "room-1"})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "not allowed")
	assert.Equal(t, "", ender.endedRoom)
}

func TestEndSessionForceEnds(t *testing.T) {
	ender := &fakeEnder{}
	h := NewEndSessionHandler(ender, []string{"admin-1"})

	resp, err := h.Handle(context.Background(), EndSessionRequest{UserID: "admin-1", RoomID: "room-1"})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "ended")
	assert.Equal(t, "room-1", ender.endedRoom)
}

func TestEndSessionNoLiveSession(t *testing.T) {
	h := NewEndSessionHandler(&fakeEnder{err: shared.ErrSessionNotFound}, []string{"admin-1"})

	resp, err := h.Handle(context.Background(), EndSessionRequest{UserID: "admin-1", RoomID: "room-1"})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "No live session")
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

func TestStatusRendersStatsAndActivity(t *testing.T) {
	stats := &ledger.UserStats{
		UserID:          "user-1",
		XP:              450,
		Streak:          3,
		BestStreak:      7,
		LastConfirmedAt: time.Now().Add(-2 * time.Hour),
	}
	activity := &fakeActivity{entries: []projections.RoomActivityEntry{
		{RoomID: "room-1", ClosedAt: time.Now().Add(-time.Hour), ConfirmedCount: 4, EnforcedCount: 1},
	}}
	h := NewStatusHandler(&fakeLedger{stats: stats}, activity)

	resp, err := h.Handle(context.Background(), StatusRequest{UserID: "user-1", RoomID: "room-1"})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "450")
	assert.Contains(t, resp.Text, "4 confirmed")
	assert.Contains(t, resp.Text, "1 removed")
}

func TestStatusFirstTimeUser(t *testing.T) {
	h := NewStatusHandler(&fakeLedger{err: shared.ErrStatsNotFound}, nil)

	resp, err := h.Handle(context.Background(), StatusRequest{UserID: "new-user"})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "No stats yet")
}

func TestStatusPropagatesStorageError(t *testing.T) {
	boom := errors.New("pool closed")
	h := NewStatusHandler(&fakeLedger{err: boom}, nil)

	_, err := h.Handle(context.Background(), StatusRequest{UserID: "user-1"})
	assert.ErrorIs(t, err, boom)
}

func TestStatusCapsRecentActivity(t *testing.T) {
	entries := make([]projections.RoomActivityEntry, 10)
	for i := range entries {
		entries[i] = projections.RoomActivityEntry{RoomID: "room-1", ClosedAt: time.Now(), ConfirmedCount: i}
	}
	h := NewStatusHandler(&fakeLedger{err: shared.ErrStatsNotFound}, &fakeActivity{entries: entries})

	resp, err := h.Handle(context.Background(), StatusRequest{UserID: "user-1", RoomID: "room-1"})
	require.NoError(t, err)
	// 5 bullet lines at most.
	assert.Equal(t, 5, strings.Count(resp.Text, "• "))
}
