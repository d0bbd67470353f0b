// Package breakwatch implements the Break Monitor: a lightweight state
// machine per (user, room) pair that nags users who linger in designated
// break rooms past a dwell threshold, and detects excessive break frequency
// over a rolling window.
package breakwatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/focushall/focushall-bot/internal/domain/breakroom"
	"github.com/focushall/focushall-bot/internal/domain/notification"
	"github.com/focushall/focushall-bot/internal/domain/shared"
)

// Config contains configuration for the break monitor.
type Config struct {
	// NagDelay is the dwell threshold before a reminder fires (default: 15m).
	NagDelay time.Duration

	// JoinThreshold is how many break joins within the rolling window draw a
	// frequency nag (default: 3).
	JoinThreshold int

	// BreakRooms is the set of designated break room ids. Joins to any other
	// room are ignored.
	BreakRooms map[string]struct{}

	// Logger for structured logging.
	Logger *slog.Logger

	// Events receives domain events (may be nil).
	Events shared.EventPublisher

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		NagDelay:      15 * time.Minute,
		JoinThreshold: 3,
	}
}

// watchEntry pairs a live watch with its pending reminder timer.
type watchEntry struct {
	watch breakroom.Watch
	timer *time.Timer
	once  sync.Once
}

func (e *watchEntry) cancel() {
	e.once.Do(func() {
		e.timer.Stop()
	})
}

// Monitor tracks users inside designated break rooms. One watch exists per
// (user, room) pair while the user remains continuously in the room; leaving
// cancels the pending reminder.
type Monitor struct {
	mu        sync.Mutex
	watches   map[breakroom.WatchKey]*watchEntry
	histories map[string]*breakroom.JoinHistory // userID -> rolling join window

	gateway notification.Gateway

	nagDelay   time.Duration
	threshold  int
	breakRooms map[string]struct{}

	logger *slog.Logger
	events shared.EventPublisher
	now    func() time.Time
}

// New creates a break monitor.
func New(gateway notification.Gateway, cfg Config) *Monitor {
	if cfg.NagDelay <= 0 {
		cfg.NagDelay = 15 * time.Minute
	}
	if cfg.JoinThreshold <= 0 {
		cfg.JoinThreshold = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Monitor{
		watches:    make(map[breakroom.WatchKey]*watchEntry),
		histories:  make(map[string]*breakroom.JoinHistory),
		gateway:    gateway,
		nagDelay:   cfg.NagDelay,
		threshold:  cfg.JoinThreshold,
		breakRooms: cfg.BreakRooms,
		logger:     cfg.Logger,
		events:     cfg.Events,
		now:        cfg.Now,
	}
}

// IsBreakRoom reports whether the room is a designated break room.
func (m *Monitor) IsBreakRoom(roomID string) bool {
	_, ok := m.breakRooms[roomID]
	return ok
}

// HandleJoin starts a watch when a user enters a designated break room. A
// repeat join while a watch is already live (duplicate voice events) is a
// no-op. Returns whether a frequency nag was sent.
func (m *Monitor) HandleJoin(ctx context.Context, userID, roomID string) bool {
	if !m.IsBreakRoom(roomID) {
		return false
	}
	now := m.now()
	key := breakroom.WatchKey{UserID: userID, RoomID: roomID}

	m.mu.Lock()
	if _, live := m.watches[key]; live {
		m.mu.Unlock()
		return false
	}

	w := breakroom.Watch{UserID: userID, RoomID: roomID, JoinedAt: now}
	entry := &watchEntry{watch: w}
	entry.timer = time.AfterFunc(m.nagDelay, func() {
		m.fireReminder(context.Background(), key)
	})
	m.watches[key] = entry

	h := m.histories[userID]
	if h == nil {
		h = &breakroom.JoinHistory{}
		m.histories[userID] = h
	}
	joins := h.RecordJoin(now)
	nag := h.ShouldNag(m.threshold)
	if nag {
		h.MarkNagged(now)
	}
	m.mu.Unlock()

	m.logger.Debug("break watch started",
		"user_id", userID, "room_id", roomID, "joins_in_window", joins)

	if nag {
		m.sendFrequencyNag(ctx, userID, roomID, joins)
	}
	return nag
}

// HandleLeave ends the watch when the user leaves the break room, cancelling
// the pending reminder. Unknown (user, room) pairs are ignored.
func (m *Monitor) HandleLeave(_ context.Context, userID, roomID string) {
	key := breakroom.WatchKey{UserID: userID, RoomID: roomID}

	m.mu.Lock()
	entry, ok := m.watches[key]
	if ok {
		delete(m.watches, key)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	entry.cancel()
	m.logger.Debug("break watch ended",
		"user_id", userID, "room_id", roomID,
		"dwell", entry.watch.Dwell(m.now()).String())
}

// fireReminder is the dwell timer callback. The user may have left between
// scheduling and firing; the table lookup and a live-occupancy re-check guard
// against reminding a user who is no longer there.
func (m *Monitor) fireReminder(ctx context.Context, key breakroom.WatchKey) {
	m.mu.Lock()
	entry, ok := m.watches[key]
	if ok {
		delete(m.watches, key)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	occupants, err := m.gateway.LiveOccupants(ctx, key.RoomID)
	if err != nil {
		m.logger.Warn("reminder skipped, cannot verify occupancy",
			"room_id", key.RoomID, "error", err)
		return
	}
	present := false
	for _, id := range occupants {
		if id == key.UserID {
			present = true
			break
		}
	}
	if !present {
		// Departed without a leave event reaching us. Nothing to nag.
		return
	}

	dwell := entry.watch.Dwell(m.now())
	text := fmt.Sprintf("You've been on break for %d minutes. Time to get back to focus?",
		int(dwell.Minutes()))
	if _, err := m.gateway.SendDirect(ctx, key.UserID, text); err != nil {
		m.logger.Warn("break reminder failed",
			"user_id", key.UserID, "error", err)
		return
	}

	m.logger.Info("break reminder sent",
		"user_id", key.UserID, "room_id", key.RoomID, "dwell", dwell.String())
	m.publish(shared.NewBreakReminderSentEvent(key.UserID, key.RoomID, dwell))
}

// sendFrequencyNag delivers the excessive-break-frequency nag. Sent at most
// once per rolling window; the marker was set under the lock in HandleJoin.
func (m *Monitor) sendFrequencyNag(ctx context.Context, userID, roomID string, joins int) {
	text := fmt.Sprintf("That's your %s break in the last hour. Consider a longer focus block.",
		ordinal(joins))
	if _, err := m.gateway.SendDirect(ctx, userID, text); err != nil {
		m.logger.Warn("frequency nag failed", "user_id", userID, "error", err)
		return
	}
	m.logger.Info("frequency nag sent",
		"user_id", userID, "room_id", roomID, "joins_in_window", joins)
	m.publish(shared.NewBreakNagSentEvent(userID, roomID, joins))
}

// ActiveWatches reports how many watches are live, for diagnostics.
func (m *Monitor) ActiveWatches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}

// JoinsInWindow reports the user's break joins in the current rolling window.
func (m *Monitor) JoinsInWindow(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.histories[userID]
	if h == nil {
		return 0
	}
	return h.Count(m.now())
}

// Shutdown cancels all pending reminder timers.
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, entry := range m.watches {
		entry.cancel()
		delete(m.watches, key)
	}
}

func (m *Monitor) publish(event shared.Event) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(event); err != nil {
		m.logger.Warn("event publish failed", "event_type", event.EventType(), "error", err)
	}
}

func ordinal(n int) string {
	switch n % 10 {
	case 1:
		if n%100 != 11 {
			return fmt.Sprintf("%dst", n)
		}
	case 2:
		if n%100 != 12 {
			return fmt.Sprintf("%dnd", n)
		}
	case 3:
		if n%100 != 13 {
			return fmt.Sprintf("%drd", n)
		}
	}
	return fmt.Sprintf("%dth", n)
}
