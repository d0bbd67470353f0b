// Package projections contains event-fed read models. The session audit
// projection listens on the event bus and turns the engine's in-memory
// session lifecycle into durable audit rows plus a small in-memory view of
// recent room activity for status queries.
package projections

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/focushall/focushall-bot/internal/domain/shared"
	"github.com/focushall/focushall-bot/internal/infrastructure/messaging"
	"github.com/focushall/focushall-bot/internal/infrastructure/persistence/postgres"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORDER CONTRACTS
// ══════════════════════════════════════════════════════════════════════════════

// SessionRecorder persists one closed-session audit row.
type SessionRecorder interface {
	Record(ctx context.Context, entry postgres.SessionLogEntry) error
}

// InfractionRecorder persists one infraction row.
type InfractionRecorder interface {
	Record(ctx context.Context, userID, roomID, reason string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION AUDIT PROJECTION
// ══════════════════════════════════════════════════════════════════════════════

// RoomActivityEntry is one closed session in the in-memory view.
type RoomActivityEntry struct {
	RoomID         string
	ClosedAt       time.Time
	CloseReason    string
	ConfirmedCount int
	EnforcedCount  int
	Duration       time.Duration
}

type openSession struct {
	guildID  string
	openedAt time.Time
	expected int
	enforced int
}

// SessionAuditProjection correlates session lifecycle events into audit rows.
// A session produces one row, written at close time. Open-session state lives
// only in memory: a session that was open across a process restart is logged
// with whatever the close event carries.
type SessionAuditProjection struct {
	sessions    SessionRecorder
	infractions InfractionRecorder
	logger      *slog.Logger

	writeTimeout time.Duration
	maxRecent    int

	mu     sync.Mutex
	open   map[string]*openSession
	recent map[string][]RoomActivityEntry
}

// SessionAuditConfig configures the projection.
type SessionAuditConfig struct {
	Sessions    SessionRecorder
	Infractions InfractionRecorder
	Logger      *slog.Logger

	// WriteTimeout bounds each database write (default 5s).
	WriteTimeout time.Duration

	// MaxRecentPerRoom caps the in-memory view (default 20).
	MaxRecentPerRoom int
}

// NewSessionAuditProjection creates the projection.
func NewSessionAuditProjection(cfg SessionAuditConfig) *SessionAuditProjection {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.MaxRecentPerRoom <= 0 {
		cfg.MaxRecentPerRoom = 20
	}
	return &SessionAuditProjection{
		sessions:     cfg.Sessions,
		infractions:  cfg.Infractions,
		logger:       cfg.Logger.With("component", "session_audit"),
		writeTimeout: cfg.WriteTimeout,
		maxRecent:    cfg.MaxRecentPerRoom,
		open:         make(map[string]*openSession),
		recent:       make(map[string][]RoomActivityEntry),
	}
}

// Register attaches the projection's handlers to the dispatcher.
func (p *SessionAuditProjection) Register(d *messaging.Dispatcher) error {
	registrations := []struct {
		eventType shared.EventType
		name      string
		handler   shared.EventHandler
	}{
		{shared.EventSessionOpened, "audit.session_opened", p.onSessionOpened},
		{shared.EventSessionEnforced, "audit.session_enforced", p.onSessionEnforced},
		{shared.EventSessionClosed, "audit.session_closed", p.onSessionClosed},
		{shared.EventInfractionFlagged, "audit.infraction_flagged", p.onInfractionFlagged},
	}
	for _, reg := range registrations {
		if err := d.Register(reg.eventType, reg.name, reg.handler); err != nil {
			return err
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (p *SessionAuditProjection) onSessionOpened(event shared.Event) error {
	payload := event.Payload()
	roomID := payloadString(payload, "room_id")
	if roomID == "" {
		return nil
	}

	p.mu.Lock()
	p.open[roomID] = &openSession{
		guildID:  payloadString(payload, "guild_id"),
		openedAt: event.OccurredAt(),
		expected: payloadInt(payload, "expected_count"),
	}
	p.mu.Unlock()
	return nil
}

func (p *SessionAuditProjection) onSessionEnforced(event shared.Event) error {
	payload := event.Payload()
	roomID := payloadString(payload, "room_id")

	p.mu.Lock()
	if sess, ok := p.open[roomID]; ok {
		sess.enforced = payloadInt(payload, "removed_count") + payloadInt(payload, "notified_count")
	}
	p.mu.Unlock()
	return nil
}

func (p *SessionAuditProjection) onSessionClosed(event shared.Event) error {
	payload := event.Payload()
	roomID := payloadString(payload, "room_id")
	if roomID == "" {
		return nil
	}
	closedAt := event.OccurredAt()
	duration := payloadDuration(payload, "duration")

	p.mu.Lock()
	sess := p.open[roomID]
	delete(p.open, roomID)
	p.mu.Unlock()

	entry := postgres.SessionLogEntry{
		RoomID:         roomID,
		ClosedAt:       closedAt,
		OpenedAt:       closedAt.Add(-duration),
		CloseReason:    payloadString(payload, "reason"),
		ConfirmedCount: payloadInt(payload, "confirmed_count"),
	}
	if sess != nil {
		entry.GuildID = sess.guildID
		entry.OpenedAt = sess.openedAt
		entry.ExpectedCount = sess.expected
		entry.EnforcedCount = sess.enforced
	}

	p.remember(RoomActivityEntry{
		RoomID:         roomID,
		ClosedAt:       closedAt,
		CloseReason:    entry.CloseReason,
		ConfirmedCount: entry.ConfirmedCount,
		EnforcedCount:  entry.EnforcedCount,
		Duration:       duration,
	})

	ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
	defer cancel()
	if err := p.sessions.Record(ctx, entry); err != nil {
		p.logger.Error("failed to record closed session",
			"room_id", roomID,
			"reason", entry.CloseReason,
			"error", err)
		return err
	}
	return nil
}

func (p *SessionAuditProjection) onInfractionFlagged(event shared.Event) error {
	payload := event.Payload()
	userID := payloadString(payload, "user_id")
	if userID == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
	defer cancel()
	if err := p.infractions.Record(ctx, userID, payloadString(payload, "room_id"), "missed_confirmation"); err != nil {
		p.logger.Error("failed to record infraction",
			"user_id", userID,
			"error", err)
		return err
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// RecentActivity returns the most recent closed sessions for a room, newest
// first, from the in-memory view.
func (p *SessionAuditProjection) RecentActivity(roomID string) []RoomActivityEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := p.recent[roomID]
	out := make([]RoomActivityEntry, len(entries))
	copy(out, entries)
	return out
}

// OpenSessionCount returns how many sessions the projection believes are open.
func (p *SessionAuditProjection) OpenSessionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.open)
}

func (p *SessionAuditProjection) remember(entry RoomActivityEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := append([]RoomActivityEntry{entry}, p.recent[entry.RoomID]...)
	if len(entries) > p.maxRecent {
		entries = entries[:p.maxRecent]
	}
	p.recent[entry.RoomID] = entries
}

// ══════════════════════════════════════════════════════════════════════════════
// PAYLOAD HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// Payload values arrive as native types from the in-memory bus and as JSON
// types (float64, string) from the Redis bus; both shapes are accepted.

func payloadString(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadInt(payload map[string]interface{}, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func payloadDuration(payload map[string]interface{}, key string) time.Duration {
	switch v := payload[key].(type) {
	case time.Duration:
		return v
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0
		}
		return d
	default:
		return 0
	}
}
