// Package shared contains common domain types, errors, and events that are
// used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Each event represents something significant that happened in the domain.
const (
	// Focus session events
	EventSessionOpened    EventType = "session.opened"
	EventPresenceConfirmed EventType = "session.presence_confirmed"
	EventSessionEnforced  EventType = "session.enforced"
	EventSessionClosed    EventType = "session.closed"

	// Break room events
	EventBreakWatchStarted EventType = "breakroom.watch_started"
	EventBreakNagSent      EventType = "breakroom.nag_sent"
	EventBreakReminderSent EventType = "breakroom.reminder_sent"

	// Ledger events
	EventXPCredited       EventType = "ledger.xp_credited"
	EventInfractionFlagged EventType = "ledger.infraction_flagged"
	EventStreakUpdated    EventType = "ledger.streak_updated"
	EventStreakBroken     EventType = "ledger.streak_broken"
	EventLedgerFlushed    EventType = "ledger.flushed"

	// Trigger events
	EventTriggerAccepted EventType = "trigger.accepted"
	EventTriggerDropped  EventType = "trigger.dropped"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Focus Session Events
// ═══════════════════════════════════════════════════════════════════════════

// SessionOpenedEvent is emitted when an attendance window opens for a room.
type SessionOpenedEvent struct {
	BaseEvent
	RoomID        string    `json:"room_id"`
	GuildID       string    `json:"guild_id"`
	ExpectedCount int       `json:"expected_count"`
	Deadline      time.Time `json:"deadline"`
}

// Payload implements Event interface.
func (e SessionOpenedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"room_id":        e.RoomID,
		"guild_id":       e.GuildID,
		"expected_count": e.ExpectedCount,
		"deadline":       e.Deadline.Format(time.RFC3339),
	}
}

// NewSessionOpenedEvent creates a new SessionOpenedEvent.
func NewSessionOpenedEvent(roomID, guildID string, expectedCount int, deadline time.Time) SessionOpenedEvent {
	return SessionOpenedEvent{
		BaseEvent:     NewBaseEvent(EventSessionOpened, roomID),
		RoomID:        roomID,
		GuildID:       guildID,
		ExpectedCount: expectedCount,
		Deadline:      deadline,
	}
}

// PresenceConfirmedEvent is emitted when a participant confirms presence.
type PresenceConfirmedEvent struct {
	BaseEvent
	RoomID     string `json:"room_id"`
	UserID     string `json:"user_id"`
	LateJoiner bool   `json:"late_joiner"` // confirmed but not in the open-time snapshot
	XPAwarded  int    `json:"xp_awarded"`
}

// Payload implements Event interface.
func (e PresenceConfirmedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"room_id":     e.RoomID,
		"user_id":     e.UserID,
		"late_joiner": e.LateJoiner,
		"xp_awarded":  e.XPAwarded,
	}
}

// NewPresenceConfirmedEvent creates a new PresenceConfirmedEvent.
func NewPresenceConfirmedEvent(roomID, userID string, lateJoiner bool, xpAwarded int) PresenceConfirmedEvent {
	return PresenceConfirmedEvent{
		BaseEvent:  NewBaseEvent(EventPresenceConfirmed, roomID),
		RoomID:     roomID,
		UserID:     userID,
		LateJoiner: lateJoiner,
		XPAwarded:  xpAwarded,
	}
}

// SessionEnforcedEvent is emitted after the enforcement pass completes.
type SessionEnforcedEvent struct {
	BaseEvent
	RoomID        string   `json:"room_id"`
	GuildID       string   `json:"guild_id"`
	EnforcedIDs   []string `json:"enforced_ids"`
	RemovedCount  int      `json:"removed_count"`
	NotifiedCount int      `json:"notified_count"`
}

// Payload implements Event interface.
func (e SessionEnforcedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"room_id":        e.RoomID,
		"guild_id":       e.GuildID,
		"enforced_ids":   e.EnforcedIDs,
		"removed_count":  e.RemovedCount,
		"notified_count": e.NotifiedCount,
	}
}

// NewSessionEnforcedEvent creates a new SessionEnforcedEvent.
func NewSessionEnforcedEvent(roomID, guildID string, enforcedIDs []string, removed, notified int) SessionEnforcedEvent {
	return SessionEnforcedEvent{
		BaseEvent:     NewBaseEvent(EventSessionEnforced, roomID),
		RoomID:        roomID,
		GuildID:       guildID,
		EnforcedIDs:   enforcedIDs,
		RemovedCount:  removed,
		NotifiedCount: notified,
	}
}

// SessionClosedEvent is emitted when a session reaches the Closed state.
type SessionClosedEvent struct {
	BaseEvent
	RoomID         string        `json:"room_id"`
	Reason         string        `json:"reason"` // "deadline", "admin", "prompt_deleted"
	ConfirmedCount int           `json:"confirmed_count"`
	Duration       time.Duration `json:"duration"`
}

// Payload implements Event interface.
func (e SessionClosedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"room_id":         e.RoomID,
		"reason":          e.Reason,
		"confirmed_count": e.ConfirmedCount,
		"duration":        e.Duration.String(),
	}
}

// NewSessionClosedEvent creates a new SessionClosedEvent.
func NewSessionClosedEvent(roomID, reason string, confirmedCount int, duration time.Duration) SessionClosedEvent {
	return SessionClosedEvent{
		BaseEvent:      NewBaseEvent(EventSessionClosed, roomID),
		RoomID:         roomID,
		Reason:         reason,
		ConfirmedCount: confirmedCount,
		Duration:       duration,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Break Room Events
// ═══════════════════════════════════════════════════════════════════════════

// BreakNagSentEvent is emitted when a user is nagged for excessive break joins.
type BreakNagSentEvent struct {
	BaseEvent
	UserID    string `json:"user_id"`
	RoomID    string `json:"room_id"`
	JoinCount int    `json:"join_count"` // joins within the rolling hour
}

// Payload implements Event interface.
func (e BreakNagSentEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"room_id":    e.RoomID,
		"join_count": e.JoinCount,
	}
}

// NewBreakNagSentEvent creates a new BreakNagSentEvent.
func NewBreakNagSentEvent(userID, roomID string, joinCount int) BreakNagSentEvent {
	return BreakNagSentEvent{
		BaseEvent: NewBaseEvent(EventBreakNagSent, userID),
		UserID:    userID,
		RoomID:    roomID,
		JoinCount: joinCount,
	}
}

// BreakReminderSentEvent is emitted when the dwell reminder fires.
type BreakReminderSentEvent struct {
	BaseEvent
	UserID    string        `json:"user_id"`
	RoomID    string        `json:"room_id"`
	DwellTime time.Duration `json:"dwell_time"`
}

// Payload implements Event interface.
func (e BreakReminderSentEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"room_id":    e.RoomID,
		"dwell_time": e.DwellTime.String(),
	}
}

// NewBreakReminderSentEvent creates a new BreakReminderSentEvent.
func NewBreakReminderSentEvent(userID, roomID string, dwell time.Duration) BreakReminderSentEvent {
	return BreakReminderSentEvent{
		BaseEvent: NewBaseEvent(EventBreakReminderSent, userID),
		UserID:    userID,
		RoomID:    roomID,
		DwellTime: dwell,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Ledger Events
// ═══════════════════════════════════════════════════════════════════════════

// XPCreditedEvent is emitted when a user gains XP.
type XPCreditedEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	Amount   int    `json:"amount"`
	NewTotal int    `json:"new_total"`
	Source   string `json:"source"` // e.g., "presence_confirmation"
}

// Payload implements Event interface.
func (e XPCreditedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"amount":    e.Amount,
		"new_total": e.NewTotal,
		"source":    e.Source,
	}
}

// NewXPCreditedEvent creates a new XPCreditedEvent.
func NewXPCreditedEvent(userID string, amount, newTotal int, source string) XPCreditedEvent {
	return XPCreditedEvent{
		BaseEvent: NewBaseEvent(EventXPCredited, userID),
		UserID:    userID,
		Amount:    amount,
		NewTotal:  newTotal,
		Source:    source,
	}
}

// InfractionFlaggedEvent is emitted when an enforcement flags a user.
type InfractionFlaggedEvent struct {
	BaseEvent
	UserID string `json:"user_id"`
	RoomID string `json:"room_id"`
	Total  int    `json:"total"` // infraction count after this flag, 0 if unknown
}

// Payload implements Event interface.
func (e InfractionFlaggedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id": e.UserID,
		"room_id": e.RoomID,
		"total":   e.Total,
	}
}

// NewInfractionFlaggedEvent creates a new InfractionFlaggedEvent.
func NewInfractionFlaggedEvent(userID, roomID string, total int) InfractionFlaggedEvent {
	return InfractionFlaggedEvent{
		BaseEvent: NewBaseEvent(EventInfractionFlagged, userID),
		UserID:    userID,
		RoomID:    roomID,
		Total:     total,
	}
}

// StreakBrokenEvent is emitted when a user's daily streak is broken.
type StreakBrokenEvent struct {
	BaseEvent
	UserID         string `json:"user_id"`
	PreviousStreak int    `json:"previous_streak"`
	DaysMissed     int    `json:"days_missed"`
}

// Payload implements Event interface.
func (e StreakBrokenEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":         e.UserID,
		"previous_streak": e.PreviousStreak,
		"days_missed":     e.DaysMissed,
	}
}

// NewStreakBrokenEvent creates a new StreakBrokenEvent.
func NewStreakBrokenEvent(userID string, previousStreak, daysMissed int) StreakBrokenEvent {
	return StreakBrokenEvent{
		BaseEvent:      NewBaseEvent(EventStreakBroken, userID),
		UserID:         userID,
		PreviousStreak: previousStreak,
		DaysMissed:     daysMissed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Trigger Events
// ═══════════════════════════════════════════════════════════════════════════

// TriggerAcceptedEvent is emitted when a trigger signal resolves to a room and
// passes deduplication.
type TriggerAcceptedEvent struct {
	BaseEvent
	RoomID   string `json:"room_id"`
	GuildID  string `json:"guild_id"`
	Resolver string `json:"resolver"`
}

// Payload implements Event interface.
func (e TriggerAcceptedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"room_id":  e.RoomID,
		"guild_id": e.GuildID,
		"resolver": e.Resolver,
	}
}

// NewTriggerAcceptedEvent creates a new TriggerAcceptedEvent.
func NewTriggerAcceptedEvent(roomID, guildID, resolver string) TriggerAcceptedEvent {
	return TriggerAcceptedEvent{
		BaseEvent: NewBaseEvent(EventTriggerAccepted, roomID),
		RoomID:    roomID,
		GuildID:   guildID,
		Resolver:  resolver,
	}
}

// TriggerDroppedEvent is emitted when a trigger signal is discarded: no room
// resolved, or a duplicate within the dedup window.
type TriggerDroppedEvent struct {
	BaseEvent
	RoomID string `json:"room_id,omitempty"`
	Reason string `json:"reason"`
}

// Payload implements Event interface.
func (e TriggerDroppedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"room_id": e.RoomID,
		"reason":  e.Reason,
	}
}

// NewTriggerDroppedEvent creates a new TriggerDroppedEvent.
func NewTriggerDroppedEvent(roomID, reason string) TriggerDroppedEvent {
	return TriggerDroppedEvent{
		BaseEvent: NewBaseEvent(EventTriggerDropped, roomID),
		RoomID:    roomID,
		Reason:    reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
