// Package session contains the focus session domain model: the attendance
// window opened for a voice room, the occupant snapshot taken at open time,
// and the confirmation bookkeeping that drives enforcement.
// This is a pure domain layer with zero external dependencies apart from uuid.
package session

import (
	"time"

	"github.com/google/uuid"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

// State represents the lifecycle state of a focus session.
type State string

const (
	// StateOpen - the attendance window is accepting confirmations.
	StateOpen State = "open"
	// StateEnforcing - the deadline fired (or an admin force-ended) and the
	// enforcement pass is running. Transient.
	StateEnforcing State = "enforcing"
	// StateClosed - the session is finished and removed from the registry.
	StateClosed State = "closed"
)

// IsValid checks that the state is one of the known values.
func (s State) IsValid() bool {
	switch s {
	case StateOpen, StateEnforcing, StateClosed:
		return true
	default:
		return false
	}
}

// CloseReason records which path closed a session.
type CloseReason string

const (
	// CloseReasonDeadline - the deadline timer fired and enforcement ran.
	CloseReasonDeadline CloseReason = "deadline"
	// CloseReasonAdmin - an administrator force-ended the session.
	CloseReasonAdmin CloseReason = "admin"
	// CloseReasonPromptDeleted - the confirmation prompt was deleted externally.
	CloseReasonPromptDeleted CloseReason = "prompt_deleted"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROMPT REFERENCE
// ══════════════════════════════════════════════════════════════════════════════

// PromptRef is an opaque handle to the posted confirmation prompt. It is used
// for later edits/deletion and for correlating an external message-delete
// event back to the owning session.
type PromptRef struct {
	ChannelID string
	MessageID string
}

// IsZero reports whether the reference was never set (prompt post failed).
func (r PromptRef) IsZero() bool {
	return r.ChannelID == "" && r.MessageID == ""
}

// ══════════════════════════════════════════════════════════════════════════════
// FOCUS SESSION
// ══════════════════════════════════════════════════════════════════════════════

// FocusSession is one attendance window for one voice room. At most one
// FocusSession may be live per room at any instant; the registry enforces
// that invariant.
type FocusSession struct {
	// RoomID is the monitored voice room (unique key).
	RoomID string

	// GuildID is the owning community.
	GuildID string

	// StartedAt is when the window opened.
	StartedAt time.Time

	// Deadline is the absolute time at which enforcement fires.
	Deadline time.Time

	// Token is the short-lived, session-unique confirmation token embedded in
	// the prompt's button. Never reused across sessions, even for the same
	// room, so a button from an already-closed session can never route into a
	// newer one.
	Token string

	// Prompt is the handle of the posted confirmation prompt.
	Prompt PromptRef

	// state tracks the lifecycle; mutate only through the methods below.
	state State

	// expected is the occupant snapshot captured at open time. It never grows.
	expected map[string]struct{}

	// confirmed is the set of users who confirmed before the deadline. It may
	// contain late joiners who were live in the room at confirmation time but
	// absent from the snapshot.
	confirmed map[string]struct{}

	closeReason CloseReason
}

// New creates an Open session for the given room with the occupant snapshot
// frozen to expected. The confirmation token is freshly generated.
func New(roomID, guildID string, expected []string, now time.Time, window time.Duration) *FocusSession {
	snap := make(map[string]struct{}, len(expected))
	for _, id := range expected {
		snap[id] = struct{}{}
	}
	return &FocusSession{
		RoomID:    roomID,
		GuildID:   guildID,
		StartedAt: now,
		Deadline:  now.Add(window),
		Token:     uuid.New().String(),
		state:     StateOpen,
		expected:  snap,
		confirmed: make(map[string]struct{}),
	}
}

// State returns the current lifecycle state.
func (s *FocusSession) State() State {
	return s.state
}

// IsOpen reports whether the session still accepts confirmations.
func (s *FocusSession) IsOpen() bool {
	return s.state == StateOpen
}

// CloseReason returns why the session closed (zero value while live).
func (s *FocusSession) CloseReason() CloseReason {
	return s.closeReason
}

// ExpectedCount returns the size of the open-time snapshot.
func (s *FocusSession) ExpectedCount() int {
	return len(s.expected)
}

// ConfirmedCount returns how many users have confirmed.
func (s *FocusSession) ConfirmedCount() int {
	return len(s.confirmed)
}

// IsExpected reports whether the user was in the room when the window opened.
func (s *FocusSession) IsExpected(userID string) bool {
	_, ok := s.expected[userID]
	return ok
}

// HasConfirmed reports whether the user already confirmed.
func (s *FocusSession) HasConfirmed(userID string) bool {
	_, ok := s.confirmed[userID]
	return ok
}

// ConfirmResult describes the outcome of recording a confirmation.
type ConfirmResult struct {
	// FirstTime is false for a repeat confirmation (no-op, no credit).
	FirstTime bool
	// LateJoiner is true when the user was not in the open-time snapshot.
	LateJoiner bool
}

// Confirm records a presence confirmation. The caller must have already
// validated that the user is live in the room; the snapshot is never trusted
// for that check. Returns FirstTime=false for a repeat confirmation.
func (s *FocusSession) Confirm(userID string) ConfirmResult {
	if _, dup := s.confirmed[userID]; dup {
		return ConfirmResult{FirstTime: false, LateJoiner: !s.IsExpected(userID)}
	}
	s.confirmed[userID] = struct{}{}
	return ConfirmResult{FirstTime: true, LateJoiner: !s.IsExpected(userID)}
}

// BeginEnforcement transitions Open -> Enforcing. Returns false if the
// session was not Open (a second deadline path lost the race).
func (s *FocusSession) BeginEnforcement() bool {
	if s.state != StateOpen {
		return false
	}
	s.state = StateEnforcing
	return true
}

// EnforcementSet computes the ids to enforce against: users who were expected,
// are still present now, and never confirmed. Late joiners are never liable,
// and users who left before the deadline are not chased.
func (s *FocusSession) EnforcementSet(stillPresent []string) []string {
	present := make(map[string]struct{}, len(stillPresent))
	for _, id := range stillPresent {
		present[id] = struct{}{}
	}
	out := make([]string, 0, len(s.expected))
	for id := range s.expected {
		if _, here := present[id]; !here {
			continue
		}
		if _, ok := s.confirmed[id]; ok {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Close transitions the session to Closed, recording the reason. Idempotent:
// a second Close is a no-op and returns false.
func (s *FocusSession) Close(reason CloseReason) bool {
	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed
	s.closeReason = reason
	return true
}

// Duration returns how long the session has been (or was) live.
func (s *FocusSession) Duration(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}

// ConfirmedIDs returns a copy of the confirmed set.
func (s *FocusSession) ConfirmedIDs() []string {
	out := make([]string, 0, len(s.confirmed))
	for id := range s.confirmed {
		out = append(out, id)
	}
	return out
}

// ExpectedIDs returns a copy of the open-time snapshot.
func (s *FocusSession) ExpectedIDs() []string {
	out := make([]string, 0, len(s.expected))
	for id := range s.expected {
		out = append(out, id)
	}
	return out
}
