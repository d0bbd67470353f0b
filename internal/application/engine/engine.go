// Package engine implements the Focus Session Presence Engine: it owns the
// open -> confirm -> enforce -> close lifecycle of attendance windows, one
// per voice room, and drives timeout enforcement against users who fail to
// confirm. All state lives in a session registry owned by the engine; timers
// are explicit cancellable handles and every close path cancels exactly once.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/focushall/focushall-bot/internal/domain/ledger"
	"github.com/focushall/focushall-bot/internal/domain/notification"
	"github.com/focushall/focushall-bot/internal/domain/session"
	"github.com/focushall/focushall-bot/internal/domain/shared"
)

// Config contains configuration for the presence engine.
type Config struct {
	// ConfirmWindow is the length of the attendance window (default: 60s).
	ConfirmWindow time.Duration

	// XPReward is the fixed amount credited for a confirmation (default: 50).
	XPReward int

	// RoomChannels maps a voice room id to its mapped text channel for
	// prompts and aggregate notices. Rooms without a mapping fall back to
	// direct messages for enforcement notices and cannot post prompts.
	RoomChannels map[string]string

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
		ConfirmWindow: 60 * time.Second,
		XPReward:      50,
	}
}

// Engine is the Focus Session Presence Engine.
type Engine struct {
	// mu serializes all state transitions. Gateway and ledger calls are made
	// outside the lock; every re-entry re-validates against the registry.
	mu sync.Mutex

	registry *session.Registry
	timers   *timerTable

	gateway notification.Gateway
	ledger  ledger.Ledger

	confirmWindow time.Duration
	xpReward      int
	roomChannels  map[string]string

	logger *slog.Logger
	events shared.EventPublisher
	now    func() time.Time
}

// New creates a presence engine.
func New(gateway notification.Gateway, ldg ledger.Ledger, cfg Config) *Engine {
	if cfg.ConfirmWindow <= 0 {
		cfg.ConfirmWindow = 60 * time.Second
	}
	if cfg.XPReward <= 0 {
		cfg.XPReward = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		registry:      session.NewRegistry(),
		timers:        newTimerTable(),
		gateway:       gateway,
		ledger:        ldg,
		confirmWindow: cfg.ConfirmWindow,
		xpReward:      cfg.XPReward,
		roomChannels:  cfg.RoomChannels,
		logger:        cfg.Logger,
		events:        cfg.Events,
		now:           cfg.Now,
	}
}

// Registry exposes the live session table for read-only queries (admin
// status commands, tests).
func (e *Engine) Registry() *session.Registry {
	return e.registry
}

// ══════════════════════════════════════════════════════════════════════════════
// OPEN
// ══════════════════════════════════════════════════════════════════════════════

// OpenSession opens an attendance window for a voice room. It is a guarded
// no-op when a session is already live for the room or when the room has no
// monitored occupants; both cases return a typed error callers may treat as
// benign.
func (e *Engine) OpenSession(ctx context.Context, roomID, guildID string) error {
	// Cheap pre-check before touching the network. The authoritative guard
	// is the registry Put below.
	if e.registry.Contains(roomID) {
		return shared.ErrSessionAlreadyOpen
	}

	occupants, err := e.gateway.LiveOccupants(ctx, roomID)
	if err != nil {
		return shared.WrapError("session", "Open", shared.ErrExternalService,
			"failed to query room occupants", err)
	}
	if len(occupants) == 0 {
		return shared.ErrRoomEmpty
	}

	now := e.now()
	s := session.New(roomID, guildID, occupants, now, e.confirmWindow)

	// Structural guard: two concurrent opens both reach here, exactly one
	// Put succeeds. A duplicate live session is unreachable past this point.
	if err := e.registry.Put(s); err != nil {
		return shared.ErrSessionAlreadyOpen
	}

	channelID := e.roomChannels[roomID]
	if channelID == "" {
		// No mapped channel means nowhere to post the prompt; the window
		// cannot run. Degrade to no-op rather than enforce blind.
		e.registry.Remove(roomID)
		e.logger.Warn("no mapped channel for room, dropping session",
			"room_id", roomID)
		return shared.ErrUnresolvedRoom
	}

	ref, err := e.gateway.PostPrompt(ctx, channelID,
		fmt.Sprintf("Focus time! Confirm your presence within %s.", e.confirmWindow),
		notification.Control{Label: "I'm here", Token: s.Token})
	if err != nil {
		e.registry.Remove(roomID)
		e.logger.Warn("prompt post failed, dropping session",
			"room_id", roomID, "error", err)
		return shared.WrapError("session", "Open", shared.ErrExternalService,
			"failed to post prompt", err)
	}

	e.mu.Lock()
	// The session may have been closed while the prompt was posting (admin
	// end or prompt deletion racing the post). Only arm the timer if it is
	// still the live session.
	if e.registry.Get(roomID) != s {
		e.mu.Unlock()
		return shared.ErrSessionClosed
	}
	s.Prompt = session.PromptRef{ChannelID: ref.ChannelID, MessageID: ref.MessageID}
	token := s.Token
	e.timers.schedule(roomID, s.Deadline.Sub(now), func() {
		e.fireDeadline(context.Background(), roomID, token)
	})
	e.mu.Unlock()

	e.logger.Info("session opened",
		"room_id", roomID,
		"guild_id", guildID,
		"expected", s.ExpectedCount(),
		"deadline", s.Deadline.Format(time.RFC3339),
	)
	e.publish(shared.NewSessionOpenedEvent(roomID, guildID, s.ExpectedCount(), s.Deadline))
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIRM
// ══════════════════════════════════════════════════════════════════════════════

// ConfirmOutcome describes what to tell the acting user.
type ConfirmOutcome struct {
	// Credited is true when XP was awarded (first confirmation).
	Credited bool
	// Repeat is true for an already-confirmed user (friendly no-op).
	Repeat bool
	// XP is the amount awarded when Credited.
	XP int
}

// Confirm processes a "confirm presence" action bearing a session token. A
// stale or unknown token is rejected; the user must be live in the room at
// confirmation time, re-validated against the gateway rather than trusted
// from the open-time snapshot.
func (e *Engine) Confirm(ctx context.Context, token, userID string) (ConfirmOutcome, error) {
	s := e.registry.GetByToken(token)
	if s == nil {
		return ConfirmOutcome{}, shared.ErrUnknownToken
	}

	// Live re-validation happens outside the lock; the session may close in
	// the meantime, which the second lookup below catches.
	occupants, err := e.gateway.LiveOccupants(ctx, s.RoomID)
	if err != nil {
		return ConfirmOutcome{}, shared.WrapError("session", "Confirm",
			shared.ErrExternalService, "failed to verify presence", err)
	}
	present := false
	for _, id := range occupants {
		if id == userID {
			present = true
			break
		}
	}
	if !present {
		return ConfirmOutcome{}, shared.ErrNotInRoom
	}

	e.mu.Lock()
	if e.registry.GetByToken(token) != s || !s.IsOpen() {
		e.mu.Unlock()
		return ConfirmOutcome{}, shared.ErrSessionClosed
	}
	res := s.Confirm(userID)
	e.mu.Unlock()

	if !res.FirstTime {
		return ConfirmOutcome{Repeat: true}, nil
	}

	// Credit exactly once per (session, user): FirstTime was decided under
	// the lock. A ledger failure is logged, not surfaced - the confirmation
	// itself stands.
	if err := e.ledger.Credit(ctx, userID, e.xpReward); err != nil {
		e.logger.Error("ledger credit failed",
			"user_id", userID, "room_id", s.RoomID, "error", err)
	}

	e.logger.Info("presence confirmed",
		"room_id", s.RoomID, "user_id", userID, "late_joiner", res.LateJoiner)
	e.publish(shared.NewPresenceConfirmedEvent(s.RoomID, userID, res.LateJoiner, e.xpReward))
	return ConfirmOutcome{Credited: true, XP: e.xpReward}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CLOSE PATHS
// ══════════════════════════════════════════════════════════════════════════════

// fireDeadline is the timer callback. It re-checks that the session is still
// live and still the one the timer was armed for before enforcing; a session
// closed by another path between scheduling and firing is left alone.
func (e *Engine) fireDeadline(ctx context.Context, roomID, token string) {
	e.mu.Lock()
	s := e.registry.Get(roomID)
	if s == nil || s.Token != token || !s.BeginEnforcement() {
		e.mu.Unlock()
		return
	}
	e.timers.remove(roomID)
	e.mu.Unlock()

	e.enforce(ctx, s)
	e.close(ctx, s, session.CloseReasonDeadline)
}

// ForceEnd lets an administrator end a session immediately; enforcement runs
// as if the deadline had fired. Returns ErrSessionNotFound when no window is
// open for the room.
func (e *Engine) ForceEnd(ctx context.Context, roomID string) error {
	e.mu.Lock()
	s := e.registry.Get(roomID)
	if s == nil {
		e.mu.Unlock()
		return shared.ErrSessionNotFound
	}
	if !s.BeginEnforcement() {
		// Deadline enforcement is already running; let it finish.
		e.mu.Unlock()
		return shared.ErrSessionClosed
	}
	e.timers.cancel(roomID)
	e.mu.Unlock()

	e.enforce(ctx, s)
	e.close(ctx, s, session.CloseReasonAdmin)
	return nil
}

// HandlePromptDeleted reacts to an external deletion of a message. If the
// message was a live session's prompt, the session closes without
// enforcement and its deadline timer is cancelled.
func (e *Engine) HandlePromptDeleted(ctx context.Context, channelID, messageID string) {
	e.mu.Lock()
	s := e.registry.GetByPrompt(channelID, messageID)
	if s == nil || !s.IsOpen() {
		e.mu.Unlock()
		return
	}
	// Mark closed under the lock so a racing deadline fire finds the state
	// changed and bails out.
	s.Close(session.CloseReasonPromptDeleted)
	e.timers.cancel(s.RoomID)
	e.registry.Remove(s.RoomID)
	e.mu.Unlock()

	e.logger.Info("prompt deleted externally, session cancelled",
		"room_id", s.RoomID)
	e.publish(shared.NewSessionClosedEvent(s.RoomID, string(session.CloseReasonPromptDeleted),
		s.ConfirmedCount(), s.Duration(e.now())))
}

// ══════════════════════════════════════════════════════════════════════════════
// ENFORCEMENT
// ══════════════════════════════════════════════════════════════════════════════

// enforce runs the enforcement pass for a session in the Enforcing state.
// Every pending user is processed even when individual side effects fail.
func (e *Engine) enforce(ctx context.Context, s *session.FocusSession) {
	stillPresent, err := e.gateway.LiveOccupants(ctx, s.RoomID)
	if err != nil {
		// Without a live occupant list there is nothing safe to enforce
		// against; flagging users who may have left would be wrong.
		e.logger.Error("enforcement skipped, cannot query occupants",
			"room_id", s.RoomID, "error", err)
		return
	}

	toEnforce := s.EnforcementSet(stillPresent)
	if len(toEnforce) == 0 {
		e.logger.Info("enforcement pass: everyone accounted for", "room_id", s.RoomID)
		return
	}

	removed := 0
	var notRemovable []string
	for _, userID := range toEnforce {
		err := e.gateway.RemoveFromRoom(ctx, s.GuildID, userID, s.RoomID)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, shared.ErrCapabilityDenied):
			notRemovable = append(notRemovable, userID)
		default:
			// Already left, network blip - logged, never aborts the pass.
			e.logger.Warn("removal failed",
				"room_id", s.RoomID, "user_id", userID, "error", err)
		}

		if ferr := e.ledger.Flag(ctx, userID); ferr != nil {
			e.logger.Error("ledger flag failed",
				"user_id", userID, "error", ferr)
		}
		e.publish(shared.NewInfractionFlaggedEvent(userID, s.RoomID, 0))
	}

	notified := 0
	if len(notRemovable) > 0 {
		notified = e.notifyUnremovable(ctx, s, notRemovable)
	}

	e.logger.Info("enforcement pass complete",
		"room_id", s.RoomID,
		"enforced", len(toEnforce),
		"removed", removed,
		"notified", notified,
	)
	e.publish(shared.NewSessionEnforcedEvent(s.RoomID, s.GuildID, toEnforce, removed, notified))
}

// notifyUnremovable handles the missing-capability fallback: one aggregate
// notice in the mapped channel, or per-user DMs only when no mapped channel
// exists. Returns the number of notifications sent.
func (e *Engine) notifyUnremovable(ctx context.Context, s *session.FocusSession, userIDs []string) int {
	channelID := e.roomChannels[s.RoomID]
	if channelID != "" {
		mentions := ""
		for i, id := range userIDs {
			if i > 0 {
				mentions += ", "
			}
			mentions += "<@" + id + ">"
		}
		text := fmt.Sprintf("%s - you did not confirm your presence for this focus session. This has been recorded.", mentions)
		if err := e.gateway.PostNotice(ctx, channelID, text); err != nil {
			e.logger.Warn("aggregate notice failed",
				"room_id", s.RoomID, "channel_id", channelID, "error", err)
			return 0
		}
		return 1
	}

	sent := 0
	for _, id := range userIDs {
		ok, err := e.gateway.SendDirect(ctx, id,
			"You did not confirm your presence for the focus session. This has been recorded.")
		if err != nil {
			e.logger.Warn("fallback DM failed", "user_id", id, "error", err)
			continue
		}
		if ok {
			sent++
		}
	}
	return sent
}

// close finishes a session after enforcement: removes it from the registry
// and disables the prompt's button (best-effort).
func (e *Engine) close(ctx context.Context, s *session.FocusSession, reason session.CloseReason) {
	e.mu.Lock()
	s.Close(reason)
	e.registry.Remove(s.RoomID)
	e.mu.Unlock()

	if !s.Prompt.IsZero() {
		control := notification.Control{Label: "Session ended", Token: s.Token, Disabled: true}
		ref := notification.MessageRef{ChannelID: s.Prompt.ChannelID, MessageID: s.Prompt.MessageID}
		text := fmt.Sprintf("Focus session ended - %d/%d confirmed.", s.ConfirmedCount(), s.ExpectedCount())
		if err := e.gateway.EditPrompt(ctx, ref, text, &control); err != nil {
			e.logger.Warn("prompt disable failed",
				"room_id", s.RoomID, "error", err)
		}
	}

	e.logger.Info("session closed",
		"room_id", s.RoomID, "reason", string(reason), "confirmed", s.ConfirmedCount())
	e.publish(shared.NewSessionClosedEvent(s.RoomID, string(reason),
		s.ConfirmedCount(), s.Duration(e.now())))
}

// Shutdown cancels all pending deadline timers. Open sessions are lost, which
// is acceptable: windows are tens of seconds long and state is process-local.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, roomID := range e.registry.Rooms() {
		e.timers.cancel(roomID)
		e.registry.Remove(roomID)
	}
}

func (e *Engine) publish(event shared.Event) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(event); err != nil {
		e.logger.Warn("event publish failed", "event_type", event.EventType(), "error", err)
	}
}
