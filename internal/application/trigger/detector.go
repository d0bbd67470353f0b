// Package trigger implements the Trigger Detector: it maps inbound signals
// (commands, room mentions, keyword matches, automated posts in mapped
// channels) to a target voice room and suppresses duplicates, then asks the
// presence engine to open an attendance window. Resolution strategies are
// pluggable so the heuristic layer can be swapped without touching the engine.
package trigger

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/focushall/focushall-bot/internal/domain/shared"
)

// SessionOpener is the slice of the presence engine the detector needs.
type SessionOpener interface {
	OpenSession(ctx context.Context, roomID, guildID string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// SIGNAL
// ══════════════════════════════════════════════════════════════════════════════

// Signal is one inbound detection input, normalized from whatever transport
// event produced it (slash command, plain message, webhook post).
type Signal struct {
	// MessageID identifies the originating message, for message-level dedup.
	// Empty for sources with no message (slash commands).
	MessageID string

	// ChannelID is the text channel the signal arrived in.
	ChannelID string

	// GuildID is the owning community.
	GuildID string

	// AuthorID is who (or what) produced the signal.
	AuthorID string

	// Content is the raw message text, used by mention and keyword resolvers.
	Content string

	// ExplicitRoomID is set when the signal names its target room directly
	// (command argument). Takes precedence over every heuristic.
	ExplicitRoomID string
}

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVERS
// ══════════════════════════════════════════════════════════════════════════════

// Resolver decides whether a signal targets a monitored room. Resolvers are
// tried in registration order; the first match wins.
type Resolver interface {
	// Name identifies the strategy in logs and events.
	Name() string

	// Resolve returns the target room id, or ok=false when this strategy
	// does not recognize the signal.
	Resolve(sig Signal) (roomID string, ok bool)
}

// ExplicitResolver honors a room id named directly by the signal.
type ExplicitResolver struct{}

func (ExplicitResolver) Name() string { return "explicit" }

func (ExplicitResolver) Resolve(sig Signal) (string, bool) {
	return sig.ExplicitRoomID, sig.ExplicitRoomID != ""
}

// ChannelMapResolver maps the text channel a signal arrived in to its voice
// room. This is how automated upstream sources posting into a mapped channel
// trigger sessions.
type ChannelMapResolver struct {
	// ChannelRooms maps text channel id -> voice room id.
	ChannelRooms map[string]string
}

func (ChannelMapResolver) Name() string { return "channel_map" }

func (r ChannelMapResolver) Resolve(sig Signal) (string, bool) {
	roomID, ok := r.ChannelRooms[sig.ChannelID]
	return roomID, ok
}

var channelMentionRe = regexp.MustCompile(`<#(\d+)>`)

// MentionResolver scans message content for a channel mention that names a
// monitored voice room.
type MentionResolver struct {
	// MonitoredRooms is the set of voice room ids the bot watches.
	MonitoredRooms map[string]struct{}
}

func (MentionResolver) Name() string { return "mention" }

func (r MentionResolver) Resolve(sig Signal) (string, bool) {
	for _, m := range channelMentionRe.FindAllStringSubmatch(sig.Content, -1) {
		if _, ok := r.MonitoredRooms[m[1]]; ok {
			return m[1], true
		}
	}
	return "", false
}

// KeywordResolver matches message content against monitored room names.
// Matching is case-insensitive whole-substring; the loosest strategy, so it
// runs last.
type KeywordResolver struct {
	// RoomNames maps a lowercase room name -> voice room id.
	RoomNames map[string]string
}

func (KeywordResolver) Name() string { return "keyword" }

func (r KeywordResolver) Resolve(sig Signal) (string, bool) {
	content := strings.ToLower(sig.Content)
	for name, roomID := range r.RoomNames {
		if name != "" && strings.Contains(content, name) {
			return roomID, true
		}
	}
	return "", false
}

// ══════════════════════════════════════════════════════════════════════════════
// DETECTOR
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the trigger detector.
type Config struct {
	// RoomDedupWindow suppresses repeat triggers for the same room (default: 5s).
	RoomDedupWindow time.Duration

	// MessageDedupWindow suppresses reprocessing the same message (default: 10s).
	MessageDedupWindow time.Duration

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
		RoomDedupWindow:    5 * time.Second,
		MessageDedupWindow: 10 * time.Second,
	}
}

// Detector routes signals through the resolver chain and dedup windows into
// the presence engine. Multiple detection paths may independently recognize
// the same event; the room dedup window coalesces them to one open.
type Detector struct {
	opener    SessionOpener
	resolvers []Resolver

	mu        sync.Mutex
	roomSeen  map[string]time.Time // roomID -> last accepted trigger
	msgSeen   map[string]time.Time // messageID -> first seen

	roomWindow time.Duration
	msgWindow  time.Duration

	logger *slog.Logger
	events shared.EventPublisher
	now    func() time.Time
}

// New creates a detector. Resolvers are consulted in the given order.
func New(opener SessionOpener, resolvers []Resolver, cfg Config) *Detector {
	if cfg.RoomDedupWindow <= 0 {
		cfg.RoomDedupWindow = 5 * time.Second
	}
	if cfg.MessageDedupWindow <= 0 {
		cfg.MessageDedupWindow = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Detector{
		opener:     opener,
		resolvers:  resolvers,
		roomSeen:   make(map[string]time.Time),
		msgSeen:    make(map[string]time.Time),
		roomWindow: cfg.RoomDedupWindow,
		msgWindow:  cfg.MessageDedupWindow,
		logger:     cfg.Logger,
		events:     cfg.Events,
		now:        cfg.Now,
	}
}

// Handle processes one inbound signal. A signal that resolves to no room, or
// that duplicates a recent trigger, degrades to a no-op; resolution failures
// are never fatal.
func (d *Detector) Handle(ctx context.Context, sig Signal) error {
	now := d.now()

	d.mu.Lock()
	if sig.MessageID != "" {
		if seen, ok := d.msgSeen[sig.MessageID]; ok && now.Sub(seen) < d.msgWindow {
			d.mu.Unlock()
			d.publish(shared.NewTriggerDroppedEvent("", "duplicate_message"))
			return shared.ErrDuplicateSignal
		}
		d.msgSeen[sig.MessageID] = now
	}
	d.mu.Unlock()

	roomID, resolver := d.resolve(sig)
	if roomID == "" {
		// Degrade to "no trigger" rather than guess.
		d.logger.Warn("signal resolved to no room",
			"channel_id", sig.ChannelID, "author_id", sig.AuthorID)
		d.publish(shared.NewTriggerDroppedEvent("", "unresolved"))
		return shared.ErrUnresolvedRoom
	}

	d.mu.Lock()
	if last, ok := d.roomSeen[roomID]; ok && now.Sub(last) < d.roomWindow {
		d.mu.Unlock()
		d.logger.Debug("duplicate trigger dropped", "room_id", roomID, "resolver", resolver)
		d.publish(shared.NewTriggerDroppedEvent(roomID, "duplicate_room"))
		return shared.ErrDuplicateSignal
	}
	d.roomSeen[roomID] = now
	d.mu.Unlock()

	d.logger.Info("trigger accepted",
		"room_id", roomID, "resolver", resolver, "author_id", sig.AuthorID)
	d.publish(shared.NewTriggerAcceptedEvent(roomID, sig.GuildID, resolver))

	if err := d.opener.OpenSession(ctx, roomID, sig.GuildID); err != nil {
		// Already-open and empty-room are expected outcomes of racing or
		// stale triggers, not failures.
		if shared.IsAlreadyExists(err) || shared.IsStaleReference(err) || errors.Is(err, shared.ErrRoomEmpty) {
			d.logger.Debug("open skipped", "room_id", roomID, "reason", err.Error())
			return nil
		}
		d.logger.Warn("session open failed", "room_id", roomID, "error", err)
		return err
	}
	return nil
}

func (d *Detector) resolve(sig Signal) (roomID, resolver string) {
	for _, r := range d.resolvers {
		if id, ok := r.Resolve(sig); ok {
			return id, r.Name()
		}
	}
	return "", ""
}

// Prune discards expired dedup entries. Called on a fixed interval by the
// scheduler; the maps otherwise grow with every distinct message seen.
func (d *Detector) Prune() int {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for id, seen := range d.msgSeen {
		if now.Sub(seen) >= d.msgWindow {
			delete(d.msgSeen, id)
			removed++
		}
	}
	for roomID, last := range d.roomSeen {
		if now.Sub(last) >= d.roomWindow {
			delete(d.roomSeen, roomID)
			removed++
		}
	}
	return removed
}

// PendingDedupEntries reports the current dedup table size, for diagnostics.
func (d *Detector) PendingDedupEntries() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.msgSeen) + len(d.roomSeen)
}

func (d *Detector) publish(event shared.Event) {
	if d.events == nil {
		return
	}
	if err := d.events.Publish(event); err != nil {
		d.logger.Warn("event publish failed", "event_type", event.EventType(), "error", err)
	}
}
