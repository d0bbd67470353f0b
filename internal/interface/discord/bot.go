// Package discord implements the Discord interface for FocusHall. This
// package is the entry point for all Discord interactions: it owns the
// gateway connection, routes dispatch events into the presence engine,
// trigger detector and break monitor, and answers slash commands and button
// clicks.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/focushall/focushall-bot/internal/application/breakwatch"
	"github.com/focushall/focushall-bot/internal/application/engine"
	"github.com/focushall/focushall-bot/internal/application/trigger"
	"github.com/focushall/focushall-bot/internal/domain/ledger"
	"github.com/focushall/focushall-bot/internal/infrastructure/external/discord"
	"github.com/focushall/focushall-bot/internal/interface/discord/handler"
	"github.com/focushall/focushall-bot/internal/interface/discord/middleware"
)

// ══════════════════════════════════════════════════════════════════════════════
// BOT CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// BotConfig contains configuration for the bot.
type BotConfig struct {
	// Token is the Discord bot token.
	Token string

	// GatewayURL overrides the gateway endpoint, for tests.
	GatewayURL string

	// AdminUserIDs may force-end sessions and are exempt from rate limits.
	AdminUserIDs []string

	// HandlerTimeout bounds one interaction handler execution.
	HandlerTimeout time.Duration

	// UserRateLimit overrides the per-user sustained interaction rate.
	// Zero keeps the middleware default.
	UserRateLimit int

	// UserRateBurst overrides the per-user burst size. Zero keeps the default.
	UserRateBurst int

	// UserBanDuration overrides the temporary ban after repeat violations.
	// Zero keeps the default.
	UserBanDuration time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultBotConfig returns sensible defaults.
func DefaultBotConfig(token string) BotConfig {
	return BotConfig{
		Token:          token,
		HandlerTimeout: 10 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// BotDependencies contains all external dependencies for the bot.
type BotDependencies struct {
	// Client is the Discord REST client, for interaction responses.
	Client *discord.Client

	// Tracker accumulates voice state; the gateway events feed it.
	Tracker *discord.VoiceTracker

	// Engine is the presence engine.
	Engine *engine.Engine

	// Detector turns messages and commands into session triggers.
	Detector *trigger.Detector

	// Monitor watches break room dwell and join frequency.
	Monitor *breakwatch.Monitor

	// Ledger serves the /status card.
	Ledger ledger.Ledger

	// Activity serves recent-session lines on the /status card. Optional.
	Activity handler.ActivityView
}

func (d BotDependencies) validate() error {
	switch {
	case d.Client == nil:
		return errors.New("discord client is required")
	case d.Tracker == nil:
		return errors.New("voice tracker is required")
	case d.Engine == nil:
		return errors.New("engine is required")
	case d.Detector == nil:
		return errors.New("trigger detector is required")
	case d.Monitor == nil:
		return errors.New("break monitor is required")
	case d.Ledger == nil:
		return errors.New("ledger is required")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT
// ══════════════════════════════════════════════════════════════════════════════

// Bot is the Discord bot instance.
type Bot struct {
	config BotConfig
	deps   BotDependencies
	logger *slog.Logger

	router      *Router
	socket      *GatewaySocket
	rateLimiter *middleware.RateLimiter
	recovery    *middleware.RecoveryMiddleware

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	stats botStats
}

type botStats struct {
	eventsSeen        atomic.Int64
	interactionsSeen  atomic.Int64
	voiceUpdatesSeen  atomic.Int64
	messagesSeen      atomic.Int64
	handlerErrors     atomic.Int64
	panicsRecovered   atomic.Int64
	rateLimitRejected atomic.Int64
}

// NewBot creates a new bot and wires its handlers.
func NewBot(config BotConfig, deps BotDependencies) (*Bot, error) {
	if config.Token == "" {
		return nil, errors.New("bot token is required")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = 10 * time.Second
	}

	rateLimitConfig := middleware.DefaultRateLimitConfig()
	if config.UserRateLimit > 0 {
		rateLimitConfig.RequestsPerMinute = config.UserRateLimit
	}
	if config.UserRateBurst > 0 {
		rateLimitConfig.BurstSize = config.UserRateBurst
	}
	if config.UserBanDuration > 0 {
		rateLimitConfig.BanDuration = config.UserBanDuration
	}
	for _, id := range config.AdminUserIDs {
		rateLimitConfig.ExemptUsers[id] = true
	}

	b := &Bot{
		config:      config,
		deps:        deps,
		logger:      config.Logger.With("component", "bot"),
		router:      NewRouter(config.Logger),
		rateLimiter: middleware.NewRateLimiter(rateLimitConfig),
	}
	recoveryConfig := middleware.DefaultRecoveryConfig()
	recoveryConfig.Logger = config.Logger
	recoveryConfig.OnPanic = func(*middleware.PanicInfo) {
		b.stats.panicsRecovered.Add(1)
	}
	b.recovery = middleware.NewRecoveryMiddleware(recoveryConfig)

	b.registerHandlers()
	return b, nil
}

func (b *Bot) registerHandlers() {
	focus := handler.NewFocusHandler(b.deps.Detector)
	status := handler.NewStatusHandler(b.deps.Ledger, b.deps.Activity)
	endSession := handler.NewEndSessionHandler(b.deps.Engine, b.config.AdminUserIDs)
	confirm := handler.NewConfirmHandler(b.deps.Engine)

	b.router.RegisterCommand("focus", func(ctx context.Context, cmd CommandContext) error {
		resp, err := focus.Handle(ctx, handler.FocusRequest{
			UserID:    cmd.UserID,
			GuildID:   cmd.GuildID,
			ChannelID: cmd.ChannelID,
			RoomID:    cmd.Option("room"),
		})
		if err != nil {
			return err
		}
		return b.respondEphemeral(ctx, cmd.Interaction, resp.Text)
	})

	b.router.RegisterCommand("status", func(ctx context.Context, cmd CommandContext) error {
		roomID := cmd.Option("room")
		if roomID == "" {
			// Default to the room the user is sitting in.
			roomID = b.deps.Tracker.ChannelOf(cmd.UserID)
		}
		resp, err := status.Handle(ctx, handler.StatusRequest{
			UserID: cmd.UserID,
			RoomID: roomID,
		})
		if err != nil {
			return err
		}
		return b.respondEphemeral(ctx, cmd.Interaction, resp.Text)
	})

	b.router.RegisterCommand("endsession", func(ctx context.Context, cmd CommandContext) error {
		resp, err := endSession.Handle(ctx, handler.EndSessionRequest{
			UserID: cmd.UserID,
			RoomID: cmd.Option("room"),
		})
		if err != nil {
			return err
		}
		return b.respondEphemeral(ctx, cmd.Interaction, resp.Text)
	})

	b.router.RegisterComponentPrefix(discord.ConfirmCustomIDPrefix, func(ctx context.Context, comp ComponentContext) error {
		resp, err := confirm.Handle(ctx, handler.ConfirmRequest{
			UserID: comp.UserID,
			Token:  comp.Value,
		})
		if err != nil {
			return err
		}
		return b.respondEphemeral(ctx, comp.Interaction, resp.Text)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start connects to the gateway and begins processing events. Non-blocking.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return errors.New("bot already running")
	}

	socket, err := NewGatewaySocket(SocketConfig{
		Token:  b.config.Token,
		URL:    b.config.GatewayURL,
		Logger: b.config.Logger,
	}, b.handleEvent)
	if err != nil {
		return fmt.Errorf("create gateway socket: %w", err)
	}
	// After a failed resume the gateway replays GUILD_CREATEs, which reseed
	// the tracker; anything older is stale.
	socket.OnReconnect = b.deps.Tracker.Reset
	b.socket = socket

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.running = true

	go func() {
		defer close(b.done)
		if err := socket.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error("gateway loop exited", "error", err)
		}
	}()

	b.logger.Info("bot started")
	return nil
}

// Stop disconnects from the gateway and waits for in-flight work.
func (b *Bot) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	b.rateLimiter.Stop()
	b.logger.Info("bot stopped")
	return nil
}

// IsRunning reports whether the bot holds a gateway loop.
func (b *Bot) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// IsConnected reports whether the gateway socket currently holds a live
// connection. False before Start and after Stop.
func (b *Bot) IsConnected() bool {
	b.mu.Lock()
	socket := b.socket
	b.mu.Unlock()
	if socket == nil {
		return false
	}
	return socket.IsConnected()
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT HANDLING
// ══════════════════════════════════════════════════════════════════════════════

// handleEvent is the gateway sink. Voice and message events are cheap and
// handled inline; interactions do I/O and run on their own goroutine.
func (b *Bot) handleEvent(ctx context.Context, event DispatchEvent) {
	b.stats.eventsSeen.Add(1)

	switch event.Type {
	case "GUILD_CREATE":
		b.handleGuildCreate(event.Data)

	case "VOICE_STATE_UPDATE":
		b.handleVoiceStateUpdate(ctx, event.Data)

	case "MESSAGE_CREATE":
		b.handleMessageCreate(ctx, event.Data)

	case "MESSAGE_DELETE":
		b.handleMessageDelete(ctx, event.Data)

	case "INTERACTION_CREATE":
		go b.handleInteractionCreate(ctx, event.Data)

	case "READY", "RESUMED":
		// Logged by the socket.

	default:
		// Uninteresting event types arrive for every subscribed intent.
	}
}

func (b *Bot) handleGuildCreate(data json.RawMessage) {
	var guild discord.GuildCreateEvent
	if err := json.Unmarshal(data, &guild); err != nil {
		b.logger.Warn("bad guild create payload", "error", err)
		return
	}

	for _, state := range guild.VoiceStates {
		if state.GuildID == "" {
			state.GuildID = guild.ID
		}
		b.deps.Tracker.Apply(state)
	}
	b.logger.Info("guild voice state seeded",
		"guild_id", guild.ID,
		"voice_states", len(guild.VoiceStates))
}

func (b *Bot) handleVoiceStateUpdate(ctx context.Context, data json.RawMessage) {
	b.stats.voiceUpdatesSeen.Add(1)

	var state discord.VoiceState
	if err := json.Unmarshal(data, &state); err != nil {
		b.logger.Warn("bad voice state payload", "error", err)
		return
	}

	move := b.deps.Tracker.Apply(state)
	if move.FromChannel == move.ToChannel {
		return // mute/deafen toggle, not a move
	}
	if move.FromChannel != "" {
		b.deps.Monitor.HandleLeave(ctx, move.UserID, move.FromChannel)
	}
	if move.ToChannel != "" {
		b.deps.Monitor.HandleJoin(ctx, move.UserID, move.ToChannel)
	}
}

func (b *Bot) handleMessageCreate(ctx context.Context, data json.RawMessage) {
	b.stats.messagesSeen.Add(1)

	var msg discord.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		b.logger.Warn("bad message payload", "error", err)
		return
	}
	if msg.Author == nil || msg.Author.Bot {
		return
	}

	// Errors here are trigger outcomes (dedup, unresolved), not failures.
	_ = b.deps.Detector.Handle(ctx, trigger.Signal{
		MessageID: msg.ID,
		ChannelID: msg.ChannelID,
		GuildID:   msg.GuildID,
		AuthorID:  msg.Author.ID,
		Content:   msg.Content,
	})
}

func (b *Bot) handleMessageDelete(ctx context.Context, data json.RawMessage) {
	var del discord.MessageDeleteEvent
	if err := json.Unmarshal(data, &del); err != nil {
		b.logger.Warn("bad message delete payload", "error", err)
		return
	}
	b.deps.Engine.HandlePromptDeleted(ctx, del.ChannelID, del.ID)
}

func (b *Bot) handleInteractionCreate(ctx context.Context, data json.RawMessage) {
	b.stats.interactionsSeen.Add(1)

	var interaction discord.Interaction
	if err := json.Unmarshal(data, &interaction); err != nil {
		b.logger.Warn("bad interaction payload", "error", err)
		return
	}

	user := interaction.ActingUser()
	userID := ""
	if user != nil {
		userID = user.ID
	}

	if limited := b.rateLimiter.Check(userID); !limited.Allowed {
		b.stats.rateLimitRejected.Add(1)
		handlerCtx, cancel := context.WithTimeout(ctx, b.config.HandlerTimeout)
		defer cancel()
		_ = b.respondEphemeral(handlerCtx, &interaction, limited.ResponseMessage)
		return
	}

	action := ""
	if interaction.Data != nil {
		action = interaction.Data.Name + interaction.Data.CustomID
	}

	handlerCtx, cancel := context.WithTimeout(ctx, b.config.HandlerTimeout)
	defer cancel()

	result := b.recovery.Guard(userID, action, func() error {
		return b.router.HandleInteraction(handlerCtx, &interaction)
	})
	if result.Recovered {
		_ = b.respondEphemeral(handlerCtx, &interaction, result.UserMessage)
		return
	}
	if result.Err != nil {
		b.stats.handlerErrors.Add(1)
		b.logger.Error("interaction handler failed",
			"action", action,
			"user_id", userID,
			"error", result.Err)
		_ = b.respondEphemeral(handlerCtx, &interaction, "😔 Something went wrong. Please try again.")
	}
}

func (b *Bot) respondEphemeral(ctx context.Context, interaction *discord.Interaction, text string) error {
	return b.deps.Client.RespondToInteraction(ctx, interaction.ID, interaction.Token, discord.InteractionResponse{
		Type: discord.InteractionResponseChannelMessage,
		Data: &discord.InteractionResponseData{
			Content: text,
			Flags:   discord.MessageFlagEphemeral,
		},
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

// GetStats returns bot runtime statistics.
func (b *Bot) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"running":             b.IsRunning(),
		"events_seen":         b.stats.eventsSeen.Load(),
		"interactions_seen":   b.stats.interactionsSeen.Load(),
		"voice_updates_seen":  b.stats.voiceUpdatesSeen.Load(),
		"messages_seen":       b.stats.messagesSeen.Load(),
		"handler_errors":      b.stats.handlerErrors.Load(),
		"panics_recovered":    b.stats.panicsRecovered.Load(),
		"rate_limit_rejected": b.stats.rateLimitRejected.Load(),
	}
}

// Router exposes the router for additional registrations.
func (b *Bot) Router() *Router {
	return b.router
}
