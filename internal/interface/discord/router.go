package discord

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/focushall/focushall-bot/internal/infrastructure/external/discord"
)

// ══════════════════════════════════════════════════════════════════════════════
// INTERACTION ROUTING
// ══════════════════════════════════════════════════════════════════════════════

// CommandContext carries everything a slash command handler needs.
type CommandContext struct {
	Interaction *discord.Interaction
	UserID      string
	GuildID     string
	ChannelID   string
}

// Option returns the named string option, or "" when absent.
func (c CommandContext) Option(name string) string {
	if c.Interaction == nil || c.Interaction.Data == nil {
		return ""
	}
	for _, opt := range c.Interaction.Data.Options {
		if opt.Name == name {
			return opt.StringValue()
		}
	}
	return ""
}

// ComponentContext carries everything a component (button) handler needs.
type ComponentContext struct {
	Interaction *discord.Interaction
	UserID      string
	GuildID     string
	ChannelID   string

	// CustomID is the full component id, Value the part after the prefix.
	CustomID string
	Value    string
}

// CommandHandler processes one slash command.
type CommandHandler func(ctx context.Context, cmd CommandContext) error

// ComponentHandler processes one component interaction.
type ComponentHandler func(ctx context.Context, comp ComponentContext) error

// Router maps interaction names and component id prefixes to handlers.
type Router struct {
	mu         sync.RWMutex
	commands   map[string]CommandHandler
	components map[string]ComponentHandler // keyed by custom_id prefix

	defaultCommand CommandHandler
	logger         *slog.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		commands:   make(map[string]CommandHandler),
		components: make(map[string]ComponentHandler),
		logger:     logger.With("component", "router"),
	}
}

// RegisterCommand registers a slash command handler by name.
func (r *Router) RegisterCommand(name string, handler CommandHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[strings.ToLower(name)] = handler
}

// RegisterComponentPrefix registers a handler for component custom ids
// starting with the prefix (e.g. "confirm:").
func (r *Router) RegisterComponentPrefix(prefix string, handler ComponentHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[prefix] = handler
}

// SetDefaultCommandHandler handles commands with no registered handler.
func (r *Router) SetDefaultCommandHandler(handler CommandHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultCommand = handler
}

// HandleInteraction routes one interaction to its handler.
func (r *Router) HandleInteraction(ctx context.Context, interaction *discord.Interaction) error {
	user := interaction.ActingUser()
	userID := ""
	if user != nil {
		userID = user.ID
	}

	switch interaction.Type {
	case discord.InteractionTypeApplicationCommand:
		if interaction.Data == nil {
			return nil
		}
		cmd := CommandContext{
			Interaction: interaction,
			UserID:      userID,
			GuildID:     interaction.GuildID,
			ChannelID:   interaction.ChannelID,
		}
		name := strings.ToLower(interaction.Data.Name)

		r.mu.RLock()
		handler, ok := r.commands[name]
		fallback := r.defaultCommand
		r.mu.RUnlock()

		if !ok {
			if fallback == nil {
				r.logger.Debug("no handler for command", "command", name)
				return nil
			}
			handler = fallback
		}
		return handler(ctx, cmd)

	case discord.InteractionTypeMessageComponent:
		if interaction.Data == nil {
			return nil
		}
		customID := interaction.Data.CustomID

		r.mu.RLock()
		var handler ComponentHandler
		var prefix string
		for p, h := range r.components {
			if strings.HasPrefix(customID, p) {
				handler, prefix = h, p
				break
			}
		}
		r.mu.RUnlock()

		if handler == nil {
			r.logger.Debug("no handler for component", "custom_id", customID)
			return nil
		}
		return handler(ctx, ComponentContext{
			Interaction: interaction,
			UserID:      userID,
			GuildID:     interaction.GuildID,
			ChannelID:   interaction.ChannelID,
			CustomID:    customID,
			Value:       strings.TrimPrefix(customID, prefix),
		})

	default:
		return nil
	}
}
