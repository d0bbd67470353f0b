// Package notification defines the Notification Gateway contract: the narrow
// surface the presence engine and break monitor use to talk to the chat
// platform. Implementations live in infrastructure; failures are reported
// per-call and are never fatal to the caller.
package notification

import (
	"context"
)

// Capability names a permission the bot's own account may hold in a room or
// channel.
type Capability string

const (
	// CapabilityMoveMembers allows disconnecting/moving users out of a voice room.
	CapabilityMoveMembers Capability = "move_members"
	// CapabilitySendMessages allows posting in a text channel.
	CapabilitySendMessages Capability = "send_messages"
	// CapabilityManageMessages allows editing/deleting other messages.
	CapabilityManageMessages Capability = "manage_messages"
)

// Control describes the interactive control attached to a prompt: a single
// "confirm presence" button carrying the session token.
type Control struct {
	// Label is the button text.
	Label string

	// Token is the session confirmation token routed back on click.
	Token string

	// Disabled renders the button inert (used when closing a session).
	Disabled bool
}

// MessageRef is an opaque handle to a posted message.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// Gateway is the Notification Gateway contract. Every method takes a context
// and reports failure per-call; callers degrade gracefully rather than abort.
type Gateway interface {
	// PostPrompt posts the confirmation prompt with its interactive control
	// into a text channel and returns a handle for later edits.
	PostPrompt(ctx context.Context, channelID, text string, control Control) (MessageRef, error)

	// EditPrompt edits a previously posted prompt. A nil control leaves the
	// existing control untouched; a disabled control renders the button inert.
	EditPrompt(ctx context.Context, ref MessageRef, text string, control *Control) error

	// SendDirect sends a direct message to a user. Returns false (with a nil
	// error) when the user has DMs closed.
	SendDirect(ctx context.Context, userID, text string) (bool, error)

	// PostNotice posts a plain notice into a text channel.
	PostNotice(ctx context.Context, channelID, text string) error

	// RemoveFromRoom disconnects a user from a voice room. Returns
	// shared.ErrCapabilityDenied when the bot lacks the permission.
	RemoveFromRoom(ctx context.Context, guildID, userID, roomID string) error

	// LiveOccupants returns the current non-bot member ids of a voice room.
	LiveOccupants(ctx context.Context, roomID string) ([]string, error)

	// HasCapability reports whether the bot's account holds a capability in a
	// room or channel.
	HasCapability(ctx context.Context, channelOrRoomID string, cap Capability) (bool, error)
}
