// Package discord implements the Discord REST API client and the
// notification gateway adapter built on it. This package handles all
// communication with Discord: posting prompts with interactive buttons,
// direct messages, voice disconnects, and permission checks.
package discord

import (
	"encoding/json"
)

// ══════════════════════════════════════════════════════════════════════════════
// API TYPES
// ══════════════════════════════════════════════════════════════════════════════

// User represents a Discord user.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator,omitempty"`
	GlobalName    string `json:"global_name,omitempty"`
	Bot           bool   `json:"bot,omitempty"`
}

// DisplayName returns the user's display name.
func (u *User) DisplayName() string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// GuildMember represents a member of a guild.
type GuildMember struct {
	User  *User    `json:"user,omitempty"`
	Nick  string   `json:"nick,omitempty"`
	Roles []string `json:"roles"`
	Mute  bool     `json:"mute,omitempty"`
	Deaf  bool     `json:"deaf,omitempty"`
}

// Role represents a guild role with its permission bitfield.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Permissions string `json:"permissions"` // stringified uint64 bitfield
	Position    int    `json:"position"`
}

// Channel represents a guild channel (text or voice).
type Channel struct {
	ID                   string                `json:"id"`
	Type                 int                   `json:"type"`
	GuildID              string                `json:"guild_id,omitempty"`
	Name                 string                `json:"name,omitempty"`
	PermissionOverwrites []PermissionOverwrite `json:"permission_overwrites,omitempty"`
}

// Channel types.
const (
	ChannelTypeGuildText  = 0
	ChannelTypeDM         = 1
	ChannelTypeGuildVoice = 2
)

// PermissionOverwrite is a per-channel allow/deny pair for a role or member.
type PermissionOverwrite struct {
	ID    string `json:"id"`
	Type  int    `json:"type"` // 0 = role, 1 = member
	Allow string `json:"allow"`
	Deny  string `json:"deny"`
}

// Message represents a Discord message.
type Message struct {
	ID         string      `json:"id"`
	ChannelID  string      `json:"channel_id"`
	GuildID    string      `json:"guild_id,omitempty"`
	Author     *User       `json:"author,omitempty"`
	Content    string      `json:"content,omitempty"`
	Timestamp  string      `json:"timestamp,omitempty"`
	Components []ActionRow `json:"components,omitempty"`
}

// VoiceState represents a user's voice connection state.
type VoiceState struct {
	GuildID   string `json:"guild_id,omitempty"`
	ChannelID string `json:"channel_id"` // empty when disconnected
	UserID    string `json:"user_id"`
	Member    *GuildMember `json:"member,omitempty"`
	SelfMute  bool   `json:"self_mute,omitempty"`
	SelfDeaf  bool   `json:"self_deaf,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// MESSAGE COMPONENTS
// ══════════════════════════════════════════════════════════════════════════════

// Component types.
const (
	ComponentTypeActionRow = 1
	ComponentTypeButton    = 2
)

// Button styles.
const (
	ButtonStylePrimary   = 1
	ButtonStyleSecondary = 2
	ButtonStyleSuccess   = 3
	ButtonStyleDanger    = 4
)

// ActionRow is a container for interactive components.
type ActionRow struct {
	Type       int      `json:"type"` // always ComponentTypeActionRow
	Components []Button `json:"components"`
}

// Button is an interactive message button.
type Button struct {
	Type     int    `json:"type"` // always ComponentTypeButton
	Style    int    `json:"style"`
	Label    string `json:"label"`
	CustomID string `json:"custom_id"`
	Disabled bool   `json:"disabled,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERACTIONS
// ══════════════════════════════════════════════════════════════════════════════

// Interaction types.
const (
	InteractionTypePing               = 1
	InteractionTypeApplicationCommand = 2
	InteractionTypeMessageComponent   = 3
)

// Interaction is an inbound interaction (slash command or button click).
type Interaction struct {
	ID        string           `json:"id"`
	Type      int              `json:"type"`
	GuildID   string           `json:"guild_id,omitempty"`
	ChannelID string           `json:"channel_id,omitempty"`
	Member    *GuildMember     `json:"member,omitempty"`
	User      *User            `json:"user,omitempty"`
	Token     string           `json:"token"`
	Message   *Message         `json:"message,omitempty"`
	Data      *InteractionData `json:"data,omitempty"`
}

// ActingUser returns whoever triggered the interaction, guild or DM context.
func (i *Interaction) ActingUser() *User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// InteractionData carries the command name or component custom id.
type InteractionData struct {
	Name          string              `json:"name,omitempty"`
	CustomID      string              `json:"custom_id,omitempty"`
	ComponentType int                 `json:"component_type,omitempty"`
	Options       []InteractionOption `json:"options,omitempty"`
}

// InteractionOption is a slash command argument.
type InteractionOption struct {
	Name  string          `json:"name"`
	Type  int             `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// StringValue decodes the option value as a string.
func (o InteractionOption) StringValue() string {
	var s string
	if err := json.Unmarshal(o.Value, &s); err != nil {
		return ""
	}
	return s
}

// Interaction response types.
const (
	InteractionResponsePong                = 1
	InteractionResponseChannelMessage      = 4
	InteractionResponseDeferredUpdate      = 6
	InteractionResponseUpdateMessage       = 7
)

// Message flags.
const (
	MessageFlagEphemeral = 1 << 6
)

// InteractionResponse is the payload answering an interaction.
type InteractionResponse struct {
	Type int                      `json:"type"`
	Data *InteractionResponseData `json:"data,omitempty"`
}

// InteractionResponseData is the message body of an interaction response.
type InteractionResponseData struct {
	Content    string      `json:"content,omitempty"`
	Flags      int         `json:"flags,omitempty"`
	Components []ActionRow `json:"components,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// GATEWAY EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// MessageDeleteEvent is the payload of a MESSAGE_DELETE gateway event.
type MessageDeleteEvent struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id,omitempty"`
}

// GuildCreateEvent is the payload of a GUILD_CREATE gateway event. Discord
// sends one per guild after identify; its voice_states array is the only
// source of pre-existing voice occupancy, so the tracker must be seeded from
// it. The voice states inside lack guild_id and inherit the guild's.
type GuildCreateEvent struct {
	ID          string       `json:"id"`
	Name        string       `json:"name,omitempty"`
	VoiceStates []VoiceState `json:"voice_states,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR RESPONSE
// ══════════════════════════════════════════════════════════════════════════════

// Discord JSON error codes this client reacts to specifically.
const (
	ErrorCodeUnknownMessage   = 10008
	ErrorCodeCannotDMUser     = 50007
	ErrorCodeMissingPermissions = 50013
	ErrorCodeMissingAccess    = 50001
)

// APIErrorResponse is the body Discord returns for failed requests.
type APIErrorResponse struct {
	Code       int             `json:"code"`
	Message    string          `json:"message"`
	Errors     json.RawMessage `json:"errors,omitempty"`
	RetryAfter float64         `json:"retry_after,omitempty"` // seconds, on 429
	Global     bool            `json:"global,omitempty"`
}
