package discord

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/focushall/focushall-bot/internal/domain/notification"
)

func permStr(bits uint64) string {
	return strconv.FormatUint(bits, 10)
}

func TestInteraction_Parsing(t *testing.T) {
	jsonData := `{
    "id": "1129057222177656112",
    "type": 3,
    "guild_id": "803000000000000001",
    "channel_id": "803000000000000042",
    "token": "aW50ZXJhY3Rpb24",
    "member": {
        "user": {
            "id": "290000000000000077",
            "username": "studyfan",
            "global_name": "Study Fan"
        },
        "roles": ["803000000000000100"]
    },
    "message": {
        "id": "1129057000000000001",
        "channel_id": "803000000000000042",
        "content": "Focus time! Confirm your presence within 1m0s."
    },
    "data": {
        "custom_id": "confirm:8f14e45f-ceea-467f-a1d6-4c7bb9f93f2e",
        "component_type": 2
    }
}`

	var in Interaction
	err := json.Unmarshal([]byte(jsonData), &in)
	assert.NoError(t, err)

	assert.Equal(t, InteractionTypeMessageComponent, in.Type)
	assert.Equal(t, "803000000000000001", in.GuildID)
	assert.Equal(t, "confirm:8f14e45f-ceea-467f-a1d6-4c7bb9f93f2e", in.Data.CustomID)

	user := in.ActingUser()
	assert.NotNil(t, user)
	assert.Equal(t, "290000000000000077", user.ID)
	assert.Equal(t, "Study Fan", user.DisplayName())
}

func TestInteractionOption_StringValue(t *testing.T) {
	jsonData := `{
    "id": "1",
    "type": 2,
    "token": "t",
    "data": {
        "name": "focus",
        "options": [{"name": "room", "type": 3, "value": "803000000000000055"}]
    }
}`

	var in Interaction
	assert.NoError(t, json.Unmarshal([]byte(jsonData), &in))
	assert.Equal(t, "focus", in.Data.Name)
	assert.Equal(t, "803000000000000055", in.Data.Options[0].StringValue())
}

func TestVoiceState_Parsing(t *testing.T) {
	jsonData := `{
    "guild_id": "803000000000000001",
    "channel_id": "803000000000000055",
    "user_id": "290000000000000077",
    "member": {"user": {"id": "290000000000000077", "username": "studyfan", "bot": false}},
    "self_mute": true
}`

	var vs VoiceState
	assert.NoError(t, json.Unmarshal([]byte(jsonData), &vs))
	assert.Equal(t, "803000000000000055", vs.ChannelID)
	assert.Equal(t, "290000000000000077", vs.UserID)
	assert.True(t, vs.SelfMute)
}

func TestControlRowRendering(t *testing.T) {
	rows := controlRow(notification.Control{
		Label: "I'm here",
		Token: "tok-123",
	})

	assert.Len(t, rows, 1)
	assert.Equal(t, ComponentTypeActionRow, rows[0].Type)
	btn := rows[0].Components[0]
	assert.Equal(t, ComponentTypeButton, btn.Type)
	assert.Equal(t, "I'm here", btn.Label)
	assert.Equal(t, "confirm:tok-123", btn.CustomID)
	assert.False(t, btn.Disabled)

	disabled := controlRow(notification.Control{Label: "Session ended", Token: "tok-123", Disabled: true})
	assert.True(t, disabled[0].Components[0].Disabled)
}

func TestVoiceTracker(t *testing.T) {
	tr := NewVoiceTracker()

	tr.Apply(VoiceState{UserID: "A", ChannelID: "room1"})
	tr.Apply(VoiceState{UserID: "B", ChannelID: "room1"})
	assert.ElementsMatch(t, []string{"A", "B"}, tr.Occupants("room1"))

	// Move A to another room.
	move := tr.Apply(VoiceState{UserID: "A", ChannelID: "room2"})
	assert.Equal(t, "room1", move.FromChannel)
	assert.Equal(t, "room2", move.ToChannel)
	assert.Equal(t, []string{"B"}, tr.Occupants("room1"))
	assert.Equal(t, []string{"A"}, tr.Occupants("room2"))

	// Disconnect B.
	tr.Apply(VoiceState{UserID: "B", ChannelID: ""})
	assert.Empty(t, tr.Occupants("room1"))
	assert.Empty(t, tr.ChannelOf("B"))
}

func TestVoiceTrackerExcludesBots(t *testing.T) {
	tr := NewVoiceTracker()
	tr.Apply(VoiceState{
		UserID:    "bot1",
		ChannelID: "room1",
		Member:    &GuildMember{User: &User{ID: "bot1", Bot: true}},
	})
	tr.Apply(VoiceState{UserID: "A", ChannelID: "room1"})

	assert.Equal(t, []string{"A"}, tr.Occupants("room1"))
}

func TestVoiceTrackerDuplicateUpdate(t *testing.T) {
	tr := NewVoiceTracker()
	tr.Apply(VoiceState{UserID: "A", ChannelID: "room1"})
	move := tr.Apply(VoiceState{UserID: "A", ChannelID: "room1"})

	assert.Equal(t, move.FromChannel, move.ToChannel)
	assert.Equal(t, []string{"A"}, tr.Occupants("room1"))
}

func TestPermissionOverwrites(t *testing.T) {
	base := PermissionSendMessages | PermissionConnect

	// Role overwrite denies send, member overwrite restores it.
	overwrites := []PermissionOverwrite{
		{ID: "role1", Type: 0, Deny: permStr(PermissionSendMessages)},
		{ID: "bot-user", Type: 1, Allow: permStr(PermissionSendMessages | PermissionMoveMembers)},
	}

	perms := applyOverwrites(base, overwrites, "guild1", []string{"role1"}, "bot-user")
	assert.NotZero(t, perms&PermissionSendMessages)
	assert.NotZero(t, perms&PermissionMoveMembers)
	assert.NotZero(t, perms&PermissionConnect)
}

func TestPermissionEveryoneDeny(t *testing.T) {
	base := PermissionSendMessages | PermissionMoveMembers

	overwrites := []PermissionOverwrite{
		{ID: "guild1", Type: 0, Deny: permStr(PermissionMoveMembers)},
	}

	perms := applyOverwrites(base, overwrites, "guild1", nil, "bot-user")
	assert.Zero(t, perms&PermissionMoveMembers)
	assert.NotZero(t, perms&PermissionSendMessages)
}

func TestParsePermissions(t *testing.T) {
	assert.Equal(t, uint64(2048), parsePermissions("2048"))
	assert.Zero(t, parsePermissions(""))
	assert.Zero(t, parsePermissions("not-a-number"))
}

func TestAPIErrorClassification(t *testing.T) {
	denied := &APIError{Status: 403, Code: ErrorCodeMissingPermissions, Message: "Missing Permissions"}
	assert.True(t, denied.IsMissingPermissions())

	closedDMs := &APIError{Status: 403, Code: ErrorCodeCannotDMUser}
	assert.True(t, closedDMs.IsCannotDM())
	assert.False(t, closedDMs.IsMissingPermissions())

	gone := &APIError{Status: 404, Code: ErrorCodeUnknownMessage}
	assert.True(t, gone.IsUnknownMessage())
}

func TestRateLimiterBurstThenRefuse(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 1.0,
		BurstSize:         2,
		MinInterval:       0,
		WaitTimeout:       time.Millisecond,
	})

	assert.True(t, rl.TryAllow())
	assert.True(t, rl.TryAllow())
	assert.False(t, rl.TryAllow(), "bucket exhausted after burst")
}

func TestRateLimiterRecordHitBlocks(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.RecordRateLimitHit(time.Minute)

	assert.False(t, rl.TryAllow())
	st := rl.Status()
	assert.True(t, st.BlockedUntil.After(time.Now()))

	rl.Reset()
	assert.True(t, rl.TryAllow())
}
