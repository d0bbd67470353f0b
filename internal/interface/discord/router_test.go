package discord

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focushall/focushall-bot/internal/infrastructure/external/discord"
)

func commandInteraction(name, userID string, options ...discord.InteractionOption) *discord.Interaction {
	return &discord.Interaction{
		ID:        "interaction-1",
		Type:      discord.InteractionTypeApplicationCommand,
		GuildID:   "guild-1",
		ChannelID: "channel-1",
		Member: &discord.GuildMember{
			User: &discord.User{ID: userID, Username: "tester"},
		},
		Data: &discord.InteractionData{Name: name, Options: options},
	}
}

func componentInteraction(customID, userID string) *discord.Interaction {
	return &discord.Interaction{
		ID:        "interaction-2",
		Type:      discord.InteractionTypeMessageComponent,
		GuildID:   "guild-1",
		ChannelID: "channel-1",
		User:      &discord.User{ID: userID, Username: "tester"},
		Data:      &discord.InteractionData{CustomID: customID},
	}
}

func stringOption(name, value string) discord.InteractionOption {
	raw, _ := json.Marshal(value)
	return discord.InteractionOption{Name: name, Type: 3, Value: raw}
}

func TestRouterRoutesCommandByName(t *testing.T) {
	router := NewRouter(nil)

	var got CommandContext
	router.RegisterCommand("Focus", func(_ context.Context, cmd CommandContext) error {
		got = cmd
		return nil
	})

	// Registration and dispatch are both case-insensitive.
	err := router.HandleInteraction(context.Background(), commandInteraction("FOCUS", "user-1"))
	require.NoError(t, err)

	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "guild-1", got.GuildID)
	assert.Equal(t, "channel-1", got.ChannelID)
}

func TestRouterCommandOptions(t *testing.T) {
	router := NewRouter(nil)

	var room string
	router.RegisterCommand("focus", func(_ context.Context, cmd CommandContext) error {
		room = cmd.Option("room")
		return nil
	})

	in := commandInteraction("focus", "user-1", stringOption("room", "deep-work"))
	require.NoError(t, router.HandleInteraction(context.Background(), in))
	assert.Equal(t, "deep-work", room)

	// Absent options read as empty.
	require.NoError(t, router.HandleInteraction(context.Background(), commandInteraction("focus", "user-1")))
	assert.Equal(t, "", room)
}

func TestRouterUnknownCommandFallsBackToDefault(t *testing.T) {
	router := NewRouter(nil)

	// No handlers at all: unknown commands are dropped silently.
	require.NoError(t, router.HandleInteraction(context.Background(), commandInteraction("nope", "user-1")))

	called := false
	router.SetDefaultCommandHandler(func(context.Context, CommandContext) error {
		called = true
		return nil
	})
	require.NoError(t, router.HandleInteraction(context.Background(), commandInteraction("nope", "user-1")))
	assert.True(t, called)
}

func TestRouterComponentPrefixMatch(t *testing.T) {
	router := NewRouter(nil)

	var got ComponentContext
	router.RegisterComponentPrefix("confirm:", func(_ context.Context, comp ComponentContext) error {
		got = comp
		return nil
	})

	in := componentInteraction("confirm:token-abc", "user-2")
	require.NoError(t, router.HandleInteraction(context.Background(), in))

	assert.Equal(t, "user-2", got.UserID)
	assert.Equal(t, "confirm:token-abc", got.CustomID)
	assert.Equal(t, "token-abc", got.Value)
}

func TestRouterUnmatchedComponentIsIgnored(t *testing.T) {
	router := NewRouter(nil)
	router.RegisterComponentPrefix("confirm:", func(context.Context, ComponentContext) error {
		t.Fatal("handler should not run")
		return nil
	})

	err := router.HandleInteraction(context.Background(), componentInteraction("settings:open", "user-2"))
	assert.NoError(t, err)
}

func TestRouterPropagatesHandlerError(t *testing.T) {
	router := NewRouter(nil)
	boom := errors.New("boom")
	router.RegisterCommand("focus", func(context.Context, CommandContext) error {
		return boom
	})

	err := router.HandleInteraction(context.Background(), commandInteraction("focus", "user-1"))
	assert.ErrorIs(t, err, boom)
}

func TestRouterIgnoresPingAndEmptyData(t *testing.T) {
	router := NewRouter(nil)

	assert.NoError(t, router.HandleInteraction(context.Background(), &discord.Interaction{
		Type: discord.InteractionTypePing,
	}))
	assert.NoError(t, router.HandleInteraction(context.Background(), &discord.Interaction{
		Type: discord.InteractionTypeApplicationCommand,
	}))
}
