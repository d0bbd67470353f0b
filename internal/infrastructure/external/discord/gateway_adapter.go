package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/focushall/focushall-bot/internal/domain/notification"
	"github.com/focushall/focushall-bot/internal/domain/shared"
)

// GatewayAdapter implements notification.Gateway on top of the REST client
// and the voice tracker. Prompt buttons carry the session token in their
// custom_id, prefixed so the interaction router can dispatch them.
type GatewayAdapter struct {
	client  *Client
	tracker *VoiceTracker
}

// ConfirmCustomIDPrefix prefixes the custom_id of confirmation buttons.
const ConfirmCustomIDPrefix = "confirm:"

// NewGatewayAdapter creates a gateway adapter.
func NewGatewayAdapter(client *Client, tracker *VoiceTracker) *GatewayAdapter {
	return &GatewayAdapter{client: client, tracker: tracker}
}

var _ notification.Gateway = (*GatewayAdapter)(nil)

// controlRow renders the domain control as a one-button action row.
func controlRow(control notification.Control) []ActionRow {
	return []ActionRow{{
		Type: ComponentTypeActionRow,
		Components: []Button{{
			Type:     ComponentTypeButton,
			Style:    ButtonStyleSuccess,
			Label:    control.Label,
			CustomID: ConfirmCustomIDPrefix + control.Token,
			Disabled: control.Disabled,
		}},
	}}
}

// PostPrompt implements notification.Gateway.
func (a *GatewayAdapter) PostPrompt(ctx context.Context, channelID, text string, control notification.Control) (notification.MessageRef, error) {
	msg, err := a.client.CreateMessage(ctx, channelID, CreateMessageParams{
		Content:    text,
		Components: controlRow(control),
	})
	if err != nil {
		return notification.MessageRef{}, a.mapError("PostPrompt", err)
	}
	return notification.MessageRef{ChannelID: msg.ChannelID, MessageID: msg.ID}, nil
}

// EditPrompt implements notification.Gateway.
func (a *GatewayAdapter) EditPrompt(ctx context.Context, ref notification.MessageRef, text string, control *notification.Control) error {
	var components []ActionRow
	if control != nil {
		components = controlRow(*control)
	}
	if _, err := a.client.EditMessage(ctx, ref.ChannelID, ref.MessageID, text, components); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsUnknownMessage() {
			return shared.WrapError("discord", "EditPrompt", shared.ErrStaleReference,
				"prompt message no longer exists", err)
		}
		return a.mapError("EditPrompt", err)
	}
	return nil
}

// SendDirect implements notification.Gateway. A recipient with DMs closed is
// reported as delivered=false with a nil error.
func (a *GatewayAdapter) SendDirect(ctx context.Context, userID, text string) (bool, error) {
	if _, err := a.client.SendDM(ctx, userID, text); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsCannotDM() {
			return false, nil
		}
		return false, a.mapError("SendDirect", err)
	}
	return true, nil
}

// PostNotice implements notification.Gateway.
func (a *GatewayAdapter) PostNotice(ctx context.Context, channelID, text string) error {
	if _, err := a.client.CreateMessage(ctx, channelID, CreateMessageParams{Content: text}); err != nil {
		return a.mapError("PostNotice", err)
	}
	return nil
}

// RemoveFromRoom implements notification.Gateway.
func (a *GatewayAdapter) RemoveFromRoom(ctx context.Context, guildID, userID, _ string) error {
	if err := a.client.DisconnectMember(ctx, guildID, userID); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsMissingPermissions() {
			return shared.WrapError("discord", "RemoveFromRoom", shared.ErrCapabilityDenied,
				"missing move members permission", err)
		}
		return a.mapError("RemoveFromRoom", err)
	}
	return nil
}

// LiveOccupants implements notification.Gateway. Occupancy comes from the
// voice tracker, not REST - Discord does not expose voice membership over
// REST.
func (a *GatewayAdapter) LiveOccupants(_ context.Context, roomID string) ([]string, error) {
	return a.tracker.Occupants(roomID), nil
}

// HasCapability implements notification.Gateway.
func (a *GatewayAdapter) HasCapability(ctx context.Context, channelOrRoomID string, cap notification.Capability) (bool, error) {
	bit, err := capabilityBit(cap)
	if err != nil {
		return false, err
	}
	ok, err := a.client.HasPermission(ctx, channelOrRoomID, bit)
	if err != nil {
		return false, a.mapError("HasCapability", err)
	}
	return ok, nil
}

func capabilityBit(cap notification.Capability) (uint64, error) {
	switch cap {
	case notification.CapabilityMoveMembers:
		return PermissionMoveMembers, nil
	case notification.CapabilitySendMessages:
		return PermissionSendMessages, nil
	case notification.CapabilityManageMessages:
		return PermissionManageMessages, nil
	default:
		return 0, shared.NewDomainError("discord", "HasCapability", shared.ErrInvalidInput,
			fmt.Sprintf("unknown capability %q", cap))
	}
}

// mapError converts client errors into domain errors.
func (a *GatewayAdapter) mapError(op string, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsMissingPermissions():
			return shared.WrapError("discord", op, shared.ErrCapabilityDenied, apiErr.Message, err)
		case apiErr.Status == 429:
			return shared.WrapError("discord", op, shared.ErrRateLimited, apiErr.Message, err)
		case apiErr.Status >= 500:
			return shared.WrapError("discord", op, shared.ErrServiceUnavailable, apiErr.Message, err)
		}
	}
	return shared.WrapError("discord", op, shared.ErrExternalService, "request failed", err)
}
