// Package handler contains the bot's slash command and component handlers.
package handler

import (
	"context"
	"errors"

	"github.com/focushall/focushall-bot/internal/application/trigger"
	"github.com/focushall/focushall-bot/internal/domain/shared"
	"github.com/focushall/focushall-bot/internal/interface/discord/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// FOCUS HANDLER
// Handles /focus - an explicit request for an attendance check. The request
// goes through the trigger detector like any other signal, so it shares the
// same dedup window as organic triggers.
// ══════════════════════════════════════════════════════════════════════════════

// TriggerSink accepts trigger signals. Implemented by the trigger detector.
type TriggerSink interface {
	Handle(ctx context.Context, sig trigger.Signal) error
}

// FocusHandler handles the /focus command.
type FocusHandler struct {
	triggers TriggerSink
}

// NewFocusHandler creates a new FocusHandler.
func NewFocusHandler(triggers TriggerSink) *FocusHandler {
	return &FocusHandler{triggers: triggers}
}

// FocusRequest contains the parsed /focus command data.
type FocusRequest struct {
	UserID    string
	GuildID   string
	ChannelID string

	// RoomID is the explicit voice room from the command option, if given.
	RoomID string
}

// FocusResponse is what to tell the acting user. Always ephemeral.
type FocusResponse struct {
	Text string
}

// Handle processes the /focus command.
func (h *FocusHandler) Handle(ctx context.Context, req FocusRequest) (*FocusResponse, error) {
	err := h.triggers.Handle(ctx, trigger.Signal{
		ChannelID:      req.ChannelID,
		GuildID:        req.GuildID,
		AuthorID:       req.UserID,
		ExplicitRoomID: req.RoomID,
	})

	switch {
	case err == nil:
		return &FocusResponse{Text: presenter.FocusAccepted(req.RoomID)}, nil
	case errors.Is(err, shared.ErrDuplicateSignal):
		return &FocusResponse{Text: presenter.FocusAlreadyRunning()}, nil
	case errors.Is(err, shared.ErrUnresolvedRoom):
		return &FocusResponse{Text: presenter.FocusUnresolved()}, nil
	case errors.Is(err, shared.ErrRoomEmpty):
		return &FocusResponse{Text: presenter.FocusRoomEmpty()}, nil
	default:
		return nil, err
	}
}
