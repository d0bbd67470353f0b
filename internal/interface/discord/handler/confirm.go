package handler

import (
	"context"
	"errors"

	"github.com/focushall/focushall-bot/internal/application/engine"
	"github.com/focushall/focushall-bot/internal/domain/shared"
	"github.com/focushall/focushall-bot/internal/interface/discord/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIRM HANDLER
// Handles the check-in button on a session prompt. The button's custom id
// carries the session token; the engine re-validates everything else.
// ══════════════════════════════════════════════════════════════════════════════

// PresenceConfirmer accepts confirmation attempts. Implemented by the engine.
type PresenceConfirmer interface {
	Confirm(ctx context.Context, token, userID string) (engine.ConfirmOutcome, error)
}

// ConfirmHandler handles confirm button clicks.
type ConfirmHandler struct {
	engine PresenceConfirmer
}

// NewConfirmHandler creates a new ConfirmHandler.
func NewConfirmHandler(engine PresenceConfirmer) *ConfirmHandler {
	return &ConfirmHandler{engine: engine}
}

// ConfirmRequest contains a parsed button click.
type ConfirmRequest struct {
	UserID string

	// Token is the session token from the button's custom id.
	Token string
}

// ConfirmResponse is what to tell the clicking user. Always ephemeral.
type ConfirmResponse struct {
	Text string
}

// Handle processes a confirm click.
func (h *ConfirmHandler) Handle(ctx context.Context, req ConfirmRequest) (*ConfirmResponse, error) {
	outcome, err := h.engine.Confirm(ctx, req.Token, req.UserID)

	switch {
	case err == nil:
		if outcome.Repeat {
			return &ConfirmResponse{Text: presenter.ConfirmRepeat()}, nil
		}
		return &ConfirmResponse{Text: presenter.ConfirmCredited(outcome.XP)}, nil
	case shared.IsStaleReference(err):
		// Unknown token, closed session, previous session's prompt.
		return &ConfirmResponse{Text: presenter.ConfirmStale()}, nil
	case errors.Is(err, shared.ErrNotInRoom):
		return &ConfirmResponse{Text: presenter.ConfirmNotInRoom()}, nil
	default:
		return nil, err
	}
}
