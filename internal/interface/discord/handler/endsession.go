package handler

import (
	"context"

	"github.com/focushall/focushall-bot/internal/domain/shared"
	"github.com/focushall/focushall-bot/internal/interface/discord/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// END SESSION HANDLER
// Handles /endsession - an admin killing a live attendance check. The
// session closes without enforcement; nobody is removed or flagged.
// ══════════════════════════════════════════════════════════════════════════════

// SessionEnder force-ends live sessions. Implemented by the engine.
type SessionEnder interface {
	ForceEnd(ctx context.Context, roomID string) error
}

// EndSessionHandler handles the /endsession command.
type EndSessionHandler struct {
	engine SessionEnder
	admins map[string]bool
}

// NewEndSessionHandler creates a new EndSessionHandler. Only users in
// adminIDs may end sessions.
func NewEndSessionHandler(engine SessionEnder, adminIDs []string) *EndSessionHandler {
	admins := make(map[string]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &EndSessionHandler{engine: engine, admins: admins}
}

// EndSessionRequest contains the parsed /endsession command data.
type EndSessionRequest struct {
	UserID string
	RoomID string
}

// EndSessionResponse is what to tell the admin. Always ephemeral.
type EndSessionResponse struct {
	Text string
}

// Handle processes the /endsession command.
func (h *EndSessionHandler) Handle(ctx context.Context, req EndSessionRequest) (*EndSessionResponse, error) {
	if !h.admins[req.UserID] {
		return &EndSessionResponse{Text: presenter.NotAuthorized()}, nil
	}
	if req.RoomID == "" {
		return &EndSessionResponse{Text: presenter.EndSessionNotFound()}, nil
	}

	err := h.engine.ForceEnd(ctx, req.RoomID)
	switch {
	case err == nil:
		return &EndSessionResponse{Text: presenter.EndSessionDone(req.RoomID)}, nil
	case shared.IsNotFound(err):
		return &EndSessionResponse{Text: presenter.EndSessionNotFound()}, nil
	default:
		return nil, err
	}
}
