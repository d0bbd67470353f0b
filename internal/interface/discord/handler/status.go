package handler

import (
	"context"

	"github.com/focushall/focushall-bot/internal/domain/ledger"
	"github.com/focushall/focushall-bot/internal/domain/shared"
	"github.com/focushall/focushall-bot/internal/infrastructure/persistence/projections"
	"github.com/focushall/focushall-bot/internal/interface/discord/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATUS HANDLER
// Handles /status - the user's ledger card plus recent session activity for
// the room they're asking from.
// ══════════════════════════════════════════════════════════════════════════════

// ActivityView exposes the in-memory recent-session view.
type ActivityView interface {
	RecentActivity(roomID string) []projections.RoomActivityEntry
}

// StatusHandler handles the /status command.
type StatusHandler struct {
	ledger   ledger.Ledger
	activity ActivityView

	// maxRecent caps the activity lines shown.
	maxRecent int
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(userLedger ledger.Ledger, activity ActivityView) *StatusHandler {
	return &StatusHandler{
		ledger:    userLedger,
		activity:  activity,
		maxRecent: 5,
	}
}

// StatusRequest contains the parsed /status command data.
type StatusRequest struct {
	UserID string

	// RoomID is the room whose activity to show, if any.
	RoomID string
}

// StatusResponse is the rendered card. Always ephemeral.
type StatusResponse struct {
	Text string
}

// Handle processes the /status command.
func (h *StatusHandler) Handle(ctx context.Context, req StatusRequest) (*StatusResponse, error) {
	stats, err := h.ledger.Get(ctx, req.UserID)
	if err != nil {
		if !shared.IsNotFound(err) {
			return nil, err
		}
		stats = nil // first-time user, render the empty card
	}

	var recent []projections.RoomActivityEntry
	if req.RoomID != "" && h.activity != nil {
		recent = h.activity.RecentActivity(req.RoomID)
		if len(recent) > h.maxRecent {
			recent = recent[:h.maxRecent]
		}
	}

	return &StatusResponse{Text: presenter.StatusCard(stats, recent)}, nil
}
