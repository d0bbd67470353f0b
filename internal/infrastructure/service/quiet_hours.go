package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/focushall/focushall-bot/internal/domain/notification"
	"github.com/focushall/focushall-bot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// QUIET HOURS GATEWAY
// Decorator over the notification gateway that silently drops direct messages
// during night hours. Only advisory traffic goes through the decorated
// instance; enforcement notices use the raw gateway and are never suppressed.
// ══════════════════════════════════════════════════════════════════════════════

// QuietHoursGateway wraps a notification.Gateway and suppresses SendDirect
// outside safe notification hours. A suppressed DM reports delivered=false
// with no error, the same shape as a user with closed DMs, so callers need no
// special handling.
type QuietHoursGateway struct {
	notification.Gateway

	// Enabled is consulted per delivery; a nil func means always on.
	Enabled func() bool

	// Location is the timezone quiet hours are evaluated in.
	Location *time.Location

	// Now overrides the clock, for tests.
	Now func() time.Time

	Logger *slog.Logger
}

// NewQuietHoursGateway decorates gw with quiet-hours suppression.
func NewQuietHoursGateway(gw notification.Gateway, loc *time.Location, enabled func() bool, logger *slog.Logger) *QuietHoursGateway {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QuietHoursGateway{
		Gateway:  gw,
		Enabled:  enabled,
		Location: loc,
		Logger:   logger.With("component", "quiet_hours"),
	}
}

// SendDirect delivers the DM unless quiet hours are in effect.
func (g *QuietHoursGateway) SendDirect(ctx context.Context, userID, text string) (bool, error) {
	if g.active() {
		g.Logger.Debug("dm suppressed during quiet hours", "user_id", userID)
		return false, nil
	}
	return g.Gateway.SendDirect(ctx, userID, text)
}

func (g *QuietHoursGateway) active() bool {
	if g.Enabled != nil && !g.Enabled() {
		return false
	}
	now := time.Now()
	if g.Now != nil {
		now = g.Now()
	}
	return !timeutil.IsSafeNotificationTime(now.In(g.Location))
}
