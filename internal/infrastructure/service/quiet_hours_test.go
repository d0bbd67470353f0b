package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focushall/focushall-bot/internal/domain/notification"
)

type recordingGateway struct {
	notification.Gateway
	sent []string
}

func (g *recordingGateway) SendDirect(_ context.Context, userID, _ string) (bool, error) {
	g.sent = append(g.sent, userID)
	return true, nil
}

func at(hour int) func() time.Time {
	return func() time.Time {
		return time.Date(2026, 8, 30, hour, 30, 0, 0, time.UTC)
	}
}

func TestQuietHoursSuppressesNightDMs(t *testing.T) {
	inner := &recordingGateway{}
	gw := NewQuietHoursGateway(inner, time.UTC, nil, nil)
	gw.Now = at(2)

	delivered, err := gw.SendDirect(context.Background(), "user-1", "take a break reminder")
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Empty(t, inner.sent)
}

func TestQuietHoursPassesDaytimeDMs(t *testing.T) {
	inner := &recordingGateway{}
	gw := NewQuietHoursGateway(inner, time.UTC, nil, nil)
	gw.Now = at(14)

	delivered, err := gw.SendDirect(context.Background(), "user-1", "reminder")
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, []string{"user-1"}, inner.sent)
}

func TestQuietHoursDisabledFlagDelivers(t *testing.T) {
	inner := &recordingGateway{}
	gw := NewQuietHoursGateway(inner, time.UTC, func() bool { return false }, nil)
	gw.Now = at(2)

	delivered, err := gw.SendDirect(context.Background(), "user-1", "reminder")
	require.NoError(t, err)
	assert.True(t, delivered)
}

func TestQuietHoursBoundaries(t *testing.T) {
	inner := &recordingGateway{}
	gw := NewQuietHoursGateway(inner, time.UTC, nil, nil)

	gw.Now = at(8) // before 9:00
	delivered, _ := gw.SendDirect(context.Background(), "user-1", "x")
	assert.False(t, delivered)

	gw.Now = at(9)
	delivered, _ = gw.SendDirect(context.Background(), "user-1", "x")
	assert.True(t, delivered)

	gw.Now = at(22) // 22:00 is already quiet
	delivered, _ = gw.SendDirect(context.Background(), "user-1", "x")
	assert.False(t, delivered)
}
