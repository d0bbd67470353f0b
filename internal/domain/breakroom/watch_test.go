package breakroom

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWatchDwell(t *testing.T) {
	joined := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	w := Watch{UserID: "u1", RoomID: "r1", JoinedAt: joined}

	assert.Equal(t, WatchKey{UserID: "u1", RoomID: "r1"}, w.Key())
	assert.Equal(t, 15*time.Minute, w.Dwell(joined.Add(15*time.Minute)))
}

func TestJoinHistoryRollingWindow(t *testing.T) {
	var h JoinHistory
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 1, h.RecordJoin(base))
	assert.Equal(t, 2, h.RecordJoin(base.Add(10*time.Minute)))
	assert.Equal(t, 3, h.RecordJoin(base.Add(20*time.Minute)))

	// 70 minutes after the first join, the first entry has rolled out.
	assert.Equal(t, 3, h.RecordJoin(base.Add(70*time.Minute)))
	assert.Equal(t, 3, h.Count(base.Add(70*time.Minute)))
}

func TestJoinHistoryNagThreshold(t *testing.T) {
	var h JoinHistory
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	h.RecordJoin(base)
	assert.False(t, h.ShouldNag(3))
	h.RecordJoin(base.Add(5 * time.Minute))
	assert.False(t, h.ShouldNag(3))
	h.RecordJoin(base.Add(10 * time.Minute))
	assert.True(t, h.ShouldNag(3))

	h.MarkNagged(base.Add(10 * time.Minute))

	// A 4th join in the same window produces no additional nag.
	h.RecordJoin(base.Add(15 * time.Minute))
	assert.False(t, h.ShouldNag(3))
}

func TestJoinHistoryNagResetsAfterWindowRolls(t *testing.T) {
	var h JoinHistory
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	h.RecordJoin(base)
	h.RecordJoin(base.Add(1 * time.Minute))
	h.RecordJoin(base.Add(2 * time.Minute))
	assert.True(t, h.ShouldNag(3))
	h.MarkNagged(base.Add(2 * time.Minute))

	// After the window rolls past the nag, three fresh joins nag again.
	later := base.Add(2 * time.Hour)
	h.RecordJoin(later)
	h.RecordJoin(later.Add(1 * time.Minute))
	assert.False(t, h.ShouldNag(3))
	h.RecordJoin(later.Add(2 * time.Minute))
	assert.True(t, h.ShouldNag(3))
}
