package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(d int, hour int) time.Time {
	return time.Date(2026, 3, d, hour, 0, 0, 0, time.UTC)
}

func TestApplyCreditFirstEver(t *testing.T) {
	s := &UserStats{UserID: "u1"}
	s.ApplyCredit(50, day(2, 10))

	assert.Equal(t, 50, s.XP)
	assert.Equal(t, 1, s.Streak)
	assert.Equal(t, 1, s.BestStreak)
}

func TestApplyCreditSameDayKeepsStreak(t *testing.T) {
	s := &UserStats{UserID: "u1"}
	s.ApplyCredit(50, day(2, 10))
	s.ApplyCredit(50, day(2, 18))

	assert.Equal(t, 100, s.XP)
	assert.Equal(t, 1, s.Streak)
}

func TestApplyCreditConsecutiveDaysExtendStreak(t *testing.T) {
	s := &UserStats{UserID: "u1"}
	s.ApplyCredit(50, day(2, 10))
	s.ApplyCredit(50, day(3, 9))
	s.ApplyCredit(50, day(4, 23))

	assert.Equal(t, 3, s.Streak)
	assert.Equal(t, 3, s.BestStreak)
}

func TestApplyCreditGapResetsStreak(t *testing.T) {
	s := &UserStats{UserID: "u1"}
	s.ApplyCredit(50, day(2, 10))
	s.ApplyCredit(50, day(3, 10))
	s.ApplyCredit(50, day(6, 10)) // two days missed

	assert.Equal(t, 1, s.Streak)
	assert.Equal(t, 2, s.BestStreak)
}

func TestApplyFlag(t *testing.T) {
	s := &UserStats{UserID: "u1"}
	s.ApplyFlag(day(2, 10))
	s.ApplyFlag(day(2, 11))

	assert.Equal(t, 2, s.Infractions)
}

func TestDeltaMerge(t *testing.T) {
	a := Delta{XP: 50, Flags: 0, ConfirmedAt: day(2, 10)}
	b := Delta{XP: 25, Flags: 1, ConfirmedAt: day(2, 12)}

	m := a.Merge(b)
	assert.Equal(t, 75, m.XP)
	assert.Equal(t, 1, m.Flags)
	assert.Equal(t, day(2, 12), m.ConfirmedAt)
	assert.False(t, m.IsZero())
	assert.True(t, Delta{}.IsZero())
}
