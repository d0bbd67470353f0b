// Package ledger contains the per-user stats model and the User Ledger
// contract consumed by the presence engine and break monitor.
// This is a pure domain layer with zero external dependencies.
package ledger

import (
	"context"
	"time"

	"github.com/focushall/focushall-bot/pkg/timeutil"
)

// UserStats is the durable per-user record: experience, streak, infractions.
// XP and infractions only ever grow; streak is maintained by the ledger's own
// day-boundary logic.
type UserStats struct {
	// UserID is the platform user identifier (primary key).
	UserID string

	// XP is the experience total, monotonically non-decreasing via Credit.
	XP int

	// Streak is the consecutive-day confirmation streak.
	Streak int

	// BestStreak is the highest streak ever reached.
	BestStreak int

	// Infractions is the count of enforcement flags, monotonically
	// non-decreasing via Flag.
	Infractions int

	// LastConfirmedAt is the time of the most recent presence confirmation,
	// used for streak day arithmetic.
	LastConfirmedAt time.Time

	// UpdatedAt is the time of the last mutation.
	UpdatedAt time.Time
}

// ApplyCredit adds XP and advances the streak bookkeeping. A confirmation on
// the same calendar day does not extend the streak; a confirmation on the
// next day extends it; a gap resets it to 1.
func (s *UserStats) ApplyCredit(amount int, now time.Time) {
	s.XP += amount
	switch {
	case s.LastConfirmedAt.IsZero():
		s.Streak = 1
	case timeutil.IsSameDay(s.LastConfirmedAt.UTC(), now.UTC()):
		// no streak change
	case timeutil.IsConsecutiveDay(s.LastConfirmedAt.UTC(), now.UTC()):
		s.Streak++
	default:
		s.Streak = 1
	}
	if s.Streak > s.BestStreak {
		s.BestStreak = s.Streak
	}
	s.LastConfirmedAt = now
	s.UpdatedAt = now
}

// ApplyFlag records an infraction.
func (s *UserStats) ApplyFlag(now time.Time) {
	s.Infractions++
	s.UpdatedAt = now
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTRACTS
// ══════════════════════════════════════════════════════════════════════════════

// Ledger is the contract the engine and break monitor write through. Writes
// may be buffered by the implementation; Flush pushes pending deltas to
// durable storage.
type Ledger interface {
	// Credit adds XP to a user. Amount must be positive.
	Credit(ctx context.Context, userID string, amount int) error

	// Flag records an infraction against a user.
	Flag(ctx context.Context, userID string) error

	// Get returns the user's stats, including any unflushed deltas.
	Get(ctx context.Context, userID string) (*UserStats, error)
}

// Repository is the durable storage behind a Ledger implementation.
type Repository interface {
	// Get loads stats for a user. Returns shared.ErrStatsNotFound when the
	// user has no record yet.
	Get(ctx context.Context, userID string) (*UserStats, error)

	// ApplyDelta atomically applies accumulated credit/flag deltas to a
	// user's record, creating it if absent, and returns the updated stats.
	ApplyDelta(ctx context.Context, userID string, delta Delta) (*UserStats, error)
}

// Delta is a coalesced batch of pending mutations for one user.
type Delta struct {
	// XP is the summed credit amount.
	XP int

	// Flags is the number of infractions to add.
	Flags int

	// ConfirmedAt is the latest confirmation time in the batch (zero if the
	// batch carries only flags).
	ConfirmedAt time.Time
}

// IsZero reports whether the delta carries no mutations.
func (d Delta) IsZero() bool {
	return d.XP == 0 && d.Flags == 0
}

// Merge combines another delta into this one.
func (d Delta) Merge(other Delta) Delta {
	out := Delta{
		XP:          d.XP + other.XP,
		Flags:       d.Flags + other.Flags,
		ConfirmedAt: d.ConfirmedAt,
	}
	if other.ConfirmedAt.After(out.ConfirmedAt) {
		out.ConfirmedAt = other.ConfirmedAt
	}
	return out
}
