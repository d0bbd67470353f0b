package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/focushall/focushall-bot/internal/domain/ledger"
	"github.com/focushall/focushall-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER STATS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// UserStatsRepository implements ledger.Repository for PostgreSQL.
type UserStatsRepository struct {
	conn *Connection
}

// NewUserStatsRepository creates a new UserStatsRepository.
func NewUserStatsRepository(conn *Connection) *UserStatsRepository {
	return &UserStatsRepository{conn: conn}
}

var _ ledger.Repository = (*UserStatsRepository)(nil)

// Get loads stats for a user.
func (r *UserStatsRepository) Get(ctx context.Context, userID string) (*ledger.UserStats, error) {
	query := `
		SELECT user_id, xp, streak, best_streak, infractions, last_confirmed_at, updated_at
		FROM user_stats
		WHERE user_id = $1
	`

	row := r.conn.QueryRow(ctx, query, userID)
	stats, err := scanUserStats(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrStatsNotFound
		}
		return nil, fmt.Errorf("failed to get user stats: %w", err)
	}
	return stats, nil
}

// ApplyDelta atomically applies a coalesced delta to a user's record. The
// row is locked for the duration so streak arithmetic cannot interleave, and
// the record is created on first write.
func (r *UserStatsRepository) ApplyDelta(ctx context.Context, userID string, delta ledger.Delta) (*ledger.UserStats, error) {
	if delta.IsZero() {
		return r.Get(ctx, userID)
	}

	var result *ledger.UserStats
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		query := `
			SELECT user_id, xp, streak, best_streak, infractions, last_confirmed_at, updated_at
			FROM user_stats
			WHERE user_id = $1
			FOR UPDATE
		`

		stats, err := scanUserStats(tx.QueryRow(ctx, query, userID))
		if err != nil {
			if !IsNoRows(err) {
				return fmt.Errorf("failed to lock user stats: %w", err)
			}
			stats = &ledger.UserStats{UserID: userID}
		}

		now := time.Now().UTC()
		if delta.XP > 0 {
			creditedAt := delta.ConfirmedAt
			if creditedAt.IsZero() {
				creditedAt = now
			}
			stats.ApplyCredit(delta.XP, creditedAt)
		}
		for i := 0; i < delta.Flags; i++ {
			stats.ApplyFlag(now)
		}

		upsert := `
			INSERT INTO user_stats (user_id, xp, streak, best_streak, infractions, last_confirmed_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (user_id) DO UPDATE SET
				xp = EXCLUDED.xp,
				streak = EXCLUDED.streak,
				best_streak = EXCLUDED.best_streak,
				infractions = EXCLUDED.infractions,
				last_confirmed_at = EXCLUDED.last_confirmed_at,
				updated_at = EXCLUDED.updated_at
		`

		var lastConfirmed *time.Time
		if !stats.LastConfirmedAt.IsZero() {
			t := stats.LastConfirmedAt
			lastConfirmed = &t
		}
		if _, err := tx.Exec(ctx, upsert,
			stats.UserID,
			stats.XP,
			stats.Streak,
			stats.BestStreak,
			stats.Infractions,
			lastConfirmed,
			stats.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to upsert user stats: %w", err)
		}

		result = stats
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Top returns the highest-XP users, for leaderboard-style admin queries.
func (r *UserStatsRepository) Top(ctx context.Context, limit int) ([]*ledger.UserStats, error) {
	query := `
		SELECT user_id, xp, streak, best_streak, infractions, last_confirmed_at, updated_at
		FROM user_stats
		ORDER BY xp DESC
		LIMIT $1
	`

	rows, err := r.conn.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top stats: %w", err)
	}
	defer rows.Close()

	var out []*ledger.UserStats
	for rows.Next() {
		stats, err := scanUserStats(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		out = append(out, stats)
	}
	return out, rows.Err()
}

// scanUserStats scans one user_stats row.
func scanUserStats(row pgx.Row) (*ledger.UserStats, error) {
	var s ledger.UserStats
	var lastConfirmed *time.Time

	err := row.Scan(
		&s.UserID,
		&s.XP,
		&s.Streak,
		&s.BestStreak,
		&s.Infractions,
		&lastConfirmed,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastConfirmed != nil {
		s.LastConfirmedAt = *lastConfirmed
	}
	return &s, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// INFRACTION DETAIL LOG
// ══════════════════════════════════════════════════════════════════════════════

// InfractionRepository writes the per-infraction detail rows backing the
// aggregate counter on user_stats.
type InfractionRepository struct {
	conn *Connection
}

// NewInfractionRepository creates a new InfractionRepository.
func NewInfractionRepository(conn *Connection) *InfractionRepository {
	return &InfractionRepository{conn: conn}
}

// Record inserts one infraction row.
func (r *InfractionRepository) Record(ctx context.Context, userID, roomID, reason string) error {
	query := `
		INSERT INTO infractions (user_id, room_id, reason)
		VALUES ($1, $2, $3)
	`
	if _, err := r.conn.Exec(ctx, query, userID, roomID, reason); err != nil {
		return fmt.Errorf("failed to record infraction: %w", err)
	}
	return nil
}

// CountForUser returns the number of infractions recorded since a cutoff.
func (r *InfractionRepository) CountForUser(ctx context.Context, userID string, since time.Time) (int, error) {
	query := `
		SELECT count(*) FROM infractions
		WHERE user_id = $1 AND recorded_at >= $2
	`

	var n int
	if err := r.conn.QueryRow(ctx, query, userID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count infractions: %w", err)
	}
	return n, nil
}
