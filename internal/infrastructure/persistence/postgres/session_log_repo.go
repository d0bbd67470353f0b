package postgres

import (
	"context"
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION LOG REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// SessionLogEntry is one closed-session audit record.
type SessionLogEntry struct {
	RoomID         string
	GuildID        string
	OpenedAt       time.Time
	ClosedAt       time.Time
	CloseReason    string
	ExpectedCount  int
	ConfirmedCount int
	EnforcedCount  int
}

// SessionLogRepository persists the audit trail of closed focus sessions.
// Written once per session at close time, driven by the event bus.
type SessionLogRepository struct {
	conn *Connection
}

// NewSessionLogRepository creates a new SessionLogRepository.
func NewSessionLogRepository(conn *Connection) *SessionLogRepository {
	return &SessionLogRepository{conn: conn}
}

// Record inserts one session log row.
func (r *SessionLogRepository) Record(ctx context.Context, entry SessionLogEntry) error {
	query := `
		INSERT INTO session_log (
			room_id, guild_id, opened_at, closed_at, close_reason,
			expected_count, confirmed_count, enforced_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.conn.Exec(ctx, query,
		entry.RoomID,
		entry.GuildID,
		entry.OpenedAt,
		entry.ClosedAt,
		entry.CloseReason,
		entry.ExpectedCount,
		entry.ConfirmedCount,
		entry.EnforcedCount,
	)
	if err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}
	return nil
}

// PurgeOlderThan deletes session log rows closed before the cutoff and
// returns how many were removed. Drives the audit retention job.
func (r *SessionLogRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.conn.Exec(ctx, `DELETE FROM session_log WHERE closed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge session log: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RecentForRoom returns the most recent closed sessions for a room.
func (r *SessionLogRepository) RecentForRoom(ctx context.Context, roomID string, limit int) ([]SessionLogEntry, error) {
	query := `
		SELECT room_id, guild_id, opened_at, closed_at, close_reason,
		       expected_count, confirmed_count, enforced_count
		FROM session_log
		WHERE room_id = $1
		ORDER BY closed_at DESC
		LIMIT $2
	`

	rows, err := r.conn.Query(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session log: %w", err)
	}
	defer rows.Close()

	var out []SessionLogEntry
	for rows.Next() {
		var e SessionLogEntry
		if err := rows.Scan(
			&e.RoomID, &e.GuildID, &e.OpenedAt, &e.ClosedAt, &e.CloseReason,
			&e.ExpectedCount, &e.ConfirmedCount, &e.EnforcedCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session log row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
