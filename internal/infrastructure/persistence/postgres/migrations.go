package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE USER STATS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create user_stats table
-- Version: 001

-- Per-user ledger: experience, streaks, infractions.
CREATE TABLE IF NOT EXISTS user_stats (
    user_id VARCHAR(32) PRIMARY KEY,
    guild_id VARCHAR(32) NOT NULL DEFAULT '',
    xp INTEGER NOT NULL DEFAULT 0,
    streak INTEGER NOT NULL DEFAULT 0,
    best_streak INTEGER NOT NULL DEFAULT 0,
    infractions INTEGER NOT NULL DEFAULT 0,
    last_confirmed_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_xp CHECK (xp >= 0),
    CONSTRAINT valid_streak CHECK (streak >= 0),
    CONSTRAINT valid_best_streak CHECK (best_streak >= streak),
    CONSTRAINT valid_infractions CHECK (infractions >= 0)
);

CREATE INDEX IF NOT EXISTS idx_user_stats_xp ON user_stats(xp DESC);
CREATE INDEX IF NOT EXISTS idx_user_stats_streak ON user_stats(streak DESC);
CREATE INDEX IF NOT EXISTS idx_user_stats_guild ON user_stats(guild_id);
`

const migration001Down = `
DROP TABLE IF EXISTS user_stats;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE SESSION LOG
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create session_log table
-- Version: 002

-- Audit log of closed focus sessions. Live sessions are never persisted;
-- one row is written per session at close time.
CREATE TABLE IF NOT EXISTS session_log (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    room_id VARCHAR(32) NOT NULL,
    guild_id VARCHAR(32) NOT NULL DEFAULT '',
    opened_at TIMESTAMP WITH TIME ZONE NOT NULL,
    closed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    close_reason VARCHAR(20) NOT NULL,
    expected_count INTEGER NOT NULL DEFAULT 0,
    confirmed_count INTEGER NOT NULL DEFAULT 0,
    enforced_count INTEGER NOT NULL DEFAULT 0,

    CONSTRAINT valid_close_reason CHECK (close_reason IN ('deadline', 'admin', 'prompt_deleted')),
    CONSTRAINT valid_counts CHECK (confirmed_count >= 0 AND expected_count >= 0 AND enforced_count >= 0)
);

CREATE INDEX IF NOT EXISTS idx_session_log_room ON session_log(room_id, closed_at DESC);
CREATE INDEX IF NOT EXISTS idx_session_log_closed_at ON session_log(closed_at DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS session_log;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE INFRACTIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create infractions table
-- Version: 003

-- One row per recorded infraction, for moderator review. The aggregate
-- counter lives on user_stats; this table is the detail.
CREATE TABLE IF NOT EXISTS infractions (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id VARCHAR(32) NOT NULL,
    room_id VARCHAR(32) NOT NULL DEFAULT '',
    reason VARCHAR(40) NOT NULL DEFAULT 'missed_confirmation',
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_infractions_user ON infractions(user_id, recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_infractions_recorded_at ON infractions(recorded_at DESC);
`

const migration003Down = `
DROP TABLE IF EXISTS infractions;
`
