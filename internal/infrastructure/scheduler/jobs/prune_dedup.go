// Package jobs contains the bot's scheduled housekeeping jobs.
package jobs

import (
	"context"
	"log/slog"
)

// ══════════════════════════════════════════════════════════════════════════════
// PRUNE DEDUP JOB
// ══════════════════════════════════════════════════════════════════════════════

// DedupPruner removes expired trigger dedup entries and reports how many
// were dropped. Implemented by the trigger detector.
type DedupPruner interface {
	Prune() int
}

// PruneDedupJob evicts expired room and message dedup entries from the
// trigger detector. The detector checks expiry on every signal anyway; this
// job only keeps the maps from growing with rooms that went quiet.
type PruneDedupJob struct {
	pruner DedupPruner
	logger *slog.Logger
}

// NewPruneDedupJob creates the job.
func NewPruneDedupJob(pruner DedupPruner, logger *slog.Logger) *PruneDedupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PruneDedupJob{
		pruner: pruner,
		logger: logger.With("job", "prune_dedup"),
	}
}

// Name implements scheduler.Job.
func (j *PruneDedupJob) Name() string {
	return "prune_dedup"
}

// Description implements scheduler.Job.
func (j *PruneDedupJob) Description() string {
	return "Evicts expired trigger dedup entries"
}

// Run implements scheduler.Job.
func (j *PruneDedupJob) Run(ctx context.Context) error {
	removed := j.pruner.Prune()
	if removed > 0 {
		j.logger.Debug("pruned dedup entries", "removed", removed)
	}
	return nil
}
