package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// PURGE AUDIT JOB
// ══════════════════════════════════════════════════════════════════════════════

// AuditPurger deletes audit rows closed before the cutoff.
// Implemented by the Postgres session log repository.
type AuditPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeAuditJob enforces the session log retention window. Runs nightly.
type PurgeAuditJob struct {
	purger    AuditPurger
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// PurgeAuditConfig configures the job.
type PurgeAuditConfig struct {
	Purger AuditPurger

	// Retention is how long closed sessions are kept (default 90 days).
	Retention time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// NewPurgeAuditJob creates the job.
func NewPurgeAuditJob(cfg PurgeAuditConfig) *PurgeAuditJob {
	if cfg.Retention <= 0 {
		cfg.Retention = 90 * 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &PurgeAuditJob{
		purger:    cfg.Purger,
		retention: cfg.Retention,
		logger:    cfg.Logger.With("job", "purge_audit"),
		now:       cfg.Now,
	}
}

// Name implements scheduler.Job.
func (j *PurgeAuditJob) Name() string {
	return "purge_audit"
}

// Description implements scheduler.Job.
func (j *PurgeAuditJob) Description() string {
	return "Deletes session audit rows past the retention window"
}

// Run implements scheduler.Job.
func (j *PurgeAuditJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.retention)

	removed, err := j.purger.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge audit rows: %w", err)
	}

	j.logger.Info("audit retention enforced",
		"cutoff", cutoff,
		"removed", removed)
	return nil
}
