package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	removed int
	calls   int
}

func (p *fakePruner) Prune() int {
	p.calls++
	return p.removed
}

type fakePurger struct {
	cutoff  time.Time
	removed int64
	err     error
}

func (p *fakePurger) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	p.cutoff = cutoff
	return p.removed, p.err
}

func TestPruneDedupJob(t *testing.T) {
	pruner := &fakePruner{removed: 4}
	job := NewPruneDedupJob(pruner, nil)

	assert.Equal(t, "prune_dedup", job.Name())
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, pruner.calls)
}

func TestPurgeAuditJobUsesRetentionCutoff(t *testing.T) {
	now := time.Date(2026, 7, 1, 4, 0, 0, 0, time.UTC)
	purger := &fakePurger{removed: 12}
	job := NewPurgeAuditJob(PurgeAuditConfig{
		Purger:    purger,
		Retention: 30 * 24 * time.Hour,
		Now:       func() time.Time { return now },
	})

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, now.Add(-30*24*time.Hour), purger.cutoff)
}

func TestPurgeAuditJobPropagatesError(t *testing.T) {
	job := NewPurgeAuditJob(PurgeAuditConfig{
		Purger: &fakePurger{err: errors.New("db down")},
	})

	assert.Error(t, job.Run(context.Background()))
}

func TestPurgeAuditJobDefaultRetention(t *testing.T) {
	job := NewPurgeAuditJob(PurgeAuditConfig{Purger: &fakePurger{}})
	assert.Equal(t, 90*24*time.Hour, job.retention)
}
