package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focushall/focushall-bot/internal/domain/ledger"
	"github.com/focushall/focushall-bot/internal/domain/shared"
)

// fakeLedgerRepo applies deltas in memory, mirroring the Postgres repository.
type fakeLedgerRepo struct {
	mu      sync.Mutex
	stats   map[string]*ledger.UserStats
	applied int
	failFor map[string]bool
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{
		stats:   make(map[string]*ledger.UserStats),
		failFor: make(map[string]bool),
	}
}

func (r *fakeLedgerRepo) Get(ctx context.Context, userID string) (*ledger.UserStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[userID]
	if !ok {
		return nil, shared.ErrStatsNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeLedgerRepo) ApplyDelta(ctx context.Context, userID string, delta ledger.Delta) (*ledger.UserStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failFor[userID] {
		return nil, errors.New("storage unavailable")
	}
	r.applied++

	s, ok := r.stats[userID]
	if !ok {
		s = &ledger.UserStats{UserID: userID}
		r.stats[userID] = s
	}
	if delta.XP > 0 {
		at := delta.ConfirmedAt
		if at.IsZero() {
			at = time.Now()
		}
		s.ApplyCredit(delta.XP, at)
	}
	for i := 0; i < delta.Flags; i++ {
		s.ApplyFlag(time.Now())
	}
	cp := *s
	return &cp, nil
}

func (r *fakeLedgerRepo) appliedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applied
}

func newTestLedger(t *testing.T, repo ledger.Repository) *BufferedLedger {
	t.Helper()
	l := NewBufferedLedger(repo, nil, BufferedLedgerConfig{
		// Long interval so tests control flushes explicitly.
		FlushInterval: time.Hour,
		FlushTimeout:  time.Second,
	})
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestCreditCoalescesIntoSingleDelta(t *testing.T) {
	repo := newFakeLedgerRepo()
	l := newTestLedger(t, repo)
	ctx := context.Background()

	require.NoError(t, l.Credit(ctx, "user1", 50))
	require.NoError(t, l.Credit(ctx, "user1", 50))
	require.NoError(t, l.Flag(ctx, "user1"))

	pending := l.PendingFor("user1")
	assert.Equal(t, 100, pending.XP)
	assert.Equal(t, 1, pending.Flags)

	require.NoError(t, l.Flush(ctx))

	// One repository write for the whole batch.
	assert.Equal(t, 1, repo.appliedCount())

	stats, err := repo.Get(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 100, stats.XP)
	assert.Equal(t, 1, stats.Infractions)

	assert.True(t, l.PendingFor("user1").IsZero())
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	l := newTestLedger(t, newFakeLedgerRepo())
	ctx := context.Background()

	assert.ErrorIs(t, l.Credit(ctx, "user1", 0), shared.ErrNegativeCredit)
	assert.ErrorIs(t, l.Credit(ctx, "user1", -10), shared.ErrNegativeCredit)
}

func TestGetMergesPendingDelta(t *testing.T) {
	repo := newFakeLedgerRepo()
	l := newTestLedger(t, repo)
	ctx := context.Background()

	// Seed a persisted record.
	_, err := repo.ApplyDelta(ctx, "user1", ledger.Delta{XP: 200, ConfirmedAt: time.Now().AddDate(0, 0, -2)})
	require.NoError(t, err)

	require.NoError(t, l.Credit(ctx, "user1", 50))

	stats, err := l.Get(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 250, stats.XP)

	// The merged view is not persisted until a flush.
	persisted, err := repo.Get(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 200, persisted.XP)
}

func TestGetUnknownUserWithPendingDelta(t *testing.T) {
	l := newTestLedger(t, newFakeLedgerRepo())
	ctx := context.Background()

	require.NoError(t, l.Credit(ctx, "ghost", 50))

	stats, err := l.Get(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, 50, stats.XP)
	assert.Equal(t, 1, stats.Streak)
}

func TestGetUnknownUserNoPending(t *testing.T) {
	l := newTestLedger(t, newFakeLedgerRepo())

	_, err := l.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, shared.ErrStatsNotFound)
}

func TestFlushRequeuesFailedDeltas(t *testing.T) {
	repo := newFakeLedgerRepo()
	l := newTestLedger(t, repo)
	ctx := context.Background()

	require.NoError(t, l.Credit(ctx, "ok", 50))
	require.NoError(t, l.Credit(ctx, "broken", 50))
	repo.failFor["broken"] = true

	err := l.Flush(ctx)
	assert.ErrorIs(t, err, shared.ErrFlushIncomplete)

	// The good delta went through; the failed one is back in the buffer.
	assert.True(t, l.PendingFor("ok").IsZero())
	assert.Equal(t, 50, l.PendingFor("broken").XP)

	// Next flush retries and succeeds.
	repo.failFor["broken"] = false
	require.NoError(t, l.Flush(ctx))

	stats, err := repo.Get(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, 50, stats.XP)
}

func TestFlushMergesNewWritesIntoRequeuedDelta(t *testing.T) {
	repo := newFakeLedgerRepo()
	l := newTestLedger(t, repo)
	ctx := context.Background()

	require.NoError(t, l.Credit(ctx, "user1", 50))
	repo.failFor["user1"] = true
	_ = l.Flush(ctx)

	require.NoError(t, l.Credit(ctx, "user1", 50))

	assert.Equal(t, 100, l.PendingFor("user1").XP)
}

func TestCloseFlushesAndRejectsFurtherWrites(t *testing.T) {
	repo := newFakeLedgerRepo()
	l := NewBufferedLedger(repo, nil, BufferedLedgerConfig{
		FlushInterval: time.Hour,
		FlushTimeout:  time.Second,
	})
	ctx := context.Background()

	require.NoError(t, l.Credit(ctx, "user1", 50))
	require.NoError(t, l.Close())

	stats, err := repo.Get(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 50, stats.XP)

	assert.ErrorIs(t, l.Credit(ctx, "user1", 50), shared.ErrLedgerClosed)
	assert.ErrorIs(t, l.Flag(ctx, "user1"), shared.ErrLedgerClosed)
	_, err = l.Get(ctx, "user1")
	assert.ErrorIs(t, err, shared.ErrLedgerClosed)

	// Close is idempotent.
	require.NoError(t, l.Close())
}

func TestPeriodicFlush(t *testing.T) {
	repo := newFakeLedgerRepo()
	l := NewBufferedLedger(repo, nil, BufferedLedgerConfig{
		FlushInterval: 20 * time.Millisecond,
		FlushTimeout:  time.Second,
	})
	t.Cleanup(func() { _ = l.Close() })
	ctx := context.Background()

	require.NoError(t, l.Credit(ctx, "user1", 50))

	assert.Eventually(t, func() bool {
		return repo.appliedCount() >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestConcurrentCredits(t *testing.T) {
	repo := newFakeLedgerRepo()
	l := newTestLedger(t, repo)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Credit(ctx, "user1", 10)
		}()
	}
	wg.Wait()

	assert.Equal(t, 320, l.PendingFor("user1").XP)

	require.NoError(t, l.Flush(ctx))
	stats, err := repo.Get(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 320, stats.XP)
}
