package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/focushall/focushall-bot/internal/domain/ledger"
	"github.com/focushall/focushall-bot/internal/domain/shared"
)

// LedgerCache invalidates cached stats after a flush. Implemented by the
// Redis ledger cache; nil disables caching.
type LedgerCache interface {
	Get(ctx context.Context, userID string) (*ledger.UserStats, error)
	Set(ctx context.Context, stats *ledger.UserStats) error
	Invalidate(ctx context.Context, userID string) error
}

// BufferedLedgerConfig configures the write-behind ledger.
type BufferedLedgerConfig struct {
	// FlushInterval is how often pending deltas are pushed to the repository.
	FlushInterval time.Duration

	// FlushTimeout bounds a single flush pass, including the one on Close.
	FlushTimeout time.Duration

	Logger *slog.Logger

	// Now is swappable for tests.
	Now func() time.Time
}

// DefaultBufferedLedgerConfig returns production defaults.
func DefaultBufferedLedgerConfig() BufferedLedgerConfig {
	return BufferedLedgerConfig{
		FlushInterval: 30 * time.Second,
		FlushTimeout:  10 * time.Second,
	}
}

// BufferedLedger implements ledger.Ledger with coalesced write-behind
// persistence. Credits and flags accumulate into one Delta per user; a
// background loop flushes them through Repository.ApplyDelta on an interval,
// and Close performs a final flush so no delta is lost on shutdown.
//
// Reads merge the pending delta onto the repository row, so a user who just
// confirmed sees their XP immediately even before the next flush.
type BufferedLedger struct {
	repo   ledger.Repository
	cache  LedgerCache
	logger *slog.Logger
	now    func() time.Time

	flushTimeout time.Duration

	mu      sync.Mutex
	pending map[string]ledger.Delta
	closed  bool

	stopFlush chan struct{}
	flushDone chan struct{}
}

// Compile-time check.
var _ ledger.Ledger = (*BufferedLedger)(nil)

// NewBufferedLedger creates the ledger and starts its flush loop.
func NewBufferedLedger(repo ledger.Repository, cache LedgerCache, cfg BufferedLedgerConfig) *BufferedLedger {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	l := &BufferedLedger{
		repo:         repo,
		cache:        cache,
		logger:       cfg.Logger.With("component", "ledger"),
		now:          cfg.Now,
		flushTimeout: cfg.FlushTimeout,
		pending:      make(map[string]ledger.Delta),
		stopFlush:    make(chan struct{}),
		flushDone:    make(chan struct{}),
	}

	go l.flushLoop(cfg.FlushInterval)

	return l
}

// Credit adds XP to a user's pending delta.
func (l *BufferedLedger) Credit(ctx context.Context, userID string, amount int) error {
	if amount <= 0 {
		return shared.ErrNegativeCredit
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return shared.ErrLedgerClosed
	}

	l.pending[userID] = l.pending[userID].Merge(ledger.Delta{
		XP:          amount,
		ConfirmedAt: l.now(),
	})
	return nil
}

// Flag records an infraction in the user's pending delta.
func (l *BufferedLedger) Flag(ctx context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return shared.ErrLedgerClosed
	}

	l.pending[userID] = l.pending[userID].Merge(ledger.Delta{Flags: 1})
	return nil
}

// Get returns the user's stats with any pending delta applied on top. The
// merged view is not persisted here; the flush loop owns that.
func (l *BufferedLedger) Get(ctx context.Context, userID string) (*ledger.UserStats, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, shared.ErrLedgerClosed
	}
	delta, hasPending := l.pending[userID]
	l.mu.Unlock()

	stats, err := l.loadStats(ctx, userID)
	if err != nil {
		if !shared.IsNotFound(err) {
			return nil, err
		}
		if !hasPending {
			return nil, err
		}
		stats = &ledger.UserStats{UserID: userID}
	}

	if hasPending {
		if delta.XP > 0 {
			at := delta.ConfirmedAt
			if at.IsZero() {
				at = l.now()
			}
			stats.ApplyCredit(delta.XP, at)
		}
		for i := 0; i < delta.Flags; i++ {
			stats.ApplyFlag(l.now())
		}
	}

	return stats, nil
}

// PendingFor returns the unflushed delta for a user. Test hook.
func (l *BufferedLedger) PendingFor(userID string) ledger.Delta {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending[userID]
}

// Flush pushes all pending deltas to the repository. Deltas that fail to
// apply are re-queued (merged with anything accumulated meanwhile) and the
// call returns ErrFlushIncomplete.
func (l *BufferedLedger) Flush(ctx context.Context) error {
	l.mu.Lock()
	batch := l.pending
	l.pending = make(map[string]ledger.Delta)
	l.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var failed int
	for userID, delta := range batch {
		if _, err := l.repo.ApplyDelta(ctx, userID, delta); err != nil {
			failed++
			l.logger.Error("ledger flush failed for user",
				"user_id", userID,
				"xp", delta.XP,
				"flags", delta.Flags,
				"error", err)

			l.mu.Lock()
			l.pending[userID] = delta.Merge(l.pending[userID])
			l.mu.Unlock()
			continue
		}

		if l.cache != nil {
			if err := l.cache.Invalidate(ctx, userID); err != nil {
				l.logger.Warn("ledger cache invalidation failed",
					"user_id", userID,
					"error", err)
			}
		}
	}

	l.logger.Debug("ledger flush complete",
		"users", len(batch),
		"failed", failed)

	if failed > 0 {
		return shared.ErrFlushIncomplete
	}
	return nil
}

// Close stops the flush loop and performs a final flush of pending deltas.
// Idempotent; all writes after Close fail with ErrLedgerClosed.
func (l *BufferedLedger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.stopFlush)
	<-l.flushDone

	ctx, cancel := context.WithTimeout(context.Background(), l.flushTimeout)
	defer cancel()
	return l.Flush(ctx)
}

func (l *BufferedLedger) flushLoop(interval time.Duration) {
	defer close(l.flushDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.flushTimeout)
			if err := l.Flush(ctx); err != nil {
				l.logger.Warn("periodic ledger flush incomplete", "error", err)
			}
			cancel()
		case <-l.stopFlush:
			return
		}
	}
}

func (l *BufferedLedger) loadStats(ctx context.Context, userID string) (*ledger.UserStats, error) {
	if l.cache != nil {
		if stats, err := l.cache.Get(ctx, userID); err == nil {
			return stats, nil
		}
	}

	stats, err := l.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		if err := l.cache.Set(ctx, stats); err != nil {
			l.logger.Warn("ledger cache write failed",
				"user_id", userID,
				"error", err)
		}
	}
	return stats, nil
}
