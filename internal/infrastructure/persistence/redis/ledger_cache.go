package redis

import (
	"context"
	"errors"
	"time"

	"github.com/focushall/focushall-bot/internal/domain/ledger"
)

// LedgerCache is a read-through cache of per-user ledger stats in front of
// the PostgreSQL repository. Stats change only through the write-behind
// ledger service, which invalidates on every flush, so a short TTL is enough.
type LedgerCache struct {
	cache *Cache
}

// NewLedgerCache creates a new LedgerCache.
func NewLedgerCache(cache *Cache) *LedgerCache {
	return &LedgerCache{cache: cache}
}

// Get returns cached stats for a user. Returns ErrCacheMiss on a miss.
func (l *LedgerCache) Get(ctx context.Context, userID string) (*ledger.UserStats, error) {
	var stats ledger.UserStats
	if err := l.cache.Get(ctx, StatsKey(userID), &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Set stores stats for a user with the default TTL.
func (l *LedgerCache) Set(ctx context.Context, stats *ledger.UserStats) error {
	if stats == nil {
		return nil
	}
	return l.cache.Set(ctx, StatsKey(stats.UserID), stats, TTLStatsCache)
}

// Invalidate drops the cached stats for a user. Called after every flush
// that touched the user.
func (l *LedgerCache) Invalidate(ctx context.Context, userID string) error {
	err := l.cache.Delete(ctx, StatsKey(userID))
	if err != nil && !errors.Is(err, ErrCacheMiss) {
		return err
	}
	return nil
}

// InvalidateAll clears all cached stats.
func (l *LedgerCache) InvalidateAll(ctx context.Context) error {
	return l.cache.DeleteByPattern(ctx, PrefixStats+"*")
}

// Touch extends the TTL of a cached entry without rewriting it.
func (l *LedgerCache) Touch(ctx context.Context, userID string, ttl time.Duration) error {
	return l.cache.Expire(ctx, StatsKey(userID), ttl)
}
