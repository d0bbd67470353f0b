package middleware

import (
	"fmt"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER MIDDLEWARE
// Per-user token bucket protecting the bot from interaction spam. Gentle
// with legitimate users who double-click, firm with actual spammers.
// ══════════════════════════════════════════════════════════════════════════════

// RateLimitConfig holds configuration for the rate limiter.
type RateLimitConfig struct {
	// RequestsPerMinute is the per-user sustained rate.
	RequestsPerMinute int

	// BurstSize is the bucket capacity.
	BurstSize int

	// CleanupInterval is how often idle buckets are evicted.
	CleanupInterval time.Duration

	// BanDuration is the temporary ban after repeated violations.
	BanDuration time.Duration

	// BanThreshold is the violation count that earns a ban.
	BanThreshold int

	// ExemptUsers are exempt from limiting (admins).
	ExemptUsers map[string]bool

	// OnRateLimited builds the message shown to a limited user.
	OnRateLimited func(userID string, retryAfter time.Duration) string
}

// DefaultRateLimitConfig returns sensible defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 20,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
		BanDuration:       10 * time.Minute,
		BanThreshold:      3,
		ExemptUsers:       make(map[string]bool),
		OnRateLimited: func(userID string, retryAfter time.Duration) string {
			return fmt.Sprintf("⏳ Slow down! Try again in %d seconds.", int(retryAfter.Seconds())+1)
		},
	}
}

// RateLimiter implements per-user rate limiting with token buckets.
type RateLimiter struct {
	config  RateLimitConfig
	buckets sync.Map // map[string]*tokenBucket
	bans    sync.Map // map[string]*banEntry

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

type tokenBucket struct {
	mu           sync.Mutex
	tokens       float64
	lastRefill   time.Time
	refillRate   float64 // tokens per second
	maxTokens    float64
	violations   int
	lastViolated time.Time
}

type banEntry struct {
	expiresAt time.Time
}

// NewRateLimiter creates the limiter and starts its cleanup loop.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 20
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 5
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.OnRateLimited == nil {
		config.OnRateLimited = DefaultRateLimitConfig().OnRateLimited
	}

	rl := &RateLimiter{
		config:      config,
		stopCleanup: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// RateLimitResult is the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed         bool
	IsBanned        bool
	RetryAfter      time.Duration
	ResponseMessage string
	RemainingTokens int
}

// Check reports whether a request from the user is allowed.
func (rl *RateLimiter) Check(userID string) *RateLimitResult {
	if rl.config.ExemptUsers[userID] {
		return &RateLimitResult{Allowed: true, RemainingTokens: rl.config.BurstSize}
	}

	if ban := rl.getBan(userID); ban != nil {
		wait := time.Until(ban.expiresAt)
		return &RateLimitResult{
			Allowed:         false,
			IsBanned:        true,
			RetryAfter:      wait,
			ResponseMessage: rl.config.OnRateLimited(userID, wait),
		}
	}

	bucket := rl.getBucket(userID)
	allowed, retryAfter, remaining := bucket.consume()
	if !allowed {
		bucket.recordViolation()
		if bucket.violationCount() >= rl.config.BanThreshold {
			rl.bans.Store(userID, &banEntry{expiresAt: time.Now().Add(rl.config.BanDuration)})
		}
		return &RateLimitResult{
			Allowed:         false,
			RetryAfter:      retryAfter,
			ResponseMessage: rl.config.OnRateLimited(userID, retryAfter),
		}
	}

	return &RateLimitResult{Allowed: true, RemainingTokens: remaining}
}

// Stop ends the cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *RateLimiter) getBucket(userID string) *tokenBucket {
	if val, ok := rl.buckets.Load(userID); ok {
		return val.(*tokenBucket)
	}
	bucket := &tokenBucket{
		tokens:     float64(rl.config.BurstSize),
		lastRefill: time.Now(),
		refillRate: float64(rl.config.RequestsPerMinute) / 60.0,
		maxTokens:  float64(rl.config.BurstSize),
	}
	actual, _ := rl.buckets.LoadOrStore(userID, bucket)
	return actual.(*tokenBucket)
}

func (rl *RateLimiter) getBan(userID string) *banEntry {
	val, ok := rl.bans.Load(userID)
	if !ok {
		return nil
	}
	ban := val.(*banEntry)
	if time.Now().After(ban.expiresAt) {
		rl.bans.Delete(userID)
		return nil
	}
	return ban
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCleanup:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup drops full, idle buckets and expired bans.
func (rl *RateLimiter) cleanup() {
	cutoff := time.Now().Add(-rl.config.CleanupInterval)
	rl.buckets.Range(func(key, val interface{}) bool {
		bucket := val.(*tokenBucket)
		bucket.mu.Lock()
		idle := bucket.lastRefill.Before(cutoff) && bucket.tokens >= bucket.maxTokens
		bucket.mu.Unlock()
		if idle {
			rl.buckets.Delete(key)
		}
		return true
	})
	now := time.Now()
	rl.bans.Range(func(key, val interface{}) bool {
		if now.After(val.(*banEntry).expiresAt) {
			rl.bans.Delete(key)
		}
		return true
	})
}

// consume tries to take one token. Returns (allowed, retryAfter, remaining).
func (b *tokenBucket) consume() (bool, time.Duration, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1.0 {
		b.tokens--
		return true, 0, int(b.tokens)
	}

	deficit := 1.0 - b.tokens
	retryAfter := time.Duration(deficit / b.refillRate * float64(time.Second))
	return false, retryAfter, 0
}

func (b *tokenBucket) recordViolation() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if time.Since(b.lastViolated) > 5*time.Minute {
		b.violations = 0
	}
	b.violations++
	b.lastViolated = time.Now()
}

func (b *tokenBucket) violationCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.violations
}
