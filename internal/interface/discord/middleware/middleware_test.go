package middleware

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER
// ══════════════════════════════════════════════════════════════════════════════

func newTestRateLimiter(t *testing.T, config RateLimitConfig) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(config)
	t.Cleanup(rl.Stop)
	return rl
}

func TestRateLimiterAllowsBurst(t *testing.T) {
	config := DefaultRateLimitConfig()
	config.BurstSize = 3
	rl := newTestRateLimiter(t, config)

	for i := 0; i < 3; i++ {
		result := rl.Check("user-1")
		assert.True(t, result.Allowed, "request %d should pass", i+1)
	}

	result := rl.Check("user-1")
	assert.False(t, result.Allowed)
	assert.Greater(t, result.RetryAfter, time.Duration(0))
	assert.Contains(t, result.ResponseMessage, "Slow down")
}

func TestRateLimiterIsolatesUsers(t *testing.T) {
	config := DefaultRateLimitConfig()
	config.BurstSize = 1
	rl := newTestRateLimiter(t, config)

	require.True(t, rl.Check("user-1").Allowed)
	require.False(t, rl.Check("user-1").Allowed)
	assert.True(t, rl.Check("user-2").Allowed)
}

func TestRateLimiterExemptUsers(t *testing.T) {
	config := DefaultRateLimitConfig()
	config.BurstSize = 1
	config.ExemptUsers["admin-1"] = true
	rl := newTestRateLimiter(t, config)

	for i := 0; i < 10; i++ {
		assert.True(t, rl.Check("admin-1").Allowed)
	}
}

func TestRateLimiterBansRepeatViolators(t *testing.T) {
	config := DefaultRateLimitConfig()
	config.BurstSize = 1
	config.BanThreshold = 3
	config.BanDuration = time.Minute
	rl := newTestRateLimiter(t, config)

	require.True(t, rl.Check("spammer").Allowed)
	for i := 0; i < 3; i++ {
		require.False(t, rl.Check("spammer").Allowed)
	}

	result := rl.Check("spammer")
	assert.False(t, result.Allowed)
	assert.True(t, result.IsBanned)
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	config := DefaultRateLimitConfig()
	config.BurstSize = 1
	config.RequestsPerMinute = 6000 // 100/s so the test stays fast
	rl := newTestRateLimiter(t, config)

	require.True(t, rl.Check("user-1").Allowed)
	require.False(t, rl.Check("user-1").Allowed)

	assert.Eventually(t, func() bool {
		return rl.Check("user-1").Allowed
	}, time.Second, 5*time.Millisecond)
}

func TestRateLimiterCustomMessage(t *testing.T) {
	config := DefaultRateLimitConfig()
	config.BurstSize = 1
	config.OnRateLimited = func(userID string, _ time.Duration) string {
		return "custom for " + userID
	}
	rl := newTestRateLimiter(t, config)

	rl.Check("user-1")
	result := rl.Check("user-1")
	assert.Equal(t, "custom for user-1", result.ResponseMessage)
}

// ══════════════════════════════════════════════════════════════════════════════
// RECOVERY
// ══════════════════════════════════════════════════════════════════════════════

func TestRecoveryPassesThroughSuccess(t *testing.T) {
	rm := NewRecoveryMiddleware(DefaultRecoveryConfig())

	result := rm.Guard("user-1", "focus", func() error { return nil })
	assert.False(t, result.Recovered)
	assert.NoError(t, result.Err)
}

func TestRecoveryPassesThroughError(t *testing.T) {
	rm := NewRecoveryMiddleware(DefaultRecoveryConfig())
	boom := errors.New("boom")

	result := rm.Guard("user-1", "focus", func() error { return boom })
	assert.False(t, result.Recovered)
	assert.ErrorIs(t, result.Err, boom)
}

func TestRecoveryCatchesPanic(t *testing.T) {
	var captured *PanicInfo
	config := DefaultRecoveryConfig()
	config.OnPanic = func(info *PanicInfo) { captured = info }
	rm := NewRecoveryMiddleware(config)

	result := rm.Guard("user-1", "confirm", func() error {
		panic("nil map write")
	})

	assert.True(t, result.Recovered)
	assert.NotEmpty(t, result.UserMessage)
	require.NotNil(t, captured)
	assert.Equal(t, "user-1", captured.UserID)
	assert.Equal(t, "confirm", captured.Action)
	assert.Contains(t, captured.StackTrace, "middleware_test.go")
}

func TestRecoveryCatchesErrorPanic(t *testing.T) {
	var captured *PanicInfo
	config := DefaultRecoveryConfig()
	config.OnPanic = func(info *PanicInfo) { captured = info }
	rm := NewRecoveryMiddleware(config)
	boom := errors.New("wrapped panic")

	result := rm.Guard("user-1", "status", func() error {
		panic(boom)
	})

	assert.True(t, result.Recovered)
	require.NotNil(t, captured)
	assert.ErrorIs(t, captured.Error, boom)
}
