// Package middleware contains bot middlewares for interaction processing.
package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOVERY MIDDLEWARE
// Catches panics in handlers. Users get a friendly error, logs get the
// stack trace. The bot must stay responsive even if a handler crashes.
// ══════════════════════════════════════════════════════════════════════════════

// RecoveryConfig holds configuration for the recovery middleware.
type RecoveryConfig struct {
	// UserErrorMessage is sent to the user when a panic occurs.
	UserErrorMessage string

	// MaxPanicsPerMinute caps panic processing to prevent cascades.
	MaxPanicsPerMinute int

	// OnPanic is called for each recovered panic, e.g. to alert.
	OnPanic func(info *PanicInfo)

	Logger *slog.Logger
}

// DefaultRecoveryConfig returns sensible defaults.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		UserErrorMessage:   "😔 Something went wrong on our side. Please try again in a moment.",
		MaxPanicsPerMinute: 100,
	}
}

// PanicInfo describes a recovered panic.
type PanicInfo struct {
	Error      error
	PanicValue interface{}
	StackTrace string
	UserID     string
	Action     string
	Timestamp  time.Time
}

// RecoveryMiddleware recovers from panics in handlers.
type RecoveryMiddleware struct {
	config  RecoveryConfig
	logger  *slog.Logger
	limiter *panicRateLimiter
}

// NewRecoveryMiddleware creates a new recovery middleware.
func NewRecoveryMiddleware(config RecoveryConfig) *RecoveryMiddleware {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxPanicsPerMinute <= 0 {
		config.MaxPanicsPerMinute = 100
	}
	return &RecoveryMiddleware{
		config:  config,
		logger:  config.Logger,
		limiter: newPanicRateLimiter(config.MaxPanicsPerMinute),
	}
}

// RecoveryResult is the outcome of a guarded handler execution.
type RecoveryResult struct {
	// Recovered is true when a panic was caught.
	Recovered bool

	// Err is the handler's error when no panic occurred.
	Err error

	// UserMessage is what to show the user after a panic.
	UserMessage string
}

// Guard runs a handler, converting panics into a RecoveryResult.
func (m *RecoveryMiddleware) Guard(userID, action string, handler func() error) (result RecoveryResult) {
	defer func() {
		if r := recover(); r != nil {
			result = m.handlePanic(r, userID, action)
		}
	}()
	return RecoveryResult{Err: handler()}
}

func (m *RecoveryMiddleware) handlePanic(panicValue interface{}, userID, action string) RecoveryResult {
	if !m.limiter.allow() {
		return RecoveryResult{Recovered: true, UserMessage: m.config.UserErrorMessage}
	}

	info := &PanicInfo{
		Error:      toError(panicValue),
		PanicValue: panicValue,
		StackTrace: string(debug.Stack()),
		UserID:     userID,
		Action:     action,
		Timestamp:  time.Now(),
	}

	m.logger.Error("handler panic recovered",
		"action", action,
		"user_id", userID,
		"panic", panicValue,
		"stack", info.StackTrace)

	if m.config.OnPanic != nil {
		m.config.OnPanic(info)
	}

	return RecoveryResult{Recovered: true, UserMessage: m.config.UserErrorMessage}
}

func toError(panicValue interface{}) error {
	switch v := panicValue.(type) {
	case error:
		return v
	case string:
		return fmt.Errorf("%s", v)
	default:
		return fmt.Errorf("panic: %v", v)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PANIC RATE LIMITER
// ══════════════════════════════════════════════════════════════════════════════

type panicRateLimiter struct {
	mu        sync.Mutex
	count     int
	maxPerMin int
	window    time.Time
}

func newPanicRateLimiter(maxPerMin int) *panicRateLimiter {
	return &panicRateLimiter{
		maxPerMin: maxPerMin,
		window:    time.Now(),
	}
}

func (p *panicRateLimiter) allow() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if now.Sub(p.window) > time.Minute {
		p.count = 0
		p.window = now
	}
	if p.count >= p.maxPerMin {
		return false
	}
	p.count++
	return true
}
