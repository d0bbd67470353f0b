// Package shared contains common domain types, errors, and events that are
// used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation    = errors.New("validation error")
	ErrInvalidID     = errors.New("invalid ID")
	ErrInvalidInput  = errors.New("invalid input")
	ErrEmptyValue    = errors.New("value cannot be empty")
	ErrNegativeValue = errors.New("value cannot be negative")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrExpired          = errors.New("expired")

	// Stale-reference errors: a confirmation token, prompt handle, or session
	// reference that no longer points at anything live.
	ErrStaleReference = errors.New("stale reference")

	// Capability errors: the bot's own account lacks a permission in a room.
	// Never fatal - callers fall back to notification paths.
	ErrCapabilityDenied = errors.New("capability denied")

	// Configuration errors: malformed mapping, unresolved room.
	ErrConfiguration = errors.New("configuration error")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")

	// Invariant violations indicate a logic defect, not a runtime condition
	// to recover from.
	ErrInvariantViolation = errors.New("invariant violation")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "session", "breakroom", "ledger"
	Op      string // Operation that failed, e.g., "Open", "Confirm"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Session domain errors
var (
	ErrSessionNotFound      = NewDomainError("session", "Find", ErrNotFound, "no live session for room")
	ErrSessionAlreadyOpen   = NewDomainError("session", "Open", ErrAlreadyExists, "session already open for room")
	ErrSessionClosed        = NewDomainError("session", "Confirm", ErrStaleReference, "session already closed")
	ErrUnknownToken         = NewDomainError("session", "Confirm", ErrStaleReference, "unknown confirmation token")
	ErrNotInRoom            = NewDomainError("session", "Confirm", ErrInvalidState, "user is not in the room")
	ErrRoomEmpty            = NewDomainError("session", "Open", ErrInvalidState, "room has no monitored occupants")
	ErrDuplicateLiveSession = NewDomainError("session", "Open", ErrInvariantViolation, "two live sessions for one room")
)

// Break room domain errors
var (
	ErrWatchNotFound = NewDomainError("breakroom", "Find", ErrNotFound, "no watch for user in room")
	ErrWatchExists   = NewDomainError("breakroom", "Start", ErrAlreadyExists, "watch already active for user in room")
)

// Ledger domain errors
var (
	ErrStatsNotFound   = NewDomainError("ledger", "Get", ErrNotFound, "no stats for user")
	ErrNegativeCredit  = NewDomainError("ledger", "Credit", ErrNegativeValue, "credit amount must be positive")
	ErrLedgerClosed    = NewDomainError("ledger", "Write", ErrInvalidState, "ledger already closed")
	ErrFlushIncomplete = NewDomainError("ledger", "Flush", ErrExternalService, "some ledger writes failed")
)

// Trigger domain errors
var (
	ErrUnresolvedRoom  = NewDomainError("trigger", "Resolve", ErrConfiguration, "signal does not resolve to a room")
	ErrDuplicateSignal = NewDomainError("trigger", "Resolve", ErrAlreadyProcessed, "duplicate trigger within dedup window")
)

// External service errors
var (
	ErrDiscordAPIFailed      = NewDomainError("discord", "Request", ErrExternalService, "Discord API request failed")
	ErrDiscordAPIRateLimited = NewDomainError("discord", "Request", ErrRateLimited, "Discord API rate limit exceeded")
	ErrDiscordAPITimeout     = NewDomainError("discord", "Request", ErrTimeout, "Discord API request timeout")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsStaleReference checks if the error refers to an already-gone session,
// token, or prompt. Surfaced to the acting user as a rejection, never a crash.
func IsStaleReference(err error) bool {
	return errors.Is(err, ErrStaleReference)
}

// IsCapabilityDenied checks if the error is a missing-permission error.
func IsCapabilityDenied(err error) bool {
	return errors.Is(err, ErrCapabilityDenied)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
