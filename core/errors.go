/*
errors.go - Centralized error taxonomy for the facility engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Scheduling, pricing, and billing wrap these with additional context.

ERROR CATEGORIES:
  1. Scheduling errors - slot availability, conflicts, rule violations
  2. Pricing errors    - policy resolution, usage caps
  3. Concurrency errors - lock contention (retryable)
  4. Query errors      - malformed input

USAGE:
  Callers branch with errors.Is():

    if errors.Is(err, core.ErrConflict) {
        var ce *core.ConflictError
        errors.As(err, &ce)
        // ce.Conflicting tells the caller which interval blocked them
    }
*/
package core

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSlotUnavailable is returned when no availability window covers the
	// requested interval.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrConflict is returned when the requested interval would exceed the
	// resource capacity against existing reservations.
	ErrConflict = errors.New("reservation conflict")

	// ErrRuleViolation is returned when a resource booking rule
	// (duration, granularity, lead time, per-account limit) is violated.
	ErrRuleViolation = errors.New("booking rule violation")

	// ErrNoPolicyFound is returned when no price policy matches
	// (resource, account, as-of date). It blocks order completion and is
	// surfaced to an operator, never silently defaulted.
	ErrNoPolicyFound = errors.New("no price policy found")

	// ErrCapExceeded is returned when a completion would push cumulative
	// usage over the policy cap and the policy mode is hard-reject.
	ErrCapExceeded = errors.New("usage cap exceeded")

	// ErrBusy is returned on lock-acquisition timeout. Transient; the
	// caller may retry.
	ErrBusy = errors.New("resource busy")

	// ErrInvalidRange is returned for malformed or oversized window queries.
	ErrInvalidRange = errors.New("invalid range")

	// ErrInvalidTransition is returned for illegal lifecycle transitions.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyJournaled guards the at-most-once journaling invariant.
	ErrAlreadyJournaled = errors.New("order detail already journaled")

	// ErrStatementClosed is returned on attempts to mutate a finalized
	// statement's member set.
	ErrStatementClosed = errors.New("statement is closed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry context for the caller's next decision
// =============================================================================

// ConflictError reports the interval that blocked a reservation so the
// caller can choose another slot.
type ConflictError struct {
	ResourceID  ResourceID
	Requested   Interval
	Conflicting Interval
	Capacity    int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("resource %s: requested %s conflicts with %s (capacity %d)",
		e.ResourceID, e.Requested, e.Conflicting, e.Capacity)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// RuleViolationError names the violated rule and its limit.
type RuleViolationError struct {
	ResourceID ResourceID
	Rule       string // "min_duration", "max_duration", "granularity", "lead_time", "account_limit"
	Detail     string
}

func (e *RuleViolationError) Error() string {
	return fmt.Sprintf("resource %s: %s: %s", e.ResourceID, e.Rule, e.Detail)
}

func (e *RuleViolationError) Unwrap() error { return ErrRuleViolation }

// SlotUnavailableError reports that no availability window covers the
// requested interval.
type SlotUnavailableError struct {
	ResourceID ResourceID
	Requested  Interval
}

func (e *SlotUnavailableError) Error() string {
	return fmt.Sprintf("resource %s: no availability window covers %s", e.ResourceID, e.Requested)
}

func (e *SlotUnavailableError) Unwrap() error { return ErrSlotUnavailable }

// NoPolicyError reports the lookup that failed to resolve.
type NoPolicyError struct {
	ResourceID ResourceID
	AccountID  AccountID
	AsOf       time.Time
}

func (e *NoPolicyError) Error() string {
	return fmt.Sprintf("no price policy for resource %s, account %s as of %s",
		e.ResourceID, e.AccountID, e.AsOf.Format("2006-01-02"))
}

func (e *NoPolicyError) Unwrap() error { return ErrNoPolicyFound }

// CapExceededError reports the applicable cap so the caller can escalate.
type CapExceededError struct {
	PolicyID   PolicyID
	AccountID  AccountID
	Period     Period
	Cap        string // billable units, e.g. "600 minutes"
	PriorUsage string
	Attempted  string
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("policy %s: cap %s exceeded for account %s in %s (prior %s, attempted %s)",
		e.PolicyID, e.Cap, e.AccountID, e.Period, e.PriorUsage, e.Attempted)
}

func (e *CapExceededError) Unwrap() error { return ErrCapExceeded }

// InvalidRangeError reports why a window query was rejected.
type InvalidRangeError struct {
	Range  Interval
	Reason string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range %s: %s", e.Range, e.Reason)
}

func (e *InvalidRangeError) Unwrap() error { return ErrInvalidRange }

// TransitionError reports an illegal lifecycle transition.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot transition %s -> %s", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}

// IsClientError returns true if the error is due to invalid client input
// or a condition the client can resolve by choosing differently.
func IsClientError(err error) bool {
	return errors.Is(err, ErrSlotUnavailable) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrRuleViolation) ||
		errors.Is(err, ErrCapExceeded) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
