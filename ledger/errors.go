/*
errors.go - Centralized error types for the points engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Business failures (insufficient balance, missing account, reversal too
  late) are returned as typed values, never panics; only storage faults
  propagate as wrapped unexpected errors.

ERROR CATEGORIES:
  1. Lookup errors - Unknown account or transaction
  2. Business rule errors - Insufficient balance, state, window, authority
  3. Concurrency errors - Compare-and-swap conflicts, retried locally

USAGE:
  Callers branch with errors.Is:

    if errors.Is(err, ledger.ErrInsufficientBalance) {
        // user-facing rejection, nothing was applied
    }

SEE ALSO:
  - coordinator.go: Retries ErrConcurrentModification before surfacing it
  - store.go: Store implementations map driver errors onto these
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAccountNotFound is returned when a referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrTransactionNotFound is returned when a referenced transaction doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInsufficientBalance is returned when a spend exceeds the buyer's balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidState is returned when reversing a transaction that is not
	// in Completed state (already reversed, failed, or still pending).
	ErrInvalidState = errors.New("transaction not in reversible state")

	// ErrWindowExpired is returned when a reversal arrives after the
	// role-bounded reversal window has closed.
	ErrWindowExpired = errors.New("reversal window expired")

	// ErrConcurrentModification is returned when the compare-and-swap
	// balance update detects a conflicting write. Retried locally a bounded
	// number of times before surfacing.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrUnauthorized is returned when the acting party neither owns nor
	// administers the target account.
	ErrUnauthorized = errors.New("acting party not authorized")

	// ErrInvalidAmount is returned when an operation carries a zero or
	// negative amount.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrDuplicateIdempotencyKey is returned by the store when an entry
	// with the same idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrAccountInactive is returned when a party exists but is suspended.
	ErrAccountInactive = errors.New("account inactive")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError details a balance shortage.
type InsufficientBalanceError struct {
	AccountID AccountID
	Available Amount
	Requested Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: available %v, requested %v",
		e.AccountID, e.Available.Value, e.Requested.Value)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// WindowExpiredError details a late reversal attempt.
type WindowExpiredError struct {
	TransactionID TransactionID
	AgeHours      float64
	WindowHours   float64
}

func (e *WindowExpiredError) Error() string {
	return fmt.Sprintf("reversal window expired for %s: %.1fh old, window %.0fh",
		e.TransactionID, e.AgeHours, e.WindowHours)
}

func (e *WindowExpiredError) Unwrap() error {
	return ErrWindowExpired
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is a business-rule rejection
// rather than a system failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrWindowExpired) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrAccountInactive) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}
