/*
errors.go - Centralized error taxonomy for the budget engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Component packages return these directly; none of them panic or throw
  generic errors across the ledger/UI boundary.

ERROR CATEGORIES:
  1. Validation errors  - malformed input to ledger or calculator
  2. Mode errors        - mutation attempted while read-only
  3. Sync errors        - push rejected; always retryable, ledger preserved
  4. Balance errors     - reconciliation finish attempted while unbalanced

USAGE:
  if errors.Is(err, budget.ErrValidation) { ... }

  var vErr *budget.ValidationError
  if errors.As(err, &vErr) { show(vErr.Field, vErr.Reason) }

SEE ALSO:
  - ledger/ledger.go: returns ValidationError and ErrEntityDeleted
  - reconcile/session.go: returns EditModeRequired and BalanceMismatchError
  - syncer/dispatcher.go: returns SyncFailure and ErrSyncInFlight
*/
package budget

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all malformed-input rejections.
	ErrValidation = errors.New("validation failed")

	// ErrEditModeRequired is returned when a mutation is attempted while the
	// budget is open read-only. Surfaced as a blocking prompt, never silent.
	ErrEditModeRequired = errors.New("edit mode required")

	// ErrSyncFailed is returned when the external push is rejected. The
	// ledger is preserved unchanged so the user can retry without redoing
	// edits.
	ErrSyncFailed = errors.New("sync failed")

	// ErrSyncInFlight is returned when a flush is requested while another
	// flush is still awaiting the external client.
	ErrSyncInFlight = errors.New("sync already in flight")

	// ErrBalanceMismatch is returned when reconciliation finish is attempted
	// while the difference exceeds the currency epsilon.
	ErrBalanceMismatch = errors.New("statement and cleared balance do not match")

	// ErrEntityDeleted is returned when an edit targets an entity that has a
	// pending delete. The delete must be withdrawn before further edits.
	ErrEntityDeleted = errors.New("entity has a pending delete")

	// ErrChangeNotFound is returned by lookups for unknown change ids.
	// Discard treats this as a silent no-op per the ledger contract.
	ErrChangeNotFound = errors.New("pending change not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a malformed input, with the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError for a single field.
func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// SyncFailure wraps the external client's push error.
type SyncFailure struct {
	Cause error
}

func (e *SyncFailure) Error() string {
	return fmt.Sprintf("sync failed: %v", e.Cause)
}

func (e *SyncFailure) Unwrap() error { return ErrSyncFailed }

// BalanceMismatchError carries the residual difference that blocked finish.
type BalanceMismatchError struct {
	Difference decimal.Decimal
}

func (e *BalanceMismatchError) Error() string {
	return fmt.Sprintf("cannot finish reconciliation: difference of %s remains", e.Difference.StringFixed(2))
}

func (e *BalanceMismatchError) Unwrap() error { return ErrBalanceMismatch }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSyncFailed) || errors.Is(err, ErrSyncInFlight)
}

// IsClientError returns true if the error is due to invalid user input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrEntityDeleted) ||
		errors.Is(err, ErrBalanceMismatch) ||
		errors.Is(err, ErrEditModeRequired)
}
