// Package ledger defines the error taxonomy shared by every ledger
// component. Callers classify failures with errors.Is to decide between
// retry-with-same-idempotency-key and abandon.
package ledger

import (
	"errors"
	"strings"
)

var (
	// ErrValidation covers malformed input and invalid state transitions.
	// Rejected synchronously, never partially applied.
	ErrValidation = errors.New("validation error")

	// ErrConflict covers duplicate idempotency keys, overpayment attempts
	// and lost races. Where possible the caller receives the pre-existing
	// committed result instead of this error.
	ErrConflict = errors.New("conflict")

	// ErrNotFound covers lookups of checks, lines, payments or levels that
	// do not exist.
	ErrNotFound = errors.New("not found")

	// ErrDependency covers payment-gateway and catalog failures. The local
	// transaction rolls back entirely.
	ErrDependency = errors.New("dependency error")

	// ErrIntegrity covers fatal inconsistencies (adjustment with both
	// scopes set, allocation mismatch). Reported, never auto-corrected.
	ErrIntegrity = errors.New("integrity violation")
)

// Kind names the taxonomy class of an error for API responses and logs.
// Errors outside the taxonomy report "internal".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrDependency):
		return "dependency"
	case errors.Is(err, ErrIntegrity):
		return "integrity"
	default:
		return "internal"
	}
}

// IsUniqueViolation reports whether err is a unique-constraint failure from
// the underlying driver. Both Postgres (pgdriver) and SQLite (tests) are
// matched by message since the drivers expose no shared error type.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "SQLSTATE=23505") ||
		strings.Contains(msg, "constraint failed")
}
