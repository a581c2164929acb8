/*
errors.go - Error types for the document store

ERROR CATEGORIES:
  1. Lookup errors     - ErrNotFound
  2. Constraint errors - ErrDuplicateKey, ErrAppendOnly, ErrConditionFailed
  3. Store errors      - StoreError (transient or fatal backend failure)

Domain packages wrap these with context (bakery.NotFoundError,
bakery.OverFulfillmentError).
*/
package docstore

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("document not found")

	// ErrDuplicateKey is returned when an insert or update violates a unique key.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrAppendOnly is returned when updating or deleting a log record.
	ErrAppendOnly = errors.New("collection is append-only")

	// ErrConditionFailed is returned when an Increment would violate its Bound.
	ErrConditionFailed = errors.New("condition failed")

	// ErrStoreUnavailable marks backend failures that may succeed on retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ConditionError reports a rejected Increment.
type ConditionError struct {
	Collection Collection
	ID         string
	Field      string
	Current    int64
	Delta      int64
	Min        int64
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("increment of %s/%s.%s by %d rejected: current %d, minimum %d",
		e.Collection, e.ID, e.Field, e.Delta, e.Current, e.Min)
}

func (e *ConditionError) Unwrap() error {
	return ErrConditionFailed
}

// StoreError wraps a backend failure.
type StoreError struct {
	Op         string
	Collection Collection
	Err        error
	Retryable  bool
}

func (e *StoreError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	if e.Retryable {
		return []error{e.Err, ErrStoreUnavailable}
	}
	return []error{e.Err}
}

// Wrap builds a StoreError, treating context expiry as retryable.
func Wrap(op string, coll Collection, err error, retryable bool) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		retryable = true
	}
	return &StoreError{Op: op, Collection: coll, Err: err, Retryable: retryable}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
// Only reads should be retried blindly; a retried mutation can double-apply.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
