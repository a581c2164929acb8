/*
errors.go - Domain error types for the bakery ledger

ERROR CATEGORIES:
  1. Client errors - *schema.ValidationError, *OverFulfillmentError,
                     *TransitionError, ErrForbidden
  2. Lookup errors - *NotFoundError (wraps docstore.ErrNotFound)
  3. Store errors  - *docstore.StoreError, retryable or not

Warnings (ErrInventoryDiverged) are returned on a result, not as an error:
the operation itself succeeded.

SEE ALSO:
  - docstore/errors.go: Store-level sentinels
  - api/handlers.go: Maps these to HTTP status codes
*/
package bakery

import (
	"errors"
	"fmt"

	"github.com/warp/bakery-ops/docstore"
	"github.com/warp/bakery-ops/schema"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrOverFulfillment is returned when a decrement exceeds remaining stock.
	ErrOverFulfillment = errors.New("over-fulfillment")

	// ErrForbidden is returned when the actor's role may not run the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidTransition is returned for retail request transitions out of a
	// terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInventoryDiverged warns that a fulfillment found no inventory record
	// for the batch's product and created one with a negative total.
	ErrInventoryDiverged = errors.New("inventory record missing for fulfilled product")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// OverFulfillmentError reports a fulfillment larger than the batch balance.
type OverFulfillmentError struct {
	BatchID   string
	Requested int64
	Remaining int64
}

func (e *OverFulfillmentError) Error() string {
	return fmt.Sprintf("cannot fulfill %d from batch %s: %d remaining",
		e.Requested, e.BatchID, e.Remaining)
}

func (e *OverFulfillmentError) Unwrap() error {
	return ErrOverFulfillment
}

// NotFoundError reports a missing entity referenced by an operation.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return docstore.ErrNotFound
}

// ForbiddenError names the role and the operation it was refused.
type ForbiddenError struct {
	Role      Role
	Operation Operation
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("role %q may not %s", e.Role, e.Operation)
}

func (e *ForbiddenError) Unwrap() error {
	return ErrForbidden
}

// TransitionError reports a retail request status change that is not allowed.
type TransitionError struct {
	RequestID string
	From      RequestStatus
	To        RequestStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("request %s cannot move from %s to %s", e.RequestID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
// Mutations are never retried by the ledger itself.
func IsRetryable(err error) bool {
	return docstore.IsRetryable(err)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, schema.ErrValidation) ||
		errors.Is(err, ErrOverFulfillment) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, docstore.ErrDuplicateKey)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, docstore.ErrNotFound)
}
