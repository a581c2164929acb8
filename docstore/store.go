/*
store.go - Persistence interface for documents

PURPOSE:
  Defines the interface between the bakery domain logic and the database.
  Every repository and the inventory ledger talk to a Store; they never see
  SQL or maps of maps.

KEY INTERFACES:
  Store:   CRUD plus the atomic Increment primitive
  TxStore: Store plus WithTx for all-or-nothing multi-document writes

ATOMIC INCREMENT:
  Increment is the only way the ledger changes a counter. It adds delta to
  an integer field server-side and evaluates the Bound against the result
  in the same step. A read-then-Update of a counter is a lost-update bug:
  two sessions reading remainingQuantity=8 would both write 3.

APPEND-ONLY COLLECTIONS:
  Log collections reject Update and Delete with ErrAppendOnly.

IMPLEMENTATIONS:
  - docstore/memory: In-memory for tests and local runs
  - store/sqlite:    SQLite through sqlx

SEE ALSO:
  - types.go: Record, Query, Bound
  - errors.go: ErrNotFound, ErrConditionFailed, StoreError
*/
package docstore

import "context"

// =============================================================================
// STORE
// =============================================================================

// Store persists documents in named collections.
type Store interface {
	// Create inserts doc under a new opaque id and stamps createdAt.
	Create(ctx context.Context, coll Collection, doc Document) (string, error)

	// CreateWithID inserts doc under a caller-chosen id (users are keyed by uid).
	// Returns ErrDuplicateKey if the id is taken.
	CreateWithID(ctx context.Context, coll Collection, id string, doc Document) error

	// Get returns the record, or nil (and no error) if it does not exist.
	Get(ctx context.Context, coll Collection, id string) (*Record, error)

	// List returns the records matching q.
	List(ctx context.Context, coll Collection, q Query) ([]Record, error)

	// Update merges fields into the document and stamps lastUpdated.
	// Returns ErrNotFound if the record does not exist.
	Update(ctx context.Context, coll Collection, id string, fields Document) error

	// Delete removes the record. No cascade.
	Delete(ctx context.Context, coll Collection, id string) error

	// Increment atomically adds delta to an integer field and returns the new
	// value. If the result would violate bound nothing is written and a
	// *ConditionError is returned. A missing field counts as zero.
	Increment(ctx context.Context, coll Collection, id, field string, delta int64, bound Bound) (int64, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the passed Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
