/*
Package docstore defines the document store the bakery ledger runs on.

PURPOSE:
  The operations backend persists everything as schemaless documents in
  named collections. This package holds the storage contract only: the
  record shape, the query model, the atomic increment primitive and the
  error taxonomy. Backends live in docstore/memory (tests, dev) and
  store/sqlite (production).

KEY CONCEPTS IN THIS FILE (types.go):
  - Collection: a named set of documents (products, productBatches, ...)
  - Document:   a schemaless field map, already normalized by package schema
  - Record:     a stored document plus store-assigned metadata
  - Query:      equality filters, ordering by a timestamp field, limit
  - Bound:      guard evaluated atomically by Increment

SERVER TIMESTAMPS:
  createdAt and lastUpdated are assigned by the store, never by callers.
  Callers that pass them in a Document have them stripped on write.

SEE ALSO:
  - store.go: Store / TxStore interfaces
  - errors.go: Error taxonomy
  - collections.go: Collection catalogue and per-collection constraints
*/
package docstore

import "time"

// =============================================================================
// DOCUMENTS
// =============================================================================

// Collection names a logical set of documents.
type Collection string

// Document is a schemaless record body.
type Document map[string]any

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Has reports whether the field is present and non-nil.
func (d Document) Has(field string) bool {
	v, ok := d[field]
	return ok && v != nil
}

// Metadata fields maintained by the store.
const (
	FieldID          = "id"
	FieldCreatedAt   = "createdAt"
	FieldLastUpdated = "lastUpdated"
)

// Record is a stored document with its store-assigned metadata.
type Record struct {
	ID          string
	Collection  Collection
	Seq         int64 // insertion order
	Data        Document
	CreatedAt   time.Time
	LastUpdated *time.Time
}

// =============================================================================
// QUERIES
// =============================================================================

// Filter is a field-equality condition.
type Filter struct {
	Field string
	Value any
}

// Eq builds an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// Query selects records from one collection.
// The zero Query returns every record in insertion order.
type Query struct {
	Where   []Filter
	OrderBy string // "" for insertion order, FieldCreatedAt, FieldLastUpdated or a data field
	Desc    bool
	Limit   int // <= 0 means no limit
}

// Where is shorthand for a Query with only equality filters.
func Where(filters ...Filter) Query {
	return Query{Where: filters}
}

// =============================================================================
// BOUND - condition checked atomically by Increment
// =============================================================================

// Bound restricts the value a field may take after an Increment.
type Bound struct {
	min *int64
}

// Unbounded allows any resulting value.
func Unbounded() Bound { return Bound{} }

// AtLeast rejects increments whose result would drop below n.
func AtLeast(n int64) Bound { return Bound{min: &n} }

// Allows reports whether v satisfies the bound.
func (b Bound) Allows(v int64) bool {
	return b.min == nil || v >= *b.min
}

// Min returns the lower bound, if any.
func (b Bound) Min() (int64, bool) {
	if b.min == nil {
		return 0, false
	}
	return *b.min, true
}
