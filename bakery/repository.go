/*
repository.go - Typed data access over the document store

PURPOSE:
  One Repository[T] per entity kind. Every write goes through the schema
  normalizer; every read decodes the stored document into T with its id
  and server timestamps filled in.

LOG REPOSITORIES:
  ProductionLog, FulfillmentLog and InventoryAdjustment are append-only.
  LogRepository[T] exposes Create, Get and List only.

TRANSACTIONS:
  Repositories are cheap values bound to one docstore.Store. Inside WithTx
  the ledger builds a fresh set over the transactional store:

    store.WithTx(ctx, func(tx docstore.Store) error {
        repos := NewRepositories(tx)
        ...
    })

KNOWN LIMITATION:
  Delete never cascades. Deleting a product leaves its batches, inventory
  record and logs in place; the inventory view reports them as orphans.

SEE ALSO:
  - schema/normalize.go: Validation and coercion
  - ledger.go: Counter writes that bypass Update
*/
package bakery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warp/bakery-ops/docstore"
	"github.com/warp/bakery-ops/schema"
)

// =============================================================================
// GENERIC REPOSITORY
// =============================================================================

// Repository provides typed CRUD for one entity kind.
type Repository[T any] struct {
	store docstore.Store
	kind  schema.Kind
}

// NewRepository binds a repository for kind to store.
func NewRepository[T any](store docstore.Store, kind schema.Kind) *Repository[T] {
	return &Repository[T]{store: store, kind: kind}
}

// Create normalizes raw and inserts it under a new id.
func (r *Repository[T]) Create(ctx context.Context, raw docstore.Document) (string, error) {
	doc, err := schema.Normalize(r.kind, raw)
	if err != nil {
		return "", err
	}
	return r.store.Create(ctx, r.kind.Collection(), doc)
}

// CreateWithID normalizes raw and inserts it under a caller-chosen id.
func (r *Repository[T]) CreateWithID(ctx context.Context, id string, raw docstore.Document) error {
	doc, err := schema.Normalize(r.kind, raw)
	if err != nil {
		return err
	}
	return r.store.CreateWithID(ctx, r.kind.Collection(), id, doc)
}

// CreateEntity inserts a typed entity. Its id and timestamps are ignored.
func (r *Repository[T]) CreateEntity(ctx context.Context, entity T) (string, error) {
	raw, err := toDocument(entity)
	if err != nil {
		return "", err
	}
	return r.Create(ctx, raw)
}

// Get returns the entity or nil if it does not exist.
func (r *Repository[T]) Get(ctx context.Context, id string) (*T, error) {
	rec, err := r.store.Get(ctx, r.kind.Collection(), id)
	if err != nil || rec == nil {
		return nil, err
	}
	return decode[T](*rec)
}

// MustGet is Get with a NotFoundError for a missing entity.
func (r *Repository[T]) MustGet(ctx context.Context, id string) (*T, error) {
	entity, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, &NotFoundError{Kind: r.kind.Label(), ID: id}
	}
	return entity, nil
}

// List returns every entity matching q.
func (r *Repository[T]) List(ctx context.Context, q docstore.Query) ([]T, error) {
	recs, err := r.store.List(ctx, r.kind.Collection(), q)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		entity, err := decode[T](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, *entity)
	}
	return out, nil
}

// First returns the first entity matching q, or nil.
func (r *Repository[T]) First(ctx context.Context, q docstore.Query) (*T, error) {
	q.Limit = 1
	items, err := r.List(ctx, q)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

// Update validates fields, checks the merged record and applies the patch.
func (r *Repository[T]) Update(ctx context.Context, id string, fields docstore.Document) error {
	patch, err := schema.NormalizePartial(r.kind, fields)
	if err != nil {
		return err
	}
	rec, err := r.store.Get(ctx, r.kind.Collection(), id)
	if err != nil {
		return err
	}
	if rec == nil {
		return &NotFoundError{Kind: r.kind.Label(), ID: id}
	}
	if err := schema.CheckImmutable(r.kind, rec.Data, patch); err != nil {
		return err
	}
	merged := docstore.DeepCopy(rec.Data)
	for k, v := range patch {
		merged[k] = v
	}
	if _, err := schema.Normalize(r.kind, merged); err != nil {
		return err
	}
	return r.store.Update(ctx, r.kind.Collection(), id, patch)
}

// Delete hard-deletes the entity. Nothing referencing it is touched.
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	err := r.store.Delete(ctx, r.kind.Collection(), id)
	if errors.Is(err, docstore.ErrNotFound) {
		return &NotFoundError{Kind: r.kind.Label(), ID: id}
	}
	return err
}

// =============================================================================
// LOG REPOSITORY
// =============================================================================

// LogRepository is the append-only view of a log collection.
type LogRepository[T any] struct {
	repo *Repository[T]
}

func NewLogRepository[T any](store docstore.Store, kind schema.Kind) *LogRepository[T] {
	return &LogRepository[T]{repo: NewRepository[T](store, kind)}
}

func (l *LogRepository[T]) Create(ctx context.Context, raw docstore.Document) (string, error) {
	return l.repo.Create(ctx, raw)
}

func (l *LogRepository[T]) Get(ctx context.Context, id string) (*T, error) {
	return l.repo.Get(ctx, id)
}

func (l *LogRepository[T]) List(ctx context.Context, q docstore.Query) ([]T, error) {
	return l.repo.List(ctx, q)
}

func (l *LogRepository[T]) First(ctx context.Context, q docstore.Query) (*T, error) {
	return l.repo.First(ctx, q)
}

// =============================================================================
// REPOSITORY SET
// =============================================================================

// Repositories groups one repository per collection over the same store.
type Repositories struct {
	Products        *ProductRepository
	OilBatches      *Repository[OilBatch]
	ProductBatches  *Repository[ProductBatch]
	Inventory       *InventoryRepository
	RetailRequests  *Repository[RetailRequest]
	Users           *Repository[User]
	ProductionLogs  *LogRepository[ProductionLog]
	FulfillmentLogs *LogRepository[FulfillmentLog]
	Adjustments     *LogRepository[InventoryAdjustment]
}

func NewRepositories(store docstore.Store) *Repositories {
	return &Repositories{
		Products:        &ProductRepository{NewRepository[Product](store, schema.KindProduct)},
		OilBatches:      NewRepository[OilBatch](store, schema.KindOilBatch),
		ProductBatches:  NewRepository[ProductBatch](store, schema.KindProductBatch),
		Inventory:       &InventoryRepository{NewRepository[InventoryRecord](store, schema.KindInventory)},
		RetailRequests:  NewRepository[RetailRequest](store, schema.KindRetailRequest),
		Users:           NewRepository[User](store, schema.KindUser),
		ProductionLogs:  NewLogRepository[ProductionLog](store, schema.KindProductionLog),
		FulfillmentLogs: NewLogRepository[FulfillmentLog](store, schema.KindFulfillmentLog),
		Adjustments:     NewLogRepository[InventoryAdjustment](store, schema.KindAdjustment),
	}
}

// ProductRepository adds acronym lookup.
type ProductRepository struct {
	*Repository[Product]
}

// FindByAcronym returns the product with the given acronym, or nil.
func (r *ProductRepository) FindByAcronym(ctx context.Context, acronym string) (*Product, error) {
	return r.First(ctx, docstore.Where(docstore.Eq("acronym", acronym)))
}

// InventoryRepository adds lookup by product acronym.
type InventoryRepository struct {
	*Repository[InventoryRecord]
}

// FindByProduct returns the inventory record for an acronym, or nil.
func (r *InventoryRepository) FindByProduct(ctx context.Context, acronym string) (*InventoryRecord, error) {
	return r.First(ctx, docstore.Where(docstore.Eq("productId", acronym)))
}

// =============================================================================
// ENCODING
// =============================================================================

func decode[T any](rec docstore.Record) (*T, error) {
	doc := docstore.DeepCopy(rec.Data)
	if doc == nil {
		doc = docstore.Document{}
	}
	doc[docstore.FieldID] = rec.ID
	doc[docstore.FieldCreatedAt] = rec.CreatedAt
	if rec.LastUpdated != nil {
		doc[docstore.FieldLastUpdated] = *rec.LastUpdated
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s/%s: %w", rec.Collection, rec.ID, err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", rec.Collection, rec.ID, err)
	}
	return &out, nil
}

func toDocument(entity any) (docstore.Document, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil, err
	}
	return docstore.Decode(raw)
}
