/*
ledger.go - Inventory ledger: production, fulfillment and corrections

PURPOSE:
  The ledger is the only writer of InventoryRecord.totalAvailable and
  ProductBatch.remainingQuantity. Every mutation runs in one store
  transaction and changes counters with docstore.Increment, never with a
  read-then-write of a value the caller saw earlier.

INVARIANTS:
  1. totalAvailable(product) = sum(production) - sum(fulfillment)
                               + sum(adjustment deltas)
  2. remainingQuantity starts at quantityProduced, never increases and
     never goes below zero.
  3. A rejected fulfillment changes nothing: no batch, inventory or log write.

CONCURRENCY:
  Two fulfillments of 5 against remainingQuantity=8:

    A: Increment(remaining, -5, AtLeast(0)) -> 3   OK
    B: Increment(remaining, -5, AtLeast(0)) -> -2  ErrConditionFailed
       -> *OverFulfillmentError, B's transaction rolls back

  The bound is evaluated by the store in the same step as the write, so
  the result does not depend on which session read the batch first.

RETRIES:
  The ledger never retries a mutation. Callers that retry must pass an
  IdempotencyKey; a replay returns the original outcome without writing.

KEYING:
  Inventory is keyed by product ACRONYM. Batches and logs reference the
  product by canonical path ("/products/{id}").

SEE ALSO:
  - eventlog.go: Log entry writers and log queries
  - docstore/store.go: Increment and Bound
  - reconcile.go: Detects drift from invariant 1
*/
package bakery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/bakery-ops/docstore"
	"github.com/warp/bakery-ops/schema"
	"go.uber.org/zap"
)

// DefaultRecentBatches is the fulfillment dashboard's batch list size.
const DefaultRecentBatches = 3

// =============================================================================
// OPTIONS
// =============================================================================

// Options configure the bakery services.
type Options struct {
	Logger  *zap.Logger
	Timeout time.Duration // per operation; zero disables
	Now     func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.Timeout)
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store docstore.TxStore
	repos *Repositories
	opts  Options
	log   *zap.Logger
}

func NewLedger(store docstore.TxStore, opts Options) *Ledger {
	opts = opts.withDefaults()
	return &Ledger{
		store: store,
		repos: NewRepositories(store),
		opts:  opts,
		log:   opts.Logger.Named("ledger"),
	}
}

// OilSelection is one oil batch used in a production run.
type OilSelection struct {
	OilBatchID string          `json:"oilBatchId"`
	Grams      decimal.Decimal `json:"grams"`
}

type ProductionInput struct {
	ProductID      string // id or "/products/{id}"
	OilSelections  []OilSelection
	Quantity       int64
	DosageMg       decimal.Decimal
	Date           time.Time // zero means now
	IdempotencyKey string
}

type ProductionResult struct {
	Batch     *ProductBatch    `json:"batch"`
	Inventory *InventoryRecord `json:"inventory"`
	Log       *ProductionLog   `json:"log"`
	Replayed  bool             `json:"replayed,omitempty"`
}

type FulfillmentInput struct {
	BatchID        string // id or "/productBatches/{id}"
	Quantity       int64
	Date           time.Time // zero means now
	IdempotencyKey string
}

type FulfillmentResult struct {
	Batch     *ProductBatch    `json:"batch"`
	Inventory *InventoryRecord `json:"inventory"`
	Log       *FulfillmentLog  `json:"log"`
	Replayed  bool             `json:"replayed,omitempty"`

	// Warning is ErrInventoryDiverged when no inventory record existed.
	Warning error `json:"-"`
}

// =============================================================================
// RECORD PRODUCTION
// =============================================================================

// RecordProduction creates a product batch, credits inventory for the
// product's acronym and appends a production log entry, atomically.
func (l *Ledger) RecordProduction(ctx context.Context, actor Actor, in ProductionInput) (*ProductionResult, error) {
	if err := Authorize(actor, OpRecordProduction); err != nil {
		return nil, err
	}
	if in.Quantity <= 0 {
		return nil, schema.Invalid(schema.KindProductBatch, "quantityProduced", "must be greater than zero")
	}
	productID, ok := schema.RefID(docstore.Products, in.ProductID)
	if !ok || productID == "" {
		return nil, schema.Invalid(schema.KindProductBatch, "productId", "must reference /products/{id}")
	}
	date := in.Date
	if date.IsZero() {
		date = l.opts.Now()
	}

	ctx, cancel := l.opts.bound(ctx)
	defer cancel()

	var result *ProductionResult
	err := l.store.WithTx(ctx, func(tx docstore.Store) error {
		repos := NewRepositories(tx)

		if in.IdempotencyKey != "" {
			prior, err := repos.ProductionLogs.First(ctx, docstore.Where(docstore.Eq("idempotencyKey", in.IdempotencyKey)))
			if err != nil {
				return err
			}
			if prior != nil {
				result, err = replayProduction(ctx, repos, prior)
				return err
			}
		}

		product, err := repos.Products.MustGet(ctx, productID)
		if err != nil {
			return err
		}

		oils := make([]*OilBatch, 0, len(in.OilSelections))
		for _, sel := range in.OilSelections {
			oilID, ok := schema.RefID(docstore.OilBatches, sel.OilBatchID)
			if !ok || oilID == "" {
				return schema.Invalid(schema.KindProductBatch, "oilBatchId", "must reference /oilBatches/{id}")
			}
			oil, err := repos.OilBatches.MustGet(ctx, oilID)
			if err != nil {
				return err
			}
			oils = append(oils, oil)
		}

		// The batch code and the batch's oil reference come from the first selection.
		var first OilBatch
		var firstRef string
		if len(oils) > 0 {
			first = *oils[0]
			firstRef = schema.RefPath(docstore.OilBatches, first.ID)
		}
		day := date.Format(schema.DayLayout)
		code := GenerateBatchCode(BatchCodePrefix{
			Dosage:  in.DosageMg,
			OilType: first.Type,
			Acronym: product.Acronym,
		}, first.OilBatchCode, date)

		batchID, err := repos.ProductBatches.Create(ctx, docstore.Document{
			"batchCode":         code,
			"productId":         product.ID,
			"productAcronym":    product.Acronym,
			"oilBatchId":        firstRef,
			"oilBatchCode":      first.OilBatchCode,
			"oilType":           first.Type,
			"dosageMg":          in.DosageMg,
			"quantityProduced":  in.Quantity,
			"remainingQuantity": in.Quantity,
			"dateMade":          date,
			"dateStr":           day,
		})
		if err != nil {
			return fmt.Errorf("create batch: %w", err)
		}

		inventory, _, err := adjustInventoryBy(ctx, tx, repos, product.Acronym, in.Quantity)
		if err != nil {
			return fmt.Errorf("credit inventory: %w", err)
		}

		logID, err := repos.ProductionLogs.Create(ctx, productionLogDoc(productionEntry{
			day:            day,
			batchID:        batchID,
			batchCode:      code,
			product:        product,
			oils:           oils,
			selections:     in.OilSelections,
			dosage:         in.DosageMg,
			quantity:       in.Quantity,
			actor:          actor,
			idempotencyKey: in.IdempotencyKey,
		}))
		if err != nil {
			return fmt.Errorf("append production log: %w", err)
		}

		batch, err := repos.ProductBatches.MustGet(ctx, batchID)
		if err != nil {
			return err
		}
		entry, err := repos.ProductionLogs.Get(ctx, logID)
		if err != nil {
			return err
		}
		result = &ProductionResult{Batch: batch, Inventory: inventory, Log: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.log.Info("production recorded",
		zap.String("batch_id", result.Batch.ID),
		zap.String("batch_code", result.Batch.BatchCode),
		zap.String("product", result.Batch.ProductAcronym),
		zap.Int64("quantity", result.Batch.QuantityProduced),
		zap.Int64("total_available", totalOf(result.Inventory)),
		zap.String("actor", actor.UID),
		zap.Bool("replayed", result.Replayed),
	)
	return result, nil
}

func replayProduction(ctx context.Context, repos *Repositories, prior *ProductionLog) (*ProductionResult, error) {
	batch, err := repos.ProductBatches.MustGet(ctx, prior.BatchID)
	if err != nil {
		return nil, err
	}
	inventory, err := repos.Inventory.FindByProduct(ctx, batch.ProductAcronym)
	if err != nil {
		return nil, err
	}
	return &ProductionResult{Batch: batch, Inventory: inventory, Log: prior, Replayed: true}, nil
}

// =============================================================================
// RECORD FULFILLMENT
// =============================================================================

// RecordFulfillment decrements a batch and its product's inventory and
// appends a fulfillment log entry, atomically. A quantity that is not
// positive or exceeds the batch balance fails with *OverFulfillmentError
// and changes nothing.
func (l *Ledger) RecordFulfillment(ctx context.Context, actor Actor, in FulfillmentInput) (*FulfillmentResult, error) {
	if err := Authorize(actor, OpRecordFulfillment); err != nil {
		return nil, err
	}
	batchID, ok := schema.RefID(docstore.ProductBatches, in.BatchID)
	if !ok || batchID == "" {
		return nil, schema.Invalid(schema.KindFulfillmentLog, "batchId", "must reference /productBatches/{id}")
	}
	date := in.Date
	if date.IsZero() {
		date = l.opts.Now()
	}

	ctx, cancel := l.opts.bound(ctx)
	defer cancel()

	var result *FulfillmentResult
	err := l.store.WithTx(ctx, func(tx docstore.Store) error {
		repos := NewRepositories(tx)

		if in.IdempotencyKey != "" {
			prior, err := repos.FulfillmentLogs.First(ctx, docstore.Where(docstore.Eq("idempotencyKey", in.IdempotencyKey)))
			if err != nil {
				return err
			}
			if prior != nil {
				result, err = replayFulfillment(ctx, repos, prior)
				return err
			}
		}

		batch, err := repos.ProductBatches.MustGet(ctx, batchID)
		if err != nil {
			return err
		}
		if in.Quantity <= 0 || in.Quantity > batch.RemainingQuantity {
			return &OverFulfillmentError{BatchID: batchID, Requested: in.Quantity, Remaining: batch.RemainingQuantity}
		}

		_, err = tx.Increment(ctx, docstore.ProductBatches, batchID, "remainingQuantity", -in.Quantity, docstore.AtLeast(0))
		var cond *docstore.ConditionError
		if errors.As(err, &cond) {
			return &OverFulfillmentError{BatchID: batchID, Requested: in.Quantity, Remaining: cond.Current}
		}
		if err != nil {
			return fmt.Errorf("decrement batch: %w", err)
		}

		// Inventory write precedes the log write.
		inventory, created, err := adjustInventoryBy(ctx, tx, repos, batch.ProductAcronym, -in.Quantity)
		if err != nil {
			return fmt.Errorf("debit inventory: %w", err)
		}

		logID, err := repos.FulfillmentLogs.Create(ctx, fulfillmentLogDoc(
			date.Format(schema.DayLayout), batch, in.Quantity, actor, in.IdempotencyKey,
		))
		if err != nil {
			return fmt.Errorf("append fulfillment log: %w", err)
		}

		updated, err := repos.ProductBatches.MustGet(ctx, batchID)
		if err != nil {
			return err
		}
		entry, err := repos.FulfillmentLogs.Get(ctx, logID)
		if err != nil {
			return err
		}
		result = &FulfillmentResult{Batch: updated, Inventory: inventory, Log: entry}
		if created {
			result.Warning = ErrInventoryDiverged
		}
		return nil
	})
	if err != nil {
		var over *OverFulfillmentError
		if errors.As(err, &over) {
			l.log.Info("fulfillment rejected",
				zap.String("batch_id", over.BatchID),
				zap.Int64("requested", over.Requested),
				zap.Int64("remaining", over.Remaining),
				zap.String("actor", actor.UID),
			)
		}
		return nil, err
	}

	if result.Warning != nil {
		l.log.Warn("inventory record was missing; created with negative total",
			zap.String("product", result.Batch.ProductAcronym),
			zap.String("batch_id", result.Batch.ID),
			zap.Int64("total_available", totalOf(result.Inventory)),
		)
	}
	l.log.Info("fulfillment recorded",
		zap.String("batch_id", result.Batch.ID),
		zap.String("product", result.Batch.ProductAcronym),
		zap.Int64("remaining", result.Batch.RemainingQuantity),
		zap.Int64("total_available", totalOf(result.Inventory)),
		zap.String("actor", actor.UID),
		zap.Bool("replayed", result.Replayed),
	)
	return result, nil
}

func replayFulfillment(ctx context.Context, repos *Repositories, prior *FulfillmentLog) (*FulfillmentResult, error) {
	if len(prior.Actions) == 0 {
		return nil, fmt.Errorf("fulfillment log %s has no actions", prior.ID)
	}
	batch, err := repos.ProductBatches.MustGet(ctx, prior.Actions[0].BatchID)
	if err != nil {
		return nil, err
	}
	inventory, err := repos.Inventory.FindByProduct(ctx, batch.ProductAcronym)
	if err != nil {
		return nil, err
	}
	return &FulfillmentResult{Batch: batch, Inventory: inventory, Log: prior, Replayed: true}, nil
}

// =============================================================================
// ADJUST INVENTORY
// =============================================================================

// AdjustInventory sets a product's totalAvailable to an absolute value and
// records an InventoryAdjustment audit entry. Batches are not touched.
// The inventory record is created if the product has none yet.
func (l *Ledger) AdjustInventory(ctx context.Context, actor Actor, acronym string, newTotal int64, reason string) (*InventoryRecord, error) {
	if err := Authorize(actor, OpAdjustInventory); err != nil {
		return nil, err
	}
	if newTotal < 0 {
		return nil, schema.Invalid(schema.KindInventory, "totalAvailable", "must not be negative")
	}

	ctx, cancel := l.opts.bound(ctx)
	defer cancel()

	var (
		record   *InventoryRecord
		previous int64
	)
	err := l.store.WithTx(ctx, func(tx docstore.Store) error {
		repos := NewRepositories(tx)

		product, err := repos.Products.FindByAcronym(ctx, acronym)
		if err != nil {
			return err
		}
		if product == nil {
			return &NotFoundError{Kind: schema.KindProduct.Label(), ID: acronym}
		}

		current, err := repos.Inventory.FindByProduct(ctx, product.Acronym)
		if err != nil {
			return err
		}
		var id string
		if current == nil {
			id, err = repos.Inventory.Create(ctx, docstore.Document{
				"productId": product.Acronym, "totalAvailable": newTotal,
			})
		} else {
			id, previous = current.ID, current.TotalAvailable
			err = tx.Update(ctx, docstore.Inventory, id, docstore.Document{"totalAvailable": newTotal})
		}
		if err != nil {
			return fmt.Errorf("set inventory: %w", err)
		}

		if _, err := repos.Adjustments.Create(ctx, adjustmentDoc(
			l.opts.Now().Format(schema.DayLayout), product.Acronym, previous, newTotal, actor, reason,
		)); err != nil {
			return fmt.Errorf("append adjustment: %w", err)
		}

		record, err = repos.Inventory.MustGet(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.log.Info("inventory adjusted",
		zap.String("product", record.ProductID),
		zap.Int64("previous_total", previous),
		zap.Int64("new_total", newTotal),
		zap.String("reason", reason),
		zap.String("actor", actor.UID),
	)
	return record, nil
}

func totalOf(record *InventoryRecord) int64 {
	if record == nil {
		return 0
	}
	return record.TotalAvailable
}

// adjustInventoryBy applies delta to the acronym's inventory record,
// creating it with total=delta when absent. created reports the latter.
func adjustInventoryBy(ctx context.Context, tx docstore.Store, repos *Repositories, acronym string, delta int64) (*InventoryRecord, bool, error) {
	current, err := repos.Inventory.FindByProduct(ctx, acronym)
	if err != nil {
		return nil, false, err
	}
	if current == nil {
		id, err := repos.Inventory.Create(ctx, docstore.Document{
			"productId": acronym, "totalAvailable": delta,
		})
		if err == nil {
			record, err := repos.Inventory.MustGet(ctx, id)
			return record, true, err
		}
		if !errors.Is(err, docstore.ErrDuplicateKey) {
			return nil, false, err
		}
		// Created concurrently; fall through to the increment.
		if current, err = repos.Inventory.FindByProduct(ctx, acronym); err != nil {
			return nil, false, err
		}
		if current == nil {
			return nil, false, fmt.Errorf("inventory for %s: %w", acronym, docstore.ErrNotFound)
		}
	}

	if _, err := tx.Increment(ctx, docstore.Inventory, current.ID, "totalAvailable", delta, docstore.Unbounded()); err != nil {
		return nil, false, err
	}
	record, err := repos.Inventory.MustGet(ctx, current.ID)
	return record, false, err
}

// =============================================================================
// QUERIES
// =============================================================================

// ListRecentBatchesForProduct returns the product's batches, newest first.
// A limit of zero or less means DefaultRecentBatches. An unknown product is
// a *NotFoundError.
func (l *Ledger) ListRecentBatchesForProduct(ctx context.Context, actor Actor, productID string, limit int) ([]ProductBatch, error) {
	if err := Authorize(actor, OpListRecentBatches); err != nil {
		return nil, err
	}
	id, ok := schema.RefID(docstore.Products, productID)
	if !ok || id == "" {
		return nil, schema.Invalid(schema.KindProductBatch, "productId", "must reference /products/{id}")
	}
	if limit <= 0 {
		limit = DefaultRecentBatches
	}

	ctx, cancel := l.opts.bound(ctx)
	defer cancel()

	if _, err := l.repos.Products.MustGet(ctx, id); err != nil {
		return nil, err
	}
	return l.repos.ProductBatches.List(ctx, docstore.Query{
		Where:   []docstore.Filter{docstore.Eq("productId", schema.RefPath(docstore.Products, id))},
		OrderBy: docstore.FieldCreatedAt,
		Desc:    true,
		Limit:   limit,
	})
}

// GetBatch returns one product batch.
func (l *Ledger) GetBatch(ctx context.Context, actor Actor, batchID string) (*ProductBatch, error) {
	if err := Authorize(actor, OpReadBatches); err != nil {
		return nil, err
	}
	id, ok := schema.RefID(docstore.ProductBatches, batchID)
	if !ok || id == "" {
		return nil, &NotFoundError{Kind: schema.KindProductBatch.Label(), ID: batchID}
	}

	ctx, cancel := l.opts.bound(ctx)
	defer cancel()

	return l.repos.ProductBatches.MustGet(ctx, id)
}
