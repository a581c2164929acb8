package bakery

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/bakery-ops/docstore"
	"github.com/warp/bakery-ops/schema"
)

// DefaultRecentLogs is the size of the recent production log list.
const DefaultRecentLogs = 25

// =============================================================================
// LOG WRITERS - Build append-only entries (called inside ledger transactions)
// =============================================================================

type productionEntry struct {
	day            string
	batchID        string
	batchCode      string
	product        *Product
	oils           []*OilBatch
	selections     []OilSelection
	dosage         decimal.Decimal
	quantity       int64
	actor          Actor
	idempotencyKey string
}

// productionLogDoc has one action per oil selection, or a single action
// without oil when none was used.
func productionLogDoc(e productionEntry) docstore.Document {
	productRef := schema.RefPath(docstore.Products, e.product.ID)

	var actions []any
	for i, oil := range e.oils {
		action := map[string]any{
			"productId":  productRef,
			"oilBatchId": schema.RefPath(docstore.OilBatches, oil.ID),
			"batchId":    e.batchID,
			"quantity":   e.quantity,
			"userId":     e.actor.UID,
		}
		if i < len(e.selections) && !e.selections[i].Grams.IsZero() {
			action["grams"] = e.selections[i].Grams
		}
		actions = append(actions, action)
	}
	if len(actions) == 0 {
		actions = append(actions, map[string]any{
			"productId": productRef,
			"batchId":   e.batchID,
			"quantity":  e.quantity,
			"userId":    e.actor.UID,
		})
	}

	doc := docstore.Document{
		"date":             e.day,
		"actions":          actions,
		"batchId":          e.batchID,
		"batchCode":        e.batchCode,
		"productId":        productRef,
		"productAcronym":   e.product.Acronym,
		"oilBatchId":       "",
		"oilBatchCode":     "",
		"oilType":          "",
		"dosageMg":         e.dosage,
		"quantityProduced": e.quantity,
		"userId":           e.actor.UID,
		"userEmail":        e.actor.Email,
	}
	if len(e.oils) > 0 {
		doc["oilBatchId"] = schema.RefPath(docstore.OilBatches, e.oils[0].ID)
		doc["oilBatchCode"] = e.oils[0].OilBatchCode
		doc["oilType"] = e.oils[0].Type
	}
	if e.idempotencyKey != "" {
		doc["idempotencyKey"] = e.idempotencyKey
	}
	return doc
}

func fulfillmentLogDoc(day string, batch *ProductBatch, quantity int64, actor Actor, idempotencyKey string) docstore.Document {
	doc := docstore.Document{
		"date": day,
		"actions": []any{map[string]any{
			"productId": batch.ProductID,
			"batchId":   batch.ID,
			"quantity":  quantity,
			"userId":    actor.UID,
		}},
	}
	if idempotencyKey != "" {
		doc["idempotencyKey"] = idempotencyKey
	}
	return doc
}

func adjustmentDoc(day, acronym string, previous, next int64, actor Actor, reason string) docstore.Document {
	return docstore.Document{
		"date":          day,
		"productId":     acronym,
		"previousTotal": previous,
		"newTotal":      next,
		"delta":         next - previous,
		"userId":        actor.UID,
		"userEmail":     actor.Email,
		"reason":        reason,
	}
}

// =============================================================================
// LOG QUERIES
// =============================================================================

// ProductionLogsByDate returns the entries for a YYYY-MM-DD day in write order.
func (l *Ledger) ProductionLogsByDate(ctx context.Context, actor Actor, day string) ([]ProductionLog, error) {
	if err := Authorize(actor, OpReadProductionLogs); err != nil {
		return nil, err
	}
	ctx, cancel := l.opts.bound(ctx)
	defer cancel()
	return l.repos.ProductionLogs.List(ctx, docstore.Where(docstore.Eq("date", day)))
}

// RecentProductionLogs returns the newest entries first.
func (l *Ledger) RecentProductionLogs(ctx context.Context, actor Actor, limit int) ([]ProductionLog, error) {
	if err := Authorize(actor, OpReadProductionLogs); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRecentLogs
	}
	ctx, cancel := l.opts.bound(ctx)
	defer cancel()
	return l.repos.ProductionLogs.List(ctx, docstore.Query{
		OrderBy: docstore.FieldCreatedAt, Desc: true, Limit: limit,
	})
}

func (l *Ledger) FulfillmentLogsByDate(ctx context.Context, actor Actor, day string) ([]FulfillmentLog, error) {
	if err := Authorize(actor, OpReadFulfillmentLogs); err != nil {
		return nil, err
	}
	ctx, cancel := l.opts.bound(ctx)
	defer cancel()
	return l.repos.FulfillmentLogs.List(ctx, docstore.Where(docstore.Eq("date", day)))
}

func (l *Ledger) RecentFulfillmentLogs(ctx context.Context, actor Actor, limit int) ([]FulfillmentLog, error) {
	if err := Authorize(actor, OpReadFulfillmentLogs); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRecentLogs
	}
	ctx, cancel := l.opts.bound(ctx)
	defer cancel()
	return l.repos.FulfillmentLogs.List(ctx, docstore.Query{
		OrderBy: docstore.FieldCreatedAt, Desc: true, Limit: limit,
	})
}

// AdjustmentsForProduct returns the correction history of one acronym.
func (l *Ledger) AdjustmentsForProduct(ctx context.Context, actor Actor, acronym string) ([]InventoryAdjustment, error) {
	if err := Authorize(actor, OpReadAdjustments); err != nil {
		return nil, err
	}
	ctx, cancel := l.opts.bound(ctx)
	defer cancel()
	return l.repos.Adjustments.List(ctx, docstore.Where(docstore.Eq("productId", acronym)))
}
