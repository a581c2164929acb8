package bakery_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bakery-ops/bakery"
	"github.com/warp/bakery-ops/docstore"
)

func TestInventorySummary_JoinsProductsAndOrphans(t *testing.T) {
	// GIVEN: CHC with stock, OAT without a record, and an orphan record for OLD
	// WHEN: Listing the inventory
	// THEN: One row per acronym sorted, the orphan flagged

	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, newStore())
			ctx := context.Background()
			f.produce(t, 6)

			_, err := f.repos.Products.Create(ctx, docstore.Document{
				"acronym": "OAT", "name": "Oatmeal", "active": false, "inventoryCount": 0,
			})
			require.NoError(t, err)
			_, err = f.repos.Inventory.Create(ctx, docstore.Document{"productId": "OLD", "totalAvailable": 3})
			require.NoError(t, err)

			rows, err := f.ledger.InventorySummary(ctx, packer, "")

			require.NoError(t, err)
			require.Len(t, rows, 3)

			assert.Equal(t, "CHC", rows[0].Acronym)
			assert.Equal(t, int64(6), rows[0].TotalAvailable)
			assert.True(t, rows[0].HasRecord)
			assert.Equal(t, f.product.ID, rows[0].ProductID)

			assert.Equal(t, "OAT", rows[1].Acronym)
			assert.False(t, rows[1].HasRecord)
			assert.Equal(t, int64(0), rows[1].TotalAvailable)

			assert.Equal(t, "OLD", rows[2].Acronym)
			assert.True(t, rows[2].Orphan)
			assert.Equal(t, int64(3), rows[2].TotalAvailable)
		})
	}
}

func TestInventorySummary_Filter(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	_, err := f.repos.Products.Create(ctx, docstore.Document{
		"acronym": "OAT", "name": "Oatmeal Raisin", "active": true, "inventoryCount": 0,
	})
	require.NoError(t, err)

	rows, err := f.ledger.InventorySummary(ctx, manager, "raisin")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "OAT", rows[0].Acronym)

	rows, err = f.ledger.InventorySummary(ctx, manager, "ch")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "CHC", rows[0].Acronym)

	_, err = f.ledger.InventorySummary(ctx, shop, "")
	assert.ErrorIs(t, err, bakery.ErrForbidden)
}

func TestGetInventory(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	_, err := f.ledger.GetInventory(ctx, baker, "CHC")
	assert.True(t, bakery.IsNotFound(err), "no record before the first production")

	f.produce(t, 9)
	rec, err := f.ledger.GetInventory(ctx, baker, "CHC")
	require.NoError(t, err)
	assert.Equal(t, int64(9), rec.TotalAvailable)
}

func TestReport_CountsEverything(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, newStore())
			ctx := context.Background()
			svc := bakery.NewRequestService(f.store, bakery.Options{})

			batch := f.produce(t, 10).Batch
			_, err := f.fulfill(batch.ID, 4)
			require.NoError(t, err)
			_, err = svc.CreateRequest(ctx, shop, "CHC", 2, "")
			require.NoError(t, err)
			_, err = f.repos.Inventory.Create(ctx, docstore.Document{"productId": "OLD", "totalAvailable": -2})
			require.NoError(t, err)

			r, err := f.ledger.Report(ctx, manager)

			require.NoError(t, err)
			assert.Equal(t, 1, r.Products)
			assert.Equal(t, 1, r.ActiveProducts)
			assert.Equal(t, 1, r.OilBatches)
			assert.Equal(t, 1, r.ProductBatches)
			assert.Equal(t, 1, r.PendingRequests)
			assert.Equal(t, 1, r.ProductionLogs)
			assert.Equal(t, 1, r.FulfillmentLogs)
			assert.Equal(t, int64(4), r.UnitsOnHand, "6 on hand plus -2 orphaned")
			assert.Equal(t, 1, r.NegativeProducts)

			_, err = f.ledger.Report(ctx, baker)
			assert.ErrorIs(t, err, bakery.ErrForbidden)
		})
	}
}

func TestReconcile_ReportsDrift(t *testing.T) {
	// GIVEN: A batch whose inventory record was deleted before fulfillment
	// WHEN: Reconciling
	// THEN: The recreated negative record drifts by the batch balance

	f := newMemoryFixture(t)
	ctx := context.Background()
	batch := f.produce(t, 10).Batch

	rec, err := f.repos.Inventory.FindByProduct(ctx, "CHC")
	require.NoError(t, err)
	require.NoError(t, f.repos.Inventory.Delete(ctx, rec.ID))

	res, err := f.fulfill(batch.ID, 4)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Warning, bakery.ErrInventoryDiverged)

	out, err := f.ledger.Reconcile(ctx, manager)

	require.NoError(t, err)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, 1, out.Drifted)
	assert.Equal(t, bakery.DriftRow{
		Acronym:        "CHC",
		TotalAvailable: -4,
		BatchRemaining: 6,
		Drift:          -10,
	}, out.Rows[0])
}

// snapshotOnly fails reads made outside a transaction.
type snapshotOnly struct {
	docstore.TxStore
	txs int
}

func (s *snapshotOnly) List(context.Context, docstore.Collection, docstore.Query) ([]docstore.Record, error) {
	return nil, errors.New("read outside a transaction")
}

func (s *snapshotOnly) WithTx(ctx context.Context, fn func(docstore.Store) error) error {
	s.txs++
	return s.TxStore.WithTx(ctx, fn)
}

func TestReconcile_ReadsOneSnapshot(t *testing.T) {
	f := newMemoryFixture(t)
	f.produce(t, 10)
	store := &snapshotOnly{TxStore: f.store}
	ledger := bakery.NewLedger(store, bakery.Options{})

	out, err := ledger.Reconcile(context.Background(), manager)

	require.NoError(t, err)
	assert.Equal(t, 1, store.txs)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, int64(10), out.Rows[0].TotalAvailable)
	assert.Equal(t, int64(10), out.Rows[0].BatchRemaining)
	assert.Zero(t, out.Drifted)
}

func TestLogQueries(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	batch := f.produce(t, 10).Batch
	_, err := f.fulfill(batch.ID, 1)
	require.NoError(t, err)

	prod, err := f.ledger.ProductionLogsByDate(ctx, baker, "2024-03-05")
	require.NoError(t, err)
	assert.Len(t, prod, 1)

	prod, err = f.ledger.ProductionLogsByDate(ctx, baker, "2024-03-06")
	require.NoError(t, err)
	assert.Empty(t, prod)

	ful, err := f.ledger.FulfillmentLogsByDate(ctx, packer, "2024-03-05")
	require.NoError(t, err)
	require.Len(t, ful, 1)
	require.Len(t, ful[0].Actions, 1)
	assert.Equal(t, int64(1), ful[0].Actions[0].Quantity)

	recent, err := f.ledger.RecentFulfillmentLogs(ctx, packer, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	_, err = f.ledger.RecentProductionLogs(ctx, packer, 5)
	assert.ErrorIs(t, err, bakery.ErrForbidden)
}
