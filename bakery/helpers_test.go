package bakery_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/bakery-ops/bakery"
	"github.com/warp/bakery-ops/docstore"
	"github.com/warp/bakery-ops/docstore/memory"
	"github.com/warp/bakery-ops/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	baker   = bakery.Actor{UID: "u-baker", Email: "baker@example.com", Role: bakery.RoleBakery}
	packer  = bakery.Actor{UID: "u-packer", Email: "packer@example.com", Role: bakery.RoleFulfillment}
	shop    = bakery.Actor{UID: "u-shop", Email: "shop@example.com", Role: bakery.RoleRetail}
	manager = bakery.Actor{UID: "u-admin", Email: "admin@example.com", Role: bakery.RoleAdmin}

	march5 = time.Date(2024, time.March, 5, 10, 30, 0, 0, time.UTC)
)

// backends returns a fresh store per implementation. "sqlite" is a single
// pinned connection; "sqlite-file" has a real pool, so concurrent ledger
// calls race on separate connections.
func backends(t *testing.T) map[string]func() docstore.TxStore {
	openSQLite := func(path string) docstore.TxStore {
		store, err := sqlite.New(path)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	}
	return map[string]func() docstore.TxStore{
		"memory": func() docstore.TxStore { return memory.New() },
		"sqlite": func() docstore.TxStore { return openSQLite(":memory:") },
		"sqlite-file": func() docstore.TxStore {
			return openSQLite(filepath.Join(t.TempDir(), "bakery.db"))
		},
	}
}

type fixture struct {
	store   docstore.TxStore
	ledger  *bakery.Ledger
	repos   *bakery.Repositories
	product *bakery.Product
	oil     *bakery.OilBatch
}

func newFixture(t *testing.T, store docstore.TxStore) *fixture {
	t.Helper()
	ctx := context.Background()
	repos := bakery.NewRepositories(store)

	productID, err := repos.Products.Create(ctx, docstore.Document{
		"acronym": "CHC", "name": "Chocolate Chip", "active": true, "inventoryCount": 0,
	})
	require.NoError(t, err)
	oilID, err := repos.OilBatches.Create(ctx, docstore.Document{
		"oilBatchCode": "DC0123", "type": "OG", "amountGrams": 500,
		"potencyPercent": 70, "remainingGrams": 500, "dateReceived": "2024-03-01",
	})
	require.NoError(t, err)

	product, err := repos.Products.MustGet(ctx, productID)
	require.NoError(t, err)
	oil, err := repos.OilBatches.MustGet(ctx, oilID)
	require.NoError(t, err)

	return &fixture{
		store:   store,
		ledger:  bakery.NewLedger(store, bakery.Options{Timeout: 5 * time.Second}),
		repos:   repos,
		product: product,
		oil:     oil,
	}
}

func newMemoryFixture(t *testing.T) *fixture {
	return newFixture(t, memory.New())
}

func (f *fixture) produce(t *testing.T, quantity int64) *bakery.ProductionResult {
	t.Helper()
	res, err := f.ledger.RecordProduction(context.Background(), baker, bakery.ProductionInput{
		ProductID:     f.product.ID,
		OilSelections: []bakery.OilSelection{{OilBatchID: f.oil.ID, Grams: decimal.NewFromInt(12)}},
		Quantity:      quantity,
		DosageMg:      decimal.NewFromInt(25),
		Date:          march5,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) fulfill(batchID string, quantity int64) (*bakery.FulfillmentResult, error) {
	return f.ledger.RecordFulfillment(context.Background(), packer, bakery.FulfillmentInput{
		BatchID: batchID, Quantity: quantity, Date: march5,
	})
}

func (f *fixture) total(t *testing.T) int64 {
	t.Helper()
	rec, err := f.repos.Inventory.FindByProduct(context.Background(), f.product.Acronym)
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec.TotalAvailable
}

func (f *fixture) remaining(t *testing.T, batchID string) int64 {
	t.Helper()
	batch, err := f.repos.ProductBatches.MustGet(context.Background(), batchID)
	require.NoError(t, err)
	return batch.RemainingQuantity
}

func (f *fixture) fulfillmentLogCount(t *testing.T) int {
	t.Helper()
	logs, err := f.repos.FulfillmentLogs.List(context.Background(), docstore.Query{})
	require.NoError(t, err)
	return len(logs)
}
