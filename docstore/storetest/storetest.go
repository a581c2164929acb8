/*
Package storetest is the behavioural contract every docstore backend must pass.

USAGE:

	func TestContract(t *testing.T) {
	    storetest.Run(t, func(t *testing.T) docstore.TxStore { return memory.New() })
	}

The ledger relies on these guarantees; a backend that passes here can be
swapped in under the bakery package without further changes.
*/
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bakery-ops/docstore"
)

// Opener returns a fresh, empty store.
type Opener func(t *testing.T) docstore.TxStore

// Run executes the contract against stores produced by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s docstore.TxStore)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateWithIDDuplicate", testCreateWithIDDuplicate},
		{"UniqueFields", testUniqueFields},
		{"AppendOnly", testAppendOnly},
		{"UpdateMerges", testUpdateMerges},
		{"MissingRecords", testMissingRecords},
		{"ListFilterOrderLimit", testListFilterOrderLimit},
		{"IncrementBound", testIncrementBound},
		{"ConcurrentIncrements", testConcurrentIncrements},
		{"TxRollback", testTxRollback},
		{"TxCommit", testTxCommit},
		{"ExpiredContextIsRetryable", testExpiredContextIsRetryable},
		{"TxCancelledBeforeCommit", testTxCancelledBeforeCommit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

func testCreateAndGet(t *testing.T, s docstore.TxStore) {
	ctx := context.Background()

	id, err := s.Create(ctx, docstore.Products, docstore.Document{
		"acronym":   "CHC",
		"active":    true,
		"count":     3,
		"createdAt": "caller supplied",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := s.Get(ctx, docstore.Products, id)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, id, rec.ID)
	assert.Equal(t, docstore.Products, rec.Collection)
	assert.Equal(t, "CHC", rec.Data["acronym"])
	assert.Equal(t, true, rec.Data["active"])
	assert.Equal(t, json.Number("3"), rec.Data["count"])
	assert.NotContains(t, rec.Data, docstore.FieldCreatedAt, "metadata is store-owned")
	assert.False(t, rec.CreatedAt.IsZero())
	assert.Nil(t, rec.LastUpdated)

	missing, err := s.Get(ctx, docstore.Products, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testCreateWithIDDuplicate(t *testing.T, s docstore.TxStore) {
	ctx := context.Background()

	require.NoError(t, s.CreateWithID(ctx, docstore.Users, "uid-1", docstore.Document{"email": "a@example.com"}))
	err := s.CreateWithID(ctx, docstore.Users, "uid-1", docstore.Document{"email": "b@example.com"})
	assert.ErrorIs(t, err, docstore.ErrDuplicateKey)

	// Same id in another collection is fine.
	assert.NoError(t, s.CreateWithID(ctx, docstore.Products, "uid-1", docstore.Document{"acronym": "UID"}))
}

func testUniqueFields(t *testing.T, s docstore.TxStore) {
	ctx := context.Background()

	_, err := s.Create(ctx, docstore.Products, docstore.Document{"acronym": "CHC"})
	require.NoError(t, err)
	_, err = s.Create(ctx, docstore.Products, docstore.Document{"acronym": "CHC"})
	assert.ErrorIs(t, err, docstore.ErrDuplicateKey)

	oat, err := s.Create(ctx, docstore.Products, docstore.Document{"acronym": "OAT"})
	require.NoError(t, err)
	err = s.Update(ctx, docstore.Products, oat, docstore.Document{"acronym": "CHC"})
	assert.ErrorIs(t, err, docstore.ErrDuplicateKey)

	// Empty and absent idempotency keys never collide.
	for i := 0; i < 2; i++ {
		_, err = s.Create(ctx, docstore.FulfillmentLogs, docstore.Document{"date": "2024-03-05", "idempotencyKey": ""})
		require.NoError(t, err)
		_, err = s.Create(ctx, docstore.FulfillmentLogs, docstore.Document{"date": "2024-03-05"})
		require.NoError(t, err)
	}
	_, err = s.Create(ctx, docstore.FulfillmentLogs, docstore.Document{"date": "2024-03-05", "idempotencyKey": "k1"})
	require.NoError(t, err)
	_, err = s.Create(ctx, docstore.FulfillmentLogs, docstore.Document{"date": "2024-03-06", "idempotencyKey": "k1"})
	assert.ErrorIs(t, err, docstore.ErrDuplicateKey)
}

func testAppendOnly(t *testing.T, s docstore.TxStore) {
	ctx := context.Background()

	id, err := s.Create(ctx, docstore.ProductionLogs, docstore.Document{"date": "2024-03-05", "quantityProduced": 4})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Update(ctx, docstore.ProductionLogs, id, docstore.Document{"date": "2024-03-06"}), docstore.ErrAppendOnly)
	assert.ErrorIs(t, s.Delete(ctx, docstore.ProductionLogs, id), docstore.ErrAppendOnly)
	_, err = s.Increment(ctx, docstore.ProductionLogs, id, "quantityProduced", 1, docstore.Unbounded())
	assert.ErrorIs(t, err, docstore.ErrAppendOnly)

	rec, err := s.Get(ctx, docstore.ProductionLogs, id)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05", rec.Data["date"])
}

func testUpdateMerges(t *testing.T, s docstore.TxStore) {
	ctx := context.Background()

	id, err := s.Create(ctx, docstore.RetailRequests, docstore.Document{"status": "pending", "quantity": 4})
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, docstore.RetailRequests, id, docstore.Document{"status": "fulfilled"}))

	rec, err := s.Get(ctx, docstore.RetailRequests, id)
	require.NoError(t, err)
	assert.Equal(t, "fulfilled", rec.Data["status"])
	assert.Equal(t, json.Number("4"), rec.Data["quantity"], "untouched fields survive")
	require.NotNil(t, rec.LastUpdated)
	assert.False(t, rec.LastUpdated.Before(rec.CreatedAt))
}

func testMissingRecords(t *testing.T, s docstore.TxStore) {
	ctx := context.Background()

	assert.ErrorIs(t, s.Update(ctx, docstore.Products, "nope", docstore.Document{"a": 1}), docstore.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, docstore.Products, "nope"), docstore.ErrNotFound)
	_, err := s.Increment(ctx, docstore.Inventory, "nope", "totalAvailable", 1, docstore.Unbounded())
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	id, err := s.Create(ctx, docstore.Products, docstore.Document{"acronym": "DEL"})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, docstore.Products, id))
	rec, err := s.Get(ctx, docstore.Products, id)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func testListFilterOrderLimit(t *testing.T, s docstore.TxStore) {
	ctx := context.Background()

	var ids []string
	for i, product := range []string{"/products/a", "/products/b", "/products/a", "/products/a"} {
		id, err := s.Create(ctx, docstore.ProductBatches, docstore.Document{
			"productId": product, "quantityProduced": 10 - i, "active": i%2 == 0,
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := s.List(ctx, docstore.ProductBatches, docstore.Query{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, ids, recordIDs(all), "zero query returns insertion order")

	recent, err := s.List(ctx, docstore.ProductBatches, docstore.Query{
		Where:   []docstore.Filter{docstore.Eq("productId", "/products/a")},
		OrderBy: docstore.FieldCreatedAt,
		Desc:    true,
		Limit:   2,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{ids[3], ids[2]}, recordIDs(recent))

	byQuantity, err := s.List(ctx, docstore.ProductBatches, docstore.Query{OrderBy: "quantityProduced"})
	require.NoError(t, err)
	assert.Equal(t, []string{ids[3], ids[2], ids[1], ids[0]}, recordIDs(byQuantity))

	active, err := s.List(ctx, docstore.ProductBatches, docstore.Where(docstore.Eq("active", true)))
	require.NoError(t, err)
	assert.Equal(t, []string{ids[0], ids[2]}, recordIDs(active))

	byNumber, err := s.List(ctx, docstore.ProductBatches, docstore.Where(docstore.Eq("quantityProduced", 9)))
	require.NoError(t, err)
	assert.Equal(t, []string{ids[1]}, recordIDs(byNumber))

	none, err := s.List(ctx, docstore.ProductBatches, docstore.Where(docstore.Eq("productId", "/products/zzz")))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testIncrementBound(t *testing.T, s docstore.TxStore) {
	ctx := context.Background()

	id, err := s.Create(ctx, docstore.ProductBatches, docstore.Document{"remainingQuantity": 8})
	require.NoError(t, err)

	next, err := s.Increment(ctx, docstore.ProductBatches, id, "remainingQuantity", -5, docstore.AtLeast(0))
	require.NoError(t, err)
	assert.Equal(t, int64(3), next)

	_, err = s.Increment(ctx, docstore.ProductBatches, id, "remainingQuantity", -5, docstore.AtLeast(0))
	var cerr *docstore.ConditionError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorIs(t, err, docstore.ErrConditionFailed)
	assert.Equal(t, int64(3), cerr.Current)
	assert.Equal(t, int64(-5), cerr.Delta)

	rec, err := s.Get(ctx, docstore.ProductBatches, id)
	require.NoError(t, err)
	assert.Equal(t, json.Number("3"), rec.Data["remainingQuantity"], "rejected increment writes nothing")

	// A missing field counts as zero; unbounded may go negative.
	next, err = s.Increment(ctx, docstore.ProductBatches, id, "returned", -2, docstore.Unbounded())
	require.NoError(t, err)
	assert.Equal(t, int64(-2), next)
}

func testConcurrentIncrements(t *testing.T, s docstore.TxStore) {
	// GIVEN: A counter at 10
	// WHEN: 25 sessions each take 1 with a floor of 0
	// THEN: Exactly 10 succeed and the counter ends at 0

	ctx := context.Background()
	id, err := s.Create(ctx, docstore.Inventory, docstore.Document{"productId": "CHC", "totalAvailable": 10})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Increment(ctx, docstore.Inventory, id, "totalAvailable", -1, docstore.AtLeast(0))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, docstore.ErrConditionFailed):
				fail++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Equal(t, 15, fail)

	rec, err := s.Get(ctx, docstore.Inventory, id)
	require.NoError(t, err)
	assert.Equal(t, json.Number("0"), rec.Data["totalAvailable"])
}

func testTxRollback(t *testing.T, s docstore.TxStore) {
	ctx := context.Background()
	id, err := s.Create(ctx, docstore.Inventory, docstore.Document{"productId": "CHC", "totalAvailable": 5})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx docstore.Store) error {
		if _, err := tx.Increment(ctx, docstore.Inventory, id, "totalAvailable", 7, docstore.Unbounded()); err != nil {
			return err
		}
		if _, err := tx.Create(ctx, docstore.FulfillmentLogs, docstore.Document{"date": "2024-03-05"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rec, err := s.Get(ctx, docstore.Inventory, id)
	require.NoError(t, err)
	assert.Equal(t, json.Number("5"), rec.Data["totalAvailable"])

	logs, err := s.List(ctx, docstore.FulfillmentLogs, docstore.Query{})
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func testTxCommit(t *testing.T, s docstore.TxStore) {
	ctx := context.Background()

	var created string
	err := s.WithTx(ctx, func(tx docstore.Store) error {
		id, err := tx.Create(ctx, docstore.Inventory, docstore.Document{"productId": "CHC", "totalAvailable": 0})
		if err != nil {
			return err
		}
		created = id
		_, err = tx.Increment(ctx, docstore.Inventory, id, "totalAvailable", 4, docstore.AtLeast(0))
		return err
	})
	require.NoError(t, err)

	rec, err := s.Get(ctx, docstore.Inventory, created)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, json.Number("4"), rec.Data["totalAvailable"])
}

func testExpiredContextIsRetryable(t *testing.T, s docstore.TxStore) {
	// GIVEN: An inventory record and a context whose deadline has passed
	// WHEN: Any operation runs under the expired context
	// THEN: It fails with a retryable error and the record is untouched

	id, err := s.Create(context.Background(), docstore.Inventory, docstore.Document{"productId": "CHC", "totalAvailable": 5})
	require.NoError(t, err)

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err = s.Get(expired, docstore.Inventory, id)
	assert.True(t, docstore.IsRetryable(err), "get: %v", err)

	_, err = s.List(expired, docstore.Inventory, docstore.Query{})
	assert.True(t, docstore.IsRetryable(err), "list: %v", err)

	_, err = s.Create(expired, docstore.FulfillmentLogs, docstore.Document{"date": "2024-03-05"})
	assert.True(t, docstore.IsRetryable(err), "create: %v", err)

	_, err = s.Increment(expired, docstore.Inventory, id, "totalAvailable", -1, docstore.AtLeast(0))
	assert.True(t, docstore.IsRetryable(err), "increment: %v", err)

	err = s.WithTx(expired, func(tx docstore.Store) error {
		_, err := tx.Increment(expired, docstore.Inventory, id, "totalAvailable", 3, docstore.Unbounded())
		return err
	})
	assert.True(t, docstore.IsRetryable(err), "tx: %v", err)

	rec, err := s.Get(context.Background(), docstore.Inventory, id)
	require.NoError(t, err)
	assert.Equal(t, json.Number("5"), rec.Data["totalAvailable"])
	logs, err := s.List(context.Background(), docstore.FulfillmentLogs, docstore.Query{})
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func testTxCancelledBeforeCommit(t *testing.T, s docstore.TxStore) {
	id, err := s.Create(context.Background(), docstore.Inventory, docstore.Document{"productId": "CHC", "totalAvailable": 5})
	require.NoError(t, err)

	// WHEN: The caller gives up after the writes but before commit
	ctx, cancel := context.WithCancel(context.Background())
	err = s.WithTx(ctx, func(tx docstore.Store) error {
		if _, err := tx.Increment(ctx, docstore.Inventory, id, "totalAvailable", 7, docstore.Unbounded()); err != nil {
			return err
		}
		cancel()
		return nil
	})

	// THEN: Nothing is committed and the failure is retryable
	assert.True(t, docstore.IsRetryable(err), "commit: %v", err)
	rec, err := s.Get(context.Background(), docstore.Inventory, id)
	require.NoError(t, err)
	assert.Equal(t, json.Number("5"), rec.Data["totalAvailable"])
}

func recordIDs(recs []docstore.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
