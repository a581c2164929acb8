package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bakery-ops/docstore"
	"github.com/warp/bakery-ops/docstore/storetest"
	"github.com/warp/bakery-ops/store/sqlite"
)

func open(t *testing.T, path string) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestContract_InMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) docstore.TxStore { return open(t, ":memory:") })
}

func TestContract_File(t *testing.T) {
	storetest.Run(t, func(t *testing.T) docstore.TxStore {
		return open(t, filepath.Join(t.TempDir(), "bakery.db"))
	})
}

func TestReopenKeepsData(t *testing.T) {
	// GIVEN: A record written to a file database
	// WHEN: The database is closed and reopened
	// THEN: The record and its constraints are still there

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bakery.db")

	first, err := sqlite.New(path)
	require.NoError(t, err)
	id, err := first.Create(ctx, docstore.Products, docstore.Document{"acronym": "CHC", "name": "Chocolate Chip"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := open(t, path)
	rec, err := second.Get(ctx, docstore.Products, id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Chocolate Chip", rec.Data["name"])

	_, err = second.Create(ctx, docstore.Products, docstore.Document{"acronym": "CHC"})
	assert.ErrorIs(t, err, docstore.ErrDuplicateKey)
}

func TestTimestampsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := open(t, ":memory:")
	fixed := time.Date(2024, time.March, 5, 9, 0, 0, 123456789, time.UTC)
	store.Now = func() time.Time { return fixed }

	id, err := store.Create(ctx, docstore.Inventory, docstore.Document{"productId": "CHC", "totalAvailable": 1})
	require.NoError(t, err)
	_, err = store.Increment(ctx, docstore.Inventory, id, "totalAvailable", 1, docstore.Unbounded())
	require.NoError(t, err)

	rec, err := store.Get(ctx, docstore.Inventory, id)
	require.NoError(t, err)
	assert.True(t, fixed.Equal(rec.CreatedAt))
	require.NotNil(t, rec.LastUpdated)
	assert.True(t, fixed.Equal(*rec.LastUpdated))
}

func TestPing(t *testing.T) {
	assert.NoError(t, open(t, ":memory:").Ping(context.Background()))
}

func TestListRejectsUnsafeFieldNames(t *testing.T) {
	store := open(t, ":memory:")

	_, err := store.List(context.Background(), docstore.Products, docstore.Where(docstore.Eq("a') OR 1=1 --", "x")))
	assert.Error(t, err)
}
