package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bakery-ops/docstore"
	"github.com/warp/bakery-ops/docstore/memory"
	"github.com/warp/bakery-ops/docstore/storetest"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) docstore.TxStore { return memory.New() })
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	id, err := m.Create(ctx, docstore.Products, docstore.Document{"acronym": "CHC"})
	require.NoError(t, err)

	rec, err := m.Get(ctx, docstore.Products, id)
	require.NoError(t, err)
	rec.Data["acronym"] = "MUTATED"

	again, err := m.Get(ctx, docstore.Products, id)
	require.NoError(t, err)
	assert.Equal(t, "CHC", again.Data["acronym"])
}

func TestServerTimestamps(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	fixed := time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return fixed }

	id, err := m.Create(ctx, docstore.RetailRequests, docstore.Document{"status": "pending"})
	require.NoError(t, err)
	require.NoError(t, m.Update(ctx, docstore.RetailRequests, id, docstore.Document{"status": "cancelled"}))

	rec, err := m.Get(ctx, docstore.RetailRequests, id)
	require.NoError(t, err)
	assert.Equal(t, fixed, rec.CreatedAt)
	require.NotNil(t, rec.LastUpdated)
	assert.Equal(t, fixed, *rec.LastUpdated)
}
