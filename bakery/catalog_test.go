package bakery_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bakery-ops/bakery"
	"github.com/warp/bakery-ops/docstore"
	"github.com/warp/bakery-ops/schema"
)

func TestCatalog_ProductLifecycle(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := newStore()
			catalog := bakery.NewCatalog(store, bakery.Options{})
			ctx := context.Background()

			p, err := catalog.CreateProduct(ctx, manager, docstore.Document{
				"acronym": "SUG", "name": "Sugar", "active": "true", "inventoryCount": "0",
			})
			require.NoError(t, err)
			assert.True(t, p.Active)

			_, err = catalog.CreateProduct(ctx, manager, docstore.Document{
				"acronym": "SUG", "name": "Sugar Again", "active": true, "inventoryCount": 0,
			})
			assert.ErrorIs(t, err, docstore.ErrDuplicateKey)

			updated, err := catalog.UpdateProduct(ctx, manager, p.ID, docstore.Document{"active": false})
			require.NoError(t, err)
			assert.False(t, updated.Active)
			assert.Equal(t, "Sugar", updated.Name)

			active, err := catalog.ListProducts(ctx, shop, true)
			require.NoError(t, err)
			assert.Empty(t, active)

			require.NoError(t, catalog.DeleteProduct(ctx, manager, p.ID))
			_, err = catalog.GetProduct(ctx, shop, p.ID)
			assert.True(t, bakery.IsNotFound(err))
		})
	}
}

func TestCatalog_ProductAcronymIsStable(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			// GIVEN: CHC with 10 units in stock
			// WHEN: An admin renames its acronym to CCC
			// THEN: The update is rejected and production keeps one inventory record

			f := newFixture(t, newStore())
			catalog := bakery.NewCatalog(f.store, bakery.Options{})
			ctx := context.Background()
			f.produce(t, 10)

			_, err := catalog.UpdateProduct(ctx, manager, f.product.ID, docstore.Document{"acronym": "CCC", "name": "Choc Chip"})

			var verr *schema.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, []string{"acronym"}, verr.Fields())
			unchanged, err := catalog.GetProduct(ctx, manager, f.product.ID)
			require.NoError(t, err)
			assert.Equal(t, "CHC", unchanged.Acronym)
			assert.Equal(t, "Chocolate Chip", unchanged.Name, "a rejected patch applies nothing")

			// Resending the current acronym alongside other edits is allowed
			updated, err := catalog.UpdateProduct(ctx, manager, f.product.ID, docstore.Document{"acronym": "CHC", "name": "Choc Chip"})
			require.NoError(t, err)
			assert.Equal(t, "Choc Chip", updated.Name)

			f.produce(t, 4)
			records, err := f.repos.Inventory.List(ctx, docstore.Query{})
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, int64(14), records[0].TotalAvailable)
		})
	}
}

func TestCatalog_WriteRequiresRole(t *testing.T) {
	catalog := bakery.NewCatalog(newMemoryFixture(t).store, bakery.Options{})
	ctx := context.Background()

	_, err := catalog.CreateProduct(ctx, baker, docstore.Document{"acronym": "X", "name": "X", "active": true, "inventoryCount": 0})
	assert.ErrorIs(t, err, bakery.ErrForbidden)

	_, err = catalog.ListOilBatches(ctx, shop)
	assert.ErrorIs(t, err, bakery.ErrForbidden)

	_, err = catalog.ListUsers(ctx, baker)
	assert.ErrorIs(t, err, bakery.ErrForbidden)
}

func TestCatalog_OilBatchValidation(t *testing.T) {
	f := newMemoryFixture(t)
	catalog := bakery.NewCatalog(f.store, bakery.Options{})
	ctx := context.Background()

	_, err := catalog.CreateOilBatch(ctx, manager, docstore.Document{"type": "OG"})
	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Missing, "oilBatchCode")

	oil, err := catalog.UpdateOilBatch(ctx, manager, f.oil.ID, docstore.Document{"remainingGrams": "480.5"})
	require.NoError(t, err)
	assert.Equal(t, "480.5", oil.RemainingGrams.String())

	_, err = catalog.UpdateOilBatch(ctx, manager, f.oil.ID, docstore.Document{"remainingGrams": 900})
	assert.ErrorIs(t, err, schema.ErrValidation, "remaining cannot exceed amount")
}

func TestCatalog_UsersHidePasswordHash(t *testing.T) {
	f := newMemoryFixture(t)
	catalog := bakery.NewCatalog(f.store, bakery.Options{})
	ctx := context.Background()

	require.NoError(t, f.repos.Users.CreateWithID(ctx, shop.UID, docstore.Document{
		"email": shop.Email, "role": "retail", "active": true, "passwordHash": "$2a$10$secret",
	}))

	self, err := catalog.GetUser(ctx, shop, shop.UID)
	require.NoError(t, err)
	assert.Empty(t, self.PasswordHash)

	users, err := catalog.ListUsers(ctx, manager)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Empty(t, users[0].PasswordHash)

	promoted, err := catalog.UpdateUser(ctx, manager, shop.UID, docstore.Document{
		"role": "fulfillment", "passwordHash": "overwrite",
	})
	require.NoError(t, err)
	assert.Equal(t, bakery.RoleFulfillment, promoted.Role)

	stored, err := f.repos.Users.MustGet(ctx, shop.UID)
	require.NoError(t, err)
	assert.Equal(t, "$2a$10$secret", stored.PasswordHash, "password changes go through auth")

	_, err = catalog.GetUser(ctx, shop, "someone-else")
	assert.ErrorIs(t, err, bakery.ErrForbidden)
}
