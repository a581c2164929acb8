package schema_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bakery-ops/docstore"
	"github.com/warp/bakery-ops/schema"
)

// =============================================================================
// REQUIRED FIELDS
// =============================================================================

func TestNormalize_OilBatch_ListsAllMissingFields(t *testing.T) {
	// GIVEN: An oil batch with only its type
	// WHEN: Normalizing
	// THEN: Every missing required field is named in one error

	_, err := schema.Normalize(schema.KindOilBatch, docstore.Document{"type": "OG"})

	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, errors.Is(err, schema.ErrValidation))
	assert.Equal(t, []string{
		"amountGrams", "dateReceived", "oilBatchCode", "potencyPercent", "remainingGrams",
	}, verr.Missing)
	assert.Contains(t, err.Error(), "OilBatch missing required field(s): amountGrams, dateReceived")
}

func TestNormalize_NullCountsAsMissing(t *testing.T) {
	_, err := schema.Normalize(schema.KindProduct, docstore.Document{
		"acronym": "CHC", "active": true, "inventoryCount": 3, "name": nil,
	})

	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"name"}, verr.Missing)
}

// =============================================================================
// COERCION
// =============================================================================

func TestNormalize_Product_CoercesValues(t *testing.T) {
	doc, err := schema.Normalize(schema.KindProduct, docstore.Document{
		"acronym":        "  CHC ",
		"active":         "true",
		"inventoryCount": "12",
		"name":           " Chocolate Chip ",
		"description":    "kept as-is",
	})

	require.NoError(t, err)
	assert.Equal(t, "CHC", doc["acronym"])
	assert.Equal(t, true, doc["active"])
	assert.Equal(t, int64(12), doc["inventoryCount"])
	assert.Equal(t, "Chocolate Chip", doc["name"])
	assert.Equal(t, "kept as-is", doc["description"])
}

func TestNormalize_OilBatch_DecimalsAndLegacyDateField(t *testing.T) {
	// GIVEN: An oil batch using the legacy "dateRecieved" spelling
	doc, err := schema.Normalize(schema.KindOilBatch, docstore.Document{
		"type":           "OG",
		"oilBatchCode":   "DC0123",
		"amountGrams":    "500.5",
		"potencyPercent": 72.25,
		"remainingGrams": 500,
		"dateRecieved":   "2024-03-01",
	})

	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("500.5").Equal(doc["amountGrams"].(decimal.Decimal)))
	assert.True(t, decimal.RequireFromString("72.25").Equal(doc["potencyPercent"].(decimal.Decimal)))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), doc["dateReceived"])
	assert.NotContains(t, doc, "dateRecieved")
}

func TestNormalize_InvalidValuesAreReportedTogether(t *testing.T) {
	_, err := schema.Normalize(schema.KindOilBatch, docstore.Document{
		"type":           "OG",
		"oilBatchCode":   "DC0123",
		"amountGrams":    0,
		"potencyPercent": "strong",
		"remainingGrams": 10,
		"dateReceived":   "yesterday",
	})

	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, verr.Missing)
	assert.ElementsMatch(t, []string{"amountGrams", "potencyPercent", "dateReceived"}, verr.Fields())
}

func TestNormalize_OilBatch_RemainingCannotExceedAmount(t *testing.T) {
	_, err := schema.Normalize(schema.KindOilBatch, docstore.Document{
		"type":           "OG",
		"oilBatchCode":   "DC0123",
		"amountGrams":    100,
		"potencyPercent": 70,
		"remainingGrams": 120,
		"dateReceived":   "2024-03-01T10:00:00Z",
	})

	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"remainingGrams"}, verr.Fields())
}

// =============================================================================
// REFERENCES AND ACRONYM KEYS
// =============================================================================

func validBatch() docstore.Document {
	return docstore.Document{
		"batchCode":        "25OGCHC-DC0123-03-05-24",
		"dateMade":         "2024-03-05T09:00:00Z",
		"dateStr":          "2024-03-05",
		"dosageMg":         25,
		"oilBatchCode":     "DC0123",
		"oilBatchId":       "oil-1",
		"oilType":          "OG",
		"productAcronym":   "CHC",
		"productId":        "prod-1",
		"quantityProduced": 40,
	}
}

func TestNormalize_ProductBatch_CanonicalizesReferences(t *testing.T) {
	doc, err := schema.Normalize(schema.KindProductBatch, validBatch())

	require.NoError(t, err)
	assert.Equal(t, "/products/prod-1", doc["productId"])
	assert.Equal(t, "/oilBatches/oil-1", doc["oilBatchId"])
	assert.Equal(t, int64(40), doc["remainingQuantity"], "remaining starts at quantity produced")
}

func TestNormalize_ProductBatch_CanonicalPathIsIdempotent(t *testing.T) {
	raw := validBatch()
	raw["productId"] = "/products/prod-1"
	raw["oilBatchId"] = ""

	doc, err := schema.Normalize(schema.KindProductBatch, raw)

	require.NoError(t, err)
	assert.Equal(t, "/products/prod-1", doc["productId"])
	assert.Equal(t, "", doc["oilBatchId"], "batch without oil keeps an empty reference")
}

func TestNormalize_ProductBatch_RejectsPathIntoOtherCollection(t *testing.T) {
	raw := validBatch()
	raw["productId"] = "/oilBatches/oil-1"

	_, err := schema.Normalize(schema.KindProductBatch, raw)

	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"productId"}, verr.Fields())
}

func TestNormalize_Inventory_RequiresBareAcronym(t *testing.T) {
	// GIVEN: An inventory record keyed by a product reference path
	// WHEN: Normalizing
	// THEN: Rejected, inventory is keyed by acronym only

	_, err := schema.Normalize(schema.KindInventory, docstore.Document{
		"productId": "/products/prod-1", "totalAvailable": 5,
	})
	require.ErrorIs(t, err, schema.ErrValidation)

	doc, err := schema.Normalize(schema.KindInventory, docstore.Document{
		"productId": "CHC", "totalAvailable": 5,
	})
	require.NoError(t, err)
	assert.Equal(t, "CHC", doc["productId"])
}

func TestNormalize_FulfillmentLog_CanonicalizesActions(t *testing.T) {
	doc, err := schema.Normalize(schema.KindFulfillmentLog, docstore.Document{
		"date": "2024-03-05T15:04:05Z",
		"actions": []any{
			map[string]any{"productId": "prod-1", "batchId": "b-1", "quantity": "5", "userId": "u-1"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "2024-03-05", doc["date"])
	actions := doc["actions"].([]any)
	require.Len(t, actions, 1)
	action := actions[0].(map[string]any)
	assert.Equal(t, "/products/prod-1", action["productId"])
	assert.Equal(t, int64(5), action["quantity"])
}

func TestNormalize_RetailRequest_StatusEnum(t *testing.T) {
	_, err := schema.Normalize(schema.KindRetailRequest, docstore.Document{
		"requestedBy": "u-1", "productId": "CHC", "quantity": 3, "status": "shipped",
	})

	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"status"}, verr.Fields())
}

func TestNormalize_User_EmailAndRole(t *testing.T) {
	_, err := schema.Normalize(schema.KindUser, docstore.Document{
		"email": "not-an-email", "role": "baker",
	})

	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{"email", "role"}, verr.Fields())
}

// =============================================================================
// PARTIAL UPDATES
// =============================================================================

func TestNormalizePartial_RejectsLedgerOwnedAndUnknownFields(t *testing.T) {
	_, err := schema.NormalizePartial(schema.KindInventory, docstore.Document{
		"totalAvailable": 99,
	})
	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "owned by the inventory ledger", verr.Invalid[0].Reason)

	_, err = schema.NormalizePartial(schema.KindProductBatch, docstore.Document{
		"remainingQuantity": 1, "colour": "blue",
	})
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{"remainingQuantity", "colour"}, verr.Fields())
}

func TestNormalizePartial_CoercesKnownFields(t *testing.T) {
	doc, err := schema.NormalizePartial(schema.KindProduct, docstore.Document{
		"active": "false", "name": " Oat Bar ",
	})

	require.NoError(t, err)
	assert.Equal(t, docstore.Document{"active": false, "name": "Oat Bar"}, doc)
}

func TestNormalizePartial_RequiredFieldCannotBeCleared(t *testing.T) {
	_, err := schema.NormalizePartial(schema.KindProduct, docstore.Document{"name": nil})

	require.ErrorIs(t, err, schema.ErrValidation)
}

func TestCheckImmutable_ProductAcronym(t *testing.T) {
	current := docstore.Document{"acronym": "CHC", "name": "Chocolate Chip"}

	// WHEN: The patch renames the acronym
	err := schema.CheckImmutable(schema.KindProduct, current, docstore.Document{"acronym": "CCC"})

	// THEN: It is rejected as a field error
	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"acronym"}, verr.Fields())

	// Resending the current value or touching other fields is fine
	assert.NoError(t, schema.CheckImmutable(schema.KindProduct, current, docstore.Document{"acronym": "CHC"}))
	assert.NoError(t, schema.CheckImmutable(schema.KindProduct, current, docstore.Document{"name": "Choc"}))
	assert.NoError(t, schema.CheckImmutable(schema.KindOilBatch, current, docstore.Document{"type": "OG"}))
}

func TestNormalize_Product_InventoryCountIsOptional(t *testing.T) {
	doc, err := schema.Normalize(schema.KindProduct, docstore.Document{
		"acronym": "CHC", "active": true, "name": "Chocolate Chip",
	})

	require.NoError(t, err)
	assert.NotContains(t, doc, "inventoryCount")
}

func TestRefID(t *testing.T) {
	id, ok := schema.RefID(docstore.Products, "/products/abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	id, ok = schema.RefID(docstore.Products, "abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	_, ok = schema.RefID(docstore.Products, "/oilBatches/abc")
	assert.False(t, ok)
}
