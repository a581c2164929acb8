package schema

import (
	"github.com/shopspring/decimal"
	"github.com/warp/bakery-ops/docstore"
)

// Kind names an entity type handled by the normalizer.
type Kind string

const (
	KindProduct        Kind = "product"
	KindOilBatch       Kind = "oilBatch"
	KindProductBatch   Kind = "productBatch"
	KindInventory      Kind = "inventoryRecord"
	KindRetailRequest  Kind = "retailRequest"
	KindProductionLog  Kind = "productionLog"
	KindFulfillmentLog Kind = "fulfillmentLog"
	KindAdjustment     Kind = "inventoryAdjustment"
	KindUser           Kind = "user"
)

// Collection returns the store collection that holds records of this kind.
func (k Kind) Collection() docstore.Collection {
	return kinds[k].collection
}

// Label is the human-readable entity name used in error messages.
func (k Kind) Label() string {
	if def, ok := kinds[k]; ok {
		return def.label
	}
	return string(k)
}

// Status and role enumerations shared with the bakery package.
const (
	StatusRule = "oneof=pending fulfilled cancelled"
	RoleRule   = "oneof=bakery fulfillment retail admin"
)

type kindDef struct {
	label       string
	collection  docstore.Collection
	fields      []field
	aliases     map[string]string // legacy name -> field
	ledgerOwned map[string]bool
	immutable   map[string]bool // fixed once the record exists
	crossCheck  func(docstore.Document, *ValidationError)
}

func (s kindDef) field(name string) (field, bool) {
	for _, f := range s.fields {
		if f.Name == name {
			return f, true
		}
	}
	return field{}, false
}

// Required field lists are sorted by name so error messages are stable.
var kinds = map[Kind]kindDef{
	KindProduct: {
		label:      "Product",
		collection: docstore.Products,
		fields: []field{
			{Name: "acronym", Type: typeAcronym, Required: true, Rule: "min=1"},
			{Name: "active", Type: typeBool, Required: true},
			{Name: "inventoryCount", Type: typeInt, Rule: "gte=0"}, // legacy display value
			{Name: "name", Type: typeString, Required: true, Rule: "min=1"},
		},
		immutable: map[string]bool{"acronym": true},
	},
	KindOilBatch: {
		label:      "OilBatch",
		collection: docstore.OilBatches,
		fields: []field{
			{Name: "amountGrams", Type: typeDecimal, Required: true, Rule: "gt=0"},
			{Name: "dateReceived", Type: typeTime, Required: true},
			{Name: "oilBatchCode", Type: typeString, Required: true, Rule: "min=1"},
			{Name: "potencyPercent", Type: typeDecimal, Required: true, Rule: "gt=0"},
			{Name: "remainingGrams", Type: typeDecimal, Required: true, Rule: "gte=0"},
			{Name: "type", Type: typeString, Required: true, Rule: "min=1"},
		},
		aliases:    map[string]string{"dateRecieved": "dateReceived"},
		crossCheck: checkOilRemaining,
	},
	KindProductBatch: {
		label:      "ProductBatch",
		collection: docstore.ProductBatches,
		fields: []field{
			{Name: "batchCode", Type: typeString, Required: true, Rule: "min=1"},
			{Name: "dateMade", Type: typeTime, Required: true},
			{Name: "dateStr", Type: typeDay, Required: true},
			{Name: "dosageMg", Type: typeDecimal, Required: true, Rule: "gte=0"},
			{Name: "oilBatchCode", Type: typeString, Required: true},
			{Name: "oilBatchId", Type: typeRef, Required: true, Ref: docstore.OilBatches},
			{Name: "oilType", Type: typeString, Required: true},
			{Name: "productAcronym", Type: typeAcronym, Required: true, Rule: "min=1"},
			{Name: "productId", Type: typeRef, Required: true, Ref: docstore.Products, Rule: "min=1"},
			{Name: "quantityProduced", Type: typeInt, Required: true, Rule: "gt=0"},
			{Name: "remainingQuantity", Type: typeInt, Rule: "gte=0"},
		},
		ledgerOwned: map[string]bool{"remainingQuantity": true},
		crossCheck:  checkBatchRemaining,
	},
	KindInventory: {
		label:      "InventoryRecord",
		collection: docstore.Inventory,
		fields: []field{
			{Name: "productId", Type: typeAcronym, Required: true, Rule: "min=1"},
			{Name: "totalAvailable", Type: typeInt, Required: true},
		},
		ledgerOwned: map[string]bool{"totalAvailable": true},
	},
	KindRetailRequest: {
		label:      "RetailRequest",
		collection: docstore.RetailRequests,
		fields: []field{
			{Name: "notes", Type: typeString},
			{Name: "productId", Type: typeAcronym, Required: true, Rule: "min=1"},
			{Name: "quantity", Type: typeInt, Required: true, Rule: "gt=0"},
			{Name: "requestedBy", Type: typeString, Required: true, Rule: "min=1"},
			{Name: "status", Type: typeString, Required: true, Rule: StatusRule},
		},
	},
	KindProductionLog: {
		label:      "ProductionLog",
		collection: docstore.ProductionLogs,
		fields: []field{
			{Name: "actions", Type: typeActions, Required: true},
			{Name: "batchCode", Type: typeString},
			{Name: "batchId", Type: typeString},
			{Name: "date", Type: typeDay, Required: true},
			{Name: "dosageMg", Type: typeDecimal},
			{Name: "idempotencyKey", Type: typeString},
			{Name: "oilBatchCode", Type: typeString},
			{Name: "oilBatchId", Type: typeRef, Ref: docstore.OilBatches},
			{Name: "oilType", Type: typeString},
			{Name: "productAcronym", Type: typeAcronym},
			{Name: "productId", Type: typeRef, Ref: docstore.Products},
			{Name: "quantityProduced", Type: typeInt},
			{Name: "userEmail", Type: typeString},
			{Name: "userId", Type: typeString},
		},
	},
	KindFulfillmentLog: {
		label:      "FulfillmentLog",
		collection: docstore.FulfillmentLogs,
		fields: []field{
			{Name: "actions", Type: typeActions, Required: true},
			{Name: "date", Type: typeDay, Required: true},
			{Name: "idempotencyKey", Type: typeString},
		},
	},
	KindAdjustment: {
		label:      "InventoryAdjustment",
		collection: docstore.InventoryAdjustments,
		fields: []field{
			{Name: "date", Type: typeDay, Required: true},
			{Name: "delta", Type: typeInt, Required: true},
			{Name: "newTotal", Type: typeInt, Required: true},
			{Name: "previousTotal", Type: typeInt, Required: true},
			{Name: "productId", Type: typeAcronym, Required: true, Rule: "min=1"},
			{Name: "reason", Type: typeString},
			{Name: "userEmail", Type: typeString},
			{Name: "userId", Type: typeString, Required: true},
		},
	},
	KindUser: {
		label:      "User",
		collection: docstore.Users,
		fields: []field{
			{Name: "active", Type: typeBool},
			{Name: "displayName", Type: typeString},
			{Name: "email", Type: typeString, Required: true, Rule: "email"},
			{Name: "passwordHash", Type: typeString},
			{Name: "role", Type: typeString, Required: true, Rule: RoleRule},
		},
	},
}

func checkOilRemaining(doc docstore.Document, verr *ValidationError) {
	amount, okA := doc["amountGrams"].(decimal.Decimal)
	remaining, okR := doc["remainingGrams"].(decimal.Decimal)
	if okA && okR && remaining.GreaterThan(amount) {
		verr.invalid("remainingGrams", "must not exceed amountGrams")
	}
}

// checkBatchRemaining also initializes remainingQuantity to quantityProduced.
func checkBatchRemaining(doc docstore.Document, verr *ValidationError) {
	produced, okP := doc["quantityProduced"].(int64)
	remaining, okR := doc["remainingQuantity"].(int64)
	if okP && !okR {
		if _, present := doc["remainingQuantity"]; !present {
			doc["remainingQuantity"] = produced
		}
		return
	}
	if okP && okR && remaining > produced {
		verr.invalid("remainingQuantity", "must not exceed quantityProduced")
	}
}
