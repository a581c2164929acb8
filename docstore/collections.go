package docstore

// Collections used by the operations backend.
const (
	Products             Collection = "products"
	OilBatches           Collection = "oilBatches"
	ProductBatches       Collection = "productBatches"
	Inventory            Collection = "inventory"
	RetailRequests       Collection = "retailRequests"
	FulfillmentLogs      Collection = "fulfillmentLogs"
	ProductionLogs       Collection = "productionLogs"
	InventoryAdjustments Collection = "inventoryAdjustments"
	Users                Collection = "users"
)

// Options are the constraints a backend enforces for a collection.
type Options struct {
	AppendOnly bool
	Unique     []string // data fields with a unique value across the collection; empty values exempt
}

var catalogue = map[Collection]Options{
	Products:             {Unique: []string{"acronym"}},
	OilBatches:           {},
	ProductBatches:       {},
	Inventory:            {Unique: []string{"productId"}},
	RetailRequests:       {},
	FulfillmentLogs:      {AppendOnly: true, Unique: []string{"idempotencyKey"}},
	ProductionLogs:       {AppendOnly: true, Unique: []string{"idempotencyKey"}},
	InventoryAdjustments: {AppendOnly: true},
	Users:                {Unique: []string{"email"}},
}

// OptionsFor returns the constraints for coll. Unknown collections have none.
func OptionsFor(coll Collection) Options {
	return catalogue[coll]
}

// AllCollections lists every known collection.
func AllCollections() []Collection {
	return []Collection{
		Products, OilBatches, ProductBatches, Inventory, RetailRequests,
		FulfillmentLogs, ProductionLogs, InventoryAdjustments, Users,
	}
}
