package bakery

// =============================================================================
// ROLE POLICY - Which role may run which operation
// =============================================================================

// Operation names a guarded service operation.
type Operation string

const (
	OpRecordProduction     Operation = "record production"
	OpRecordFulfillment    Operation = "record fulfillment"
	OpAdjustInventory      Operation = "adjust inventory"
	OpListRecentBatches    Operation = "list recent batches"
	OpReadProducts         Operation = "read products"
	OpWriteProducts        Operation = "write products"
	OpReadOilBatches       Operation = "read oil batches"
	OpWriteOilBatches      Operation = "write oil batches"
	OpReadBatches          Operation = "read product batches"
	OpReadInventory        Operation = "read inventory"
	OpCreateRequest        Operation = "create retail request"
	OpReadRequests         Operation = "read retail requests"
	OpMarkRequestFulfilled Operation = "mark retail request fulfilled"
	OpCancelRequest        Operation = "cancel retail request"
	OpReadProductionLogs   Operation = "read production logs"
	OpReadFulfillmentLogs  Operation = "read fulfillment logs"
	OpReadAdjustments      Operation = "read inventory adjustments"
	OpManageUsers          Operation = "manage users"
	OpViewReports          Operation = "view reports"
	OpReconcile            Operation = "reconcile inventory"
)

// Admin may run every operation and is not listed here.
var rolePolicy = map[Role]map[Operation]bool{
	RoleBakery: {
		OpRecordProduction:     true,
		OpReadProducts:         true,
		OpReadOilBatches:       true,
		OpReadInventory:        true,
		OpReadRequests:         true,
		OpMarkRequestFulfilled: true,
		OpReadProductionLogs:   true,
	},
	RoleFulfillment: {
		OpRecordFulfillment:   true,
		OpListRecentBatches:   true,
		OpReadBatches:         true,
		OpReadInventory:       true,
		OpReadProducts:        true,
		OpReadFulfillmentLogs: true,
	},
	RoleRetail: {
		OpCreateRequest: true,
		OpReadRequests:  true, // own requests only, see RequestService
		OpReadProducts:  true,
	},
}

// Can reports whether role may run op.
func Can(role Role, op Operation) bool {
	if role == RoleAdmin {
		return true
	}
	return rolePolicy[role][op]
}

// Authorize returns a *ForbiddenError unless the actor may run op.
func Authorize(actor Actor, op Operation) error {
	if !Can(actor.Role, op) {
		return &ForbiddenError{Role: actor.Role, Operation: op}
	}
	return nil
}
