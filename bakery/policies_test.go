package bakery_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/bakery-ops/bakery"
)

func TestRolePolicy(t *testing.T) {
	tests := []struct {
		role bakery.Role
		op   bakery.Operation
		want bool
	}{
		{bakery.RoleBakery, bakery.OpRecordProduction, true},
		{bakery.RoleBakery, bakery.OpReadOilBatches, true},
		{bakery.RoleBakery, bakery.OpMarkRequestFulfilled, true},
		{bakery.RoleBakery, bakery.OpReadProductionLogs, true},
		{bakery.RoleBakery, bakery.OpRecordFulfillment, false},
		{bakery.RoleBakery, bakery.OpAdjustInventory, false},

		{bakery.RoleFulfillment, bakery.OpRecordFulfillment, true},
		{bakery.RoleFulfillment, bakery.OpListRecentBatches, true},
		{bakery.RoleFulfillment, bakery.OpReadInventory, true},
		{bakery.RoleFulfillment, bakery.OpReadFulfillmentLogs, true},
		{bakery.RoleFulfillment, bakery.OpRecordProduction, false},
		{bakery.RoleFulfillment, bakery.OpReadProductionLogs, false},

		{bakery.RoleRetail, bakery.OpCreateRequest, true},
		{bakery.RoleRetail, bakery.OpReadRequests, true},
		{bakery.RoleRetail, bakery.OpReadProducts, true},
		{bakery.RoleRetail, bakery.OpReadInventory, false},
		{bakery.RoleRetail, bakery.OpMarkRequestFulfilled, false},

		{bakery.RoleAdmin, bakery.OpAdjustInventory, true},
		{bakery.RoleAdmin, bakery.OpManageUsers, true},
		{bakery.RoleAdmin, bakery.OpRecordFulfillment, true},

		{bakery.Role("intern"), bakery.OpReadProducts, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.op), func(t *testing.T) {
			assert.Equal(t, tt.want, bakery.Can(tt.role, tt.op))
		})
	}
}

func TestAuthorize_ReturnsForbiddenError(t *testing.T) {
	err := bakery.Authorize(bakery.Actor{UID: "u1", Role: bakery.RoleRetail}, bakery.OpAdjustInventory)

	assert.ErrorIs(t, err, bakery.ErrForbidden)
	assert.Contains(t, err.Error(), `role "retail" may not adjust inventory`)
	assert.NoError(t, bakery.Authorize(bakery.Actor{Role: bakery.RoleAdmin}, bakery.OpAdjustInventory))
}
