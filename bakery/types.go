// Package bakery implements the bakery operations ledger: production and
// fulfillment bookkeeping, retail restocking requests, role policy and the
// inventory view, all on top of the abstract document store.
package bakery

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ROLES AND ACTORS
// =============================================================================

// Role is the operational role of a signed-in user.
type Role string

const (
	RoleBakery      Role = "bakery"
	RoleFulfillment Role = "fulfillment"
	RoleRetail      Role = "retail"
	RoleAdmin       Role = "admin"
)

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleBakery, RoleFulfillment, RoleRetail, RoleAdmin:
		return true
	}
	return false
}

// Actor is the authenticated identity performing an operation.
// It is passed explicitly to every service call.
type Actor struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// SystemActor runs background work such as scheduled reconciliation.
var SystemActor = Actor{UID: "system", Email: "", Role: RoleAdmin}

// =============================================================================
// ENTITIES
// =============================================================================

// Product is a finished good. Acronym is the key used by inventory and batches
// and never changes. InventoryCount is a legacy display value; stock lives in
// InventoryRecord.
type Product struct {
	ID             string     `json:"id"`
	Acronym        string     `json:"acronym"`
	Name           string     `json:"name"`
	Active         bool       `json:"active"`
	InventoryCount int64      `json:"inventoryCount,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastUpdated    *time.Time `json:"lastUpdated,omitempty"`
}

// OilBatch is a received lot of infused oil.
type OilBatch struct {
	ID             string          `json:"id"`
	OilBatchCode   string          `json:"oilBatchCode"`
	Type           string          `json:"type"`
	AmountGrams    decimal.Decimal `json:"amountGrams"`
	PotencyPercent decimal.Decimal `json:"potencyPercent"`
	RemainingGrams decimal.Decimal `json:"remainingGrams"`
	DateReceived   time.Time       `json:"dateReceived"`
	CreatedAt      time.Time       `json:"createdAt"`
	LastUpdated    *time.Time      `json:"lastUpdated,omitempty"`
}

// ProductBatch is one production run of a product.
// ProductID and OilBatchID hold canonical reference paths.
type ProductBatch struct {
	ID                string          `json:"id"`
	BatchCode         string          `json:"batchCode"`
	ProductID         string          `json:"productId"`
	ProductAcronym    string          `json:"productAcronym"`
	OilBatchID        string          `json:"oilBatchId"`
	OilBatchCode      string          `json:"oilBatchCode"`
	OilType           string          `json:"oilType"`
	DosageMg          decimal.Decimal `json:"dosageMg"`
	QuantityProduced  int64           `json:"quantityProduced"`
	RemainingQuantity int64           `json:"remainingQuantity"`
	DateMade          time.Time       `json:"dateMade"`
	DateStr           string          `json:"dateStr"`
	CreatedAt         time.Time       `json:"createdAt"`
	LastUpdated       *time.Time      `json:"lastUpdated,omitempty"`
}

// InventoryRecord is the running stock total for one product acronym.
type InventoryRecord struct {
	ID             string     `json:"id"`
	ProductID      string     `json:"productId"` // product acronym
	TotalAvailable int64      `json:"totalAvailable"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastUpdated    *time.Time `json:"lastUpdated,omitempty"`
}

type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusFulfilled RequestStatus = "fulfilled"
	StatusCancelled RequestStatus = "cancelled"
)

// RetailRequest is a restocking request filed by retail staff.
type RetailRequest struct {
	ID          string        `json:"id"`
	RequestedBy string        `json:"requestedBy"`
	ProductID   string        `json:"productId"` // product acronym
	Quantity    int64         `json:"quantity"`
	Status      RequestStatus `json:"status"`
	Notes       string        `json:"notes,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	LastUpdated *time.Time    `json:"lastUpdated,omitempty"`
}

// LogAction is one line of a production or fulfillment log entry.
type LogAction struct {
	ProductID  string           `json:"productId,omitempty"`
	OilBatchID string           `json:"oilBatchId,omitempty"`
	BatchID    string           `json:"batchId,omitempty"`
	Quantity   int64            `json:"quantity"`
	Grams      *decimal.Decimal `json:"grams,omitempty"`
	UserID     string           `json:"userId,omitempty"`
}

// ProductionLog records one production event. Append-only.
type ProductionLog struct {
	ID               string          `json:"id"`
	Date             string          `json:"date"`
	Actions          []LogAction     `json:"actions"`
	BatchID          string          `json:"batchId"`
	BatchCode        string          `json:"batchCode"`
	ProductID        string          `json:"productId"`
	ProductAcronym   string          `json:"productAcronym"`
	OilBatchID       string          `json:"oilBatchId"`
	OilBatchCode     string          `json:"oilBatchCode"`
	OilType          string          `json:"oilType"`
	DosageMg         decimal.Decimal `json:"dosageMg"`
	QuantityProduced int64           `json:"quantityProduced"`
	UserID           string          `json:"userId"`
	UserEmail        string          `json:"userEmail"`
	IdempotencyKey   string          `json:"idempotencyKey,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// FulfillmentLog records one fulfillment event. Append-only.
type FulfillmentLog struct {
	ID             string      `json:"id"`
	Date           string      `json:"date"`
	Actions        []LogAction `json:"actions"`
	IdempotencyKey string      `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// InventoryAdjustment audits an administrative absolute correction.
type InventoryAdjustment struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"productId"` // product acronym
	PreviousTotal int64     `json:"previousTotal"`
	NewTotal      int64     `json:"newTotal"`
	Delta         int64     `json:"delta"`
	UserID        string    `json:"userId"`
	UserEmail     string    `json:"userEmail,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Date          string    `json:"date"`
	CreatedAt     time.Time `json:"createdAt"`
}

// User is a staff account. ID is the auth uid.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Role         Role       `json:"role"`
	DisplayName  string     `json:"displayName,omitempty"`
	PasswordHash string     `json:"passwordHash,omitempty"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastUpdated  *time.Time `json:"lastUpdated,omitempty"`
}
