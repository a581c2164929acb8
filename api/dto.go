/*
dto.go - Request and response bodies for the HTTP API

NAMING CONVENTION:
  - *Request:  Request body types from clients
  - *Response: Response wrappers that are not plain domain entities

Entity responses (products, batches, logs, inventory rows) are the bakery
types themselves; their JSON tags are the wire format the ops UI already
reads. Catalog create/update bodies are free-form field maps so the schema
normalizer can coerce and report every bad field at once.

VALIDATION:
  Bodies are only decoded here. Field rules live in package schema and the
  ledger; the handlers turn their errors into 400s.

SEE ALSO:
  - handlers.go: Uses these types
  - errors.go: ErrorResponse mapping
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/bakery-ops/auth"
	"github.com/warp/bakery-ops/bakery"
)

// =============================================================================
// AUTH
// =============================================================================

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SetPasswordRequest struct {
	Password string `json:"password"`
}

type RegisterUserRequest struct {
	Email       string      `json:"email"`
	Password    string      `json:"password"`
	Role        bakery.Role `json:"role"`
	DisplayName string      `json:"displayName,omitempty"`
}

// SessionResponse is returned by sign-in.
type SessionResponse struct {
	Token     string        `json:"token"`
	TokenType string        `json:"tokenType"`
	ExpiresAt time.Time     `json:"expiresAt"`
	Identity  auth.Identity `json:"identity"`
}

// =============================================================================
// LEDGER
// =============================================================================

type OilSelectionRequest struct {
	OilBatchID string          `json:"oilBatchId"`
	Grams      decimal.Decimal `json:"grams"`
}

// ProductionRequest records one production run. Date is YYYY-MM-DD or
// RFC3339; empty means today.
type ProductionRequest struct {
	ProductID      string                `json:"productId"`
	OilSelections  []OilSelectionRequest `json:"oilSelections"`
	Quantity       int64                 `json:"quantity"`
	DosageMg       decimal.Decimal       `json:"dosageMg"`
	Date           string                `json:"date,omitempty"`
	IdempotencyKey string                `json:"idempotencyKey,omitempty"`
}

type FulfillmentRequest struct {
	Quantity       int64  `json:"quantity"`
	Date           string `json:"date,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// FulfillmentResponse adds the divergence warning, which is not an error.
type FulfillmentResponse struct {
	*bakery.FulfillmentResult
	Warning string `json:"warning,omitempty"`
}

type AdjustmentRequest struct {
	NewTotal *int64 `json:"newTotal"`
	Reason   string `json:"reason,omitempty"`
}

// =============================================================================
// RETAIL REQUESTS
// =============================================================================

type CreateRetailRequest struct {
	ProductID string `json:"productId"` // acronym
	Quantity  int64  `json:"quantity"`
	Notes     string `json:"notes,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId"`
}

// ScenarioResult counts what a scenario created. Users lists only accounts
// that did not exist before.
type ScenarioResult struct {
	Scenario     string   `json:"scenario"`
	Users        []string `json:"users,omitempty"`
	Products     int      `json:"products"`
	OilBatches   int      `json:"oilBatches"`
	Batches      int      `json:"batches"`
	Fulfillments int      `json:"fulfillments"`
	Requests     int      `json:"requests"`
}

// =============================================================================
// MISC
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details string   `json:"details,omitempty"`
	Fields  []string `json:"fields,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}
