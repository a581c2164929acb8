/*
handlers.go - HTTP API handlers for the bakery operations ledger

PURPOSE:
  Exposes the ledger, retail requests, catalog and auth services to the
  role dashboards. Handles HTTP request/response and JSON, and delegates
  every rule (roles, validation, counters) to the bakery and auth packages.

ENDPOINTS:
  Auth:
    POST   /api/auth/sign-in                    Email + password -> bearer token
    POST   /api/auth/sign-out                   Revoke the current token
    GET    /api/auth/me                         Current user
    PUT    /api/auth/password                   Change own password

  Catalog:
    GET    /api/products[?active=true]          List products
    POST   /api/products                        Create product (admin)
    GET    /api/products/{id}                   Get product
    PATCH  /api/products/{id}                   Update product (admin)
    DELETE /api/products/{id}                   Delete product (admin)
    GET    /api/products/{id}/batches[?limit=]  Most recent batches
    *      /api/oil-batches[/{id}]              Same shape as products
    *      /api/users[/{id}]                    User admin, PUT /{id}/password

  Ledger:
    POST   /api/production                      Record a production run
    GET    /api/batches/{id}                    Get batch
    POST   /api/batches/{id}/fulfillments       Fulfill from a batch
    GET    /api/inventory[?q=]                  Inventory summary
    GET    /api/inventory/{acronym}             One inventory record
    GET    /api/inventory/{acronym}/adjustments Adjustment audit trail
    POST   /api/inventory/{acronym}/adjustments Absolute correction (admin)
    GET    /api/logs/production[?date=|limit=]
    GET    /api/logs/fulfillment[?date=|limit=]

  Retail requests:
    GET    /api/requests[?status=&productId=]
    POST   /api/requests
    GET    /api/requests/{id}
    POST   /api/requests/{id}/fulfill
    POST   /api/requests/{id}/cancel

  Admin:
    GET    /api/reports
    GET    /api/reconciliation                  Run reconciliation now
    GET    /api/reconciliation/last             Last scheduled result

REQUEST FLOW:
  1. authenticate middleware resolves the bearer token to an Actor
  2. Decode and lightly parse the body (dates, limits)
  3. Call the service with the actor
  4. Serialize the result, or map the error with respondError

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Error to status mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/bakery-ops/auth"
	"github.com/warp/bakery-ops/bakery"
	"github.com/warp/bakery-ops/docstore"
	"github.com/warp/bakery-ops/schema"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger   *bakery.Ledger
	Requests *bakery.RequestService
	Catalog  *bakery.Catalog
	Auth     *auth.Service

	// Scheduler is optional; /api/reconciliation/last reports 404 without it.
	Scheduler *ReconciliationScheduler

	store docstore.TxStore
	log   *zap.Logger
	now   func() time.Time
}

// NewHandler builds the bakery services over store.
func NewHandler(store docstore.TxStore, authSvc *auth.Service, opts bakery.Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		Ledger:   bakery.NewLedger(store, opts),
		Requests: bakery.NewRequestService(store, opts),
		Catalog:  bakery.NewCatalog(store, opts),
		Auth:     authSvc,
		store:    store,
		log:      log.Named("api"),
		now:      now,
	}
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if !h.decode(w, r, &req) {
		return
	}
	session, err := h.Auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{
		Token:     session.Token,
		TokenType: "Bearer",
		ExpiresAt: session.ExpiresAt,
		Identity:  session.Identity,
	})
}

func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	token, _ := r.Context().Value(tokenKey).(string)
	if err := h.Auth.SignOut(r.Context(), token); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the signed-in user's profile.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	user, err := h.Catalog.GetUser(r.Context(), a, a.UID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req SetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	a := actor(r)
	if err := h.Auth.SetPassword(r.Context(), a, a.UID, req.Password); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	products, err := h.Catalog.ListProducts(r.Context(), actor(r), activeOnly)
	h.respond(w, r, http.StatusOK, products, err)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.Catalog.GetProduct(r.Context(), actor(r), chi.URLParam(r, "id"))
	h.respond(w, r, http.StatusOK, product, err)
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var doc docstore.Document
	if !h.decode(w, r, &doc) {
		return
	}
	product, err := h.Catalog.CreateProduct(r.Context(), actor(r), doc)
	h.respond(w, r, http.StatusCreated, product, err)
}

func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var doc docstore.Document
	if !h.decode(w, r, &doc) {
		return
	}
	product, err := h.Catalog.UpdateProduct(r.Context(), actor(r), chi.URLParam(r, "id"), doc)
	h.respond(w, r, http.StatusOK, product, err)
}

func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	err := h.Catalog.DeleteProduct(r.Context(), actor(r), chi.URLParam(r, "id"))
	h.respond(w, r, http.StatusNoContent, nil, err)
}

// ListProductBatches backs the fulfillment dashboard's batch picker.
func (h *Handler) ListProductBatches(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", bakery.DefaultRecentBatches)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	batches, err := h.Ledger.ListRecentBatchesForProduct(r.Context(), actor(r), chi.URLParam(r, "id"), limit)
	h.respond(w, r, http.StatusOK, batches, err)
}

// =============================================================================
// OIL BATCH HANDLERS
// =============================================================================

func (h *Handler) ListOilBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.Catalog.ListOilBatches(r.Context(), actor(r))
	h.respond(w, r, http.StatusOK, batches, err)
}

func (h *Handler) GetOilBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.Catalog.GetOilBatch(r.Context(), actor(r), chi.URLParam(r, "id"))
	h.respond(w, r, http.StatusOK, batch, err)
}

func (h *Handler) CreateOilBatch(w http.ResponseWriter, r *http.Request) {
	var doc docstore.Document
	if !h.decode(w, r, &doc) {
		return
	}
	batch, err := h.Catalog.CreateOilBatch(r.Context(), actor(r), doc)
	h.respond(w, r, http.StatusCreated, batch, err)
}

func (h *Handler) UpdateOilBatch(w http.ResponseWriter, r *http.Request) {
	var doc docstore.Document
	if !h.decode(w, r, &doc) {
		return
	}
	batch, err := h.Catalog.UpdateOilBatch(r.Context(), actor(r), chi.URLParam(r, "id"), doc)
	h.respond(w, r, http.StatusOK, batch, err)
}

func (h *Handler) DeleteOilBatch(w http.ResponseWriter, r *http.Request) {
	err := h.Catalog.DeleteOilBatch(r.Context(), actor(r), chi.URLParam(r, "id"))
	h.respond(w, r, http.StatusNoContent, nil, err)
}

// =============================================================================
// USER HANDLERS
// =============================================================================

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Catalog.ListUsers(r.Context(), actor(r))
	h.respond(w, r, http.StatusOK, users, err)
}

// RegisterUser creates a user account with a password (admin).
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.Auth.Register(r.Context(), actor(r), req.Email, req.Password, req.Role, req.DisplayName)
	h.respond(w, r, http.StatusCreated, user, err)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.Catalog.GetUser(r.Context(), actor(r), chi.URLParam(r, "id"))
	h.respond(w, r, http.StatusOK, user, err)
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var doc docstore.Document
	if !h.decode(w, r, &doc) {
		return
	}
	user, err := h.Catalog.UpdateUser(r.Context(), actor(r), chi.URLParam(r, "id"), doc)
	h.respond(w, r, http.StatusOK, user, err)
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	err := h.Catalog.DeleteUser(r.Context(), actor(r), chi.URLParam(r, "id"))
	h.respond(w, r, http.StatusNoContent, nil, err)
}

// SetUserPassword resets another user's password (admin) or the caller's own.
func (h *Handler) SetUserPassword(w http.ResponseWriter, r *http.Request) {
	var req SetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.Auth.SetPassword(r.Context(), actor(r), chi.URLParam(r, "id"), req.Password)
	h.respond(w, r, http.StatusNoContent, nil, err)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// RecordProduction creates a batch and credits inventory.
func (h *Handler) RecordProduction(w http.ResponseWriter, r *http.Request) {
	var req ProductionRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate(schema.KindProductBatch, req.Date)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	in := bakery.ProductionInput{
		ProductID:      req.ProductID,
		Quantity:       req.Quantity,
		DosageMg:       req.DosageMg,
		Date:           date,
		IdempotencyKey: req.IdempotencyKey,
	}
	for _, sel := range req.OilSelections {
		in.OilSelections = append(in.OilSelections, bakery.OilSelection{
			OilBatchID: sel.OilBatchID,
			Grams:      sel.Grams,
		})
	}

	result, err := h.Ledger.RecordProduction(r.Context(), actor(r), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.Ledger.GetBatch(r.Context(), actor(r), chi.URLParam(r, "id"))
	h.respond(w, r, http.StatusOK, batch, err)
}

// RecordFulfillment draws units from one batch.
func (h *Handler) RecordFulfillment(w http.ResponseWriter, r *http.Request) {
	var req FulfillmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate(schema.KindFulfillmentLog, req.Date)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	result, err := h.Ledger.RecordFulfillment(r.Context(), actor(r), bakery.FulfillmentInput{
		BatchID:        chi.URLParam(r, "id"),
		Quantity:       req.Quantity,
		Date:           date,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := FulfillmentResponse{FulfillmentResult: result}
	if result.Warning != nil {
		resp.Warning = result.Warning.Error()
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (h *Handler) InventorySummary(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Ledger.InventorySummary(r.Context(), actor(r), r.URL.Query().Get("q"))
	h.respond(w, r, http.StatusOK, rows, err)
}

func (h *Handler) GetInventory(w http.ResponseWriter, r *http.Request) {
	record, err := h.Ledger.GetInventory(r.Context(), actor(r), chi.URLParam(r, "acronym"))
	h.respond(w, r, http.StatusOK, record, err)
}

// AdjustInventory sets an absolute total and records the audit entry.
func (h *Handler) AdjustInventory(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.NewTotal == nil {
		h.respondError(w, r, schema.Invalid(schema.KindAdjustment, "newTotal", "is required"))
		return
	}
	record, err := h.Ledger.AdjustInventory(r.Context(), actor(r), chi.URLParam(r, "acronym"), *req.NewTotal, req.Reason)
	h.respond(w, r, http.StatusOK, record, err)
}

func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Ledger.AdjustmentsForProduct(r.Context(), actor(r), chi.URLParam(r, "acronym"))
	h.respond(w, r, http.StatusOK, entries, err)
}

func (h *Handler) ProductionLogs(w http.ResponseWriter, r *http.Request) {
	ctx, a := r.Context(), actor(r)
	if day := r.URL.Query().Get("date"); day != "" {
		logs, err := h.Ledger.ProductionLogsByDate(ctx, a, day)
		h.respond(w, r, http.StatusOK, logs, err)
		return
	}
	limit, err := queryInt(r, "limit", bakery.DefaultRecentLogs)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	logs, err := h.Ledger.RecentProductionLogs(ctx, a, limit)
	h.respond(w, r, http.StatusOK, logs, err)
}

func (h *Handler) FulfillmentLogs(w http.ResponseWriter, r *http.Request) {
	ctx, a := r.Context(), actor(r)
	if day := r.URL.Query().Get("date"); day != "" {
		logs, err := h.Ledger.FulfillmentLogsByDate(ctx, a, day)
		h.respond(w, r, http.StatusOK, logs, err)
		return
	}
	limit, err := queryInt(r, "limit", bakery.DefaultRecentLogs)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	logs, err := h.Ledger.RecentFulfillmentLogs(ctx, a, limit)
	h.respond(w, r, http.StatusOK, logs, err)
}

// =============================================================================
// RETAIL REQUEST HANDLERS
// =============================================================================

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	requests, err := h.Requests.ListRequests(r.Context(), actor(r), bakery.RequestFilter{
		Status:    bakery.RequestStatus(q.Get("status")),
		ProductID: q.Get("productId"),
	})
	h.respond(w, r, http.StatusOK, requests, err)
}

func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateRetailRequest
	if !h.decode(w, r, &req) {
		return
	}
	created, err := h.Requests.CreateRequest(r.Context(), actor(r), req.ProductID, req.Quantity, req.Notes)
	h.respond(w, r, http.StatusCreated, created, err)
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Requests.GetRequest(r.Context(), actor(r), chi.URLParam(r, "id"))
	h.respond(w, r, http.StatusOK, req, err)
}

func (h *Handler) FulfillRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Requests.MarkFulfilled(r.Context(), actor(r), chi.URLParam(r, "id"))
	h.respond(w, r, http.StatusOK, req, err)
}

func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Requests.Cancel(r.Context(), actor(r), chi.URLParam(r, "id"))
	h.respond(w, r, http.StatusOK, req, err)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.Ledger.Report(r.Context(), actor(r))
	h.respond(w, r, http.StatusOK, report, err)
}

// Reconcile computes drift on demand.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.Ledger.Reconcile(r.Context(), actor(r))
	h.respond(w, r, http.StatusOK, result, err)
}

// LastReconciliation returns the scheduler's most recent run.
func (h *Handler) LastReconciliation(w http.ResponseWriter, r *http.Request) {
	if err := bakery.Authorize(actor(r), bakery.OpReconcile); err != nil {
		h.respondError(w, r, err)
		return
	}
	if h.Scheduler == nil {
		writeError(w, http.StatusNotFound, "Scheduler is not running", nil)
		return
	}
	run, ok := h.Scheduler.LastRun()
	if !ok {
		writeError(w, http.StatusNotFound, "No reconciliation has run yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// Health pings the store when the backend supports it.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Store: "ok"}
	if p, ok := h.store.(interface{ Ping(context.Context) error }); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			h.log.Warn("health check failed", zap.Error(err))
			resp = HealthResponse{Status: "degraded", Store: err.Error()}
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

// respond writes v with status, or the mapped error. A nil v with 204 writes
// no body.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, v)
}

// decode reads a JSON body. Numbers in free-form documents stay json.Number
// so the schema normalizer sees the client's exact digits.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func parseDate(kind schema.Kind, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	ts, ok := schema.ParseTime(s)
	if !ok {
		return time.Time{}, schema.Invalid(kind, "date", "must be YYYY-MM-DD or RFC3339")
	}
	return ts, nil
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: query parameter %q must be a positive integer", schema.ErrValidation, name)
	}
	return n, nil
}
