/*
scenarios.go - Demo data loaders for development and demonstrations

PURPOSE:

	Populates an empty store with a realistic bakery so the dashboards have
	something to show. Every record goes through the same services the
	dashboards call, so scenario data obeys the ledger's invariants.

AVAILABLE SCENARIOS:

	starter-bakery:  Three products, two oil batches, one production run per
	                 active product and a first fulfillment
	retail-backlog:  A low-stock product with pending and cancelled retail
	                 requests

HOW SCENARIOS WORK:
 1. Refuse if any of the scenario's product acronyms already exist
 2. Ensure demo staff accounts (one per role)
 3. Create oil batches and products via the catalog
 4. Record production and fulfillment through the ledger
 5. File retail requests as the demo retail user

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "starter-bakery"}

NOTE:

	Scenarios are additive and only routed outside production.

SEE ALSO:
  - handlers.go: Ledger and catalog handlers
  - server.go: Route registration
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/bakery-ops/bakery"
	"github.com/warp/bakery-ops/docstore"
	"go.uber.org/zap"
)

// DemoPassword is the password of every demo staff account.
const DemoPassword = "bakery-demo"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "starter-bakery",
		Name:        "Starter Bakery",
		Description: "Cookies and brownies made from two oil batches, one order shipped",
	},
	{
		ID:          "retail-backlog",
		Name:        "Retail Backlog",
		Description: "Lemon bars running low with restock requests waiting",
	},
}

var scenarioProducts = map[string][]string{
	"starter-bakery": {"CHC", "BRN", "GUM"},
	"retail-backlog": {"LMN"},
}

var demoStaff = []struct {
	email string
	role  bakery.Role
	name  string
}{
	{"bakery@demo.local", bakery.RoleBakery, "Demo Baker"},
	{"fulfillment@demo.local", bakery.RoleFulfillment, "Demo Packer"},
	{"retail@demo.local", bakery.RoleRetail, "Demo Shop"},
}

// =============================================================================
// HANDLERS
// =============================================================================

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario seeds one scenario. Admin only.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	a := actor(r)
	if err := bakery.Authorize(a, bakery.OpManageUsers); err != nil {
		h.respondError(w, r, err)
		return
	}

	acronyms, ok := scenarioProducts[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}
	if taken, err := h.existingAcronyms(r.Context(), a, acronyms); err != nil {
		h.respondError(w, r, err)
		return
	} else if len(taken) > 0 {
		writeError(w, http.StatusConflict, "Scenario already loaded",
			fmt.Errorf("products exist: %s", strings.Join(taken, ", ")))
		return
	}

	s := &scenarioLoader{h: h, admin: a, result: ScenarioResult{Scenario: req.ScenarioID}}
	var err error
	switch req.ScenarioID {
	case "starter-bakery":
		err = s.loadStarterBakery(r.Context())
	case "retail-backlog":
		err = s.loadRetailBacklog(r.Context())
	}
	if err != nil {
		h.respondError(w, r, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}

	h.log.Info("scenario loaded",
		zap.String("scenario", req.ScenarioID),
		zap.Int("products", s.result.Products),
		zap.Int("batches", s.result.Batches),
		zap.Int("requests", s.result.Requests),
	)
	writeJSON(w, http.StatusCreated, s.result)
}

func (h *Handler) existingAcronyms(ctx context.Context, a bakery.Actor, acronyms []string) ([]string, error) {
	products, err := h.Catalog.ListProducts(ctx, a, false)
	if err != nil {
		return nil, err
	}
	want := map[string]bool{}
	for _, ac := range acronyms {
		want[ac] = true
	}
	var taken []string
	for _, p := range products {
		if want[p.Acronym] {
			taken = append(taken, p.Acronym)
		}
	}
	return taken, nil
}

// =============================================================================
// LOADERS
// =============================================================================

type scenarioLoader struct {
	h      *Handler
	admin  bakery.Actor
	staff  map[bakery.Role]bakery.Actor
	result ScenarioResult
}

// ensureStaff creates the demo accounts that do not exist yet.
func (s *scenarioLoader) ensureStaff(ctx context.Context) error {
	users, err := s.h.Catalog.ListUsers(ctx, s.admin)
	if err != nil {
		return err
	}
	byEmail := map[string]bakery.User{}
	for _, u := range users {
		byEmail[u.Email] = u
	}

	s.staff = map[bakery.Role]bakery.Actor{}
	for _, d := range demoStaff {
		u, ok := byEmail[d.email]
		if !ok {
			created, err := s.h.Auth.Register(ctx, s.admin, d.email, DemoPassword, d.role, d.name)
			if err != nil {
				return err
			}
			u = *created
			s.result.Users = append(s.result.Users, u.Email)
		}
		s.staff[d.role] = bakery.Actor{UID: u.ID, Email: u.Email, Role: u.Role}
	}
	return nil
}

func (s *scenarioLoader) product(ctx context.Context, acronym, name string, active bool) (*bakery.Product, error) {
	p, err := s.h.Catalog.CreateProduct(ctx, s.admin, docstore.Document{
		"acronym":        acronym,
		"name":           name,
		"active":         active,
		"inventoryCount": 0,
	})
	if err == nil {
		s.result.Products++
	}
	return p, err
}

func (s *scenarioLoader) oilBatch(ctx context.Context, code, oilType string, grams, potency int64) (*bakery.OilBatch, error) {
	ob, err := s.h.Catalog.CreateOilBatch(ctx, s.admin, docstore.Document{
		"oilBatchCode":   code,
		"type":           oilType,
		"amountGrams":    grams,
		"remainingGrams": grams,
		"potencyPercent": decimal.New(potency, -1),
		"dateReceived":   s.h.now(),
	})
	if err == nil {
		s.result.OilBatches++
	}
	return ob, err
}

func (s *scenarioLoader) produce(ctx context.Context, p *bakery.Product, ob *bakery.OilBatch, qty, grams, dosage int64) (*bakery.ProductBatch, error) {
	res, err := s.h.Ledger.RecordProduction(ctx, s.staff[bakery.RoleBakery], bakery.ProductionInput{
		ProductID:      p.ID,
		OilSelections:  []bakery.OilSelection{{OilBatchID: ob.ID, Grams: decimal.NewFromInt(grams)}},
		Quantity:       qty,
		DosageMg:       decimal.NewFromInt(dosage),
		IdempotencyKey: "scenario:" + s.result.Scenario + ":" + p.Acronym,
	})
	if err != nil {
		return nil, err
	}
	s.result.Batches++
	return res.Batch, nil
}

func (s *scenarioLoader) loadStarterBakery(ctx context.Context) error {
	if err := s.ensureStaff(ctx); err != nil {
		return err
	}

	coconut, err := s.oilBatch(ctx, "OB-1024", "coconut", 500, 125)
	if err != nil {
		return err
	}
	butter, err := s.oilBatch(ctx, "OB-2048", "butter", 300, 100)
	if err != nil {
		return err
	}

	cookie, err := s.product(ctx, "CHC", "Chocolate Chip Cookie", true)
	if err != nil {
		return err
	}
	brownie, err := s.product(ctx, "BRN", "Brownie", true)
	if err != nil {
		return err
	}
	if _, err := s.product(ctx, "GUM", "Gummy Bear", false); err != nil {
		return err
	}

	cookies, err := s.produce(ctx, cookie, coconut, 24, 100, 10)
	if err != nil {
		return err
	}
	if _, err := s.produce(ctx, brownie, butter, 12, 60, 5); err != nil {
		return err
	}

	_, err = s.h.Ledger.RecordFulfillment(ctx, s.staff[bakery.RoleFulfillment], bakery.FulfillmentInput{
		BatchID:        cookies.ID,
		Quantity:       6,
		IdempotencyKey: "scenario:starter-bakery:ship-CHC",
	})
	if err != nil {
		return err
	}
	s.result.Fulfillments++
	return nil
}

func (s *scenarioLoader) loadRetailBacklog(ctx context.Context) error {
	if err := s.ensureStaff(ctx); err != nil {
		return err
	}

	oil, err := s.oilBatch(ctx, "OB-3100", "olive", 200, 80)
	if err != nil {
		return err
	}
	lemon, err := s.product(ctx, "LMN", "Lemon Bar", true)
	if err != nil {
		return err
	}
	if _, err := s.produce(ctx, lemon, oil, 4, 20, 5); err != nil {
		return err
	}

	shop := s.staff[bakery.RoleRetail]
	for _, q := range []struct {
		qty   int64
		notes string
	}{
		{20, "Weekend market"},
		{8, "Window display"},
		{5, "Duplicate of window display"},
	} {
		req, err := s.h.Requests.CreateRequest(ctx, shop, lemon.Acronym, q.qty, q.notes)
		if err != nil {
			return err
		}
		s.result.Requests++
		if strings.HasPrefix(q.notes, "Duplicate") {
			if _, err := s.h.Requests.Cancel(ctx, s.admin, req.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
