package bakery

import (
	"context"
	"sort"
	"strings"

	"github.com/warp/bakery-ops/docstore"
)

// =============================================================================
// INVENTORY VIEW
// =============================================================================

// InventoryRow is one line of the inventory page.
type InventoryRow struct {
	Acronym        string `json:"acronym"`
	Name           string `json:"name"`
	ProductID      string `json:"productId,omitempty"` // empty for orphan rows
	Active         bool   `json:"active"`
	TotalAvailable int64  `json:"totalAvailable"`
	HasRecord      bool   `json:"hasRecord"`
	Orphan         bool   `json:"orphan,omitempty"` // inventory record without a product
}

// InventorySummary joins every product with its inventory record by acronym.
// Inventory records whose acronym matches no product are included as orphans.
// filter is a case-insensitive substring of the name or acronym.
func (l *Ledger) InventorySummary(ctx context.Context, actor Actor, filter string) ([]InventoryRow, error) {
	if err := Authorize(actor, OpReadInventory); err != nil {
		return nil, err
	}
	ctx, cancel := l.opts.bound(ctx)
	defer cancel()

	products, err := l.repos.Products.List(ctx, docstore.Query{})
	if err != nil {
		return nil, err
	}
	records, err := l.repos.Inventory.List(ctx, docstore.Query{})
	if err != nil {
		return nil, err
	}

	byAcronym := make(map[string]InventoryRecord, len(records))
	for _, rec := range records {
		byAcronym[rec.ProductID] = rec
	}

	needle := strings.ToLower(strings.TrimSpace(filter))
	keep := func(row InventoryRow) bool {
		return needle == "" ||
			strings.Contains(strings.ToLower(row.Acronym), needle) ||
			strings.Contains(strings.ToLower(row.Name), needle)
	}

	rows := make([]InventoryRow, 0, len(products))
	seen := make(map[string]bool, len(products))
	for _, p := range products {
		seen[p.Acronym] = true
		rec, ok := byAcronym[p.Acronym]
		row := InventoryRow{
			Acronym:        p.Acronym,
			Name:           p.Name,
			ProductID:      p.ID,
			Active:         p.Active,
			TotalAvailable: rec.TotalAvailable,
			HasRecord:      ok,
		}
		if keep(row) {
			rows = append(rows, row)
		}
	}
	for _, rec := range records {
		if seen[rec.ProductID] {
			continue
		}
		row := InventoryRow{
			Acronym:        rec.ProductID,
			TotalAvailable: rec.TotalAvailable,
			HasRecord:      true,
			Orphan:         true,
		}
		if keep(row) {
			rows = append(rows, row)
		}
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Acronym < rows[j].Acronym })
	return rows, nil
}

// GetInventory returns the inventory record for one acronym.
func (l *Ledger) GetInventory(ctx context.Context, actor Actor, acronym string) (*InventoryRecord, error) {
	if err := Authorize(actor, OpReadInventory); err != nil {
		return nil, err
	}
	ctx, cancel := l.opts.bound(ctx)
	defer cancel()

	rec, err := l.repos.Inventory.FindByProduct(ctx, acronym)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Kind: "InventoryRecord", ID: acronym}
	}
	return rec, nil
}

// =============================================================================
// ADMIN REPORT
// =============================================================================

// Report is the admin dashboard's overview.
type Report struct {
	Products         int   `json:"products"`
	ActiveProducts   int   `json:"activeProducts"`
	Users            int   `json:"users"`
	OilBatches       int   `json:"oilBatches"`
	ProductBatches   int   `json:"productBatches"`
	PendingRequests  int   `json:"pendingRequests"`
	ProductionLogs   int   `json:"productionLogs"`
	FulfillmentLogs  int   `json:"fulfillmentLogs"`
	UnitsOnHand      int64 `json:"unitsOnHand"`
	NegativeProducts int   `json:"negativeProducts"`
}

func (l *Ledger) Report(ctx context.Context, actor Actor) (*Report, error) {
	if err := Authorize(actor, OpViewReports); err != nil {
		return nil, err
	}
	ctx, cancel := l.opts.bound(ctx)
	defer cancel()

	r := &Report{}
	count := func(coll docstore.Collection, q docstore.Query) (int, error) {
		recs, err := l.store.List(ctx, coll, q)
		return len(recs), err
	}

	var err error
	if r.Products, err = count(docstore.Products, docstore.Query{}); err != nil {
		return nil, err
	}
	if r.ActiveProducts, err = count(docstore.Products, docstore.Where(docstore.Eq("active", true))); err != nil {
		return nil, err
	}
	if r.Users, err = count(docstore.Users, docstore.Query{}); err != nil {
		return nil, err
	}
	if r.OilBatches, err = count(docstore.OilBatches, docstore.Query{}); err != nil {
		return nil, err
	}
	if r.ProductBatches, err = count(docstore.ProductBatches, docstore.Query{}); err != nil {
		return nil, err
	}
	if r.PendingRequests, err = count(docstore.RetailRequests, docstore.Where(docstore.Eq("status", string(StatusPending)))); err != nil {
		return nil, err
	}
	if r.ProductionLogs, err = count(docstore.ProductionLogs, docstore.Query{}); err != nil {
		return nil, err
	}
	if r.FulfillmentLogs, err = count(docstore.FulfillmentLogs, docstore.Query{}); err != nil {
		return nil, err
	}

	records, err := l.repos.Inventory.List(ctx, docstore.Query{})
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		r.UnitsOnHand += rec.TotalAvailable
		if rec.TotalAvailable < 0 {
			r.NegativeProducts++
		}
	}
	return r, nil
}
