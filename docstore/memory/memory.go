// Package memory provides an in-memory docstore.TxStore (for testing/dev).
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/bakery-ops/docstore"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory keeps every collection in maps guarded by one RWMutex.
// Transactions hold the write lock for their whole duration, so they are
// serialized; rollback restores a snapshot taken at WithTx entry.
type Memory struct {
	mu          sync.RWMutex
	collections map[docstore.Collection]*collection
	seq         int64

	// Now supplies server timestamps. Defaults to time.Now.
	Now func() time.Time
}

type collection struct {
	records map[string]*docstore.Record
}

var _ docstore.TxStore = (*Memory)(nil)

func New() *Memory {
	return &Memory{
		collections: make(map[docstore.Collection]*collection),
		Now:         time.Now,
	}
}

func (m *Memory) Create(ctx context.Context, coll docstore.Collection, doc docstore.Document) (string, error) {
	if err := live(ctx, "create", coll); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	return id, m.insertLocked(coll, id, doc)
}

func (m *Memory) CreateWithID(ctx context.Context, coll docstore.Collection, id string, doc docstore.Document) error {
	if err := live(ctx, "create", coll); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(coll, id, doc)
}

func (m *Memory) Get(ctx context.Context, coll docstore.Collection, id string) (*docstore.Record, error) {
	if err := live(ctx, "get", coll); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(coll, id), nil
}

func (m *Memory) List(ctx context.Context, coll docstore.Collection, q docstore.Query) ([]docstore.Record, error) {
	if err := live(ctx, "list", coll); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(coll, q), nil
}

func (m *Memory) Update(ctx context.Context, coll docstore.Collection, id string, fields docstore.Document) error {
	if err := live(ctx, "update", coll); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(coll, id, fields)
}

func (m *Memory) Delete(ctx context.Context, coll docstore.Collection, id string) error {
	if err := live(ctx, "delete", coll); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(coll, id)
}

func (m *Memory) Increment(ctx context.Context, coll docstore.Collection, id, field string, delta int64, bound docstore.Bound) (int64, error) {
	if err := live(ctx, "increment", coll); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incrementLocked(coll, id, field, delta, bound)
}

// =============================================================================
// LOCKED OPERATIONS
// =============================================================================

func (m *Memory) coll(c docstore.Collection) *collection {
	col, ok := m.collections[c]
	if !ok {
		col = &collection{records: make(map[string]*docstore.Record)}
		m.collections[c] = col
	}
	return col
}

// peek returns the records of c without creating the collection, so it is
// safe under the read lock.
func (m *Memory) peek(c docstore.Collection) map[string]*docstore.Record {
	if col, ok := m.collections[c]; ok {
		return col.records
	}
	return nil
}

func (m *Memory) insertLocked(coll docstore.Collection, id string, doc docstore.Document) error {
	data, err := docstore.Canonical(doc)
	if err != nil {
		return docstore.Wrap("create", coll, err, false)
	}
	col := m.coll(coll)
	if _, exists := col.records[id]; exists {
		return fmt.Errorf("%s/%s: %w", coll, id, docstore.ErrDuplicateKey)
	}
	if err := m.checkUniqueLocked(coll, id, data); err != nil {
		return err
	}
	m.seq++
	col.records[id] = &docstore.Record{
		ID:         id,
		Collection: coll,
		Seq:        m.seq,
		Data:       data,
		CreatedAt:  m.Now().UTC(),
	}
	return nil
}

func (m *Memory) getLocked(coll docstore.Collection, id string) *docstore.Record {
	rec, ok := m.peek(coll)[id]
	if !ok {
		return nil
	}
	return copyRecord(rec)
}

func (m *Memory) listLocked(coll docstore.Collection, q docstore.Query) []docstore.Record {
	var out []docstore.Record
	for _, rec := range m.peek(coll) {
		if matches(rec, q.Where) {
			out = append(out, *copyRecord(rec))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		c := compareRecords(&out[i], &out[j], q.OrderBy)
		if c == 0 {
			c = cmpInt(out[i].Seq, out[j].Seq)
		}
		if q.Desc {
			return c > 0
		}
		return c < 0
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func (m *Memory) updateLocked(coll docstore.Collection, id string, fields docstore.Document) error {
	if docstore.OptionsFor(coll).AppendOnly {
		return fmt.Errorf("update %s/%s: %w", coll, id, docstore.ErrAppendOnly)
	}
	rec, ok := m.coll(coll).records[id]
	if !ok {
		return fmt.Errorf("update %s/%s: %w", coll, id, docstore.ErrNotFound)
	}
	patch, err := docstore.Canonical(fields)
	if err != nil {
		return docstore.Wrap("update", coll, err, false)
	}
	merged := docstore.DeepCopy(rec.Data)
	for k, v := range patch {
		merged[k] = v
	}
	if err := m.checkUniqueLocked(coll, id, merged); err != nil {
		return err
	}
	now := m.Now().UTC()
	rec.Data = merged
	rec.LastUpdated = &now
	return nil
}

func (m *Memory) deleteLocked(coll docstore.Collection, id string) error {
	if docstore.OptionsFor(coll).AppendOnly {
		return fmt.Errorf("delete %s/%s: %w", coll, id, docstore.ErrAppendOnly)
	}
	col := m.coll(coll)
	if _, ok := col.records[id]; !ok {
		return fmt.Errorf("delete %s/%s: %w", coll, id, docstore.ErrNotFound)
	}
	delete(col.records, id)
	return nil
}

func (m *Memory) incrementLocked(coll docstore.Collection, id, field string, delta int64, bound docstore.Bound) (int64, error) {
	if docstore.OptionsFor(coll).AppendOnly {
		return 0, fmt.Errorf("increment %s/%s: %w", coll, id, docstore.ErrAppendOnly)
	}
	rec, ok := m.coll(coll).records[id]
	if !ok {
		return 0, fmt.Errorf("increment %s/%s: %w", coll, id, docstore.ErrNotFound)
	}
	current, err := docstore.Int64(rec.Data, field)
	if err != nil {
		return 0, docstore.Wrap("increment", coll, err, false)
	}
	next := current + delta
	if !bound.Allows(next) {
		floor, _ := bound.Min()
		return current, &docstore.ConditionError{
			Collection: coll, ID: id, Field: field,
			Current: current, Delta: delta, Min: floor,
		}
	}
	data := docstore.DeepCopy(rec.Data)
	data[field] = numberOf(next)
	now := m.Now().UTC()
	rec.Data = data
	rec.LastUpdated = &now
	return next, nil
}

func (m *Memory) checkUniqueLocked(coll docstore.Collection, id string, data docstore.Document) error {
	for _, field := range docstore.OptionsFor(coll).Unique {
		v, ok := data[field]
		if !ok || v == nil || v == "" {
			continue
		}
		for otherID, other := range m.peek(coll) {
			if otherID == id {
				continue
			}
			if docstore.ValuesEqual(v, other.Data[field]) {
				return fmt.Errorf("%s.%s=%v: %w", coll, field, v, docstore.ErrDuplicateKey)
			}
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(docstore.Store) error) error {
	if err := live(ctx, "begin", ""); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.collections = snap.collections
		m.seq = snap.seq
		return err
	}
	if err := ctx.Err(); err != nil {
		m.collections = snap.collections
		m.seq = snap.seq
		return docstore.Wrap("commit", "", err, true)
	}
	return nil
}

type memorySnapshot struct {
	collections map[docstore.Collection]*collection
	seq         int64
}

func (m *Memory) snapshot() memorySnapshot {
	cols := make(map[docstore.Collection]*collection, len(m.collections))
	for name, col := range m.collections {
		cp := &collection{records: make(map[string]*docstore.Record, len(col.records))}
		for id, rec := range col.records {
			cp.records[id] = copyRecord(rec)
		}
		cols[name] = cp
	}
	return memorySnapshot{collections: cols, seq: m.seq}
}

// txView runs operations against the parent while the parent's lock is held.
type txView struct {
	parent *Memory
}

func (tv *txView) Create(ctx context.Context, coll docstore.Collection, doc docstore.Document) (string, error) {
	if err := live(ctx, "create", coll); err != nil {
		return "", err
	}
	id := uuid.NewString()
	return id, tv.parent.insertLocked(coll, id, doc)
}

func (tv *txView) CreateWithID(ctx context.Context, coll docstore.Collection, id string, doc docstore.Document) error {
	if err := live(ctx, "create", coll); err != nil {
		return err
	}
	return tv.parent.insertLocked(coll, id, doc)
}

func (tv *txView) Get(ctx context.Context, coll docstore.Collection, id string) (*docstore.Record, error) {
	if err := live(ctx, "get", coll); err != nil {
		return nil, err
	}
	return tv.parent.getLocked(coll, id), nil
}

func (tv *txView) List(ctx context.Context, coll docstore.Collection, q docstore.Query) ([]docstore.Record, error) {
	if err := live(ctx, "list", coll); err != nil {
		return nil, err
	}
	return tv.parent.listLocked(coll, q), nil
}

func (tv *txView) Update(ctx context.Context, coll docstore.Collection, id string, fields docstore.Document) error {
	if err := live(ctx, "update", coll); err != nil {
		return err
	}
	return tv.parent.updateLocked(coll, id, fields)
}

func (tv *txView) Delete(ctx context.Context, coll docstore.Collection, id string) error {
	if err := live(ctx, "delete", coll); err != nil {
		return err
	}
	return tv.parent.deleteLocked(coll, id)
}

func (tv *txView) Increment(ctx context.Context, coll docstore.Collection, id, field string, delta int64, bound docstore.Bound) (int64, error) {
	if err := live(ctx, "increment", coll); err != nil {
		return 0, err
	}
	return tv.parent.incrementLocked(coll, id, field, delta, bound)
}

// =============================================================================
// HELPERS
// =============================================================================

// live reports an expired or cancelled context as a retryable store error.
func live(ctx context.Context, op string, coll docstore.Collection) error {
	if err := ctx.Err(); err != nil {
		return docstore.Wrap(op, coll, err, true)
	}
	return nil
}

func copyRecord(rec *docstore.Record) *docstore.Record {
	cp := *rec
	cp.Data = docstore.DeepCopy(rec.Data)
	if rec.LastUpdated != nil {
		t := *rec.LastUpdated
		cp.LastUpdated = &t
	}
	return &cp
}

func matches(rec *docstore.Record, filters []docstore.Filter) bool {
	for _, f := range filters {
		var stored any
		switch f.Field {
		case docstore.FieldID:
			stored = rec.ID
		default:
			stored = rec.Data[f.Field]
		}
		if !docstore.ValuesEqual(f.Value, stored) {
			return false
		}
	}
	return true
}

func compareRecords(a, b *docstore.Record, orderBy string) int {
	switch orderBy {
	case "":
		return cmpInt(a.Seq, b.Seq)
	case docstore.FieldCreatedAt:
		return a.CreatedAt.Compare(b.CreatedAt)
	case docstore.FieldLastUpdated:
		return docstore.CompareTimes(a.LastUpdated, b.LastUpdated)
	default:
		return docstore.CompareValues(a.Data[orderBy], b.Data[orderBy])
	}
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func numberOf(n int64) json.Number {
	return json.Number(strconv.FormatInt(n, 10))
}
