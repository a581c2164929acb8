/*
Package sqlite provides a SQLite-backed implementation of docstore.TxStore.

PURPOSE:
  Stores every collection in one documents table with JSON bodies. Field
  equality filters and ordering use json_extract, so the store stays
  schemaless while constraints are enforced by the database itself.

KEY TABLE:
  documents: seq (insertion order), collection, id, data (JSON),
             created_at, last_updated

CONSTRAINTS ENFORCED BY SQLITE:
  - UNIQUE(collection, id)
  - Expression unique indexes for each docstore.Options.Unique field
    (inventory.productId, products.acronym, users.email)
  - Triggers that abort UPDATE/DELETE on append-only collections

ATOMIC INCREMENT:
  A single statement adds the delta and checks the bound:

    UPDATE documents SET data = json_set(data, $path, current + delta)
    WHERE collection = ? AND id = ? AND current + delta >= min
    RETURNING ...

  No row returned means the record is missing or the bound failed; the
  value is then read back only to build the error.

CONCURRENCY:
  Transactions start with BEGIN IMMEDIATE (_txlock=immediate) and wait on
  a busy timeout, so concurrent writers queue instead of failing with
  SQLITE_BUSY. ":memory:" databases are pinned to one connection because
  each SQLite connection would otherwise see its own empty database.

USAGE:
  store, err := sqlite.New("./data/bakery.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - docstore/store.go: Interface definitions
  - docstore/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/bakery-ops/docstore"
)

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store implements docstore.TxStore using SQLite.
type Store struct {
	db *sqlx.DB

	// Now supplies server timestamps. Defaults to time.Now.
	Now func() time.Time
}

var _ docstore.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, Now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return docstore.Wrap("ping", "", s.db.PingContext(ctx), true)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at TEXT NOT NULL,
		last_updated TEXT,
		UNIQUE(collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_collection_created
		ON documents(collection, created_at);
	`

	var appendOnly []string
	for _, coll := range docstore.AllCollections() {
		opts := docstore.OptionsFor(coll)
		for _, field := range opts.Unique {
			schema += fmt.Sprintf(`
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_%s_%s
		ON documents(json_extract(data, '$.%s'))
		WHERE collection = '%s' AND json_extract(data, '$.%s') <> '';
	`, coll, field, field, coll, field)
		}
		if opts.AppendOnly {
			appendOnly = append(appendOnly, "'"+string(coll)+"'")
		}
	}

	if len(appendOnly) > 0 {
		in := strings.Join(appendOnly, ", ")
		schema += fmt.Sprintf(`
	CREATE TRIGGER IF NOT EXISTS trg_append_only_update
		BEFORE UPDATE ON documents WHEN OLD.collection IN (%s)
	BEGIN
		SELECT RAISE(ABORT, 'append-only collection');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_append_only_delete
		BEFORE DELETE ON documents WHEN OLD.collection IN (%s)
	BEGIN
		SELECT RAISE(ABORT, 'append-only collection');
	END;
	`, in, in)
	}

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// DOCUMENT STORE (docstore.Store interface)
// =============================================================================

func (s *Store) Create(ctx context.Context, coll docstore.Collection, doc docstore.Document) (string, error) {
	id := uuid.NewString()
	return id, s.insert(ctx, s.db, coll, id, doc)
}

func (s *Store) CreateWithID(ctx context.Context, coll docstore.Collection, id string, doc docstore.Document) error {
	return s.insert(ctx, s.db, coll, id, doc)
}

func (s *Store) Get(ctx context.Context, coll docstore.Collection, id string) (*docstore.Record, error) {
	return s.get(ctx, s.db, coll, id)
}

func (s *Store) List(ctx context.Context, coll docstore.Collection, q docstore.Query) ([]docstore.Record, error) {
	return s.list(ctx, s.db, coll, q)
}

func (s *Store) Update(ctx context.Context, coll docstore.Collection, id string, fields docstore.Document) error {
	return s.update(ctx, s.db, coll, id, fields)
}

func (s *Store) Delete(ctx context.Context, coll docstore.Collection, id string) error {
	return s.delete(ctx, s.db, coll, id)
}

func (s *Store) Increment(ctx context.Context, coll docstore.Collection, id, field string, delta int64, bound docstore.Bound) (int64, error) {
	return s.increment(ctx, s.db, coll, id, field, delta, bound)
}

// =============================================================================
// TRANSACTIONAL STORE (docstore.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store docstore.Store) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin", "", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}

	return classify("commit", "", sqlTx.Commit())
}

type txStore struct {
	tx     *sqlx.Tx
	parent *Store
}

func (ts *txStore) Create(ctx context.Context, coll docstore.Collection, doc docstore.Document) (string, error) {
	id := uuid.NewString()
	return id, ts.parent.insert(ctx, ts.tx, coll, id, doc)
}

func (ts *txStore) CreateWithID(ctx context.Context, coll docstore.Collection, id string, doc docstore.Document) error {
	return ts.parent.insert(ctx, ts.tx, coll, id, doc)
}

func (ts *txStore) Get(ctx context.Context, coll docstore.Collection, id string) (*docstore.Record, error) {
	return ts.parent.get(ctx, ts.tx, coll, id)
}

func (ts *txStore) List(ctx context.Context, coll docstore.Collection, q docstore.Query) ([]docstore.Record, error) {
	return ts.parent.list(ctx, ts.tx, coll, q)
}

func (ts *txStore) Update(ctx context.Context, coll docstore.Collection, id string, fields docstore.Document) error {
	return ts.parent.update(ctx, ts.tx, coll, id, fields)
}

func (ts *txStore) Delete(ctx context.Context, coll docstore.Collection, id string) error {
	return ts.parent.delete(ctx, ts.tx, coll, id)
}

func (ts *txStore) Increment(ctx context.Context, coll docstore.Collection, id, field string, delta int64, bound docstore.Bound) (int64, error) {
	return ts.parent.increment(ctx, ts.tx, coll, id, field, delta, bound)
}

// =============================================================================
// SHARED IMPLEMENTATION (runs on *sqlx.DB or *sqlx.Tx)
// =============================================================================

type documentRow struct {
	Seq         int64          `db:"seq"`
	Collection  string         `db:"collection"`
	ID          string         `db:"id"`
	Data        string         `db:"data"`
	CreatedAt   string         `db:"created_at"`
	LastUpdated sql.NullString `db:"last_updated"`
}

const selectColumns = `seq, collection, id, data, created_at, last_updated`

func (s *Store) insert(ctx context.Context, db sqlx.ExtContext, coll docstore.Collection, id string, doc docstore.Document) error {
	data, err := encode(doc)
	if err != nil {
		return docstore.Wrap("create", coll, err, false)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, created_at) VALUES (?, ?, ?, ?)`,
		string(coll), id, data, s.now(),
	)
	return classify("create", coll, err)
}

func (s *Store) get(ctx context.Context, db sqlx.ExtContext, coll docstore.Collection, id string) (*docstore.Record, error) {
	var row documentRow
	err := sqlx.GetContext(ctx, db, &row,
		`SELECT `+selectColumns+` FROM documents WHERE collection = ? AND id = ?`,
		string(coll), id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get", coll, err)
	}
	return row.record()
}

func (s *Store) list(ctx context.Context, db sqlx.ExtContext, coll docstore.Collection, q docstore.Query) ([]docstore.Record, error) {
	conditions := []string{"collection = ?"}
	args := []any{string(coll)}

	for _, f := range q.Where {
		if f.Field == docstore.FieldID {
			conditions = append(conditions, "id = ?")
			args = append(args, fmt.Sprint(f.Value))
			continue
		}
		if !fieldName.MatchString(f.Field) {
			return nil, docstore.Wrap("list", coll, fmt.Errorf("invalid field name %q", f.Field), false)
		}
		conditions = append(conditions, "json_extract(data, ?) = ?")
		args = append(args, "$."+f.Field, bindValue(f.Value))
	}

	query := `SELECT ` + selectColumns + ` FROM documents WHERE ` + strings.Join(conditions, " AND ")

	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	switch q.OrderBy {
	case "":
		query += " ORDER BY seq " + dir
	case docstore.FieldCreatedAt:
		query += fmt.Sprintf(" ORDER BY created_at %s, seq %s", dir, dir)
	case docstore.FieldLastUpdated:
		query += fmt.Sprintf(" ORDER BY last_updated %s, seq %s", dir, dir)
	default:
		if !fieldName.MatchString(q.OrderBy) {
			return nil, docstore.Wrap("list", coll, fmt.Errorf("invalid order field %q", q.OrderBy), false)
		}
		query += fmt.Sprintf(" ORDER BY json_extract(data, ?) %s, seq %s", dir, dir)
		args = append(args, "$."+q.OrderBy)
	}
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	var rows []documentRow
	if err := sqlx.SelectContext(ctx, db, &rows, query, args...); err != nil {
		return nil, classify("list", coll, err)
	}

	records := make([]docstore.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

func (s *Store) update(ctx context.Context, db sqlx.ExtContext, coll docstore.Collection, id string, fields docstore.Document) error {
	if docstore.OptionsFor(coll).AppendOnly {
		return fmt.Errorf("update %s/%s: %w", coll, id, docstore.ErrAppendOnly)
	}
	patch, err := encode(fields)
	if err != nil {
		return docstore.Wrap("update", coll, err, false)
	}

	res, err := db.ExecContext(ctx,
		`UPDATE documents SET data = json_patch(data, ?), last_updated = ?
		 WHERE collection = ? AND id = ?`,
		patch, s.now(), string(coll), id,
	)
	if err != nil {
		return classify("update", coll, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update %s/%s: %w", coll, id, docstore.ErrNotFound)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, db sqlx.ExtContext, coll docstore.Collection, id string) error {
	if docstore.OptionsFor(coll).AppendOnly {
		return fmt.Errorf("delete %s/%s: %w", coll, id, docstore.ErrAppendOnly)
	}
	res, err := db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, string(coll), id)
	if err != nil {
		return classify("delete", coll, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete %s/%s: %w", coll, id, docstore.ErrNotFound)
	}
	return nil
}

func (s *Store) increment(ctx context.Context, db sqlx.ExtContext, coll docstore.Collection, id, field string, delta int64, bound docstore.Bound) (int64, error) {
	if docstore.OptionsFor(coll).AppendOnly {
		return 0, fmt.Errorf("increment %s/%s: %w", coll, id, docstore.ErrAppendOnly)
	}
	if !fieldName.MatchString(field) {
		return 0, docstore.Wrap("increment", coll, fmt.Errorf("invalid field name %q", field), false)
	}
	path := "$." + field

	query := `
		UPDATE documents
		SET data = json_set(data, ?, COALESCE(json_extract(data, ?), 0) + ?),
		    last_updated = ?
		WHERE collection = ? AND id = ?`
	args := []any{path, path, delta, s.now(), string(coll), id}

	floor, bounded := bound.Min()
	if bounded {
		query += ` AND COALESCE(json_extract(data, ?), 0) + ? >= ?`
		args = append(args, path, delta, floor)
	}
	query += ` RETURNING json_extract(data, ?)`
	args = append(args, path)

	var next int64
	err := sqlx.GetContext(ctx, db, &next, query, args...)
	if err == nil {
		return next, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, classify("increment", coll, err)
	}

	// No row updated: either missing or the bound rejected it.
	var current sql.NullInt64
	err = sqlx.GetContext(ctx, db, &current,
		`SELECT json_extract(data, ?) FROM documents WHERE collection = ? AND id = ?`,
		path, string(coll), id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("increment %s/%s: %w", coll, id, docstore.ErrNotFound)
	}
	if err != nil {
		return 0, classify("increment", coll, err)
	}
	return current.Int64, &docstore.ConditionError{
		Collection: coll, ID: id, Field: field,
		Current: current.Int64, Delta: delta, Min: floor,
	}
}

func (s *Store) now() string {
	return s.Now().UTC().Format(timeLayout)
}

// =============================================================================
// HELPERS
// =============================================================================

func (r documentRow) record() (*docstore.Record, error) {
	data, err := docstore.Decode([]byte(r.Data))
	if err != nil {
		return nil, docstore.Wrap("decode", docstore.Collection(r.Collection), err, false)
	}
	rec := &docstore.Record{
		ID:         r.ID,
		Collection: docstore.Collection(r.Collection),
		Seq:        r.Seq,
		Data:       data,
	}
	rec.CreatedAt, _ = time.Parse(timeLayout, r.CreatedAt)
	if r.LastUpdated.Valid {
		t, _ := time.Parse(timeLayout, r.LastUpdated.String)
		rec.LastUpdated = &t
	}
	return rec, nil
}

func encode(doc docstore.Document) (string, error) {
	canonical, err := docstore.Canonical(doc)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// bindValue converts a filter value to what json_extract returns for it.
func bindValue(v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case decimal.Decimal:
		return t.String()
	case int:
		return int64(t)
	case fmt.Stringer:
		return t.String()
	default:
		return v
	}
}

func classify(op string, coll docstore.Collection, err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%s %s: %w", op, coll, docstore.ErrDuplicateKey)
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintTrigger:
			return fmt.Errorf("%s %s: %w", op, coll, docstore.ErrAppendOnly)
		case sqliteErr.Code == sqlite3.ErrBusy, sqliteErr.Code == sqlite3.ErrLocked,
			sqliteErr.Code == sqlite3.ErrInterrupt:
			return docstore.Wrap(op, coll, err, true)
		}
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return docstore.Wrap(op, coll, err, true)
	}
	return docstore.Wrap(op, coll, err, false)
}
