/*
Package schema validates and coerces raw documents before they reach the store.

PURPOSE:
  Every write into the document store passes through Normalize (full
  records) or NormalizePartial (field updates). The normalizer is the one
  place that knows each entity's required fields, value types and
  reference conventions.

WHAT IT DOES:
  1. Required fields: presence and non-null. ALL missing fields are
     reported together in a *ValidationError.
  2. Coercion: trimmed strings, int64 counts, decimal amounts, booleans,
     timestamps (RFC3339 or YYYY-MM-DD), calendar days ("2006-01-02").
  3. References: productId / oilBatchId on product batches and log
     actions are stored as "/{collection}/{id}".
  4. Acronym keys: inventory and retail requests key products by acronym.
     A reference path in those fields is rejected.
  5. Semantic rules (go-playground/validator): positive amounts, enums,
     email format, remainingGrams <= amountGrams.

UNKNOWN FIELDS:
  Normalize passes unknown fields through untouched. NormalizePartial
  rejects them, and rejects fields owned by the inventory ledger
  (totalAvailable, remainingQuantity).

USAGE:
  doc, err := schema.Normalize(schema.KindOilBatch, raw)
  var verr *schema.ValidationError
  if errors.As(err, &verr) {
      fmt.Println(verr.Missing)
  }

SEE ALSO:
  - schema/kinds.go: Field tables per entity kind
  - bakery/repository.go: Calls Normalize on every write
*/
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/bakery-ops/docstore"
)

// DayLayout is the calendar-day format used by dateStr and log dates.
const DayLayout = "2006-01-02"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// =============================================================================
// NORMALIZE
// =============================================================================

// Normalize validates a complete record of the given kind and returns its
// coerced form. The input is not modified.
func Normalize(kind Kind, raw docstore.Document) (docstore.Document, error) {
	def, ok := kinds[kind]
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}

	verr := &ValidationError{Kind: kind}
	out := make(docstore.Document, len(raw))
	for k, v := range raw {
		switch k {
		case docstore.FieldID, docstore.FieldCreatedAt, docstore.FieldLastUpdated:
			continue
		}
		out[k] = v
	}
	for alias, field := range def.aliases {
		if v, ok := out[alias]; ok {
			if _, has := out[field]; !has {
				out[field] = v
			}
			delete(out, alias)
		}
	}

	for _, f := range def.fields {
		v, present := out[f.Name]
		if !present || v == nil {
			if f.Required {
				verr.Missing = append(verr.Missing, f.Name)
			}
			delete(out, f.Name)
			continue
		}
		coerced, reason := f.coerce(v)
		if reason != "" {
			verr.invalid(f.Name, reason)
			continue
		}
		if reason := f.check(coerced); reason != "" {
			verr.invalid(f.Name, reason)
			continue
		}
		out[f.Name] = coerced
	}

	if def.crossCheck != nil {
		def.crossCheck(out, verr)
	}

	if !verr.empty() {
		return nil, verr
	}
	return out, nil
}

// NormalizePartial validates the fields of an update. Unknown and
// ledger-owned fields are rejected; required fields cannot be cleared.
func NormalizePartial(kind Kind, fields docstore.Document) (docstore.Document, error) {
	def, ok := kinds[kind]
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}

	verr := &ValidationError{Kind: kind}
	out := make(docstore.Document, len(fields))

	for _, name := range sortedKeys(fields) {
		v := fields[name]
		if target, ok := def.aliases[name]; ok {
			name = target
		}
		if def.ledgerOwned[name] {
			verr.invalid(name, "owned by the inventory ledger")
			continue
		}
		f, ok := def.field(name)
		if !ok {
			verr.invalid(name, "unknown field")
			continue
		}
		if v == nil {
			if f.Required {
				verr.invalid(name, "required field cannot be cleared")
			}
			continue
		}
		coerced, reason := f.coerce(v)
		if reason == "" {
			reason = f.check(coerced)
		}
		if reason != "" {
			verr.invalid(name, reason)
			continue
		}
		out[name] = coerced
	}

	if !verr.empty() {
		return nil, verr
	}
	return out, nil
}

// CheckImmutable rejects a normalized patch that changes a field fixed at
// creation. Sending the current value back is allowed.
func CheckImmutable(kind Kind, current, patch docstore.Document) error {
	def, ok := kinds[kind]
	if !ok || len(def.immutable) == 0 {
		return nil
	}
	verr := &ValidationError{Kind: kind}
	for _, name := range sortedKeys(patch) {
		if !def.immutable[name] {
			continue
		}
		if !reflect.DeepEqual(current[name], patch[name]) {
			verr.invalid(name, "cannot be changed once created")
		}
	}
	if !verr.empty() {
		return verr
	}
	return nil
}

func sortedKeys(doc docstore.Document) []string {
	names := make([]string, 0, len(doc))
	for k := range doc {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// FIELD COERCION
// =============================================================================

type valueType int

const (
	typeString valueType = iota
	typeInt
	typeDecimal
	typeBool
	typeTime
	typeDay
	typeRef     // canonical "/{collection}/{id}"
	typeAcronym // bare product acronym
	typeActions
)

type field struct {
	Name     string
	Type     valueType
	Required bool
	Rule     string              // validator tag applied after coercion
	Ref      docstore.Collection // for typeRef
}

func (f field) coerce(v any) (any, string) {
	switch f.Type {
	case typeString:
		return toString(v)
	case typeInt:
		return toInt(v)
	case typeDecimal:
		return toDecimal(v)
	case typeBool:
		return toBool(v)
	case typeTime:
		return toTime(v)
	case typeDay:
		return toDay(v)
	case typeRef:
		s, reason := toString(v)
		if reason != "" {
			return nil, reason
		}
		return canonicalRef(s.(string), f.Ref)
	case typeAcronym:
		s, reason := toString(v)
		if reason != "" {
			return nil, reason
		}
		if strings.Contains(s.(string), "/") {
			return nil, "must be a product acronym, not a reference path"
		}
		return s, ""
	case typeActions:
		return toActions(v)
	}
	return nil, "unsupported field type"
}

func (f field) check(v any) string {
	if f.Rule == "" {
		return ""
	}
	if err := validate.Var(v, f.Rule); err != nil {
		return "failed rule " + f.Rule
	}
	return ""
}

func toString(v any) (any, string) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), ""
	case json.Number:
		return t.String(), ""
	case bool, int, int64, float64:
		return fmt.Sprint(t), ""
	case fmt.Stringer:
		return strings.TrimSpace(t.String()), ""
	}
	return nil, "must be a string"
}

func toInt(v any) (any, string) {
	switch t := v.(type) {
	case int:
		return int64(t), ""
	case int64:
		return t, ""
	case float64:
		if t != math.Trunc(t) {
			return nil, "must be a whole number"
		}
		return int64(t), ""
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, ""
		}
		return toInt(string(t))
	case string:
		s := strings.TrimSpace(t)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, ""
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return toInt(f)
		}
	}
	return nil, "must be a whole number"
}

func toDecimal(v any) (any, string) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, ""
	case int:
		return decimal.NewFromInt(int64(t)), ""
	case int64:
		return decimal.NewFromInt(t), ""
	case float64:
		return decimal.NewFromFloat(t), ""
	case json.Number:
		return toDecimal(string(t))
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		if err == nil {
			return d, ""
		}
	}
	return nil, "must be a number"
}

func toBool(v any) (any, string) {
	switch t := v.(type) {
	case bool:
		return t, ""
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b, ""
		}
	case json.Number:
		f, err := t.Float64()
		if err == nil {
			return f != 0, ""
		}
	case int:
		return t != 0, ""
	case int64:
		return t != 0, ""
	case float64:
		return t != 0, ""
	}
	return nil, "must be a boolean"
}

func toTime(v any) (any, string) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), ""
	case *time.Time:
		if t != nil {
			return t.UTC(), ""
		}
	case string:
		if ts, ok := ParseTime(t); ok {
			return ts, ""
		}
	}
	return nil, "must be an RFC3339 timestamp or YYYY-MM-DD date"
}

func toDay(v any) (any, string) {
	ts, reason := toTime(v)
	if reason != "" {
		return nil, "must be a YYYY-MM-DD date"
	}
	return ts.(time.Time).Format(DayLayout), ""
}

// ParseTime accepts RFC3339 timestamps and YYYY-MM-DD dates.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), true
	}
	if ts, err := time.Parse(DayLayout, s); err == nil {
		return ts, true
	}
	return time.Time{}, false
}

var actionFields = []field{
	{Name: "productId", Type: typeRef, Ref: docstore.Products},
	{Name: "oilBatchId", Type: typeRef, Ref: docstore.OilBatches},
	{Name: "batchId", Type: typeString},
	{Name: "quantity", Type: typeInt, Rule: "gt=0"},
	{Name: "userId", Type: typeString},
}

func toActions(v any) (any, string) {
	items, ok := v.([]any)
	if !ok {
		if maps, isMaps := v.([]map[string]any); isMaps {
			for _, m := range maps {
				items = append(items, m)
			}
			ok = true
		}
	}
	if !ok {
		return nil, "must be a list of actions"
	}

	out := make([]any, 0, len(items))
	for i, item := range items {
		var action map[string]any
		switch t := item.(type) {
		case map[string]any:
			action = t
		case docstore.Document:
			action = t
		default:
			return nil, fmt.Sprintf("action %d must be an object", i)
		}
		clean := make(map[string]any, len(action))
		for k, val := range action {
			clean[k] = val
		}
		for _, f := range actionFields {
			val, present := clean[f.Name]
			if !present || val == nil {
				continue
			}
			coerced, reason := f.coerce(val)
			if reason == "" {
				reason = f.check(coerced)
			}
			if reason != "" {
				return nil, fmt.Sprintf("action %d %s: %s", i, f.Name, reason)
			}
			clean[f.Name] = coerced
		}
		out = append(out, clean)
	}
	return out, ""
}

// =============================================================================
// REFERENCES
// =============================================================================

// RefPath returns the canonical reference path for a document id.
func RefPath(coll docstore.Collection, id string) string {
	if id == "" {
		return ""
	}
	return "/" + string(coll) + "/" + id
}

// RefID resolves a bare id or canonical path into a document id of coll.
// ok is false when the value points into a different collection.
func RefID(coll docstore.Collection, value string) (string, bool) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "/") {
		return value, !strings.Contains(value, "/")
	}
	prefix := "/" + string(coll) + "/"
	if !strings.HasPrefix(value, prefix) {
		return "", false
	}
	id := strings.TrimPrefix(value, prefix)
	return id, id != "" && !strings.Contains(id, "/")
}

func canonicalRef(value string, coll docstore.Collection) (any, string) {
	if value == "" {
		return "", ""
	}
	id, ok := RefID(coll, value)
	if !ok {
		return nil, fmt.Sprintf("must reference /%s/{id}", coll)
	}
	return RefPath(coll, id), ""
}
