package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Canonical returns doc in its stored form: the JSON round trip of its
// values, numbers as json.Number. Metadata fields are dropped.
// Both backends store and compare documents in this form.
func Canonical(doc Document) (Document, error) {
	clean := make(Document, len(doc))
	for k, v := range doc {
		switch k {
		case FieldID, FieldCreatedAt, FieldLastUpdated:
			continue
		}
		clean[k] = v
	}
	raw, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return Decode(raw)
}

// Decode parses a stored JSON body.
func Decode(raw []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	out := Document{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

// DeepCopy copies a canonical document including nested maps and slices.
func DeepCopy(doc Document) Document {
	if doc == nil {
		return nil
	}
	return copyValue(map[string]any(doc)).(map[string]any)
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = copyValue(vv)
		}
		return out
	case Document:
		return Document(copyValue(map[string]any(t)).(map[string]any))
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = copyValue(vv)
		}
		return out
	default:
		return v
	}
}

// Int64 reads an integer field from a canonical document. A missing field is zero.
func Int64(doc Document, field string) (int64, error) {
	v, ok := doc[field]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("field %s is not an integer: %w", field, err)
		}
		return i, nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("field %s is not an integer (%T)", field, v)
	}
}

// ValuesEqual compares a filter value with a stored value by their JSON encodings.
func ValuesEqual(filter, stored any) bool {
	a, errA := json.Marshal(filter)
	b, errB := json.Marshal(stored)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(normalizeScalar(a), normalizeScalar(b))
}

// normalizeScalar unquotes numeric strings so decimal "25" equals number 25.
func normalizeScalar(b []byte) []byte {
	if len(b) >= 2 && b[0] == '"' {
		var s string
		if json.Unmarshal(b, &s) == nil {
			if _, err := json.Number(s).Float64(); err == nil && !strings.ContainsAny(s, " \t") {
				return []byte(s)
			}
		}
	}
	return b
}

// CompareValues orders two stored values: numbers numerically, times and
// strings lexically (RFC3339 sorts correctly), nil first.
func CompareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if na, ok := a.(json.Number); ok {
		if nb, ok := b.(json.Number); ok {
			fa, _ := na.Float64()
			fb, _ := nb.Float64()
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// CompareTimes orders two optional timestamps, nil first.
func CompareTimes(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}
