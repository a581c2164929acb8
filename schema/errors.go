package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation is the sentinel behind every *ValidationError.
var ErrValidation = errors.New("validation failed")

// FieldError describes one field that failed coercion or a semantic rule.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every problem found in a record, not just the first.
type ValidationError struct {
	Kind    Kind
	Missing []string
	Invalid []FieldError
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required field(s): "+strings.Join(e.Missing, ", "))
	}
	for _, fe := range e.Invalid {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Reason))
	}
	return fmt.Sprintf("%s %s", e.Kind.Label(), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Fields returns every offending field name, missing ones first.
func (e *ValidationError) Fields() []string {
	out := append([]string(nil), e.Missing...)
	for _, fe := range e.Invalid {
		out = append(out, fe.Field)
	}
	return out
}

func (e *ValidationError) empty() bool {
	return len(e.Missing) == 0 && len(e.Invalid) == 0
}

func (e *ValidationError) invalid(field, reason string) {
	e.Invalid = append(e.Invalid, FieldError{Field: field, Reason: reason})
}

// Invalid builds a ValidationError for a single field.
func Invalid(kind Kind, field, reason string) *ValidationError {
	return &ValidationError{Kind: kind, Invalid: []FieldError{{Field: field, Reason: reason}}}
}
