package models

import (
	"fmt"
	"regexp"
)

// Operator is a filter comparison. Only exact match is supported.
type Operator string

// Equal matches properties whose value equals Filter.Value exactly.
const Equal Operator = "Equal"

var fieldNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Filter selects records whose Field equals Value. A slice of filters is a conjunction.
type Filter struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
}

// Eq returns an exact-match filter on field.
func Eq(field, value string) Filter {
	return Filter{Field: field, Operator: Equal, Value: value}
}

// Validate checks the field name and operator.
func (f Filter) Validate() error {
	if !fieldNameRe.MatchString(f.Field) {
		return fmt.Errorf("%w: invalid filter field %q", ErrInvalidInput, f.Field)
	}
	if f.Operator != Equal {
		return fmt.Errorf("%w: unsupported operator %q", ErrInvalidInput, f.Operator)
	}
	return nil
}

// ValidateFilters validates every filter and requires at least one.
func ValidateFilters(filters []Filter) error {
	if len(filters) == 0 {
		return fmt.Errorf("%w: at least one filter is required", ErrInvalidInput)
	}
	for _, f := range filters {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidFieldName reports whether name can be used as a property name in filters and projections.
func ValidFieldName(name string) bool {
	return fieldNameRe.MatchString(name)
}
