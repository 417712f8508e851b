package secrules

import (
	"fmt"
	"strings"
)

// Filter is a query predicate handed to the persistence layer. The
// engine only composes filters and never interprets them; String() is
// the canonical rendering and doubles as the de-duplication key.
type Filter interface {
	String() string
}

// FieldFilter constrains a single field to a value. Numeric values
// render without quoting so the downstream grammar can tell them apart
// from strings.
type FieldFilter struct {
	Field string
	Value any
}

func (f *FieldFilter) String() string {
	return f.Field + ":" + renderValue(f.Value)
}

// InFilter constrains a field to a set of values, typically contributed
// by an access-list resolver.
type InFilter struct {
	Field  string
	Values []any
}

func (f *InFilter) String() string {
	parts := make([]string, 0, len(f.Values))
	for _, v := range f.Values {
		parts = append(parts, renderValue(v))
	}
	return f.Field + ":[" + strings.Join(parts, ",") + "]"
}

// AndGroup is the conjunction of its members.
type AndGroup struct {
	Filters []Filter
}

func (g *AndGroup) String() string { return renderGroup("and", g.Filters) }

// OrGroup is the disjunction of its members.
type OrGroup struct {
	Filters []Filter
}

func (g *OrGroup) String() string { return renderGroup("or", g.Filters) }

// And wraps filters into a single conjunction.
func And(filters ...Filter) Filter {
	return &AndGroup{Filters: filters}
}

// Or wraps filters into a single disjunction.
func Or(filters ...Filter) Filter {
	return &OrGroup{Filters: filters}
}

func renderGroup(op string, filters []Filter) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		parts = append(parts, f.String())
	}
	return op + "(" + strings.Join(parts, ", ") + ")"
}

func renderValue(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case int, int32, int64, float32, float64:
		return fmt.Sprintf("#%v", vv)
	default:
		return fmt.Sprint(vv)
	}
}

// dedupeFilters drops filters whose rendering has already been seen.
// De-duplication is by string representation: two structurally equal
// filters that render differently are kept as distinct.
func dedupeFilters(filters []Filter) []Filter {
	seen := make(map[string]struct{}, len(filters))
	out := make([]Filter, 0, len(filters))
	for _, f := range filters {
		key := f.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	return out
}
