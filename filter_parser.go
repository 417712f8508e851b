package secrules

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FilterParser turns one stored filter fragment into a Filter. The
// default implementation below covers the fragment subset rules are
// written in; hosts with a richer query grammar plug their own parser in
// through WithFilterParser.
type FilterParser interface {
	Parse(fragment string, vars *VariableBundle) (Filter, error)
}

var (
	ErrEmptyFilterString  = errors.New("empty filter string")
	ErrUnparsableFragment = errors.New("unparsable filter fragment")
)

// fragmentParser parses fragments of the form
//
//	field:value && field:#0 || field:[a,b,${ids}]
//
// after ${name} substitution. '&&' binds tighter than '||'. A '#'
// prefix marks a numeric literal; bracketed values become membership
// filters. This intentionally supports the patterns stored policies
// actually use while keeping parsing simple and deterministic.
type fragmentParser struct{}

// NewFragmentParser returns the default filter-string parser.
func NewFragmentParser() FilterParser { return fragmentParser{} }

func (fragmentParser) Parse(fragment string, vars *VariableBundle) (Filter, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil, ErrEmptyFilterString
	}
	if vars != nil {
		fragment = vars.Substitute(fragment)
	}

	orParts := strings.Split(fragment, "||")
	orFilters := make([]Filter, 0, len(orParts))
	for _, orPart := range orParts {
		andParts := strings.Split(orPart, "&&")
		andFilters := make([]Filter, 0, len(andParts))
		for _, term := range andParts {
			f, err := parseTerm(term)
			if err != nil {
				return nil, err
			}
			andFilters = append(andFilters, f)
		}
		if len(andFilters) == 1 {
			orFilters = append(orFilters, andFilters[0])
		} else {
			orFilters = append(orFilters, And(andFilters...))
		}
	}
	if len(orFilters) == 1 {
		return orFilters[0], nil
	}
	return Or(orFilters...), nil
}

func parseTerm(term string) (Filter, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, fmt.Errorf("%w: empty term", ErrUnparsableFragment)
	}
	idx := strings.Index(term, ":")
	if idx <= 0 {
		return nil, fmt.Errorf("%w: %q has no field separator", ErrUnparsableFragment, term)
	}
	field := strings.TrimSpace(term[:idx])
	raw := strings.TrimSpace(term[idx+1:])
	if raw == "" {
		return nil, fmt.Errorf("%w: %q has no value", ErrUnparsableFragment, term)
	}

	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		inner := raw[1 : len(raw)-1]
		var values []any
		for _, p := range strings.Split(inner, ",") {
			p = strings.TrimSpace(p)
			p = strings.Trim(p, "\"'")
			if p == "" {
				continue
			}
			values = append(values, parseValue(p))
		}
		return &InFilter{Field: field, Values: values}, nil
	}
	return &FieldFilter{Field: field, Value: parseValue(raw)}, nil
}

// parseValue applies the numeric-literal marker convention: '#' prefixes
// a number, everything else stays a string.
func parseValue(raw string) any {
	if strings.HasPrefix(raw, "#") {
		num := raw[1:]
		if i, err := strconv.ParseInt(num, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(num, 64); err == nil {
			return f
		}
	}
	return raw
}
