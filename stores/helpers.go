// Package stores provides policy source implementations for the rule
// engine: SQL (squealx), declarative YAML/JSON documents, in-memory, and
// a Redis-backed access-list resolver.
package stores

import (
	"time"

	"github.com/oarkflow/date"

	secrules "github.com/end2endlogic-com/quantum-framework-sub001"
)

// parseFlexibleTime accepts the timestamp formats different drivers hand
// back for the same column.
func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanTime(raw any) time.Time {
	switch v := raw.(type) {
	case time.Time:
		return v
	case string:
		if t, err := parseFlexibleTime(v); err == nil {
			return t
		}
	case []byte:
		if t, err := parseFlexibleTime(string(v)); err == nil {
			return t
		}
	}
	return time.Time{}
}

// effectiveJoinOp maps a stored join-op string onto the engine type,
// defaulting to AND the way the rule model does.
func effectiveJoinOp(s string) secrules.JoinOp {
	if secrules.JoinOp(s) == secrules.JoinOr {
		return secrules.JoinOr
	}
	return secrules.JoinAnd
}
