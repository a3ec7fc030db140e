// Package query filters, sorts and collates tracked files by their front
// matter. It only reads snapshots handed out by the index.
package query

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidQuery is returned for query values that are neither scalars
// nor lists of scalars.
var ErrInvalidQuery = errors.New("invalid query")

// Query selects files by front matter. Each key of Match must be present
// in a file's front matter. A scalar must equal the stored value. A list
// must be contained in the stored list, or with Intersect share at least
// one element with it (an empty list then matches any list).
//
// The zero Query matches every file, including files without front
// matter; any non-empty Query skips them.
type Query struct {
	Match     map[string]any `json:"map" msgpack:"map"`
	Intersect bool           `json:"intersect" msgpack:"intersect"`
}

// Validate rejects values that cannot be compared
func (q Query) Validate() error {
	for key, v := range q.Match {
		if list, ok := v.([]any); ok {
			for _, item := range list {
				if !isScalar(item) {
					return fmt.Errorf("%w: %q holds a nested value", ErrInvalidQuery, key)
				}
			}
			continue
		}
		if !isScalar(v) {
			return fmt.Errorf("%w: %q must be a scalar or a list of scalars", ErrInvalidQuery, key)
		}
	}
	return nil
}

// Matches reports whether front matter fm satisfies q
func (q Query) Matches(fm map[string]any) bool {
	if fm == nil {
		return len(q.Match) == 0
	}
	for key, want := range q.Match {
		have, ok := fm[key]
		if !ok {
			return false
		}
		if !q.matchValue(want, have) {
			return false
		}
	}
	return true
}

func (q Query) matchValue(want, have any) bool {
	list, ok := want.([]any)
	if !ok {
		return scalarEqual(want, have)
	}
	haveList, ok := have.([]any)
	if !ok {
		return false
	}

	if q.Intersect {
		if len(list) == 0 {
			return true
		}
		for _, w := range list {
			if contains(haveList, w) {
				return true
			}
		}
		return false
	}

	for _, w := range list {
		if !contains(haveList, w) {
			return false
		}
	}
	return true
}

func contains(list []any, want any) bool {
	for _, h := range list {
		if scalarEqual(want, h) {
			return true
		}
	}
	return false
}

// scalarEqual compares two scalars. Numbers are equal when their values
// are, whatever their Go types.
func scalarEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

func isScalar(v any) bool {
	if _, ok := toFloat(v); ok {
		return true
	}
	switch v.(type) {
	case nil, string, bool:
		return true
	}
	return false
}

// toFloat widens any numeric type produced by the YAML, JSON or msgpack
// decoders.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		if math.IsNaN(n) {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
