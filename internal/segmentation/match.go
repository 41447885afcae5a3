package segmentation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Attributes is anything that can resolve a dotted attribute path.
// *domain.Customer implements it.
type Attributes interface {
	Attribute(path string) (any, bool)
}

// Match evaluates p against a in memory. A missing attribute only satisfies
// not_equals and not_in.
func Match(p Predicate, a Attributes) bool {
	switch p := p.(type) {
	case MatchAll:
		return true
	case Comparison:
		return matchComparison(p, a)
	case Membership:
		v, ok := a.Attribute(p.Field)
		found := ok && containsValue(p.Values, v)
		if p.Negate {
			return !found
		}
		return found
	case Junction:
		if p.Conjunction == ConjunctionOr {
			for _, op := range p.Operands {
				if Match(op, a) {
					return true
				}
			}
			return false
		}
		for _, op := range p.Operands {
			if !Match(op, a) {
				return false
			}
		}
		return true
	}
	return false
}

func matchComparison(c Comparison, a Attributes) bool {
	v, ok := a.Attribute(c.Field)
	if !ok {
		return c.Op == OpNotEquals
	}
	switch c.Op {
	case OpEquals:
		return equalValues(v, c.Value)
	case OpNotEquals:
		return !equalValues(v, c.Value)
	case OpContains:
		fold := cases.Fold()
		return strings.Contains(fold.String(toString(v)), fold.String(toString(c.Value)))
	case OpGreaterThan:
		cmp, ok := compareValues(v, c.Value)
		return ok && cmp > 0
	case OpLessThan:
		cmp, ok := compareValues(v, c.Value)
		return ok && cmp < 0
	case OpBetween:
		lo, okLo := compareValues(v, c.Value)
		hi, okHi := compareValues(v, c.Value2)
		return okLo && okHi && lo >= 0 && hi <= 0
	}
	return false
}

func containsValue(set []any, v any) bool {
	for _, candidate := range set {
		if equalValues(v, candidate) {
			return true
		}
	}
	return false
}

func equalValues(attr, want any) bool {
	cmp, ok := compareValues(attr, want)
	if ok {
		return cmp == 0
	}
	return toString(attr) == toString(want)
}

// compareValues orders attr against want. Numbers compare numerically, times
// chronologically and everything else lexically. ok is false when want
// cannot be read as the attribute's type.
func compareValues(attr, want any) (int, bool) {
	if want == nil {
		return 0, false
	}
	if af, ok := asNumber(attr); ok {
		bf, ok := parseNumber(want)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	if at, ok := attr.(time.Time); ok {
		bt, ok := parseTime(want)
		if !ok {
			return 0, false
		}
		return at.Compare(bt), true
	}
	if _, ok := attr.(bool); ok {
		if fmt.Sprint(attr) == toString(want) {
			return 0, true
		}
		return 0, false
	}
	return strings.Compare(toString(attr), toString(want)), true
}

// asNumber accepts only values that are numeric by type.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// parseNumber also accepts numeric strings.
func parseNumber(v any) (float64, bool) {
	if f, ok := asNumber(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return 0, false
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case time.Time:
		return s.Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}
