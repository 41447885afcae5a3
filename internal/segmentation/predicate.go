package segmentation

import (
	"reflect"

	"github.com/ignite/audience-engine/internal/pkg/logger"
)

// Predicate is a compiled rule tree. The concrete types are MatchAll,
// Comparison, Membership and Junction.
type Predicate interface {
	isPredicate()
}

// MatchAll matches every customer.
type MatchAll struct{}

// Comparison compares one attribute against a value. Value2 is only set for
// between. FellBack marks a leaf whose operator was unknown and compiled as
// equals.
type Comparison struct {
	Field    string
	Op       Operator
	Value    any
	Value2   any
	FellBack bool
}

// Membership tests an attribute against a set of values.
type Membership struct {
	Field  string
	Values []any
	Negate bool
}

// Junction combines two or more operands.
type Junction struct {
	Conjunction Conjunction
	Operands    []Predicate
}

func (MatchAll) isPredicate()   {}
func (Comparison) isPredicate() {}
func (Membership) isPredicate() {}
func (Junction) isPredicate()   {}

// Compile validates g and turns it into a Predicate. A group without children
// compiles to MatchAll and a group with one child compiles to that child.
func Compile(g RuleGroup) (Predicate, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return compileGroup(g), nil
}

// CompileRule validates and compiles a single leaf.
func CompileRule(r Rule) (Predicate, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return compileRule(r), nil
}

func compileGroup(g RuleGroup) Predicate {
	operands := make([]Predicate, 0, len(g.Rules)+len(g.Groups))
	for _, r := range g.Rules {
		operands = append(operands, compileRule(r))
	}
	for _, sub := range g.Groups {
		operands = append(operands, compileGroup(sub))
	}

	switch len(operands) {
	case 0:
		return MatchAll{}
	case 1:
		return operands[0]
	}
	conj, _ := g.conjunction()
	return Junction{Conjunction: conj, Operands: operands}
}

func compileRule(r Rule) Predicate {
	switch r.Operator {
	case OpIn, OpNotIn:
		return Membership{Field: r.Field, Values: asSet(r.Value), Negate: r.Operator == OpNotIn}
	case OpBetween:
		return Comparison{Field: r.Field, Op: OpBetween, Value: r.Value, Value2: r.Value2}
	case OpEquals, OpNotEquals, OpContains, OpGreaterThan, OpLessThan:
		return Comparison{Field: r.Field, Op: r.Operator, Value: r.Value}
	}
	logger.Warn("unknown rule operator, compiling as equals", "field", r.Field, "operator", string(r.Operator))
	return Comparison{Field: r.Field, Op: OpEquals, Value: r.Value, FellBack: true}
}

// asSet coerces a rule value to a set; scalars become singletons.
func asSet(v any) []any {
	if v == nil {
		return nil
	}
	switch vals := v.(type) {
	case []any:
		return vals
	case []string:
		out := make([]any, len(vals))
		for i, s := range vals {
			out[i] = s
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []any{v}
}
