package segmentation

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/ignite/audience-engine/internal/domain"
)

// CustomerColumns is the column list selected for full customer rows.
const CustomerColumns = `c.id, c.first_name, c.last_name, c.email, c.total_spent, c.total_orders,
	c.last_active, c.address_country, c.address_city, c.metadata, c.created_at`

// QueryBuilder renders a Predicate as parameterised Postgres SQL over the
// customers table (aliased c).
type QueryBuilder struct {
	args       []interface{}
	argCounter int
}

// NewQueryBuilder creates a new QueryBuilder
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{
		args:       make([]interface{}, 0),
		argCounter: 1,
	}
}

func (qb *QueryBuilder) reset() {
	qb.args = make([]interface{}, 0)
	qb.argCounter = 1
}

// nextArg returns the next argument placeholder
func (qb *QueryBuilder) nextArg(value interface{}) string {
	qb.args = append(qb.args, value)
	placeholder := fmt.Sprintf("$%d", qb.argCounter)
	qb.argCounter++
	return placeholder
}

// Where renders p as a boolean SQL expression.
func (qb *QueryBuilder) Where(p Predicate) (string, []interface{}, error) {
	qb.reset()
	cond, err := qb.build(p)
	if err != nil {
		return "", nil, err
	}
	return cond, qb.args, nil
}

// BuildIDQuery selects the ids of every matching customer.
func (qb *QueryBuilder) BuildIDQuery(p Predicate) (string, []interface{}, error) {
	where, args, err := qb.Where(p)
	if err != nil {
		return "", nil, err
	}
	return "SELECT c.id FROM customers c\nWHERE " + where + "\nORDER BY c.id", args, nil
}

// BuildQuery selects full customer rows. limit <= 0 means unbounded.
func (qb *QueryBuilder) BuildQuery(p Predicate, limit int) (string, []interface{}, error) {
	where, _, err := qb.Where(p)
	if err != nil {
		return "", nil, err
	}
	query := "SELECT " + CustomerColumns + "\nFROM customers c\nWHERE " + where + "\nORDER BY c.id"
	if limit > 0 {
		query += "\nLIMIT " + qb.nextArg(limit)
	}
	return query, qb.args, nil
}

// BuildCountQuery builds a COUNT query for estimation
func (qb *QueryBuilder) BuildCountQuery(p Predicate) (string, []interface{}, error) {
	where, args, err := qb.Where(p)
	if err != nil {
		return "", nil, err
	}
	return "SELECT COUNT(*) FROM customers c\nWHERE " + where, args, nil
}

func (qb *QueryBuilder) build(p Predicate) (string, error) {
	switch p := p.(type) {
	case MatchAll:
		return "TRUE", nil
	case Comparison:
		return qb.buildComparison(p)
	case Membership:
		return qb.buildMembership(p)
	case Junction:
		parts := make([]string, 0, len(p.Operands))
		for _, op := range p.Operands {
			sql, err := qb.build(op)
			if err != nil {
				return "", err
			}
			if _, nested := op.(Junction); nested {
				sql = "(" + sql + ")"
			}
			parts = append(parts, sql)
		}
		operator := " AND "
		if p.Conjunction == ConjunctionOr {
			operator = " OR "
		}
		return strings.Join(parts, operator), nil
	}
	return "", fmt.Errorf("unsupported predicate %T", p)
}

func (qb *QueryBuilder) buildComparison(c Comparison) (string, error) {
	spec, ok := lookupField(c.Field)
	if !ok {
		return "", &domain.ValidationError{Field: c.Field, Reason: "is not a customer attribute"}
	}

	if c.Op == OpContains {
		col := spec.Column
		if spec.Kind != kindString && spec.Kind != kindDynamic {
			col = col + "::text"
		}
		return fmt.Sprintf("%s ILIKE %s", col, qb.nextArg("%"+escapeLike(toString(c.Value))+"%")), nil
	}

	col, val, err := bindValue(spec, c.Field, c.Value)
	if err != nil {
		return "", err
	}
	switch c.Op {
	case OpEquals:
		return fmt.Sprintf("%s = %s", col, qb.nextArg(val)), nil
	case OpNotEquals:
		return fmt.Sprintf("%s IS DISTINCT FROM %s", col, qb.nextArg(val)), nil
	case OpGreaterThan:
		return fmt.Sprintf("%s > %s", col, qb.nextArg(val)), nil
	case OpLessThan:
		return fmt.Sprintf("%s < %s", col, qb.nextArg(val)), nil
	case OpBetween:
		_, hi, err := bindValue(spec, c.Field, c.Value2)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", col, qb.nextArg(val), qb.nextArg(hi)), nil
	}
	return "", fmt.Errorf("unsupported operator: %s", c.Op)
}

func (qb *QueryBuilder) buildMembership(m Membership) (string, error) {
	spec, ok := lookupField(m.Field)
	if !ok {
		return "", &domain.ValidationError{Field: m.Field, Reason: "is not a customer attribute"}
	}

	var (
		col = spec.Column
		arr interface{}
	)
	numeric := spec.Kind == kindNumber || (spec.Kind == kindDynamic && allNumbers(m.Values))
	if numeric {
		nums := make([]float64, 0, len(m.Values))
		for _, v := range m.Values {
			f, ok := parseNumber(v)
			if !ok {
				return "", &domain.ValidationError{Field: m.Field, Reason: fmt.Sprintf("expects numbers, got %v", v)}
			}
			nums = append(nums, f)
		}
		if spec.Kind == kindDynamic {
			col = "(" + col + ")::numeric"
		}
		arr = pq.Array(nums)
	} else {
		strs := make([]string, 0, len(m.Values))
		for _, v := range m.Values {
			strs = append(strs, toString(v))
		}
		if spec.Kind == kindTime {
			col = col + "::text"
		}
		arr = pq.Array(strs)
	}

	if m.Negate {
		return fmt.Sprintf("(%s IS NULL OR NOT (%s = ANY(%s)))", col, col, qb.nextArg(arr)), nil
	}
	return fmt.Sprintf("%s = ANY(%s)", col, qb.nextArg(arr)), nil
}

// bindValue converts v to the column's type and returns the column
// expression to compare against.
func bindValue(spec fieldSpec, field string, v any) (string, interface{}, error) {
	switch spec.Kind {
	case kindNumber:
		f, ok := parseNumber(v)
		if !ok {
			return "", nil, &domain.ValidationError{Field: field, Reason: fmt.Sprintf("expects a number, got %v", v)}
		}
		return spec.Column, f, nil
	case kindTime:
		t, ok := parseTime(v)
		if !ok {
			return "", nil, &domain.ValidationError{Field: field, Reason: fmt.Sprintf("expects a date, got %v", v)}
		}
		return spec.Column, t, nil
	case kindDynamic:
		if f, ok := asNumber(v); ok {
			return "(" + spec.Column + ")::numeric", f, nil
		}
		return spec.Column, toString(v), nil
	}
	return spec.Column, toString(v), nil
}

func allNumbers(values []any) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if _, ok := asNumber(v); !ok {
			return false
		}
	}
	return true
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
