// Package segmentation turns boolean rule trees over customer attributes into
// predicates, evaluates them against the customer store and caches the
// resulting member sets.
package segmentation

import (
	"time"

	"github.com/ignite/audience-engine/internal/domain"
)

// ==========================================
// OPERATORS
// ==========================================

// Operator represents a comparison operator of a rule leaf.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpBetween     Operator = "between"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
)

// OperatorMetadata describes an operator for clients and prompt building.
type OperatorMetadata struct {
	Operator    Operator `json:"operator"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	NeedsValue2 bool     `json:"needs_value2,omitempty"`
}

// Operators lists the supported operators in display order.
var Operators = []OperatorMetadata{
	{OpEquals, "Equals", "Exact match", false},
	{OpNotEquals, "Does not equal", "Anything but an exact match, including missing values", false},
	{OpContains, "Contains", "Case-insensitive substring match", false},
	{OpGreaterThan, "Greater than", "Strictly greater number or later date", false},
	{OpLessThan, "Less than", "Strictly smaller number or earlier date", false},
	{OpBetween, "Between", "Inclusive range from value to value2", true},
	{OpIn, "Is one of", "Value is in the given list", false},
	{OpNotIn, "Is not one of", "Value is not in the given list, including missing values", false},
}

// Known reports whether o is one of the supported operators.
func (o Operator) Known() bool {
	for _, m := range Operators {
		if m.Operator == o {
			return true
		}
	}
	return false
}

// Conjunction combines the children of a rule group.
type Conjunction string

const (
	ConjunctionAnd Conjunction = "AND"
	ConjunctionOr  Conjunction = "OR"
)

// ==========================================
// SEGMENTS
// ==========================================

// Segment is a saved rule tree plus the size accounting of its membership.
type Segment struct {
	ID             string     `json:"id" db:"id"`
	Name           string     `json:"name" db:"name"`
	Description    string     `json:"description,omitempty" db:"description"`
	CreatedBy      string     `json:"createdBy" db:"created_by"`
	Rules          RuleGroup  `json:"rules" db:"rules"`
	EstimatedSize  int        `json:"estimatedSize" db:"estimated_size"`
	ActualSize     int        `json:"actualSize" db:"actual_size"`
	LastCalculated *time.Time `json:"lastCalculated,omitempty" db:"last_calculated"`
	IsActive       bool       `json:"isActive" db:"is_active"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time  `json:"updatedAt" db:"updated_at"`
}

// SegmentUpdate carries the editable fields of a segment. Nil fields are
// left unchanged.
type SegmentUpdate struct {
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	Rules       *RuleGroup `json:"rules,omitempty"`
	IsActive    *bool      `json:"isActive,omitempty"`
}

// PreviewLimit caps the members returned by a preview. The count is exact.
const PreviewLimit = 100

// Preview is a bounded sample of a rule tree's membership.
type Preview struct {
	Members      []domain.Customer `json:"members"`
	PreviewCount int               `json:"previewCount"`
	TotalCount   int               `json:"totalCount"`
	CalculatedAt time.Time         `json:"calculatedAt"`
}
