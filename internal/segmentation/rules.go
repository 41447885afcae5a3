package segmentation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ignite/audience-engine/internal/domain"
)

// Rule is a single-field comparison leaf.
type Rule struct {
	Field    string   `json:"field" validate:"required"`
	Operator Operator `json:"operator" validate:"required"`
	Value    any      `json:"value"`
	// Value2 is the inclusive upper bound of a between rule.
	Value2 any `json:"value2,omitempty"`
}

// RuleGroup combines rules and nested groups with one conjunction. A group
// exclusively owns its children.
type RuleGroup struct {
	Conjunction Conjunction `json:"conjunction"`
	Rules       []Rule      `json:"rules"`
	Groups      []RuleGroup `json:"groups,omitempty"`
}

// IsEmpty reports whether the group has no children.
func (g RuleGroup) IsEmpty() bool {
	return len(g.Rules) == 0 && len(g.Groups) == 0
}

// conjunction returns the normalized conjunction; blank means AND.
func (g RuleGroup) conjunction() (Conjunction, bool) {
	switch Conjunction(strings.ToUpper(strings.TrimSpace(string(g.Conjunction)))) {
	case "", ConjunctionAnd:
		return ConjunctionAnd, true
	case ConjunctionOr:
		return ConjunctionOr, true
	}
	return "", false
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		return name
	})
	return v
}

// Validate walks the tree and returns a *domain.ValidationError for the first
// malformed node. Unknown operators are accepted; they compile to equals.
func (g RuleGroup) Validate() error {
	return g.validate("")
}

// validate checks g; prefix locates g inside the root, e.g. "groups[1].".
func (g RuleGroup) validate(prefix string) error {
	if _, ok := g.conjunction(); !ok {
		return &domain.ValidationError{Field: prefix + "conjunction", Reason: fmt.Sprintf("must be AND or OR, got %q", g.Conjunction)}
	}
	for i, r := range g.Rules {
		if err := r.validate(fmt.Sprintf("%srules[%d]", prefix, i)); err != nil {
			return err
		}
	}
	for i, sub := range g.Groups {
		if err := sub.validate(fmt.Sprintf("%sgroups[%d].", prefix, i)); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks a single leaf.
func (r Rule) Validate() error {
	return r.validate("rule")
}

func (r Rule) validate(path string) error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &domain.ValidationError{
				Field:  path + "." + verrs[0].Field(),
				Reason: "is required",
			}
		}
		return &domain.ValidationError{Field: path, Reason: err.Error()}
	}
	if _, ok := lookupField(r.Field); !ok {
		return &domain.ValidationError{Field: path + ".field", Reason: fmt.Sprintf("unknown customer attribute %q", r.Field)}
	}
	if r.Operator == OpBetween && r.Value2 == nil {
		return &domain.ValidationError{Field: path + ".value2", Reason: "is required for between"}
	}
	return nil
}

// Fingerprint identifies the rule tree's content. Two trees with the same
// fingerprint select the same members.
func (g RuleGroup) Fingerprint() string {
	data, _ := json.Marshal(g)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
