package copilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/osteele/liquid"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/segmentation"
)

// Translator turns a plain-language audience description into a validated
// rule tree.
type Translator struct {
	client *Client
	now    func() time.Time
}

// NewTranslator creates a Translator.
func NewTranslator(c *Client) *Translator {
	return &Translator{client: c, now: time.Now}
}

// wireGroup also accepts "conditions" in place of "rules".
type wireGroup struct {
	Conjunction segmentation.Conjunction `json:"conjunction"`
	Rules       []segmentation.Rule      `json:"rules"`
	Conditions  []segmentation.Rule      `json:"conditions"`
	Groups      []wireGroup              `json:"groups"`
}

func (g wireGroup) ruleGroup() segmentation.RuleGroup {
	out := segmentation.RuleGroup{Conjunction: g.Conjunction, Rules: g.Rules}
	if len(out.Rules) == 0 {
		out.Rules = g.Conditions
	}
	for _, sub := range g.Groups {
		out.Groups = append(out.Groups, sub.ruleGroup())
	}
	return out
}

// Translate returns the rules described by text. Any failure, including a
// reply that is not a valid rule tree, is a *domain.TranslationError.
func (t *Translator) Translate(ctx context.Context, text string) (*segmentation.RuleGroup, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &domain.ValidationError{Field: "query", Reason: "is required"}
	}
	if !t.client.Configured() {
		return nil, ErrNotConfigured
	}

	prompt, err := render(defaultPrompts.translate, liquid.Bindings{
		"query":     text,
		"today":     t.now().UTC().Format("2006-01-02"),
		"fields":    segmentation.Fields(),
		"operators": operatorBindings(),
	})
	if err != nil {
		return nil, err
	}
	reply, err := t.client.Complete(ctx, translateSystem, prompt, 0.1, 500)
	if err != nil {
		return nil, &domain.TranslationError{Input: text, Err: err}
	}

	g, err := parseRuleGroup(reply)
	if err != nil {
		return nil, &domain.TranslationError{Input: text, Err: err}
	}
	return g, nil
}

func parseRuleGroup(reply string) (*segmentation.RuleGroup, error) {
	reply = stripFences(reply)
	start, end := strings.IndexByte(reply, '{'), strings.LastIndexByte(reply, '}')
	if start < 0 || end <= start {
		return nil, errors.New("reply contains no JSON object")
	}
	var wg wireGroup
	if err := json.Unmarshal([]byte(reply[start:end+1]), &wg); err != nil {
		return nil, fmt.Errorf("decode rule group: %w", err)
	}
	g := wg.ruleGroup()
	if g.IsEmpty() {
		return nil, errors.New("reply has no rules")
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}
