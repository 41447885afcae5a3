package copilot

import (
	"fmt"

	"github.com/osteele/liquid"

	"github.com/ignite/audience-engine/internal/segmentation"
)

const (
	translateSystem = "You convert plain-language customer audience descriptions into JSON segment rules. Always respond with ONLY a JSON object, no other text."
	suggestSystem   = "You are a marketing copywriter that writes engaging campaign messages. Always respond with ONLY a JSON array of strings, no other text."
	summarySystem   = "You are a marketing analyst that writes short, insightful summaries of campaign performance. Respond with only the summary text."
)

const translateTemplate = `Convert this audience description into a rule group.

Description: "{{ query }}"
Today is {{ today }}. Resolve relative dates ("6 months ago") against it as YYYY-MM-DD.

Respond with ONLY a JSON object of this shape:
{"conjunction": "AND" or "OR", "rules": [{"field": "...", "operator": "...", "value": ...}], "groups": [ nested groups ]}

Available fields:
{% for f in fields %}- {{ f }}
{% endfor %}
Available operators:
{% for op in operators %}- {{ op.name }}: {{ op.description }}{% if op.range %} (set "value" and "value2"){% endif %}
{% endfor %}
Use numbers for numeric fields and arrays for "in" / "not_in".

Example: "customers from India or USA who spent over 5000" gives
{"conjunction": "AND", "rules": [{"field": "totalSpent", "operator": "greater_than", "value": 5000}], "groups": [{"conjunction": "OR", "rules": [{"field": "address.country", "operator": "equals", "value": "India"}, {"field": "address.country", "operator": "equals", "value": "USA"}]}]}
`

const suggestTemplate = `Write {{ count }} message variations for a marketing campaign.

Campaign objective: {{ objective }}
{% if audience != "" %}Target audience: {{ audience }}
{% endif %}
Messages may use the placeholders {{ placeholders }}.
Respond with ONLY a JSON array of strings.
`

const summaryTemplate = `Summarize these campaign results in 2-3 sentences, highlighting delivery and engagement.

Total messages: {{ stats.total }}
Sent successfully: {{ stats.sent }}
Failed: {{ stats.failed }}
Delivered: {{ stats.delivered }}
Opened: {{ stats.opened }}
Clicked: {{ stats.clicked }}
`

// prompts holds the parsed templates.
type prompts struct {
	translate *liquid.Template
	suggest   *liquid.Template
	summary   *liquid.Template
}

func loadPrompts() (*prompts, error) {
	engine := liquid.NewEngine()
	parse := func(name, src string) (*liquid.Template, error) {
		tpl, err := engine.ParseString(src)
		if err != nil {
			return nil, fmt.Errorf("parse %s prompt: %w", name, err)
		}
		return tpl, nil
	}
	var (
		p   prompts
		err error
	)
	if p.translate, err = parse("translate", translateTemplate); err != nil {
		return nil, err
	}
	if p.suggest, err = parse("suggest", suggestTemplate); err != nil {
		return nil, err
	}
	if p.summary, err = parse("summary", summaryTemplate); err != nil {
		return nil, err
	}
	return &p, nil
}

var defaultPrompts = mustLoadPrompts()

func mustLoadPrompts() *prompts {
	p, err := loadPrompts()
	if err != nil {
		panic(err)
	}
	return p
}

func render(tpl *liquid.Template, b liquid.Bindings) (string, error) {
	out, err := tpl.RenderString(b)
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return out, nil
}

func operatorBindings() []map[string]any {
	ops := make([]map[string]any, len(segmentation.Operators))
	for i, m := range segmentation.Operators {
		ops[i] = map[string]any{
			"name":        string(m.Operator),
			"description": m.Description,
			"range":       m.NeedsValue2,
		}
	}
	return ops
}
