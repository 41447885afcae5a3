package copilot

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/osteele/liquid"

	"github.com/ignite/audience-engine/internal/domain"
)

// SuggestionCount is how many message variations are requested.
const SuggestionCount = 3

// CopyGenerator writes campaign messages and result summaries.
type CopyGenerator struct {
	client *Client
}

// NewCopyGenerator creates a CopyGenerator.
func NewCopyGenerator(c *Client) *CopyGenerator {
	return &CopyGenerator{client: c}
}

// Suggest returns message variations for objective, aimed at audience.
func (g *CopyGenerator) Suggest(ctx context.Context, objective, audience string) ([]string, error) {
	if strings.TrimSpace(objective) == "" {
		return nil, &domain.ValidationError{Field: "objective", Reason: "is required"}
	}
	prompt, err := render(defaultPrompts.suggest, liquid.Bindings{
		"count":        SuggestionCount,
		"objective":    objective,
		"audience":     strings.TrimSpace(audience),
		"placeholders": "{{firstName}}, {{lastName}} and {{email}}",
	})
	if err != nil {
		return nil, err
	}
	reply, err := g.client.Complete(ctx, suggestSystem, prompt, 0.7, 500)
	if err != nil {
		return nil, err
	}
	return parseSuggestions(reply)
}

var listMarker = regexp.MustCompile(`^\s*(?:[-*]|\d+[.)])\s*`)

// parseSuggestions reads a JSON array of strings, falling back to one
// suggestion per non-empty line.
func parseSuggestions(reply string) ([]string, error) {
	reply = stripFences(reply)
	if start, end := strings.IndexByte(reply, '['), strings.LastIndexByte(reply, ']'); start >= 0 && end > start {
		var out []string
		if err := json.Unmarshal([]byte(reply[start:end+1]), &out); err == nil && len(out) > 0 {
			return out, nil
		}
	}

	var out []string
	for _, line := range strings.Split(reply, "\n") {
		line = listMarker.ReplaceAllString(line, "")
		line = strings.Trim(strings.TrimSpace(line), `"`)
		if line != "" {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("copilot: empty suggestion reply")
	}
	return out, nil
}

// Summarize describes campaign stats in a few sentences.
func (g *CopyGenerator) Summarize(ctx context.Context, s domain.Stats) (string, error) {
	prompt, err := render(defaultPrompts.summary, liquid.Bindings{
		"stats": map[string]any{
			"total":     s.Total,
			"sent":      s.Sent,
			"failed":    s.Failed,
			"delivered": s.Delivered,
			"opened":    s.Opened,
			"clicked":   s.Clicked,
		},
	})
	if err != nil {
		return "", err
	}
	return g.client.Complete(ctx, summarySystem, prompt, 0.5, 150)
}
