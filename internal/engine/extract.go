package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hpungsan/scoper/internal/conversation"
)

var errNoJSONObject = errors.New("no JSON object in response")

// parseScope decodes the first {...} object in text. Values may be strings,
// numbers or arrays; anything else is ignored.
func parseScope(text string) (conversation.Scope, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return conversation.Scope{}, errNoJSONObject
	}

	var raw map[string]any
	dec := json.NewDecoder(strings.NewReader(text[start:]))
	if err := dec.Decode(&raw); err != nil {
		return conversation.Scope{}, fmt.Errorf("decode scope: %w", err)
	}

	return conversation.Scope{
		BusinessQuestion: stringValue(raw["business_question"]),
		Industry:         stringValue(raw["industry"]),
		Timeline:         stringValue(raw["timeline"]),
		Deliverables:     listValue(raw["deliverables"]),
		BudgetRange:      stringValue(raw["budget_range"]),
		Stakeholders:     stringValue(raw["stakeholders"]),
		SuccessMetrics:   stringValue(raw["success_metrics"]),
		Constraints:      stringValue(raw["constraints"]),
	}, nil
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return fmt.Sprintf("%g", t)
	case []any:
		return strings.Join(listValue(t), ", ")
	}
	return ""
}

func listValue(v any) []string {
	switch t := v.(type) {
	case string:
		var out []string
		for part := range strings.SplitSeq(t, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	case []any:
		var out []string
		for _, item := range t {
			if s := stringValue(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
