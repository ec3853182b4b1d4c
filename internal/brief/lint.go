package brief

import "strings"

// LintInput contains parameters for linting a brief.
type LintInput struct {
	Text     string
	MaxChars int
}

// LintResult contains the results of linting a brief. Findings are warnings;
// a brief is archived and dispatched regardless.
type LintResult struct {
	Valid           bool     `json:"valid"`
	MissingSections []string `json:"missing_sections,omitempty"`
	EmptySections   []string `json:"empty_sections,omitempty"`
	TooLarge        bool     `json:"too_large,omitempty"`
	ActualChars     int      `json:"actual_chars"`
	MaxChars        int      `json:"max_chars,omitempty"`
}

// CanonicalSections lists the brief sections in canonical order.
var CanonicalSections = []string{
	"Objective",
	"Key Questions",
	"Deliverables",
	"Timeline",
	"Success Criteria",
}

// sectionSynonyms maps canonical section names to all accepted synonyms (lowercase).
var sectionSynonyms = map[string][]string{
	"Objective":        {"objective", "goal", "purpose", "project objective"},
	"Key Questions":    {"key questions", "questions", "questions to answer", "research questions"},
	"Deliverables":     {"deliverables", "key deliverables", "outputs"},
	"Timeline":         {"timeline", "timing", "deadline", "schedule"},
	"Success Criteria": {"success criteria", "success metrics", "success measures", "kpis"},
}

// MatchCanonical returns the canonical section name for a label, or "".
func MatchCanonical(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, canonical := range CanonicalSections {
		for _, syn := range sectionSynonyms[canonical] {
			if lower == syn {
				return canonical
			}
		}
	}
	return ""
}

// placeholderValues are section bodies that count as empty.
var placeholderValues = []string{"", "-", "tbd", "n/a", "none", "pending", "(tbd)", "(n/a)", "(none)", "(pending)", "[what we're solving]"}

func isPlaceholder(content string) bool {
	lower := strings.ToLower(strings.TrimSpace(content))
	for _, p := range placeholderValues {
		if lower == p {
			return true
		}
	}
	return false
}

// Lint checks a brief for the canonical sections and an optional size bound.
func Lint(input LintInput) *LintResult {
	result := &LintResult{
		Valid:       true,
		ActualChars: CountChars(input.Text),
		MaxChars:    input.MaxChars,
	}

	if input.MaxChars > 0 && result.ActualChars > input.MaxChars {
		result.TooLarge = true
		result.Valid = false
	}

	sections := ParseSections(input.Text)
	for _, canonical := range CanonicalSections {
		sec := FindSection(sections, canonical)
		switch {
		case sec == nil:
			result.MissingSections = append(result.MissingSections, canonical)
		case isPlaceholder(sec.Content):
			result.EmptySections = append(result.EmptySections, canonical)
		}
	}
	if len(result.MissingSections) > 0 || len(result.EmptySections) > 0 {
		result.Valid = false
	}

	return result
}
