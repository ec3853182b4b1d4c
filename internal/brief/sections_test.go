package brief

import (
	"strings"
	"testing"
)

func TestParseSections_Forms(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		wantSection string
		wantContent string
	}{
		{
			name:        "markdown header",
			text:        "## Objective\nGrow revenue\n\n## Timeline\nQ3",
			wantSection: "Objective",
			wantContent: "Grow revenue",
		},
		{
			name:        "colon",
			text:        "Objective: Grow revenue\nTimeline: Q3",
			wantSection: "Objective",
			wantContent: "Grow revenue",
		},
		{
			name:        "bullet bold colon",
			text:        "- **Deliverables**: deck\n- **Timeline**: Q3",
			wantSection: "Deliverables",
			wantContent: "deck",
		},
		{
			name:        "bold with colon inside",
			text:        "**Success Criteria:** board decision",
			wantSection: "Success Criteria",
			wantContent: "board decision",
		},
		{
			name:        "bold line then body",
			text:        "**Key Questions**\n1. How big?\n2. How fast?",
			wantSection: "Key Questions",
			wantContent: "1. How big?\n2. How fast?",
		},
		{
			name:        "synonym",
			text:        "Goal: win\nDeadline: Friday",
			wantSection: "Timeline",
			wantContent: "Friday",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sec := FindSection(ParseSections(tt.text), tt.wantSection)
			if sec == nil {
				t.Fatalf("section %q not found in %q", tt.wantSection, tt.text)
			}
			if sec.Content != tt.wantContent {
				t.Errorf("Content = %q, want %q", sec.Content, tt.wantContent)
			}
		})
	}
}

func TestParseSections_ProseColonIgnored(t *testing.T) {
	text := "Note: this is just prose\nAnother line: still prose"
	if got := ParseSections(text); got != nil {
		t.Errorf("ParseSections() = %+v, want nil", got)
	}
}

func TestParseSections_IgnoresFencedBlocks(t *testing.T) {
	text := "## Objective\nReal one\n```\n## Timeline\nTimeline: fake\n```\n"
	sections := ParseSections(text)

	if len(sections) != 1 {
		t.Fatalf("sections = %d, want 1 (%v)", len(sections), SectionNames(sections))
	}
	if !strings.Contains(sections[0].Content, "Real one") {
		t.Errorf("Content = %q", sections[0].Content)
	}
}

func TestParseSections_CustomHeaders(t *testing.T) {
	sections := ParseSections("# Project Brief\nintro\n## Objective\nx")

	if len(sections) != 2 {
		t.Fatalf("sections = %d, want 2", len(sections))
	}
	if sections[0].Canonical != "" || sections[0].HeaderName != "Project Brief" {
		t.Errorf("first section = %+v, want custom Project Brief", sections[0])
	}
	if FindSection(sections, "project brief") == nil {
		t.Error("custom sections should be findable by exact name")
	}
}

func TestFindSection_Empty(t *testing.T) {
	if FindSection(nil, "Objective") != nil {
		t.Error("FindSection(nil) should be nil")
	}
}

func TestMatchCanonical(t *testing.T) {
	tests := map[string]string{
		"objective":        "Objective",
		" KPIs ":           "Success Criteria",
		"Key Deliverables": "Deliverables",
		"questions":        "Key Questions",
		"Budget":           "",
	}
	for in, want := range tests {
		if got := MatchCanonical(in); got != want {
			t.Errorf("MatchCanonical(%q) = %q, want %q", in, got, want)
		}
	}
}
