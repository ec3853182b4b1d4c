package engine

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/scoper/internal/conversation"
)

func TestParseScope(t *testing.T) {
	text := `Here you go:
{"business_question": "Is EV charging profitable?", "industry": "real estate", "timeline": 3,
 "deliverables": "market model, board deck", "stakeholders": ["CFO", "Board"], "extra": {"x": 1}}
trailing words {not json}`

	got, err := parseScope(text)
	if err != nil {
		t.Fatalf("parseScope() error = %v", err)
	}
	want := conversation.Scope{
		BusinessQuestion: "Is EV charging profitable?",
		Industry:         "real estate",
		Timeline:         "3",
		Deliverables:     []string{"market model", "board deck"},
		Stakeholders:     "CFO, Board",
	}
	if got.BusinessQuestion != want.BusinessQuestion || got.Industry != want.Industry ||
		got.Timeline != want.Timeline || got.Stakeholders != want.Stakeholders {
		t.Errorf("parseScope() = %+v, want %+v", got, want)
	}
	if !slices.Equal(got.Deliverables, want.Deliverables) {
		t.Errorf("Deliverables = %v, want %v", got.Deliverables, want.Deliverables)
	}
}

func TestParseScope_Failures(t *testing.T) {
	for _, text := range []string{"no json here", "{broken", ""} {
		if _, err := parseScope(text); err == nil {
			t.Errorf("parseScope(%q) expected error", text)
		}
	}
}

func TestRenderHistory(t *testing.T) {
	got := renderHistory([]string{"first", "second"})
	if !strings.HasPrefix(got, `1. "first"`) || !strings.Contains(got, `2. "second"`) {
		t.Errorf("renderHistory() = %q", got)
	}
	if renderHistory(nil) != "(no messages yet)" {
		t.Error("empty history placeholder missing")
	}
}

func TestPromptsCarryMarkers(t *testing.T) {
	rec := conversation.NewRecord("id", "u", testNow())
	rec.AppendTurn("hello")

	prompt := assessPrompt(rec, "hello")
	if !strings.Contains(prompt, conversation.ProposalReadyMarker) || !strings.Contains(prompt, conversation.ClarifyPrefix) {
		t.Error("assessment prompt must name both response forms")
	}
	if !strings.Contains(briefPrompt(rec), "Success Criteria") {
		t.Error("brief prompt must request Success Criteria")
	}
	rec.Scope.Industry = "energy"
	if !strings.Contains(proposalPrompt(rec), "Industry: energy") {
		t.Error("proposal prompt should include known scope")
	}
}

func testNow() time.Time { return time.Unix(1700000000, 0) }
