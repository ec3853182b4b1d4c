package conversation

import "strings"

// ApprovalKeywords are matched case-insensitively as substrings of a reply
// to a proposal. Any hit approves the proposal.
var ApprovalKeywords = []string{"approve", "yes", "proceed", "looks good", "agree"}

// ProposalReadyMarker is the literal the assessment response must contain
// (anywhere, case-sensitive) for the engine to move on to a proposal.
const ProposalReadyMarker = "PROPOSAL_READY"

// ClarifyPrefix is stripped from the front of an assessment that asks for more detail.
const ClarifyPrefix = "CLARIFY:"

// IsApproval reports whether message approves a proposal.
func IsApproval(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range ApprovalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Assessment is the interpreted sufficiency judgment.
type Assessment struct {
	// Ready is true when the marker was present.
	Ready bool

	// FollowUp holds the question text to return when not ready.
	FollowUp string
}

// ParseAssessment reads a sufficiency response. A missing marker means
// more clarification is needed and the remaining text is the follow-up.
func ParseAssessment(response string) Assessment {
	if strings.Contains(response, ProposalReadyMarker) {
		return Assessment{Ready: true}
	}
	text := strings.TrimSpace(response)
	if len(text) >= len(ClarifyPrefix) && strings.EqualFold(text[:len(ClarifyPrefix)], ClarifyPrefix) {
		text = strings.TrimSpace(text[len(ClarifyPrefix):])
	}
	return Assessment{FollowUp: text}
}

// ExtractQuestions pulls question lines out of free text, trimming list markers.
func ExtractQuestions(text string) []string {
	var out []string
	for line := range strings.SplitSeq(text, "\n") {
		line = strings.Trim(strings.TrimSpace(line), "*_ ")
		if !strings.HasSuffix(line, "?") {
			continue
		}
		line = strings.Trim(strings.TrimLeft(line, "-*•0123456789.) \t"), "*_ ")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
