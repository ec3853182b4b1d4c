package engine

import (
	"fmt"
	"strings"

	"github.com/hpungsan/scoper/internal/conversation"
)

// renderHistory numbers every turn so the model sees order.
func renderHistory(turns []string) string {
	if len(turns) == 0 {
		return "(no messages yet)"
	}
	var sb strings.Builder
	for i, turn := range turns {
		fmt.Fprintf(&sb, "%d. %q\n", i+1, turn)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func questionsPrompt(turns []string) string {
	return fmt.Sprintf(`You are an experienced engagement manager at a top-tier consulting firm. A client has approached you with this request:

%s

Your job is to understand their real business needs through strategic questioning. Generate 3-4 sharp, executive-level questions that will help you:
1. Understand the core business problem
2. Identify the decision they need to make
3. Clarify the scope and timeline
4. Understand success metrics

Format your response as a friendly but professional message that includes:
- A brief acknowledgment of their request
- 3-4 strategic questions, each on its own line ending with a question mark
- An explanation of why you're asking these questions

Keep it conversational and executive-appropriate.`, renderHistory(turns))
}

func extractPrompt(message string) string {
	return fmt.Sprintf(`Based on this client response, extract key project information:

Response: %q

Extract and structure the following if mentioned:
- Business question/problem
- Industry/sector
- Timeline/urgency
- Deliverables
- Key stakeholders
- Success metrics
- Budget considerations
- Constraints

Respond with a single JSON object with keys: business_question, industry, timeline, deliverables (array of strings), stakeholders, success_metrics, budget_range, constraints.
If information isn't provided, use an empty string (or an empty array for deliverables).`, message)
}

func assessPrompt(rec *conversation.Record, message string) string {
	var pending string
	if len(rec.PendingClarifications) > 0 {
		pending = "\nOpen questions we have asked:\n- " + strings.Join(rec.PendingClarifications, "\n- ") + "\n"
	}
	return fmt.Sprintf(`Based on the client's latest response: %q

And the conversation history:
%s
%s
Do we have enough information to create a project proposal, or do we need more clarification?

If we need more clarification, generate 1-2 follow-up questions.
If we have enough information, indicate we're ready to create a proposal.

Respond with either:
"%s [questions]" or "%s"`, message, renderHistory(rec.Turns), pending, conversation.ClarifyPrefix, conversation.ProposalReadyMarker)
}

func proposalPrompt(rec *conversation.Record) string {
	return fmt.Sprintf(`Based on our conversation:
%s
%s
Create a concise project proposal that includes:
1. Project objective (what we'll help them achieve)
2. Key deliverables (3-4 specific outputs)
3. Proposed approach (high-level methodology)
4. Estimated timeline
5. Team composition (which specialists we'll deploy)
6. Next steps for approval

Format this as a professional but conversational proposal.
End with: "Does this approach align with your needs? Please review and type 'approve' to confirm or suggest any adjustments."`, renderHistory(rec.Turns), renderScope(rec.Scope))
}

func refinePrompt(rec *conversation.Record, feedback string) string {
	return fmt.Sprintf(`The client has provided feedback on our proposal: %q

Conversation so far:
%s

Generate a response that:
1. Acknowledges their feedback
2. Clarifies any requested changes
3. Asks for confirmation on the refined scope

Keep it collaborative and solution-oriented.`, feedback, renderHistory(rec.Turns))
}

func planPrompt(rec *conversation.Record) string {
	return fmt.Sprintf(`The client has approved our proposal. Based on our conversation:
%s

Generate a final execution message that:
1. Confirms the approved scope
2. Outlines the team deployment plan
3. Sets expectations for deliverables and timeline
4. Provides next steps`, renderHistory(rec.Turns))
}

func briefPrompt(rec *conversation.Record) string {
	return fmt.Sprintf(`Based on this conversation:
%s
%s
Generate a clear, concise project brief that can be used to deploy the analyst team.

Format:
**Project Brief**
- Objective: [what we're solving]
- Key Questions: [specific questions to answer]
- Deliverables: [what we'll produce]
- Timeline: [when it's needed]
- Success Criteria: [how we'll measure success]`, renderHistory(rec.Turns), renderScope(rec.Scope))
}

// renderScope lists known scope fields, or nothing when the scope is empty.
func renderScope(s conversation.Scope) string {
	if s.IsEmpty() {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\nKnown scope details:\n")
	line := func(label, v string) {
		if v != "" {
			fmt.Fprintf(&sb, "- %s: %s\n", label, v)
		}
	}
	line("Business question", s.BusinessQuestion)
	line("Industry", s.Industry)
	line("Timeline", s.Timeline)
	line("Deliverables", strings.Join(s.Deliverables, "; "))
	line("Budget", s.BudgetRange)
	line("Stakeholders", s.Stakeholders)
	line("Success metrics", s.SuccessMetrics)
	line("Constraints", s.Constraints)
	return sb.String()
}
