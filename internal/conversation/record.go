package conversation

import (
	"slices"
	"time"
)

// Scope is the structured brief gathered opportunistically during a conversation.
// All fields may stay empty.
type Scope struct {
	BusinessQuestion string   `json:"business_question,omitempty"`
	Industry         string   `json:"industry,omitempty"`
	Timeline         string   `json:"timeline,omitempty"`
	Deliverables     []string `json:"deliverables,omitempty"`
	BudgetRange      string   `json:"budget_range,omitempty"`
	Stakeholders     string   `json:"stakeholders,omitempty"`
	SuccessMetrics   string   `json:"success_metrics,omitempty"`
	Constraints      string   `json:"constraints,omitempty"`
}

// Merge overwrites fields of s with the non-empty fields of other.
func (s *Scope) Merge(other Scope) {
	setIf := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setIf(&s.BusinessQuestion, other.BusinessQuestion)
	setIf(&s.Industry, other.Industry)
	setIf(&s.Timeline, other.Timeline)
	setIf(&s.BudgetRange, other.BudgetRange)
	setIf(&s.Stakeholders, other.Stakeholders)
	setIf(&s.SuccessMetrics, other.SuccessMetrics)
	setIf(&s.Constraints, other.Constraints)
	if len(other.Deliverables) > 0 {
		s.Deliverables = slices.Clone(other.Deliverables)
	}
}

// IsEmpty reports whether no field has been populated.
func (s Scope) IsEmpty() bool {
	return s.BusinessQuestion == "" && s.Industry == "" && s.Timeline == "" &&
		len(s.Deliverables) == 0 && s.BudgetRange == "" && s.Stakeholders == "" &&
		s.SuccessMetrics == "" && s.Constraints == ""
}

// Record is one user's conversation. Exactly one exists per user id.
type Record struct {
	ID                    string   `json:"id"`
	UserID                string   `json:"user_id"`
	State                 State    `json:"state"`
	Turns                 []string `json:"turns"`
	QuestionsAsked        []string `json:"questions_asked"`
	PendingClarifications []string `json:"pending_clarifications"`
	Scope                 Scope    `json:"scope"`
	CreatedAt             int64    `json:"created_at"`
	UpdatedAt             int64    `json:"updated_at"`
}

// NewRecord creates a record for userID in INITIAL_INQUIRY.
func NewRecord(id, userID string, now time.Time) *Record {
	return &Record{
		ID:        id,
		UserID:    userID,
		State:     StateInitialInquiry,
		CreatedAt: now.Unix(),
		UpdatedAt: now.Unix(),
	}
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Turns = slices.Clone(r.Turns)
	c.QuestionsAsked = slices.Clone(r.QuestionsAsked)
	c.PendingClarifications = slices.Clone(r.PendingClarifications)
	c.Scope.Deliverables = slices.Clone(r.Scope.Deliverables)
	return &c
}

// AppendTurn records a raw user message.
func (r *Record) AppendTurn(message string) {
	r.Turns = append(r.Turns, message)
}

// AskQuestions records issued questions and marks them pending.
// Pending topics stay deduplicated in first-seen order.
func (r *Record) AskQuestions(questions []string) {
	r.QuestionsAsked = append(r.QuestionsAsked, questions...)
	for _, q := range questions {
		if !slices.Contains(r.PendingClarifications, q) {
			r.PendingClarifications = append(r.PendingClarifications, q)
		}
	}
}

// ResolveClarifications empties the pending set.
func (r *Record) ResolveClarifications() {
	r.PendingClarifications = nil
}
