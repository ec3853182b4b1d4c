// Package conversation defines the per-user conversation record and its state graph.
package conversation

import "fmt"

// State is where a conversation stands in the scoping dialogue.
type State string

const (
	StateInitialInquiry      State = "INITIAL_INQUIRY"
	StateClarifyingQuestions State = "CLARIFYING_QUESTIONS"
	StateScopeRefinement     State = "SCOPE_REFINEMENT"
	StateProposalReview      State = "PROPOSAL_REVIEW"
	StateReadyToExecute      State = "READY_TO_EXECUTE"
)

// AllStates lists every state in graph order.
func AllStates() []State {
	return []State{
		StateInitialInquiry,
		StateClarifyingQuestions,
		StateProposalReview,
		StateScopeRefinement,
		StateReadyToExecute,
	}
}

// ParseState converts text to a State, rejecting unknown values.
func ParseState(s string) (State, error) {
	for _, st := range AllStates() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown conversation state %q", s)
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	_, err := ParseState(string(s))
	return err == nil
}

// Terminal reports whether the engine will never move s on its own.
func (s State) Terminal() bool {
	return s == StateReadyToExecute
}

// Rank orders states along the graph. Transitions never decrease rank.
// Returns -1 for unknown states.
func (s State) Rank() int {
	switch s {
	case StateInitialInquiry:
		return 0
	case StateClarifyingQuestions:
		return 1
	case StateProposalReview:
		return 2
	case StateScopeRefinement:
		return 3
	case StateReadyToExecute:
		return 3
	}
	return -1
}

// ValidTransitions defines the allowed state changes, self-loops included.
var ValidTransitions = map[State][]State{
	StateInitialInquiry:      {StateClarifyingQuestions},
	StateClarifyingQuestions: {StateClarifyingQuestions, StateProposalReview},
	StateProposalReview:      {StateReadyToExecute, StateScopeRefinement},
	StateScopeRefinement:     {StateScopeRefinement},
	StateReadyToExecute:      {StateReadyToExecute},
}

// CanTransition checks whether from -> to is an edge of the graph.
func CanTransition(from, to State) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
