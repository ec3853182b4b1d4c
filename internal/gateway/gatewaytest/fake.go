// Package gatewaytest provides a scripted Gateway for tests.
package gatewaytest

import (
	"context"
	"sync"

	"github.com/hpungsan/scoper/internal/gateway"
)

// Call is one recorded CompleteText invocation.
type Call struct {
	Purpose gateway.Purpose
	Prompt  string
}

type response struct {
	text string
	err  error
}

// Fake answers by purpose. Queued responses are consumed first, then the
// sticky default for that purpose. It is safe for concurrent use.
type Fake struct {
	mu       sync.Mutex
	queued   map[gateway.Purpose][]response
	defaults map[gateway.Purpose]response
	calls    []Call
	gate     chan struct{}
}

// DefaultResponses are what a fresh Fake returns for each purpose.
var DefaultResponses = map[gateway.Purpose]string{
	gateway.PurposeQuestions: "Thanks for reaching out.\n1. What decision will this analysis inform?\n2. What is your timeline?\n3. Who are the key stakeholders?",
	gateway.PurposeExtract:   `{"business_question": "", "industry": ""}`,
	gateway.PurposeAssess:    "CLARIFY: What budget range are you working with?",
	gateway.PurposeProposal:  "Proposal: objective, deliverables, approach. Please type 'approve' to confirm.",
	gateway.PurposeRefine:    "Understood, here is the refined scope. Does this work?",
	gateway.PurposePlan:      "Execution plan: team deployed, deliverables in three weeks.",
	gateway.PurposeBrief:     "**Project Brief**\n- Objective: Size the market\n- Key Questions: How big?\n- Deliverables: Deck\n- Timeline: 3 weeks\n- Success Criteria: Board decision",
}

// New creates a Fake seeded with DefaultResponses.
func New() *Fake {
	f := &Fake{
		queued:   make(map[gateway.Purpose][]response),
		defaults: make(map[gateway.Purpose]response),
	}
	for p, text := range DefaultResponses {
		f.defaults[p] = response{text: text}
	}
	return f
}

// Queue adds a one-shot response for purpose p.
func (f *Fake) Queue(p gateway.Purpose, text string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued[p] = append(f.queued[p], response{text: text})
	return f
}

// QueueError adds a one-shot failure for purpose p.
func (f *Fake) QueueError(p gateway.Purpose, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued[p] = append(f.queued[p], response{err: err})
	return f
}

// Always sets the sticky response for purpose p.
func (f *Fake) Always(p gateway.Purpose, text string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaults[p] = response{text: text}
	return f
}

// AlwaysError makes every unqueued call for purpose p fail.
func (f *Fake) AlwaysError(p gateway.Purpose, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaults[p] = response{err: err}
	return f
}

// Hold makes every call block until the returned release func runs or ctx ends.
func (f *Fake) Hold() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// CompleteText implements gateway.Gateway.
func (f *Fake) CompleteText(ctx context.Context, prompt string) (string, error) {
	p := gateway.PurposeFrom(ctx)

	f.mu.Lock()
	f.calls = append(f.calls, Call{Purpose: p, Prompt: prompt})
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if q := f.queued[p]; len(q) > 0 {
		f.queued[p] = q[1:]
		return q[0].text, q[0].err
	}
	r := f.defaults[p]
	return r.text, r.err
}

// Calls returns a copy of every recorded call.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns the number of calls made.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// CallsFor returns how many calls were made for purpose p.
func (f *Fake) CallsFor(p gateway.Purpose) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Purpose == p {
			n++
		}
	}
	return n
}

var _ gateway.Gateway = (*Fake)(nil)
