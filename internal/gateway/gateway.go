// Package gateway is the language model boundary: a prompt goes in, free text comes out.
// Providers and middleware compose with Chain.
package gateway

import "context"

// Gateway completes a single prompt. It makes no promise about structure
// and callers must tolerate arbitrary text.
type Gateway interface {
	CompleteText(ctx context.Context, prompt string) (string, error)
}

// Func adapts a plain function to Gateway.
type Func func(ctx context.Context, prompt string) (string, error)

// CompleteText calls f.
func (f Func) CompleteText(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Middleware wraps a Gateway with additional behavior.
type Middleware func(next Gateway) Gateway

// Chain composes middlewares around base. Earlier middlewares are outermost:
//
//	Chain(g, mw1, mw2) gives mw1 -> mw2 -> g
func Chain(base Gateway, middlewares ...Middleware) Gateway {
	g := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		g = middlewares[i](g)
	}
	return g
}

// Purpose names why a call is being made. It labels metrics and logs.
type Purpose string

const (
	PurposeQuestions Purpose = "questions"
	PurposeExtract   Purpose = "extract"
	PurposeAssess    Purpose = "assess"
	PurposeProposal  Purpose = "proposal"
	PurposeRefine    Purpose = "refine"
	PurposePlan      Purpose = "plan"
	PurposeBrief     Purpose = "brief"
)

// PurposeUnknown is reported for calls without a tagged purpose.
const PurposeUnknown Purpose = "unknown"

type purposeKey struct{}

// WithPurpose tags ctx with the reason for the next call.
func WithPurpose(ctx context.Context, p Purpose) context.Context {
	return context.WithValue(ctx, purposeKey{}, p)
}

// PurposeFrom returns the purpose tagged on ctx, or PurposeUnknown.
func PurposeFrom(ctx context.Context) Purpose {
	if p, ok := ctx.Value(purposeKey{}).(Purpose); ok {
		return p
	}
	return PurposeUnknown
}
