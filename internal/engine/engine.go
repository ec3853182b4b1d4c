// Package engine runs the per-user scoping conversation: it decides what to
// do with each incoming message, calls the language model, and commits the
// resulting transition.
package engine

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/scoper/internal/conversation"
	"github.com/hpungsan/scoper/internal/errors"
	"github.com/hpungsan/scoper/internal/gateway"
	"github.com/hpungsan/scoper/internal/metrics"
	"github.com/hpungsan/scoper/internal/store"
)

// Fixed replies that never involve the language model.
const (
	RetryText = "Sorry, I couldn't process that just now. Please try again in a moment."

	AwaitingExecutionText = "Your proposal is already approved and awaiting execution. " +
		"The approved scope will not change; reset the conversation to start a new request."
)

// Reply is the outcome of one message.
type Reply struct {
	UserID         string             `json:"user_id"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Text           string             `json:"text"`
	State          conversation.State `json:"state,omitempty"`
	PreviousState  conversation.State `json:"previous_state,omitempty"`
	Created        bool               `json:"created"`
	Retry          bool               `json:"retry"`
	Ready          bool               `json:"ready"`
	Turns          int                `json:"turns"`
}

// FinalScope is the brief synthesized from a ready conversation.
type FinalScope struct {
	UserID         string             `json:"user_id"`
	ConversationID string             `json:"conversation_id"`
	Text           string             `json:"text"`
	Scope          conversation.Scope `json:"scope"`
	Turns          []string           `json:"turns"`
	GeneratedAt    int64              `json:"generated_at"`
}

// ResetOutput reports what Reset removed.
type ResetOutput struct {
	UserID string             `json:"user_id"`
	Reset  bool               `json:"reset"`
	State  conversation.State `json:"state,omitempty"`
}

// Engine owns the transition logic. All methods are safe for concurrent use;
// work for one user is serialized, different users proceed independently.
type Engine struct {
	store   *store.Store
	gw      gateway.Gateway
	logger  *zap.Logger
	metrics *metrics.Recorder
	now     func() time.Time
	newID   func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r *metrics.Recorder) Option {
	return func(e *Engine) {
		e.metrics = r
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDGenerator overrides conversation id generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		e.newID = fn
	}
}

// New creates an Engine over st, calling gw for every model interaction.
func New(st *store.Store, gw gateway.Gateway, opts ...Option) *Engine {
	e := &Engine{
		store:  st,
		gw:     gw,
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  newULID(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func newULID() func() string {
	var mu sync.Mutex
	entropy := ulid.Monotonic(rand.Reader, 0)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
	}
}

// Start handles the first message from a user. On an existing conversation
// it behaves exactly like Continue, so there is never more than one record per user.
func (e *Engine) Start(ctx context.Context, userID, message string) (*Reply, error) {
	return e.handle(ctx, "start", userID, message)
}

// Continue routes a message through the transition table. A user without a
// conversation gets one, as if Start had been called.
func (e *Engine) Continue(ctx context.Context, userID, message string) (*Reply, error) {
	return e.handle(ctx, "continue", userID, message)
}

func (e *Engine) handle(ctx context.Context, op, userID, message string) (*Reply, error) {
	userID = store.Key(userID)
	if userID == "" {
		return nil, errors.NewInvalidRequest("user_id is required")
	}
	if strings.TrimSpace(message) == "" {
		return nil, errors.NewInvalidRequest("message is required")
	}

	h, err := e.store.Acquire(ctx, userID)
	if err != nil {
		return nil, errors.NewCancelled(op)
	}
	defer h.Release()

	log := e.logger.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("op", op),
		zap.String("user_id", userID),
	)

	rec := h.Record()
	created := rec == nil
	var prev conversation.State
	if created {
		rec = conversation.NewRecord(e.newID(), userID, e.now())
	} else {
		prev = rec.State
	}

	text, err := e.evaluate(ctx, log, rec, message)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("message abandoned before commit", zap.Error(ctx.Err()))
			return nil, errors.NewCancelled(op)
		}
		if !errors.Is(err, errors.ErrGatewayUnavailable) {
			return nil, err
		}
		log.Warn("gateway failure, state unchanged", zap.Error(err))
		return &Reply{
			UserID:        userID,
			Text:          RetryText,
			State:         prev,
			PreviousState: prev,
			Retry:         true,
			Turns:         turnsBefore(created, rec),
		}, nil
	}

	// Nothing is written once the caller has gone away
	if ctx.Err() != nil {
		log.Info("message abandoned before commit", zap.Error(ctx.Err()))
		return nil, errors.NewCancelled(op)
	}

	rec.UpdatedAt = e.now().Unix()
	if err := h.Commit(rec); err != nil {
		return nil, errors.NewInternal(err)
	}

	e.metrics.ObserveTransition(string(prev), string(rec.State))
	log.Info("conversation transition",
		zap.String("conversation_id", rec.ID),
		zap.String("from", stateLabel(prev)),
		zap.String("to", string(rec.State)),
		zap.Int("turns", len(rec.Turns)),
	)

	return &Reply{
		UserID:         userID,
		ConversationID: rec.ID,
		Text:           text,
		State:          rec.State,
		PreviousState:  prev,
		Created:        created,
		Ready:          rec.State == conversation.StateReadyToExecute,
		Turns:          len(rec.Turns),
	}, nil
}

// turnsBefore is the committed turn count when evaluate failed on a working copy
// that already has the new message appended.
func turnsBefore(created bool, rec *conversation.Record) int {
	if created || len(rec.Turns) == 0 {
		return 0
	}
	return len(rec.Turns) - 1
}

func stateLabel(s conversation.State) string {
	if s == "" {
		return "none"
	}
	return string(s)
}

// evaluate applies one message to rec (a private copy) and returns the reply text.
// rec is only committed by the caller when evaluate succeeds.
func (e *Engine) evaluate(ctx context.Context, log *zap.Logger, rec *conversation.Record, message string) (string, error) {
	rec.AppendTurn(message)

	switch rec.State {
	case conversation.StateInitialInquiry:
		text, err := e.complete(ctx, gateway.PurposeQuestions, questionsPrompt(rec.Turns))
		if err != nil {
			return "", err
		}
		rec.AskQuestions(conversation.ExtractQuestions(text))
		rec.State = conversation.StateClarifyingQuestions
		return text, nil

	case conversation.StateClarifyingQuestions:
		e.extractScope(ctx, log, rec, message)

		assessment, err := e.complete(ctx, gateway.PurposeAssess, assessPrompt(rec, message))
		if err != nil {
			return "", err
		}
		judged := conversation.ParseAssessment(assessment)
		if !judged.Ready {
			if judged.FollowUp == "" {
				return "", errors.NewGatewayUnavailable(string(gateway.PurposeAssess), fmt.Errorf("assessment had no marker and no questions"))
			}
			rec.AskQuestions(conversation.ExtractQuestions(judged.FollowUp))
			return judged.FollowUp, nil
		}

		proposal, err := e.complete(ctx, gateway.PurposeProposal, proposalPrompt(rec))
		if err != nil {
			return "", err
		}
		rec.ResolveClarifications()
		rec.State = conversation.StateProposalReview
		return proposal, nil

	case conversation.StateProposalReview:
		if conversation.IsApproval(message) {
			plan, err := e.complete(ctx, gateway.PurposePlan, planPrompt(rec))
			if err != nil {
				return "", err
			}
			rec.State = conversation.StateReadyToExecute
			return plan, nil
		}
		refined, err := e.complete(ctx, gateway.PurposeRefine, refinePrompt(rec, message))
		if err != nil {
			return "", err
		}
		rec.State = conversation.StateScopeRefinement
		return refined, nil

	case conversation.StateScopeRefinement:
		return e.complete(ctx, gateway.PurposeRefine, refinePrompt(rec, message))

	case conversation.StateReadyToExecute:
		return AwaitingExecutionText, nil
	}

	return "", errors.NewInternal(fmt.Errorf("conversation %s has unknown state %q", rec.ID, rec.State))
}

// complete calls the gateway and treats blank text as a failure.
func (e *Engine) complete(ctx context.Context, purpose gateway.Purpose, prompt string) (string, error) {
	text, err := e.gw.CompleteText(gateway.WithPurpose(ctx, purpose), prompt)
	if err != nil {
		return "", errors.NewGatewayUnavailable(string(purpose), err)
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.NewGatewayUnavailable(string(purpose), gateway.ErrEmptyResponse)
	}
	return text, nil
}

// extractScope merges whatever scope fields the model can pull from message.
// Failures leave the scope as it was.
func (e *Engine) extractScope(ctx context.Context, log *zap.Logger, rec *conversation.Record, message string) {
	text, err := e.complete(ctx, gateway.PurposeExtract, extractPrompt(message))
	if err != nil {
		log.Debug("scope extraction skipped", zap.Error(err))
		return
	}
	scope, err := parseScope(text)
	if err != nil {
		log.Debug("scope extraction unparseable", zap.Error(err))
		return
	}
	rec.Scope.Merge(scope)
}

// IsReady reports whether userID has an approved conversation. False for unknown users.
func (e *Engine) IsReady(userID string) bool {
	rec, ok := e.store.Get(userID)
	return ok && rec.State == conversation.StateReadyToExecute
}

// FinalScope synthesizes the project brief for an approved conversation.
// Anything other than READY_TO_EXECUTE yields NOT_READY without calling the model.
// The record is never modified, so a failed handoff can retry.
func (e *Engine) FinalScope(ctx context.Context, userID string) (*FinalScope, error) {
	userID = store.Key(userID)
	h, err := e.store.Acquire(ctx, userID)
	if err != nil {
		return nil, errors.NewCancelled("finalize")
	}
	defer h.Release()

	rec := h.Record()
	if rec == nil {
		return nil, errors.NewNotReady(userID, "")
	}
	if rec.State != conversation.StateReadyToExecute {
		return nil, errors.NewNotReady(userID, string(rec.State))
	}

	text, err := e.complete(ctx, gateway.PurposeBrief, briefPrompt(rec))
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewCancelled("finalize")
		}
		e.logger.Warn("brief synthesis failed", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	return &FinalScope{
		UserID:         userID,
		ConversationID: rec.ID,
		Text:           text,
		Scope:          rec.Scope,
		Turns:          rec.Turns,
		GeneratedAt:    e.now().Unix(),
	}, nil
}

// Reset removes the user's conversation. Unknown users are a no-op.
func (e *Engine) Reset(ctx context.Context, userID string) (*ResetOutput, error) {
	return e.reset(ctx, userID, "")
}

// ResetConversation removes the user's conversation only if it is still
// conversationID, so a handoff never deletes a conversation started after it.
func (e *Engine) ResetConversation(ctx context.Context, userID, conversationID string) (*ResetOutput, error) {
	return e.reset(ctx, userID, conversationID)
}

func (e *Engine) reset(ctx context.Context, userID, conversationID string) (*ResetOutput, error) {
	userID = store.Key(userID)
	h, err := e.store.Acquire(ctx, userID)
	if err != nil {
		return nil, errors.NewCancelled("reset")
	}
	defer h.Release()

	out := &ResetOutput{UserID: userID}
	rec := h.Record()
	if rec == nil {
		return out, nil
	}
	if conversationID != "" && rec.ID != conversationID {
		return out, nil
	}

	existed, err := h.Delete()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	out.Reset = existed
	out.State = rec.State
	e.logger.Info("conversation reset",
		zap.String("user_id", userID),
		zap.String("conversation_id", rec.ID),
		zap.String("state", string(rec.State)),
	)
	return out, nil
}

// Status returns a snapshot of the user's conversation.
func (e *Engine) Status(userID string) (*conversation.Record, error) {
	userID = store.Key(userID)
	rec, ok := e.store.Get(userID)
	if !ok {
		return nil, errors.NewNotFound(userID)
	}
	return rec, nil
}

// List returns snapshots of every conversation, most recently updated first.
func (e *Engine) List() []*conversation.Record {
	return e.store.List()
}
