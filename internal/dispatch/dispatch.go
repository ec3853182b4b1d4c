// Package dispatch is the approval gate between a finished conversation and
// the analysis pipeline.
package dispatch

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hpungsan/scoper/internal/brief"
	"github.com/hpungsan/scoper/internal/conversation"
	"github.com/hpungsan/scoper/internal/engine"
	"github.com/hpungsan/scoper/internal/errors"
	"github.com/hpungsan/scoper/internal/logging"
	"github.com/hpungsan/scoper/internal/metrics"
	"github.com/hpungsan/scoper/internal/ops"
	"github.com/hpungsan/scoper/internal/store"
)

// Engine is the part of the conversation engine the gate drives.
type Engine interface {
	IsReady(userID string) bool
	Status(userID string) (*conversation.Record, error)
	FinalScope(ctx context.Context, userID string) (*engine.FinalScope, error)
	ResetConversation(ctx context.Context, userID, conversationID string) (*engine.ResetOutput, error)
}

// Result describes one successful handoff.
type Result struct {
	UserID          string   `json:"user_id"`
	ConversationID  string   `json:"conversation_id"`
	BriefID         string   `json:"brief_id"`
	BriefText       string   `json:"brief_text"`
	MissingSections []string `json:"missing_sections,omitempty"`
	Archived        bool     `json:"archived"`
	Reset           bool     `json:"reset"`
	// Shared is true when this call joined a handoff already in flight.
	Shared bool `json:"shared,omitempty"`
}

// maxSharedAttempts bounds how often a caller re-runs a handoff that another
// caller's cancellation aborted.
const maxSharedAttempts = 3

// Dispatcher runs the handoff for approved conversations.
type Dispatcher struct {
	engine   Engine
	pipeline Pipeline
	database *sql.DB
	logger   *zap.Logger
	metrics  *metrics.Recorder
	now      func() time.Time
	newID    func() (string, error)
	flight   singleflight.Group
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = logging.OrNop(l) }
}

// WithMetrics records dispatch outcomes.
func WithMetrics(r *metrics.Recorder) Option {
	return func(d *Dispatcher) { d.metrics = r }
}

// WithArchive stores every handed-off brief in the archive database.
func WithArchive(database *sql.DB) Option {
	return func(d *Dispatcher) { d.database = database }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithIDGenerator overrides brief id generation.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(d *Dispatcher) { d.newID = fn }
}

// New returns a Dispatcher. A nil pipeline falls back to LogPipeline.
func New(eng Engine, pipeline Pipeline, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		engine:   eng,
		pipeline: pipeline,
		logger:   logging.Nop(),
		now:      time.Now,
		newID:    ops.NewID,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.pipeline == nil {
		d.pipeline = LogPipeline{Logger: d.logger}
	}
	return d
}

// Execute hands an approved conversation to the pipeline:
// ready check → brief synthesis → pipeline start → archive → reset.
//
// Unknown or unapproved users get NOT_READY and the pipeline is not touched.
// A failure before the pipeline accepts the brief keeps the conversation so
// the caller can retry. Concurrent calls for one user share a single run.
func (d *Dispatcher) Execute(ctx context.Context, userID string) (*Result, error) {
	userID = store.Key(userID)
	if userID == "" {
		return nil, errors.NewInvalidRequest("user_id is required")
	}

	for attempt := 1; ; attempt++ {
		v, err, shared := d.flight.Do(userID, func() (any, error) {
			return d.execute(ctx, userID)
		})
		// A joined run carries the first caller's ctx. If that caller went
		// away the handoff never reached the pipeline, so a live caller runs it again.
		if shared && errors.Is(err, errors.ErrCancelled) && ctx.Err() == nil && attempt < maxSharedAttempts {
			continue
		}
		if err != nil {
			return nil, err
		}

		res := *v.(*Result)
		res.Shared = shared
		return &res, nil
	}
}

func (d *Dispatcher) execute(ctx context.Context, userID string) (*Result, error) {
	log := d.logger.With(zap.String("user_id", userID))

	if !d.engine.IsReady(userID) {
		state := ""
		if rec, err := d.engine.Status(userID); err == nil {
			state = string(rec.State)
		}
		log.Info("execute rejected", zap.String("state", state))
		d.metrics.ObserveDispatch(metrics.StatusRejected)
		return nil, errors.NewNotReady(userID, state)
	}

	final, err := d.engine.FinalScope(ctx, userID)
	if err != nil {
		return nil, d.fail(log, "finalize", err)
	}

	id, err := d.newID()
	if err != nil {
		return nil, d.fail(log, "id", errors.NewInternal(err))
	}
	b := brief.New(brief.NewInput{
		ID:             id,
		UserID:         final.UserID,
		ConversationID: final.ConversationID,
		Text:           final.Text,
		Scope:          final.Scope,
		Turns:          final.Turns,
		Now:            d.now(),
	})
	if len(b.MissingSections) > 0 {
		log.Warn("brief is missing sections", zap.Strings("missing", b.MissingSections))
	}

	if err := d.pipeline.Start(ctx, b); err != nil {
		if ctx.Err() != nil {
			return nil, d.fail(log, "pipeline", errors.NewCancelled("execute"))
		}
		return nil, d.fail(log, "pipeline", errors.NewPipelineFailed(err))
	}

	// The pipeline owns the brief now; finish bookkeeping even if the caller goes away
	after := context.WithoutCancel(ctx)

	res := &Result{
		UserID:          final.UserID,
		ConversationID:  final.ConversationID,
		BriefID:         b.ID,
		BriefText:       b.BriefText,
		MissingSections: b.MissingSections,
	}

	if d.database != nil {
		out, err := ops.Archive(after, d.database, b)
		if err != nil {
			// The record stays READY; a retry republishes under the same message id
			return nil, d.fail(log, "archive", err)
		}
		res.BriefID = out.ID
		res.Archived = true
	}

	reset, err := d.engine.ResetConversation(after, userID, final.ConversationID)
	if err != nil {
		log.Warn("reset after handoff failed", zap.Error(err))
	} else {
		res.Reset = reset.Reset
	}

	log.Info("execute dispatched",
		zap.String("conversation_id", res.ConversationID),
		zap.String("brief_id", res.BriefID),
		zap.Bool("archived", res.Archived),
	)
	d.metrics.ObserveDispatch(metrics.StatusSuccess)
	return res, nil
}

func (d *Dispatcher) fail(log *zap.Logger, stage string, err error) error {
	log.Warn("execute failed", zap.String("stage", stage), zap.Error(err))
	if errors.Is(err, errors.ErrNotReady) {
		d.metrics.ObserveDispatch(metrics.StatusRejected)
	} else {
		d.metrics.ObserveDispatch(metrics.StatusError)
	}
	return err
}
