package dispatch

import (
	"context"
	"database/sql"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/scoper/internal/brief"
	"github.com/hpungsan/scoper/internal/conversation"
	"github.com/hpungsan/scoper/internal/db"
	"github.com/hpungsan/scoper/internal/engine"
	"github.com/hpungsan/scoper/internal/errors"
	"github.com/hpungsan/scoper/internal/gateway"
	"github.com/hpungsan/scoper/internal/gateway/gatewaytest"
	"github.com/hpungsan/scoper/internal/metrics"
	"github.com/hpungsan/scoper/internal/ops"
	"github.com/hpungsan/scoper/internal/store"
)

func TestMain(m *testing.M) {
	// genai pulls in opencensus, which starts its view worker at init
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// recordingPipeline counts starts and can be told to fail.
type recordingPipeline struct {
	starts atomic.Int32
	last   atomic.Pointer[brief.Brief]
	err    error
}

func (p *recordingPipeline) Start(_ context.Context, b *brief.Brief) error {
	p.starts.Add(1)
	p.last.Store(b)
	return p.err
}

type fixture struct {
	st       *store.Store
	eng      *engine.Engine
	fake     *gatewaytest.Fake
	pipeline *recordingPipeline
	rec      *metrics.Recorder
	database *sql.DB
	d        *Dispatcher
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		st:       store.New(),
		fake:     gatewaytest.New(),
		pipeline: &recordingPipeline{},
		rec:      metrics.New(),
	}
	f.eng = engine.New(f.st, f.fake, engine.WithMetrics(f.rec))

	database, err := db.Init(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("db.Init() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	f.database = database

	f.d = New(f.eng, f.pipeline,
		WithMetrics(f.rec),
		WithArchive(database),
		WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
	)
	return f
}

// dispatchCount reads scoper_dispatch_total{status} from the recorder's registry.
func dispatchCount(t *testing.T, rec *metrics.Recorder, status string) float64 {
	t.Helper()
	families, err := rec.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "scoper_dispatch_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "status" && lp.GetValue() == status {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func (f *fixture) seed(t *testing.T, userID string, state conversation.State) *conversation.Record {
	t.Helper()
	rec := conversation.NewRecord("conv-"+userID, userID, time.Unix(1, 0))
	rec.State = state
	rec.AppendTurn("I need a market sizing")
	rec.AppendTurn("approve")
	if err := f.st.Upsert(context.Background(), userID, rec); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	return rec
}

func TestExecute_HappyPath(t *testing.T) {
	f := setup(t)
	f.seed(t, "u1", conversation.StateReadyToExecute)

	res, err := f.d.Execute(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if f.pipeline.starts.Load() != 1 {
		t.Errorf("pipeline starts = %d, want 1", f.pipeline.starts.Load())
	}
	b := f.pipeline.last.Load()
	if b.ConversationID != "conv-u1" || b.UserNorm != "u1" {
		t.Errorf("brief = %+v", b)
	}
	if len(b.Turns) != 2 {
		t.Errorf("brief turns = %v", b.Turns)
	}

	if !res.Archived || !res.Reset || res.BriefID != b.ID {
		t.Errorf("Result = %+v", res)
	}
	if res.BriefText != gatewaytest.DefaultResponses[gateway.PurposeBrief] {
		t.Errorf("BriefText = %q", res.BriefText)
	}

	// Conversation is gone, brief is archived
	if f.st.Contains("u1") {
		t.Error("conversation should be reset after handoff")
	}
	archived, err := ops.Fetch(context.Background(), f.database, ops.FetchInput{ID: res.BriefID})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if archived.CreatedAt != 1700000000 {
		t.Errorf("CreatedAt = %d", archived.CreatedAt)
	}

	if got := dispatchCount(t, f.rec, metrics.StatusSuccess); got != 1 {
		t.Errorf("dispatch success = %v, want 1", got)
	}
}

func TestExecute_NotReady(t *testing.T) {
	tests := []struct {
		name  string
		state conversation.State
		seed  bool
	}{
		{"unknown user", "", false},
		{"initial", conversation.StateInitialInquiry, true},
		{"clarifying", conversation.StateClarifyingQuestions, true},
		{"proposal", conversation.StateProposalReview, true},
		{"refinement", conversation.StateScopeRefinement, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			if tt.seed {
				f.seed(t, "u1", tt.state)
			}

			_, err := f.d.Execute(context.Background(), "u1")
			if !errors.Is(err, errors.ErrNotReady) {
				t.Fatalf("Execute() error = %v, want NOT_READY", err)
			}
			if f.pipeline.starts.Load() != 0 {
				t.Error("pipeline must not start for an unapproved conversation")
			}
			if f.fake.CallCount() != 0 {
				t.Error("no brief should be synthesized")
			}
			if tt.seed {
				rec, _ := f.st.Get("u1")
				if rec.State != tt.state {
					t.Errorf("state changed to %s", rec.State)
				}
			}
			if got := dispatchCount(t, f.rec, metrics.StatusRejected); got != 1 {
				t.Errorf("dispatch rejected = %v, want 1", got)
			}
		})
	}
}

func TestExecute_InvalidUser(t *testing.T) {
	f := setup(t)
	if _, err := f.d.Execute(context.Background(), "  "); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("error = %v, want INVALID_REQUEST", err)
	}
}

func TestExecute_PipelineFailureKeepsRecord(t *testing.T) {
	f := setup(t)
	f.seed(t, "u1", conversation.StateReadyToExecute)
	f.pipeline.err = stderrors.New("no responders")

	_, err := f.d.Execute(context.Background(), "u1")
	if !errors.Is(err, errors.ErrPipelineFailed) {
		t.Fatalf("Execute() error = %v, want PIPELINE_FAILED", err)
	}

	rec, ok := f.st.Get("u1")
	if !ok || rec.State != conversation.StateReadyToExecute {
		t.Fatalf("record = %+v, want kept in READY_TO_EXECUTE", rec)
	}
	list, err := ops.List(context.Background(), f.database, ops.ListInput{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if list.Pagination.Total != 0 {
		t.Error("nothing should be archived when the pipeline fails")
	}

	// Retry succeeds once the pipeline recovers
	f.pipeline.err = nil
	if _, err := f.d.Execute(context.Background(), "u1"); err != nil {
		t.Fatalf("retry Execute() error = %v", err)
	}
	if f.st.Contains("u1") {
		t.Error("record should be reset after the retry")
	}
	if got := dispatchCount(t, f.rec, metrics.StatusError); got != 1 {
		t.Errorf("dispatch error = %v, want 1", got)
	}
}

func TestExecute_FinalizeFailureKeepsRecord(t *testing.T) {
	f := setup(t)
	f.seed(t, "u1", conversation.StateReadyToExecute)
	f.fake.QueueError(gateway.PurposeBrief, stderrors.New("overloaded"))

	_, err := f.d.Execute(context.Background(), "u1")
	if !errors.Is(err, errors.ErrGatewayUnavailable) {
		t.Fatalf("Execute() error = %v, want GATEWAY_UNAVAILABLE", err)
	}
	if f.pipeline.starts.Load() != 0 {
		t.Error("pipeline must not start when finalize fails")
	}
	if !f.eng.IsReady("u1") {
		t.Error("record should still be ready")
	}
}

func TestExecute_Cancelled(t *testing.T) {
	f := setup(t)
	f.seed(t, "u1", conversation.StateReadyToExecute)
	release := f.fake.Hold()
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.d.Execute(ctx, "u1"); !errors.Is(err, errors.ErrCancelled) {
		t.Fatalf("Execute() error = %v, want CANCELLED", err)
	}
	if f.pipeline.starts.Load() != 0 {
		t.Error("pipeline must not start on a cancelled call")
	}
}

func TestExecute_ConcurrentCallsStartPipelineOnce(t *testing.T) {
	f := setup(t)
	f.seed(t, "u1", conversation.StateReadyToExecute)
	release := f.fake.Hold()

	const n = 10
	var succeeded, rejected atomic.Int32
	var g errgroup.Group
	for range n {
		g.Go(func() error {
			_, err := f.d.Execute(context.Background(), "u1")
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, errors.ErrNotReady):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}

	time.Sleep(20 * time.Millisecond)
	release()
	if err := g.Wait(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if f.pipeline.starts.Load() != 1 {
		t.Errorf("pipeline starts = %d, want exactly 1", f.pipeline.starts.Load())
	}
	if succeeded.Load() < 1 || succeeded.Load()+rejected.Load() != n {
		t.Errorf("succeeded = %d, rejected = %d", succeeded.Load(), rejected.Load())
	}
}

func TestExecute_JoinedCallerSurvivesOtherCancellation(t *testing.T) {
	f := setup(t)
	f.seed(t, "u1", conversation.StateReadyToExecute)
	release := f.fake.Hold()
	defer release()

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	first := make(chan error, 1)
	go func() {
		_, err := f.d.Execute(ctx1, "u1")
		first <- err
	}()
	for f.fake.CallCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	second := make(chan error, 1)
	go func() {
		_, err := f.d.Execute(context.Background(), "u1")
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel1()
	if err := <-first; !errors.Is(err, errors.ErrCancelled) {
		t.Fatalf("first Execute() error = %v, want CANCELLED", err)
	}
	release()
	if err := <-second; err != nil {
		t.Fatalf("second Execute() error = %v, want success", err)
	}

	if f.pipeline.starts.Load() != 1 {
		t.Errorf("pipeline starts = %d, want 1", f.pipeline.starts.Load())
	}
	if f.eng.IsReady("u1") {
		t.Error("conversation should be reset after the handoff")
	}
}

func TestExecute_PaddedUserID(t *testing.T) {
	f := setup(t)
	f.seed(t, " alice ", conversation.StateReadyToExecute)

	if !f.eng.IsReady(" alice") {
		t.Fatal("IsReady() = false for padded id")
	}
	res, err := f.d.Execute(context.Background(), " alice")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.UserID != "alice" {
		t.Errorf("UserID = %q, want alice", res.UserID)
	}
	if f.pipeline.starts.Load() != 1 {
		t.Errorf("pipeline starts = %d, want 1", f.pipeline.starts.Load())
	}
	if f.st.Contains("alice") {
		t.Error("conversation should be reset after the handoff")
	}
}

func TestExecute_NoArchive(t *testing.T) {
	f := setup(t)
	d := New(f.eng, f.pipeline)
	f.seed(t, "u1", conversation.StateReadyToExecute)

	res, err := d.Execute(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Archived {
		t.Error("Archived should be false without an archive database")
	}
	if !res.Reset {
		t.Error("conversation should still be reset")
	}
}

func TestExecute_ResetKeepsNewerConversation(t *testing.T) {
	f := setup(t)
	f.seed(t, "u1", conversation.StateReadyToExecute)

	// A new conversation replaces the approved one while the brief is being handed off
	f.pipeline.err = nil
	d := New(f.eng, PipelineFunc(func(ctx context.Context, b *brief.Brief) error {
		if _, err := f.eng.Reset(ctx, "u1"); err != nil {
			return err
		}
		_, err := f.eng.Start(ctx, "u1", "a brand new request")
		return err
	}))

	res, err := d.Execute(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Reset {
		t.Error("Reset should be false when the conversation changed")
	}
	rec, ok := f.st.Get("u1")
	if !ok || rec.State != conversation.StateClarifyingQuestions {
		t.Errorf("newer conversation lost: %+v", rec)
	}
}

func TestNew_DefaultsToLogPipeline(t *testing.T) {
	d := New(nil, nil)
	if _, ok := d.pipeline.(LogPipeline); !ok {
		t.Errorf("pipeline = %T, want LogPipeline", d.pipeline)
	}
}
