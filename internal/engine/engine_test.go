package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/scoper/internal/conversation"
	"github.com/hpungsan/scoper/internal/errors"
	"github.com/hpungsan/scoper/internal/gateway"
	"github.com/hpungsan/scoper/internal/gateway/gatewaytest"
	"github.com/hpungsan/scoper/internal/metrics"
	"github.com/hpungsan/scoper/internal/store"
)

func TestMain(m *testing.M) {
	// genai pulls in opencensus, which starts its view worker at init
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func setup(t *testing.T) (*Engine, *store.Store, *gatewaytest.Fake) {
	t.Helper()
	st := store.New()
	fake := gatewaytest.New()
	n := 0
	eng := New(st, fake,
		WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("conv-%d", n) }),
	)
	return eng, st, fake
}

// seed stores a record for userID in the given state with one turn.
func seed(t *testing.T, st *store.Store, userID string, state conversation.State) *conversation.Record {
	t.Helper()
	rec := conversation.NewRecord("seed-"+userID, userID, time.Unix(1, 0))
	rec.State = state
	rec.AppendTurn("earlier message")
	if err := st.Upsert(context.Background(), userID, rec); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	return rec
}

func TestStart_CreatesRecord(t *testing.T) {
	eng, st, fake := setup(t)

	reply, err := eng.Start(context.Background(), "u1", "I need a market sizing for EV chargers")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !reply.Created {
		t.Error("Created = false, want true")
	}
	if reply.State != conversation.StateClarifyingQuestions {
		t.Errorf("State = %s, want CLARIFYING_QUESTIONS", reply.State)
	}
	if reply.PreviousState != "" {
		t.Errorf("PreviousState = %q, want empty", reply.PreviousState)
	}
	if fake.CallsFor(gateway.PurposeQuestions) != 1 {
		t.Errorf("questions calls = %d, want 1", fake.CallsFor(gateway.PurposeQuestions))
	}

	rec, ok := st.Get("u1")
	if !ok {
		t.Fatal("record not stored")
	}
	if rec.ID != "conv-1" {
		t.Errorf("ID = %q, want conv-1", rec.ID)
	}
	if len(rec.QuestionsAsked) != 3 {
		t.Errorf("QuestionsAsked = %v, want 3 from the fake's default", rec.QuestionsAsked)
	}
	if len(rec.PendingClarifications) != 3 {
		t.Errorf("PendingClarifications = %v, want 3", rec.PendingClarifications)
	}
}

func TestStart_OnExistingRecordActsLikeContinue(t *testing.T) {
	eng, st, fake := setup(t)
	seed(t, st, "u1", conversation.StateClarifyingQuestions)

	reply, err := eng.Start(context.Background(), "u1", "more detail")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if reply.Created {
		t.Error("Start on an existing record must not create a new one")
	}
	if fake.CallsFor(gateway.PurposeQuestions) != 0 {
		t.Error("Start on an existing record must not regenerate opening questions")
	}
	rec, _ := st.Get("u1")
	if rec.ID != "seed-u1" || len(rec.Turns) != 2 {
		t.Errorf("record = %s with %d turns, want seed-u1 with 2", rec.ID, len(rec.Turns))
	}
}

func TestContinue_UnknownUserIsImplicitStart(t *testing.T) {
	engA, stA, _ := setup(t)
	engB, stB, _ := setup(t)
	ctx := context.Background()

	a, err := engA.Start(ctx, "u", "hello")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	b, err := engB.Continue(ctx, "u", "hello")
	if err != nil {
		t.Fatalf("Continue() error = %v", err)
	}

	if *a != *b {
		t.Errorf("Start reply %+v != Continue reply %+v", a, b)
	}
	recA, _ := stA.Get("u")
	recB, _ := stB.Get("u")
	if recA.State != recB.State || len(recA.Turns) != len(recB.Turns) {
		t.Errorf("records differ: %+v vs %+v", recA, recB)
	}
}

func TestClarifying_NeedsMore(t *testing.T) {
	eng, st, fake := setup(t)
	seed(t, st, "u1", conversation.StateClarifyingQuestions)
	fake.Queue(gateway.PurposeAssess, "CLARIFY: Who approves the budget?")

	reply, err := eng.Continue(context.Background(), "u1", "We are a real estate firm")
	if err != nil {
		t.Fatalf("Continue() error = %v", err)
	}
	if reply.State != conversation.StateClarifyingQuestions {
		t.Errorf("State = %s, want CLARIFYING_QUESTIONS", reply.State)
	}
	if reply.Text != "Who approves the budget?" {
		t.Errorf("Text = %q, want follow-up without CLARIFY prefix", reply.Text)
	}
	if fake.CallsFor(gateway.PurposeProposal) != 0 {
		t.Error("no proposal should be generated without the marker")
	}

	rec, _ := st.Get("u1")
	if len(rec.PendingClarifications) != 1 || rec.PendingClarifications[0] != "Who approves the budget?" {
		t.Errorf("PendingClarifications = %v", rec.PendingClarifications)
	}
}

func TestClarifying_MarkerAnywhereAdvances(t *testing.T) {
	eng, st, fake := setup(t)
	rec := seed(t, st, "u1", conversation.StateClarifyingQuestions)
	rec.AskQuestions([]string{"Timeline?"})
	_ = st.Upsert(context.Background(), "u1", rec)

	fake.Queue(gateway.PurposeAssess, "I think we have what we need.\nPROPOSAL_READY\n")
	fake.Queue(gateway.PurposeProposal, "Here is the proposal.")

	reply, err := eng.Continue(context.Background(), "u1", "3 weeks, board presentation")
	if err != nil {
		t.Fatalf("Continue() error = %v", err)
	}
	if reply.State != conversation.StateProposalReview {
		t.Errorf("State = %s, want PROPOSAL_REVIEW", reply.State)
	}
	if reply.Text != "Here is the proposal." {
		t.Errorf("Text = %q", reply.Text)
	}

	got, _ := st.Get("u1")
	if len(got.PendingClarifications) != 0 {
		t.Errorf("PendingClarifications = %v, want empty in PROPOSAL_REVIEW", got.PendingClarifications)
	}
	if len(got.QuestionsAsked) != 1 {
		t.Errorf("QuestionsAsked = %v, must be preserved", got.QuestionsAsked)
	}
}

func TestClarifying_ScopeExtraction(t *testing.T) {
	eng, st, fake := setup(t)
	seed(t, st, "u1", conversation.StateClarifyingQuestions)
	fake.Queue(gateway.PurposeExtract, "Sure! ```json\n{\"industry\": \"real estate\", \"timeline\": \"3 weeks\", \"deliverables\": [\"deck\", \"model\"]}\n```")

	if _, err := eng.Continue(context.Background(), "u1", "real estate, 3 weeks"); err != nil {
		t.Fatalf("Continue() error = %v", err)
	}

	rec, _ := st.Get("u1")
	if rec.Scope.Industry != "real estate" || rec.Scope.Timeline != "3 weeks" {
		t.Errorf("Scope = %+v", rec.Scope)
	}
	if len(rec.Scope.Deliverables) != 2 {
		t.Errorf("Deliverables = %v", rec.Scope.Deliverables)
	}
}

func TestClarifying_ExtractionFailureTolerated(t *testing.T) {
	eng, st, fake := setup(t)
	seed(t, st, "u1", conversation.StateClarifyingQuestions)
	fake.QueueError(gateway.PurposeExtract, stderrors.New("timeout"))

	reply, err := eng.Continue(context.Background(), "u1", "answer")
	if err != nil {
		t.Fatalf("Continue() error = %v", err)
	}
	if reply.Retry {
		t.Error("extraction failure must not force a retry reply")
	}
	rec, _ := st.Get("u1")
	if len(rec.Turns) != 2 {
		t.Errorf("Turns = %d, want 2", len(rec.Turns))
	}
	if !rec.Scope.IsEmpty() {
		t.Errorf("Scope = %+v, want untouched", rec.Scope)
	}
}

func TestProposalReview_Approval(t *testing.T) {
	eng, st, fake := setup(t)
	seed(t, st, "u1", conversation.StateProposalReview)

	reply, err := eng.Continue(context.Background(), "u1", "Looks good, go ahead")
	if err != nil {
		t.Fatalf("Continue() error = %v", err)
	}
	if reply.State != conversation.StateReadyToExecute || !reply.Ready {
		t.Errorf("reply = %+v, want READY_TO_EXECUTE and Ready", reply)
	}
	if fake.CallsFor(gateway.PurposePlan) != 1 {
		t.Error("execution plan should be generated once")
	}
	if !eng.IsReady("u1") {
		t.Error("IsReady = false after approval")
	}
}

func TestProposalReview_ChangeRequest(t *testing.T) {
	eng, st, fake := setup(t)
	seed(t, st, "u1", conversation.StateProposalReview)

	reply, err := eng.Continue(context.Background(), "u1", "can we extend the timeline?")
	if err != nil {
		t.Fatalf("Continue() error = %v", err)
	}
	if reply.State != conversation.StateScopeRefinement {
		t.Errorf("State = %s, want SCOPE_REFINEMENT", reply.State)
	}
	if fake.CallsFor(gateway.PurposeRefine) != 1 {
		t.Error("refinement reply should be generated")
	}
	if eng.IsReady("u1") {
		t.Error("IsReady must stay false")
	}
}

func TestScopeRefinement_NeverReachesReady(t *testing.T) {
	eng, st, _ := setup(t)
	seed(t, st, "u1", conversation.StateScopeRefinement)

	for _, msg := range []string{"approve", "yes proceed", "looks good"} {
		reply, err := eng.Continue(context.Background(), "u1", msg)
		if err != nil {
			t.Fatalf("Continue(%q) error = %v", msg, err)
		}
		if reply.State != conversation.StateScopeRefinement {
			t.Fatalf("Continue(%q) state = %s, want SCOPE_REFINEMENT", msg, reply.State)
		}
	}
	if eng.IsReady("u1") {
		t.Error("SCOPE_REFINEMENT must not become ready on its own")
	}
}

func TestReady_IsAbsorbing(t *testing.T) {
	eng, st, fake := setup(t)
	seed(t, st, "u1", conversation.StateReadyToExecute)

	for i, msg := range []string{"hello?", "actually, change everything", "approve"} {
		reply, err := eng.Continue(context.Background(), "u1", msg)
		if err != nil {
			t.Fatalf("Continue() error = %v", err)
		}
		if reply.State != conversation.StateReadyToExecute {
			t.Fatalf("state = %s after message %d", reply.State, i)
		}
		if reply.Text != AwaitingExecutionText {
			t.Errorf("Text = %q, want awaiting-execution text", reply.Text)
		}
	}
	if fake.CallCount() != 0 {
		t.Errorf("gateway calls = %d, want 0", fake.CallCount())
	}
	rec, _ := st.Get("u1")
	if len(rec.Turns) != 4 {
		t.Errorf("Turns = %d, want 4 (messages are still appended)", len(rec.Turns))
	}
}

func TestInitialInquiry_TreatedAsStart(t *testing.T) {
	eng, st, fake := setup(t)
	seed(t, st, "u1", conversation.StateInitialInquiry)

	reply, err := eng.Continue(context.Background(), "u1", "here is my request")
	if err != nil {
		t.Fatalf("Continue() error = %v", err)
	}
	if reply.State != conversation.StateClarifyingQuestions {
		t.Errorf("State = %s, want CLARIFYING_QUESTIONS", reply.State)
	}
	if fake.CallsFor(gateway.PurposeQuestions) != 1 {
		t.Error("opening questions expected")
	}
}

func TestGatewayFailure_LeavesRecordUntouched(t *testing.T) {
	tests := []struct {
		name    string
		state   conversation.State
		purpose gateway.Purpose
		message string
	}{
		{"assess fails", conversation.StateClarifyingQuestions, gateway.PurposeAssess, "answer"},
		{"plan fails", conversation.StateProposalReview, gateway.PurposePlan, "approve"},
		{"refine fails", conversation.StateProposalReview, gateway.PurposeRefine, "change it"},
		{"refinement fails", conversation.StateScopeRefinement, gateway.PurposeRefine, "more"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, st, fake := setup(t)
			before := seed(t, st, "u1", tt.state)
			fake.QueueError(tt.purpose, stderrors.New("503 Service Unavailable"))

			reply, err := eng.Continue(context.Background(), "u1", tt.message)
			if err != nil {
				t.Fatalf("Continue() error = %v, want nil", err)
			}
			if !reply.Retry || reply.Text != RetryText {
				t.Errorf("reply = %+v, want retry", reply)
			}
			if reply.State != tt.state {
				t.Errorf("State = %s, want %s", reply.State, tt.state)
			}

			after, _ := st.Get("u1")
			if after.State != before.State || len(after.Turns) != len(before.Turns) {
				t.Errorf("record changed: %+v -> %+v", before, after)
			}
		})
	}
}

func TestGatewayFailure_ProposalAfterMarker(t *testing.T) {
	eng, st, fake := setup(t)
	seed(t, st, "u1", conversation.StateClarifyingQuestions)
	fake.Queue(gateway.PurposeAssess, "PROPOSAL_READY")
	fake.QueueError(gateway.PurposeProposal, stderrors.New("boom"))

	reply, err := eng.Continue(context.Background(), "u1", "enough info")
	if err != nil {
		t.Fatalf("Continue() error = %v", err)
	}
	if !reply.Retry {
		t.Fatal("want retry reply")
	}
	rec, _ := st.Get("u1")
	if rec.State != conversation.StateClarifyingQuestions || len(rec.Turns) != 1 {
		t.Errorf("record = %s/%d turns, want unchanged", rec.State, len(rec.Turns))
	}
}

func TestGatewayFailure_OnFirstMessageCreatesNothing(t *testing.T) {
	eng, st, fake := setup(t)
	fake.QueueError(gateway.PurposeQuestions, stderrors.New("boom"))

	reply, err := eng.Start(context.Background(), "u1", "hello")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !reply.Retry || reply.Created {
		t.Errorf("reply = %+v, want Retry without Created", reply)
	}
	if st.Contains("u1") {
		t.Error("no record should exist after a failed first message")
	}
}

func TestMalformedResponses(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"blank", "   "},
		{"clarify without questions", "CLARIFY:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, st, fake := setup(t)
			seed(t, st, "u1", conversation.StateClarifyingQuestions)
			fake.Queue(gateway.PurposeAssess, tt.response)

			reply, err := eng.Continue(context.Background(), "u1", "answer")
			if err != nil {
				t.Fatalf("Continue() error = %v", err)
			}
			if !reply.Retry {
				t.Errorf("reply = %+v, want retry", reply)
			}
			rec, _ := st.Get("u1")
			if len(rec.Turns) != 1 {
				t.Errorf("Turns = %d, want 1", len(rec.Turns))
			}
		})
	}
}

func TestCancellation_NoPartialWrite(t *testing.T) {
	eng, st, fake := setup(t)
	seed(t, st, "u1", conversation.StateClarifyingQuestions)
	release := fake.Hold()
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := eng.Continue(ctx, "u1", "slow answer")
		done <- err
	}()

	// Wait until the engine is inside the gateway
	deadline := time.Now().Add(2 * time.Second)
	for fake.CallCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	err := <-done
	if !errors.Is(err, errors.ErrCancelled) {
		t.Fatalf("error = %v, want CANCELLED", err)
	}
	rec, _ := st.Get("u1")
	if len(rec.Turns) != 1 || rec.State != conversation.StateClarifyingQuestions {
		t.Errorf("record = %s/%d turns, want last committed state", rec.State, len(rec.Turns))
	}

	// A later message resumes from the committed state
	release()
	reply, err := eng.Continue(context.Background(), "u1", "retry")
	if err != nil {
		t.Fatalf("Continue() error = %v", err)
	}
	if reply.Turns != 2 {
		t.Errorf("Turns = %d, want 2", reply.Turns)
	}
}

func TestCancellation_WhileWaitingForLock(t *testing.T) {
	eng, st, _ := setup(t)
	h, err := st.Acquire(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer h.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := eng.Continue(ctx, "u1", "hello"); !errors.Is(err, errors.ErrCancelled) {
		t.Errorf("error = %v, want CANCELLED", err)
	}
}

func TestInvalidInput(t *testing.T) {
	eng, _, fake := setup(t)

	if _, err := eng.Continue(context.Background(), "", "hi"); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("empty user error = %v, want INVALID_REQUEST", err)
	}
	if _, err := eng.Continue(context.Background(), "u1", "  "); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("empty message error = %v, want INVALID_REQUEST", err)
	}
	if fake.CallCount() != 0 {
		t.Error("invalid input must not reach the gateway")
	}
}

func TestUnknownState_IsInternalError(t *testing.T) {
	eng, st, fake := setup(t)
	seed(t, st, "u1", conversation.State("LIMBO"))

	_, err := eng.Continue(context.Background(), "u1", "hello")
	if !errors.Is(err, errors.ErrInternal) {
		t.Fatalf("error = %v, want INTERNAL", err)
	}
	if fake.CallCount() != 0 {
		t.Error("unknown state must not reach the gateway")
	}
	rec, _ := st.Get("u1")
	if len(rec.Turns) != 1 {
		t.Error("unknown state must not be written")
	}
}

func TestIsReady(t *testing.T) {
	eng, st, _ := setup(t)

	if eng.IsReady("ghost") {
		t.Error("IsReady(unknown) = true")
	}
	for _, s := range conversation.AllStates() {
		seed(t, st, "u", s)
		if got, want := eng.IsReady("u"), s == conversation.StateReadyToExecute; got != want {
			t.Errorf("IsReady in %s = %v, want %v", s, got, want)
		}
	}
}

func TestPaddedUserID_SharesOneConversation(t *testing.T) {
	eng, st, fake := setup(t)
	fake.Queue(gateway.PurposeAssess, "PROPOSAL_READY")
	ctx := context.Background()

	for _, msg := range []struct{ user, text string }{
		{" alice", "I need a market sizing"},
		{"alice ", "Retail, four weeks"},
		{"\talice", "approve"},
	} {
		if _, err := eng.Continue(ctx, msg.user, msg.text); err != nil {
			t.Fatalf("Continue(%q) error = %v", msg.user, err)
		}
	}

	if st.Len() != 1 {
		t.Fatalf("store has %d records, want 1", st.Len())
	}
	rec, err := eng.Status(" alice ")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if rec.UserID != "alice" || len(rec.Turns) != 3 {
		t.Errorf("record = %q with %d turns, want alice with 3", rec.UserID, len(rec.Turns))
	}
	if !eng.IsReady("alice") {
		t.Fatal("IsReady(alice) = false")
	}
	if _, err := eng.FinalScope(ctx, "alice  "); err != nil {
		t.Errorf("FinalScope() error = %v", err)
	}
	if out, err := eng.Reset(ctx, " alice"); err != nil || !out.Reset {
		t.Errorf("Reset() = %+v, %v", out, err)
	}
}

func TestFinalScope_NotReady(t *testing.T) {
	eng, st, fake := setup(t)
	before := seed(t, st, "u1", conversation.StateClarifyingQuestions)

	_, err := eng.FinalScope(context.Background(), "u1")
	if !errors.Is(err, errors.ErrNotReady) {
		t.Fatalf("error = %v, want NOT_READY", err)
	}
	if fake.CallCount() != 0 {
		t.Errorf("gateway calls = %d, want 0", fake.CallCount())
	}
	after, _ := st.Get("u1")
	if after.State != before.State || len(after.Turns) != len(before.Turns) || after.UpdatedAt != before.UpdatedAt {
		t.Errorf("record mutated: %+v -> %+v", before, after)
	}

	_, err = eng.FinalScope(context.Background(), "ghost")
	if !errors.Is(err, errors.ErrNotReady) {
		t.Errorf("unknown user error = %v, want NOT_READY", err)
	}
}

func TestFinalScope_Ready(t *testing.T) {
	eng, st, fake := setup(t)
	seed(t, st, "u1", conversation.StateReadyToExecute)

	fs, err := eng.FinalScope(context.Background(), "u1")
	if err != nil {
		t.Fatalf("FinalScope() error = %v", err)
	}
	if !strings.Contains(fs.Text, "Objective") {
		t.Errorf("Text = %q, want brief", fs.Text)
	}
	if fs.ConversationID != "seed-u1" {
		t.Errorf("ConversationID = %q", fs.ConversationID)
	}
	if fake.CallsFor(gateway.PurposeBrief) != 1 {
		t.Error("one brief call expected")
	}
	if !eng.IsReady("u1") {
		t.Error("FinalScope must not change state")
	}

	// Retryable: a second call still works
	if _, err := eng.FinalScope(context.Background(), "u1"); err != nil {
		t.Errorf("second FinalScope() error = %v", err)
	}
}

func TestFinalScope_GatewayFailure(t *testing.T) {
	eng, st, fake := setup(t)
	seed(t, st, "u1", conversation.StateReadyToExecute)
	fake.QueueError(gateway.PurposeBrief, stderrors.New("boom"))

	_, err := eng.FinalScope(context.Background(), "u1")
	if !errors.Is(err, errors.ErrGatewayUnavailable) {
		t.Fatalf("error = %v, want GATEWAY_UNAVAILABLE", err)
	}
	if !eng.IsReady("u1") {
		t.Error("record must survive a failed finalize")
	}
}

func TestReset(t *testing.T) {
	eng, st, _ := setup(t)

	out, err := eng.Reset(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Reset(unknown) error = %v", err)
	}
	if out.Reset {
		t.Error("Reset(unknown) should report false")
	}

	seed(t, st, "u1", conversation.StateProposalReview)
	out, err = eng.Reset(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if !out.Reset || out.State != conversation.StateProposalReview {
		t.Errorf("out = %+v", out)
	}
	if st.Contains("u1") {
		t.Error("record should be gone")
	}
}

func TestResetConversation_OnlyMatchingID(t *testing.T) {
	eng, st, _ := setup(t)
	seed(t, st, "u1", conversation.StateReadyToExecute)

	out, err := eng.ResetConversation(context.Background(), "u1", "some-other-conversation")
	if err != nil {
		t.Fatalf("ResetConversation() error = %v", err)
	}
	if out.Reset || !st.Contains("u1") {
		t.Error("a different conversation id must not delete the record")
	}

	out, _ = eng.ResetConversation(context.Background(), "u1", "seed-u1")
	if !out.Reset || st.Contains("u1") {
		t.Error("matching conversation id should delete the record")
	}
}

func TestStatusAndList(t *testing.T) {
	eng, st, _ := setup(t)

	if _, err := eng.Status("ghost"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Status(unknown) error = %v, want NOT_FOUND", err)
	}

	seed(t, st, "a", conversation.StateClarifyingQuestions)
	seed(t, st, "b", conversation.StateProposalReview)

	rec, err := eng.Status("b")
	if err != nil || rec.State != conversation.StateProposalReview {
		t.Errorf("Status(b) = %+v, %v", rec, err)
	}
	if n := len(eng.List()); n != 2 {
		t.Errorf("List() len = %d, want 2", n)
	}
}

func TestConcurrentSameUser_MatchesSequential(t *testing.T) {
	const n = 20

	run := func(concurrent bool) *conversation.Record {
		eng, st, fake := setup(t)
		// The second message judges sufficiency; every later one reviews or refines
		fake.Queue(gateway.PurposeAssess, "PROPOSAL_READY")

		msgs := make([]string, n)
		for i := range msgs {
			msgs[i] = fmt.Sprintf("message %d", i)
		}

		if concurrent {
			var g errgroup.Group
			for _, m := range msgs {
				g.Go(func() error {
					reply, err := eng.Continue(context.Background(), "u1", m)
					if err != nil {
						return err
					}
					if reply.Retry {
						return fmt.Errorf("unexpected retry for %q", m)
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				t.Fatalf("concurrent Continue error = %v", err)
			}
		} else {
			for _, m := range msgs {
				if _, err := eng.Continue(context.Background(), "u1", m); err != nil {
					t.Fatalf("Continue() error = %v", err)
				}
			}
		}

		rec, ok := st.Get("u1")
		if !ok {
			t.Fatal("record missing")
		}
		return rec
	}

	seq := run(false)
	conc := run(true)

	if len(conc.Turns) != n {
		t.Fatalf("Turns = %d, want %d", len(conc.Turns), n)
	}
	seen := make(map[string]bool)
	for _, turn := range conc.Turns {
		if seen[turn] {
			t.Errorf("duplicate turn %q", turn)
		}
		seen[turn] = true
	}
	if conc.State != seq.State {
		t.Errorf("concurrent state = %s, sequential state = %s", conc.State, seq.State)
	}
	if seq.State != conversation.StateScopeRefinement {
		t.Errorf("sequential state = %s, want SCOPE_REFINEMENT", seq.State)
	}
}

func TestDifferentUsersDoNotBlock(t *testing.T) {
	eng, st, _ := setup(t)

	// Hold u1's lock; u2 must still make progress
	h, err := st.Acquire(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer h.Release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := eng.Continue(ctx, "u2", "hello"); err != nil {
		t.Fatalf("Continue(u2) error = %v", err)
	}
}

func TestMetricsRecorded(t *testing.T) {
	rec := metrics.New()
	st := store.New(store.WithSizeObserver(rec.SetActive))
	eng := New(st, gatewaytest.New(), WithMetrics(rec))

	if _, err := eng.Start(context.Background(), "u1", "hi"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	families, err := rec.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "scoper_transitions_total" {
			found = true
		}
	}
	if !found {
		t.Error("scoper_transitions_total not recorded")
	}
}
