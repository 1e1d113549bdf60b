package telephony

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voicecampaign_backend/internal/calls"
	"voicecampaign_backend/internal/campaigns"
)

type fakeAttemptStore struct {
	mu          sync.Mutex
	attempt     calls.CallAttempt
	state       *calls.VoiceState
	rawStatuses []string
}

func (f *fakeAttemptStore) GetByCallID(ctx context.Context, callID uuid.UUID) (calls.CallAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if callID != f.attempt.CallID {
		return calls.CallAttempt{}, calls.ErrNotFound
	}
	return f.attempt, nil
}

func (f *fakeAttemptStore) GetByProviderCallID(ctx context.Context, providerCallID string) (calls.CallAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attempt.ProviderCallID != nil && *f.attempt.ProviderCallID == providerCallID {
		return f.attempt, nil
	}
	return calls.CallAttempt{}, calls.ErrNotFound
}

func (f *fakeAttemptStore) SetProviderCall(ctx context.Context, callID uuid.UUID, providerCallID, rawStatus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempt.ProviderCallID = &providerCallID
	return nil
}

func (f *fakeAttemptStore) SetProviderStatus(ctx context.Context, providerCallID, rawStatus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rawStatuses = append(f.rawStatuses, rawStatus)
	return nil
}

func (f *fakeAttemptStore) MutateState(ctx context.Context, callID uuid.UUID, fn func(attempt *calls.CallAttempt, state *calls.VoiceState) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if callID != f.attempt.CallID {
		return calls.ErrNotFound
	}
	if f.state == nil {
		f.state = calls.NewVoiceState()
	}
	return fn(&f.attempt, f.state)
}

type fakeWebhookCampaigns struct {
	campaign campaigns.Campaign
}

func (f *fakeWebhookCampaigns) GetByID(ctx context.Context, id uuid.UUID) (campaigns.Campaign, error) {
	return f.campaign, nil
}

type fakeTurnScheduler struct {
	mu       sync.Mutex
	enqueued []int
	err      error
}

func (f *fakeTurnScheduler) EnqueueTurn(ctx context.Context, callID uuid.UUID, turnSeq int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, turnSeq)
	return f.err
}

type fakeFinalizer struct {
	mu         sync.Mutex
	finalized  []uuid.UUID
	fromStatus []string
	done       chan struct{}
}

func (f *fakeFinalizer) Finalize(ctx context.Context, callID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = append(f.finalized, callID)
	return nil
}

func (f *fakeFinalizer) FinalizeFromProviderStatus(ctx context.Context, callID uuid.UUID, providerStatus string) error {
	f.mu.Lock()
	f.fromStatus = append(f.fromStatus, providerStatus)
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
	return nil
}

type fakeTranscript struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeTranscript) Append(ctx context.Context, providerCallID, role, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, role+": "+text)
}

type webhookFixture struct {
	store     *fakeAttemptStore
	turns     *fakeTurnScheduler
	finalizer *fakeFinalizer
	engine    *gin.Engine
	attempt   calls.CallAttempt
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	attempt := calls.CallAttempt{
		ID:         uuid.New(),
		CallID:     uuid.New(),
		ContactID:  uuid.New(),
		CampaignID: uuid.New(),
	}
	store := &fakeAttemptStore{attempt: attempt}
	turns := &fakeTurnScheduler{}
	finalizer := &fakeFinalizer{}
	campaign := campaigns.Campaign{
		ID:          attempt.CampaignID,
		IntroScript: "Hello, this is a short survey.",
		Language:    "en",
	}

	handler := NewHandler(store, &fakeWebhookCampaigns{campaign: campaign}, turns, finalizer, &fakeTranscript{}, "https://example.com", slog.New(slog.DiscardHandler))

	engine := gin.New()
	handler.RegisterRoutes(engine.Group("/webhooks/telephony"))

	return &webhookFixture{
		store:     store,
		turns:     turns,
		finalizer: finalizer,
		engine:    engine,
		attempt:   attempt,
	}
}

func (fx *webhookFixture) post(t *testing.T, mode string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	if form == nil {
		form = url.Values{}
	}
	target := "/webhooks/telephony/voice?mode=" + mode + "&call_id=" + fx.attempt.CallID.String()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	fx.engine.ServeHTTP(rec, req)
	return rec
}

func TestVoiceEntry_SpeaksIntroAndGathersConsent(t *testing.T) {
	fx := newWebhookFixture(t)

	rec := fx.post(t, "entry", url.Values{"CallSid": {"CA123"}})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Hello, this is a short survey.") {
		t.Fatalf("expected intro in response, got %s", body)
	}
	if !strings.Contains(body, "<Gather") || !strings.Contains(body, "mode=turn") {
		t.Fatalf("expected gather pointing at turn mode, got %s", body)
	}
	if fx.store.state == nil || fx.store.state.Phase != calls.PhaseConsent {
		t.Fatalf("expected consent phase initialized, got %+v", fx.store.state)
	}
	if fx.store.attempt.ProviderCallID == nil || *fx.store.attempt.ProviderCallID != "CA123" {
		t.Fatal("expected provider call id recorded")
	}
}

func TestVoiceTurn_QueuesWorkerAndRedirectsToPoll(t *testing.T) {
	fx := newWebhookFixture(t)
	fx.post(t, "entry", nil)

	rec := fx.post(t, "turn", url.Values{"SpeechResult": {"yes, sure"}})

	body := rec.Body.String()
	if !strings.Contains(body, "<Redirect") || !strings.Contains(body, "mode=poll") {
		t.Fatalf("expected redirect to poll mode, got %s", body)
	}
	if len(fx.turns.enqueued) != 1 || fx.turns.enqueued[0] != 1 {
		t.Fatalf("expected turn 1 enqueued, got %v", fx.turns.enqueued)
	}
	state := fx.store.state
	if state.TurnSeq != 1 || state.Pending.Status != calls.PendingQueued || state.Pending.TurnSeq != 1 {
		t.Fatalf("expected queued pending turn, got %+v", state.Pending)
	}
	if state.LastUserText != "yes, sure" {
		t.Fatalf("expected caller text stored, got %q", state.LastUserText)
	}
}

func TestVoiceTurn_SilenceCountsButStillQueues(t *testing.T) {
	fx := newWebhookFixture(t)
	fx.post(t, "entry", nil)

	fx.post(t, "turn", nil)

	if fx.store.state.SilenceCount != 1 {
		t.Fatalf("expected silence counted, got %d", fx.store.state.SilenceCount)
	}
	if len(fx.turns.enqueued) != 1 {
		t.Fatalf("expected turn enqueued despite silence, got %v", fx.turns.enqueued)
	}
}

func TestVoicePoll_WaitsWhileTurnInFlight(t *testing.T) {
	fx := newWebhookFixture(t)
	fx.post(t, "entry", nil)
	fx.post(t, "turn", url.Values{"SpeechResult": {"yes"}})

	rec := fx.post(t, "poll", nil)

	body := rec.Body.String()
	if !strings.Contains(body, "<Pause") || !strings.Contains(body, "mode=poll") {
		t.Fatalf("expected pause-and-repoll, got %s", body)
	}
	if fx.store.state.PollCount != 1 {
		t.Fatalf("expected poll counted, got %d", fx.store.state.PollCount)
	}
}

func TestVoicePoll_SpeaksResultAndGathersNextTurn(t *testing.T) {
	fx := newWebhookFixture(t)
	fx.post(t, "entry", nil)
	fx.post(t, "turn", url.Values{"SpeechResult": {"yes"}})

	fx.store.state.Phase = calls.PhaseQ1
	fx.store.state.CurrentQuestion = 1
	fx.store.state.Pending.Status = calls.PendingDone
	fx.store.state.Pending.AssistantText = "First question: how satisfied are you?"

	rec := fx.post(t, "poll", nil)

	body := rec.Body.String()
	if !strings.Contains(body, "First question: how satisfied are you?") {
		t.Fatalf("expected assistant text spoken, got %s", body)
	}
	if !strings.Contains(body, "<Gather") || !strings.Contains(body, "mode=turn") {
		t.Fatalf("expected gather for the next turn, got %s", body)
	}
	if len(fx.finalizer.finalized) != 0 {
		t.Fatal("did not expect finalize on a non-terminal poll")
	}
}

func TestVoicePoll_TerminalPhaseHangsUpAndFinalizes(t *testing.T) {
	fx := newWebhookFixture(t)
	fx.post(t, "entry", nil)
	fx.post(t, "turn", url.Values{"SpeechResult": {"no thanks"}})

	fx.store.state.Phase = calls.PhaseRefused
	fx.store.state.Pending.Status = calls.PendingDone
	fx.store.state.Pending.AssistantText = "I understand. Goodbye."

	rec := fx.post(t, "poll", nil)

	body := rec.Body.String()
	if !strings.Contains(body, "<Hangup") {
		t.Fatalf("expected hangup, got %s", body)
	}
	if !strings.Contains(body, "I understand. Goodbye.") {
		t.Fatalf("expected closing line spoken, got %s", body)
	}
	if len(fx.finalizer.finalized) != 1 {
		t.Fatalf("expected one finalize, got %d", len(fx.finalizer.finalized))
	}
}

func TestVoicePoll_FailedTurnApologizesAndFinalizes(t *testing.T) {
	fx := newWebhookFixture(t)
	fx.post(t, "entry", nil)
	fx.post(t, "turn", url.Values{"SpeechResult": {"yes"}})

	fx.store.state.Pending.Status = calls.PendingFailed

	rec := fx.post(t, "poll", nil)

	body := rec.Body.String()
	if !strings.Contains(body, "<Hangup") {
		t.Fatalf("expected hangup, got %s", body)
	}
	if fx.store.state.Phase != calls.PhaseFailed {
		t.Fatalf("expected failed phase, got %q", fx.store.state.Phase)
	}
	if len(fx.finalizer.finalized) != 1 {
		t.Fatalf("expected one finalize, got %d", len(fx.finalizer.finalized))
	}
}

func TestVoicePoll_CapConvertsStuckTurnIntoFailure(t *testing.T) {
	fx := newWebhookFixture(t)
	fx.post(t, "entry", nil)
	fx.post(t, "turn", url.Values{"SpeechResult": {"yes"}})

	var rec *httptest.ResponseRecorder
	for i := 0; i <= PollCap; i++ {
		rec = fx.post(t, "poll", nil)
	}

	if !strings.Contains(rec.Body.String(), "<Hangup") {
		t.Fatalf("expected hangup after poll cap, got %s", rec.Body.String())
	}
	if fx.store.state.Phase != calls.PhaseFailed {
		t.Fatalf("expected failed phase after poll cap, got %q", fx.store.state.Phase)
	}
	if len(fx.finalizer.finalized) != 1 {
		t.Fatalf("expected one finalize, got %d", len(fx.finalizer.finalized))
	}
}

func TestVoiceTurn_TerminalStateSaysGoodbye(t *testing.T) {
	fx := newWebhookFixture(t)
	fx.post(t, "entry", nil)
	fx.store.state.Phase = calls.PhaseDone

	rec := fx.post(t, "turn", url.Values{"SpeechResult": {"hello?"}})

	if !strings.Contains(rec.Body.String(), "<Hangup") {
		t.Fatalf("expected hangup on terminal call, got %s", rec.Body.String())
	}
	if len(fx.turns.enqueued) != 0 {
		t.Fatalf("expected no turn enqueued, got %v", fx.turns.enqueued)
	}
}

func TestVoice_UnknownAttemptStillReturnsValidMarkup(t *testing.T) {
	fx := newWebhookFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/telephony/voice?mode=entry&call_id="+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	fx.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<Hangup") {
		t.Fatalf("expected hangup for unknown call, got %s", rec.Body.String())
	}
}

func TestVoice_UnknownModeEndsCallPolitely(t *testing.T) {
	fx := newWebhookFixture(t)

	rec := fx.post(t, "replay", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<Say") || !strings.Contains(body, "<Hangup") {
		t.Fatalf("expected spoken hangup for unknown mode, got %s", body)
	}
	if len(fx.turns.enqueued) != 0 {
		t.Fatalf("expected no turn enqueued, got %v", fx.turns.enqueued)
	}
}

func TestEvents_TerminalStatusTriggersFinalize(t *testing.T) {
	fx := newWebhookFixture(t)
	fx.finalizer.done = make(chan struct{})

	form := url.Values{
		"CallSid":    {"CA123"},
		"CallStatus": {"no-answer"},
		"call_id":    {fx.attempt.CallID.String()},
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/telephony/events", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	fx.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected fast 200 ack, got %d", rec.Code)
	}

	select {
	case <-fx.finalizer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async finalize")
	}

	fx.finalizer.mu.Lock()
	defer fx.finalizer.mu.Unlock()
	if len(fx.finalizer.fromStatus) != 1 || fx.finalizer.fromStatus[0] != "no-answer" {
		t.Fatalf("expected finalize from no-answer, got %v", fx.finalizer.fromStatus)
	}
}

func TestEvents_IntermediateStatusOnlyRecords(t *testing.T) {
	fx := newWebhookFixture(t)

	form := url.Values{
		"CallSid":    {"CA123"},
		"CallStatus": {"ringing"},
		"call_id":    {fx.attempt.CallID.String()},
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/telephony/events", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	fx.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	// The status write happens on a detached goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for {
		fx.store.mu.Lock()
		recorded := len(fx.store.rawStatuses)
		fx.store.mu.Unlock()
		if recorded > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for status record")
		}
		time.Sleep(10 * time.Millisecond)
	}

	fx.finalizer.mu.Lock()
	defer fx.finalizer.mu.Unlock()
	if len(fx.finalizer.fromStatus) != 0 {
		t.Fatalf("did not expect finalize for ringing, got %v", fx.finalizer.fromStatus)
	}
}
