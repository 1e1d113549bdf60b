package dialer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"voicecampaign_backend/internal/calls"
	"voicecampaign_backend/internal/campaigns"
	"voicecampaign_backend/internal/contacts"
	"voicecampaign_backend/internal/events"
	"voicecampaign_backend/internal/telephony"
)

type fakeConfig struct {
	maxConcurrent int
	batchSize     int
	prefetch      int
}

func (c fakeConfig) GetTickInterval() time.Duration      { return time.Second }
func (c fakeConfig) GetMaxConcurrentCalls() int          { return c.maxConcurrent }
func (c fakeConfig) GetDialerBatchSize() int             { return c.batchSize }
func (c fakeConfig) GetPrefetchFactor() int              { return c.prefetch }
func (c fakeConfig) GetInitiationsPerSecond() float64    { return 1000 }
func (c fakeConfig) GetRequeueStaleAfter() time.Duration { return 10 * time.Minute }

type fakeCampaignSource struct {
	running []campaigns.Campaign
}

func (f *fakeCampaignSource) ListRunning(ctx context.Context) ([]campaigns.Campaign, error) {
	return f.running, nil
}

type fakeContactSource struct {
	mu          sync.Mutex
	candidates  []contacts.Contact
	unclaimable map[uuid.UUID]bool
	listed      int
	claimed     []uuid.UUID
	released    []uuid.UUID
	requeued    int
}

func (f *fakeContactSource) ListCandidates(ctx context.Context, campaignID uuid.UUID, maxAttempts int, retryInterval time.Duration, limit int) ([]contacts.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed++
	if limit > len(f.candidates) {
		limit = len(f.candidates)
	}
	return f.candidates[:limit], nil
}

func (f *fakeContactSource) Claim(ctx context.Context, contactID uuid.UUID, maxAttempts int, retryInterval time.Duration) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unclaimable[contactID] {
		return 0, false, nil
	}
	f.claimed = append(f.claimed, contactID)
	return 1, true, nil
}

func (f *fakeContactSource) Release(ctx context.Context, contactID uuid.UUID, previousState string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, contactID)
	return nil
}

func (f *fakeContactSource) RequeueStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeued++
	return 0, nil
}

type fakeAttemptSink struct {
	mu       sync.Mutex
	open     int
	created  []calls.CreateParams
	failed   []uuid.UUID
	provider []string
}

func (f *fakeAttemptSink) Create(ctx context.Context, params calls.CreateParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, params)
	return true, nil
}

func (f *fakeAttemptSink) SetProviderCall(ctx context.Context, callID uuid.UUID, providerCallID, rawStatus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provider = append(f.provider, providerCallID)
	return nil
}

func (f *fakeAttemptSink) MarkInitiationFailed(ctx context.Context, callID uuid.UUID, errorCode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, callID)
	return nil
}

func (f *fakeAttemptSink) CountOpenTotal(ctx context.Context) (int, error) {
	return f.open, nil
}

type fakeInitiator struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeInitiator) StartCall(ctx context.Context, params telephony.StartCallParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "CA" + params.CallID.String(), nil
}

func runningCampaign() campaigns.Campaign {
	return campaigns.Campaign{
		ID:          uuid.New(),
		Name:        "satisfaction",
		Status:      campaigns.StatusRunning,
		Language:    "it",
		MaxAttempts: 3,
	}
}

func pendingContacts(campaignID uuid.UUID, n int) []contacts.Contact {
	out := make([]contacts.Contact, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, contacts.Contact{
			ID:          uuid.New(),
			CampaignID:  campaignID,
			PhoneNumber: "+393331234567",
			State:       contacts.StatePending,
		})
	}
	return out
}

func newTestService(campaignSource *fakeCampaignSource, contactSource *fakeContactSource, attempts *fakeAttemptSink, initiator *fakeInitiator, cfg fakeConfig) *Service {
	log := slog.New(slog.DiscardHandler)
	return New(campaignSource, contactSource, attempts, initiator, events.NewInMemoryBus(log), cfg, log)
}

func TestRunTick_InitiatesUpToAvailableCapacity(t *testing.T) {
	campaign := runningCampaign()
	contactSource := &fakeContactSource{candidates: pendingContacts(campaign.ID, 5)}
	attempts := &fakeAttemptSink{open: 3}
	initiator := &fakeInitiator{}
	svc := newTestService(&fakeCampaignSource{running: []campaigns.Campaign{campaign}}, contactSource, attempts, initiator, fakeConfig{maxConcurrent: 5, batchSize: 10, prefetch: 2})

	initiated, err := svc.RunTick(context.Background())
	if err != nil {
		t.Fatalf("run tick: %v", err)
	}

	if initiated != 2 {
		t.Fatalf("expected 2 initiations with 2 free slots, got %d", initiated)
	}
	if initiator.calls != 2 {
		t.Fatalf("expected 2 provider calls, got %d", initiator.calls)
	}
	if contactSource.requeued != 1 {
		t.Fatalf("expected one stale requeue sweep, got %d", contactSource.requeued)
	}
}

func TestRunTick_NoCapacitySkipsCandidateListing(t *testing.T) {
	campaign := runningCampaign()
	contactSource := &fakeContactSource{candidates: pendingContacts(campaign.ID, 3)}
	attempts := &fakeAttemptSink{open: 5}
	svc := newTestService(&fakeCampaignSource{running: []campaigns.Campaign{campaign}}, contactSource, attempts, &fakeInitiator{}, fakeConfig{maxConcurrent: 5, batchSize: 10, prefetch: 2})

	initiated, err := svc.RunTick(context.Background())
	if err != nil {
		t.Fatalf("run tick: %v", err)
	}

	if initiated != 0 {
		t.Fatalf("expected no initiations at capacity, got %d", initiated)
	}
	if contactSource.listed != 0 {
		t.Fatalf("expected no candidate listing at capacity, got %d", contactSource.listed)
	}
}

func TestRunTick_LostClaimIsSkippedNotCounted(t *testing.T) {
	campaign := runningCampaign()
	candidates := pendingContacts(campaign.ID, 3)
	contactSource := &fakeContactSource{
		candidates:  candidates,
		unclaimable: map[uuid.UUID]bool{candidates[0].ID: true},
	}
	attempts := &fakeAttemptSink{}
	initiator := &fakeInitiator{}
	svc := newTestService(&fakeCampaignSource{running: []campaigns.Campaign{campaign}}, contactSource, attempts, initiator, fakeConfig{maxConcurrent: 10, batchSize: 2, prefetch: 2})

	initiated, err := svc.RunTick(context.Background())
	if err != nil {
		t.Fatalf("run tick: %v", err)
	}

	if initiated != 2 {
		t.Fatalf("expected the lost claim replaced by the next candidate, got %d", initiated)
	}
	if len(contactSource.claimed) != 2 {
		t.Fatalf("expected 2 claims, got %d", len(contactSource.claimed))
	}
}

func TestRunTick_InitiationFailureRevertsContact(t *testing.T) {
	campaign := runningCampaign()
	contactSource := &fakeContactSource{candidates: pendingContacts(campaign.ID, 1)}
	attempts := &fakeAttemptSink{}
	initiator := &fakeInitiator{err: errors.New("provider rejected")}
	svc := newTestService(&fakeCampaignSource{running: []campaigns.Campaign{campaign}}, contactSource, attempts, initiator, fakeConfig{maxConcurrent: 10, batchSize: 5, prefetch: 2})

	initiated, err := svc.RunTick(context.Background())
	if err != nil {
		t.Fatalf("run tick: %v", err)
	}

	if initiated != 0 {
		t.Fatalf("expected no successful initiations, got %d", initiated)
	}
	if len(attempts.created) != 1 {
		t.Fatalf("expected the attempt row created before initiation, got %d", len(attempts.created))
	}
	if len(attempts.failed) != 1 {
		t.Fatalf("expected the attempt marked failed, got %d", len(attempts.failed))
	}
	if len(contactSource.released) != 1 {
		t.Fatalf("expected the contact released, got %d", len(contactSource.released))
	}
}

func TestRunTick_ClosedWindowSkipsCampaign(t *testing.T) {
	campaign := runningCampaign()
	campaign.WindowStart = "09:00"
	campaign.WindowEnd = "20:00"
	contactSource := &fakeContactSource{candidates: pendingContacts(campaign.ID, 2)}
	attempts := &fakeAttemptSink{}
	svc := newTestService(&fakeCampaignSource{running: []campaigns.Campaign{campaign}}, contactSource, attempts, &fakeInitiator{}, fakeConfig{maxConcurrent: 10, batchSize: 5, prefetch: 2})
	svc.now = func() time.Time { return at(3, 0) }

	initiated, err := svc.RunTick(context.Background())
	if err != nil {
		t.Fatalf("run tick: %v", err)
	}

	if initiated != 0 {
		t.Fatalf("expected no initiations outside the window, got %d", initiated)
	}
	if contactSource.listed != 0 {
		t.Fatalf("expected no candidate listing outside the window, got %d", contactSource.listed)
	}
}

func TestRunTick_UndialableNumberIsSkipped(t *testing.T) {
	campaign := runningCampaign()
	candidates := pendingContacts(campaign.ID, 2)
	candidates[0].PhoneNumber = "not-a-number"
	contactSource := &fakeContactSource{candidates: candidates}
	attempts := &fakeAttemptSink{}
	initiator := &fakeInitiator{}
	svc := newTestService(&fakeCampaignSource{running: []campaigns.Campaign{campaign}}, contactSource, attempts, initiator, fakeConfig{maxConcurrent: 10, batchSize: 5, prefetch: 2})

	initiated, err := svc.RunTick(context.Background())
	if err != nil {
		t.Fatalf("run tick: %v", err)
	}

	if initiated != 1 {
		t.Fatalf("expected only the dialable contact initiated, got %d", initiated)
	}
	if len(contactSource.claimed) != 1 || contactSource.claimed[0] != candidates[1].ID {
		t.Fatalf("expected only the second contact claimed, got %v", contactSource.claimed)
	}
}
