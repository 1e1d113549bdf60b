package dialer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"voicecampaign_backend/internal/calls"
	"voicecampaign_backend/internal/campaigns"
	"voicecampaign_backend/internal/contacts"
	"voicecampaign_backend/internal/events"
	"voicecampaign_backend/internal/telephony"
	"voicecampaign_backend/platform/config"
	platformevents "voicecampaign_backend/platform/events"
	"voicecampaign_backend/platform/phone"
)

// CampaignSource lists the campaigns a tick considers.
type CampaignSource interface {
	ListRunning(ctx context.Context) ([]campaigns.Campaign, error)
}

// ContactSource provides candidate selection and claiming.
type ContactSource interface {
	ListCandidates(ctx context.Context, campaignID uuid.UUID, maxAttempts int, retryInterval time.Duration, limit int) ([]contacts.Contact, error)
	Claim(ctx context.Context, contactID uuid.UUID, maxAttempts int, retryInterval time.Duration) (int, bool, error)
	Release(ctx context.Context, contactID uuid.UUID, previousState string) error
	RequeueStale(ctx context.Context, staleAfter time.Duration) (int, error)
}

// AttemptSink records call attempts.
type AttemptSink interface {
	Create(ctx context.Context, params calls.CreateParams) (bool, error)
	SetProviderCall(ctx context.Context, callID uuid.UUID, providerCallID, rawStatus string) error
	MarkInitiationFailed(ctx context.Context, callID uuid.UUID, errorCode string) error
	CountOpenTotal(ctx context.Context) (int, error)
}

// Service runs the scheduling tick. Each tick requeues stale claims,
// measures remaining capacity, and converts eligible contacts into call
// attempts, claiming each contact atomically so concurrent ticks never
// double-dial.
type Service struct {
	campaigns CampaignSource
	contacts  ContactSource
	attempts  AttemptSink
	initiator telephony.Initiator
	bus       events.Bus
	limiter   *rate.Limiter
	cfg       config.DialerConfig
	log       *slog.Logger
	now       func() time.Time
}

// New wires the dialer service.
func New(campaignSource CampaignSource, contactSource ContactSource, attempts AttemptSink, initiator telephony.Initiator, bus events.Bus, cfg config.DialerConfig, log *slog.Logger) *Service {
	perSecond := cfg.GetInitiationsPerSecond()
	if perSecond <= 0 {
		perSecond = 1
	}
	return &Service{
		campaigns: campaignSource,
		contacts:  contactSource,
		attempts:  attempts,
		initiator: initiator,
		bus:       bus,
		limiter:   rate.NewLimiter(rate.Limit(perSecond), 1),
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// RunTick executes one scheduling pass and returns the number of calls
// initiated. Scheduling problems (no capacity, nothing eligible) end the
// tick early without error; only infrastructure failures surface.
func (s *Service) RunTick(ctx context.Context) (int, error) {
	if requeued, err := s.contacts.RequeueStale(ctx, s.cfg.GetRequeueStaleAfter()); err != nil {
		s.log.Error("requeue of stale contacts failed", slog.String("error", err.Error()))
	} else if requeued > 0 {
		s.log.Info("requeued stuck contacts", slog.Int("count", requeued))
	}

	running, err := s.campaigns.ListRunning(ctx)
	if err != nil {
		return 0, err
	}
	if len(running) == 0 {
		return 0, nil
	}

	open, err := s.attempts.CountOpenTotal(ctx)
	if err != nil {
		return 0, err
	}
	available := s.cfg.GetMaxConcurrentCalls() - open
	if available <= 0 {
		s.log.Info("no call capacity this tick", slog.Int("open", open))
		return 0, nil
	}

	target := s.cfg.GetDialerBatchSize()
	if available < target {
		target = available
	}

	// Campaigns share the tick's budget through one atomic counter; a
	// goroutine that cannot reserve a slot stops scheduling.
	var (
		remaining = int64(target)
		initiated atomic.Int64
	)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, campaign := range running {
		campaign := campaign
		group.Go(func() error {
			count, err := s.tickCampaign(groupCtx, campaign, &remaining)
			initiated.Add(int64(count))
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return int(initiated.Load()), err
	}

	s.log.Info("tick completed", slog.Int("initiated", int(initiated.Load())))
	return int(initiated.Load()), nil
}

func (s *Service) tickCampaign(ctx context.Context, campaign campaigns.Campaign, remaining *int64) (int, error) {
	if !InWindow(s.now(), campaign.WindowStart, campaign.WindowEnd) {
		return 0, nil
	}

	fetchLimit := int(atomic.LoadInt64(remaining)) * s.cfg.GetPrefetchFactor()
	if fetchLimit <= 0 {
		return 0, nil
	}

	candidates, err := s.contacts.ListCandidates(ctx, campaign.ID, campaign.MaxAttempts, campaign.RetryInterval, fetchLimit)
	if err != nil {
		return 0, err
	}

	initiated := 0
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return initiated, ctx.Err()
		}

		if !phone.IsDialable(candidate.PhoneNumber) {
			s.log.Warn("skipping undialable contact",
				slog.String("contact_id", candidate.ID.String()),
			)
			continue
		}

		if atomic.AddInt64(remaining, -1) < 0 {
			atomic.AddInt64(remaining, 1)
			break
		}

		ok, err := s.dialContact(ctx, campaign, candidate)
		if err != nil {
			s.log.Error("dialing contact failed",
				slog.String("contact_id", candidate.ID.String()),
				slog.String("campaign_id", campaign.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		if ok {
			initiated++
		} else {
			atomic.AddInt64(remaining, 1)
		}
	}
	return initiated, nil
}

// dialContact claims one contact, records the attempt, and starts the
// call. The claim re-checks eligibility atomically, so losing a race with
// another tick is a silent skip, not an error.
func (s *Service) dialContact(ctx context.Context, campaign campaigns.Campaign, candidate contacts.Contact) (bool, error) {
	attemptNumber, claimed, err := s.contacts.Claim(ctx, candidate.ID, campaign.MaxAttempts, campaign.RetryInterval)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	callID := uuid.New()
	created, err := s.attempts.Create(ctx, calls.CreateParams{
		CallID:        callID,
		ContactID:     candidate.ID,
		CampaignID:    campaign.ID,
		AttemptNumber: attemptNumber,
	})
	if err != nil {
		if releaseErr := s.contacts.Release(ctx, candidate.ID, candidate.State); releaseErr != nil {
			s.log.Error("releasing contact failed", slog.String("contact_id", candidate.ID.String()))
		}
		return false, err
	}
	if !created {
		s.log.Warn("duplicate call attempt prevented",
			slog.String("call_id", callID.String()),
			slog.String("contact_id", candidate.ID.String()),
		)
		return false, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return false, err
	}

	language := campaign.Language
	if candidate.PreferredLanguage != nil && *candidate.PreferredLanguage != "" {
		language = *candidate.PreferredLanguage
	}

	providerCallID, err := s.initiator.StartCall(ctx, telephony.StartCallParams{
		To:         phone.NormalizeE164(candidate.PhoneNumber),
		CallID:     callID,
		CampaignID: campaign.ID,
		ContactID:  candidate.ID,
		Language:   language,
	})
	if err != nil {
		// Provider refused the call: close the attempt row for audit and
		// revert the contact to its pre-claim state. The attempt is never
		// retried automatically.
		if markErr := s.attempts.MarkInitiationFailed(ctx, callID, "CALL_INIT_FAILED"); markErr != nil {
			s.log.Error("marking initiation failure failed", slog.String("call_id", callID.String()))
		}
		if releaseErr := s.contacts.Release(ctx, candidate.ID, candidate.State); releaseErr != nil {
			s.log.Error("releasing contact failed", slog.String("contact_id", candidate.ID.String()))
		}
		return false, err
	}

	if err := s.attempts.SetProviderCall(ctx, callID, providerCallID, "initiated"); err != nil {
		s.log.Error("recording provider call id failed",
			slog.String("call_id", callID.String()),
			slog.String("provider_call_id", providerCallID),
		)
	}

	s.bus.Publish(ctx, events.CallAttemptStarted{
		BaseEvent:  platformevents.NewBaseEvent(),
		CallID:     callID,
		CampaignID: campaign.ID,
		ContactID:  candidate.ID,
		Attempt:    attemptNumber,
	})

	s.log.Info("outbound call initiated",
		slog.String("call_id", callID.String()),
		slog.String("provider_call_id", providerCallID),
		slog.String("contact_id", candidate.ID.String()),
		slog.String("campaign_id", campaign.ID.String()),
	)
	return true, nil
}
