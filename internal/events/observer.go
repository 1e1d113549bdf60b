package events

import (
	"context"
	"log/slog"
)

// SubscribeLogging attaches a log-line observer for the campaign lifecycle
// events. Metrics or audit sinks would subscribe to the same names.
func SubscribeLogging(bus Bus, log *slog.Logger) {
	bus.Subscribe(CallAttemptStarted{}.EventName(), HandlerFunc(func(ctx context.Context, event Event) error {
		if e, ok := event.(CallAttemptStarted); ok {
			log.Info("call attempt started",
				slog.String("call_id", e.CallID.String()),
				slog.String("campaign_id", e.CampaignID.String()),
				slog.Int("attempt", e.Attempt),
			)
		}
		return nil
	}))

	bus.Subscribe(CallFinalized{}.EventName(), HandlerFunc(func(ctx context.Context, event Event) error {
		if e, ok := event.(CallFinalized); ok {
			log.Info("call finalized",
				slog.String("call_id", e.CallID.String()),
				slog.String("campaign_id", e.CampaignID.String()),
				slog.String("outcome", e.Outcome),
			)
		}
		return nil
	}))

	bus.Subscribe(ContactExhausted{}.EventName(), HandlerFunc(func(ctx context.Context, event Event) error {
		if e, ok := event.(ContactExhausted); ok {
			log.Info("contact exhausted all attempts",
				slog.String("contact_id", e.ContactID.String()),
				slog.String("campaign_id", e.CampaignID.String()),
				slog.Int("attempts", e.Attempts),
			)
		}
		return nil
	}))
}
