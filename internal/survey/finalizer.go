package survey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"voicecampaign_backend/internal/calls"
	"voicecampaign_backend/internal/campaigns"
	"voicecampaign_backend/internal/contacts"
	"voicecampaign_backend/internal/events"
	platformevents "voicecampaign_backend/platform/events"
)

// Finalizer commits the terminal outcome of a call attempt exactly once.
// All writes for one finalize happen in a single transaction: the survey
// response (when completed), the attempt outcome, the contact state, and
// the persisted flag inside the conversation document. If any step fails
// the transaction rolls back with the flag unset, so the next terminal
// delivery retries the whole thing.
type Finalizer struct {
	pool      *pgxpool.Pool
	responses *Repository
	bus       events.Bus
	log       *slog.Logger
}

// NewFinalizer wires the finalizer.
func NewFinalizer(pool *pgxpool.Pool, responses *Repository, bus events.Bus, log *slog.Logger) *Finalizer {
	return &Finalizer{pool: pool, responses: responses, bus: bus, log: log}
}

// Finalize persists the terminal outcome for the given call, if the
// conversation has reached one and it was not already persisted.
// Safe to call any number of times.
func (f *Finalizer) Finalize(ctx context.Context, callID uuid.UUID) error {
	tx, err := f.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var (
		attemptID  uuid.UUID
		contactID  uuid.UUID
		campaignID uuid.UUID
		stateRaw   []byte
	)
	err = tx.QueryRow(ctx, `
		SELECT id, contact_id, campaign_id, metadata -> $2
		FROM call_attempts
		WHERE call_id = $1
		FOR UPDATE
	`, callID, calls.StateKey).Scan(&attemptID, &contactID, &campaignID, &stateRaw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return calls.ErrNotFound
		}
		return err
	}

	if len(stateRaw) == 0 {
		return nil // no conversation ever started; not ours to finalize
	}
	var state calls.VoiceState
	if err := json.Unmarshal(stateRaw, &state); err != nil {
		return fmt.Errorf("decode conversation state for call %s: %w", callID, err)
	}

	plan := planFinalize(&state)
	if plan.skip {
		return nil
	}

	outcome := plan.outcome
	contactState := plan.contactState
	if plan.insertResponse {
		if err := f.insertResponse(ctx, tx, &state, contactID, campaignID, attemptID); err != nil {
			return err
		}
	}

	state.Persisted = true
	encoded, err := json.Marshal(&state)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE call_attempts
		SET outcome = $2,
		    ended_at = coalesce(ended_at, now()),
		    metadata = jsonb_set(coalesce(metadata, '{}'::jsonb), $3, $4::jsonb),
		    updated_at = now()
		WHERE id = $1
	`, attemptID, outcome, []string{calls.StateKey}, encoded)
	if err != nil {
		return err
	}

	if err := contacts.SetState(ctx, tx, contactID, contactState); err != nil {
		return err
	}

	var (
		attemptsCount int
		maxAttempts   int
	)
	err = tx.QueryRow(ctx, `
		SELECT c.attempts_count, cam.max_attempts
		FROM contacts c
		JOIN campaigns cam ON cam.id = c.campaign_id
		WHERE c.id = $1
	`, contactID).Scan(&attemptsCount, &maxAttempts)
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	f.bus.Publish(ctx, events.CallFinalized{
		BaseEvent:  platformevents.NewBaseEvent(),
		CallID:     callID,
		CampaignID: campaignID,
		ContactID:  contactID,
		Outcome:    outcome,
	})
	if contactState == contacts.StateNotReached && attemptsCount >= maxAttempts {
		f.bus.Publish(ctx, events.ContactExhausted{
			BaseEvent:  platformevents.NewBaseEvent(),
			ContactID:  contactID,
			CampaignID: campaignID,
			Attempts:   attemptsCount,
		})
	}

	f.log.Info("call finalized",
		slog.String("call_id", callID.String()),
		slog.String("outcome", outcome),
	)
	return nil
}

// FinalizeFromProviderStatus closes an attempt after the provider reports
// a terminal call status. A conversation that already reached a terminal
// phase goes through the regular finalize (retrying one the poll path may
// have lost). A non-terminal document means the caller hung up mid
// conversation, so the phase is forced to failed first. An attempt with no
// document never reached entry and is closed directly with an outcome
// derived from the provider status.
func (f *Finalizer) FinalizeFromProviderStatus(ctx context.Context, callID uuid.UUID, providerStatus string) error {
	tx, err := f.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var (
		attemptID  uuid.UUID
		contactID  uuid.UUID
		campaignID uuid.UUID
		outcome    *string
		stateRaw   []byte
	)
	err = tx.QueryRow(ctx, `
		SELECT id, contact_id, campaign_id, outcome, metadata -> $2
		FROM call_attempts
		WHERE call_id = $1
		FOR UPDATE
	`, callID, calls.StateKey).Scan(&attemptID, &contactID, &campaignID, &outcome, &stateRaw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return calls.ErrNotFound
		}
		return err
	}

	if outcome != nil && *outcome != "" {
		return nil // already closed (initiation failure or earlier finalize)
	}

	if len(stateRaw) == 0 {
		return f.closeUnanswered(ctx, tx, callID, attemptID, contactID, campaignID, providerStatus)
	}

	var state calls.VoiceState
	if err := json.Unmarshal(stateRaw, &state); err != nil {
		return fmt.Errorf("decode conversation state for call %s: %w", callID, err)
	}

	if !state.Terminal() {
		state.Phase = calls.PhaseFailed
		encoded, err := json.Marshal(&state)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE call_attempts
			SET metadata = jsonb_set(coalesce(metadata, '{}'::jsonb), $2, $3::jsonb),
			    updated_at = now()
			WHERE id = $1
		`, attemptID, []string{calls.StateKey}, encoded)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	return f.Finalize(ctx, callID)
}

// closeUnanswered finalizes an attempt whose call never reached the entry
// webhook: not answered, busy, or torn down before the conversation
// started.
func (f *Finalizer) closeUnanswered(ctx context.Context, tx pgx.Tx, callID, attemptID, contactID, campaignID uuid.UUID, providerStatus string) error {
	outcome := calls.OutcomeFailed
	if providerStatus == "busy" || providerStatus == "no-answer" {
		outcome = calls.OutcomeNoAnswer
	}

	_, err := tx.Exec(ctx, `
		UPDATE call_attempts
		SET outcome = $2, ended_at = coalesce(ended_at, now()), updated_at = now()
		WHERE id = $1
	`, attemptID, outcome)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE contacts
		SET state = $2, updated_at = now()
		WHERE id = $1 AND state = $3
	`, contactID, contacts.StateNotReached, contacts.StateInProgress)
	if err != nil {
		return err
	}

	var (
		attemptsCount int
		maxAttempts   int
	)
	err = tx.QueryRow(ctx, `
		SELECT c.attempts_count, cam.max_attempts
		FROM contacts c
		JOIN campaigns cam ON cam.id = c.campaign_id
		WHERE c.id = $1
	`, contactID).Scan(&attemptsCount, &maxAttempts)
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	f.bus.Publish(ctx, events.CallFinalized{
		BaseEvent:  platformevents.NewBaseEvent(),
		CallID:     callID,
		CampaignID: campaignID,
		ContactID:  contactID,
		Outcome:    outcome,
	})
	if attemptsCount >= maxAttempts {
		f.bus.Publish(ctx, events.ContactExhausted{
			BaseEvent:  platformevents.NewBaseEvent(),
			ContactID:  contactID,
			CampaignID: campaignID,
			Attempts:   attemptsCount,
		})
	}

	f.log.Info("call finalized",
		slog.String("call_id", callID.String()),
		slog.String("outcome", outcome),
		slog.String("provider_status", providerStatus),
	)
	return nil
}

// finalizePlan is the decision for one finalize pass: which writes to
// perform, or none at all.
type finalizePlan struct {
	outcome        string
	contactState   string
	insertResponse bool
	skip           bool
}

// planFinalize maps a conversation document to its terminal writes.
// A document that never reached a terminal phase, or whose outcome was
// already persisted, plans nothing; this is what makes a second finalize
// of the same call a no-op.
func planFinalize(state *calls.VoiceState) finalizePlan {
	if state == nil || !state.Terminal() || state.Persisted {
		return finalizePlan{skip: true}
	}

	plan := finalizePlan{outcome: calls.OutcomeForPhase(state.Phase)}
	switch plan.outcome {
	case calls.OutcomeCompleted:
		plan.contactState = contacts.StateCompleted
		plan.insertResponse = true
	case calls.OutcomeRefused:
		plan.contactState = contacts.StateRefused
	default:
		plan.contactState = contacts.StateNotReached
	}
	return plan
}

// insertResponse creates the survey response, idempotent on
// (contact_id, campaign_id). A completed call must carry exactly the full
// set of answers; anything less is a finalize error, not a partial write.
func (f *Finalizer) insertResponse(ctx context.Context, tx pgx.Tx, state *calls.VoiceState, contactID, campaignID, attemptID uuid.UUID) error {
	if len(state.CollectedAnswers) != campaigns.QuestionCount {
		return fmt.Errorf("completed call has %d answers, want %d", len(state.CollectedAnswers), campaigns.QuestionCount)
	}
	answers := make([]Answer, 0, campaigns.QuestionCount)
	for i, text := range state.CollectedAnswers {
		if text == "" {
			return fmt.Errorf("completed call is missing answer %d", i+1)
		}
		answers = append(answers, Answer{Text: text})
	}

	encoded, err := json.Marshal(answers)
	if err != nil {
		return err
	}

	// ON CONFLICT DO NOTHING keeps re-finalization of an already surveyed
	// contact from inserting a duplicate; the existing row wins.
	tag, err := tx.Exec(ctx, `
		INSERT INTO survey_responses (contact_id, campaign_id, call_attempt_id, answers, completed_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (contact_id, campaign_id) DO NOTHING
	`, contactID, campaignID, attemptID, encoded)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		// The existing row was committed by an earlier finalize, so it is
		// visible outside this transaction.
		if existing, err := f.responses.GetByContactAndCampaign(ctx, contactID, campaignID); err == nil {
			f.log.Info("survey response already recorded",
				slog.String("response_id", existing.ID.String()),
				slog.String("contact_id", contactID.String()),
				slog.String("campaign_id", campaignID.String()),
			)
		}
	}
	return nil
}
