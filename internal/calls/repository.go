package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("call attempt not found")

// StateKey is the metadata key the conversation document lives under.
// Versioned so a future document shape can coexist during migration.
const StateKey = "voice_convo_v1"

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const attemptColumns = `
	id, call_id, contact_id, campaign_id, attempt_number,
	provider_call_id, provider_raw_status, outcome, error_code,
	started_at, ended_at, created_at, updated_at`

// CreateParams describes a new call attempt row.
type CreateParams struct {
	CallID        uuid.UUID
	ContactID     uuid.UUID
	CampaignID    uuid.UUID
	AttemptNumber int
}

// Create inserts a call attempt. call_id is the correlation key minted by
// the dialer; re-insertion under the same call_id is a no-op and
// created=false signals the duplicate.
func (r *Repository) Create(ctx context.Context, params CreateParams) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO call_attempts (call_id, contact_id, campaign_id, attempt_number, started_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (call_id) DO NOTHING
	`, params.CallID, params.ContactID, params.CampaignID, params.AttemptNumber)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetByCallID returns the attempt for our correlation key.
func (r *Repository) GetByCallID(ctx context.Context, callID uuid.UUID) (CallAttempt, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+attemptColumns+`
		FROM call_attempts
		WHERE call_id = $1
	`, callID)
	return scanAttempt(row)
}

// GetByProviderCallID returns the attempt matching a provider call SID.
func (r *Repository) GetByProviderCallID(ctx context.Context, providerCallID string) (CallAttempt, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+attemptColumns+`
		FROM call_attempts
		WHERE provider_call_id = $1
	`, providerCallID)
	return scanAttempt(row)
}

// SetProviderCall records the provider call id once initiation succeeds.
func (r *Repository) SetProviderCall(ctx context.Context, callID uuid.UUID, providerCallID, rawStatus string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE call_attempts
		SET provider_call_id = $2, provider_raw_status = $3, updated_at = now()
		WHERE call_id = $1
	`, callID, providerCallID, rawStatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkInitiationFailed closes an attempt whose call the provider refused
// to start. This is the only outcome write outside the finalizer; no
// conversation ever existed for the attempt.
func (r *Repository) MarkInitiationFailed(ctx context.Context, callID uuid.UUID, errorCode string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE call_attempts
		SET outcome = $2, error_code = $3, provider_raw_status = 'failed',
		    ended_at = now(), updated_at = now()
		WHERE call_id = $1 AND outcome IS NULL
	`, callID, OutcomeFailed, errorCode)
	return err
}

// SetProviderStatus records the latest raw status string from the provider.
func (r *Repository) SetProviderStatus(ctx context.Context, providerCallID, rawStatus string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE call_attempts
		SET provider_raw_status = $2, updated_at = now()
		WHERE provider_call_id = $1
	`, providerCallID, rawStatus)
	return err
}

// CountOpenTotal returns the number of open attempts across all
// campaigns. Open attempts consume the global concurrency budget.
func (r *Repository) CountOpenTotal(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM call_attempts
		WHERE outcome IS NULL
	`).Scan(&count)
	return count, err
}

// MutateState runs fn over the attempt and its conversation document while
// holding the row lock, then writes the document back in the same
// transaction. Every webhook mutation and turn-worker phase goes through
// here; the row lock is what serializes the api process against the worker
// process.
func (r *Repository) MutateState(ctx context.Context, callID uuid.UUID, fn func(attempt *CallAttempt, state *VoiceState) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+attemptColumns+`, metadata -> $2
		FROM call_attempts
		WHERE call_id = $1
		FOR UPDATE
	`, callID, StateKey)

	var (
		attempt  CallAttempt
		stateRaw []byte
	)
	err = row.Scan(
		&attempt.ID, &attempt.CallID, &attempt.ContactID, &attempt.CampaignID, &attempt.AttemptNumber,
		&attempt.ProviderCallID, &attempt.ProviderRawStatus, &attempt.Outcome, &attempt.ErrorCode,
		&attempt.StartedAt, &attempt.EndedAt, &attempt.CreatedAt, &attempt.UpdatedAt,
		&stateRaw,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	state := NewVoiceState()
	if len(stateRaw) > 0 {
		if err := json.Unmarshal(stateRaw, state); err != nil {
			return fmt.Errorf("decode conversation state for call %s: %w", callID, err)
		}
	}

	if err := fn(&attempt, state); err != nil {
		return err
	}

	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode conversation state for call %s: %w", callID, err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE call_attempts
		SET metadata = jsonb_set(coalesce(metadata, '{}'::jsonb), $2, $3::jsonb),
		    updated_at = now()
		WHERE call_id = $1
	`, callID, []string{StateKey}, encoded)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListFilter narrows the audit listing.
type ListFilter struct {
	CampaignID *uuid.UUID
	ContactID  *uuid.UUID
	Outcome    *string
	Limit      int
	Offset     int
}

// List returns attempts for the audit API, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]CallAttempt, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+attemptColumns+`
		FROM call_attempts
		WHERE ($1::uuid IS NULL OR campaign_id = $1)
		  AND ($2::uuid IS NULL OR contact_id = $2)
		  AND ($3::text IS NULL OR outcome = $3)
		ORDER BY started_at DESC
		LIMIT $4 OFFSET $5
	`, filter.CampaignID, filter.ContactID, filter.Outcome, limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]CallAttempt, 0)
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, attempt)
	}
	return items, rows.Err()
}

// LoadState reads the conversation document without locking, for the audit
// API. Returns nil when no conversation has started.
func (r *Repository) LoadState(ctx context.Context, callID uuid.UUID) (*VoiceState, error) {
	var stateRaw []byte
	err := r.pool.QueryRow(ctx, `
		SELECT metadata -> $2
		FROM call_attempts
		WHERE call_id = $1
	`, callID, StateKey).Scan(&stateRaw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(stateRaw) == 0 {
		return nil, nil
	}

	var state VoiceState
	if err := json.Unmarshal(stateRaw, &state); err != nil {
		return nil, fmt.Errorf("decode conversation state for call %s: %w", callID, err)
	}
	return &state, nil
}

func scanAttempt(row pgx.Row) (CallAttempt, error) {
	var attempt CallAttempt
	err := row.Scan(
		&attempt.ID, &attempt.CallID, &attempt.ContactID, &attempt.CampaignID, &attempt.AttemptNumber,
		&attempt.ProviderCallID, &attempt.ProviderRawStatus, &attempt.Outcome, &attempt.ErrorCode,
		&attempt.StartedAt, &attempt.EndedAt, &attempt.CreatedAt, &attempt.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CallAttempt{}, ErrNotFound
		}
		return CallAttempt{}, err
	}
	return attempt, nil
}
