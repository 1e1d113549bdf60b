package contacts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("contact not found")

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const contactColumns = `
	id, campaign_id, phone_number, preferred_language, state,
	attempts_count, last_attempt_at, do_not_call, created_at, updated_at`

// ListCandidates returns contacts eligible for a new call attempt, oldest
// or never-tried first. Contacts in not_reached also have to be past the
// campaign's retry interval. The SKIP LOCKED hint keeps concurrent ticks
// from scanning the same rows.
func (r *Repository) ListCandidates(ctx context.Context, campaignID uuid.UUID, maxAttempts int, retryInterval time.Duration, limit int) ([]Contact, error) {
	cutoff := time.Now().UTC().Add(-retryInterval)

	rows, err := r.pool.Query(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE campaign_id = $1
		  AND state IN ($2, $3)
		  AND do_not_call = false
		  AND attempts_count < $4
		  AND (state <> $3 OR last_attempt_at IS NULL OR last_attempt_at <= $5)
		ORDER BY last_attempt_at ASC NULLS FIRST, created_at ASC
		LIMIT $6
		FOR UPDATE SKIP LOCKED
	`, campaignID, StatePending, StateNotReached, maxAttempts, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Contact, 0)
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, contact)
	}
	return items, rows.Err()
}

// Claim atomically moves an eligible contact to in_progress and burns one
// attempt. It re-checks every eligibility condition inside the UPDATE so a
// contact claimed by a concurrent tick, or one that became ineligible since
// ListCandidates, is simply not claimed. Returns the new attempts_count,
// which doubles as the attempt number, or ok=false when the claim lost.
func (r *Repository) Claim(ctx context.Context, contactID uuid.UUID, maxAttempts int, retryInterval time.Duration) (int, bool, error) {
	cutoff := time.Now().UTC().Add(-retryInterval)

	var attemptNumber int
	err := r.pool.QueryRow(ctx, `
		UPDATE contacts
		SET state = $1,
		    attempts_count = attempts_count + 1,
		    last_attempt_at = now(),
		    updated_at = now()
		WHERE id = $2
		  AND state IN ($3, $4)
		  AND do_not_call = false
		  AND attempts_count < $5
		  AND (state <> $4 OR last_attempt_at IS NULL OR last_attempt_at <= $6)
		RETURNING attempts_count
	`, StateInProgress, contactID, StatePending, StateNotReached, maxAttempts, cutoff).Scan(&attemptNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return attemptNumber, true, nil
}

// Release reverts a claimed contact after the provider refused to start
// the call: the previous state is restored and the burned attempt is
// handed back. last_attempt_at keeps its stamp so the contact is not
// redialed within the same tick.
func (r *Repository) Release(ctx context.Context, contactID uuid.UUID, previousState string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE contacts
		SET state = $1,
		    attempts_count = greatest(attempts_count - 1, 0),
		    updated_at = now()
		WHERE id = $2 AND state = $3
	`, previousState, contactID, StateInProgress)
	return err
}

// SetState writes a terminal contact state inside the caller's
// transaction, so the contact row and the attempt outcome commit together.
func SetState(ctx context.Context, tx pgx.Tx, contactID uuid.UUID, state string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE contacts
		SET state = $1, updated_at = now()
		WHERE id = $2
	`, state, contactID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RequeueStale moves contacts stuck in in_progress back to not_reached.
// Two cases: the claim never produced an attempt row (crash between claim
// and insert), or the contact has been idle past the cutoff. Both gate on
// updated_at < cutoff — claim and attempt insert commit in separate
// transactions, so a contact mid-claim briefly has no matching attempt row
// and must not be requeued in that window.
func (r *Repository) RequeueStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)

	missing, err := r.pool.Exec(ctx, `
		UPDATE contacts c
		SET state = $1, updated_at = now()
		WHERE c.state = $2
		  AND c.updated_at < $3
		  AND NOT EXISTS (
			SELECT 1 FROM call_attempts a
			WHERE a.contact_id = c.id AND a.attempt_number = c.attempts_count
		  )
	`, StateNotReached, StateInProgress, cutoff)
	if err != nil {
		return 0, err
	}

	stale, err := r.pool.Exec(ctx, `
		UPDATE contacts
		SET state = $1, updated_at = now()
		WHERE state = $2
		  AND (last_attempt_at IS NULL OR last_attempt_at < $3)
		  AND updated_at < $3
	`, StateNotReached, StateInProgress, cutoff)
	if err != nil {
		return 0, err
	}

	return int(missing.RowsAffected() + stale.RowsAffected()), nil
}

func scanContact(row pgx.Row) (Contact, error) {
	var contact Contact
	err := row.Scan(
		&contact.ID, &contact.CampaignID, &contact.PhoneNumber, &contact.PreferredLanguage,
		&contact.State, &contact.AttemptsCount, &contact.LastAttemptAt, &contact.DoNotCall,
		&contact.CreatedAt, &contact.UpdatedAt,
	)
	return contact, err
}
