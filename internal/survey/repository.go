package survey

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("survey response not found")

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByContactAndCampaign returns the response for a contact, if any.
func (r *Repository) GetByContactAndCampaign(ctx context.Context, contactID, campaignID uuid.UUID) (Response, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, contact_id, campaign_id, call_attempt_id, answers, completed_at, created_at
		FROM survey_responses
		WHERE contact_id = $1 AND campaign_id = $2
	`, contactID, campaignID)
	return scanResponse(row)
}

// ListByCampaign returns responses for the audit API, newest first.
func (r *Repository) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit, offset int) ([]Response, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, contact_id, campaign_id, call_attempt_id, answers, completed_at, created_at
		FROM survey_responses
		WHERE campaign_id = $1
		ORDER BY completed_at DESC
		LIMIT $2 OFFSET $3
	`, campaignID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Response, 0)
	for rows.Next() {
		response, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, response)
	}
	return items, rows.Err()
}

func scanResponse(row pgx.Row) (Response, error) {
	var (
		response   Response
		answersRaw []byte
	)
	err := row.Scan(
		&response.ID, &response.ContactID, &response.CampaignID, &response.CallAttemptID,
		&answersRaw, &response.CompletedAt, &response.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Response{}, ErrNotFound
		}
		return Response{}, err
	}
	if err := json.Unmarshal(answersRaw, &response.Answers); err != nil {
		return Response{}, err
	}
	return response, nil
}
