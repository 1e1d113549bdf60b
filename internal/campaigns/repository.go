package campaigns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("campaign not found")

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const campaignColumns = `
	id, name, status, intro_script, questions, language,
	max_attempts, retry_interval_seconds, window_start, window_end,
	created_at, updated_at`

// GetByID returns a single campaign.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Campaign, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE id = $1
	`, id)

	campaign, err := scanCampaign(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	return campaign, nil
}

// ListRunning returns all campaigns the dialer should consider this tick.
func (r *Repository) ListRunning(ctx context.Context) ([]Campaign, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE status = $1
		ORDER BY created_at ASC
	`, StatusRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Campaign, 0)
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, campaign)
	}
	return items, rows.Err()
}

func scanCampaign(row pgx.Row) (Campaign, error) {
	var (
		campaign     Campaign
		questionsRaw []byte
		retrySeconds int64
	)
	err := row.Scan(
		&campaign.ID, &campaign.Name, &campaign.Status, &campaign.IntroScript,
		&questionsRaw, &campaign.Language,
		&campaign.MaxAttempts, &retrySeconds,
		&campaign.WindowStart, &campaign.WindowEnd,
		&campaign.CreatedAt, &campaign.UpdatedAt,
	)
	if err != nil {
		return Campaign{}, err
	}

	campaign.RetryInterval = time.Duration(retrySeconds) * time.Second

	var questions []Question
	if err := json.Unmarshal(questionsRaw, &questions); err != nil {
		return Campaign{}, fmt.Errorf("decode campaign questions: %w", err)
	}
	if len(questions) != QuestionCount {
		return Campaign{}, fmt.Errorf("campaign %s has %d questions, want %d", campaign.ID, len(questions), QuestionCount)
	}
	copy(campaign.Questions[:], questions)

	return campaign, nil
}
