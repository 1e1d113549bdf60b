// Package survey owns the survey response record and the exactly-once
// finalization of terminal call outcomes.
package survey

import (
	"time"

	"github.com/google/uuid"
)

// Answer is one captured answer, with an optional confidence the dialogue
// layer may attach in the future.
type Answer struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Response is the completed survey for one contact in one campaign.
// At most one exists per (contact, campaign).
type Response struct {
	ID            uuid.UUID
	ContactID     uuid.UUID
	CampaignID    uuid.UUID
	CallAttemptID uuid.UUID
	Answers       []Answer
	CompletedAt   time.Time
	CreatedAt     time.Time
}
