// Package campaigns provides read access to survey campaign definitions.
// Campaign CRUD lives in the admin surface; the dialer and the webhook
// responder only ever read campaigns, so this module exposes a read model.
package campaigns

import (
	"time"

	"github.com/google/uuid"
)

// Status values for a campaign.
const (
	StatusDraft     = "draft"
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
)

// QuestionCount is the fixed number of survey questions per campaign.
const QuestionCount = 3

// Question is one survey question definition.
type Question struct {
	Text string `json:"text"`
	Type string `json:"type"` // free_text, scale, yes_no
}

// Campaign is the survey definition the dialer and dialogue layers read.
// It is immutable while calls are in flight against it.
type Campaign struct {
	ID            uuid.UUID
	Name          string
	Status        string
	IntroScript   string
	Questions     [QuestionCount]Question
	Language      string
	MaxAttempts   int
	RetryInterval time.Duration
	WindowStart   string // "HH:MM" local time, inclusive
	WindowEnd     string // "HH:MM" local time, exclusive; may precede start (wraps midnight)
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
