// Package contacts manages the pool of phone numbers a campaign dials.
// Contact import and CRUD live in the admin surface; this module owns the
// eligibility queries and the state transitions the dialer and finalizer
// perform.
package contacts

import (
	"time"

	"github.com/google/uuid"
)

// Contact states.
const (
	StatePending    = "pending"
	StateInProgress = "in_progress"
	StateCompleted  = "completed"
	StateRefused    = "refused"
	StateNotReached = "not_reached"
	StateExcluded   = "excluded"
)

// Contact is one phone number scoped to a campaign.
type Contact struct {
	ID                uuid.UUID
	CampaignID        uuid.UUID
	PhoneNumber       string
	PreferredLanguage *string
	State             string
	AttemptsCount     int
	LastAttemptAt     *time.Time
	DoNotCall         bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Terminal reports whether the contact can never be called again.
func (c Contact) Terminal() bool {
	switch c.State {
	case StateCompleted, StateRefused, StateExcluded:
		return true
	}
	return false
}
