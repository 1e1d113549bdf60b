// Package events defines the domain events exchanged between modules.
package events

import (
	"voicecampaign_backend/platform/events"

	"github.com/google/uuid"
)

// Event is re-exported so modules only import internal/events.
type Event = events.Event

// Bus is re-exported so modules only import internal/events.
type Bus = events.Bus

// Handler is re-exported for subscribers.
type Handler = events.Handler

// HandlerFunc is re-exported for subscribers.
type HandlerFunc = events.HandlerFunc

// CallAttemptStarted fires when the dialer successfully hands a call
// attempt to the telephony provider.
type CallAttemptStarted struct {
	events.BaseEvent
	CallID     uuid.UUID `json:"call_id"`
	CampaignID uuid.UUID `json:"campaign_id"`
	ContactID  uuid.UUID `json:"contact_id"`
	Attempt    int       `json:"attempt"`
}

// EventName returns the unique event identifier.
func (e CallAttemptStarted) EventName() string { return "calls.attempt_started" }

// CallFinalized fires exactly once per call attempt, after the terminal
// outcome has been written.
type CallFinalized struct {
	events.BaseEvent
	CallID     uuid.UUID `json:"call_id"`
	CampaignID uuid.UUID `json:"campaign_id"`
	ContactID  uuid.UUID `json:"contact_id"`
	Outcome    string    `json:"outcome"`
}

// EventName returns the unique event identifier.
func (e CallFinalized) EventName() string { return "calls.finalized" }

// ContactExhausted fires when a contact has used all of its allowed
// call attempts without completing the survey.
type ContactExhausted struct {
	events.BaseEvent
	ContactID  uuid.UUID `json:"contact_id"`
	CampaignID uuid.UUID `json:"campaign_id"`
	Attempts   int       `json:"attempts"`
}

// EventName returns the unique event identifier.
func (e ContactExhausted) EventName() string { return "contacts.exhausted" }
