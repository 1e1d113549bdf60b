// Package calls owns the call attempt record and the per-call conversation
// state document the webhook responder and turn worker mutate.
package calls

import (
	"time"

	"github.com/google/uuid"
)

// Call attempt outcomes. Empty outcome means the attempt is still open.
const (
	OutcomeCompleted = "completed"
	OutcomeRefused   = "refused"
	OutcomeFailed    = "failed"
	OutcomeNoAnswer  = "no_answer"
)

// CallAttempt is one dialing try for a contact within a campaign.
// call_id is our correlation key; provider_call_id arrives once the
// telephony provider accepts the call.
type CallAttempt struct {
	ID                uuid.UUID
	CallID            uuid.UUID
	ContactID         uuid.UUID
	CampaignID        uuid.UUID
	AttemptNumber     int
	ProviderCallID    *string
	ProviderRawStatus *string
	Outcome           *string
	ErrorCode         *string
	StartedAt         time.Time
	EndedAt           *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Open reports whether the attempt has no terminal outcome yet.
func (a CallAttempt) Open() bool {
	return a.Outcome == nil || *a.Outcome == ""
}

// Conversation phases.
const (
	PhaseConsent = "consent"
	PhaseQ1      = "q1"
	PhaseQ2      = "q2"
	PhaseQ3      = "q3"
	PhaseDone    = "done"
	PhaseRefused = "refused"
	PhaseFailed  = "failed"
)

// Pending turn statuses.
const (
	PendingIdle    = "idle"
	PendingQueued  = "queued"
	PendingRunning = "running"
	PendingDone    = "done"
	PendingFailed  = "failed"
)

// PendingTurn tracks the one in-flight LLM turn for a call. The webhook
// responder queues it, the turn worker moves it through running to done or
// failed, and poll drains the result. TurnSeq ties the result to the turn
// that queued it; a mismatch means the result is stale and must be dropped.
type PendingTurn struct {
	Status         string   `json:"status"`
	TurnSeq        int      `json:"turn_seq"`
	QueuedAtMS     int64    `json:"queued_at_ms"`
	StartedAtMS    int64    `json:"started_at_ms"`
	DoneAtMS       int64    `json:"done_at_ms"`
	AssistantText  string   `json:"assistant_text"`
	Signals        []string `json:"signals"`
	CapturedAnswer *string  `json:"captured_answer"`
	Error          *string  `json:"error"`
}

// VoiceState is the per-call conversation document, stored under a
// versioned key in the attempt's metadata column. All webhook mutations go
// through it; Persisted flips exactly once when the terminal outcome has
// been committed.
type VoiceState struct {
	Phase             string      `json:"phase"`
	CurrentQuestion   int         `json:"current_question"` // 0=consent, 1..3
	CollectedAnswers  []string    `json:"collected_answers"`
	TurnSeq           int         `json:"turn_seq"`
	LastUserText      string      `json:"last_user_text"`
	LastAssistantText string      `json:"last_assistant_text"`
	SilenceCount      int         `json:"silence_count"`
	RepromptCount     int         `json:"reprompt_count"`
	PollCount         int         `json:"poll_count"`
	Pending           PendingTurn `json:"pending"`
	Persisted         bool        `json:"persisted"`
}

// NewVoiceState returns the initial conversation document.
func NewVoiceState() *VoiceState {
	return &VoiceState{
		Phase:            PhaseConsent,
		CollectedAnswers: []string{},
		Pending: PendingTurn{
			Status:  PendingIdle,
			Signals: []string{},
		},
	}
}

// Terminal reports whether the conversation reached a terminal phase.
func (s *VoiceState) Terminal() bool {
	switch s.Phase {
	case PhaseDone, PhaseRefused, PhaseFailed:
		return true
	}
	return false
}

// OutcomeForPhase maps a terminal phase to the attempt outcome.
func OutcomeForPhase(phase string) string {
	switch phase {
	case PhaseDone:
		return OutcomeCompleted
	case PhaseRefused:
		return OutcomeRefused
	default:
		return OutcomeFailed
	}
}
