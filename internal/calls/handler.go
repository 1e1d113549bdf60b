package calls

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voicecampaign_backend/internal/transcript"
	"voicecampaign_backend/platform/apperr"
	"voicecampaign_backend/platform/httpkit"
	"voicecampaign_backend/platform/validator"
)

// TranscriptReader reads the live transcript for a call.
type TranscriptReader interface {
	Read(ctx context.Context, providerCallID string) ([]transcript.Line, error)
}

// Handler serves the read-only audit API over call attempts.
type Handler struct {
	repo       *Repository
	transcript TranscriptReader
	val        *validator.Validator
}

// NewHandler creates the audit handler.
func NewHandler(repo *Repository, transcript TranscriptReader, val *validator.Validator) *Handler {
	return &Handler{repo: repo, transcript: transcript, val: val}
}

// RegisterRoutes mounts the audit endpoints.
func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("", h.List)
	group.GET("/:call_id", h.Get)
	group.GET("/:call_id/transcript", h.Transcript)
}

type attemptView struct {
	CallID            string      `json:"call_id"`
	ContactID         string      `json:"contact_id"`
	CampaignID        string      `json:"campaign_id"`
	AttemptNumber     int         `json:"attempt_number"`
	ProviderCallID    *string     `json:"provider_call_id,omitempty"`
	ProviderRawStatus *string     `json:"provider_raw_status,omitempty"`
	Outcome           *string     `json:"outcome,omitempty"`
	ErrorCode         *string     `json:"error_code,omitempty"`
	StartedAt         string      `json:"started_at"`
	EndedAt           *string     `json:"ended_at,omitempty"`
	Conversation      *VoiceState `json:"conversation,omitempty"`
}

func toView(attempt CallAttempt, state *VoiceState) attemptView {
	view := attemptView{
		CallID:            attempt.CallID.String(),
		ContactID:         attempt.ContactID.String(),
		CampaignID:        attempt.CampaignID.String(),
		AttemptNumber:     attempt.AttemptNumber,
		ProviderCallID:    attempt.ProviderCallID,
		ProviderRawStatus: attempt.ProviderRawStatus,
		Outcome:           attempt.Outcome,
		ErrorCode:         attempt.ErrorCode,
		StartedAt:         attempt.StartedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Conversation:      state,
	}
	if attempt.EndedAt != nil {
		formatted := attempt.EndedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		view.EndedAt = &formatted
	}
	return view
}

type listRequest struct {
	CampaignID string `form:"campaign_id" validate:"omitempty,uuid"`
	ContactID  string `form:"contact_id" validate:"omitempty,uuid"`
	Outcome    string `form:"outcome" validate:"omitempty,oneof=completed refused failed no_answer"`
	Limit      int    `form:"limit,default=50" validate:"min=1,max=200"`
	Offset     int    `form:"offset" validate:"min=0"`
}

// List returns call attempts, filterable by campaign, contact, and outcome.
func (h *Handler) List(c *gin.Context) {
	var req listRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid query parameters"))
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	filter := ListFilter{Limit: req.Limit, Offset: req.Offset}
	if req.CampaignID != "" {
		id, _ := uuid.Parse(req.CampaignID)
		filter.CampaignID = &id
	}
	if req.ContactID != "" {
		id, _ := uuid.Parse(req.ContactID)
		filter.ContactID = &id
	}
	if req.Outcome != "" {
		filter.Outcome = &req.Outcome
	}

	attempts, err := h.repo.List(c.Request.Context(), filter)
	if err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "listing call attempts failed", err))
		return
	}

	views := make([]attemptView, 0, len(attempts))
	for _, attempt := range attempts {
		views = append(views, toView(attempt, nil))
	}
	httpkit.OK(c, gin.H{"calls": views})
}

// Get returns one attempt with its full conversation document.
func (h *Handler) Get(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("call_id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid call_id"))
		return
	}

	attempt, err := h.repo.GetByCallID(c.Request.Context(), callID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpkit.HandleError(c, apperr.NotFound("call attempt not found"))
			return
		}
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "loading call attempt failed", err))
		return
	}

	state, err := h.repo.LoadState(c.Request.Context(), callID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "loading conversation state failed", err))
		return
	}

	httpkit.OK(c, toView(attempt, state))
}

// Transcript returns the live transcript lines for an in-flight or
// recently ended call. Transcripts expire shortly after the call.
func (h *Handler) Transcript(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("call_id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid call_id"))
		return
	}

	attempt, err := h.repo.GetByCallID(c.Request.Context(), callID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpkit.HandleError(c, apperr.NotFound("call attempt not found"))
			return
		}
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "loading call attempt failed", err))
		return
	}

	if attempt.ProviderCallID == nil {
		httpkit.OK(c, gin.H{"lines": []transcript.Line{}})
		return
	}

	lines, err := h.transcript.Read(c.Request.Context(), *attempt.ProviderCallID)
	if err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "reading transcript failed", err))
		return
	}
	if lines == nil {
		lines = []transcript.Line{}
	}
	httpkit.OK(c, gin.H{"lines": lines})
}
