package survey

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apphttp "voicecampaign_backend/internal/http"
	"voicecampaign_backend/platform/apperr"
	"voicecampaign_backend/platform/httpkit"
	"voicecampaign_backend/platform/validator"
)

// Handler serves the read-only survey response listing.
type Handler struct {
	repo *Repository
	val  *validator.Validator
}

// NewHandler creates the responses handler.
func NewHandler(repo *Repository, val *validator.Validator) *Handler {
	return &Handler{repo: repo, val: val}
}

type responseView struct {
	ID            string   `json:"id"`
	ContactID     string   `json:"contact_id"`
	CampaignID    string   `json:"campaign_id"`
	CallAttemptID string   `json:"call_attempt_id"`
	Answers       []Answer `json:"answers"`
	CompletedAt   string   `json:"completed_at"`
}

type listRequest struct {
	Limit  int `form:"limit,default=50" validate:"min=1,max=200"`
	Offset int `form:"offset" validate:"min=0"`
}

// ListByCampaign returns the completed surveys for one campaign.
func (h *Handler) ListByCampaign(c *gin.Context) {
	campaignID, err := uuid.Parse(c.Param("campaign_id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid campaign_id"))
		return
	}

	var req listRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid query parameters"))
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	responses, err := h.repo.ListByCampaign(c.Request.Context(), campaignID, req.Limit, req.Offset)
	if err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "listing survey responses failed", err))
		return
	}

	views := make([]responseView, 0, len(responses))
	for _, response := range responses {
		views = append(views, responseView{
			ID:            response.ID.String(),
			ContactID:     response.ContactID.String(),
			CampaignID:    response.CampaignID.String(),
			CallAttemptID: response.CallAttemptID.String(),
			Answers:       response.Answers,
			CompletedAt:   response.CompletedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	httpkit.OK(c, gin.H{"responses": views})
}

// Module is the survey bounded context module implementing http.Module.
type Module struct {
	handler *Handler
}

// NewModule creates the survey module.
func NewModule(repo *Repository, val *validator.Validator) *Module {
	return &Module{handler: NewHandler(repo, val)}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "survey" }

// RegisterRoutes mounts the response listing endpoint.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.GET("/campaigns/:campaign_id/responses", m.handler.ListByCampaign)
}
