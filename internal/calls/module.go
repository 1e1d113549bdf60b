package calls

import (
	apphttp "voicecampaign_backend/internal/http"
	"voicecampaign_backend/platform/validator"
)

// Module is the calls bounded context module implementing http.Module.
// It exposes the read-only audit API over call attempts.
type Module struct {
	handler *Handler
}

// NewModule creates the calls audit module.
func NewModule(repo *Repository, transcript TranscriptReader, val *validator.Validator) *Module {
	return &Module{handler: NewHandler(repo, transcript, val)}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "calls" }

// RegisterRoutes mounts the audit endpoints under /api/v1/calls.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.V1.Group("/calls"))
}
