// Package telephony module wiring.
package telephony

import (
	"log/slog"

	apphttp "voicecampaign_backend/internal/http"
	"voicecampaign_backend/platform/config"
)

// Module is the telephony bounded context module implementing http.Module.
type Module struct {
	handler *Handler
}

// NewModule creates and initializes the telephony webhook module.
func NewModule(attempts AttemptStore, campaignReader CampaignReader, turns TurnScheduler, finalizer OutcomeFinalizer, transcript TranscriptAppender, cfg config.TelephonyConfig, log *slog.Logger) *Module {
	handler := NewHandler(attempts, campaignReader, turns, finalizer, transcript, cfg.GetPublicBaseURL(), log)
	return &Module{handler: handler}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "telephony" }

// RegisterRoutes mounts the webhook endpoints on the validated group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Webhooks)
}
