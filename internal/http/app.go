package http

import (
	"context"
	"log/slog"

	"voicecampaign_backend/internal/events"
	"voicecampaign_backend/platform/config"

	"github.com/gin-gonic/gin"
)

// HealthChecker exposes minimal functionality for readiness checks.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App holds the fully initialized application dependencies.
// This is populated by main.go (the composition root) and passed to the router.
type App struct {
	// Config holds the HTTP server configuration.
	Config config.HTTPConfig
	// Logger is the structured logger.
	Logger *slog.Logger
	// Health is used for readiness/health checks (e.g., DB ping).
	Health HealthChecker
	// EventBus is the domain event bus for cross-module communication.
	EventBus events.Bus
	// WebhookMiddleware guards the provider callback group (signature
	// validation, rate limiting). Built by the composition root so the
	// router stays ignorant of provider credentials.
	WebhookMiddleware []gin.HandlerFunc
	// Modules contains all HTTP-facing domain modules.
	Modules []Module
}
