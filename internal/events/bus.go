package events

import (
	"log/slog"

	platformevents "voicecampaign_backend/platform/events"
)

// InMemoryBus is a type alias to the platform InMemoryBus.
type InMemoryBus = platformevents.InMemoryBus

// NewInMemoryBus creates a new in-memory event bus.
// This is a convenience re-export from platform/events.
func NewInMemoryBus(log *slog.Logger) *InMemoryBus {
	return platformevents.NewInMemoryBus(log)
}
