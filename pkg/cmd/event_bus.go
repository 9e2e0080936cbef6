package cmd

import (
	"log/slog"

	"github.com/docwell/stepflow/pkg/eventbus"
)

// NewEventBus builds the lifecycle event bus. Sessions are owned by a single
// process, so the in-memory channel transport is the only provider.
func NewEventBus(provider string, logger *slog.Logger) eventbus.EventBus {
	switch provider {
	case "", "gochannel":
		return eventbus.NewGoChannelEventBus(logger)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}
