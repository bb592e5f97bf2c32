// Package bus provides event bus implementations for publishing
// detection results to downstream consumers.
package bus

import (
	"fmt"

	"github.com/openaudit/kestrel/internal/domain"
)

// New creates an event bus based on configuration: in-process channels
// for single-node runs, NATS for distributed deployments.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "", "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
