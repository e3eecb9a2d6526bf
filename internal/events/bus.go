package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// BusPublisher broadcasts events as JSON on the pub/sub channel of their
// kind. The websocket hub subscribes to the same channels.
type BusPublisher struct {
	bus domain.SignalBus
}

var _ domain.EventPublisher = (*BusPublisher)(nil)

// NewBusPublisher creates a BusPublisher on bus.
func NewBusPublisher(bus domain.SignalBus) *BusPublisher {
	return &BusPublisher{bus: bus}
}

// Publish implements domain.EventPublisher.
func (p *BusPublisher) Publish(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", ev.Kind, err)
	}
	if err := p.bus.Publish(ctx, ev.Kind.Channel(), payload); err != nil {
		return fmt.Errorf("events: publish %s: %w", ev.Kind, err)
	}
	return nil
}

// Channels lists every channel BusPublisher can publish on.
func Channels() []string {
	return []string{"positions", "cycle", "pool"}
}
