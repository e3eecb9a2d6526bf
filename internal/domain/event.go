package domain

import (
	"context"
	"time"
)

// EventKind names a lifecycle event emitted by the services.
type EventKind string

const (
	EventPositionOpened    EventKind = "position.opened"
	EventPositionBought    EventKind = "position.bought"
	EventPositionListed    EventKind = "position.listed"
	EventPositionClosed    EventKind = "position.closed"
	EventPositionDeleted   EventKind = "position.deleted"
	EventCycleCompleted    EventKind = "cycle.completed"
	EventIndicatorsUpdated EventKind = "pool.indicators_updated"
	EventPoolItemAdded     EventKind = "pool.item_added"
	EventPoolItemRemoved   EventKind = "pool.item_removed"
	EventSettingsUpdated   EventKind = "settings.updated"
)

// Channel returns the pub/sub channel an event of this kind is broadcast on.
func (k EventKind) Channel() string {
	switch k {
	case EventPositionOpened, EventPositionBought, EventPositionListed, EventPositionClosed, EventPositionDeleted:
		return "positions"
	case EventCycleCompleted:
		return "cycle"
	default:
		return "pool"
	}
}

// Event is a notification about a state change.
type Event struct {
	Kind           EventKind      `json:"kind"`
	MarketHashName string         `json:"market_hash_name,omitempty"`
	PositionID     string         `json:"position_id,omitempty"`
	Detail         map[string]any `json:"detail,omitempty"`
	At             time.Time      `json:"at"`
}

// EventPublisher delivers events to downstream consumers. Publishing is best
// effort; callers log failures and carry on.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}
