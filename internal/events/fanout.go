// Package events delivers domain events to their downstream consumers: the
// Redis pub/sub live feed, a Kafka topic and operator notifications.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// Sink is one named downstream of the fan-out.
type Sink struct {
	Name      string
	Publisher domain.EventPublisher
}

// Fanout publishes every event to all sinks. A failing sink is logged and
// does not prevent delivery to the others.
type Fanout struct {
	sinks  []Sink
	logger *slog.Logger
}

var _ domain.EventPublisher = (*Fanout)(nil)

// NewFanout creates a Fanout over sinks. Sinks with a nil publisher are
// dropped, so optional downstreams can be passed unconditionally.
func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s.Publisher != nil {
			kept = append(kept, s)
		}
	}
	return &Fanout{sinks: kept, logger: logger}
}

// Sinks returns the names of the active sinks.
func (f *Fanout) Sinks() []string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name
	}
	return names
}

// Publish implements domain.EventPublisher.
func (f *Fanout) Publish(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publisher.Publish(ctx, ev); err != nil {
			f.logger.WarnContext(ctx, "events: sink failed",
				slog.String("sink", s.Name),
				slog.String("kind", string(ev.Kind)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
