// Package notify forwards lifecycle events to operator chat channels
// (Telegram, Discord). Operators choose which event kinds they receive.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier turns events into chat messages and delivers them to every
// sender. It implements domain.EventPublisher.
type Notifier struct {
	senders []Sender
	kinds   map[domain.EventKind]bool
	logger  *slog.Logger
}

var _ domain.EventPublisher = (*Notifier)(nil)

// NewNotifier creates a Notifier for the given senders. Only events whose
// kind appears in kinds are forwarded; an empty list forwards everything.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool, len(kinds))
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			allowed[domain.EventKind(k)] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Accepts reports whether events of kind k pass the filter.
func (n *Notifier) Accepts(k domain.EventKind) bool {
	return len(n.kinds) == 0 || n.kinds[k]
}

// Publish formats ev and sends it to all senders when its kind is allowed.
func (n *Notifier) Publish(ctx context.Context, ev domain.Event) error {
	if !n.Accepts(ev.Kind) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("kind", string(ev.Kind)))
		return nil
	}
	title, message := Format(ev)
	return n.dispatch(ctx, title, message)
}

// Format renders an event as a title and a key: value body.
func Format(ev domain.Event) (title, message string) {
	title = eventTitle(ev.Kind)
	if ev.MarketHashName != "" {
		title += ": " + ev.MarketHashName
	}

	var lines []string
	if ev.PositionID != "" {
		lines = append(lines, "position: "+ev.PositionID)
	}
	keys := make([]string, 0, len(ev.Detail))
	for k := range ev.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %v", k, ev.Detail[k]))
	}
	if !ev.At.IsZero() {
		lines = append(lines, "at: "+ev.At.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	return title, strings.Join(lines, "\n")
}

func eventTitle(k domain.EventKind) string {
	switch k {
	case domain.EventPositionOpened:
		return "Buy order placed"
	case domain.EventPositionBought:
		return "Buy order filled"
	case domain.EventPositionListed:
		return "Listed for sale"
	case domain.EventPositionClosed:
		return "Sold"
	case domain.EventPositionDeleted:
		return "Position deleted"
	case domain.EventCycleCompleted:
		return "Trading cycle completed"
	case domain.EventIndicatorsUpdated:
		return "Indicators updated"
	case domain.EventPoolItemAdded:
		return "Item added to pool"
	case domain.EventPoolItemRemoved:
		return "Item removed from pool"
	case domain.EventSettingsUpdated:
		return "Settings updated"
	}
	return string(k)
}

// dispatch sends to every sender. A failing sender does not stop delivery
// to the rest; failures are combined into one error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
