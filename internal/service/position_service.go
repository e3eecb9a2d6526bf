package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/smtbot/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OpenPositionParams describes a freshly submitted buy order.
type OpenPositionParams struct {
	MarketHashName string
	BuyOrderID     string
	BuyPrice       decimal.Decimal
	SellPrice      decimal.Decimal
	Quantity       int
}

// PositionService drives positions through OPEN -> BOUGHT -> LISTED -> CLOSED.
// Every transition is persisted with a compare-and-set on the previous
// status, then published and audited.
type PositionService struct {
	positions domain.PositionStore
	events    domain.EventPublisher
	audit     domain.AuditStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewPositionService creates a PositionService with all required dependencies.
func NewPositionService(
	positions domain.PositionStore,
	events domain.EventPublisher,
	audit domain.AuditStore,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		positions: positions,
		events:    events,
		audit:     audit,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Open records a new OPEN position for a submitted buy order.
func (s *PositionService) Open(ctx context.Context, p OpenPositionParams) (domain.Position, error) {
	if p.MarketHashName == "" || p.BuyOrderID == "" {
		return domain.Position{}, fmt.Errorf("position_service: open: %w: market hash name and buy order id required", domain.ErrPrecondition)
	}
	qty := p.Quantity
	if qty <= 0 {
		qty = 1
	}
	now := s.now()
	pos := domain.Position{
		ID:             uuid.NewString(),
		MarketHashName: p.MarketHashName,
		BuyOrderID:     p.BuyOrderID,
		BuyPrice:       p.BuyPrice,
		SellPrice:      p.SellPrice,
		Quantity:       qty,
		Status:         domain.PositionOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.positions.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: create position: %w", err)
	}

	s.record(ctx, domain.EventPositionOpened, pos, map[string]any{
		"buy_order_id": pos.BuyOrderID,
		"buy_price":    pos.BuyPrice.String(),
		"sell_price":   pos.SellPrice.String(),
		"quantity":     pos.Quantity,
	})
	s.logger.InfoContext(ctx, "position_service: position opened",
		slog.String("position_id", pos.ID),
		slog.String("item", pos.MarketHashName),
		slog.String("buy_price", pos.BuyPrice.String()),
	)
	return pos, nil
}

// MarkBought moves an OPEN position to BOUGHT, binding it to the held asset.
func (s *PositionService) MarkBought(ctx context.Context, id, assetID string) (domain.Position, error) {
	return s.advance(ctx, id, domain.EventPositionBought, func(p *domain.Position) error {
		return p.MarkBought(assetID, s.now())
	})
}

// MarkListed moves a BOUGHT position to LISTED with its sell order id.
func (s *PositionService) MarkListed(ctx context.Context, id, sellOrderID string) (domain.Position, error) {
	return s.advance(ctx, id, domain.EventPositionListed, func(p *domain.Position) error {
		return p.MarkListed(sellOrderID, s.now())
	})
}

// Close moves a LISTED position to CLOSED. A nil soldAt means now.
func (s *PositionService) Close(ctx context.Context, id string, soldAt *time.Time) (domain.Position, error) {
	at := s.now()
	if soldAt != nil {
		at = soldAt.UTC()
	}
	return s.advance(ctx, id, domain.EventPositionClosed, func(p *domain.Position) error {
		return p.Close(at)
	})
}

func (s *PositionService) advance(ctx context.Context, id string, kind domain.EventKind, apply func(*domain.Position) error) (domain.Position, error) {
	pos, err := s.positions.Get(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get position %q: %w", id, err)
	}
	from := pos.Status
	if err := apply(&pos); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: %s: %w", kind, err)
	}
	pos.UpdatedAt = s.now()
	if err := s.positions.Transition(ctx, pos, from); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: persist %s for %q: %w", pos.Status, id, err)
	}

	detail := map[string]any{"from": string(from), "to": string(pos.Status)}
	if pos.AssetID != nil {
		detail["asset_id"] = *pos.AssetID
	}
	if pos.SellOrderID != nil {
		detail["sell_order_id"] = *pos.SellOrderID
	}
	s.record(ctx, kind, pos, detail)

	s.logger.InfoContext(ctx, "position_service: position advanced",
		slog.String("position_id", pos.ID),
		slog.String("item", pos.MarketHashName),
		slog.String("from", string(from)),
		slog.String("to", string(pos.Status)),
	)
	return pos, nil
}

// Delete removes a position regardless of its state. Administrative only.
func (s *PositionService) Delete(ctx context.Context, id string) error {
	pos, err := s.positions.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("position_service: get position %q: %w", id, err)
	}
	if err := s.positions.Delete(ctx, id); err != nil {
		return fmt.Errorf("position_service: delete position %q: %w", id, err)
	}
	s.record(ctx, domain.EventPositionDeleted, pos, map[string]any{"status": string(pos.Status)})
	return nil
}

// Get returns one position.
func (s *PositionService) Get(ctx context.Context, id string) (domain.Position, error) {
	pos, err := s.positions.Get(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get position %q: %w", id, err)
	}
	return pos, nil
}

// List returns positions matching filter, newest first.
func (s *PositionService) List(ctx context.Context, filter domain.PositionFilter) ([]domain.Position, error) {
	out, err := s.positions.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("position_service: list positions: %w", err)
	}
	return out, nil
}

// ListByStatus returns every position currently in status.
func (s *PositionService) ListByStatus(ctx context.Context, status domain.PositionStatus) ([]domain.Position, error) {
	out, err := s.positions.ListByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("position_service: list %s positions: %w", status, err)
	}
	return out, nil
}

// ListActive returns OPEN, BOUGHT and LISTED positions.
func (s *PositionService) ListActive(ctx context.Context) ([]domain.Position, error) {
	var out []domain.Position
	for _, st := range []domain.PositionStatus{domain.PositionOpen, domain.PositionBought, domain.PositionListed} {
		ps, err := s.ListByStatus(ctx, st)
		if err != nil {
			return nil, err
		}
		out = append(out, ps...)
	}
	return out, nil
}

// record publishes the event and writes the audit row. Failures of either are
// logged and never fail the transition.
func (s *PositionService) record(ctx context.Context, kind domain.EventKind, pos domain.Position, detail map[string]any) {
	if err := s.events.Publish(ctx, domain.Event{
		Kind:           kind,
		MarketHashName: pos.MarketHashName,
		PositionID:     pos.ID,
		Detail:         detail,
		At:             s.now(),
	}); err != nil {
		s.logger.WarnContext(ctx, "position_service: publish event failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}

	auditDetail := map[string]any{"position_id": pos.ID, "item": pos.MarketHashName}
	for k, v := range detail {
		auditDetail[k] = v
	}
	if err := s.audit.Log(ctx, string(kind), auditDetail); err != nil {
		s.logger.WarnContext(ctx, "position_service: audit log failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}
