package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// InventoryService mirrors the venue inventory into storage so pool items can
// be promoted from it.
type InventoryService struct {
	venue  domain.Venue
	store  domain.InventoryStore
	logger *slog.Logger
}

// NewInventoryService creates an InventoryService.
func NewInventoryService(venue domain.Venue, store domain.InventoryStore, logger *slog.Logger) *InventoryService {
	return &InventoryService{venue: venue, store: store, logger: logger}
}

// Refresh fetches the venue inventory for pair and replaces the stored copy.
func (s *InventoryService) Refresh(ctx context.Context, pair domain.VenuePair) ([]domain.InventoryItem, error) {
	raw, err := s.venue.Inventory(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("inventory_service: fetch %s: %w", pair, err)
	}
	items := make([]domain.InventoryItem, 0, len(raw))
	for id, item := range raw {
		item.AssetID = id
		item.AppID, item.ContextID = pair.AppID, pair.ContextID
		if item.Amount <= 0 {
			item.Amount = 1
		}
		items = append(items, item)
	}
	if err := s.store.Replace(ctx, pair, items); err != nil {
		return nil, fmt.Errorf("inventory_service: replace %s: %w", pair, err)
	}
	s.logger.InfoContext(ctx, "inventory_service: inventory refreshed",
		slog.String("pair", pair.String()),
		slog.Int("items", len(items)),
	)
	return items, nil
}

// List returns the stored inventory for pair.
func (s *InventoryService) List(ctx context.Context, pair domain.VenuePair) ([]domain.InventoryItem, error) {
	items, err := s.store.List(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("inventory_service: list %s: %w", pair, err)
	}
	return items, nil
}
