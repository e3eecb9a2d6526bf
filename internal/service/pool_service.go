package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/smtbot/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PoolService manages the set of tracked items.
type PoolService struct {
	items     domain.TrackedItemStore
	inventory domain.InventoryStore
	history   domain.PriceHistoryStore
	jobs      domain.JobQueue
	events    domain.EventPublisher
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewPoolService creates a PoolService. jobs may be nil, in which case newly
// added items wait for the next scheduled refresh.
func NewPoolService(
	items domain.TrackedItemStore,
	inventory domain.InventoryStore,
	history domain.PriceHistoryStore,
	jobs domain.JobQueue,
	events domain.EventPublisher,
	audit domain.AuditStore,
	logger *slog.Logger,
) *PoolService {
	return &PoolService{
		items:     items,
		inventory: inventory,
		history:   history,
		jobs:      jobs,
		events:    events,
		audit:     audit,
		logger:    logger,
	}
}

// List returns every pool item.
func (s *PoolService) List(ctx context.Context) ([]domain.TrackedItem, error) {
	items, err := s.items.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool_service: list: %w", err)
	}
	return items, nil
}

// Get returns one pool item.
func (s *PoolService) Get(ctx context.Context, name string) (domain.TrackedItem, error) {
	item, err := s.items.Get(ctx, name)
	if err != nil {
		return domain.TrackedItem{}, fmt.Errorf("pool_service: get %q: %w", name, err)
	}
	return item, nil
}

// GetMany returns the pool items among names. Unknown names are omitted.
func (s *PoolService) GetMany(ctx context.Context, names []string) ([]domain.TrackedItem, error) {
	items, err := s.items.GetMany(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("pool_service: get many: %w", err)
	}
	return items, nil
}

// History returns stored price records of an item since the given time.
func (s *PoolService) History(ctx context.Context, name string, since time.Time) ([]domain.PriceHistoryRecord, error) {
	if _, err := s.Get(ctx, name); err != nil {
		return nil, err
	}
	records, err := s.history.ListSince(ctx, name, since)
	if err != nil {
		return nil, fmt.Errorf("pool_service: history %q: %w", name, err)
	}
	return records, nil
}

// Add promotes a held inventory asset into the pool and schedules its
// backfill. An unknown asset id yields ErrNotFound.
func (s *PoolService) Add(ctx context.Context, assetID string) (domain.TrackedItem, error) {
	asset, err := s.inventory.Get(ctx, assetID)
	if err != nil {
		return domain.TrackedItem{}, fmt.Errorf("pool_service: inventory asset %q: %w", assetID, err)
	}
	item, err := s.create(ctx, asset)
	if err != nil {
		return domain.TrackedItem{}, err
	}
	s.scheduleRefresh(ctx, []string{item.MarketHashName})
	return item, nil
}

// AddMany promotes several assets at once, one pool item per distinct market
// hash name. Unknown asset ids and items already pooled are skipped.
func (s *PoolService) AddMany(ctx context.Context, assetIDs []string) ([]domain.TrackedItem, error) {
	if len(assetIDs) == 0 {
		return nil, fmt.Errorf("pool_service: %w: no asset ids provided", domain.ErrPrecondition)
	}
	assets, err := s.inventory.GetMany(ctx, assetIDs)
	if err != nil {
		return nil, fmt.Errorf("pool_service: inventory assets: %w", err)
	}

	seen := make(map[string]struct{}, len(assets))
	var created []domain.TrackedItem
	for _, asset := range assets {
		if _, dup := seen[asset.MarketHashName]; dup {
			continue
		}
		seen[asset.MarketHashName] = struct{}{}

		item, err := s.create(ctx, asset)
		if errors.Is(err, domain.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return created, err
		}
		created = append(created, item)
	}

	names := make([]string, len(created))
	for i, item := range created {
		names[i] = item.MarketHashName
	}
	if len(names) > 0 {
		s.scheduleRefresh(ctx, names)
	}
	return created, nil
}

func (s *PoolService) create(ctx context.Context, asset domain.InventoryItem) (domain.TrackedItem, error) {
	item := asset.ToTrackedItem()
	now := time.Now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now
	if err := s.items.Create(ctx, item); err != nil {
		return domain.TrackedItem{}, fmt.Errorf("pool_service: create %q: %w", item.MarketHashName, err)
	}
	s.record(ctx, domain.EventPoolItemAdded, item.MarketHashName, map[string]any{"asset_id": asset.AssetID})
	return item, nil
}

// Update changes the user-editable fields of a pool item.
func (s *PoolService) Update(ctx context.Context, name string, upd domain.TrackedItemUpdate) (domain.TrackedItem, error) {
	if upd.MaxListed != nil && *upd.MaxListed < 0 {
		return domain.TrackedItem{}, fmt.Errorf("pool_service: %w: max_listed must be >= 0", domain.ErrPrecondition)
	}
	for _, price := range []*decimal.Decimal{upd.ManualBuyPrice, upd.ManualSellPrice} {
		if price != nil && !price.IsPositive() {
			return domain.TrackedItem{}, fmt.Errorf("pool_service: %w: manual prices must be positive", domain.ErrPrecondition)
		}
	}
	item, err := s.items.Update(ctx, name, upd)
	if err != nil {
		return domain.TrackedItem{}, fmt.Errorf("pool_service: update %q: %w", name, err)
	}
	return item, nil
}

// Remove deletes a pool item together with its price history.
func (s *PoolService) Remove(ctx context.Context, name string) error {
	if err := s.items.Delete(ctx, name); err != nil {
		return fmt.Errorf("pool_service: delete %q: %w", name, err)
	}
	s.record(ctx, domain.EventPoolItemRemoved, name, nil)
	return nil
}

func (s *PoolService) scheduleRefresh(ctx context.Context, names []string) {
	if s.jobs == nil {
		return
	}
	if _, err := s.jobs.Enqueue(ctx, domain.Job{
		ID:         uuid.NewString(),
		Kind:       domain.JobRefreshAll,
		Names:      names,
		EnqueuedAt: time.Now().UTC(),
	}); err != nil {
		s.logger.WarnContext(ctx, "pool_service: enqueue refresh failed",
			slog.Int("items", len(names)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PoolService) record(ctx context.Context, kind domain.EventKind, name string, detail map[string]any) {
	if err := s.events.Publish(ctx, domain.Event{
		Kind:           kind,
		MarketHashName: name,
		Detail:         detail,
		At:             time.Now().UTC(),
	}); err != nil {
		s.logger.WarnContext(ctx, "pool_service: publish event failed",
			slog.String("item", name),
			slog.String("error", err.Error()),
		)
	}
	if err := s.audit.Log(ctx, string(kind), map[string]any{"item": name}); err != nil {
		s.logger.WarnContext(ctx, "pool_service: audit log failed",
			slog.String("item", name),
			slog.String("error", err.Error()),
		)
	}
}
