package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/smtbot/internal/analytics"
	"github.com/alanyoungcy/smtbot/internal/domain"
)

// RefreshConfig throttles pool-wide refreshes.
type RefreshConfig struct {
	BatchSize  int
	BatchPause time.Duration
}

// RefreshService keeps pool items' price history, market snapshot and
// computed indicators current. Each operation is idempotent and takes a
// batch of names; an empty batch means the whole pool. Items missing from
// the pool are skipped, and one item's failure never stops the others.
type RefreshService struct {
	venue    domain.Venue
	items    domain.TrackedItemStore
	history  domain.PriceHistoryStore
	settings SettingsProvider
	events   domain.EventPublisher
	cfg      RefreshConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewRefreshService creates a RefreshService.
func NewRefreshService(
	venue domain.Venue,
	items domain.TrackedItemStore,
	history domain.PriceHistoryStore,
	settings SettingsProvider,
	events domain.EventPublisher,
	cfg RefreshConfig,
	logger *slog.Logger,
) *RefreshService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &RefreshService{
		venue:    venue,
		items:    items,
		history:  history,
		settings: settings,
		events:   events,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *RefreshService) resolve(ctx context.Context, names []string) ([]string, error) {
	if len(names) > 0 {
		return names, nil
	}
	all, err := s.items.ListNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh_service: list pool: %w", err)
	}
	return all, nil
}

// lookup returns the item, or ok=false when it is no longer in the pool.
func (s *RefreshService) lookup(ctx context.Context, name string) (domain.TrackedItem, bool, error) {
	item, err := s.items.Get(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.DebugContext(ctx, "refresh_service: item not in pool, skipping", slog.String("item", name))
		return domain.TrackedItem{}, false, nil
	}
	if err != nil {
		return domain.TrackedItem{}, false, err
	}
	return item, true, nil
}

// RefreshPriceHistory fetches each item's venue price feed, stores the points
// inside the retention window and prunes stored records older than it.
func (s *RefreshService) RefreshPriceHistory(ctx context.Context, names []string) error {
	names, err := s.resolve(ctx, names)
	if err != nil {
		return err
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("refresh_service: %w", err)
	}
	days := settings.PriceHistoryDays
	cutoff := s.now().AddDate(0, 0, -days)

	var (
		errs    []error
		records []domain.PriceHistoryRecord
		fetched []string
	)
	for _, name := range names {
		item, ok, err := s.lookup(ctx, name)
		if err != nil {
			errs = append(errs, s.itemErr(ctx, "load item", name, err))
			continue
		}
		if !ok {
			continue
		}
		points, err := s.venue.PriceHistory(ctx, name, item.VenuePair(), days)
		if err != nil {
			errs = append(errs, s.itemErr(ctx, "fetch price history", name, err))
			continue
		}
		for _, p := range points {
			if p.At.Before(cutoff) {
				continue
			}
			records = append(records, domain.PriceHistoryRecord{
				MarketHashName: name,
				RecordedAt:     p.At,
				Price:          p.Price.Round(2),
				Volume:         p.Volume,
			})
		}
		fetched = append(fetched, name)
	}

	if len(records) > 0 {
		inserted, err := s.history.InsertBatch(ctx, records)
		if err != nil {
			return errors.Join(append(errs, fmt.Errorf("refresh_service: insert price history: %w", err))...)
		}
		s.logger.InfoContext(ctx, "refresh_service: price history stored",
			slog.Int("items", len(fetched)),
			slog.Int("received", len(records)),
			slog.Int64("inserted", inserted),
		)
	}

	for _, name := range fetched {
		pruned, err := s.history.DeleteBefore(ctx, name, cutoff)
		if err != nil {
			errs = append(errs, s.itemErr(ctx, "prune price history", name, err))
			continue
		}
		if pruned > 0 {
			s.logger.DebugContext(ctx, "refresh_service: pruned price history",
				slog.String("item", name),
				slog.Int64("deleted", pruned),
			)
		}
	}
	return errors.Join(errs...)
}

// RefreshSnapshot writes the venue's current lowest, median and 24h volume
// onto the item as-is.
func (s *RefreshService) RefreshSnapshot(ctx context.Context, name string) error {
	item, ok, err := s.lookup(ctx, name)
	if err != nil {
		return fmt.Errorf("refresh_service: load item %q: %w", name, err)
	}
	if !ok {
		return nil
	}
	snap, err := s.venue.CurrentPrice(ctx, name, item.VenuePair())
	if err != nil {
		return fmt.Errorf("refresh_service: fetch snapshot %q: %w", name, err)
	}
	if err := s.items.UpdateSnapshot(ctx, name, snap); err != nil {
		return fmt.Errorf("refresh_service: store snapshot %q: %w", name, err)
	}
	return nil
}

// RefreshSnapshots runs RefreshSnapshot for each name.
func (s *RefreshService) RefreshSnapshots(ctx context.Context, names []string) error {
	names, err := s.resolve(ctx, names)
	if err != nil {
		return err
	}
	var errs []error
	for _, name := range names {
		if err := s.RefreshSnapshot(ctx, name); err != nil {
			s.logger.WarnContext(ctx, "refresh_service: snapshot failed",
				slog.String("item", name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RefreshIndicators recomputes price targets, volatility, profit and the
// trading flag from each item's analysis-window history. Items with fewer
// than two records keep their existing indicators.
func (s *RefreshService) RefreshIndicators(ctx context.Context, names []string) error {
	names, err := s.resolve(ctx, names)
	if err != nil {
		return err
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("refresh_service: %w", err)
	}
	since := s.now().AddDate(0, 0, -settings.AnalysisWindowDays)

	items, err := s.items.GetMany(ctx, names)
	if err != nil {
		return fmt.Errorf("refresh_service: load items: %w", err)
	}

	var errs []error
	for _, item := range items {
		name := item.MarketHashName
		records, err := s.history.ListSince(ctx, name, since)
		if err != nil {
			errs = append(errs, s.itemErr(ctx, "load history", name, err))
			continue
		}
		if len(records) < analytics.MinRecords {
			s.logger.DebugContext(ctx, "refresh_service: not enough history, indicators unchanged",
				slog.String("item", name),
				slog.Int("records", len(records)),
			)
			continue
		}

		ind, err := analytics.Compute(records, item.CurrentVolume24h, settings)
		if err != nil {
			errs = append(errs, s.itemErr(ctx, "compute indicators", name, err))
			continue
		}
		if err := s.items.UpdateIndicators(ctx, name, ind); err != nil {
			errs = append(errs, s.itemErr(ctx, "store indicators", name, err))
			continue
		}

		if err := s.events.Publish(ctx, domain.Event{
			Kind:           domain.EventIndicatorsUpdated,
			MarketHashName: name,
			Detail: map[string]any{
				"optimal_buy_price":  ind.OptimalBuyPrice.String(),
				"optimal_sell_price": ind.OptimalSellPrice.String(),
				"volatility":         ind.Volatility.String(),
				"potential_profit":   ind.PotentialProfit.String(),
				"should_trade":       ind.ShouldTrade,
			},
			At: s.now(),
		}); err != nil {
			s.logger.WarnContext(ctx, "refresh_service: publish event failed",
				slog.String("item", name),
				slog.String("error", err.Error()),
			)
		}
	}
	return errors.Join(errs...)
}

// RefreshAll runs history, snapshot and indicator refresh over names in
// sub-batches, pausing between them to stay under venue rate limits.
func (s *RefreshService) RefreshAll(ctx context.Context, names []string) error {
	names, err := s.resolve(ctx, names)
	if err != nil {
		return err
	}

	var errs []error
	for start := 0; start < len(names); start += s.cfg.BatchSize {
		if start > 0 && s.cfg.BatchPause > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(append(errs, ctx.Err())...)
			case <-time.After(s.cfg.BatchPause):
			}
		}
		end := min(start+s.cfg.BatchSize, len(names))
		batch := names[start:end]

		if err := s.RefreshPriceHistory(ctx, batch); err != nil {
			errs = append(errs, err)
		}
		if err := s.RefreshSnapshots(ctx, batch); err != nil {
			errs = append(errs, err)
		}
		if err := s.RefreshIndicators(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}

	s.logger.InfoContext(ctx, "refresh_service: refresh completed",
		slog.Int("items", len(names)),
		slog.Int("errors", len(errs)),
	)
	return errors.Join(errs...)
}

func (s *RefreshService) itemErr(ctx context.Context, op, name string, err error) error {
	s.logger.WarnContext(ctx, "refresh_service: "+op+" failed",
		slog.String("item", name),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("refresh_service: %s %q: %w", op, name, err)
}
