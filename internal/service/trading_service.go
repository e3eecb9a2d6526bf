package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// CycleReport summarises one trading cycle.
type CycleReport struct {
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Bought        int       `json:"bought"`
	Listed        int       `json:"listed"`
	Closed        int       `json:"closed"`
	Opened        int       `json:"opened"`
	Failures      int       `json:"failures"`
	EmergencyStop bool      `json:"emergency_stop"`
}

// TradingService reconciles venue inventory and listings with positions and
// opens new positions for eligible pool items. RunCycle must not run
// concurrently with itself; callers serialise it.
type TradingService struct {
	venue     domain.Venue
	items     domain.TrackedItemStore
	positions *PositionService
	settings  SettingsProvider
	events    domain.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewTradingService creates a TradingService.
func NewTradingService(
	venue domain.Venue,
	items domain.TrackedItemStore,
	positions *PositionService,
	settings SettingsProvider,
	events domain.EventPublisher,
	logger *slog.Logger,
) *TradingService {
	return &TradingService{
		venue:     venue,
		items:     items,
		positions: positions,
		settings:  settings,
		events:    events,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// cycle holds the external state captured at the start of a run plus the
// claims and listings made during it.
type cycle struct {
	settings    domain.TradingSettings
	items       map[string]domain.TrackedItem
	inventories map[domain.VenuePair]map[string]domain.InventoryItem
	active      map[string]struct{}
	listingOf   map[string]string // asset id -> live listing id
	claimed     map[string]struct{}
	listedNow   map[string]struct{}
	report      *CycleReport
}

// RunCycle executes one reconciliation pass:
//  1. snapshot inventory per venue pair and the active listings once
//  2. bind OPEN positions to unclaimed held assets (OPEN -> BOUGHT)
//  3. list BOUGHT positions at their sell price (BOUGHT -> LISTED)
//  4. close LISTED positions whose sell order is gone (LISTED -> CLOSED)
//  5. unless emergency stop is set, buy up to MaxListed for eligible items
//
// Failures in steps 2-5 are logged per item and counted. An error is only
// returned when the snapshot cannot be taken.
func (s *TradingService) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{StartedAt: s.now()}
	s.logger.InfoContext(ctx, "trading_service: cycle started")

	c, err := s.snapshot(ctx, &report)
	if err != nil {
		return report, err
	}

	s.syncOpenToBought(ctx, c)
	s.listBought(ctx, c)
	s.syncListedToClosed(ctx, c)
	if c.settings.EmergencyStop {
		report.EmergencyStop = true
		s.logger.WarnContext(ctx, "trading_service: emergency stop set, no new positions")
	} else {
		s.openNewPositions(ctx, c)
	}

	report.FinishedAt = s.now()
	s.logger.InfoContext(ctx, "trading_service: cycle completed",
		slog.Int("bought", report.Bought),
		slog.Int("listed", report.Listed),
		slog.Int("closed", report.Closed),
		slog.Int("opened", report.Opened),
		slog.Int("failures", report.Failures),
		slog.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)
	if err := s.events.Publish(ctx, domain.Event{
		Kind: domain.EventCycleCompleted,
		Detail: map[string]any{
			"bought":         report.Bought,
			"listed":         report.Listed,
			"closed":         report.Closed,
			"opened":         report.Opened,
			"failures":       report.Failures,
			"emergency_stop": report.EmergencyStop,
		},
		At: report.FinishedAt,
	}); err != nil {
		s.logger.WarnContext(ctx, "trading_service: publish event failed", slog.String("error", err.Error()))
	}
	return report, nil
}

func (s *TradingService) snapshot(ctx context.Context, report *CycleReport) (*cycle, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("trading_service: load settings: %w", err)
	}
	items, err := s.items.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("trading_service: list pool: %w", err)
	}

	c := &cycle{
		settings:    settings,
		items:       make(map[string]domain.TrackedItem, len(items)),
		inventories: make(map[domain.VenuePair]map[string]domain.InventoryItem),
		active:      make(map[string]struct{}),
		listingOf:   make(map[string]string),
		claimed:     make(map[string]struct{}),
		listedNow:   make(map[string]struct{}),
		report:      report,
	}
	for _, item := range items {
		c.items[item.MarketHashName] = item
		pair := item.VenuePair()
		if _, done := c.inventories[pair]; done {
			continue
		}
		inv, err := s.venue.Inventory(ctx, pair)
		if err != nil {
			return nil, fmt.Errorf("trading_service: inventory %s: %w", pair, err)
		}
		c.inventories[pair] = inv
	}

	listings, err := s.venue.ActiveListings(ctx)
	if err != nil {
		return nil, fmt.Errorf("trading_service: active listings: %w", err)
	}
	for _, l := range listings {
		c.active[l.OrderID] = struct{}{}
		if l.AssetID != "" {
			c.listingOf[l.AssetID] = l.OrderID
		}
	}

	// Assets already bound to a position are never claimed again.
	for _, st := range []domain.PositionStatus{domain.PositionBought, domain.PositionListed} {
		held, err := s.positions.ListByStatus(ctx, st)
		if err != nil {
			return nil, fmt.Errorf("trading_service: %w", err)
		}
		for _, p := range held {
			if p.AssetID != nil {
				c.claimed[*p.AssetID] = struct{}{}
			}
		}
	}
	return c, nil
}

func (s *TradingService) syncOpenToBought(ctx context.Context, c *cycle) {
	open, err := s.positions.ListByStatus(ctx, domain.PositionOpen)
	if err != nil {
		s.stepFailed(ctx, c, "open_to_bought", err)
		return
	}
	for _, pos := range open {
		item, ok := c.items[pos.MarketHashName]
		if !ok {
			continue
		}
		assetID, found := c.unclaimedAsset(item)
		if !found {
			continue
		}
		c.claimed[assetID] = struct{}{}
		if _, err := s.positions.MarkBought(ctx, pos.ID, assetID); err != nil {
			// Keep the claim: the asset may already be bound in storage.
			s.positionFailed(ctx, c, "mark bought", pos, err)
			continue
		}
		c.report.Bought++
	}
}

func (s *TradingService) listBought(ctx context.Context, c *cycle) {
	bought, err := s.positions.ListByStatus(ctx, domain.PositionBought)
	if err != nil {
		s.stepFailed(ctx, c, "list_bought", err)
		return
	}
	for _, pos := range bought {
		item, ok := c.items[pos.MarketHashName]
		if !ok {
			s.positionFailed(ctx, c, "list", pos, fmt.Errorf("%w: item no longer in pool", domain.ErrPrecondition))
			continue
		}
		if pos.AssetID == nil {
			s.positionFailed(ctx, c, "list", pos, fmt.Errorf("%w: bought position without asset id", domain.ErrPrecondition))
			continue
		}
		// A listing from an earlier run whose id was never recorded is adopted
		// instead of listing the asset twice.
		orderID, adopted := c.listingOf[*pos.AssetID]
		if !adopted {
			var err error
			orderID, err = s.venue.CreateSellOrder(ctx, *pos.AssetID, item.VenuePair(), pos.SellPrice)
			if err != nil {
				s.positionFailed(ctx, c, "create sell order", pos, err)
				continue
			}
		}
		if _, err := s.positions.MarkListed(ctx, pos.ID, orderID); err != nil {
			s.positionFailed(ctx, c, "mark listed", pos, err)
			continue
		}
		if !adopted {
			c.listedNow[pos.ID] = struct{}{}
		}
		c.report.Listed++
	}
}

func (s *TradingService) syncListedToClosed(ctx context.Context, c *cycle) {
	listed, err := s.positions.ListByStatus(ctx, domain.PositionListed)
	if err != nil {
		s.stepFailed(ctx, c, "listed_to_closed", err)
		return
	}
	for _, pos := range listed {
		// Listings placed in this run postdate the snapshot.
		if _, fresh := c.listedNow[pos.ID]; fresh {
			continue
		}
		if pos.SellOrderID != nil {
			if _, live := c.active[*pos.SellOrderID]; live {
				continue
			}
		}
		if _, err := s.positions.Close(ctx, pos.ID, nil); err != nil {
			s.positionFailed(ctx, c, "close", pos, err)
			continue
		}
		c.report.Closed++
	}
}

func (s *TradingService) openNewPositions(ctx context.Context, c *cycle) {
	active, err := s.positions.ListActive(ctx)
	if err != nil {
		s.stepFailed(ctx, c, "open_new", err)
		return
	}
	perItem := make(map[string]int)
	for _, p := range active {
		perItem[p.MarketHashName]++
	}
	total := len(active)

	names := make([]string, 0, len(c.items))
	for name, item := range c.items {
		if item.ShouldTrade {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		item := c.items[name]
		current := perItem[name] + c.unclaimedCount(item)
		missing := item.MaxListed - current
		if missing <= 0 {
			continue
		}

		buy, okBuy := item.EffectiveBuyPrice()
		sell, okSell := item.EffectiveSellPrice()
		if !okBuy || !okSell {
			s.itemFailed(ctx, c, "open position", name,
				fmt.Errorf("%w: no effective buy or sell price", domain.ErrPrecondition))
			continue
		}

		for range missing {
			if total >= c.settings.MaxConcurrentTrades {
				s.logger.InfoContext(ctx, "trading_service: concurrent trade cap reached",
					slog.Int("active", total),
					slog.Int("cap", c.settings.MaxConcurrentTrades),
				)
				return
			}
			orderID, err := s.venue.CreateBuyOrder(ctx, name, buy, item.VenuePair(), 1)
			if err != nil {
				s.itemFailed(ctx, c, "create buy order", name, err)
				break
			}
			if _, err := s.positions.Open(ctx, OpenPositionParams{
				MarketHashName: name,
				BuyOrderID:     orderID,
				BuyPrice:       buy,
				SellPrice:      sell,
				Quantity:       1,
			}); err != nil {
				s.itemFailed(ctx, c, "record position", name, err)
				break
			}
			total++
			c.report.Opened++
		}
	}
}

// unclaimedAsset returns the lowest unclaimed held asset id of item.
func (c *cycle) unclaimedAsset(item domain.TrackedItem) (string, bool) {
	var ids []string
	for id, inv := range c.inventories[item.VenuePair()] {
		if inv.MarketHashName != item.MarketHashName {
			continue
		}
		if _, taken := c.claimed[id]; taken {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return "", false
	}
	sort.Strings(ids)
	return ids[0], true
}

func (c *cycle) unclaimedCount(item domain.TrackedItem) int {
	n := 0
	for id, inv := range c.inventories[item.VenuePair()] {
		if inv.MarketHashName != item.MarketHashName {
			continue
		}
		if _, taken := c.claimed[id]; !taken {
			n++
		}
	}
	return n
}

func (s *TradingService) stepFailed(ctx context.Context, c *cycle, step string, err error) {
	c.report.Failures++
	s.logger.ErrorContext(ctx, "trading_service: step failed",
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
}

func (s *TradingService) positionFailed(ctx context.Context, c *cycle, op string, pos domain.Position, err error) {
	c.report.Failures++
	level := slog.LevelError
	if errors.Is(err, domain.ErrPrecondition) {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "trading_service: "+op+" failed",
		slog.String("position_id", pos.ID),
		slog.String("item", pos.MarketHashName),
		slog.String("status", string(pos.Status)),
		slog.String("error", err.Error()),
	)
}

func (s *TradingService) itemFailed(ctx context.Context, c *cycle, op, name string, err error) {
	c.report.Failures++
	level := slog.LevelError
	if errors.Is(err, domain.ErrPrecondition) {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "trading_service: "+op+" failed",
		slog.String("item", name),
		slog.String("error", err.Error()),
	)
}
