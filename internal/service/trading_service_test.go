package service

import (
	"context"
	"errors"
	"testing"

	"github.com/alanyoungcy/smtbot/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var csPair = domain.VenuePair{AppID: "730", ContextID: "2"}

func tradableItem(name string, maxListed int) domain.TrackedItem {
	return domain.TrackedItem{
		MarketHashName:   name,
		Name:             name,
		AppID:            csPair.AppID,
		ContextID:        csPair.ContextID,
		MaxListed:        maxListed,
		OptimalBuyPrice:  decimal.NewNullDecimal(decimal.RequireFromString("1.00")),
		OptimalSellPrice: decimal.NewNullDecimal(decimal.RequireFromString("1.40")),
		ShouldTrade:      true,
	}
}

type tradingFixture struct {
	svc       *TradingService
	venue     *fakeVenue
	items     *memItems
	positions *memPositions
	settings  domain.TradingSettings
}

func newTradingFixture(t *testing.T, items ...domain.TrackedItem) *tradingFixture {
	t.Helper()
	f := &tradingFixture{
		venue:     newFakeVenue(),
		items:     newMemItems(items...),
		positions: newMemPositions(),
		settings:  domain.DefaultTradingSettings(),
	}
	f.build()
	return f
}

func (f *tradingFixture) build() {
	events := &recordingEvents{}
	posSvc := NewPositionService(f.positions, events, &memAudit{}, discardLogger())
	f.svc = NewTradingService(f.venue, f.items, posSvc, staticSettings{f.settings}, events, discardLogger())
}

func (f *tradingFixture) seed(t *testing.T, p domain.Position) {
	t.Helper()
	require.NoError(t, f.positions.Create(context.Background(), p))
}

func strPtr(s string) *string { return &s }

func TestRunCycle_ClaimIsExclusive(t *testing.T) {
	item := tradableItem("Case Key", 2)
	f := newTradingFixture(t, item)
	f.seed(t, domain.Position{ID: "p1", MarketHashName: "Case Key", BuyOrderID: "b1", Status: domain.PositionOpen, Quantity: 1})
	f.seed(t, domain.Position{ID: "p2", MarketHashName: "Case Key", BuyOrderID: "b2", Status: domain.PositionOpen, Quantity: 1})
	f.venue.hold(csPair, "asset-1", "Case Key")

	report, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Bought)
	assert.Equal(t, 1, report.Listed, "the claimed position is listed in the same run")
	assert.Len(t, f.positions.byStatus(domain.PositionOpen), 1)
	assert.Len(t, f.positions.byStatus(domain.PositionListed), 1)
	assert.Equal(t, 0, report.Opened, "two active positions already fill max_listed")
}

func TestRunCycle_HeldAssetsNotReclaimed(t *testing.T) {
	item := tradableItem("Case Key", 2)
	f := newTradingFixture(t, item)
	f.seed(t, domain.Position{ID: "held", MarketHashName: "Case Key", Status: domain.PositionBought, AssetID: strPtr("asset-1"), BuyOrderID: "b0"})
	f.seed(t, domain.Position{ID: "open", MarketHashName: "Case Key", Status: domain.PositionOpen, BuyOrderID: "b1"})
	f.venue.hold(csPair, "asset-1", "Case Key")

	report, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Bought)
	open, err := f.positions.Get(context.Background(), "open")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionOpen, open.Status)
}

func TestRunCycle_ListedClosedWhenSellOrderGone(t *testing.T) {
	f := newTradingFixture(t, tradableItem("Case Key", 0))
	f.seed(t, domain.Position{ID: "sold", MarketHashName: "Case Key", Status: domain.PositionListed, AssetID: strPtr("a1"), SellOrderID: strPtr("s1"), BuyOrderID: "b"})
	f.seed(t, domain.Position{ID: "live", MarketHashName: "Case Key", Status: domain.PositionListed, AssetID: strPtr("a2"), SellOrderID: strPtr("s2"), BuyOrderID: "b"})
	f.venue.listings = []domain.Listing{{OrderID: "s2", AssetID: "a2"}}

	report, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Closed)

	sold, _ := f.positions.Get(context.Background(), "sold")
	live, _ := f.positions.Get(context.Background(), "live")
	assert.Equal(t, domain.PositionClosed, sold.Status)
	assert.NotNil(t, sold.SoldAt)
	assert.Equal(t, domain.PositionListed, live.Status)
}

func TestRunCycle_FreshListingNotClosedSameRun(t *testing.T) {
	f := newTradingFixture(t, tradableItem("Case Key", 0))
	f.seed(t, domain.Position{ID: "p", MarketHashName: "Case Key", Status: domain.PositionBought, AssetID: strPtr("a1"), BuyOrderID: "b",
		SellPrice: decimal.RequireFromString("1.40")})

	report, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Listed)
	assert.Equal(t, 0, report.Closed)

	p, _ := f.positions.Get(context.Background(), "p")
	assert.Equal(t, domain.PositionListed, p.Status)
	assert.Equal(t, f.venue.sellOrders["a1"], *p.SellOrderID)
}

func TestRunCycle_OpensMissingUnits(t *testing.T) {
	f := newTradingFixture(t, tradableItem("Case Key", 3))
	f.venue.hold(csPair, "asset-1", "Case Key")

	report, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Opened, "one held unclaimed unit counts toward max_listed")
	open := f.positions.byStatus(domain.PositionOpen)
	require.Len(t, open, 2)
	for _, p := range open {
		assert.Equal(t, "1", p.BuyPrice.String())
		assert.Equal(t, "1.4", p.SellPrice.String())
		assert.Equal(t, 1, p.Quantity)
	}
}

func TestRunCycle_EmergencyStopOpensNothing(t *testing.T) {
	f := newTradingFixture(t, tradableItem("Case Key", 3))
	f.settings.EmergencyStop = true
	f.build()
	f.seed(t, domain.Position{ID: "sold", MarketHashName: "Case Key", Status: domain.PositionListed, AssetID: strPtr("a1"), SellOrderID: strPtr("s1"), BuyOrderID: "b"})

	report, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, report.EmergencyStop)
	assert.Equal(t, 0, report.Opened)
	assert.Empty(t, f.venue.buyOrders)
	assert.Equal(t, 1, report.Closed, "reconciliation still runs")
}

func TestRunCycle_MissingEffectivePriceIsPrecondition(t *testing.T) {
	noPrice := tradableItem("No Price", 1)
	noPrice.OptimalBuyPrice = decimal.NullDecimal{}
	f := newTradingFixture(t, noPrice, tradableItem("Case Key", 1))

	report, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failures)
	assert.Equal(t, 1, report.Opened)
	assert.Equal(t, []string{"Case Key"}, f.venue.buyOrders)
}

func TestRunCycle_BuyFailureIsolatedPerItem(t *testing.T) {
	f := newTradingFixture(t, tradableItem("A", 1), tradableItem("B", 1))
	f.venue.failBuy["A"] = domain.ErrVenueRejected

	report, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failures)
	assert.Equal(t, 1, report.Opened)
	assert.Equal(t, []string{"B"}, f.venue.buyOrders)
}

func TestRunCycle_SkipsIneligibleItems(t *testing.T) {
	item := tradableItem("Case Key", 2)
	item.ShouldTrade = false
	f := newTradingFixture(t, item)

	report, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Opened)
}

func TestRunCycle_InventoryFetchedOncePerPair(t *testing.T) {
	f := newTradingFixture(t, tradableItem("A", 0), tradableItem("B", 0), tradableItem("C", 0))

	_, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.venue.invCalls)
}

func TestRunCycle_ConcurrentTradeCap(t *testing.T) {
	f := newTradingFixture(t, tradableItem("A", 5))
	f.settings.MaxConcurrentTrades = 2
	f.build()

	report, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Opened)
}

type failingInventoryVenue struct{ *fakeVenue }

func (failingInventoryVenue) Inventory(context.Context, domain.VenuePair) (map[string]domain.InventoryItem, error) {
	return nil, domain.ErrVenueTransient
}

func TestRunCycle_SnapshotFailureReturnsError(t *testing.T) {
	f := newTradingFixture(t, tradableItem("A", 1))
	posSvc := NewPositionService(f.positions, &recordingEvents{}, &memAudit{}, discardLogger())
	svc := NewTradingService(failingInventoryVenue{f.venue}, f.items, posSvc, staticSettings{f.settings}, &recordingEvents{}, discardLogger())

	_, err := svc.RunCycle(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrVenueTransient))
}

func TestRunCycle_AdoptsExistingListing(t *testing.T) {
	f := newTradingFixture(t, tradableItem("Case Key", 0))
	f.seed(t, domain.Position{ID: "p", MarketHashName: "Case Key", Status: domain.PositionBought, AssetID: strPtr("a1"), BuyOrderID: "b",
		SellPrice: decimal.RequireFromString("1.40")})
	f.venue.listings = []domain.Listing{{OrderID: "live-7", AssetID: "a1"}}

	report, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Listed)
	assert.Equal(t, 0, report.Closed, "the adopted listing is still active")
	assert.Empty(t, f.venue.sellOrders, "no second sell order is placed")

	p, _ := f.positions.Get(context.Background(), "p")
	assert.Equal(t, domain.PositionListed, p.Status)
	assert.Equal(t, "live-7", *p.SellOrderID)
}
