package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

func TestStores(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := setupTestDB(t)
	defer db.cleanup(t)

	ctx := context.Background()
	items := NewTrackedItemStore(db.Pool())
	history := NewPriceHistoryStore(db.Pool())
	positions := NewPositionStore(db.Pool())
	settings := NewSettingsStore(db.Pool())
	inventory := NewInventoryStore(db.Pool())
	audit := NewAuditStore(db.Pool())

	item := domain.TrackedItem{
		MarketHashName: "AK-47 | Redline (Field-Tested)",
		Name:           "AK-47 | Redline",
		AppID:          "730",
		ContextID:      "2",
		MaxListed:      2,
	}

	t.Run("migrations are idempotent", func(t *testing.T) {
		applied, err := db.RunMigrations(ctx)
		require.NoError(t, err)
		assert.Empty(t, applied)
	})

	// --- Tracked items ---

	t.Run("create and get tracked item", func(t *testing.T) {
		db.truncateAll(t)
		require.NoError(t, items.Create(ctx, item))

		got, err := items.Get(ctx, item.MarketHashName)
		require.NoError(t, err)
		assert.Equal(t, "730", got.AppID)
		assert.Equal(t, 2, got.MaxListed)
		assert.False(t, got.OptimalBuyPrice.Valid)
		assert.False(t, got.ShouldTrade)

		err = items.Create(ctx, item)
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)

		_, err = items.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("update indicators writes all fields", func(t *testing.T) {
		db.truncateAll(t)
		require.NoError(t, items.Create(ctx, item))

		ind := domain.Indicators{
			OptimalBuyPrice:  decimal.RequireFromString("10.50"),
			OptimalSellPrice: decimal.RequireFromString("12.00"),
			Volatility:       decimal.RequireFromString("0.0953"),
			PotentialProfit:  decimal.RequireFromString("0.22"),
			ShouldTrade:      true,
		}
		require.NoError(t, items.UpdateIndicators(ctx, item.MarketHashName, ind))

		got, err := items.Get(ctx, item.MarketHashName)
		require.NoError(t, err)
		assert.True(t, got.OptimalBuyPrice.Decimal.Equal(ind.OptimalBuyPrice))
		assert.True(t, got.OptimalSellPrice.Decimal.Equal(ind.OptimalSellPrice))
		assert.True(t, got.Volatility.Decimal.Equal(ind.Volatility))
		assert.True(t, got.PotentialProfit.Decimal.Equal(ind.PotentialProfit))
		assert.True(t, got.ShouldTrade)

		err = items.UpdateIndicators(ctx, "missing", ind)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("update sets and clears manual prices", func(t *testing.T) {
		db.truncateAll(t)
		require.NoError(t, items.Create(ctx, item))

		buy := decimal.RequireFromString("9.99")
		maxListed := 5
		got, err := items.Update(ctx, item.MarketHashName, domain.TrackedItemUpdate{
			MaxListed:      &maxListed,
			ManualBuyPrice: &buy,
		})
		require.NoError(t, err)
		assert.Equal(t, 5, got.MaxListed)
		assert.True(t, got.ManualBuyPrice.Decimal.Equal(buy))

		got, err = items.Update(ctx, item.MarketHashName, domain.TrackedItemUpdate{ClearManualBuy: true})
		require.NoError(t, err)
		assert.False(t, got.ManualBuyPrice.Valid)
		assert.Equal(t, 5, got.MaxListed)
	})

	t.Run("snapshot accepts missing fields", func(t *testing.T) {
		db.truncateAll(t)
		require.NoError(t, items.Create(ctx, item))

		vol := int64(42)
		snap := domain.Snapshot{
			LowestPrice: decimal.NewNullDecimal(decimal.RequireFromString("11.20")),
			Volume24h:   &vol,
		}
		require.NoError(t, items.UpdateSnapshot(ctx, item.MarketHashName, snap))

		got, err := items.Get(ctx, item.MarketHashName)
		require.NoError(t, err)
		assert.True(t, got.CurrentLowestPrice.Valid)
		assert.False(t, got.CurrentMedianPrice.Valid)
		require.NotNil(t, got.CurrentVolume24h)
		assert.Equal(t, int64(42), *got.CurrentVolume24h)
	})

	// --- Price history ---

	t.Run("insert batch skips duplicates and delete cascades", func(t *testing.T) {
		db.truncateAll(t)
		require.NoError(t, items.Create(ctx, item))

		base := time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)
		recs := []domain.PriceHistoryRecord{
			{MarketHashName: item.MarketHashName, RecordedAt: base, Price: decimal.RequireFromString("10.00"), Volume: 3},
			{MarketHashName: item.MarketHashName, RecordedAt: base.Add(time.Hour), Price: decimal.RequireFromString("11.00"), Volume: 5},
		}
		n, err := history.InsertBatch(ctx, recs)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		n, err = history.InsertBatch(ctx, recs)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		got, err := history.ListSince(ctx, item.MarketHashName, base)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.True(t, got[0].RecordedAt.Before(got[1].RecordedAt))

		old, err := history.ListBefore(ctx, base.Add(time.Minute), domain.ListOpts{})
		require.NoError(t, err)
		assert.Len(t, old, 1)

		deleted, err := history.DeleteBefore(ctx, item.MarketHashName, base.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		require.NoError(t, items.Delete(ctx, item.MarketHashName))
		got, err = history.ListSince(ctx, item.MarketHashName, base)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	// --- Positions ---

	t.Run("transition is guarded by the stored status", func(t *testing.T) {
		db.truncateAll(t)

		now := time.Now().UTC().Truncate(time.Microsecond)
		pos := domain.Position{
			ID:             "0b8a1b4e-3f6c-4c8e-9f43-1c8e3b6d2a10",
			MarketHashName: item.MarketHashName,
			BuyOrderID:     "buy-1",
			BuyPrice:       decimal.RequireFromString("10.50"),
			SellPrice:      decimal.RequireFromString("12.00"),
			Quantity:       1,
			Status:         domain.PositionOpen,
			CreatedAt:      now,
		}
		require.NoError(t, positions.Create(ctx, pos))

		bought := pos
		require.NoError(t, bought.MarkBought("asset-1", now))
		require.NoError(t, positions.Transition(ctx, bought, domain.PositionOpen))

		// A second writer still holding the OPEN copy loses.
		stale := pos
		require.NoError(t, stale.MarkBought("asset-2", now))
		err := positions.Transition(ctx, stale, domain.PositionOpen)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		got, err := positions.Get(ctx, pos.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PositionBought, got.Status)
		require.NotNil(t, got.AssetID)
		assert.Equal(t, "asset-1", *got.AssetID)

		active, err := positions.ListByStatus(ctx, domain.PositionBought)
		require.NoError(t, err)
		assert.Len(t, active, 1)

		require.NoError(t, positions.Delete(ctx, pos.ID))
		err = positions.Transition(ctx, bought, domain.PositionOpen)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	// --- Settings ---

	t.Run("settings singleton", func(t *testing.T) {
		db.truncateAll(t)

		_, err := settings.Get(ctx)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		defaults := domain.DefaultTradingSettings()
		require.NoError(t, settings.InsertDefault(ctx, defaults))
		require.NoError(t, settings.InsertDefault(ctx, defaults))

		got, err := settings.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, 20, got.BuyPercentile)

		got.BuyPercentile = 25
		got.EmergencyStop = true
		saved, err := settings.Save(ctx, got)
		require.NoError(t, err)
		assert.Equal(t, 25, saved.BuyPercentile)
		assert.True(t, saved.EmergencyStop)
	})

	// --- Inventory and audit ---

	t.Run("inventory replace swaps a pair", func(t *testing.T) {
		db.truncateAll(t)
		pair := domain.VenuePair{AppID: "730", ContextID: "2"}

		require.NoError(t, inventory.Replace(ctx, pair, []domain.InventoryItem{
			{AssetID: "1", MarketHashName: item.MarketHashName, Name: item.Name, Marketable: true, Amount: 1},
			{AssetID: "2", MarketHashName: item.MarketHashName, Name: item.Name, Marketable: true, Amount: 1},
		}))
		require.NoError(t, inventory.Replace(ctx, pair, []domain.InventoryItem{
			{AssetID: "3", MarketHashName: item.MarketHashName, Name: item.Name, Amount: 1},
		}))

		got, err := inventory.List(ctx, pair)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "3", got[0].AssetID)
		assert.Equal(t, "730", got[0].AppID)

		_, err = inventory.Get(ctx, "1")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("audit log round trip", func(t *testing.T) {
		db.truncateAll(t)
		require.NoError(t, audit.Log(ctx, "position.opened", map[string]any{"id": "p1"}))

		require.NoError(t, audit.Log(ctx, "settings.updated", nil))

		entries, err := audit.List(ctx, "", domain.ListOpts{Limit: 10})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "settings.updated", entries[0].Event)

		entries, err = audit.List(ctx, "position.", domain.ListOpts{Limit: 10})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "p1", entries[0].Detail["id"])
	})
}
