package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTrackedItem_EffectivePrice(t *testing.T) {
	item := TrackedItem{}
	_, ok := item.EffectiveBuyPrice()
	assert.False(t, ok)

	item.OptimalBuyPrice = decimal.NewNullDecimal(decimal.RequireFromString("1.20"))
	p, ok := item.EffectiveBuyPrice()
	assert.True(t, ok)
	assert.Equal(t, "1.2", p.String())

	item.ManualBuyPrice = decimal.NewNullDecimal(decimal.RequireFromString("0.95"))
	p, _ = item.EffectiveBuyPrice()
	assert.Equal(t, "0.95", p.String())

	_, ok = item.EffectiveSellPrice()
	assert.False(t, ok)
}

func TestTrackedItemUpdate_Apply(t *testing.T) {
	item := TrackedItem{
		MarketHashName:  "Case Key",
		MaxListed:       1,
		ManualSellPrice: decimal.NewNullDecimal(decimal.NewFromInt(3)),
	}
	max := 4
	buy := decimal.RequireFromString("2.10")

	got := TrackedItemUpdate{MaxListed: &max, ManualBuyPrice: &buy, ClearManualSell: true}.Apply(item)
	assert.Equal(t, 4, got.MaxListed)
	assert.True(t, got.ManualBuyPrice.Decimal.Equal(buy))
	assert.False(t, got.ManualSellPrice.Valid)
}

func TestInventoryItem_ToTrackedItem(t *testing.T) {
	inv := InventoryItem{AssetID: "1", AppID: "730", ContextID: "2", Name: "Key", MarketHashName: "Key", IconURL: InventoryIconBase + "abc"}
	item := inv.ToTrackedItem()
	assert.Equal(t, 1, item.MaxListed)
	assert.Equal(t, VenuePair{AppID: "730", ContextID: "2"}, item.VenuePair())
	assert.Equal(t, "730/2", item.VenuePair().String())
}
