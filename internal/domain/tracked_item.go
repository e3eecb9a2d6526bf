package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// VenuePair identifies an inventory namespace at the venue (game + context).
type VenuePair struct {
	AppID     string `json:"app_id"`
	ContextID string `json:"context_id"`
}

func (p VenuePair) String() string {
	return p.AppID + "/" + p.ContextID
}

// TrackedItem is a pool item: a marketplace item selected for price
// monitoring and automated trading.
type TrackedItem struct {
	MarketHashName string `json:"market_hash_name"`
	Name           string `json:"name"`
	AppID          string `json:"app_id"`
	ContextID      string `json:"context_id"`
	IconURL        string `json:"icon_url"`
	MaxListed      int    `json:"max_listed"`

	OptimalBuyPrice  decimal.NullDecimal `json:"optimal_buy_price"`
	OptimalSellPrice decimal.NullDecimal `json:"optimal_sell_price"`
	ManualBuyPrice   decimal.NullDecimal `json:"manual_buy_price"`
	ManualSellPrice  decimal.NullDecimal `json:"manual_sell_price"`

	CurrentLowestPrice decimal.NullDecimal `json:"current_lowest_price"`
	CurrentMedianPrice decimal.NullDecimal `json:"current_median_price"`
	CurrentVolume24h   *int64              `json:"current_volume24h"`

	Volatility      decimal.NullDecimal `json:"volatility"`
	PotentialProfit decimal.NullDecimal `json:"potential_profit"`
	ShouldTrade     bool                `json:"should_trade"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VenuePair returns the inventory namespace the item lives in.
func (t TrackedItem) VenuePair() VenuePair {
	return VenuePair{AppID: t.AppID, ContextID: t.ContextID}
}

// EffectiveBuyPrice returns the manual override if set, else the computed
// optimal price. ok is false when neither exists; no order may be placed then.
func (t TrackedItem) EffectiveBuyPrice() (decimal.Decimal, bool) {
	return effective(t.ManualBuyPrice, t.OptimalBuyPrice)
}

// EffectiveSellPrice mirrors EffectiveBuyPrice for the sell side.
func (t TrackedItem) EffectiveSellPrice() (decimal.Decimal, bool) {
	return effective(t.ManualSellPrice, t.OptimalSellPrice)
}

func effective(manual, optimal decimal.NullDecimal) (decimal.Decimal, bool) {
	if manual.Valid {
		return manual.Decimal, true
	}
	if optimal.Valid {
		return optimal.Decimal, true
	}
	return decimal.Decimal{}, false
}

// TrackedItemUpdate carries a partial update of the user-editable fields.
// Nil pointers leave the stored value untouched; the Clear flags null out a
// manual override.
type TrackedItemUpdate struct {
	MaxListed       *int             `json:"max_listed,omitempty"`
	ManualBuyPrice  *decimal.Decimal `json:"manual_buy_price,omitempty"`
	ManualSellPrice *decimal.Decimal `json:"manual_sell_price,omitempty"`
	ClearManualBuy  bool             `json:"clear_manual_buy,omitempty"`
	ClearManualSell bool             `json:"clear_manual_sell,omitempty"`
}

// Apply merges the update into item and returns the result.
func (u TrackedItemUpdate) Apply(item TrackedItem) TrackedItem {
	if u.MaxListed != nil {
		item.MaxListed = *u.MaxListed
	}
	if u.ManualBuyPrice != nil {
		item.ManualBuyPrice = decimal.NewNullDecimal(*u.ManualBuyPrice)
	}
	if u.ManualSellPrice != nil {
		item.ManualSellPrice = decimal.NewNullDecimal(*u.ManualSellPrice)
	}
	if u.ClearManualBuy {
		item.ManualBuyPrice = decimal.NullDecimal{}
	}
	if u.ClearManualSell {
		item.ManualSellPrice = decimal.NullDecimal{}
	}
	return item
}

// Snapshot is the venue's current market view of one item.
type Snapshot struct {
	LowestPrice decimal.NullDecimal `json:"lowest_price"`
	MedianPrice decimal.NullDecimal `json:"median_price"`
	Volume24h   *int64              `json:"volume"`
}

// Indicators are the computed fields written back onto a TrackedItem. They
// are always persisted together.
type Indicators struct {
	OptimalBuyPrice  decimal.Decimal `json:"optimal_buy_price"`
	OptimalSellPrice decimal.Decimal `json:"optimal_sell_price"`
	Volatility       decimal.Decimal `json:"volatility"`
	PotentialProfit  decimal.Decimal `json:"potential_profit"`
	ShouldTrade      bool            `json:"should_trade"`
}
