package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Listing is an active sell order at the venue.
type Listing struct {
	OrderID        string          `json:"order_id"`
	AssetID        string          `json:"asset_id"`
	MarketHashName string          `json:"market_hash_name"`
	Price          decimal.Decimal `json:"price"`
}

// Venue is the external marketplace. Every call may fail with
// ErrVenueTransient (session trouble, retried by the implementation up to a
// bound) or ErrVenueRejected (surfaced immediately).
type Venue interface {
	// Inventory returns held assets keyed by asset id.
	Inventory(ctx context.Context, pair VenuePair) (map[string]InventoryItem, error)
	// PriceHistory returns the feed points of the last days, oldest first.
	PriceHistory(ctx context.Context, marketHashName string, pair VenuePair, days int) ([]PricePoint, error)
	CurrentPrice(ctx context.Context, marketHashName string, pair VenuePair) (Snapshot, error)
	ActiveListings(ctx context.Context) ([]Listing, error)
	CreateBuyOrder(ctx context.Context, marketHashName string, price decimal.Decimal, pair VenuePair, quantity int) (string, error)
	CreateSellOrder(ctx context.Context, assetID string, pair VenuePair, price decimal.Decimal) (string, error)
}
