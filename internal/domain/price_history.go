package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceHistoryRecord is one aggregated sale bucket from the venue's price
// feed. (MarketHashName, RecordedAt) is unique.
type PriceHistoryRecord struct {
	MarketHashName string          `json:"market_hash_name"`
	RecordedAt     time.Time       `json:"recorded_at"`
	Price          decimal.Decimal `json:"price"`
	Volume         int64           `json:"volume"`
}

// PricePoint is a raw entry of the venue price feed before it is bound to an
// item.
type PricePoint struct {
	At     time.Time
	Price  decimal.Decimal
	Volume int64
}
