package analytics

import (
	"fmt"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// MinRecords is the smallest history Compute accepts.
const MinRecords = 2

// Compute derives all indicators for one item from its analysis-window
// history (oldest first) and its latest 24h volume.
func Compute(records []domain.PriceHistoryRecord, volume24h *int64, s domain.TradingSettings) (domain.Indicators, error) {
	if len(records) < MinRecords {
		return domain.Indicators{}, fmt.Errorf("%w: need %d records, have %d", domain.ErrComputation, MinRecords, len(records))
	}

	buy, err := WeightedPercentile(records, float64(s.BuyPercentile))
	if err != nil {
		return domain.Indicators{}, err
	}
	sell, err := WeightedPercentile(records, float64(s.SellPercentile))
	if err != nil {
		return domain.Indicators{}, err
	}
	vol := Volatility(records)
	_, profit := NetAndProfit(sell, buy)

	return domain.Indicators{
		OptimalBuyPrice:  buy,
		OptimalSellPrice: sell,
		Volatility:       vol,
		PotentialProfit:  profit,
		ShouldTrade:      ShouldTrade(profit, volume24h, vol, s),
	}, nil
}
