// Package analytics holds the pure market computations behind a pool item's
// indicators: percentile price targets, volatility, venue fees and the
// trade-eligibility decision.
package analytics

import (
	"fmt"
	"sort"

	"github.com/alanyoungcy/smtbot/internal/domain"
	"github.com/shopspring/decimal"
)

// WeightedPercentile returns the price at which cumulative traded volume,
// walking prices in ascending order, first reaches pct percent of the total.
// The result is rounded half-up to cents.
func WeightedPercentile(records []domain.PriceHistoryRecord, pct float64) (decimal.Decimal, error) {
	if len(records) == 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: weighted percentile of empty history", domain.ErrComputation)
	}

	sorted := make([]domain.PriceHistoryRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Price.LessThan(sorted[j].Price)
	})

	var total int64
	for _, r := range sorted {
		total += r.Volume
	}
	cutoff := float64(total) * (pct / 100)

	var cum int64
	for _, r := range sorted {
		cum += r.Volume
		if float64(cum) >= cutoff {
			return r.Price.Round(2), nil
		}
	}
	return sorted[len(sorted)-1].Price.Round(2), nil
}
