package analytics

import (
	"math"

	"github.com/alanyoungcy/smtbot/internal/domain"
	"github.com/shopspring/decimal"
)

// Volatility is the volume-weighted standard deviation of log returns between
// consecutive records, rounded to 4 places. records must be oldest first.
// Fewer than two records or an all-zero volume series yield zero.
func Volatility(records []domain.PriceHistoryRecord) decimal.Decimal {
	if len(records) < 2 {
		return decimal.Zero
	}

	n := len(records) - 1
	returns := make([]float64, n)
	weights := make([]float64, n)
	var totalW float64
	for i := 1; i < len(records); i++ {
		prev := records[i-1].Price.InexactFloat64()
		cur := records[i].Price.InexactFloat64()
		returns[i-1] = math.Log(cur / prev)
		weights[i-1] = float64(records[i].Volume+records[i-1].Volume) / 2
		totalW += weights[i-1]
	}
	if totalW == 0 {
		return decimal.Zero
	}

	var mean float64
	for i := range returns {
		mean += returns[i] * weights[i]
	}
	mean /= totalW

	var variance float64
	for i := range returns {
		d := returns[i] - mean
		variance += weights[i] * d * d
	}
	variance /= totalW

	sigma := math.Sqrt(variance)
	if math.IsNaN(sigma) || math.IsInf(sigma, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(sigma).Round(4)
}
