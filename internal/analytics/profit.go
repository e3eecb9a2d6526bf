package analytics

import (
	"github.com/alanyoungcy/smtbot/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// NetAndProfit returns what the seller receives for a sale at sell after
// venue fees, and that amount minus buy. Both are in currency units with 2
// decimal places.
func NetAndProfit(sell, buy decimal.Decimal) (net, profit decimal.Decimal) {
	gross := sell.Mul(hundred).Round(0).IntPart()
	fees := CalculateFees(gross)

	profitCents := fees.Received - buy.Mul(hundred).Round(0).IntPart()
	return decimal.New(fees.Received, -2), decimal.New(profitCents, -2)
}

// ShouldTrade applies the trading gates in priority order: emergency stop,
// minimum profit, minimum 24h volume, then the inclusive volatility band.
func ShouldTrade(profit decimal.Decimal, volume24h *int64, volatility decimal.Decimal, s domain.TradingSettings) bool {
	if s.EmergencyStop {
		return false
	}
	if profit.LessThan(s.MinProfitThreshold) {
		return false
	}
	if volume24h == nil || *volume24h < s.MinVolume24h {
		return false
	}
	if volatility.LessThan(s.MinVolatilityThreshold) || volatility.GreaterThan(s.MaxVolatilityThreshold) {
		return false
	}
	return true
}
