package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTradingSettings_Valid(t *testing.T) {
	s := DefaultTradingSettings()
	require.NoError(t, s.Validate())
	assert.Equal(t, "0.1", s.MinProfitThreshold.String())
	assert.Equal(t, 20, s.BuyPercentile)
	assert.Equal(t, 80, s.SellPercentile)
	assert.False(t, s.EmergencyStop)
}

func TestTradingSettings_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TradingSettings)
	}{
		{"buy above sell", func(s *TradingSettings) { s.BuyPercentile = 90 }},
		{"percentile zero", func(s *TradingSettings) { s.BuyPercentile = 0 }},
		{"percentile 100", func(s *TradingSettings) { s.SellPercentile = 100 }},
		{"volatility band inverted", func(s *TradingSettings) { s.MinVolatilityThreshold = decimal.RequireFromString("0.9") }},
		{"history window too long", func(s *TradingSettings) { s.PriceHistoryDays = 400 }},
		{"analysis window zero", func(s *TradingSettings) { s.AnalysisWindowDays = 0 }},
		{"price refresh too frequent", func(s *TradingSettings) { s.PriceRefreshIntervalMinutes = 4 }},
		{"stats refresh too frequent", func(s *TradingSettings) { s.StatsRefreshIntervalMinutes = 9 }},
		{"negative daily loss", func(s *TradingSettings) { s.MaxDailyLoss = decimal.NewFromInt(-1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultTradingSettings()
			tt.mutate(&s)
			assert.ErrorIs(t, s.Validate(), ErrInvalidSettings)
		})
	}
}

func TestSettingsUpdate_ApplyOnlyProvided(t *testing.T) {
	buy := 30
	stop := true
	upd := SettingsUpdate{BuyPercentile: &buy, EmergencyStop: &stop}

	got := upd.Apply(DefaultTradingSettings())
	assert.Equal(t, 30, got.BuyPercentile)
	assert.True(t, got.EmergencyStop)
	assert.Equal(t, 80, got.SellPercentile)
	assert.Equal(t, 30, got.PriceHistoryDays)
}

func TestSettingsUpdate_TouchesAnalytics(t *testing.T) {
	days := 14
	assert.True(t, SettingsUpdate{AnalysisWindowDays: &days}.TouchesAnalytics())

	loss := decimal.NewFromInt(10)
	assert.False(t, SettingsUpdate{MaxDailyLoss: &loss}.TouchesAnalytics())
	assert.False(t, SettingsUpdate{}.TouchesAnalytics())
}
