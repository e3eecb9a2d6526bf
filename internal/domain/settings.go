package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradingSettings is the singleton set of risk and analysis parameters read
// by the analytics engine and the trading cycle.
type TradingSettings struct {
	MinProfitThreshold          decimal.Decimal `json:"min_profit_threshold"`
	MinProfitPercentage         decimal.Decimal `json:"min_profit_percentage"`
	MaxInvestmentPerItem        decimal.Decimal `json:"max_investment_per_item"`
	BuyPercentile               int             `json:"buy_percentile"`
	SellPercentile              int             `json:"sell_percentile"`
	MinVolume24h                int64           `json:"min_volume_24h"`
	MinVolume7d                 int64           `json:"min_volume_7d"`
	MaxVolatilityThreshold      decimal.Decimal `json:"max_volatility_threshold"`
	MinVolatilityThreshold      decimal.Decimal `json:"min_volatility_threshold"`
	PriceHistoryDays            int             `json:"price_history_days"`
	AnalysisWindowDays          int             `json:"analysis_window_days"`
	MaxConcurrentTrades         int             `json:"max_concurrent_trades"`
	CooldownAfterLossHours      int             `json:"cooldown_after_loss_hours"`
	PriceRefreshIntervalMinutes int             `json:"price_refresh_interval_minutes"`
	StatsRefreshIntervalMinutes int             `json:"stats_refresh_interval_minutes"`
	EmergencyStop               bool            `json:"emergency_stop"`
	MaxDailyLoss                decimal.Decimal `json:"max_daily_loss"`
	UpdatedAt                   time.Time       `json:"updated_at"`
}

// DefaultTradingSettings returns the values a fresh installation starts with.
func DefaultTradingSettings() TradingSettings {
	return TradingSettings{
		MinProfitThreshold:          decimal.RequireFromString("0.10"),
		MinProfitPercentage:         decimal.RequireFromString("5.00"),
		MaxInvestmentPerItem:        decimal.RequireFromString("50.00"),
		BuyPercentile:               20,
		SellPercentile:              80,
		MinVolume24h:                10,
		MinVolume7d:                 50,
		MaxVolatilityThreshold:      decimal.RequireFromString("0.5000"),
		MinVolatilityThreshold:      decimal.RequireFromString("0.0100"),
		PriceHistoryDays:            30,
		AnalysisWindowDays:          7,
		MaxConcurrentTrades:         10,
		CooldownAfterLossHours:      24,
		PriceRefreshIntervalMinutes: 30,
		StatsRefreshIntervalMinutes: 60,
		EmergencyStop:               false,
		MaxDailyLoss:                decimal.RequireFromString("100.00"),
	}
}

// Validate checks field ranges and cross-field rules and reports every
// violation at once.
func (s TradingSettings) Validate() error {
	var errs []string

	if s.BuyPercentile < 1 || s.BuyPercentile > 99 {
		errs = append(errs, fmt.Sprintf("buy_percentile must be 1-99, got %d", s.BuyPercentile))
	}
	if s.SellPercentile < 1 || s.SellPercentile > 99 {
		errs = append(errs, fmt.Sprintf("sell_percentile must be 1-99, got %d", s.SellPercentile))
	}
	if s.BuyPercentile >= s.SellPercentile {
		errs = append(errs, "buy_percentile must be less than sell_percentile")
	}
	if s.MinVolatilityThreshold.GreaterThanOrEqual(s.MaxVolatilityThreshold) {
		errs = append(errs, "min_volatility_threshold must be less than max_volatility_threshold")
	}
	if s.MinVolatilityThreshold.IsNegative() {
		errs = append(errs, "min_volatility_threshold must be >= 0")
	}
	if s.PriceHistoryDays < 1 || s.PriceHistoryDays > 365 {
		errs = append(errs, fmt.Sprintf("price_history_days must be 1-365, got %d", s.PriceHistoryDays))
	}
	if s.AnalysisWindowDays < 1 || s.AnalysisWindowDays > 90 {
		errs = append(errs, fmt.Sprintf("analysis_window_days must be 1-90, got %d", s.AnalysisWindowDays))
	}
	if s.PriceRefreshIntervalMinutes < 5 {
		errs = append(errs, "price_refresh_interval_minutes must be >= 5")
	}
	if s.StatsRefreshIntervalMinutes < 10 {
		errs = append(errs, "stats_refresh_interval_minutes must be >= 10")
	}
	if s.MinVolume24h < 0 || s.MinVolume7d < 0 {
		errs = append(errs, "volume thresholds must be >= 0")
	}
	if s.MaxConcurrentTrades < 1 {
		errs = append(errs, "max_concurrent_trades must be >= 1")
	}
	if s.CooldownAfterLossHours < 0 {
		errs = append(errs, "cooldown_after_loss_hours must be >= 0")
	}
	for name, v := range map[string]decimal.Decimal{
		"min_profit_percentage":   s.MinProfitPercentage,
		"max_investment_per_item": s.MaxInvestmentPerItem,
		"max_daily_loss":          s.MaxDailyLoss,
	} {
		if v.IsNegative() {
			errs = append(errs, name+" must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(errs, "; "))
	}
	return nil
}

// SettingsUpdate is a partial update: only non-nil fields are applied.
type SettingsUpdate struct {
	MinProfitThreshold          *decimal.Decimal `json:"min_profit_threshold,omitempty"`
	MinProfitPercentage         *decimal.Decimal `json:"min_profit_percentage,omitempty"`
	MaxInvestmentPerItem        *decimal.Decimal `json:"max_investment_per_item,omitempty"`
	BuyPercentile               *int             `json:"buy_percentile,omitempty"`
	SellPercentile              *int             `json:"sell_percentile,omitempty"`
	MinVolume24h                *int64           `json:"min_volume_24h,omitempty"`
	MinVolume7d                 *int64           `json:"min_volume_7d,omitempty"`
	MaxVolatilityThreshold      *decimal.Decimal `json:"max_volatility_threshold,omitempty"`
	MinVolatilityThreshold      *decimal.Decimal `json:"min_volatility_threshold,omitempty"`
	PriceHistoryDays            *int             `json:"price_history_days,omitempty"`
	AnalysisWindowDays          *int             `json:"analysis_window_days,omitempty"`
	MaxConcurrentTrades         *int             `json:"max_concurrent_trades,omitempty"`
	CooldownAfterLossHours      *int             `json:"cooldown_after_loss_hours,omitempty"`
	PriceRefreshIntervalMinutes *int             `json:"price_refresh_interval_minutes,omitempty"`
	StatsRefreshIntervalMinutes *int             `json:"stats_refresh_interval_minutes,omitempty"`
	EmergencyStop               *bool            `json:"emergency_stop,omitempty"`
	MaxDailyLoss                *decimal.Decimal `json:"max_daily_loss,omitempty"`
}

// Apply returns s with every provided field of u written over it.
func (u SettingsUpdate) Apply(s TradingSettings) TradingSettings {
	setDec(&s.MinProfitThreshold, u.MinProfitThreshold)
	setDec(&s.MinProfitPercentage, u.MinProfitPercentage)
	setDec(&s.MaxInvestmentPerItem, u.MaxInvestmentPerItem)
	setVal(&s.BuyPercentile, u.BuyPercentile)
	setVal(&s.SellPercentile, u.SellPercentile)
	setVal(&s.MinVolume24h, u.MinVolume24h)
	setVal(&s.MinVolume7d, u.MinVolume7d)
	setDec(&s.MaxVolatilityThreshold, u.MaxVolatilityThreshold)
	setDec(&s.MinVolatilityThreshold, u.MinVolatilityThreshold)
	setVal(&s.PriceHistoryDays, u.PriceHistoryDays)
	setVal(&s.AnalysisWindowDays, u.AnalysisWindowDays)
	setVal(&s.MaxConcurrentTrades, u.MaxConcurrentTrades)
	setVal(&s.CooldownAfterLossHours, u.CooldownAfterLossHours)
	setVal(&s.PriceRefreshIntervalMinutes, u.PriceRefreshIntervalMinutes)
	setVal(&s.StatsRefreshIntervalMinutes, u.StatsRefreshIntervalMinutes)
	setVal(&s.EmergencyStop, u.EmergencyStop)
	setDec(&s.MaxDailyLoss, u.MaxDailyLoss)
	return s
}

// TouchesAnalytics reports whether the update changes an input of the
// indicator computation, in which case pool indicators are stale.
func (u SettingsUpdate) TouchesAnalytics() bool {
	return u.BuyPercentile != nil ||
		u.SellPercentile != nil ||
		u.MinProfitThreshold != nil ||
		u.MinVolume24h != nil ||
		u.MaxVolatilityThreshold != nil ||
		u.MinVolatilityThreshold != nil ||
		u.AnalysisWindowDays != nil ||
		u.EmergencyStop != nil
}

func setVal[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setDec(dst *decimal.Decimal, v *decimal.Decimal) {
	if v != nil {
		*dst = *v
	}
}
