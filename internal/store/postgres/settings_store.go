package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// SettingsStore implements domain.SettingsStore on the single-row
// trading_settings table.
type SettingsStore struct {
	pool *pgxpool.Pool
}

var _ domain.SettingsStore = (*SettingsStore)(nil)

// NewSettingsStore creates a new SettingsStore backed by the given connection pool.
func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

const settingsCols = `min_profit_threshold, min_profit_percentage, max_investment_per_item,
	buy_percentile, sell_percentile, min_volume_24h, min_volume_7d,
	max_volatility_threshold, min_volatility_threshold,
	price_history_days, analysis_window_days, max_concurrent_trades,
	cooldown_after_loss_hours, price_refresh_interval_minutes,
	stats_refresh_interval_minutes, emergency_stop, max_daily_loss`

func settingsArgs(st domain.TradingSettings) []any {
	return []any{
		st.MinProfitThreshold, st.MinProfitPercentage, st.MaxInvestmentPerItem,
		st.BuyPercentile, st.SellPercentile, st.MinVolume24h, st.MinVolume7d,
		st.MaxVolatilityThreshold, st.MinVolatilityThreshold,
		st.PriceHistoryDays, st.AnalysisWindowDays, st.MaxConcurrentTrades,
		st.CooldownAfterLossHours, st.PriceRefreshIntervalMinutes,
		st.StatsRefreshIntervalMinutes, st.EmergencyStop, st.MaxDailyLoss,
	}
}

func scanSettings(row pgx.Row) (domain.TradingSettings, error) {
	var st domain.TradingSettings
	err := row.Scan(
		&st.MinProfitThreshold, &st.MinProfitPercentage, &st.MaxInvestmentPerItem,
		&st.BuyPercentile, &st.SellPercentile, &st.MinVolume24h, &st.MinVolume7d,
		&st.MaxVolatilityThreshold, &st.MinVolatilityThreshold,
		&st.PriceHistoryDays, &st.AnalysisWindowDays, &st.MaxConcurrentTrades,
		&st.CooldownAfterLossHours, &st.PriceRefreshIntervalMinutes,
		&st.StatsRefreshIntervalMinutes, &st.EmergencyStop, &st.MaxDailyLoss,
		&st.UpdatedAt,
	)
	return st, err
}

// Get returns the stored settings, or domain.ErrNotFound before the row has
// been created.
func (s *SettingsStore) Get(ctx context.Context) (domain.TradingSettings, error) {
	query := `SELECT ` + settingsCols + `, updated_at FROM trading_settings WHERE id = 1`

	st, err := scanSettings(s.pool.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradingSettings{}, fmt.Errorf("postgres: trading settings: %w", domain.ErrNotFound)
		}
		return domain.TradingSettings{}, fmt.Errorf("postgres: get trading settings: %w", err)
	}
	return st, nil
}

// InsertDefault creates the row from st unless another writer already has.
func (s *SettingsStore) InsertDefault(ctx context.Context, st domain.TradingSettings) error {
	query := `INSERT INTO trading_settings (id, ` + settingsCols + `)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, query, settingsArgs(st)...); err != nil {
		return fmt.Errorf("postgres: insert default trading settings: %w", err)
	}
	return nil
}

// Save upserts the whole row and returns it as stored.
func (s *SettingsStore) Save(ctx context.Context, st domain.TradingSettings) (domain.TradingSettings, error) {
	query := `INSERT INTO trading_settings (id, ` + settingsCols + `, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW())
		ON CONFLICT (id) DO UPDATE SET
			min_profit_threshold           = EXCLUDED.min_profit_threshold,
			min_profit_percentage          = EXCLUDED.min_profit_percentage,
			max_investment_per_item        = EXCLUDED.max_investment_per_item,
			buy_percentile                 = EXCLUDED.buy_percentile,
			sell_percentile                = EXCLUDED.sell_percentile,
			min_volume_24h                 = EXCLUDED.min_volume_24h,
			min_volume_7d                  = EXCLUDED.min_volume_7d,
			max_volatility_threshold       = EXCLUDED.max_volatility_threshold,
			min_volatility_threshold       = EXCLUDED.min_volatility_threshold,
			price_history_days             = EXCLUDED.price_history_days,
			analysis_window_days           = EXCLUDED.analysis_window_days,
			max_concurrent_trades          = EXCLUDED.max_concurrent_trades,
			cooldown_after_loss_hours      = EXCLUDED.cooldown_after_loss_hours,
			price_refresh_interval_minutes = EXCLUDED.price_refresh_interval_minutes,
			stats_refresh_interval_minutes = EXCLUDED.stats_refresh_interval_minutes,
			emergency_stop                 = EXCLUDED.emergency_stop,
			max_daily_loss                 = EXCLUDED.max_daily_loss,
			updated_at                     = NOW()
		RETURNING ` + settingsCols + `, updated_at`

	saved, err := scanSettings(s.pool.QueryRow(ctx, query, settingsArgs(st)...))
	if err != nil {
		return domain.TradingSettings{}, fmt.Errorf("postgres: save trading settings: %w", err)
	}
	return saved, nil
}
