package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// TrackedItemStore implements domain.TrackedItemStore using PostgreSQL.
type TrackedItemStore struct {
	pool *pgxpool.Pool
}

var _ domain.TrackedItemStore = (*TrackedItemStore)(nil)

// NewTrackedItemStore creates a new TrackedItemStore backed by the given connection pool.
func NewTrackedItemStore(pool *pgxpool.Pool) *TrackedItemStore {
	return &TrackedItemStore{pool: pool}
}

const trackedItemSelectCols = `market_hash_name, name, app_id, context_id, icon_url, max_listed,
	optimal_buy_price, optimal_sell_price, manual_buy_price, manual_sell_price,
	current_lowest_price, current_median_price, current_volume24h,
	volatility, potential_profit, should_trade, created_at, updated_at`

func scanTrackedItem(row pgx.Row) (domain.TrackedItem, error) {
	var t domain.TrackedItem
	err := row.Scan(
		&t.MarketHashName, &t.Name, &t.AppID, &t.ContextID, &t.IconURL, &t.MaxListed,
		&t.OptimalBuyPrice, &t.OptimalSellPrice, &t.ManualBuyPrice, &t.ManualSellPrice,
		&t.CurrentLowestPrice, &t.CurrentMedianPrice, &t.CurrentVolume24h,
		&t.Volatility, &t.PotentialProfit, &t.ShouldTrade, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

func scanTrackedItems(rows pgx.Rows) ([]domain.TrackedItem, error) {
	var items []domain.TrackedItem
	for rows.Next() {
		t, err := scanTrackedItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// Create inserts a new pool item. A duplicate market_hash_name yields
// domain.ErrAlreadyExists.
func (s *TrackedItemStore) Create(ctx context.Context, t domain.TrackedItem) error {
	const query = `
		INSERT INTO tracked_items (
			market_hash_name, name, app_id, context_id, icon_url, max_listed,
			manual_buy_price, manual_sell_price
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		t.MarketHashName, t.Name, t.AppID, t.ContextID, t.IconURL, t.MaxListed,
		t.ManualBuyPrice, t.ManualSellPrice,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: create tracked item %s: %w", t.MarketHashName, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create tracked item %s: %w", t.MarketHashName, err)
	}
	return nil
}

// Get returns the pool item with the given market hash name.
func (s *TrackedItemStore) Get(ctx context.Context, name string) (domain.TrackedItem, error) {
	query := `SELECT ` + trackedItemSelectCols + ` FROM tracked_items WHERE market_hash_name = $1`

	t, err := scanTrackedItem(s.pool.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TrackedItem{}, fmt.Errorf("postgres: tracked item %s: %w", name, domain.ErrNotFound)
		}
		return domain.TrackedItem{}, fmt.Errorf("postgres: get tracked item %s: %w", name, err)
	}
	return t, nil
}

// GetMany returns the pool items among names. Unknown names are skipped.
func (s *TrackedItemStore) GetMany(ctx context.Context, names []string) ([]domain.TrackedItem, error) {
	if len(names) == 0 {
		return nil, nil
	}
	query := `SELECT ` + trackedItemSelectCols + ` FROM tracked_items
		WHERE market_hash_name = ANY($1) ORDER BY market_hash_name`

	rows, err := s.pool.Query(ctx, query, names)
	if err != nil {
		return nil, fmt.Errorf("postgres: get tracked items: %w", err)
	}
	defer rows.Close()

	items, err := scanTrackedItems(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan tracked items: %w", err)
	}
	return items, nil
}

// List returns the whole pool ordered by name.
func (s *TrackedItemStore) List(ctx context.Context) ([]domain.TrackedItem, error) {
	query := `SELECT ` + trackedItemSelectCols + ` FROM tracked_items ORDER BY market_hash_name`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tracked items: %w", err)
	}
	defer rows.Close()

	items, err := scanTrackedItems(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan tracked items: %w", err)
	}
	return items, nil
}

// ListNames returns every market hash name in the pool.
func (s *TrackedItemStore) ListNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT market_hash_name FROM tracked_items ORDER BY market_hash_name`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tracked item names: %w", err)
	}
	defer rows.Close()

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan tracked item names: %w", err)
	}
	return names, nil
}

// Update applies the user-editable fields of upd and returns the stored row.
func (s *TrackedItemStore) Update(ctx context.Context, name string, upd domain.TrackedItemUpdate) (domain.TrackedItem, error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{name}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.MaxListed != nil {
		add("max_listed", *upd.MaxListed)
	}
	switch {
	case upd.ClearManualBuy:
		sets = append(sets, "manual_buy_price = NULL")
	case upd.ManualBuyPrice != nil:
		add("manual_buy_price", *upd.ManualBuyPrice)
	}
	switch {
	case upd.ClearManualSell:
		sets = append(sets, "manual_sell_price = NULL")
	case upd.ManualSellPrice != nil:
		add("manual_sell_price", *upd.ManualSellPrice)
	}

	query := `UPDATE tracked_items SET ` + strings.Join(sets, ", ") +
		` WHERE market_hash_name = $1 RETURNING ` + trackedItemSelectCols

	t, err := scanTrackedItem(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TrackedItem{}, fmt.Errorf("postgres: tracked item %s: %w", name, domain.ErrNotFound)
		}
		return domain.TrackedItem{}, fmt.Errorf("postgres: update tracked item %s: %w", name, err)
	}
	return t, nil
}

// UpdateSnapshot stores the venue's current lowest, median and volume.
func (s *TrackedItemStore) UpdateSnapshot(ctx context.Context, name string, snap domain.Snapshot) error {
	const query = `
		UPDATE tracked_items SET
			current_lowest_price = $2,
			current_median_price = $3,
			current_volume24h    = $4,
			updated_at           = NOW()
		WHERE market_hash_name = $1`

	tag, err := s.pool.Exec(ctx, query, name, snap.LowestPrice, snap.MedianPrice, snap.Volume24h)
	if err != nil {
		return fmt.Errorf("postgres: update snapshot %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: tracked item %s: %w", name, domain.ErrNotFound)
	}
	return nil
}

// UpdateIndicators writes the five computed fields in a single statement.
func (s *TrackedItemStore) UpdateIndicators(ctx context.Context, name string, ind domain.Indicators) error {
	const query = `
		UPDATE tracked_items SET
			optimal_buy_price  = $2,
			optimal_sell_price = $3,
			volatility         = $4,
			potential_profit   = $5,
			should_trade       = $6,
			updated_at         = NOW()
		WHERE market_hash_name = $1`

	tag, err := s.pool.Exec(ctx, query, name,
		ind.OptimalBuyPrice, ind.OptimalSellPrice,
		ind.Volatility, ind.PotentialProfit, ind.ShouldTrade,
	)
	if err != nil {
		return fmt.Errorf("postgres: update indicators %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: tracked item %s: %w", name, domain.ErrNotFound)
	}
	return nil
}

// Delete removes a pool item. Its price history goes with it.
func (s *TrackedItemStore) Delete(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tracked_items WHERE market_hash_name = $1`, name)
	if err != nil {
		return fmt.Errorf("postgres: delete tracked item %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: tracked item %s: %w", name, domain.ErrNotFound)
	}
	return nil
}
