package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// InventoryStore implements domain.InventoryStore using PostgreSQL.
type InventoryStore struct {
	pool *pgxpool.Pool
}

var _ domain.InventoryStore = (*InventoryStore)(nil)

// NewInventoryStore creates a new InventoryStore backed by the given connection pool.
func NewInventoryStore(pool *pgxpool.Pool) *InventoryStore {
	return &InventoryStore{pool: pool}
}

const inventorySelectCols = `asset_id, app_id, context_id, name, market_hash_name,
	tradable, marketable, amount, icon_url`

func scanInventoryRows(rows pgx.Rows) ([]domain.InventoryItem, error) {
	var items []domain.InventoryItem
	for rows.Next() {
		var it domain.InventoryItem
		if err := rows.Scan(
			&it.AssetID, &it.AppID, &it.ContextID, &it.Name, &it.MarketHashName,
			&it.Tradable, &it.Marketable, &it.Amount, &it.IconURL,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Replace swaps the stored assets of pair for items in one transaction.
func (s *InventoryStore) Replace(ctx context.Context, pair domain.VenuePair, items []domain.InventoryItem) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin inventory replace: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM inventory_items WHERE app_id = $1 AND context_id = $2`,
		pair.AppID, pair.ContextID,
	); err != nil {
		return fmt.Errorf("postgres: clear inventory %s: %w", pair, err)
	}

	if len(items) > 0 {
		batch := &pgx.Batch{}
		const query = `
			INSERT INTO inventory_items (
				asset_id, app_id, context_id, name, market_hash_name,
				tradable, marketable, amount, icon_url
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (asset_id) DO UPDATE SET
				app_id           = EXCLUDED.app_id,
				context_id       = EXCLUDED.context_id,
				name             = EXCLUDED.name,
				market_hash_name = EXCLUDED.market_hash_name,
				tradable         = EXCLUDED.tradable,
				marketable       = EXCLUDED.marketable,
				amount           = EXCLUDED.amount,
				icon_url         = EXCLUDED.icon_url`

		for _, it := range items {
			batch.Queue(query,
				it.AssetID, pair.AppID, pair.ContextID, it.Name, it.MarketHashName,
				it.Tradable, it.Marketable, it.Amount, it.IconURL,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres: insert inventory %s: %w", pair, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit inventory %s: %w", pair, err)
	}
	return nil
}

// List returns the stored assets of pair.
func (s *InventoryStore) List(ctx context.Context, pair domain.VenuePair) ([]domain.InventoryItem, error) {
	query := `SELECT ` + inventorySelectCols + ` FROM inventory_items
		WHERE app_id = $1 AND context_id = $2 ORDER BY market_hash_name, asset_id`

	rows, err := s.pool.Query(ctx, query, pair.AppID, pair.ContextID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list inventory %s: %w", pair, err)
	}
	defer rows.Close()

	items, err := scanInventoryRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan inventory: %w", err)
	}
	return items, nil
}

// Get returns a single stored asset.
func (s *InventoryStore) Get(ctx context.Context, assetID string) (domain.InventoryItem, error) {
	items, err := s.GetMany(ctx, []string{assetID})
	if err != nil {
		return domain.InventoryItem{}, err
	}
	if len(items) == 0 {
		return domain.InventoryItem{}, fmt.Errorf("postgres: inventory asset %s: %w", assetID, domain.ErrNotFound)
	}
	return items[0], nil
}

// GetMany returns the stored assets among assetIDs. Unknown ids are skipped.
func (s *InventoryStore) GetMany(ctx context.Context, assetIDs []string) ([]domain.InventoryItem, error) {
	if len(assetIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + inventorySelectCols + ` FROM inventory_items WHERE asset_id = ANY($1)`

	rows, err := s.pool.Query(ctx, query, assetIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: get inventory assets: %w", err)
	}
	defer rows.Close()

	items, err := scanInventoryRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan inventory: %w", err)
	}
	return items, nil
}
