package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, market_hash_name, buy_order_id, buy_price, sell_price,
	quantity, asset_id, sell_order_id, status,
	bought_at, listed_at, sold_at, created_at, updated_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status string

	err := row.Scan(
		&p.ID, &p.MarketHashName, &p.BuyOrderID, &p.BuyPrice, &p.SellPrice,
		&p.Quantity, &p.AssetID, &p.SellOrderID, &status,
		&p.BoughtAt, &p.ListedAt, &p.SoldAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, market_hash_name, buy_order_id, buy_price, sell_price,
			quantity, asset_id, sell_order_id, status,
			bought_at, listed_at, sold_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.MarketHashName, p.BuyOrderID, p.BuyPrice, p.SellPrice,
		p.Quantity, p.AssetID, p.SellOrderID, string(p.Status),
		p.BoughtAt, p.ListedAt, p.SoldAt, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Transition writes the lifecycle fields of p, guarded by the stored status
// still being from. A concurrent writer that got there first makes this a
// domain.ErrInvalidTransition.
func (s *PositionStore) Transition(ctx context.Context, p domain.Position, from domain.PositionStatus) error {
	const query = `
		UPDATE positions SET
			asset_id      = $3,
			sell_order_id = $4,
			status        = $5,
			bought_at     = $6,
			listed_at     = $7,
			sold_at       = $8,
			updated_at    = NOW()
		WHERE id = $1 AND status = $2`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, string(from),
		p.AssetID, p.SellOrderID, string(p.Status),
		p.BoughtAt, p.ListedAt, p.SoldAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: transition position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM positions WHERE id = $1`, p.ID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: position %s: %w", p.ID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("postgres: transition position %s: %w", p.ID, err)
	}
	return fmt.Errorf("postgres: position %s is %s, want %s: %w", p.ID, current, from, domain.ErrInvalidTransition)
}

// Get retrieves a position by ID.
func (s *PositionStore) Get(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`

	p, err := scanPositionRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// List returns positions matching filter, newest first.
func (s *PositionStore) List(ctx context.Context, filter domain.PositionFilter) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.MarketHashName != "" {
		query += fmt.Sprintf(" AND market_hash_name = $%d", argIdx)
		args = append(args, filter.MarketHashName)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// ListByStatus returns every position in status, oldest first so the
// trading cycle processes them in creation order.
func (s *PositionStore) ListByStatus(ctx context.Context, status domain.PositionStatus) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE status = $1 ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by status %s: %w", status, err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// Delete removes a position regardless of its state.
func (s *PositionStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListClosedBefore pages through positions that closed before the cutoff.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		WHERE status = 'CLOSED' AND sold_at < $1`
	const orderBy = " ORDER BY sold_at ASC, id ASC"
	args := []any{before}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND sold_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	query += orderBy

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}
