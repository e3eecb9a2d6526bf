package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// PriceHistoryStore implements domain.PriceHistoryStore using PostgreSQL.
type PriceHistoryStore struct {
	pool *pgxpool.Pool
}

var _ domain.PriceHistoryStore = (*PriceHistoryStore)(nil)

// NewPriceHistoryStore creates a new PriceHistoryStore backed by the given connection pool.
func NewPriceHistoryStore(pool *pgxpool.Pool) *PriceHistoryStore {
	return &PriceHistoryStore{pool: pool}
}

func scanPriceHistoryRows(rows pgx.Rows) ([]domain.PriceHistoryRecord, error) {
	var records []domain.PriceHistoryRecord
	for rows.Next() {
		var r domain.PriceHistoryRecord
		if err := rows.Scan(&r.MarketHashName, &r.RecordedAt, &r.Price, &r.Volume); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// InsertBatch inserts records in one round trip. Rows that already exist for
// the same (market_hash_name, recorded_at) are skipped and not counted.
func (s *PriceHistoryStore) InsertBatch(ctx context.Context, records []domain.PriceHistoryRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO price_history (market_hash_name, recorded_at, price, volume)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (market_hash_name, recorded_at) DO NOTHING`

	for _, r := range records {
		batch.Queue(query, r.MarketHashName, r.RecordedAt, r.Price, r.Volume)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	var inserted int64
	for i := range records {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("postgres: insert price history %s at %s: %w",
				records[i].MarketHashName, records[i].RecordedAt.Format(time.RFC3339), err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// ListSince returns an item's records at or after since, oldest first.
func (s *PriceHistoryStore) ListSince(ctx context.Context, name string, since time.Time) ([]domain.PriceHistoryRecord, error) {
	const query = `
		SELECT market_hash_name, recorded_at, price, volume
		FROM price_history
		WHERE market_hash_name = $1 AND recorded_at >= $2
		ORDER BY recorded_at ASC`

	rows, err := s.pool.Query(ctx, query, name, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list price history %s: %w", name, err)
	}
	defer rows.Close()

	records, err := scanPriceHistoryRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan price history: %w", err)
	}
	return records, nil
}

// DeleteBefore removes an item's records older than before.
func (s *PriceHistoryStore) DeleteBefore(ctx context.Context, name string, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM price_history WHERE market_hash_name = $1 AND recorded_at < $2`,
		name, before,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete price history %s: %w", name, err)
	}
	return tag.RowsAffected(), nil
}

// ListBefore pages through records older than before across all items,
// starting at opts.Since when set.
func (s *PriceHistoryStore) ListBefore(ctx context.Context, before time.Time, opts domain.ListOpts) ([]domain.PriceHistoryRecord, error) {
	query := `
		SELECT market_hash_name, recorded_at, price, volume
		FROM price_history
		WHERE recorded_at < $1`
	const orderBy = " ORDER BY recorded_at ASC, market_hash_name ASC"
	args := []any{before}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND recorded_at >= $%d", argIdx)
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
		return nil, fmt.Errorf("postgres: list price history before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	records, err := scanPriceHistoryRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan price history: %w", err)
	}
	return records, nil
}
