package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TrackedItemStore persists pool items.
type TrackedItemStore interface {
	Create(ctx context.Context, item TrackedItem) error
	Get(ctx context.Context, name string) (TrackedItem, error)
	GetMany(ctx context.Context, names []string) ([]TrackedItem, error)
	List(ctx context.Context) ([]TrackedItem, error)
	ListNames(ctx context.Context) ([]string, error)
	Update(ctx context.Context, name string, upd TrackedItemUpdate) (TrackedItem, error)
	UpdateSnapshot(ctx context.Context, name string, snap Snapshot) error
	// UpdateIndicators writes all five computed fields in one statement.
	UpdateIndicators(ctx context.Context, name string, ind Indicators) error
	Delete(ctx context.Context, name string) error
}

// PriceHistoryStore persists the per-item price feed.
type PriceHistoryStore interface {
	// InsertBatch inserts records, silently skipping (name, recorded_at)
	// duplicates. It returns the number of rows actually inserted.
	InsertBatch(ctx context.Context, records []PriceHistoryRecord) (int64, error)
	// ListSince returns records at or after since, oldest first.
	ListSince(ctx context.Context, name string, since time.Time) ([]PriceHistoryRecord, error)
	DeleteBefore(ctx context.Context, name string, before time.Time) (int64, error)
	// ListBefore returns records older than before across all items, oldest
	// first. opts.Since bounds the range from below.
	ListBefore(ctx context.Context, before time.Time, opts ListOpts) ([]PriceHistoryRecord, error)
}

// PositionStore persists positions.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Get(ctx context.Context, id string) (Position, error)
	List(ctx context.Context, filter PositionFilter) ([]Position, error)
	ListByStatus(ctx context.Context, status PositionStatus) ([]Position, error)
	// Transition persists pos only if the stored status still equals from.
	// A lost race returns ErrInvalidTransition.
	Transition(ctx context.Context, pos Position, from PositionStatus) error
	Delete(ctx context.Context, id string) error
	// ListClosedBefore returns positions sold before the cutoff, bounded below
	// by opts.Since.
	ListClosedBefore(ctx context.Context, before time.Time, opts ListOpts) ([]Position, error)
}

// SettingsStore persists the TradingSettings singleton.
type SettingsStore interface {
	// Get returns ErrNotFound when the row has not been created yet.
	Get(ctx context.Context) (TradingSettings, error)
	// InsertDefault creates the row only when it is absent.
	InsertDefault(ctx context.Context, s TradingSettings) error
	Save(ctx context.Context, s TradingSettings) (TradingSettings, error)
}

// InventoryStore persists the last fetched venue inventory.
type InventoryStore interface {
	// Replace swaps every stored asset of pair for items.
	Replace(ctx context.Context, pair VenuePair, items []InventoryItem) error
	List(ctx context.Context, pair VenuePair) ([]InventoryItem, error)
	Get(ctx context.Context, assetID string) (InventoryItem, error)
	GetMany(ctx context.Context, assetIDs []string) ([]InventoryItem, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log. List returns newest first;
// a non-empty eventPrefix keeps only events starting with it.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, eventPrefix string, opts ListOpts) ([]AuditEntry, error)
}
