package app

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// queuedInventory serves the inventory API in processes without a venue
// client: reads come from the store and refreshes are handed to a worker.
type queuedInventory struct {
	store domain.InventoryStore
	jobs  domain.JobQueue
}

func newQueuedInventory(store domain.InventoryStore, jobs domain.JobQueue) *queuedInventory {
	return &queuedInventory{store: store, jobs: jobs}
}

func (q *queuedInventory) List(ctx context.Context, pair domain.VenuePair) ([]domain.InventoryItem, error) {
	return q.store.List(ctx, pair)
}

// Refresh enqueues a refresh and returns the inventory as currently stored.
func (q *queuedInventory) Refresh(ctx context.Context, pair domain.VenuePair) ([]domain.InventoryItem, error) {
	if _, err := q.jobs.Enqueue(ctx, domain.Job{Kind: domain.JobRefreshInventory, Pair: pair}); err != nil {
		return nil, fmt.Errorf("app: queue inventory refresh %s: %w", pair, err)
	}
	return q.store.List(ctx, pair)
}
