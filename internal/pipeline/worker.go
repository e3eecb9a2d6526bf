package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// Refresher is the indicator refresh pipeline. Nil or empty names means
// the whole pool.
type Refresher interface {
	RefreshPriceHistory(ctx context.Context, names []string) error
	RefreshSnapshots(ctx context.Context, names []string) error
	RefreshIndicators(ctx context.Context, names []string) error
	RefreshAll(ctx context.Context, names []string) error
}

// InventoryRefresher pulls venue inventory into the local store.
type InventoryRefresher interface {
	Refresh(ctx context.Context, pair domain.VenuePair) ([]domain.InventoryItem, error)
}

// Worker executes queued jobs against the services.
type Worker struct {
	refresh   Refresher
	cycle     *LockedCycle
	inventory InventoryRefresher
	pairs     []domain.VenuePair
	logger    *slog.Logger
}

// NewWorker creates a Worker. pairs are refreshed by inventory jobs that do
// not name a pair.
func NewWorker(refresh Refresher, cycle *LockedCycle, inventory InventoryRefresher, pairs []domain.VenuePair, logger *slog.Logger) *Worker {
	return &Worker{
		refresh:   refresh,
		cycle:     cycle,
		inventory: inventory,
		pairs:     pairs,
		logger:    logger,
	}
}

// Handle runs one job. It satisfies JobHandler.
func (w *Worker) Handle(ctx context.Context, job domain.Job) error {
	w.logger.InfoContext(ctx, "worker: running job",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.Any("names", job.Names),
	)

	switch job.Kind {
	case domain.JobRefreshPriceHistory:
		return w.refresh.RefreshPriceHistory(ctx, job.Names)
	case domain.JobRefreshSnapshot:
		return w.refresh.RefreshSnapshots(ctx, job.Names)
	case domain.JobRefreshIndicators:
		return w.refresh.RefreshIndicators(ctx, job.Names)
	case domain.JobRefreshAll:
		return w.refresh.RefreshAll(ctx, job.Names)
	case domain.JobTradingCycle:
		_, err := w.cycle.Run(ctx)
		return err
	case domain.JobRefreshInventory:
		return w.refreshInventory(ctx, job.Pair)
	default:
		return fmt.Errorf("%w: unknown job kind %q", domain.ErrPrecondition, job.Kind)
	}
}

func (w *Worker) refreshInventory(ctx context.Context, pair domain.VenuePair) error {
	pairs := w.pairs
	if pair != (domain.VenuePair{}) {
		pairs = []domain.VenuePair{pair}
	}
	for _, p := range pairs {
		items, err := w.inventory.Refresh(ctx, p)
		if err != nil {
			return fmt.Errorf("refresh inventory %s: %w", p, err)
		}
		w.logger.InfoContext(ctx, "worker: inventory refreshed",
			slog.String("pair", p.String()),
			slog.Int("items", len(items)),
		)
	}
	return nil
}
