package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// Archiver copies one UTC day of price history and closed positions to
// cold storage per run.
type Archiver struct {
	blobArchiver domain.Archiver
	lagDays      int
	logger       *slog.Logger
	now          func() time.Time
}

// NewArchiver creates an Archiver that copies the day lagDays before today.
// lagDays must stay below the price history retention window, or the rows
// are pruned before they are archived.
func NewArchiver(blobArchiver domain.Archiver, lagDays int, logger *slog.Logger) *Archiver {
	if lagDays < 1 {
		lagDays = 1
	}
	return &Archiver{
		blobArchiver: blobArchiver,
		lagDays:      lagDays,
		logger:       logger,
		now:          time.Now,
	}
}

// Run archives the configured day.
func (a *Archiver) Run(ctx context.Context) error {
	today := a.now().UTC().Truncate(24 * time.Hour)
	return a.RunDay(ctx, today.AddDate(0, 0, -a.lagDays))
}

// RunDay archives the UTC day starting at day. Re-running a day rewrites its
// objects.
func (a *Archiver) RunDay(ctx context.Context, day time.Time) error {
	from := day.UTC().Truncate(24 * time.Hour)
	to := from.AddDate(0, 0, 1)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("from", from),
		slog.Time("to", to),
	)

	history, err := a.blobArchiver.ArchivePriceHistory(ctx, from, to)
	if err != nil {
		return fmt.Errorf("archiving price history for %s: %w", from.Format(time.DateOnly), err)
	}

	positions, err := a.blobArchiver.ArchiveClosedPositions(ctx, from, to)
	if err != nil {
		return fmt.Errorf("archiving closed positions for %s: %w", from.Format(time.DateOnly), err)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.String("day", from.Format(time.DateOnly)),
		slog.Int64("price_history_archived", history),
		slog.Int64("positions_archived", positions),
	)
	return nil
}
