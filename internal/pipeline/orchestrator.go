package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the scheduler loops and the job consumer as one group.
type Orchestrator struct {
	scheduler *Scheduler
	queue     *JobQueue
	worker    *Worker
	consumer  ConsumerConfig
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator. A nil scheduler or queue leaves
// that part out, so the same type serves scheduler-only and worker-only
// processes.
func NewOrchestrator(scheduler *Scheduler, queue *JobQueue, worker *Worker, consumer ConsumerConfig, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		scheduler: scheduler,
		queue:     queue,
		worker:    worker,
		consumer:  consumer,
		logger:    logger,
	}
}

// Run starts every loop under an errgroup. If a loop fails with a
// non-context error the shared context is cancelled and Run returns it.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if o.scheduler != nil {
		loops, err := o.scheduler.loops()
		if err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		for _, l := range loops {
			g.Go(func() error {
				o.logger.Info("starting loop", slog.String("loop", l.name))
				err := l.run(ctx)
				if ctx.Err() != nil {
					return nil // clean shutdown
				}
				return fmt.Errorf("%s: %w", l.name, err)
			})
		}
	}

	if o.queue != nil && o.worker != nil {
		g.Go(func() error {
			err := o.queue.Consume(ctx, o.consumer, o.worker.Handle)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("job consumer: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
