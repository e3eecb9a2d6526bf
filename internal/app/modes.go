package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/smtbot/internal/events"
	"github.com/alanyoungcy/smtbot/internal/pipeline"
	"github.com/alanyoungcy/smtbot/internal/server"
	"github.com/alanyoungcy/smtbot/internal/server/handler"
	"github.com/alanyoungcy/smtbot/internal/server/ws"
	"github.com/alanyoungcy/smtbot/internal/service"
)

// services holds the business services shared by the modes. The
// venue-backed ones are nil when the venue is not wired.
type services struct {
	queue     *pipeline.JobQueue
	settings  *service.SettingsService
	positions *service.PositionService
	pool      *service.PoolService
	inventory *service.InventoryService
	refresh   *service.RefreshService
	trading   *service.TradingService
}

func (a *App) buildServices(deps *Dependencies) *services {
	queue := pipeline.NewJobQueue(deps.SignalBus, a.cfg.Jobs.Stream, a.logger)
	settings := service.NewSettingsService(
		deps.SettingsStore, deps.SettingsCache, queue, deps.Events, deps.AuditStore, a.logger,
	)
	positions := service.NewPositionService(deps.PositionStore, deps.Events, deps.AuditStore, a.logger)
	svcs := &services{
		queue:     queue,
		settings:  settings,
		positions: positions,
		pool: service.NewPoolService(
			deps.ItemStore, deps.InventoryStore, deps.HistoryStore, queue, deps.Events, deps.AuditStore, a.logger,
		),
	}

	if deps.Venue != nil {
		svcs.inventory = service.NewInventoryService(deps.Venue, deps.InventoryStore, a.logger)
		svcs.refresh = service.NewRefreshService(
			deps.Venue, deps.ItemStore, deps.HistoryStore, settings, deps.Events,
			service.RefreshConfig{
				BatchSize:  a.cfg.Refresh.BatchSize,
				BatchPause: a.cfg.Refresh.BatchPause.Duration,
			},
			a.logger,
		)
		svcs.trading = service.NewTradingService(deps.Venue, deps.ItemStore, positions, settings, deps.Events, a.logger)
	}
	return svcs
}

// ServerMode runs the HTTP API and the live feed only. Refreshes and
// cycles requested through the API are queued for a worker.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, a.buildServices(deps))
	return g.Wait()
}

// WorkerMode consumes queued jobs.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")
	svcs := a.buildServices(deps)
	return a.newOrchestrator(deps, svcs, false, true).Run(ctx)
}

// SchedulerMode runs the periodic loops and calls the services directly.
func (a *App) SchedulerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scheduler mode")
	svcs := a.buildServices(deps)
	return a.newOrchestrator(deps, svcs, true, false).Run(ctx)
}

// TradeMode runs the scheduler and the job worker in one process without
// the HTTP API.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	svcs := a.buildServices(deps)
	return a.newOrchestrator(deps, svcs, true, true).Run(ctx)
}

// FullMode runs everything: scheduler, worker, and the HTTP API when
// enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	orch := a.newOrchestrator(deps, svcs, true, true)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}

	return g.Wait()
}

// newOrchestrator assembles the pipeline. withScheduler and withWorker pick
// which halves run in this process.
func (a *App) newOrchestrator(deps *Dependencies, svcs *services, withScheduler, withWorker bool) *pipeline.Orchestrator {
	logger := a.logger.With(slog.String("component", "pipeline"))

	cycle := pipeline.NewLockedCycle(svcs.trading, deps.LockManager, a.cfg.Trading.LockKey, a.cfg.Trading.LockTTL.Duration, logger)

	var scheduler *pipeline.Scheduler
	if withScheduler {
		var archiver *pipeline.Archiver
		if deps.Archiver != nil {
			archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.LagDays, logger)
		}
		scheduler = pipeline.NewScheduler(pipeline.SchedulerConfig{
			CycleInterval: a.cfg.Trading.CycleInterval.Duration,
			RefreshCron:   a.cfg.Refresh.Cron,
			ArchiveCron:   a.cfg.Archive.Cron,
		}, cycle, svcs.refresh, archiver, svcs.settings, logger)
	}

	var (
		queue  *pipeline.JobQueue
		worker *pipeline.Worker
	)
	if withWorker {
		queue = svcs.queue
		worker = pipeline.NewWorker(svcs.refresh, cycle, svcs.inventory, venuePairs(a.cfg), logger)
	}

	return pipeline.NewOrchestrator(scheduler, queue, worker, pipeline.ConsumerConfig{
		Group:    a.cfg.Jobs.Group,
		Consumer: consumerName(a.cfg.Jobs.Consumer),
		StartID:  a.cfg.Jobs.StartID,
	}, logger)
}

// startHTTPServer registers the API handlers and the websocket hub and runs
// them in g until ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	logger := a.logger.With(slog.String("component", "server"))

	hub := ws.NewHub(deps.SignalBus, logger, ws.Config{
		Channels:       events.Channels(),
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		Mode:           a.cfg.Mode,
		StartedAt:      a.startedAt,
	})
	g.Go(func() error {
		if err := hub.Run(ctx); ctx.Err() == nil {
			return fmt.Errorf("app: ws hub: %w", err)
		}
		return nil
	})

	var inventory handler.InventoryService = svcs.inventory
	if svcs.inventory == nil {
		inventory = newQueuedInventory(deps.InventoryStore, svcs.queue)
	}
	pairs := venuePairs(a.cfg)

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.HealthChecks, logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, a.startedAt),
		Pool:      handler.NewPoolHandler(svcs.pool, logger),
		Positions: handler.NewPositionHandler(svcs.positions, logger),
		Settings:  handler.NewSettingsHandler(svcs.settings, logger),
		Inventory: handler.NewInventoryHandler(inventory, pairs[0], logger),
		Jobs:      handler.NewJobHandler(svcs.queue, logger),
		Audit:     handler.NewAuditHandler(deps.AuditStore, logger),
	}
	if deps.BlobReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownGrace.Duration)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("app: %w", err)
		}
		return nil
	})
}

// consumerName falls back to the hostname so a restarted worker resumes its
// own unacknowledged jobs.
func consumerName(configured string) string {
	if configured != "" {
		return configured
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "worker"
}
