package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// ParseSchedule parses a standard five-field cron expression
// ("minute hour day-of-month month day-of-week") or a descriptor such as
// "@hourly".
func ParseSchedule(expr string) (cron.Schedule, error) {
	return cron.ParseStandard(expr)
}

// SettingsProvider reads the current trading settings.
type SettingsProvider interface {
	Get(ctx context.Context) (domain.TradingSettings, error)
}

// SchedulerConfig holds the periodic job timings.
type SchedulerConfig struct {
	CycleInterval time.Duration
	RefreshCron   string
	ArchiveCron   string
}

// Scheduler triggers periodic work by calling the services directly:
// trading cycles on an interval, full pool refreshes and archive runs on
// cron, and snapshot/indicator refreshes at the intervals held in the
// trading settings.
type Scheduler struct {
	cfg      SchedulerConfig
	cycle    *LockedCycle
	refresh  Refresher
	archiver *Archiver
	settings SettingsProvider
	logger   *slog.Logger
	now      func() time.Time
}

// NewScheduler creates a Scheduler. A nil archiver or an empty cron string
// disables the corresponding loop.
func NewScheduler(cfg SchedulerConfig, cycle *LockedCycle, refresh Refresher, archiver *Archiver, settings SettingsProvider, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		cycle:    cycle,
		refresh:  refresh,
		archiver: archiver,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

// loop is one named scheduler goroutine.
type loop struct {
	name string
	run  func(ctx context.Context) error
}

// loops returns the enabled loops. Each blocks until ctx is cancelled.
func (s *Scheduler) loops() ([]loop, error) {
	var loops []loop

	if s.cycle != nil && s.cfg.CycleInterval > 0 {
		loops = append(loops, loop{"trading cycle", func(ctx context.Context) error {
			return s.every(ctx, "trading cycle", func(context.Context) time.Duration { return s.cfg.CycleInterval }, func(ctx context.Context) error {
				_, err := s.cycle.Run(ctx)
				return err
			})
		}})
	}

	if s.refresh != nil {
		if s.cfg.RefreshCron != "" {
			sched, err := ParseSchedule(s.cfg.RefreshCron)
			if err != nil {
				return nil, fmt.Errorf("refresh cron: %w", err)
			}
			loops = append(loops, loop{"pool refresh", func(ctx context.Context) error {
				return s.cron(ctx, "pool refresh", s.cfg.RefreshCron, sched, func(ctx context.Context) error {
					return s.refresh.RefreshAll(ctx, nil)
				})
			}})
		}
		if s.settings != nil {
			loops = append(loops,
				loop{"snapshot refresh", func(ctx context.Context) error {
					return s.every(ctx, "snapshot refresh", s.settingsInterval(func(st domain.TradingSettings) int {
						return st.PriceRefreshIntervalMinutes
					}), func(ctx context.Context) error {
						return s.refresh.RefreshSnapshots(ctx, nil)
					})
				}},
				loop{"indicator refresh", func(ctx context.Context) error {
					return s.every(ctx, "indicator refresh", s.settingsInterval(func(st domain.TradingSettings) int {
						return st.StatsRefreshIntervalMinutes
					}), func(ctx context.Context) error {
						return s.refresh.RefreshIndicators(ctx, nil)
					})
				}},
			)
		}
	}

	if s.archiver != nil && s.cfg.ArchiveCron != "" {
		sched, err := ParseSchedule(s.cfg.ArchiveCron)
		if err != nil {
			return nil, fmt.Errorf("archive cron: %w", err)
		}
		loops = append(loops, loop{"archive", func(ctx context.Context) error {
			return s.cron(ctx, "archive", s.cfg.ArchiveCron, sched, s.archiver.Run)
		}})
	}

	return loops, nil
}

// settingsInterval reads an interval in minutes from the current settings,
// falling back to the defaults when settings cannot be read.
func (s *Scheduler) settingsInterval(pick func(domain.TradingSettings) int) func(context.Context) time.Duration {
	return func(ctx context.Context) time.Duration {
		st, err := s.settings.Get(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "scheduler: settings unavailable, using defaults", slog.String("error", err.Error()))
			st = domain.DefaultTradingSettings()
		}
		return time.Duration(pick(st)) * time.Minute
	}
}

// every runs fn, then waits interval(ctx) before the next run. The interval
// is re-read each time so settings changes take effect without a restart.
func (s *Scheduler) every(ctx context.Context, name string, interval func(context.Context) time.Duration, fn func(context.Context) error) error {
	for {
		s.runOnce(ctx, name, fn)

		wait := interval(ctx)
		if wait <= 0 {
			wait = time.Minute
		}
		if err := sleepCtx(ctx, wait); err != nil {
			s.logger.Info("scheduler loop stopped", slog.String("loop", name))
			return err
		}
	}
}

// cron runs fn at every time sched matches, evaluated in UTC.
func (s *Scheduler) cron(ctx context.Context, name, expr string, sched cron.Schedule, fn func(context.Context) error) error {
	s.logger.Info("scheduler cron started", slog.String("loop", name), slog.String("cron", expr))
	for {
		now := s.now().UTC()
		next := sched.Next(now)
		if next.IsZero() {
			return fmt.Errorf("cron %q for %s never fires", expr, name)
		}
		wait := next.Sub(now)
		s.logger.Debug("scheduler waiting for next cron trigger",
			slog.String("loop", name),
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)
		if err := sleepCtx(ctx, wait); err != nil {
			s.logger.Info("scheduler cron stopped", slog.String("loop", name))
			return err
		}
		s.runOnce(ctx, name, fn)
	}
}

func (s *Scheduler) runOnce(ctx context.Context, name string, fn func(context.Context) error) {
	start := time.Now()
	if err := fn(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.ErrorContext(ctx, "scheduled run failed",
			slog.String("loop", name),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.DebugContext(ctx, "scheduled run done",
		slog.String("loop", name),
		slog.Duration("took", time.Since(start)),
	)
}
