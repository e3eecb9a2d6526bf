package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/smtbot/internal/domain"
	"github.com/google/uuid"
)

// SettingsProvider exposes the current TradingSettings snapshot.
type SettingsProvider interface {
	Get(ctx context.Context) (domain.TradingSettings, error)
}

// SettingsService owns the TradingSettings singleton. Reads go through the
// cache when one is configured; writes invalidate it.
type SettingsService struct {
	store  domain.SettingsStore
	cache  domain.SettingsCache
	jobs   domain.JobQueue
	events domain.EventPublisher
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewSettingsService creates a SettingsService. cache and jobs may be nil.
func NewSettingsService(
	store domain.SettingsStore,
	cache domain.SettingsCache,
	jobs domain.JobQueue,
	events domain.EventPublisher,
	audit domain.AuditStore,
	logger *slog.Logger,
) *SettingsService {
	return &SettingsService{
		store:  store,
		cache:  cache,
		jobs:   jobs,
		events: events,
		audit:  audit,
		logger: logger,
	}
}

var _ SettingsProvider = (*SettingsService)(nil)

// Get returns the current settings, creating the default row on first use.
func (s *SettingsService) Get(ctx context.Context) (domain.TradingSettings, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "settings_service: cache read failed", slog.String("error", err.Error()))
		}
	}

	settings, err := s.store.Get(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		if err := s.store.InsertDefault(ctx, domain.DefaultTradingSettings()); err != nil {
			return domain.TradingSettings{}, fmt.Errorf("settings_service: insert defaults: %w", err)
		}
		settings, err = s.store.Get(ctx)
	}
	if err != nil {
		return domain.TradingSettings{}, fmt.Errorf("settings_service: load settings: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, settings); err != nil {
			s.logger.WarnContext(ctx, "settings_service: cache write failed", slog.String("error", err.Error()))
		}
	}
	return settings, nil
}

// Update applies the provided fields, validates the merged result and saves
// it. When an indicator input changed, pool indicators are recomputed in the
// background.
func (s *SettingsService) Update(ctx context.Context, upd domain.SettingsUpdate) (domain.TradingSettings, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return domain.TradingSettings{}, err
	}
	saved, err := s.save(ctx, upd.Apply(current))
	if err != nil {
		return domain.TradingSettings{}, err
	}
	if upd.TouchesAnalytics() {
		s.enqueueIndicatorRefresh(ctx)
	}
	return saved, nil
}

// Reset restores every field to its default.
func (s *SettingsService) Reset(ctx context.Context) (domain.TradingSettings, error) {
	saved, err := s.save(ctx, domain.DefaultTradingSettings())
	if err != nil {
		return domain.TradingSettings{}, err
	}
	s.enqueueIndicatorRefresh(ctx)
	return saved, nil
}

func (s *SettingsService) save(ctx context.Context, next domain.TradingSettings) (domain.TradingSettings, error) {
	if err := next.Validate(); err != nil {
		return domain.TradingSettings{}, fmt.Errorf("settings_service: %w", err)
	}
	saved, err := s.store.Save(ctx, next)
	if err != nil {
		return domain.TradingSettings{}, fmt.Errorf("settings_service: save settings: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.WarnContext(ctx, "settings_service: cache invalidate failed", slog.String("error", err.Error()))
		}
	}

	if err := s.events.Publish(ctx, domain.Event{
		Kind:   domain.EventSettingsUpdated,
		Detail: map[string]any{"emergency_stop": saved.EmergencyStop},
		At:     time.Now().UTC(),
	}); err != nil {
		s.logger.WarnContext(ctx, "settings_service: publish event failed", slog.String("error", err.Error()))
	}
	if err := s.audit.Log(ctx, string(domain.EventSettingsUpdated), map[string]any{
		"buy_percentile":  saved.BuyPercentile,
		"sell_percentile": saved.SellPercentile,
		"emergency_stop":  saved.EmergencyStop,
	}); err != nil {
		s.logger.WarnContext(ctx, "settings_service: audit log failed", slog.String("error", err.Error()))
	}
	return saved, nil
}

func (s *SettingsService) enqueueIndicatorRefresh(ctx context.Context) {
	if s.jobs == nil {
		return
	}
	id, err := s.jobs.Enqueue(ctx, domain.Job{
		ID:         uuid.NewString(),
		Kind:       domain.JobRefreshIndicators,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "settings_service: enqueue indicator refresh failed", slog.String("error", err.Error()))
		return
	}
	s.logger.InfoContext(ctx, "settings_service: indicator refresh enqueued", slog.String("job_id", id))
}
