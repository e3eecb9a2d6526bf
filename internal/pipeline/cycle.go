package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/smtbot/internal/domain"
	"github.com/alanyoungcy/smtbot/internal/service"
)

// DefaultCycleLockKey names the lock that serialises trading cycles across
// processes.
const DefaultCycleLockKey = "trading_cycle"

// Trader runs one trading cycle.
type Trader interface {
	RunCycle(ctx context.Context) (service.CycleReport, error)
}

// LockedCycle runs trading cycles under a distributed lock so at most one
// cycle runs at a time across all processes.
type LockedCycle struct {
	trader Trader
	locks  domain.LockManager
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// NewLockedCycle creates a LockedCycle. ttl must exceed the longest
// expected cycle.
func NewLockedCycle(trader Trader, locks domain.LockManager, key string, ttl time.Duration, logger *slog.Logger) *LockedCycle {
	if key == "" {
		key = DefaultCycleLockKey
	}
	return &LockedCycle{trader: trader, locks: locks, key: key, ttl: ttl, logger: logger}
}

// Run executes one cycle. When another process holds the lock the run is
// skipped and ran is false.
func (c *LockedCycle) Run(ctx context.Context) (ran bool, err error) {
	unlock, err := c.locks.Acquire(ctx, c.key, c.ttl)
	if errors.Is(err, domain.ErrLockHeld) {
		c.logger.InfoContext(ctx, "trading cycle already running elsewhere, skipping")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pipeline: acquire cycle lock: %w", err)
	}
	defer unlock()

	if _, err := c.trader.RunCycle(ctx); err != nil {
		return true, fmt.Errorf("pipeline: trading cycle: %w", err)
	}
	return true, nil
}
