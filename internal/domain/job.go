package domain

import (
	"context"
	"time"
)

// JobKind identifies a unit of deferred work.
type JobKind string

const (
	JobRefreshPriceHistory JobKind = "refresh_price_history"
	JobRefreshSnapshot     JobKind = "refresh_snapshot"
	JobRefreshIndicators   JobKind = "refresh_indicators"
	JobRefreshAll          JobKind = "refresh_all"
	JobTradingCycle        JobKind = "trading_cycle"
	JobRefreshInventory    JobKind = "refresh_inventory"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	switch k {
	case JobRefreshPriceHistory, JobRefreshSnapshot, JobRefreshIndicators,
		JobRefreshAll, JobTradingCycle, JobRefreshInventory:
		return true
	}
	return false
}

// Job is a request to run a refresh or trading operation out of band.
// Names is empty for pool-wide jobs. Pair is only read by inventory jobs.
type Job struct {
	ID         string    `json:"id"`
	Kind       JobKind   `json:"kind"`
	Names      []string  `json:"names,omitempty"`
	Pair       VenuePair `json:"pair,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// JobQueue accepts jobs for asynchronous execution.
type JobQueue interface {
	Enqueue(ctx context.Context, job Job) (string, error)
}
