package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/alanyoungcy/smtbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// Bounds on how long Wait sleeps between attempts. The lower bound avoids
// spinning; the upper one lets a cancelled context be noticed.
const (
	minWaitStep = 20 * time.Millisecond
	maxWaitStep = 5 * time.Second
)

// RateLimiter implements domain.RateLimiter as a sliding-window log in a
// sorted set. Processes sharing a key (several workers hitting the Steam
// market from one IP) share the budget.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
	now    func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:    c.Underlying(),
		script: redis.NewScript(slidingWindowLua),
		now:    time.Now,
	}
}

func rateLimitKeys(key string) []string {
	k := "smtbot:ratelimit:{" + key + "}"
	return []string{k, k + ":seq"}
}

// take runs one attempt and reports whether it was admitted and, if not,
// how long until a slot frees up.
func (rl *RateLimiter) take(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	res, err := rl.script.Run(ctx, rl.rdb, rateLimitKeys(key),
		rl.now().UnixMicro(), window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) < 3 {
		return false, 0, fmt.Errorf("redis: rate limit %s: unexpected result length %d", key, len(res))
	}
	return res[0] == 1, time.Duration(res[2]) * time.Microsecond, nil
}

// Allow counts one request against key and reports whether it fits within
// limit per window. Denied requests are not counted.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	ok, _, err := rl.take(ctx, key, limit, window)
	return ok, err
}

// Wait blocks until a request for key is admitted, sleeping until the
// oldest request in the window expires between attempts.
func (rl *RateLimiter) Wait(ctx context.Context, key string, limit int, window time.Duration) error {
	for {
		ok, wait, err := rl.take(ctx, key, limit, window)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		t := time.NewTimer(min(max(wait, minWaitStep), maxWaitStep))
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-t.C:
		}
	}
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
