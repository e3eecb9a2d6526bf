package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/smtbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

const settingsKey = "settings:trading"

// SettingsCache implements domain.SettingsCache as a JSON string with a TTL
// so a missed invalidation heals on its own.
type SettingsCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSettingsCache creates a SettingsCache backed by the given Client. A
// non-positive ttl keeps entries until invalidated.
func NewSettingsCache(c *Client, ttl time.Duration) *SettingsCache {
	return &SettingsCache{rdb: c.Underlying(), ttl: ttl}
}

// Get returns the cached settings or domain.ErrNotFound on a miss.
func (sc *SettingsCache) Get(ctx context.Context) (domain.TradingSettings, error) {
	raw, err := sc.rdb.Get(ctx, settingsKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.TradingSettings{}, domain.ErrNotFound
		}
		return domain.TradingSettings{}, fmt.Errorf("redis: get settings: %w", err)
	}

	var st domain.TradingSettings
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.TradingSettings{}, fmt.Errorf("redis: decode settings: %w", err)
	}
	return st, nil
}

// Set stores st.
func (sc *SettingsCache) Set(ctx context.Context, st domain.TradingSettings) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("redis: encode settings: %w", err)
	}
	ttl := sc.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := sc.rdb.Set(ctx, settingsKey, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set settings: %w", err)
	}
	return nil
}

// Invalidate drops the cached copy.
func (sc *SettingsCache) Invalidate(ctx context.Context) error {
	if err := sc.rdb.Del(ctx, settingsKey).Err(); err != nil {
		return fmt.Errorf("redis: invalidate settings: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SettingsCache = (*SettingsCache)(nil)
