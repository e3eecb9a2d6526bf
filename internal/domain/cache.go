package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// StreamNew asks StreamReadGroup for entries never delivered to the group.
const StreamNew = ">"

// StreamConsumer identifies one member of a stream consumer group.
// StartID only matters when the group is created: "$" skips entries that
// already exist, "0" takes the whole retained stream.
type StreamConsumer struct {
	Stream   string
	Group    string
	Consumer string
	StartID  string
}

// SignalBus provides pub/sub and durable streams. Stream entries are shared
// out across a consumer group; each entry goes to one consumer and stays
// pending until acknowledged.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) (string, error)
	// StreamGroup creates the consumer group if it does not exist yet.
	StreamGroup(ctx context.Context, c StreamConsumer) error
	// StreamReadGroup returns up to count entries for c. With after set to
	// StreamNew it waits briefly for undelivered entries; any other id
	// re-reads entries already delivered to c, not yet acknowledged, with
	// ids greater than after.
	StreamReadGroup(ctx context.Context, c StreamConsumer, after string, count int) ([]StreamMessage, error)
	StreamAck(ctx context.Context, c StreamConsumer, ids ...string) error
}

// SettingsCache keeps the current TradingSettings snapshot close to readers.
// Get returns ErrNotFound on a miss.
type SettingsCache interface {
	Get(ctx context.Context) (TradingSettings, error)
	Set(ctx context.Context, s TradingSettings) error
	Invalidate(ctx context.Context) error
}
