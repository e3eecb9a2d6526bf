package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/smtbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	// streamMaxLen trims job streams with XADD MAXLEN ~.
	streamMaxLen int64 = 10000

	// streamReadBlock caps how long a group read waits for new entries.
	streamReadBlock = 2 * time.Second

	payloadField = "payload"
)

// SignalBus implements domain.SignalBus. Live events go over Pub/Sub; jobs
// go over streams read through consumer groups so that several workers
// split the work and an unacknowledged job survives a crash.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends payload to a Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on channel, or on a pattern when it contains glob
// characters. The returned channel closes when ctx is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}

	// Wait for the subscribe confirmation so no publish after return is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		in := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// StreamAppend adds payload to stream and returns the entry id.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) (string, error) {
	id, err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{payloadField: payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return id, nil
}

// StreamGroup creates c's group, and the stream with it, unless the group
// already exists.
func (sb *SignalBus) StreamGroup(ctx context.Context, c domain.StreamConsumer) error {
	start := c.StartID
	if start == "" {
		start = "$"
	}
	err := sb.rdb.XGroupCreateMkStream(ctx, c.Stream, c.Group, start).Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redis: create group %s on %s: %w", c.Group, c.Stream, err)
	}
	return nil
}

// StreamReadGroup reads entries for c. Pending reads return at once; new
// reads block for up to streamReadBlock and return nil when nothing arrives.
func (sb *SignalBus) StreamReadGroup(ctx context.Context, c domain.StreamConsumer, after string, count int) ([]domain.StreamMessage, error) {
	block := streamReadBlock
	if after != domain.StreamNew {
		block = -1
	}
	args := &redis.XReadGroupArgs{
		Group:    c.Group,
		Consumer: c.Consumer,
		Streams:  []string{c.Stream, after},
		Count:    int64(count),
		Block:    block,
	}

	res, err := sb.rdb.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: read group %s on %s: %w", c.Group, c.Stream, err)
	}

	var out []domain.StreamMessage
	for _, s := range res {
		for _, msg := range s.Messages {
			// Entries trimmed while pending come back with no fields.
			out = append(out, domain.StreamMessage{ID: msg.ID, Payload: payloadOf(msg.Values)})
		}
	}
	return out, nil
}

// StreamAck acknowledges ids for c's group.
func (sb *SignalBus) StreamAck(ctx context.Context, c domain.StreamConsumer, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := sb.rdb.XAck(ctx, c.Stream, c.Group, ids...).Err(); err != nil {
		return fmt.Errorf("redis: ack %s on %s: %w", c.Group, c.Stream, err)
	}
	return nil
}

func payloadOf(values map[string]any) []byte {
	switch v := values[payloadField].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	}
	return nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
