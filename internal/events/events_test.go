package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (r *recorder) Publish(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func TestFanout_DeliversToAllSinks(t *testing.T) {
	a, b := &recorder{err: errors.New("down")}, &recorder{}
	f := NewFanout(slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sink{Name: "a", Publisher: a},
		Sink{Name: "nil", Publisher: nil},
		Sink{Name: "b", Publisher: b},
	)
	assert.Equal(t, []string{"a", "b"}, f.Sinks())

	err := f.Publish(context.Background(), domain.Event{Kind: domain.EventPositionClosed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: down")
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

type fakeBus struct {
	domain.SignalBus
	channel string
	payload []byte
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.channel, f.payload = channel, payload
	return nil
}

func TestBusPublisher_UsesKindChannel(t *testing.T) {
	bus := &fakeBus{}
	p := NewBusPublisher(bus)

	ev := domain.Event{Kind: domain.EventCycleCompleted, Detail: map[string]any{"bought": 1}, At: time.Now().UTC()}
	require.NoError(t, p.Publish(context.Background(), ev))
	assert.Equal(t, "cycle", bus.channel)

	var got domain.Event
	require.NoError(t, json.Unmarshal(bus.payload, &got))
	assert.Equal(t, domain.EventCycleCompleted, got.Kind)
	assert.Contains(t, Channels(), bus.channel)
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher_OnlyPositionEvents(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, topic: "positions"}
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, domain.Event{Kind: domain.EventPoolItemAdded, MarketHashName: "Case Key"}))
	require.NoError(t, p.Publish(ctx, domain.Event{Kind: domain.EventPositionListed, PositionID: "p1", MarketHashName: "Case Key"}))
	require.NoError(t, p.Publish(ctx, domain.Event{Kind: domain.EventPositionDeleted, MarketHashName: "Case Key"}))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "p1", string(w.msgs[0].Key))
	assert.Equal(t, "Case Key", string(w.msgs[1].Key))
	assert.Equal(t, "position.listed", string(w.msgs[0].Headers[0].Value))
	require.NoError(t, p.Close())
}
