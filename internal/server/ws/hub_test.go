package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

type chanBus struct {
	domain.SignalBus
	mu    sync.Mutex
	chans map[string]chan []byte
}

func newChanBus() *chanBus { return &chanBus{chans: make(map[string]chan []byte)} }

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 8)
	b.chans[channel] = ch
	return ch, nil
}

func (b *chanBus) send(channel string, payload string) {
	b.mu.Lock()
	ch := b.chans[channel]
	b.mu.Unlock()
	ch <- []byte(payload)
}

func (b *chanBus) subscribed(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chans) == n
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHub_BridgesSubscribedChannels(t *testing.T) {
	bus := newChanBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Channels: []string{"positions", "cycle"},
		Mode:     "Live",
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()
	require.Eventually(t, func() bool { return bus.subscribed(2) }, time.Second, 5*time.Millisecond)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	status := readEnvelope(t, conn)
	assert.Equal(t, "status", status.Type)
	assert.Contains(t, string(status.Payload), `"mode":"live"`)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	bus.send("positions", `{"kind":"position.opened"}`)
	ev := readEnvelope(t, conn)
	assert.Equal(t, "event", ev.Type)
	assert.Equal(t, "positions", ev.Channel)
	assert.JSONEq(t, `{"kind":"position.opened"}`, string(ev.Payload))

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{"positions"}}))
	ack := readEnvelope(t, conn)
	assert.Equal(t, "subscribed", ack.Type)
	assert.JSONEq(t, `{"channels":["cycle"],"kinds":null}`, string(ack.Payload))

	bus.send("positions", `{"kind":"position.bought"}`)
	bus.send("cycle", `{"kind":"cycle.completed"}`)
	ev = readEnvelope(t, conn)
	assert.Equal(t, "cycle", ev.Channel, "unsubscribed channel is not delivered")
}

func TestHub_KindFilter(t *testing.T) {
	bus := newChanBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Channels: []string{"positions"}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	require.Eventually(t, func() bool { return bus.subscribed(1) }, time.Second, 5*time.Millisecond)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "status", readEnvelope(t, conn).Type)

	require.NoError(t, conn.WriteJSON(subscribeMsg{
		Action: "subscribe", Channels: []string{"positions", "nope"}, Kinds: []string{"position.closed"},
	}))
	ack := readEnvelope(t, conn)
	assert.JSONEq(t, `{"channels":["positions"],"kinds":["position.closed"]}`, string(ack.Payload))

	bus.send("positions", `{"kind":"position.listed"}`)
	bus.send("positions", `{"kind":"position.closed","position_id":"p1"}`)
	ev := readEnvelope(t, conn)
	assert.Contains(t, string(ev.Payload), "position.closed")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, hub.ClientCount())
}

func httpHandler(h *Hub) http.Handler {
	return http.HandlerFunc(h.HandleWS)
}
