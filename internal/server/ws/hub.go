// Package ws pushes live position, cycle and pool events to browser clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// sendBufferSize frames may queue per client before it is dropped as
	// too slow.
	sendBufferSize = 256

	// resubscribeDelay spaces attempts to re-open a lost bus subscription.
	resubscribeDelay = 2 * time.Second
)

// Config configures the hub.
type Config struct {
	// Channels are the pub/sub channels bridged to clients.
	Channels []string
	// AllowedOrigins restricts browser origins; empty allows all.
	AllowedOrigins []string
	Mode           string
	StartedAt      time.Time
}

// subscribeMsg changes what a client receives, for example
// {"action":"subscribe","channels":["positions"],"kinds":["position.closed"]}.
// An empty kinds list on subscribe clears the kind filter.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
	Kinds    []string `json:"kinds,omitempty"`
}

// envelope wraps every frame sent to clients.
type envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans events from the bus out to connected dashboards. Each client
// starts subscribed to every channel and can narrow that by channel and by
// event kind. A client that falls sendBufferSize frames behind is
// disconnected rather than silently skipped, so it knows to reload.
type Hub struct {
	cfg      Config
	bus      domain.SignalBus
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	channels map[string]bool
	kinds    map[string]bool // nil means every kind
}

// NewHub creates a hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = "unknown"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}

	h := &Hub{
		cfg:     cfg,
		bus:     bus,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.ContainsFunc(h.cfg.AllowedOrigins, func(o string) bool {
		return o == "*" || strings.EqualFold(o, origin)
	})
}

// Run bridges the configured channels until ctx is cancelled, then closes
// every client. It always returns ctx.Err().
func (h *Hub) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, ch := range h.cfg.Channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.bridge(ctx, ch)
		}()
	}

	<-ctx.Done()
	wg.Wait()

	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	return ctx.Err()
}

// bridge forwards one bus channel, re-subscribing when the subscription
// drops.
func (h *Hub) bridge(ctx context.Context, channel string) {
	log := h.logger.With(slog.String("channel", channel))
	for ctx.Err() == nil {
		msgs, err := h.bus.Subscribe(ctx, channel)
		if err != nil {
			log.Error("ws: subscribe failed", slog.String("error", err.Error()))
		} else {
			log.Info("ws: subscribed")
			if !h.pump(ctx, channel, msgs) {
				return
			}
			log.Warn("ws: subscription closed")
		}

		select {
		case <-ctx.Done():
		case <-time.After(resubscribeDelay):
		}
	}
}

// pump delivers msgs until the subscription closes (true) or ctx ends
// (false).
func (h *Hub) pump(ctx context.Context, channel string, msgs <-chan []byte) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case data, ok := <-msgs:
			if !ok {
				return ctx.Err() == nil
			}
			h.deliver(channel, data)
		}
	}
}

// deliver sends one bus message to every interested client and drops the
// ones whose buffers are full.
func (h *Hub) deliver(channel string, data []byte) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return
	}
	frame, err := json.Marshal(envelope{Type: "event", Channel: channel, Payload: data})
	if err != nil {
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(channel, probe.Kind) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("ws: dropping slow client", slog.String("remote", c.conn.RemoteAddr().String()))
		h.remove(c)
	}
}

// sendTo queues frame for c if it is still connected.
func (h *Hub) sendTo(c *client, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client, subscribed to
// every channel.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		channels: make(map[string]bool, len(h.cfg.Channels)),
	}
	for _, ch := range h.cfg.Channels {
		c.channels[ch] = true
	}
	if frame, err := h.frame("status", map[string]any{
		"mode":           h.cfg.Mode,
		"channels":       h.cfg.Channels,
		"uptime_seconds": max(int64(time.Since(h.cfg.StartedAt).Seconds()), 0),
	}); err == nil {
		c.send <- frame
	}

	if !h.add(c) {
		conn.Close()
		return
	}
	h.logger.Info("ws: client connected", slog.Int("total_clients", h.ClientCount()))

	go c.writePump()
	go h.readPump(c)
}

func (h *Hub) frame(typ string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: typ, Payload: raw})
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var msg subscribeMsg
		if json.Unmarshal(data, &msg) != nil || (msg.Action != "subscribe" && msg.Action != "unsubscribe") {
			continue
		}
		channels, kinds := c.apply(msg, h.cfg.Channels)
		if frame, err := h.frame("subscribed", map[string]any{"channels": channels, "kinds": kinds}); err == nil {
			h.sendTo(c, frame)
		}
	}
}

// apply updates the client's filters and returns the resulting channel and
// kind sets. Channels the hub does not bridge are ignored.
func (c *client) apply(msg subscribeMsg, known []string) (channels, kinds []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range msg.Channels {
		if !slices.Contains(known, ch) {
			continue
		}
		c.channels[ch] = msg.Action == "subscribe"
	}
	if msg.Action == "subscribe" {
		c.kinds = nil
		if len(msg.Kinds) > 0 {
			c.kinds = make(map[string]bool, len(msg.Kinds))
			for _, k := range msg.Kinds {
				c.kinds[k] = true
			}
		}
	}

	for ch, on := range c.channels {
		if on {
			channels = append(channels, ch)
		}
	}
	for k := range c.kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(channels)
	sort.Strings(kinds)
	return channels, kinds
}

func (c *client) wants(channel, kind string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channel] && (c.kinds == nil || c.kinds[kind])
}

// writePump sends queued frames plus periodic pings. A closed send channel
// ends the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
