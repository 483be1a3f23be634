package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"triggerexecutor/src/metrics"
	"triggerexecutor/src/model"
)

// Hub keeps the live websocket connections and pushes snapshots to the ones
// subscribed to a user's channel.
type Hub struct {
	config    Config
	snapshots Snapshotter
	upgrader  websocket.Upgrader
	now       func() time.Time

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

func NewHub(config Config, snapshots Snapshotter) *Hub {
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.PongWait <= config.PingInterval {
		config.PongWait = 2 * config.PingInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}

	h := &Hub{
		config:    config,
		snapshots: snapshots,
		now:       time.Now,
		clients:   make(map[*Client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.config.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	c := newClient(h, conn, uuid.NewString())
	h.register(c)

	go c.writePump()
	c.readPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	metrics.WebsocketConnections.Inc()
	logger.WithFields(map[string]interface{}{
		"component": "notification",
		"conn_id":   c.id,
	}).Debug("Websocket client connected")
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		metrics.WebsocketConnections.Dec()
		logger.WithFields(map[string]interface{}{
			"component": "notification",
			"conn_id":   c.id,
		}).Debug("Websocket client disconnected")
	}
}

// subscribers returns the clients of address subscribed to channel.
func (h *Hub) subscribers(address string, channel Channel) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*Client
	for c := range h.clients {
		if c.subscribedTo(address, channel) {
			out = append(out, c)
		}
	}
	return out
}

// Connections returns the number of open connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RefreshChannel pushes a fresh snapshot of channel to every connection of
// address subscribed to it. It is a no-op when nobody listens.
func (h *Hub) RefreshChannel(ctx context.Context, address string, channel Channel) error {
	address = model.NormalizeAddress(address)

	var errs []error
	for _, ch := range channel.Expand() {
		targets := h.subscribers(address, ch)
		if len(targets) == 0 {
			continue
		}

		payload, err := h.snapshotMessage(ctx, address, ch)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, c := range targets {
			c.enqueue(payload)
		}
		metrics.NotificationPushes.WithLabelValues(string(ch)).Add(float64(len(targets)))
	}

	return errors.Join(errs...)
}

// RefreshAll refreshes every channel of address.
func (h *Hub) RefreshAll(ctx context.Context, address string) error {
	return h.RefreshChannel(ctx, address, ChannelAll)
}

func (h *Hub) snapshotMessage(ctx context.Context, address string, channel Channel) ([]byte, error) {
	data, err := h.snapshots.Snapshot(ctx, address, channel)
	if err != nil {
		return nil, fmt.Errorf("build %s snapshot: %w", channel, err)
	}
	return h.encode(OutboundMessage{
		Type:    TypeSnapshot,
		Channel: channel,
		Data:    data,
	})
}

func (h *Hub) encode(msg OutboundMessage) ([]byte, error) {
	msg.SentAt = h.now().UTC()
	return json.Marshal(msg)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}
