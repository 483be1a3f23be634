package notification

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"triggerexecutor/src/model"
)

// Client is one websocket connection. It carries at most one subscriber
// address and the set of channels subscribed for it.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	address  string
	channels map[Channel]struct{}
}

func newClient(hub *Hub, conn *websocket.Conn, id string) *Client {
	size := hub.config.SendBuffer
	if size <= 0 {
		size = 1
	}
	return &Client{
		hub:      hub,
		conn:     conn,
		id:       id,
		send:     make(chan []byte, size),
		done:     make(chan struct{}),
		channels: make(map[Channel]struct{}),
	}
}

func (c *Client) subscribedTo(address string, channel Channel) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.address == "" || c.address != address {
		return false
	}
	_, ok := c.channels[channel]
	return ok
}

// enqueue hands payload to the writer. A client whose buffer is full is too
// slow to keep up and gets disconnected.
func (c *Client) enqueue(payload []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- payload:
	default:
		logger.WithFields(map[string]interface{}{
			"component": "notification",
			"conn_id":   c.id,
		}).Warn("Slow websocket consumer, disconnecting")
		c.close()
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.unregister(c)
		_ = c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer c.close()

	cfg := c.hub.config
	if cfg.MaxMessageBytes > 0 {
		c.conn.SetReadLimit(cfg.MaxMessageBytes)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithField("conn_id", c.id).WithError(err).Debug("Websocket read failed")
			}
			return
		}

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(OutboundMessage{Type: TypeError, Error: "malformed message"})
			continue
		}
		c.handle(context.Background(), msg)
	}
}

func (c *Client) handle(ctx context.Context, msg InboundMessage) {
	switch msg.Action {
	case ActionSubscribe:
		address := model.NormalizeAddress(msg.Address)
		if address == "" {
			c.reply(OutboundMessage{Type: TypeError, Error: "address is required"})
			return
		}
		channels, ok := resolve(msg.Channels)
		if !ok {
			c.reply(OutboundMessage{Type: TypeError, Error: "unknown channel"})
			return
		}

		c.mu.Lock()
		if c.address != address {
			// one subscriber per connection
			c.address = address
			c.channels = make(map[Channel]struct{})
		}
		for _, ch := range channels {
			c.channels[ch] = struct{}{}
		}
		c.mu.Unlock()

		c.reply(OutboundMessage{Type: TypeAck, Channels: channels})
		for _, ch := range channels {
			payload, err := c.hub.snapshotMessage(ctx, address, ch)
			if err != nil {
				logger.WithField("conn_id", c.id).WithError(err).Warn("Initial snapshot failed")
				c.reply(OutboundMessage{Type: TypeError, Channel: ch, Error: "snapshot unavailable"})
				continue
			}
			c.enqueue(payload)
		}

	case ActionUnsubscribe:
		channels, ok := resolve(msg.Channels)
		if !ok {
			c.reply(OutboundMessage{Type: TypeError, Error: "unknown channel"})
			return
		}

		c.mu.Lock()
		for _, ch := range channels {
			delete(c.channels, ch)
		}
		if len(c.channels) == 0 {
			c.address = ""
		}
		c.mu.Unlock()

		c.reply(OutboundMessage{Type: TypeAck, Channels: channels})

	default:
		c.reply(OutboundMessage{Type: TypeError, Error: "unknown action"})
	}
}

// resolve expands the requested channels; none means all of them.
func resolve(requested []Channel) ([]Channel, bool) {
	if len(requested) == 0 {
		return ChannelAll.Expand(), true
	}

	seen := make(map[Channel]struct{})
	var out []Channel
	for _, r := range requested {
		if !r.Valid() {
			return nil, false
		}
		for _, ch := range r.Expand() {
			if _, dup := seen[ch]; dup {
				continue
			}
			seen[ch] = struct{}{}
			out = append(out, ch)
		}
	}
	return out, true
}

func (c *Client) reply(msg OutboundMessage) {
	payload, err := c.hub.encode(msg)
	if err != nil {
		logger.WithError(err).Error("Failed to encode websocket message")
		return
	}
	c.enqueue(payload)
}

func (c *Client) writePump() {
	cfg := c.hub.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(cfg.WriteTimeout))
			return

		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.WithField("conn_id", c.id).WithError(err).Debug("Websocket write failed")
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}
