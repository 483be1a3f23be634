package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"triggerexecutor/src/marketdata"
	"triggerexecutor/src/metrics"
)

type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type allMidsData struct {
	Mids map[string]string `json:"mids"`
}

// HyperliquidPriceFeed streams the allMids channel and publishes a PriceTick
// per message. It reconnects with backoff until ctx is done.
type HyperliquidPriceFeed struct {
	url    string
	bus    *marketdata.Bus
	dialer websocket.Dialer

	ReadTimeout  time.Duration
	PingInterval time.Duration
}

func NewHyperliquidPriceFeed(url string, bus *marketdata.Bus) *HyperliquidPriceFeed {
	return &HyperliquidPriceFeed{
		url:          url,
		bus:          bus,
		dialer:       websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

func (f *HyperliquidPriceFeed) Name() string { return "hyperliquid-allmids" }

func (f *HyperliquidPriceFeed) Run(ctx context.Context) error {
	attempt := 0
	for {
		connected, err := f.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			attempt = 0
		}

		delay := reconnectDelay(attempt)
		attempt++
		logger.WithFields(map[string]interface{}{
			"component": "HyperliquidPriceFeed",
			"retry_in":  delay.String(),
		}).WithError(err).Warn("Price feed disconnected")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// session runs one connection. It reports whether the subscription succeeded.
func (f *HyperliquidPriceFeed) session(ctx context.Context) (bool, error) {
	conn, _, err := f.dialer.DialContext(ctx, f.url, http.Header{})
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	subscribe := map[string]interface{}{
		"method":       "subscribe",
		"subscription": map[string]string{"type": "allMids"},
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}

	logger.WithField("component", "HyperliquidPriceFeed").Info("Subscribed to allMids")

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.keepAlive(sessionCtx, conn)

	for {
		if f.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}

		tick, ok, err := parseAllMids(msg)
		if err != nil {
			logger.WithField("component", "HyperliquidPriceFeed").WithError(err).Warn("Skipping malformed message")
			continue
		}
		if !ok {
			continue
		}

		metrics.FeedEvents.WithLabelValues(f.Name(), "prices").Inc()
		f.bus.Prices.Publish(tick)
	}
}

// keepAlive sends application pings and closes the connection when ctx ends,
// which unblocks the reader.
func (f *HyperliquidPriceFeed) keepAlive(ctx context.Context, conn *websocket.Conn) {
	var tick <-chan time.Time
	if f.PingInterval > 0 {
		ticker := time.NewTicker(f.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return
		case <-tick:
			if err := conn.WriteJSON(map[string]string{"method": "ping"}); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// parseAllMids decodes an allMids push. ok is false for other channels.
func parseAllMids(msg []byte) (marketdata.PriceTick, bool, error) {
	var env wsEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return marketdata.PriceTick{}, false, err
	}
	if env.Channel != "allMids" {
		return marketdata.PriceTick{}, false, nil
	}

	var data allMidsData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return marketdata.PriceTick{}, false, err
	}

	mids := make(map[string]decimal.Decimal, len(data.Mids))
	for asset, raw := range data.Mids {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		mids[marketdata.NormalizeAsset(asset)] = v
	}

	return marketdata.PriceTick{Mids: mids, ReceivedAt: time.Now()}, true, nil
}
