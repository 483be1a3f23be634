package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"triggerexecutor/src/marketdata"
	"triggerexecutor/src/metrics"
)

type hlUniverse struct {
	Universe []struct {
		Name string `json:"name"`
	} `json:"universe"`
}

type hlAssetCtx struct {
	DayNtlVlm    string `json:"dayNtlVlm"`
	OpenInterest string `json:"openInterest"`
	Funding      string `json:"funding"`
	MarkPx       string `json:"markPx"`
	PrevDayPx    string `json:"prevDayPx"`
}

// HyperliquidContextPoller polls metaAndAssetCtxs on the info endpoint and
// publishes a MarketSnapshot per poll.
type HyperliquidContextPoller struct {
	http     *resty.Client
	bus      *marketdata.Bus
	interval time.Duration
}

func NewHyperliquidContextPoller(baseURL string, interval time.Duration, bus *marketdata.Bus) *HyperliquidContextPoller {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(defaultRetryBaseDelay).
		AddRetryCondition(isRetryableResp)

	if interval <= 0 {
		interval = 15 * time.Second
	}

	return &HyperliquidContextPoller{http: httpClient, bus: bus, interval: interval}
}

func (p *HyperliquidContextPoller) Name() string { return "hyperliquid-asset-ctxs" }

func (p *HyperliquidContextPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.pollOnce(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *HyperliquidContextPoller) pollOnce(ctx context.Context) {
	snapshot, err := p.Fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.WithField("component", "HyperliquidContextPoller").WithError(err).Warn("Failed to fetch asset contexts")
		}
		return
	}

	metrics.FeedEvents.WithLabelValues(p.Name(), "snapshots").Inc()
	p.bus.Snapshots.Publish(snapshot)
}

// Fetch returns the current asset contexts keyed by asset name.
func (p *HyperliquidContextPoller) Fetch(ctx context.Context) (marketdata.MarketSnapshot, error) {
	resp, err := p.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"type": "metaAndAssetCtxs"}).
		Post("/info")
	if err != nil {
		return marketdata.MarketSnapshot{}, err
	}
	if resp.IsError() {
		return marketdata.MarketSnapshot{}, fmt.Errorf("HTTP %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	return parseMetaAndAssetCtxs(resp.Body())
}

// parseMetaAndAssetCtxs decodes the [meta, ctxs] pair. Contexts line up with
// meta.universe by index.
func parseMetaAndAssetCtxs(body []byte) (marketdata.MarketSnapshot, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(body, &pair); err != nil {
		return marketdata.MarketSnapshot{}, fmt.Errorf("decode metaAndAssetCtxs: %w", err)
	}
	if len(pair) != 2 {
		return marketdata.MarketSnapshot{}, fmt.Errorf("decode metaAndAssetCtxs: expected 2 elements, got %d", len(pair))
	}

	var meta hlUniverse
	if err := json.Unmarshal(pair[0], &meta); err != nil {
		return marketdata.MarketSnapshot{}, fmt.Errorf("decode meta: %w", err)
	}
	var ctxs []hlAssetCtx
	if err := json.Unmarshal(pair[1], &ctxs); err != nil {
		return marketdata.MarketSnapshot{}, fmt.Errorf("decode asset contexts: %w", err)
	}

	contexts := make(map[string]marketdata.AssetContext, len(ctxs))
	for i, c := range ctxs {
		if i >= len(meta.Universe) {
			break
		}
		contexts[marketdata.NormalizeAsset(meta.Universe[i].Name)] = marketdata.AssetContext{
			Volume:       parseDecimal(c.DayNtlVlm),
			OpenInterest: parseDecimal(c.OpenInterest),
			FundingRate:  parseDecimal(c.Funding),
			MarkPrice:    parseDecimal(c.MarkPx),
			PrevDayPrice: parseDecimal(c.PrevDayPx),
		}
	}

	return marketdata.MarketSnapshot{Contexts: contexts, ReceivedAt: time.Now()}, nil
}

func parseDecimal(raw string) decimal.Decimal {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return v
}
