package connectors

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"

	"triggerexecutor/src/marketdata"
)

// Feed publishes market data onto the bus until ctx is done.
type Feed interface {
	Name() string
	Run(ctx context.Context) error
}

// NewFeeds builds the feed sources selected by FEED_SOURCE.
func NewFeeds(config Config, bus *marketdata.Bus) ([]Feed, error) {
	switch config.FeedSource {
	case FeedSourceHyperliquid:
		return []Feed{
			NewHyperliquidPriceFeed(config.HyperliquidWSURL, bus),
			NewHyperliquidContextPoller(config.HyperliquidInfoURL, config.SnapshotInterval, bus),
		}, nil
	case FeedSourceBinance:
		exchange := binance.NewWithConfig(&goex.APIConfig{
			HttpClient: http.DefaultClient,
			Endpoint:   binance.GLOBAL_API_BASE_URL,
		})
		return []Feed{
			NewGoexTickerFeed("binance", exchange, config.BinanceAssets, config.BinanceQuote, config.BinanceTickerInterval, bus),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported feed source %q", config.FeedSource)
	}
}
