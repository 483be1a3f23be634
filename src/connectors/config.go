package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	FeedSourceHyperliquid = "hyperliquid"
	FeedSourceBinance     = "binance"
)

type Config struct {
	GatewayURL       string        `envconfig:"EXECUTION_GATEWAY_URL" default:"http://localhost:8081"`
	GatewayAPIKey    string        `envconfig:"EXECUTION_GATEWAY_API_KEY" default:""`
	GatewayAPISecret string        `envconfig:"EXECUTION_GATEWAY_API_SECRET" default:""`
	GatewayTimeout   time.Duration `envconfig:"EXECUTION_GATEWAY_TIMEOUT" default:"15s"`
	GatewayRetries   int           `envconfig:"EXECUTION_GATEWAY_RETRIES" default:"2"`

	BreakerMaxFailures uint32        `envconfig:"EXECUTION_BREAKER_MAX_FAILURES" default:"5"`
	BreakerInterval    time.Duration `envconfig:"EXECUTION_BREAKER_INTERVAL" default:"60s"`
	BreakerTimeout     time.Duration `envconfig:"EXECUTION_BREAKER_TIMEOUT" default:"30s"`

	FeedSource         string        `envconfig:"FEED_SOURCE" default:"hyperliquid"` // "hyperliquid" or "binance"
	HyperliquidWSURL   string        `envconfig:"HYPERLIQUID_WS_URL" default:"wss://api.hyperliquid.xyz/ws"`
	HyperliquidInfoURL string        `envconfig:"HYPERLIQUID_INFO_URL" default:"https://api.hyperliquid.xyz"`
	SnapshotInterval   time.Duration `envconfig:"SNAPSHOT_INTERVAL" default:"15s"`

	BinanceAssets         []string      `envconfig:"BINANCE_ASSETS" default:"BTC,ETH,SOL"`
	BinanceQuote          string        `envconfig:"BINANCE_QUOTE" default:"USDT"`
	BinanceTickerInterval time.Duration `envconfig:"BINANCE_TICKER_INTERVAL" default:"5s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
