package connectors

import (
	"context"
	"time"

	"github.com/nntaoli-project/goex"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"triggerexecutor/src/marketdata"
	"triggerexecutor/src/metrics"
)

// TickerSource is the slice of goex.API the ticker feed needs.
type TickerSource interface {
	GetTicker(pair goex.CurrencyPair) (*goex.Ticker, error)
}

// GoexTickerFeed polls last prices from a goex exchange. It only publishes
// PriceTicks: goex tickers carry no open interest or previous day price.
type GoexTickerFeed struct {
	name     string
	source   TickerSource
	assets   []string
	quote    string
	interval time.Duration
	bus      *marketdata.Bus
}

func NewGoexTickerFeed(name string, source TickerSource, assets []string, quote string, interval time.Duration, bus *marketdata.Bus) *GoexTickerFeed {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &GoexTickerFeed{
		name:     name,
		source:   source,
		assets:   assets,
		quote:    quote,
		interval: interval,
		bus:      bus,
	}
}

func (f *GoexTickerFeed) Name() string { return f.name + "-ticker" }

func (f *GoexTickerFeed) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		if tick, ok := f.poll(); ok {
			metrics.FeedEvents.WithLabelValues(f.Name(), "prices").Inc()
			f.bus.Prices.Publish(tick)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// poll fetches every configured asset. Assets that fail are left out of the tick.
func (f *GoexTickerFeed) poll() (marketdata.PriceTick, bool) {
	mids := make(map[string]decimal.Decimal, len(f.assets))
	for _, asset := range f.assets {
		pair := goex.NewCurrencyPair(goex.Currency{Symbol: asset}, goex.Currency{Symbol: f.quote})
		t, err := f.source.GetTicker(pair)
		if err != nil || t == nil {
			logger.WithFields(map[string]interface{}{
				"component": "GoexTickerFeed",
				"source":    f.name,
				"pair":      pair.String(),
			}).WithError(err).Warn("Failed to fetch ticker")
			continue
		}
		mids[marketdata.NormalizeAsset(asset)] = decimal.NewFromFloat(t.Last)
	}

	if len(mids) == 0 {
		return marketdata.PriceTick{}, false
	}
	return marketdata.PriceTick{Mids: mids, ReceivedAt: time.Now()}, true
}
