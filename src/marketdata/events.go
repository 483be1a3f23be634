package marketdata

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceTick carries the latest mid price of every asset the feed knows about.
type PriceTick struct {
	Mids       map[string]decimal.Decimal
	ReceivedAt time.Time
}

// Mid looks up an asset case-insensitively.
func (t PriceTick) Mid(asset string) (decimal.Decimal, bool) {
	v, ok := t.Mids[NormalizeAsset(asset)]
	return v, ok
}

// AssetContext is the per-asset market state published with each snapshot.
type AssetContext struct {
	Volume       decimal.Decimal // 24h notional volume
	OpenInterest decimal.Decimal
	FundingRate  decimal.Decimal
	MarkPrice    decimal.Decimal
	PrevDayPrice decimal.Decimal
}

// DayChangePercentage is (mark - prevDay) / prevDay * 100. It is absent when
// the previous day price is unknown.
func (c AssetContext) DayChangePercentage() (decimal.Decimal, bool) {
	if c.PrevDayPrice.IsZero() {
		return decimal.Zero, false
	}
	return c.MarkPrice.Sub(c.PrevDayPrice).
		Div(c.PrevDayPrice).
		Mul(decimal.NewFromInt(100)), true
}

// MarketSnapshot carries the asset contexts of every asset the feed knows about.
type MarketSnapshot struct {
	Contexts   map[string]AssetContext
	ReceivedAt time.Time
}

func (s MarketSnapshot) Context(asset string) (AssetContext, bool) {
	c, ok := s.Contexts[NormalizeAsset(asset)]
	return c, ok
}

// NormalizeAsset is the key used in Mids and Contexts.
func NormalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
