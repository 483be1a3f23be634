package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradingOrder describes what to trade, independent of when or why it fires.
// Schedulers and AdvanceTriggers reference it as their parent.
type TradingOrder struct {
	ID                  uint               `gorm:"primaryKey" json:"id"`
	UserAddress         string             `gorm:"size:42;not null;index" json:"user_address"`
	ExecutionType       ExecutionType      `gorm:"size:20;not null" json:"execution_type"`
	Side                OrderSide          `gorm:"size:10;not null" json:"side"`
	IsTwap              bool               `gorm:"not null;default:false" json:"is_twap"`
	Asset               string             `gorm:"size:50;not null" json:"asset"`
	SizeUSD             decimal.Decimal    `gorm:"type:numeric;not null" json:"size_usd"`
	Leverage            int                `gorm:"not null;default:1" json:"leverage"`
	TwapDurationMinutes *int               `json:"twap_duration_minutes,omitempty"`
	TwapRandomize       bool               `gorm:"not null;default:false" json:"twap_randomize"`
	Status              TradingOrderStatus `gorm:"size:20;not null;default:PENDING;index" json:"status"`
	ExternalTxID        *string            `gorm:"size:255" json:"external_tx_id,omitempty"`
	ErrorMessage        *string            `gorm:"type:text" json:"error_message,omitempty"`
	ExecutedAt          *time.Time         `json:"executed_at,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`

	Schedulers      []Scheduler      `gorm:"foreignKey:TradingOrderID" json:"schedulers,omitempty"`
	AdvanceTriggers []AdvanceTrigger `gorm:"foreignKey:TradingOrderID" json:"advance_triggers,omitempty"`
}

func (TradingOrder) TableName() string {
	return "trading_orders"
}

// IsPerpetual reports whether leverage must be set before placing the order.
func (o *TradingOrder) IsPerpetual() bool {
	return o.ExecutionType == ExecutionTypePerpetual
}

// OwnedBy compares addresses case-insensitively.
func (o *TradingOrder) OwnedBy(address string) bool {
	return NormalizeAddress(o.UserAddress) == NormalizeAddress(address)
}

// NormalizeAddress lower-cases and trims a wallet address so lookups are case-insensitive.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
