package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionSource identifies which kind of child trigger fired an execution.
type ExecutionSource string

const (
	ExecutionSourceScheduler      ExecutionSource = "SCHEDULER"
	ExecutionSourceAdvanceTrigger ExecutionSource = "ADVANCE_TRIGGER"
)

// ExecutionLog stores one row per execution attempt of a TradingOrder.
// Recurring schedules produce one row per fire, so this is the history the
// single ExternalTxID on the order cannot hold.
type ExecutionLog struct {
	ID uint `gorm:"primaryKey" json:"id"`

	TradingOrderID uint            `gorm:"not null;index" json:"trading_order_id"`
	Source         ExecutionSource `gorm:"size:30;not null" json:"source"`
	SourceID       uint            `gorm:"not null;index" json:"source_id"`

	// Snapshot of the order at the moment of execution
	Asset   string          `gorm:"size:50" json:"asset"`
	Side    OrderSide       `gorm:"size:10" json:"side"`
	SizeUSD decimal.Decimal `gorm:"type:numeric" json:"size_usd"`
	IsTwap  bool            `json:"is_twap"`

	Status        TradingOrderStatus  `gorm:"size:20;not null" json:"status"` // EXECUTED or FAILED
	ExternalTxID  *string             `gorm:"size:255" json:"external_tx_id,omitempty"`
	ErrorMessage  *string             `gorm:"type:text" json:"error_message,omitempty"`
	ObservedValue decimal.NullDecimal `gorm:"type:numeric" json:"observed_value"`

	RequestedAt time.Time `json:"requested_at"`
	CompletedAt time.Time `json:"completed_at"`
	CreatedAt   time.Time `json:"created_at"`
}

func (ExecutionLog) TableName() string {
	return "execution_logs"
}
