package notification

import (
	"time"

	"github.com/shopspring/decimal"

	"triggerexecutor/src/model"
)

// Channel is a push topic a connection can subscribe to.
type Channel string

const (
	ChannelSchedulers      Channel = "schedulers"
	ChannelAdvanceTriggers Channel = "advance-triggers"
	ChannelAll             Channel = "all"
)

// concrete lists the channels that carry data. ChannelAll expands to these.
var concrete = []Channel{ChannelSchedulers, ChannelAdvanceTriggers}

func (c Channel) Valid() bool {
	return c == ChannelSchedulers || c == ChannelAdvanceTriggers || c == ChannelAll
}

// Expand resolves ChannelAll to the concrete channels.
func (c Channel) Expand() []Channel {
	if c == ChannelAll {
		return concrete
	}
	return []Channel{c}
}

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// InboundMessage is what a client sends over the socket.
type InboundMessage struct {
	Action   string    `json:"action"`
	Address  string    `json:"address"`
	Channels []Channel `json:"channels,omitempty"`
}

const (
	TypeSnapshot = "snapshot"
	TypeError    = "error"
	TypeAck      = "ack"
)

// OutboundMessage is what the gateway pushes to a client.
type OutboundMessage struct {
	Type     string      `json:"type"`
	Channel  Channel     `json:"channel,omitempty"`
	Data     interface{} `json:"data,omitempty"`
	Error    string      `json:"error,omitempty"`
	Channels []Channel   `json:"channels,omitempty"`
	SentAt   time.Time   `json:"sent_at"`
}

// OrderFields are the parent order columns joined into every snapshot row.
type OrderFields struct {
	TradingOrderID      uint                     `json:"trading_order_id"`
	ExecutionType       model.ExecutionType      `json:"execution_type"`
	Side                model.OrderSide          `json:"side"`
	Asset               string                   `json:"asset"`
	SizeUSD             decimal.Decimal          `json:"size_usd"`
	Leverage            int                      `json:"leverage"`
	IsTwap              bool                     `json:"is_twap"`
	TwapDurationMinutes *int                     `json:"twap_duration_minutes,omitempty"`
	OrderStatus         model.TradingOrderStatus `json:"order_status"`
	ExternalTxID        *string                  `json:"external_tx_id,omitempty"`
}

type SchedulerRow struct {
	ID              uint                  `json:"id"`
	TriggerType     model.SchedulerType   `json:"trigger_type"`
	ScheduledAt     *time.Time            `json:"scheduled_at,omitempty"`
	CronExpression  *string               `json:"cron_expression,omitempty"`
	Timezone        string                `json:"timezone"`
	Status          model.SchedulerStatus `json:"status"`
	LastExecutedAt  *time.Time            `json:"last_executed_at,omitempty"`
	NextExecutionAt *time.Time            `json:"next_execution_at,omitempty"`
	ExecutionCount  int                   `json:"execution_count"`
	ErrorMessage    *string               `json:"error_message,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	OrderFields
}

type AdvanceTriggerRow struct {
	ID               uint                       `json:"id"`
	TriggerType      model.AdvanceTriggerType   `json:"trigger_type"`
	TriggerAsset     string                     `json:"trigger_asset"`
	TriggerValue     decimal.Decimal            `json:"trigger_value"`
	TriggerDirection model.TriggerDirection     `json:"trigger_direction"`
	Status           model.AdvanceTriggerStatus `json:"status"`
	TriggeredAt      *time.Time                 `json:"triggered_at,omitempty"`
	TriggeredValue   decimal.NullDecimal        `json:"triggered_value"`
	ErrorMessage     *string                    `json:"error_message,omitempty"`
	CreatedAt        time.Time                  `json:"created_at"`
	OrderFields
}

func orderFields(o *model.TradingOrder) OrderFields {
	if o == nil {
		return OrderFields{}
	}
	return OrderFields{
		TradingOrderID:      o.ID,
		ExecutionType:       o.ExecutionType,
		Side:                o.Side,
		Asset:               o.Asset,
		SizeUSD:             o.SizeUSD,
		Leverage:            o.Leverage,
		IsTwap:              o.IsTwap,
		TwapDurationMinutes: o.TwapDurationMinutes,
		OrderStatus:         o.Status,
		ExternalTxID:        o.ExternalTxID,
	}
}
