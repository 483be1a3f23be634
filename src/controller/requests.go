package controller

import (
	"time"

	"github.com/shopspring/decimal"

	"triggerexecutor/src/model"
)

// TriggerKind selects which child row drives the order.
type TriggerKind string

const (
	TriggerKindScheduler      TriggerKind = "SCHEDULER"
	TriggerKindAdvanceTrigger TriggerKind = "ADVANCE_TRIGGER"
)

// CreateRequest creates a TradingOrder together with the one trigger that fires it.
type CreateRequest struct {
	UserAddress string         `json:"user_address"`
	Order       OrderRequest   `json:"order"`
	Trigger     TriggerRequest `json:"trigger"`
}

type OrderRequest struct {
	ExecutionType       model.ExecutionType `json:"execution_type"`
	Side                model.OrderSide     `json:"side"`
	Asset               string              `json:"asset"`
	SizeUSD             decimal.Decimal     `json:"size_usd"`
	Leverage            int                 `json:"leverage"`
	IsTwap              bool                `json:"is_twap"`
	TwapDurationMinutes *int                `json:"twap_duration_minutes,omitempty"`
	TwapRandomize       bool                `json:"twap_randomize"`
}

// TriggerRequest carries the payload matching Type; the other one must be nil.
type TriggerRequest struct {
	Type           TriggerKind            `json:"type"`
	Scheduler      *SchedulerRequest      `json:"scheduler,omitempty"`
	AdvanceTrigger *AdvanceTriggerRequest `json:"advance_trigger,omitempty"`
}

type SchedulerRequest struct {
	TriggerType    model.SchedulerType `json:"trigger_type"`
	ScheduledAt    *time.Time          `json:"scheduled_at,omitempty"`
	CronExpression *string             `json:"cron_expression,omitempty"`
	Timezone       string              `json:"timezone,omitempty"`
}

type AdvanceTriggerRequest struct {
	TriggerType model.AdvanceTriggerType `json:"trigger_type"`
	Asset       string                   `json:"asset"`
	Value       decimal.Decimal          `json:"value"`
	Direction   model.TriggerDirection   `json:"direction"`
}

// CreateResult holds the created order and its child.
type CreateResult struct {
	Order          *model.TradingOrder   `json:"order"`
	Scheduler      *model.Scheduler      `json:"scheduler,omitempty"`
	AdvanceTrigger *model.AdvanceTrigger `json:"advance_trigger,omitempty"`
}

// ChildCancellation reports what happened to one child during a cancel.
type ChildCancellation struct {
	Kind     TriggerKind `json:"kind"`
	ID       uint        `json:"id"`
	Canceled bool        `json:"canceled"`
	Error    string      `json:"error,omitempty"`
}

// CancelResult summarises a cancel. Partial is set when any child or the
// parent order could not be canceled.
type CancelResult struct {
	TradingOrderID uint                     `json:"trading_order_id"`
	OrderCanceled  bool                     `json:"order_canceled"`
	OrderStatus    model.TradingOrderStatus `json:"order_status"`
	Children       []ChildCancellation      `json:"children"`
	Partial        bool                     `json:"partial"`
	Message        string                   `json:"message"`
}
