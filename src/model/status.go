package model

// ExecutionType selects the market the TradingOrder is placed on.
type ExecutionType string

const (
	ExecutionTypePerpetual ExecutionType = "PERPETUAL"
	ExecutionTypeSpot      ExecutionType = "SPOT"
)

func (t ExecutionType) Valid() bool {
	return t == ExecutionTypePerpetual || t == ExecutionTypeSpot
}

// OrderSide is the direction of the trade.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

func (s OrderSide) IsBuy() bool {
	return s == OrderSideBuy
}

// TradingOrderStatus is the lifecycle of the parent order.
type TradingOrderStatus string

const (
	TradingOrderStatusPending  TradingOrderStatus = "PENDING"
	TradingOrderStatusExecuted TradingOrderStatus = "EXECUTED"
	TradingOrderStatusFailed   TradingOrderStatus = "FAILED"
	TradingOrderStatusCanceled TradingOrderStatus = "CANCELED"
)

// IsTerminal reports whether the order can no longer change status.
func (s TradingOrderStatus) IsTerminal() bool {
	return s == TradingOrderStatusExecuted || s == TradingOrderStatusFailed || s == TradingOrderStatusCanceled
}

// CanTransitionTo encodes the order state machine. PENDING moves to any terminal status.
// EXECUTED -> EXECUTED is the only move out of a terminal status: a recurring schedule
// stamps its latest external id on an already executed order.
func (s TradingOrderStatus) CanTransitionTo(next TradingOrderStatus) bool {
	switch s {
	case TradingOrderStatusPending:
		return next.IsTerminal()
	case TradingOrderStatusExecuted:
		return next == TradingOrderStatusExecuted
	default:
		return false
	}
}

// OrderStatusesAllowing returns every status from which next is reachable.
func OrderStatusesAllowing(next TradingOrderStatus) []TradingOrderStatus {
	all := []TradingOrderStatus{
		TradingOrderStatusPending,
		TradingOrderStatusExecuted,
		TradingOrderStatusFailed,
		TradingOrderStatusCanceled,
	}
	from := make([]TradingOrderStatus, 0, len(all))
	for _, s := range all {
		if s.CanTransitionTo(next) {
			from = append(from, s)
		}
	}
	return from
}

// SchedulerType is the kind of time trigger.
type SchedulerType string

const (
	SchedulerTypeScheduled SchedulerType = "SCHEDULED"
	SchedulerTypeCron      SchedulerType = "CRON"
)

func (t SchedulerType) Valid() bool {
	return t == SchedulerTypeScheduled || t == SchedulerTypeCron
}

// SchedulerStatus is the lifecycle of a time trigger.
type SchedulerStatus string

const (
	SchedulerStatusPending   SchedulerStatus = "PENDING"
	SchedulerStatusActive    SchedulerStatus = "ACTIVE"
	SchedulerStatusCompleted SchedulerStatus = "COMPLETED"
	SchedulerStatusCanceled  SchedulerStatus = "CANCELED"
	SchedulerStatusFailed    SchedulerStatus = "FAILED"
)

// IsLive reports whether the scheduler may still fire or be canceled.
func (s SchedulerStatus) IsLive() bool {
	return s == SchedulerStatusPending || s == SchedulerStatusActive
}

// LiveSchedulerStatuses lists the statuses a cancel or a fire may act on.
var LiveSchedulerStatuses = []SchedulerStatus{SchedulerStatusPending, SchedulerStatusActive}

// AdvanceTriggerType is the closed set of market conditions a trigger can watch.
type AdvanceTriggerType string

const (
	AdvanceTriggerTypeAssetPrice          AdvanceTriggerType = "ASSET_PRICE"
	AdvanceTriggerTypeVolume              AdvanceTriggerType = "VOLUME"
	AdvanceTriggerTypeOpenInterest        AdvanceTriggerType = "OPEN_INTEREST"
	AdvanceTriggerTypeDayChangePercentage AdvanceTriggerType = "DAY_CHANGE_PERCENTAGE"
)

// AdvanceTriggerTypes lists every trigger type.
var AdvanceTriggerTypes = []AdvanceTriggerType{
	AdvanceTriggerTypeAssetPrice,
	AdvanceTriggerTypeVolume,
	AdvanceTriggerTypeOpenInterest,
	AdvanceTriggerTypeDayChangePercentage,
}

func (t AdvanceTriggerType) Valid() bool {
	for _, v := range AdvanceTriggerTypes {
		if v == t {
			return true
		}
	}
	return false
}

// TriggerDirection is the comparison applied to the observed value.
type TriggerDirection string

const (
	TriggerDirectionMoreThan TriggerDirection = "MORE_THAN"
	TriggerDirectionLessThan TriggerDirection = "LESS_THAN"
)

func (d TriggerDirection) Valid() bool {
	return d == TriggerDirectionMoreThan || d == TriggerDirectionLessThan
}

// AdvanceTriggerStatus is the lifecycle of a market trigger.
type AdvanceTriggerStatus string

const (
	AdvanceTriggerStatusPending   AdvanceTriggerStatus = "PENDING"
	AdvanceTriggerStatusActive    AdvanceTriggerStatus = "ACTIVE"
	AdvanceTriggerStatusTriggered AdvanceTriggerStatus = "TRIGGERED"
	AdvanceTriggerStatusCanceled  AdvanceTriggerStatus = "CANCELED"
	AdvanceTriggerStatusFailed    AdvanceTriggerStatus = "FAILED"
)

func (s AdvanceTriggerStatus) IsLive() bool {
	return s == AdvanceTriggerStatusPending || s == AdvanceTriggerStatusActive
}

// LiveAdvanceTriggerStatuses lists the statuses a cancel may act on.
var LiveAdvanceTriggerStatuses = []AdvanceTriggerStatus{AdvanceTriggerStatusPending, AdvanceTriggerStatusActive}
