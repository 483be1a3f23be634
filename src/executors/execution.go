package executors

import (
	"time"

	"github.com/shopspring/decimal"

	"triggerexecutor/src/model"
)

// Execution is the input of ExecuteOrderUseCase. It is either an
// AdvanceTriggerExecution or a SchedulerExecution.
type Execution interface {
	Order() *model.TradingOrder
	Source() model.ExecutionSource
	SourceID() uint
	isExecution()
}

// AdvanceTriggerExecution fires an order because a market condition matched.
type AdvanceTriggerExecution struct {
	Trigger        *model.AdvanceTrigger
	TradingOrder   *model.TradingOrder
	TriggeredValue decimal.Decimal
}

func NewAdvanceTriggerExecution(trigger *model.AdvanceTrigger, order *model.TradingOrder, value decimal.Decimal) Execution {
	return AdvanceTriggerExecution{Trigger: trigger, TradingOrder: order, TriggeredValue: value}
}

func (e AdvanceTriggerExecution) Order() *model.TradingOrder    { return e.TradingOrder }
func (e AdvanceTriggerExecution) Source() model.ExecutionSource { return model.ExecutionSourceAdvanceTrigger }
func (e AdvanceTriggerExecution) SourceID() uint                { return e.Trigger.ID }
func (AdvanceTriggerExecution) isExecution()                    {}

// SchedulerExecution fires an order because its schedule came due.
type SchedulerExecution struct {
	Scheduler    *model.Scheduler
	TradingOrder *model.TradingOrder
	ScheduledAt  time.Time
}

func NewSchedulerExecution(scheduler *model.Scheduler, order *model.TradingOrder, scheduledAt time.Time) Execution {
	return SchedulerExecution{Scheduler: scheduler, TradingOrder: order, ScheduledAt: scheduledAt}
}

func (e SchedulerExecution) Order() *model.TradingOrder    { return e.TradingOrder }
func (e SchedulerExecution) Source() model.ExecutionSource { return model.ExecutionSourceScheduler }
func (e SchedulerExecution) SourceID() uint                { return e.Scheduler.ID }
func (SchedulerExecution) isExecution()                    {}

// Outcome is the terminal result of one execution.
type Outcome struct {
	Status     model.TradingOrderStatus
	ExternalID string
	Reason     string
	ExecutedAt time.Time
}

func (o Outcome) Succeeded() bool {
	return o.Status == model.TradingOrderStatusExecuted
}
