package model

import "time"

// Scheduler drives a TradingOrder by wall-clock time: once at ScheduledAt, or
// recurring by CronExpression. Exactly one of the two is set.
type Scheduler struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	TradingOrderID  uint            `gorm:"not null;index" json:"trading_order_id"`
	UserAddress     string          `gorm:"size:42;not null;index" json:"user_address"`
	TriggerType     SchedulerType   `gorm:"size:20;not null" json:"trigger_type"`
	ScheduledAt     *time.Time      `json:"scheduled_at,omitempty"`
	CronExpression  *string         `gorm:"size:120" json:"cron_expression,omitempty"`
	Timezone        string          `gorm:"size:64;not null;default:UTC" json:"timezone"`
	Status          SchedulerStatus `gorm:"size:20;not null;default:PENDING;index" json:"status"`
	LastExecutedAt  *time.Time      `json:"last_executed_at,omitempty"`
	NextExecutionAt *time.Time      `json:"next_execution_at,omitempty"`
	ExecutionCount  int             `gorm:"not null;default:0" json:"execution_count"`
	ErrorMessage    *string         `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`

	TradingOrder *TradingOrder `gorm:"constraint:OnDelete:CASCADE" json:"trading_order,omitempty"`
}

func (Scheduler) TableName() string {
	return "schedulers"
}

// IsRecurring reports whether the scheduler keeps firing after a success.
func (s *Scheduler) IsRecurring() bool {
	return s.TriggerType == SchedulerTypeCron
}

// HasExclusiveTiming checks the scheduled-at / cron exclusivity for the trigger type.
func (s *Scheduler) HasExclusiveTiming() bool {
	hasAt := s.ScheduledAt != nil
	hasCron := s.CronExpression != nil && *s.CronExpression != ""
	switch s.TriggerType {
	case SchedulerTypeScheduled:
		return hasAt && !hasCron
	case SchedulerTypeCron:
		return hasCron && !hasAt
	default:
		return false
	}
}

// AcceptsOrderStatus reports whether a fire may execute against an order in status.
// One-shot schedules need a PENDING order; recurring ones also run on an EXECUTED order.
func (s *Scheduler) AcceptsOrderStatus(status TradingOrderStatus) bool {
	if status == TradingOrderStatusPending {
		return true
	}
	return s.IsRecurring() && status == TradingOrderStatusExecuted
}
