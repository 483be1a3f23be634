package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTradingOrderTerminalStatusesNeverTransition(t *testing.T) {
	terminal := []TradingOrderStatus{TradingOrderStatusFailed, TradingOrderStatusCanceled}
	for _, from := range terminal {
		for _, to := range []TradingOrderStatus{TradingOrderStatusPending, TradingOrderStatusExecuted, TradingOrderStatusFailed, TradingOrderStatusCanceled} {
			assert.Falsef(t, from.CanTransitionTo(to), "%s -> %s must be rejected", from, to)
		}
	}

	assert.True(t, TradingOrderStatusExecuted.CanTransitionTo(TradingOrderStatusExecuted))
	assert.False(t, TradingOrderStatusExecuted.CanTransitionTo(TradingOrderStatusFailed))
	assert.False(t, TradingOrderStatusExecuted.CanTransitionTo(TradingOrderStatusCanceled))
	assert.False(t, TradingOrderStatusPending.CanTransitionTo(TradingOrderStatusPending))
}

func TestOrderStatusesAllowing(t *testing.T) {
	assert.ElementsMatch(t,
		[]TradingOrderStatus{TradingOrderStatusPending, TradingOrderStatusExecuted},
		OrderStatusesAllowing(TradingOrderStatusExecuted))
	assert.Equal(t,
		[]TradingOrderStatus{TradingOrderStatusPending},
		OrderStatusesAllowing(TradingOrderStatusCanceled))
}

func TestSchedulerExclusiveTiming(t *testing.T) {
	at := time.Now().Add(time.Hour)
	cron := "*/5 * * * *"
	empty := ""

	cases := []struct {
		name string
		s    Scheduler
		want bool
	}{
		{"scheduled with timestamp", Scheduler{TriggerType: SchedulerTypeScheduled, ScheduledAt: &at}, true},
		{"scheduled with both", Scheduler{TriggerType: SchedulerTypeScheduled, ScheduledAt: &at, CronExpression: &cron}, false},
		{"scheduled with neither", Scheduler{TriggerType: SchedulerTypeScheduled}, false},
		{"cron with expression", Scheduler{TriggerType: SchedulerTypeCron, CronExpression: &cron}, true},
		{"cron with empty expression", Scheduler{TriggerType: SchedulerTypeCron, CronExpression: &empty}, false},
		{"cron with both", Scheduler{TriggerType: SchedulerTypeCron, CronExpression: &cron, ScheduledAt: &at}, false},
		{"unknown type", Scheduler{TriggerType: "DAILY", ScheduledAt: &at}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.s.HasExclusiveTiming())
		})
	}
}

func TestSchedulerAcceptsOrderStatus(t *testing.T) {
	oneShot := Scheduler{TriggerType: SchedulerTypeScheduled}
	recurring := Scheduler{TriggerType: SchedulerTypeCron}

	assert.True(t, oneShot.AcceptsOrderStatus(TradingOrderStatusPending))
	assert.False(t, oneShot.AcceptsOrderStatus(TradingOrderStatusExecuted))
	assert.True(t, recurring.AcceptsOrderStatus(TradingOrderStatusExecuted))
	assert.False(t, recurring.AcceptsOrderStatus(TradingOrderStatusCanceled))
	assert.False(t, recurring.AcceptsOrderStatus(TradingOrderStatusFailed))
}

func TestAdvanceTriggerMatchesIsStrict(t *testing.T) {
	more := AdvanceTrigger{TriggerValue: decimal.NewFromInt(3000), TriggerDirection: TriggerDirectionMoreThan}
	less := AdvanceTrigger{TriggerValue: decimal.NewFromInt(3000), TriggerDirection: TriggerDirectionLessThan}

	assert.True(t, more.Matches(decimal.NewFromInt(3001)))
	assert.False(t, more.Matches(decimal.NewFromInt(3000)))
	assert.False(t, more.Matches(decimal.NewFromInt(2999)))

	assert.True(t, less.Matches(decimal.NewFromInt(2999)))
	assert.False(t, less.Matches(decimal.NewFromInt(3000)))

	unknown := AdvanceTrigger{TriggerValue: decimal.NewFromInt(1), TriggerDirection: "EQUAL"}
	assert.False(t, unknown.Matches(decimal.NewFromInt(1)))
}

func TestNormalizeAddress(t *testing.T) {
	order := TradingOrder{UserAddress: "0xabc"}
	assert.True(t, order.OwnedBy(" 0xABC "))
	assert.False(t, order.OwnedBy("0xdef"))
}
