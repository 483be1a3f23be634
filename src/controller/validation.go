package controller

import (
	"fmt"
	"strings"
	"time"

	"triggerexecutor/src/apperrors"
	"triggerexecutor/src/model"
	"triggerexecutor/src/scheduling"
)

func (c *Lifecycle) validate(req *CreateRequest, now time.Time) error {
	if model.NormalizeAddress(req.UserAddress) == "" {
		return apperrors.Invalid("user_address", "is required")
	}
	if err := c.validateOrder(&req.Order); err != nil {
		return err
	}

	t := req.Trigger
	switch t.Type {
	case TriggerKindScheduler:
		if t.Scheduler == nil {
			return apperrors.Invalid("trigger.scheduler", "is required for SCHEDULER")
		}
		if t.AdvanceTrigger != nil {
			return apperrors.Invalid("trigger.advance_trigger", "must be empty for SCHEDULER")
		}
		return c.validateScheduler(t.Scheduler, now)
	case TriggerKindAdvanceTrigger:
		if t.AdvanceTrigger == nil {
			return apperrors.Invalid("trigger.advance_trigger", "is required for ADVANCE_TRIGGER")
		}
		if t.Scheduler != nil {
			return apperrors.Invalid("trigger.scheduler", "must be empty for ADVANCE_TRIGGER")
		}
		return c.validateAdvanceTrigger(t.AdvanceTrigger)
	default:
		return apperrors.Invalid("trigger.type", "must be SCHEDULER or ADVANCE_TRIGGER")
	}
}

func (c *Lifecycle) validateOrder(o *OrderRequest) error {
	asset := strings.TrimSpace(o.Asset)
	switch {
	case !o.ExecutionType.Valid():
		return apperrors.Invalid("order.execution_type", "must be PERPETUAL or SPOT")
	case !o.Side.Valid():
		return apperrors.Invalid("order.side", "must be BUY or SELL")
	case asset == "":
		return apperrors.Invalid("order.asset", "is required")
	case c.config.MaxAssetLength > 0 && len(asset) > c.config.MaxAssetLength:
		return apperrors.Invalid("order.asset", "is too long")
	case !o.SizeUSD.IsPositive():
		return apperrors.Invalid("order.size_usd", "must be greater than 0")
	case o.Leverage <= 0:
		return apperrors.Invalid("order.leverage", "must be greater than 0")
	case c.config.MaxLeverage > 0 && o.Leverage > c.config.MaxLeverage:
		return apperrors.Invalid("order.leverage", fmt.Sprintf("must not exceed %d", c.config.MaxLeverage))
	}

	if o.IsTwap {
		if o.TwapDurationMinutes == nil || *o.TwapDurationMinutes <= 0 {
			return apperrors.Invalid("order.twap_duration_minutes", "must be greater than 0 for TWAP")
		}
		if c.config.MaxTwapMinutes > 0 && *o.TwapDurationMinutes > c.config.MaxTwapMinutes {
			return apperrors.Invalid("order.twap_duration_minutes", fmt.Sprintf("must not exceed %d", c.config.MaxTwapMinutes))
		}
	} else if o.TwapDurationMinutes != nil {
		return apperrors.Invalid("order.twap_duration_minutes", "is only allowed for TWAP")
	}

	return nil
}

func (c *Lifecycle) validateScheduler(s *SchedulerRequest, now time.Time) error {
	hasCron := s.CronExpression != nil && strings.TrimSpace(*s.CronExpression) != ""

	switch s.TriggerType {
	case model.SchedulerTypeScheduled:
		if s.ScheduledAt == nil {
			return apperrors.Invalid("trigger.scheduler.scheduled_at", "is required for SCHEDULED")
		}
		if s.CronExpression != nil {
			return apperrors.Invalid("trigger.scheduler.cron_expression", "is not allowed for SCHEDULED")
		}
		if !s.ScheduledAt.After(now) {
			return apperrors.Invalid("trigger.scheduler.scheduled_at", "must be in the future")
		}
		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				return apperrors.Invalid("trigger.scheduler.timezone", "is not a known time zone")
			}
		}

	case model.SchedulerTypeCron:
		if !hasCron {
			return apperrors.Invalid("trigger.scheduler.cron_expression", "is required for CRON")
		}
		if s.ScheduledAt != nil {
			return apperrors.Invalid("trigger.scheduler.scheduled_at", "is not allowed for CRON")
		}
		if c.config.MaxCronLength > 0 && len(*s.CronExpression) > c.config.MaxCronLength {
			return apperrors.Invalid("trigger.scheduler.cron_expression", "is too long")
		}
		// a valid expression may still have no future fire time, e.g. Feb 30
		if _, err := scheduling.NextFire(*s.CronExpression, s.Timezone, now); err != nil {
			return apperrors.Invalid("trigger.scheduler.cron_expression", err.Error())
		}

	default:
		return apperrors.Invalid("trigger.scheduler.trigger_type", "must be SCHEDULED or CRON")
	}

	return nil
}

func (c *Lifecycle) validateAdvanceTrigger(a *AdvanceTriggerRequest) error {
	switch {
	case !a.TriggerType.Valid():
		return apperrors.Invalid("trigger.advance_trigger.trigger_type", "is not a supported market condition")
	case strings.TrimSpace(a.Asset) == "":
		return apperrors.Invalid("trigger.advance_trigger.asset", "is required")
	case !a.Value.IsPositive():
		return apperrors.Invalid("trigger.advance_trigger.value", "must be greater than 0")
	case !a.Direction.Valid():
		return apperrors.Invalid("trigger.advance_trigger.direction", "must be MORE_THAN or LESS_THAN")
	}
	return nil
}
