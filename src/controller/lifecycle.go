package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"triggerexecutor/src/apperrors"
	"triggerexecutor/src/executors"
	"triggerexecutor/src/marketdata"
	"triggerexecutor/src/model"
	"triggerexecutor/src/notification"
	"triggerexecutor/src/repository"
)

// SchedulerRegistry queues and unqueues the jobs of time-based schedulers.
type SchedulerRegistry interface {
	Register(ctx context.Context, s *model.Scheduler) error
	Unregister(ctx context.Context, s *model.Scheduler) bool
}

// Lifecycle creates and cancels a TradingOrder together with its trigger.
type Lifecycle struct {
	config     Config
	store      *repository.Store
	schedulers SchedulerRegistry
	notifier   executors.Notifier
	now        func() time.Time
}

func NewLifecycle(config Config, store *repository.Store, schedulers SchedulerRegistry, notifier executors.Notifier) *Lifecycle {
	return &Lifecycle{
		config:     config,
		store:      store,
		schedulers: schedulers,
		notifier:   notifier,
		now:        time.Now,
	}
}

// Create validates req, stores the order and its child in one transaction and
// queues the child when it is a scheduler. Nothing is stored when validation fails.
func (c *Lifecycle) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := c.validate(&req, c.now()); err != nil {
		logger.WithFields(map[string]interface{}{
			"component":    "Lifecycle",
			"op":           "Create",
			"user_address": req.UserAddress,
		}).WithError(err).Info("Rejected create request")
		return nil, err
	}

	address := model.NormalizeAddress(req.UserAddress)
	result := &CreateResult{Order: buildOrder(address, req.Order)}

	err := c.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Orders.Create(ctx, result.Order); err != nil {
			return err
		}

		switch req.Trigger.Type {
		case TriggerKindScheduler:
			result.Scheduler = buildScheduler(address, result.Order.ID, req.Trigger.Scheduler)
			return tx.Schedulers.Create(ctx, result.Scheduler)
		default:
			result.AdvanceTrigger = buildAdvanceTrigger(address, result.Order.ID, req.Trigger.AdvanceTrigger)
			return tx.Triggers.Create(ctx, result.AdvanceTrigger)
		}
	})
	if err != nil {
		return nil, apperrors.Infrastructure("create trading order", err)
	}

	channel := notification.ChannelAdvanceTriggers
	if result.Scheduler != nil {
		channel = notification.ChannelSchedulers
		if err := c.schedulers.Register(ctx, result.Scheduler); err != nil {
			c.failRegistration(ctx, result, err)
			c.refresh(ctx, address, channel)
			return nil, err
		}
	}

	logger.WithFields(map[string]interface{}{
		"component":    "Lifecycle",
		"op":           "Create",
		"order_id":     result.Order.ID,
		"trigger_type": req.Trigger.Type,
		"user_address": address,
	}).Info("Trading order created")

	c.refresh(ctx, address, channel)
	return result, nil
}

// failRegistration marks the scheduler and its order FAILED so no PENDING
// order is left without a queued trigger.
func (c *Lifecycle) failRegistration(ctx context.Context, result *CreateResult, cause error) {
	reason := fmt.Sprintf("registration failed: %v", cause)

	err := c.store.Transaction(ctx, func(tx *repository.Store) error {
		if _, err := tx.Schedulers.TransitionStatus(ctx, result.Scheduler.ID, model.LiveSchedulerStatuses, map[string]interface{}{
			"status":        model.SchedulerStatusFailed,
			"error_message": reason,
		}); err != nil {
			return err
		}
		_, err := tx.Orders.TransitionStatus(ctx, result.Order.ID, model.TradingOrderStatusFailed, map[string]interface{}{
			"error_message": reason,
		})
		return err
	})
	if err != nil {
		// the reconciler fails the order later
		executors.Capture(ctx, c.store.Exceptions, "controller", "Lifecycle.failRegistration", "error", err, map[string]interface{}{
			"order_id":     result.Order.ID,
			"scheduler_id": result.Scheduler.ID,
		})
		return
	}

	result.Scheduler.Status = model.SchedulerStatusFailed
	result.Order.Status = model.TradingOrderStatusFailed
}

// Cancel cancels every live child of the order owned by userAddress, then the
// order itself. Child failures do not stop the others nor the parent. A
// missing order and an order of another user both return ErrNotFound.
func (c *Lifecycle) Cancel(ctx context.Context, userAddress string, orderID uint) (*CancelResult, error) {
	address := model.NormalizeAddress(userAddress)

	order, err := c.store.Orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, apperrors.Infrastructure("load trading order", err)
	}
	if order == nil || address == "" || !order.OwnedBy(address) {
		return nil, apperrors.NotFound("trading order")
	}

	schedulers, err := c.store.Schedulers.FindByTradingOrderID(ctx, orderID)
	if err != nil {
		return nil, apperrors.Infrastructure("load schedulers", err)
	}
	triggers, err := c.store.Triggers.FindByTradingOrderID(ctx, orderID)
	if err != nil {
		return nil, apperrors.Infrastructure("load advance triggers", err)
	}

	result := &CancelResult{TradingOrderID: orderID}

	for i := range schedulers {
		s := &schedulers[i]
		if !order.OwnedBy(s.UserAddress) {
			continue
		}
		result.Children = append(result.Children, c.cancelScheduler(ctx, s))
	}
	for i := range triggers {
		t := &triggers[i]
		if !order.OwnedBy(t.UserAddress) {
			continue
		}
		result.Children = append(result.Children, c.cancelTrigger(ctx, t))
	}

	canceled, err := c.store.Orders.TransitionStatus(ctx, orderID, model.TradingOrderStatusCanceled, nil)
	if err != nil {
		return nil, apperrors.Infrastructure("cancel trading order", err)
	}
	result.OrderCanceled = canceled
	result.OrderStatus = model.TradingOrderStatusCanceled
	if !canceled {
		current, err := c.store.Orders.FindByID(ctx, orderID)
		if err == nil && current != nil {
			result.OrderStatus = current.Status
		}
	}

	result.Partial = !result.OrderCanceled
	for _, child := range result.Children {
		if !child.Canceled {
			result.Partial = true
		}
	}
	result.Message = summarize(result)

	logger.WithFields(map[string]interface{}{
		"component":      "Lifecycle",
		"op":             "Cancel",
		"order_id":       orderID,
		"order_canceled": result.OrderCanceled,
		"partial":        result.Partial,
	}).Info(result.Message)

	if c.notifier != nil {
		if err := c.notifier.RefreshAll(ctx, address); err != nil {
			logger.WithField("user_address", address).WithError(err).Warn("Notification refresh failed")
		}
	}

	return result, nil
}

func (c *Lifecycle) cancelScheduler(ctx context.Context, s *model.Scheduler) ChildCancellation {
	res := ChildCancellation{Kind: TriggerKindScheduler, ID: s.ID}

	if !s.Status.IsLive() {
		res.Error = apperrors.InvalidState("scheduler is %s", s.Status).Error()
		return res
	}

	changed, err := c.store.Schedulers.TransitionStatus(ctx, s.ID, model.LiveSchedulerStatuses, map[string]interface{}{
		"status":            model.SchedulerStatusCanceled,
		"next_execution_at": nil,
	})
	if err != nil {
		res.Error = apperrors.Infrastructure("cancel scheduler", err).Error()
		return res
	}

	// the job goes away even when the row raced to a terminal status
	c.schedulers.Unregister(ctx, s)

	if !changed {
		res.Error = apperrors.InvalidState("scheduler is no longer live").Error()
		return res
	}
	res.Canceled = true
	return res
}

func (c *Lifecycle) cancelTrigger(ctx context.Context, t *model.AdvanceTrigger) ChildCancellation {
	res := ChildCancellation{Kind: TriggerKindAdvanceTrigger, ID: t.ID}

	if !t.Status.IsLive() {
		res.Error = apperrors.InvalidState("advance trigger is %s", t.Status).Error()
		return res
	}

	changed, err := c.store.Triggers.TransitionStatus(ctx, t.ID, model.LiveAdvanceTriggerStatuses, map[string]interface{}{
		"status": model.AdvanceTriggerStatusCanceled,
	})
	if err != nil {
		res.Error = apperrors.Infrastructure("cancel advance trigger", err).Error()
		return res
	}
	if !changed {
		res.Error = apperrors.InvalidState("advance trigger is no longer live").Error()
		return res
	}
	res.Canceled = true
	return res
}

func summarize(r *CancelResult) string {
	var canceled, failed []string
	for _, child := range r.Children {
		label := fmt.Sprintf("%s %d", strings.ToLower(string(child.Kind)), child.ID)
		if child.Canceled {
			canceled = append(canceled, label)
		} else {
			failed = append(failed, fmt.Sprintf("%s (%s)", label, child.Error))
		}
	}

	var b strings.Builder
	if r.OrderCanceled {
		fmt.Fprintf(&b, "trading order %d canceled", r.TradingOrderID)
	} else {
		fmt.Fprintf(&b, "trading order %d not canceled: status is %s", r.TradingOrderID, r.OrderStatus)
	}
	if len(canceled) > 0 {
		fmt.Fprintf(&b, "; canceled %s", strings.Join(canceled, ", "))
	}
	if len(failed) > 0 {
		fmt.Fprintf(&b, "; could not cancel %s", strings.Join(failed, ", "))
	}
	return b.String()
}

func (c *Lifecycle) refresh(ctx context.Context, address string, channel notification.Channel) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.RefreshChannel(ctx, address, channel); err != nil {
		logger.WithField("user_address", address).WithError(err).Warn("Notification refresh failed")
	}
}

func buildOrder(address string, o OrderRequest) *model.TradingOrder {
	return &model.TradingOrder{
		UserAddress:         address,
		ExecutionType:       o.ExecutionType,
		Side:                o.Side,
		IsTwap:              o.IsTwap,
		Asset:               marketdata.NormalizeAsset(o.Asset),
		SizeUSD:             o.SizeUSD,
		Leverage:            o.Leverage,
		TwapDurationMinutes: o.TwapDurationMinutes,
		TwapRandomize:       o.TwapRandomize,
		Status:              model.TradingOrderStatusPending,
	}
}

func buildScheduler(address string, orderID uint, s *SchedulerRequest) *model.Scheduler {
	scheduler := &model.Scheduler{
		TradingOrderID: orderID,
		UserAddress:    address,
		TriggerType:    s.TriggerType,
		Timezone:       s.Timezone,
		Status:         model.SchedulerStatusPending,
	}
	if scheduler.Timezone == "" {
		scheduler.Timezone = "UTC"
	}

	switch s.TriggerType {
	case model.SchedulerTypeScheduled:
		at := s.ScheduledAt.UTC()
		scheduler.ScheduledAt = &at
	case model.SchedulerTypeCron:
		expr := strings.TrimSpace(*s.CronExpression)
		scheduler.CronExpression = &expr
	}
	return scheduler
}

func buildAdvanceTrigger(address string, orderID uint, a *AdvanceTriggerRequest) *model.AdvanceTrigger {
	return &model.AdvanceTrigger{
		TradingOrderID:   orderID,
		UserAddress:      address,
		TriggerType:      a.TriggerType,
		TriggerAsset:     marketdata.NormalizeAsset(a.Asset),
		TriggerValue:     a.Value,
		TriggerDirection: a.Direction,
		Status:           model.AdvanceTriggerStatusPending,
	}
}

// IsClientError reports whether err is the caller's fault.
func IsClientError(err error) bool {
	return errors.Is(err, apperrors.ErrValidation) || errors.Is(err, apperrors.ErrNotFound)
}
