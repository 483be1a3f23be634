package executors

import (
	"context"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"triggerexecutor/src/apperrors"
	"triggerexecutor/src/model"
	"triggerexecutor/src/repository"
	"triggerexecutor/src/scheduling"
)

// SchedulerManager binds time-based schedulers to the job queue and runs the
// one-time and recurring processors.
type SchedulerManager struct {
	store    *repository.Store
	queue    scheduling.Queue
	executor OrderExecutor
	now      func() time.Time
}

// NewSchedulerManager registers both processors on queue.
func NewSchedulerManager(store *repository.Store, queue scheduling.Queue, executor OrderExecutor) *SchedulerManager {
	m := &SchedulerManager{
		store:    store,
		queue:    queue,
		executor: executor,
		now:      time.Now,
	}
	queue.RegisterProcessor(scheduling.JobKindOneTime, m.processOneTime)
	queue.RegisterProcessor(scheduling.JobKindCron, m.processCron)
	return m
}

// Register queues the job of a live scheduler and marks it ACTIVE.
func (m *SchedulerManager) Register(ctx context.Context, s *model.Scheduler) error {
	var (
		handle scheduling.JobHandle
		err    error
	)

	switch s.TriggerType {
	case model.SchedulerTypeScheduled:
		if s.ScheduledAt == nil {
			return apperrors.Invalid("scheduled_at", "is required for SCHEDULED")
		}
		handle, err = m.queue.ScheduleOneTime(ctx, s.ID, s.UserAddress, *s.ScheduledAt)
	case model.SchedulerTypeCron:
		if s.CronExpression == nil {
			return apperrors.Invalid("cron_expression", "is required for CRON")
		}
		handle, err = m.queue.ScheduleCron(ctx, s.ID, s.UserAddress, *s.CronExpression, s.Timezone)
	default:
		return apperrors.Invalid("trigger_type", fmt.Sprintf("%q is not supported", s.TriggerType))
	}
	if err != nil {
		return apperrors.Infrastructure("queue scheduler job", err)
	}

	next := handle.NextRun
	changed, err := m.store.Schedulers.TransitionStatus(ctx, s.ID, model.LiveSchedulerStatuses, map[string]interface{}{
		"status":            model.SchedulerStatusActive,
		"next_execution_at": next,
	})
	if err != nil {
		return apperrors.Infrastructure("activate scheduler", err)
	}
	if !changed {
		// canceled while being queued
		m.Unregister(ctx, s)
		return apperrors.InvalidState("scheduler %d is no longer live", s.ID)
	}

	s.Status = model.SchedulerStatusActive
	s.NextExecutionAt = &next

	logger.WithFields(map[string]interface{}{
		"component":    "SchedulerManager",
		"scheduler_id": s.ID,
		"order_id":     s.TradingOrderID,
		"type":         s.TriggerType,
		"next_run":     next,
	}).Info("Scheduler registered")

	return nil
}

// Unregister removes the queued job of s, if any. Queue failures are logged:
// the processors re-check the scheduler status before executing.
func (m *SchedulerManager) Unregister(ctx context.Context, s *model.Scheduler) bool {
	var (
		removed bool
		err     error
	)
	if s.IsRecurring() {
		removed, err = m.queue.Stop(ctx, s.ID)
	} else {
		removed, err = m.queue.Cancel(ctx, s.ID)
	}
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"component":    "SchedulerManager",
			"scheduler_id": s.ID,
		}).WithError(err).Warn("Failed to remove scheduler job")
		return false
	}
	return removed
}

// Restore re-registers every live scheduler. It runs at startup so the queue
// matches the store after a restart or with the in-memory backend.
// One-time schedules already past due fire on the next poll.
func (m *SchedulerManager) Restore(ctx context.Context) error {
	live, err := m.store.Schedulers.FindByStatus(ctx, model.LiveSchedulerStatuses...)
	if err != nil {
		return apperrors.Infrastructure("list live schedulers", err)
	}

	restored := 0
	for i := range live {
		s := &live[i]
		if err := m.Register(ctx, s); err != nil {
			logger.WithFields(map[string]interface{}{
				"component":    "SchedulerManager",
				"scheduler_id": s.ID,
			}).WithError(err).Error("Failed to restore scheduler")

			if errors.Is(err, apperrors.ErrValidation) {
				m.fail(ctx, s.ID, err.Error())
			}
			continue
		}
		restored++
	}

	logger.WithFields(map[string]interface{}{
		"component": "SchedulerManager",
		"restored":  restored,
		"live":      len(live),
	}).Info("Schedulers restored")

	return nil
}

// load returns the scheduler and its order when the job is still actionable.
func (m *SchedulerManager) load(ctx context.Context, job scheduling.Job) (*model.Scheduler, *model.TradingOrder, error) {
	s, err := m.store.Schedulers.FindByID(ctx, job.SchedulerID)
	if err != nil {
		return nil, nil, apperrors.Infrastructure("load scheduler", err)
	}
	if s == nil || !s.Status.IsLive() {
		return nil, nil, nil
	}

	order, err := m.store.Orders.FindByID(ctx, s.TradingOrderID)
	if err != nil {
		return nil, nil, apperrors.Infrastructure("load trading order", err)
	}
	if order == nil || !s.AcceptsOrderStatus(order.Status) {
		return nil, nil, nil
	}

	return s, order, nil
}

func (m *SchedulerManager) processOneTime(ctx context.Context, job scheduling.Job) error {
	s, order, err := m.load(ctx, job)
	if err != nil {
		m.abort(ctx, job, err)
		return err
	}
	if s == nil {
		logger.WithFields(map[string]interface{}{
			"component":    "SchedulerManager",
			"scheduler_id": job.SchedulerID,
		}).Info("Skipping one-time job of inactive scheduler")
		return nil
	}

	if _, err := m.executor.Execute(ctx, NewSchedulerExecution(s, order, job.DueAt)); err != nil {
		// a rejection is already stored; an unstored failure is settled here
		m.abort(ctx, job, err)
		return err
	}

	_, err = m.store.Schedulers.TransitionStatus(ctx, s.ID, model.LiveSchedulerStatuses, map[string]interface{}{
		"status":            model.SchedulerStatusCompleted,
		"next_execution_at": nil,
		"execution_count":   gorm.Expr("execution_count + 1"),
	})
	if err != nil {
		// the order is EXECUTED; the reconciler completes the scheduler
		Capture(ctx, m.store.Exceptions, "executors", "SchedulerManager.processOneTime", "error", err, map[string]interface{}{
			"scheduler_id": s.ID,
			"order_id":     s.TradingOrderID,
		})
		return apperrors.Infrastructure("complete scheduler", err)
	}
	return nil
}

// processCron runs one fire of a recurring scheduler. The first failure stops
// the recurrence for good.
func (m *SchedulerManager) processCron(ctx context.Context, job scheduling.Job) error {
	s, order, err := m.load(ctx, job)
	if err != nil {
		m.abort(ctx, job, err)
		return err
	}
	if s == nil {
		logger.WithFields(map[string]interface{}{
			"component":    "SchedulerManager",
			"scheduler_id": job.SchedulerID,
		}).Info("Stopping recurring job of inactive scheduler")
		if _, err := m.queue.Stop(ctx, job.SchedulerID); err != nil {
			return apperrors.Infrastructure("stop recurring job", err)
		}
		return nil
	}

	if _, err := m.executor.Execute(ctx, NewSchedulerExecution(s, order, job.DueAt)); err != nil {
		m.abort(ctx, job, err)
		return err
	}

	fields := map[string]interface{}{
		"execution_count": gorm.Expr("execution_count + 1"),
	}
	next, nextErr := scheduling.NextFire(*s.CronExpression, s.Timezone, m.now())
	if nextErr != nil {
		// nothing left to fire
		m.stop(ctx, job.SchedulerID)
		fields["status"] = model.SchedulerStatusCompleted
		fields["next_execution_at"] = nil
	} else {
		fields["next_execution_at"] = next
	}

	if _, err := m.store.Schedulers.TransitionStatus(ctx, s.ID, model.LiveSchedulerStatuses, fields); err != nil {
		err = apperrors.Infrastructure("record recurring fire", err)
		m.abort(ctx, job, err)
		return err
	}
	return nil
}

// abort settles a job whose fire could not finish: a recurring job is
// stopped, and the scheduler and its still PENDING order are marked FAILED.
func (m *SchedulerManager) abort(ctx context.Context, job scheduling.Job, cause error) {
	if job.Kind == scheduling.JobKindCron {
		m.stop(ctx, job.SchedulerID)
	}
	m.fail(ctx, job.SchedulerID, cause.Error())
}

func (m *SchedulerManager) stop(ctx context.Context, schedulerID uint) {
	if _, err := m.queue.Stop(ctx, schedulerID); err != nil {
		logger.WithFields(map[string]interface{}{
			"component":    "SchedulerManager",
			"scheduler_id": schedulerID,
		}).WithError(err).Error("Failed to stop recurring job")
	}
}

// fail marks a live scheduler FAILED together with its order when the order
// is still PENDING. A scheduler already terminal is left alone. Failures are
// captured; the reconciler retries schedulers left ACTIVE.
func (m *SchedulerManager) fail(ctx context.Context, schedulerID uint, reason string) {
	var orderID uint

	err := m.store.Transaction(ctx, func(tx *repository.Store) error {
		s, err := tx.Schedulers.FindByID(ctx, schedulerID)
		if err != nil || s == nil {
			return err
		}
		orderID = s.TradingOrderID

		changed, err := tx.Schedulers.TransitionStatus(ctx, s.ID, model.LiveSchedulerStatuses, map[string]interface{}{
			"status":            model.SchedulerStatusFailed,
			"error_message":     reason,
			"next_execution_at": nil,
		})
		if err != nil {
			return fmt.Errorf("mark scheduler %d failed: %w", s.ID, err)
		}
		if !changed && s.Status != model.SchedulerStatusFailed {
			// canceled or completed meanwhile
			return nil
		}

		// an order already executed by an earlier cron run stays EXECUTED
		if _, err := tx.Orders.TransitionStatus(ctx, s.TradingOrderID, model.TradingOrderStatusFailed, map[string]interface{}{
			"error_message": reason,
		}); err != nil {
			return fmt.Errorf("mark trading order %d failed: %w", s.TradingOrderID, err)
		}
		return nil
	})
	if err != nil {
		Capture(ctx, m.store.Exceptions, "executors", "SchedulerManager.fail", "error", err, map[string]interface{}{
			"scheduler_id": schedulerID,
			"order_id":     orderID,
			"reason":       reason,
		})
		return
	}

	logger.WithFields(map[string]interface{}{
		"component":    "SchedulerManager",
		"scheduler_id": schedulerID,
		"order_id":     orderID,
	}).WithField("reason", reason).Warn("Scheduler failed")
}
