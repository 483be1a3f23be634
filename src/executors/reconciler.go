package executors

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"triggerexecutor/src/metrics"
	"triggerexecutor/src/model"
	"triggerexecutor/src/repository"
)

const (
	reconcileBatch = 100

	orphanReason     = "orphaned: no live trigger"
	staleClaimReason = "execution abandoned: claim expired"
	overdueReason    = "execution abandoned: schedule overdue"
)

// Reconciler periodically settles records a crash left behind: advance
// triggers claimed but never finished, ACTIVE schedulers whose job was lost,
// and PENDING orders with no live trigger.
type Reconciler struct {
	store        *repository.Store
	notifier     Notifier
	interval     time.Duration
	orphanGrace  time.Duration
	claimTimeout time.Duration
	now          func() time.Time
}

func NewReconciler(store *repository.Store, notifier Notifier, config Config) *Reconciler {
	return &Reconciler{
		store:        store,
		notifier:     notifier,
		interval:     config.ReconcileInterval,
		orphanGrace:  config.OrphanGrace,
		claimTimeout: config.ClaimTimeout,
		now:          time.Now,
	}
}

// Run sweeps every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("reconciler stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				logger.WithError(err).Error("Reconcile sweep failed")
			}
		}
	}
}

// Sweep runs one pass and returns how many records it settled.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	touched := make(map[string]struct{})

	stale, err := r.store.Triggers.FindStaleActive(ctx, now.Add(-r.claimTimeout), reconcileBatch)
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, t := range stale {
		changed, err := r.failTrigger(ctx, t)
		if err != nil {
			return failed, err
		}
		if changed {
			failed++
			touched[t.UserAddress] = struct{}{}
		}
	}

	overdue, err := r.store.Schedulers.FindStaleActive(ctx, now.Add(-r.claimTimeout), reconcileBatch)
	if err != nil {
		return failed, err
	}

	for _, s := range overdue {
		changed, err := r.settleScheduler(ctx, s)
		if err != nil {
			return failed, err
		}
		if changed {
			failed++
			touched[s.UserAddress] = struct{}{}
		}
	}

	orphans, err := r.store.Orders.FindOrphaned(ctx, now.Add(-r.orphanGrace), reconcileBatch)
	if err != nil {
		return failed, err
	}

	for _, o := range orphans {
		changed, err := r.store.Orders.TransitionStatus(ctx, o.ID, model.TradingOrderStatusFailed, map[string]interface{}{
			"error_message": orphanReason,
		})
		if err != nil {
			return failed, err
		}
		if !changed {
			continue
		}

		failed++
		touched[o.UserAddress] = struct{}{}
		metrics.OrphansFailed.Inc()
		logger.WithFields(map[string]interface{}{
			"component": "Reconciler",
			"order_id":  o.ID,
		}).Warn("Failed orphaned trading order")
	}

	r.notify(ctx, touched)
	return failed, nil
}

// failTrigger fails a stale ACTIVE trigger together with its order.
func (r *Reconciler) failTrigger(ctx context.Context, t model.AdvanceTrigger) (bool, error) {
	var changed bool

	err := r.store.Transaction(ctx, func(tx *repository.Store) error {
		ok, err := tx.Triggers.TransitionStatus(ctx, t.ID, []model.AdvanceTriggerStatus{model.AdvanceTriggerStatusActive}, map[string]interface{}{
			"status":        model.AdvanceTriggerStatusFailed,
			"error_message": staleClaimReason,
		})
		if err != nil || !ok {
			return err
		}
		changed = true

		_, err = tx.Orders.TransitionStatus(ctx, t.TradingOrderID, model.TradingOrderStatusFailed, map[string]interface{}{
			"error_message": staleClaimReason,
		})
		return err
	})
	if err != nil {
		return false, err
	}

	if changed {
		metrics.OrphansFailed.Inc()
		logger.WithFields(map[string]interface{}{
			"component":  "Reconciler",
			"trigger_id": t.ID,
			"order_id":   t.TradingOrderID,
		}).Warn("Failed stale advance trigger claim")
	}
	return changed, nil
}

// settleScheduler closes an ACTIVE scheduler whose fire never finished. A
// one-time scheduler whose order was executed is COMPLETED; any other is
// FAILED together with its still PENDING order.
func (r *Reconciler) settleScheduler(ctx context.Context, s model.Scheduler) (bool, error) {
	var (
		changed bool
		status  model.SchedulerStatus
	)

	err := r.store.Transaction(ctx, func(tx *repository.Store) error {
		order, err := tx.Orders.FindByID(ctx, s.TradingOrderID)
		if err != nil {
			return err
		}

		if !s.IsRecurring() && order != nil && order.Status == model.TradingOrderStatusExecuted {
			status = model.SchedulerStatusCompleted
			changed, err = tx.Schedulers.TransitionStatus(ctx, s.ID, []model.SchedulerStatus{model.SchedulerStatusActive}, map[string]interface{}{
				"status":            model.SchedulerStatusCompleted,
				"next_execution_at": nil,
				"execution_count":   gorm.Expr("execution_count + 1"),
			})
			return err
		}

		status = model.SchedulerStatusFailed
		changed, err = tx.Schedulers.TransitionStatus(ctx, s.ID, []model.SchedulerStatus{model.SchedulerStatusActive}, map[string]interface{}{
			"status":            model.SchedulerStatusFailed,
			"error_message":     overdueReason,
			"next_execution_at": nil,
		})
		if err != nil || !changed {
			return err
		}

		_, err = tx.Orders.TransitionStatus(ctx, s.TradingOrderID, model.TradingOrderStatusFailed, map[string]interface{}{
			"error_message": overdueReason,
		})
		return err
	})
	if err != nil {
		return false, err
	}

	if changed {
		metrics.OrphansFailed.Inc()
		logger.WithFields(map[string]interface{}{
			"component":    "Reconciler",
			"scheduler_id": s.ID,
			"order_id":     s.TradingOrderID,
			"status":       status,
		}).Warn("Settled overdue scheduler")
	}
	return changed, nil
}

func (r *Reconciler) notify(ctx context.Context, addresses map[string]struct{}) {
	if r.notifier == nil {
		return
	}
	for address := range addresses {
		if err := r.notifier.RefreshAll(ctx, address); err != nil {
			logger.WithField("user_address", address).WithError(err).Warn("Notification refresh failed")
		}
	}
}
