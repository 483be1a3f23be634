package executors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"triggerexecutor/src/apperrors"
	"triggerexecutor/src/connectors"
	"triggerexecutor/src/metrics"
	"triggerexecutor/src/model"
	"triggerexecutor/src/notification"
	"triggerexecutor/src/repository"
)

// ExecutionClient places orders on the exchange through the execution gateway.
type ExecutionClient interface {
	SetLeverage(ctx context.Context, asset string, leverage int, isCross bool) (*connectors.PlacementResult, error)
	PlaceOrder(ctx context.Context, req connectors.OrderRequest) (*connectors.PlacementResult, error)
	PlaceTwapOrder(ctx context.Context, req connectors.TwapRequest) (*connectors.PlacementResult, error)
}

// Notifier pushes fresh snapshots to subscribed clients.
type Notifier interface {
	RefreshChannel(ctx context.Context, address string, channel notification.Channel) error
	RefreshAll(ctx context.Context, address string) error
}

// OrderExecutor is the single execution path shared by the queue processors
// and the trigger evaluator.
type OrderExecutor interface {
	Execute(ctx context.Context, exec Execution) (Outcome, error)
}

// ExecuteOrderUseCase places the order of a fired trigger and records exactly
// one terminal transition for the trigger and its order.
//
// It does not guard against concurrent invocations for the same trigger. The
// evaluator claim and the single consumer per queue category do.
type ExecuteOrderUseCase struct {
	store    *repository.Store
	client   ExecutionClient
	notifier Notifier
	now      func() time.Time
}

func NewExecuteOrderUseCase(store *repository.Store, client ExecutionClient, notifier Notifier) *ExecuteOrderUseCase {
	return &ExecuteOrderUseCase{
		store:    store,
		client:   client,
		notifier: notifier,
		now:      time.Now,
	}
}

// Execute returns an error wrapping ErrDomainExecution when the exchange
// rejected the order and ErrInfrastructure when the gateway was unreachable or
// the terminal transition could not be stored. The outcome is FAILED in both cases.
func (u *ExecuteOrderUseCase) Execute(ctx context.Context, exec Execution) (Outcome, error) {
	order := exec.Order()
	requestedAt := u.now()

	fields := map[string]interface{}{
		"component": "ExecuteOrderUseCase",
		"source":    exec.Source(),
		"source_id": exec.SourceID(),
		"order_id":  order.ID,
		"asset":     order.Asset,
	}
	logger.WithFields(fields).Info("Executing trading order")

	start := time.Now()
	externalID, placeErr := u.place(ctx, order)
	metrics.ExecutionDuration.WithLabelValues(string(exec.Source())).Observe(time.Since(start).Seconds())

	outcome := Outcome{ExecutedAt: u.now()}
	var persistErr error
	if placeErr == nil {
		outcome.Status = model.TradingOrderStatusExecuted
		outcome.ExternalID = externalID
		var recorded bool
		recorded, persistErr = u.persistSuccess(ctx, exec, outcome)
		if persistErr == nil && !recorded {
			// lost a race against cancel: the exchange has the order, the store does not
			logger.WithFields(fields).WithField("external_id", externalID).Warn("Order left pending status while executing")
			Capture(ctx, u.store.Exceptions, "executors", "ExecuteOrderUseCase.persistSuccess", "warn",
				fmt.Errorf("order %d was placed as %s but is no longer pending", order.ID, externalID),
				map[string]interface{}{"order_id": order.ID, "external_id": externalID})
		}
	} else {
		outcome.Status = model.TradingOrderStatusFailed
		outcome.Reason = placeErr.Error()
		logger.WithFields(fields).WithError(placeErr).Warn("Trading order execution failed")
		persistErr = u.persistFailure(ctx, exec, outcome)
	}

	if persistErr != nil {
		Capture(ctx, u.store.Exceptions, "executors", "ExecuteOrderUseCase.persist", "error", persistErr, map[string]interface{}{
			"order_id":  order.ID,
			"source":    exec.Source(),
			"source_id": exec.SourceID(),
			"outcome":   outcome.Status,
		})
	}

	u.recordLog(ctx, exec, outcome, requestedAt)
	metrics.Executions.WithLabelValues(string(exec.Source()), string(outcome.Status)).Inc()
	u.notify(ctx, exec)

	if persistErr != nil {
		return outcome, apperrors.Infrastructure("persist terminal transition", persistErr)
	}
	if placeErr != nil {
		return outcome, placeErr
	}

	logger.WithFields(fields).WithField("external_id", externalID).Info("Trading order executed")
	return outcome, nil
}

// place drives the gateway: leverage first for perpetuals, then TWAP or market.
func (u *ExecuteOrderUseCase) place(ctx context.Context, order *model.TradingOrder) (string, error) {
	if order.IsPerpetual() {
		res, err := u.client.SetLeverage(ctx, order.Asset, order.Leverage, true)
		if err := classify("set leverage", res, err); err != nil {
			return "", err
		}
	}

	var (
		res *connectors.PlacementResult
		err error
	)
	if order.IsTwap {
		duration := 0
		if order.TwapDurationMinutes != nil {
			duration = *order.TwapDurationMinutes
		}
		res, err = u.client.PlaceTwapOrder(ctx, connectors.TwapRequest{
			Asset:           order.Asset,
			Side:            order.Side,
			SizeUSD:         order.SizeUSD,
			IsSpot:          !order.IsPerpetual(),
			DurationMinutes: duration,
			Randomize:       order.TwapRandomize,
		})
	} else {
		res, err = u.client.PlaceOrder(ctx, connectors.OrderRequest{
			Asset:   order.Asset,
			Side:    order.Side,
			SizeUSD: order.SizeUSD,
			IsSpot:  !order.IsPerpetual(),
		})
	}
	if err := classify("place order", res, err); err != nil {
		return "", err
	}

	return res.ExternalID, nil
}

func classify(op string, res *connectors.PlacementResult, err error) error {
	if err != nil {
		return apperrors.Infrastructure(op, err)
	}
	if res == nil {
		return apperrors.Execution("%s: empty gateway response", op)
	}
	if !res.Success {
		reason := res.Error
		if reason == "" {
			reason = "rejected"
		}
		return apperrors.Execution("%s: %s", op, reason)
	}
	return nil
}

// persistSuccess reports false when the order had already left a status that
// allows EXECUTED, in which case only the child is updated.
func (u *ExecuteOrderUseCase) persistSuccess(ctx context.Context, exec Execution, outcome Outcome) (bool, error) {
	order := exec.Order()
	var recorded bool

	err := u.store.Transaction(ctx, func(tx *repository.Store) error {
		switch e := exec.(type) {
		case AdvanceTriggerExecution:
			if _, err := tx.Triggers.TransitionStatus(ctx, e.Trigger.ID, model.LiveAdvanceTriggerStatuses, map[string]interface{}{
				"status":          model.AdvanceTriggerStatusTriggered,
				"triggered_at":    outcome.ExecutedAt,
				"triggered_value": decimal.NewNullDecimal(e.TriggeredValue),
			}); err != nil {
				return fmt.Errorf("mark trigger %d triggered: %w", e.Trigger.ID, err)
			}
		case SchedulerExecution:
			// the processor finalises the scheduler status
			if err := tx.Schedulers.Update(ctx, e.Scheduler.ID, map[string]interface{}{
				"last_executed_at": outcome.ExecutedAt,
			}); err != nil {
				return fmt.Errorf("record scheduler %d execution: %w", e.Scheduler.ID, err)
			}
		default:
			return fmt.Errorf("unsupported execution %T", exec)
		}

		changed, err := tx.Orders.TransitionStatus(ctx, order.ID, model.TradingOrderStatusExecuted, map[string]interface{}{
			"external_tx_id": outcome.ExternalID,
			"executed_at":    outcome.ExecutedAt,
			"error_message":  nil,
		})
		if err != nil {
			return fmt.Errorf("mark order %d executed: %w", order.ID, err)
		}
		recorded = changed
		return nil
	})
	return recorded, err
}

func (u *ExecuteOrderUseCase) persistFailure(ctx context.Context, exec Execution, outcome Outcome) error {
	order := exec.Order()

	return u.store.Transaction(ctx, func(tx *repository.Store) error {
		switch e := exec.(type) {
		case AdvanceTriggerExecution:
			if _, err := tx.Triggers.TransitionStatus(ctx, e.Trigger.ID, model.LiveAdvanceTriggerStatuses, map[string]interface{}{
				"status":        model.AdvanceTriggerStatusFailed,
				"error_message": outcome.Reason,
			}); err != nil {
				return fmt.Errorf("mark trigger %d failed: %w", e.Trigger.ID, err)
			}
		case SchedulerExecution:
			if _, err := tx.Schedulers.TransitionStatus(ctx, e.Scheduler.ID, model.LiveSchedulerStatuses, map[string]interface{}{
				"status":            model.SchedulerStatusFailed,
				"error_message":     outcome.Reason,
				"next_execution_at": nil,
			}); err != nil {
				return fmt.Errorf("mark scheduler %d failed: %w", e.Scheduler.ID, err)
			}
		default:
			return fmt.Errorf("unsupported execution %T", exec)
		}

		// an order already executed by an earlier cron run stays EXECUTED
		if _, err := tx.Orders.TransitionStatus(ctx, order.ID, model.TradingOrderStatusFailed, map[string]interface{}{
			"error_message": outcome.Reason,
		}); err != nil {
			return fmt.Errorf("mark order %d failed: %w", order.ID, err)
		}
		return nil
	})
}

func (u *ExecuteOrderUseCase) recordLog(ctx context.Context, exec Execution, outcome Outcome, requestedAt time.Time) {
	order := exec.Order()
	entry := &model.ExecutionLog{
		TradingOrderID: order.ID,
		Source:         exec.Source(),
		SourceID:       exec.SourceID(),
		Asset:          order.Asset,
		Side:           order.Side,
		SizeUSD:        order.SizeUSD,
		IsTwap:         order.IsTwap,
		Status:         outcome.Status,
		RequestedAt:    requestedAt,
		CompletedAt:    outcome.ExecutedAt,
	}
	if outcome.ExternalID != "" {
		id := outcome.ExternalID
		entry.ExternalTxID = &id
	}
	if outcome.Reason != "" {
		reason := outcome.Reason
		entry.ErrorMessage = &reason
	}
	if e, ok := exec.(AdvanceTriggerExecution); ok {
		entry.ObservedValue = decimal.NewNullDecimal(e.TriggeredValue)
	}

	if err := u.store.ExecutionLogs.Create(context.WithoutCancel(ctx), entry); err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "ExecuteOrderUseCase",
			"order_id":  order.ID,
		}).WithError(err).Warn("Failed to write execution log")
	}
}

// notify refreshes the channel of the fired trigger. Errors never propagate.
func (u *ExecuteOrderUseCase) notify(ctx context.Context, exec Execution) {
	if u.notifier == nil {
		return
	}

	channel := notification.ChannelSchedulers
	if exec.Source() == model.ExecutionSourceAdvanceTrigger {
		channel = notification.ChannelAdvanceTriggers
	}

	if err := u.notifier.RefreshChannel(ctx, exec.Order().UserAddress, channel); err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "ExecuteOrderUseCase",
			"order_id":  exec.Order().ID,
			"channel":   channel,
		}).WithError(err).Warn("Notification refresh failed")
	}
}

// IsDomainFailure reports whether err came from an exchange rejection.
func IsDomainFailure(err error) bool {
	return errors.Is(err, apperrors.ErrDomainExecution)
}
