package executors

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"triggerexecutor/src/marketdata"
	"triggerexecutor/src/metrics"
	"triggerexecutor/src/model"
	"triggerexecutor/src/repository"
)

// extractor reads the observed value of one trigger type out of a market event.
type extractor[T any] func(event T, asset string) (decimal.Decimal, bool)

var priceMetrics = map[model.AdvanceTriggerType]extractor[marketdata.PriceTick]{
	model.AdvanceTriggerTypeAssetPrice: marketdata.PriceTick.Mid,
}

var snapshotMetrics = map[model.AdvanceTriggerType]extractor[marketdata.MarketSnapshot]{
	model.AdvanceTriggerTypeVolume: func(s marketdata.MarketSnapshot, asset string) (decimal.Decimal, bool) {
		c, ok := s.Context(asset)
		return c.Volume, ok
	},
	model.AdvanceTriggerTypeOpenInterest: func(s marketdata.MarketSnapshot, asset string) (decimal.Decimal, bool) {
		c, ok := s.Context(asset)
		return c.OpenInterest, ok
	},
	model.AdvanceTriggerTypeDayChangePercentage: func(s marketdata.MarketSnapshot, asset string) (decimal.Decimal, bool) {
		c, ok := s.Context(asset)
		if !ok {
			return decimal.Zero, false
		}
		return c.DayChangePercentage()
	},
}

// TriggerEvaluator matches PENDING advance triggers against market events and
// executes the ones whose condition holds.
type TriggerEvaluator struct {
	store       *repository.Store
	executor    OrderExecutor
	concurrency int

	mu       sync.Mutex
	inFlight map[uint]struct{}

	wg            sync.WaitGroup
	subscriptions []marketdata.Subscription
}

func NewTriggerEvaluator(store *repository.Store, executor OrderExecutor, concurrency int) *TriggerEvaluator {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &TriggerEvaluator{
		store:       store,
		executor:    executor,
		concurrency: concurrency,
		inFlight:    make(map[uint]struct{}),
	}
}

// Start subscribes to both market topics. Each topic is evaluated off the
// feed goroutine, one event at a time, with the newest event winning.
func (e *TriggerEvaluator) Start(ctx context.Context, bus *marketdata.Bus) {
	prices := newCoalescer("prices", &e.wg, func(tick marketdata.PriceTick) {
		e.OnPriceTick(ctx, tick)
	})
	snapshots := newCoalescer("snapshots", &e.wg, func(snapshot marketdata.MarketSnapshot) {
		e.OnMarketSnapshot(ctx, snapshot)
	})

	e.subscriptions = append(e.subscriptions,
		bus.Prices.Subscribe(prices.offer),
		bus.Snapshots.Subscribe(snapshots.offer),
	)
}

// Stop unsubscribes and waits for in-progress evaluations.
func (e *TriggerEvaluator) Stop() {
	for _, s := range e.subscriptions {
		s.Unsubscribe()
	}
	e.subscriptions = nil
	e.wg.Wait()
}

// OnPriceTick evaluates price triggers and returns once every match executed.
func (e *TriggerEvaluator) OnPriceTick(ctx context.Context, tick marketdata.PriceTick) {
	evaluateEvent(ctx, e, tick, priceMetrics)
}

// OnMarketSnapshot evaluates volume, open interest and day change triggers.
func (e *TriggerEvaluator) OnMarketSnapshot(ctx context.Context, snapshot marketdata.MarketSnapshot) {
	evaluateEvent(ctx, e, snapshot, snapshotMetrics)
}

func evaluateEvent[T any](ctx context.Context, e *TriggerEvaluator, event T, extractors map[model.AdvanceTriggerType]extractor[T]) {
	types := make([]model.AdvanceTriggerType, 0, len(extractors))
	for t := range extractors {
		types = append(types, t)
	}

	triggers, err := e.store.Triggers.FindByStatusAndTypes(ctx, model.AdvanceTriggerStatusPending, types)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "TriggerEvaluator",
			"types":     types,
		}).WithError(err).Error("Failed to load pending triggers")
		return
	}

	// errgroup.Group without a context: one failing trigger must not cancel the others
	var g errgroup.Group
	g.SetLimit(e.concurrency)

	for i := range triggers {
		trigger := &triggers[i]
		extract := extractors[trigger.TriggerType]
		if !e.acquire(trigger.ID) {
			metrics.TriggerEvaluations.WithLabelValues(string(trigger.TriggerType), "skipped").Inc()
			continue
		}

		g.Go(func() error {
			defer e.release(trigger.ID)
			e.evaluateOne(ctx, trigger, func(asset string) (decimal.Decimal, bool) {
				return extract(event, asset)
			})
			return nil
		})
	}

	_ = g.Wait()
}

func (e *TriggerEvaluator) evaluateOne(ctx context.Context, trigger *model.AdvanceTrigger, extract func(string) (decimal.Decimal, bool)) {
	record := func(result string) {
		metrics.TriggerEvaluations.WithLabelValues(string(trigger.TriggerType), result).Inc()
	}
	fields := map[string]interface{}{
		"component":  "TriggerEvaluator",
		"trigger_id": trigger.ID,
		"order_id":   trigger.TradingOrderID,
		"type":       trigger.TriggerType,
		"asset":      trigger.TriggerAsset,
	}

	value, ok := extract(trigger.TriggerAsset)
	if !ok {
		record("no_value")
		return
	}
	if !trigger.Matches(value) {
		record("not_matched")
		return
	}

	order, err := e.store.Orders.FindByID(ctx, trigger.TradingOrderID)
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("Failed to load trading order")
		record("skipped")
		return
	}
	if order == nil || order.Status != model.TradingOrderStatusPending {
		record("skipped")
		return
	}

	claimed, err := e.store.Triggers.ClaimPending(ctx, trigger.ID)
	if err != nil || !claimed {
		record("skipped")
		return
	}
	trigger.Status = model.AdvanceTriggerStatusActive

	record("matched")
	logger.WithFields(fields).WithField("observed", value.String()).Info("Advance trigger matched")

	if _, err := e.executor.Execute(ctx, NewAdvanceTriggerExecution(trigger, order, value)); err != nil {
		logger.WithFields(fields).WithError(err).Warn("Advance trigger execution failed")
	}
}

func (e *TriggerEvaluator) acquire(id uint) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[id]; busy {
		return false
	}
	e.inFlight[id] = struct{}{}
	return true
}

func (e *TriggerEvaluator) release(id uint) {
	e.mu.Lock()
	delete(e.inFlight, id)
	e.mu.Unlock()
}
