package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triggerexecutor/src/apperrors"
	"triggerexecutor/src/connectors"
	"triggerexecutor/src/database"
	"triggerexecutor/src/executors"
	"triggerexecutor/src/model"
	"triggerexecutor/src/notification"
	"triggerexecutor/src/repository"
	"triggerexecutor/src/scheduling"
)

type fakeRegistry struct {
	mu           sync.Mutex
	err          error
	registered   []uint
	unregistered []uint
}

func (r *fakeRegistry) Register(_ context.Context, s *model.Scheduler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.registered = append(r.registered, s.ID)
	return nil
}

func (r *fakeRegistry) Unregister(_ context.Context, s *model.Scheduler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregistered = append(r.unregistered, s.ID)
	return true
}

type fakeNotifier struct {
	mu       sync.Mutex
	channels []notification.Channel
}

func (n *fakeNotifier) RefreshChannel(_ context.Context, _ string, channel notification.Channel) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = append(n.channels, channel)
	return nil
}

func (n *fakeNotifier) RefreshAll(ctx context.Context, address string) error {
	return n.RefreshChannel(ctx, address, notification.ChannelAll)
}

type nopClient struct{}

func (nopClient) SetLeverage(context.Context, string, int, bool) (*connectors.PlacementResult, error) {
	return &connectors.PlacementResult{Success: true}, nil
}

func (nopClient) PlaceOrder(context.Context, connectors.OrderRequest) (*connectors.PlacementResult, error) {
	return &connectors.PlacementResult{Success: true, ExternalID: "ext"}, nil
}

func (nopClient) PlaceTwapOrder(context.Context, connectors.TwapRequest) (*connectors.PlacementResult, error) {
	return &connectors.PlacementResult{Success: true, ExternalID: "ext"}, nil
}

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *repository.Store {
	t.Helper()
	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return repository.NewStore(db)
}

func newLifecycle(t *testing.T, registry SchedulerRegistry) (*Lifecycle, *repository.Store, *fakeNotifier) {
	t.Helper()
	store := newTestStore(t)
	notifier := &fakeNotifier{}
	lc := NewLifecycle(Config{MaxLeverage: 50, MaxTwapMinutes: 1440, MaxAssetLength: 50, MaxCronLength: 120}, store, registry, notifier)
	lc.now = func() time.Time { return testNow }
	return lc, store, notifier
}

func orderRequest() OrderRequest {
	return OrderRequest{
		ExecutionType: model.ExecutionTypePerpetual,
		Side:          model.OrderSideBuy,
		Asset:         "eth",
		SizeUSD:       decimal.NewFromInt(100),
		Leverage:      3,
	}
}

func scheduledRequest(at time.Time) CreateRequest {
	return CreateRequest{
		UserAddress: "0xABC",
		Order:       orderRequest(),
		Trigger: TriggerRequest{
			Type:      TriggerKindScheduler,
			Scheduler: &SchedulerRequest{TriggerType: model.SchedulerTypeScheduled, ScheduledAt: &at},
		},
	}
}

func cronRequest(expr string) CreateRequest {
	return CreateRequest{
		UserAddress: "0xabc",
		Order:       orderRequest(),
		Trigger: TriggerRequest{
			Type:      TriggerKindScheduler,
			Scheduler: &SchedulerRequest{TriggerType: model.SchedulerTypeCron, CronExpression: &expr, Timezone: "America/New_York"},
		},
	}
}

func advanceRequest() CreateRequest {
	return CreateRequest{
		UserAddress: "0xabc",
		Order:       orderRequest(),
		Trigger: TriggerRequest{
			Type: TriggerKindAdvanceTrigger,
			AdvanceTrigger: &AdvanceTriggerRequest{
				TriggerType: model.AdvanceTriggerTypeAssetPrice,
				Asset:       "eth",
				Value:       decimal.NewFromInt(3000),
				Direction:   model.TriggerDirectionMoreThan,
			},
		},
	}
}

func TestLifecycleCreateRejectsPastSchedule(t *testing.T) {
	registry := &fakeRegistry{}
	lc, store, notifier := newLifecycle(t, registry)

	_, err := lc.Create(context.Background(), scheduledRequest(testNow.Add(-time.Minute)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	var verr *apperrors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "trigger.scheduler.scheduled_at", verr.Field)

	orders, err := store.Orders.FindByUserAddress(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Empty(t, orders, "a rejected request creates nothing")
	assert.Empty(t, registry.registered)
	assert.Empty(t, notifier.channels)
}

func TestLifecycleCreateValidation(t *testing.T) {
	at := testNow.Add(time.Hour)
	cron := "*/5 * * * *"
	badCron := "every minute"
	feb30 := "0 0 30 2 *"

	cases := []struct {
		name  string
		field string
		edit  func(*CreateRequest)
	}{
		{"missing address", "user_address", func(r *CreateRequest) { r.UserAddress = " " }},
		{"empty asset", "order.asset", func(r *CreateRequest) { r.Order.Asset = "" }},
		{"zero size", "order.size_usd", func(r *CreateRequest) { r.Order.SizeUSD = decimal.Zero }},
		{"negative size", "order.size_usd", func(r *CreateRequest) { r.Order.SizeUSD = decimal.NewFromInt(-1) }},
		{"zero leverage", "order.leverage", func(r *CreateRequest) { r.Order.Leverage = 0 }},
		{"leverage too high", "order.leverage", func(r *CreateRequest) { r.Order.Leverage = 51 }},
		{"bad side", "order.side", func(r *CreateRequest) { r.Order.Side = "HOLD" }},
		{"bad execution type", "order.execution_type", func(r *CreateRequest) { r.Order.ExecutionType = "MARGIN" }},
		{"twap without duration", "order.twap_duration_minutes", func(r *CreateRequest) { r.Order.IsTwap = true }},
		{"unknown trigger kind", "trigger.type", func(r *CreateRequest) { r.Trigger.Type = "WEBHOOK" }},
		{"scheduled with cron", "trigger.scheduler.cron_expression", func(r *CreateRequest) { r.Trigger.Scheduler.CronExpression = &cron }},
		{"scheduled without time", "trigger.scheduler.scheduled_at", func(r *CreateRequest) { r.Trigger.Scheduler.ScheduledAt = nil }},
		{"cron with time", "trigger.scheduler.scheduled_at", func(r *CreateRequest) {
			r.Trigger.Scheduler.TriggerType = model.SchedulerTypeCron
			r.Trigger.Scheduler.CronExpression = &cron
		}},
		{"cron without expression", "trigger.scheduler.cron_expression", func(r *CreateRequest) {
			r.Trigger.Scheduler.TriggerType = model.SchedulerTypeCron
			r.Trigger.Scheduler.ScheduledAt = nil
		}},
		{"unparseable cron", "trigger.scheduler.cron_expression", func(r *CreateRequest) {
			r.Trigger.Scheduler.TriggerType = model.SchedulerTypeCron
			r.Trigger.Scheduler.ScheduledAt = nil
			r.Trigger.Scheduler.CronExpression = &badCron
		}},
		{"cron that never fires", "trigger.scheduler.cron_expression", func(r *CreateRequest) {
			r.Trigger.Scheduler.TriggerType = model.SchedulerTypeCron
			r.Trigger.Scheduler.ScheduledAt = nil
			r.Trigger.Scheduler.CronExpression = &feb30
		}},
		{"unknown timezone", "trigger.scheduler.cron_expression", func(r *CreateRequest) {
			r.Trigger.Scheduler.TriggerType = model.SchedulerTypeCron
			r.Trigger.Scheduler.ScheduledAt = nil
			r.Trigger.Scheduler.CronExpression = &cron
			r.Trigger.Scheduler.Timezone = "Mars/Olympus"
		}},
		{"both payloads", "trigger.advance_trigger", func(r *CreateRequest) {
			r.Trigger.AdvanceTrigger = advanceRequest().Trigger.AdvanceTrigger
		}},
		{"missing payload", "trigger.scheduler", func(r *CreateRequest) { r.Trigger.Scheduler = nil }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lc, store, _ := newLifecycle(t, &fakeRegistry{})
			req := scheduledRequest(at)
			tc.edit(&req)

			_, err := lc.Create(context.Background(), req)
			var verr *apperrors.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected a validation error, got %v", err)
			}
			assert.Equal(t, tc.field, verr.Field)

			orders, err := store.Orders.FindByStatus(context.Background(), model.TradingOrderStatusPending)
			require.NoError(t, err)
			assert.Empty(t, orders)
		})
	}
}

func TestLifecycleCreateRejectsCronWithoutFutureFire(t *testing.T) {
	registry := &fakeRegistry{}
	lc, store, _ := newLifecycle(t, registry)

	_, err := lc.Create(context.Background(), cronRequest("0 0 30 2 *"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	assert.Contains(t, err.Error(), "never fires")

	orders, err := store.Orders.FindByUserAddress(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, registry.registered)
}

func TestLifecycleAdvanceTriggerValidation(t *testing.T) {
	cases := map[string]func(*AdvanceTriggerRequest){
		"trigger.advance_trigger.value":        func(a *AdvanceTriggerRequest) { a.Value = decimal.Zero },
		"trigger.advance_trigger.direction":    func(a *AdvanceTriggerRequest) { a.Direction = "EQUAL" },
		"trigger.advance_trigger.asset":        func(a *AdvanceTriggerRequest) { a.Asset = "" },
		"trigger.advance_trigger.trigger_type": func(a *AdvanceTriggerRequest) { a.TriggerType = "FUNDING_RATE" },
	}

	for field, edit := range cases {
		t.Run(field, func(t *testing.T) {
			lc, _, _ := newLifecycle(t, &fakeRegistry{})
			req := advanceRequest()
			edit(req.Trigger.AdvanceTrigger)

			_, err := lc.Create(context.Background(), req)
			var verr *apperrors.ValidationError
			require.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
			assert.Equal(t, field, verr.Field)
		})
	}
}

func TestLifecycleCreateScheduledRegistersWithQueue(t *testing.T) {
	store := newTestStore(t)
	queue := scheduling.NewMemoryQueue(time.Second)
	manager := executors.NewSchedulerManager(store, queue, executors.NewExecuteOrderUseCase(store, nopClient{}, nil))
	notifier := &fakeNotifier{}
	lc := NewLifecycle(GetConfig(), store, manager, notifier)

	at := time.Now().Add(time.Hour)
	result, err := lc.Create(context.Background(), scheduledRequest(at))
	require.NoError(t, err)

	assert.Equal(t, "0xabc", result.Order.UserAddress)
	assert.Equal(t, "ETH", result.Order.Asset)
	assert.Equal(t, model.TradingOrderStatusPending, result.Order.Status)
	require.NotNil(t, result.Scheduler)
	assert.Nil(t, result.AdvanceTrigger)
	assert.Equal(t, model.SchedulerStatusActive, result.Scheduler.Status)

	job, ok := queue.Scheduled(result.Scheduler.ID)
	require.True(t, ok)
	assert.Equal(t, scheduling.JobKindOneTime, job.Kind)

	stored, err := store.Schedulers.FindByID(context.Background(), result.Scheduler.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SchedulerStatusActive, stored.Status)
	assert.NotNil(t, stored.NextExecutionAt)

	assert.Equal(t, []notification.Channel{notification.ChannelSchedulers}, notifier.channels)
}

func TestLifecycleCreateAdvanceTrigger(t *testing.T) {
	registry := &fakeRegistry{}
	lc, store, notifier := newLifecycle(t, registry)

	result, err := lc.Create(context.Background(), advanceRequest())
	require.NoError(t, err)
	require.NotNil(t, result.AdvanceTrigger)
	assert.Nil(t, result.Scheduler)
	assert.Equal(t, "ETH", result.AdvanceTrigger.TriggerAsset)
	assert.Equal(t, model.AdvanceTriggerStatusPending, result.AdvanceTrigger.Status)
	assert.Empty(t, registry.registered)

	triggers, err := store.Triggers.FindByTradingOrderID(context.Background(), result.Order.ID)
	require.NoError(t, err)
	assert.Len(t, triggers, 1)

	assert.Equal(t, []notification.Channel{notification.ChannelAdvanceTriggers}, notifier.channels)
}

func TestLifecycleCreateFailsOrderWhenRegistrationFails(t *testing.T) {
	registry := &fakeRegistry{err: apperrors.Infrastructure("queue scheduler job", errors.New("redis down"))}
	lc, store, _ := newLifecycle(t, registry)
	ctx := context.Background()

	_, err := lc.Create(ctx, cronRequest("*/5 * * * *"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInfrastructure))

	orders, err := store.Orders.FindByUserAddress(ctx, "0xabc")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, model.TradingOrderStatusFailed, orders[0].Status)

	schedulers, err := store.Schedulers.FindByTradingOrderID(ctx, orders[0].ID)
	require.NoError(t, err)
	require.Len(t, schedulers, 1)
	assert.Equal(t, model.SchedulerStatusFailed, schedulers[0].Status)
	require.NotNil(t, schedulers[0].ErrorMessage)
	assert.Contains(t, *schedulers[0].ErrorMessage, "redis down")
}

func TestLifecycleSchedulersHaveExactlyOneTiming(t *testing.T) {
	lc, store, _ := newLifecycle(t, &fakeRegistry{})
	ctx := context.Background()

	_, err := lc.Create(ctx, scheduledRequest(testNow.Add(time.Hour)))
	require.NoError(t, err)
	_, err = lc.Create(ctx, cronRequest("0 9 * * 1-5"))
	require.NoError(t, err)

	schedulers, err := store.Schedulers.FindByUserAddress(ctx, "0xabc")
	require.NoError(t, err)
	require.Len(t, schedulers, 2)
	for _, s := range schedulers {
		hasAt := s.ScheduledAt != nil
		hasCron := s.CronExpression != nil && *s.CronExpression != ""
		assert.True(t, hasAt != hasCron, "scheduler %d must have exactly one of scheduled_at and cron_expression", s.ID)
		assert.True(t, s.HasExclusiveTiming())
	}
}

func TestLifecycleCancel(t *testing.T) {
	registry := &fakeRegistry{}
	lc, store, notifier := newLifecycle(t, registry)
	ctx := context.Background()

	created, err := lc.Create(ctx, advanceRequest())
	require.NoError(t, err)

	result, err := lc.Cancel(ctx, "0xABC", created.Order.ID)
	require.NoError(t, err)
	assert.True(t, result.OrderCanceled)
	assert.False(t, result.Partial)
	require.Len(t, result.Children, 1)
	assert.True(t, result.Children[0].Canceled)
	assert.Contains(t, result.Message, "canceled")

	trigger, err := store.Triggers.FindByID(ctx, created.AdvanceTrigger.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AdvanceTriggerStatusCanceled, trigger.Status)

	order, err := store.Orders.FindByID(ctx, created.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TradingOrderStatusCanceled, order.Status)

	assert.Contains(t, notifier.channels, notification.ChannelAll)
}

func TestLifecycleCancelIsPartialWhenAChildCannotBeCanceled(t *testing.T) {
	registry := &fakeRegistry{}
	lc, store, _ := newLifecycle(t, registry)
	ctx := context.Background()

	created, err := lc.Create(ctx, advanceRequest())
	require.NoError(t, err)

	at := testNow.Add(-time.Hour)
	done := &model.Scheduler{
		TradingOrderID: created.Order.ID,
		UserAddress:    "0xabc",
		TriggerType:    model.SchedulerTypeScheduled,
		ScheduledAt:    &at,
		Status:         model.SchedulerStatusCompleted,
	}
	require.NoError(t, store.Schedulers.Create(ctx, done))

	result, err := lc.Cancel(ctx, "0xabc", created.Order.ID)
	require.NoError(t, err)
	assert.True(t, result.OrderCanceled, "the parent is canceled despite the failing child")
	assert.True(t, result.Partial)
	require.Len(t, result.Children, 2)

	byKind := map[TriggerKind]ChildCancellation{}
	for _, c := range result.Children {
		byKind[c.Kind] = c
	}
	assert.False(t, byKind[TriggerKindScheduler].Canceled)
	assert.Contains(t, byKind[TriggerKindScheduler].Error, "invalid state")
	assert.True(t, byKind[TriggerKindAdvanceTrigger].Canceled)
	assert.Contains(t, result.Message, "could not cancel scheduler")

	order, err := store.Orders.FindByID(ctx, created.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TradingOrderStatusCanceled, order.Status)
}

func TestLifecycleCancelNotFoundIsUniform(t *testing.T) {
	lc, _, _ := newLifecycle(t, &fakeRegistry{})
	ctx := context.Background()

	created, err := lc.Create(ctx, advanceRequest())
	require.NoError(t, err)

	_, foreign := lc.Cancel(ctx, "0xother", created.Order.ID)
	_, missing := lc.Cancel(ctx, "0xabc", created.Order.ID+100)

	require.Error(t, foreign)
	require.Error(t, missing)
	assert.True(t, errors.Is(foreign, apperrors.ErrNotFound))
	assert.Equal(t, missing.Error(), foreign.Error())
	assert.True(t, IsClientError(foreign))
}

func TestLifecycleCancelExecutedRecurringOrder(t *testing.T) {
	registry := &fakeRegistry{}
	lc, store, _ := newLifecycle(t, registry)
	ctx := context.Background()

	created, err := lc.Create(ctx, cronRequest("*/5 * * * *"))
	require.NoError(t, err)
	_, err = store.Orders.TransitionStatus(ctx, created.Order.ID, model.TradingOrderStatusExecuted, map[string]interface{}{
		"external_tx_id": "ext-1",
	})
	require.NoError(t, err)

	result, err := lc.Cancel(ctx, "0xabc", created.Order.ID)
	require.NoError(t, err)
	assert.False(t, result.OrderCanceled)
	assert.Equal(t, model.TradingOrderStatusExecuted, result.OrderStatus)
	assert.True(t, result.Partial)
	require.Len(t, result.Children, 1)
	assert.True(t, result.Children[0].Canceled, "the recurrence still stops")
	assert.Equal(t, []uint{created.Scheduler.ID}, registry.unregistered)
	assert.Contains(t, result.Message, "not canceled: status is EXECUTED")
}
