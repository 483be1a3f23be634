package executors

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triggerexecutor/src/marketdata"
	"triggerexecutor/src/metrics"
	"triggerexecutor/src/model"
)

func TestCoalescerKeepsOnlyNewestEventWhileBusy(t *testing.T) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		seen    []int
		started = make(chan struct{})
		release = make(chan struct{})
	)

	c := newCoalescer("test", &wg, func(event int) {
		mu.Lock()
		seen = append(seen, event)
		mu.Unlock()
		if event == 0 {
			close(started)
			<-release
		}
	})

	before := testutil.ToFloat64(metrics.EventsCoalesced.WithLabelValues("test"))

	c.offer(0)
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatalf("first event was not evaluated")
	}

	// a burst while the first evaluation is still running
	for i := 1; i <= 5; i++ {
		c.offer(i)
	}
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 5}, seen)
	assert.Equal(t, before+4, testutil.ToFloat64(metrics.EventsCoalesced.WithLabelValues("test")))
}

func TestCoalescerRestartsAfterDraining(t *testing.T) {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		count int
	)
	c := newCoalescer("test", &wg, func(int) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	c.offer(1)
	wg.Wait()
	c.offer(2)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, count)
}

func TestTriggerEvaluatorCoalescesTickBurst(t *testing.T) {
	store := newTestStore(t)
	client := &fakeClient{delay: 20 * time.Millisecond}
	evaluator := NewTriggerEvaluator(store, NewExecuteOrderUseCase(store, client, nil), 4)
	bus := marketdata.NewBus()

	order := seedOrder(t, store)
	trigger := seedTrigger(t, store, order)

	before := testutil.ToFloat64(metrics.EventsCoalesced.WithLabelValues("prices"))

	evaluator.Start(context.Background(), bus)
	for i := 0; i < 500; i++ {
		bus.Prices.Publish(priceTick("ETH", 3500))
	}
	evaluator.Stop()

	assert.Equal(t, 1, client.calls())
	assert.Equal(t, model.AdvanceTriggerStatusTriggered, reloadTrigger(t, store, trigger.ID).Status)
	assert.Greater(t, testutil.ToFloat64(metrics.EventsCoalesced.WithLabelValues("prices")), before,
		"ticks published during an evaluation are coalesced")
}
