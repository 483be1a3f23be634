package executors

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"triggerexecutor/src/connectors"
	"triggerexecutor/src/marketdata"
	"triggerexecutor/src/repository"
	"triggerexecutor/src/scheduling"
)

// NewQueue builds the scheduling queue selected by QUEUE_BACKEND.
func NewQueue(config Config) (scheduling.Queue, error) {
	switch config.QueueBackend {
	case "", QueueBackendMemory:
		return scheduling.NewMemoryQueue(config.QueuePollInterval), nil
	case QueueBackendRedis:
		opts, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return scheduling.NewRedisQueue(redis.NewClient(opts), config.RedisQueuePrefix, config.QueuePollInterval), nil
	default:
		return nil, fmt.Errorf("unsupported queue backend %q", config.QueueBackend)
	}
}

// Engine runs the trigger machinery: the scheduling queue consumers, the
// market data feeds with the trigger evaluator, and the reconciler.
type Engine struct {
	Store      *repository.Store
	Queue      scheduling.Queue
	Bus        *marketdata.Bus
	Executor   *ExecuteOrderUseCase
	Schedulers *SchedulerManager
	Evaluator  *TriggerEvaluator
	Reconciler *Reconciler
	Feeds      []connectors.Feed
}

func NewEngine(
	config Config,
	store *repository.Store,
	queue scheduling.Queue,
	bus *marketdata.Bus,
	client ExecutionClient,
	notifier Notifier,
	feeds []connectors.Feed,
) *Engine {
	executor := NewExecuteOrderUseCase(store, client, notifier)
	return &Engine{
		Store:      store,
		Queue:      queue,
		Bus:        bus,
		Executor:   executor,
		Schedulers: NewSchedulerManager(store, queue, executor),
		Evaluator:  NewTriggerEvaluator(store, executor, config.EvaluatorConcurrency),
		Reconciler: NewReconciler(store, notifier, config),
		Feeds:      feeds,
	}
}

// Run restores the live schedulers and blocks until ctx is done or a
// component fails.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Schedulers.Restore(ctx); err != nil {
		return err
	}

	e.Evaluator.Start(ctx, e.Bus)
	defer e.Evaluator.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.Queue.Run(gctx)
	})
	g.Go(func() error {
		return e.Reconciler.Run(gctx)
	})
	for _, feed := range e.Feeds {
		feed := feed
		g.Go(func() error {
			logger.WithField("feed", feed.Name()).Info("Starting market data feed")
			if err := feed.Run(gctx); err != nil {
				return fmt.Errorf("feed %s: %w", feed.Name(), err)
			}
			return nil
		})
	}

	logger.WithField("feeds", len(e.Feeds)).Info("engine started")
	err := g.Wait()
	logger.Println("engine stopped")
	return err
}
