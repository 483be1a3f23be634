package executor

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"triggerexecutor/src/connectors"
	"triggerexecutor/src/controller"
	"triggerexecutor/src/database"
	"triggerexecutor/src/executors"
	"triggerexecutor/src/marketdata"
	"triggerexecutor/src/notification"
	"triggerexecutor/src/repository"
	"triggerexecutor/src/server"
)

// Executor wires the engine, the notification gateway and the HTTP server.
// Lifecycle is an embedding hook: Start sets it once the engine is built so a
// host process can create and cancel orders in-process. The executor binary
// itself exposes no create/cancel surface and never reads it.
type Executor struct {
	Lifecycle *controller.Lifecycle
}

func (t *Executor) Start() error {
	config := GetConfig()
	engineConfig := executors.GetConfig()
	connectorConfig := connectors.GetConfig()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to main database")
		return err
	}

	store := repository.NewMainStore()

	queue, err := executors.NewQueue(engineConfig)
	if err != nil {
		logrus.WithError(err).Error("Failed to build scheduling queue")
		return err
	}

	bus := marketdata.NewBus()
	var feeds []connectors.Feed
	if config.FeedsEnabled {
		feeds, err = connectors.NewFeeds(connectorConfig, bus)
		if err != nil {
			logrus.WithError(err).Error("Failed to build market data feeds")
			return err
		}
	}

	// snapshots are pushed right after a commit, so they read the primary
	hub := notification.NewHub(notification.GetConfig(), notification.NewStoreSnapshots(store))
	defer hub.Close()

	engine := executors.NewEngine(
		engineConfig,
		store,
		queue,
		bus,
		connectors.NewExecutionGateway(connectorConfig),
		hub,
		feeds,
	)
	t.Lifecycle = controller.NewLifecycle(controller.GetConfig(), store, engine.Schedulers, hub)

	logrus.WithFields(map[string]interface{}{
		"queue_backend": engineConfig.QueueBackend,
		"feed_source":   connectorConfig.FeedSource,
		"feeds":         len(feeds),
	}).Info("Starting trigger executor")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(gctx)
	})
	g.Go(func() error {
		return server.NewServer(server.GetConfig(), hub).Run(gctx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Error("Executor stopped with error")
		return err
	}

	logrus.Info("Executor stopped")
	return nil
}
