package scheduling

import (
	"context"
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"triggerexecutor/src/metrics"
)

const laneBuffer = 64

type dueFunc func(ctx context.Context, now time.Time) ([]Job, error)

// dispatcher owns the processors and the per-category consumers shared by
// every queue backend.
type dispatcher struct {
	backend      string
	pollInterval time.Duration

	mu         sync.RWMutex
	processors map[JobKind]Processor
}

func newDispatcher(backend string, pollInterval time.Duration) dispatcher {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return dispatcher{
		backend:      backend,
		pollInterval: pollInterval,
		processors:   make(map[JobKind]Processor),
	}
}

func (d *dispatcher) RegisterProcessor(kind JobKind, processor Processor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.processors[kind] = processor
}

// process runs the processor registered for the job kind. Failures are
// logged and counted, never retried.
func (d *dispatcher) process(ctx context.Context, job Job) (err error) {
	d.mu.RLock()
	processor := d.processors[job.Kind]
	d.mu.RUnlock()

	fields := map[string]interface{}{
		"component":    "scheduling",
		"backend":      d.backend,
		"job_key":      job.Key,
		"kind":         job.Kind,
		"scheduler_id": job.SchedulerID,
	}

	if processor == nil {
		logger.WithFields(fields).Warn("No processor registered for job kind, dropping job")
		metrics.QueueJobs.WithLabelValues(string(job.Kind), "dropped").Inc()
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panicked: %v", r)
		}
		if err != nil {
			logger.WithFields(fields).WithError(err).Error("Job processor failed")
			metrics.QueueJobs.WithLabelValues(string(job.Kind), "failed").Inc()
			return
		}
		metrics.QueueJobs.WithLabelValues(string(job.Kind), "processed").Inc()
	}()

	logger.WithFields(fields).Debug("Processing job")
	return processor(ctx, job)
}

// fireDue collects due jobs and processes them on the caller's goroutine.
// Jobs claimed before a poll error are still processed.
func (d *dispatcher) fireDue(ctx context.Context, due dueFunc, now time.Time) (int, error) {
	jobs, err := due(ctx, now)
	for _, job := range jobs {
		_ = d.process(ctx, job)
	}
	return len(jobs), err
}

// run polls due every pollInterval and hands jobs to one consumer goroutine per
// kind. Jobs already handed over are processed to completion on shutdown.
func (d *dispatcher) run(ctx context.Context, due dueFunc) error {
	g, ctx := errgroup.WithContext(ctx)

	lanes := make(map[JobKind]chan Job, len(jobKinds))
	for _, kind := range jobKinds {
		lane := make(chan Job, laneBuffer)
		lanes[kind] = lane

		g.Go(func() error {
			for job := range lane {
				_ = d.process(context.WithoutCancel(ctx), job)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, lane := range lanes {
				close(lane)
			}
		}()

		ticker := time.NewTicker(d.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				jobs, err := due(ctx, now)
				if err != nil && ctx.Err() == nil {
					logger.WithFields(map[string]interface{}{
						"component": "scheduling",
						"backend":   d.backend,
						"claimed":   len(jobs),
					}).WithError(err).Error("Failed to poll due jobs")
				}
				// claimed jobs are no longer due anywhere else, so they are
				// handed over even during shutdown; consumers drain until close
				for _, job := range jobs {
					if lane, ok := lanes[job.Kind]; ok {
						lane <- job
					}
				}
			}
		}
	})

	logger.WithFields(map[string]interface{}{
		"component":     "scheduling",
		"backend":       d.backend,
		"poll_interval": d.pollInterval.String(),
	}).Info("Scheduling queue running")

	return g.Wait()
}
