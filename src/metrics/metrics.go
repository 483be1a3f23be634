package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trigger_executor"

var (
	// TriggerEvaluations counts evaluated advance triggers by type and result
	// (matched, not_matched, no_value, skipped).
	TriggerEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trigger_evaluations_total",
		Help:      "Advance trigger evaluations by trigger type and result.",
	}, []string{"trigger_type", "result"})

	// Executions counts ExecuteOrder outcomes by source and status.
	Executions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executions_total",
		Help:      "Order executions by source and final status.",
	}, []string{"source", "status"})

	ExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "execution_duration_seconds",
		Help:      "Time spent talking to the execution gateway.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source"})

	QueueJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_jobs_total",
		Help:      "Scheduling queue jobs processed by kind and result.",
	}, []string{"kind", "result"})

	NotificationPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_pushes_total",
		Help:      "Snapshots pushed to websocket subscribers by channel.",
	}, []string{"channel"})

	WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_connections",
		Help:      "Open notification websocket connections.",
	})

	FeedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_events_total",
		Help:      "Market data events published by source and topic.",
	}, []string{"source", "topic"})

	// EventsCoalesced counts market events replaced by a newer one before the
	// evaluator got to them.
	EventsCoalesced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evaluator_events_coalesced_total",
		Help:      "Market events superseded while an evaluation of the same topic was running.",
	}, []string{"topic"})

	OrphansFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orphaned_orders_failed_total",
		Help:      "Orphaned orders, stale claims and overdue schedulers settled by the reconciler.",
	})
)
