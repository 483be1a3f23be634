package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	QueueBackendMemory = "memory"
	QueueBackendRedis  = "redis"
)

type Config struct {
	EvaluatorConcurrency int `envconfig:"EVALUATOR_CONCURRENCY" default:"16"`

	QueueBackend      string        `envconfig:"QUEUE_BACKEND" default:"memory"` // "memory" or "redis"
	QueuePollInterval time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"1s"`
	RedisURL          string        `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	RedisQueuePrefix  string        `envconfig:"REDIS_QUEUE_PREFIX" default:"trigger-executor"`

	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"1m"`
	OrphanGrace       time.Duration `envconfig:"ORPHAN_GRACE" default:"5m"`
	ClaimTimeout      time.Duration `envconfig:"CLAIM_TIMEOUT" default:"10m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
