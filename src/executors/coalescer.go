package executors

import (
	"sync"

	"triggerexecutor/src/metrics"
)

// coalescer evaluates the events of one topic on at most one goroutine.
// Events arriving while an evaluation runs replace each other, so only the
// newest is evaluated next. Feeds publish full-market events, so a newer
// event supersedes an older one.
type coalescer[T any] struct {
	topic string
	wg    *sync.WaitGroup
	run   func(T)

	mu      sync.Mutex
	pending *T
	running bool
}

func newCoalescer[T any](topic string, wg *sync.WaitGroup, run func(T)) *coalescer[T] {
	return &coalescer[T]{topic: topic, wg: wg, run: run}
}

// offer never blocks the publisher.
func (c *coalescer[T]) offer(event T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != nil {
		metrics.EventsCoalesced.WithLabelValues(c.topic).Inc()
	}
	c.pending = &event
	if c.running {
		return
	}
	c.running = true
	c.wg.Add(1)
	go c.drain()
}

func (c *coalescer[T]) drain() {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		if c.pending == nil {
			c.running = false
			c.mu.Unlock()
			return
		}
		event := *c.pending
		c.pending = nil
		c.mu.Unlock()

		c.run(event)
	}
}
