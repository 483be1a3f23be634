package marketdata

import (
	"sync"

	logger "github.com/sirupsen/logrus"
)

// Subscription detaches a handler from its topic. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Topic fans one event type out to every subscribed handler. Handlers run on the
// publisher's goroutine and must return quickly.
type Topic[T any] struct {
	name     string
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]func(T)
}

func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{name: name, handlers: make(map[uint64]func(T))}
}

func (t *Topic[T]) Subscribe(handler func(T)) Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	t.handlers[id] = handler

	logger.WithFields(map[string]interface{}{
		"component": "marketdata",
		"topic":     t.name,
		"sub_id":    id,
	}).Debug("Handler subscribed")

	return &subscription{unsubscribe: func() {
		t.mu.Lock()
		delete(t.handlers, id)
		t.mu.Unlock()
	}}
}

// Publish delivers event to every handler. A panicking handler is logged and
// does not stop delivery to the others.
func (t *Topic[T]) Publish(event T) {
	t.mu.RLock()
	handlers := make([]func(T), 0, len(t.handlers))
	for _, h := range t.handlers {
		handlers = append(handlers, h)
	}
	t.mu.RUnlock()

	for _, h := range handlers {
		t.deliver(h, event)
	}
}

func (t *Topic[T]) deliver(h func(T), event T) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]interface{}{
				"component": "marketdata",
				"topic":     t.name,
				"panic":     r,
			}).Error("Market data handler panicked")
		}
	}()
	h(event)
}

// Subscribers returns the number of attached handlers.
func (t *Topic[T]) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handlers)
}

type subscription struct {
	once        sync.Once
	unsubscribe func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.unsubscribe)
}

// Bus groups the typed topics published by the feed sources.
type Bus struct {
	Prices    *Topic[PriceTick]
	Snapshots *Topic[MarketSnapshot]
}

func NewBus() *Bus {
	return &Bus{
		Prices:    NewTopic[PriceTick]("prices"),
		Snapshots: NewTopic[MarketSnapshot]("snapshots"),
	}
}
