// Package realtime fans store change events out to subscribers.
package realtime

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dhamidi/skillswap/store"
)

// DefaultQueueSize is the number of undelivered events buffered per subscriber.
const DefaultQueueSize = 64

// Broker is an in-process store.Feed. Each subscriber is served by its own
// goroutine so a slow handler never blocks a writer. Events for one
// subscriber are delivered in publish order.
type Broker struct {
	logger    *slog.Logger
	queueSize int

	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithLogger sets the logger used for dropped events.
func WithLogger(logger *slog.Logger) BrokerOption {
	return func(b *Broker) { b.logger = logger }
}

// WithQueueSize sets the per-subscriber buffer size.
func WithQueueSize(n int) BrokerOption {
	return func(b *Broker) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// NewBroker creates an empty Broker.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		logger:    slog.Default(),
		queueSize: DefaultQueueSize,
		subs:      make(map[uint64]*subscriber),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type subscriber struct {
	id      uint64
	table   string
	filters []store.Filter
	handler store.Handler
	queue   chan store.ChangeEvent
	done    chan struct{}
	stopped atomic.Bool
	once    sync.Once
	broker  *Broker
}

// Subscribe registers handler for events on table whose row matches filters.
func (b *Broker) Subscribe(table string, filters []store.Filter, handler store.Handler) (store.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, store.ErrClosed
	}
	b.nextID++
	s := &subscriber{
		id:      b.nextID,
		table:   table,
		filters: filters,
		handler: handler,
		queue:   make(chan store.ChangeEvent, b.queueSize),
		done:    make(chan struct{}),
		broker:  b,
	}
	b.subs[s.id] = s
	go s.run()
	return s, nil
}

// Publish delivers ev to every matching subscriber. When a subscriber's queue
// is full the event is dropped for that subscriber; polling recovers it.
func (b *Broker) Publish(ev store.ChangeEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return store.ErrClosed
	}
	row := ev.Row()
	for _, s := range b.subs {
		if s.table != ev.Table || !store.Match(s.filters, row) {
			continue
		}
		select {
		case s.queue <- ev:
		default:
			b.logger.Warn("dropping change event for slow subscriber",
				"table", ev.Table, "op", ev.Op, "subscription", s.id)
		}
	}
	return nil
}

// Close stops all subscribers. Publish and Subscribe fail afterwards.
func (b *Broker) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*subscriber)
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	return nil
}

// Len returns the number of active subscriptions.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			if s.stopped.Load() {
				return
			}
			s.handler(ev)
		}
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() {
		s.stopped.Store(true)
		close(s.done)
	})
}

// Unsubscribe implements store.Subscription. It is safe to call more than once
// and from inside the handler.
func (s *subscriber) Unsubscribe() error {
	s.broker.mu.Lock()
	delete(s.broker.subs, s.id)
	s.broker.mu.Unlock()
	s.stop()
	return nil
}
