// Package natsfeed distributes store change events over NATS, so that every
// process writing to the same database sees the others' changes.
//
// Events are published on "<prefix>.<table>.<op>" and subscriptions listen
// on "<prefix>.<table>.>", filtering rows locally. NATS echoes a connection's
// own messages back to it, so local subscribers are served by the same path.
package natsfeed

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dhamidi/skillswap/store"
)

// DefaultSubjectPrefix is the subject namespace used when none is configured.
const DefaultSubjectPrefix = "skillswap.changes"

// Feed is a store.Feed backed by a NATS connection.
type Feed struct {
	nc       *nats.Conn
	prefix   string
	logger   *slog.Logger
	ownsConn bool

	mu     sync.Mutex
	closed bool
	subs   map[*subscription]struct{}
}

var _ store.Feed = (*Feed)(nil)

// Option configures a Feed.
type Option func(*Feed)

// WithSubjectPrefix sets the subject namespace.
func WithSubjectPrefix(prefix string) Option {
	return func(f *Feed) {
		if prefix != "" {
			f.prefix = strings.TrimSuffix(prefix, ".")
		}
	}
}

// WithLogger sets the feed's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Feed) { f.logger = logger }
}

// Connect dials url and returns a feed that closes the connection on Close.
func Connect(url string, opts ...Option) (*Feed, error) {
	nc, err := nats.Connect(url,
		nats.Name("skillswap"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	f := New(nc, opts...)
	f.ownsConn = true
	return f, nil
}

// New returns a feed over an existing connection. The caller keeps ownership of nc.
func New(nc *nats.Conn, opts ...Option) *Feed {
	f := &Feed{
		nc:     nc,
		prefix: DefaultSubjectPrefix,
		logger: slog.Default(),
		subs:   make(map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Subject returns the subject events of op on table are published on.
func (f *Feed) Subject(table string, op store.ChangeOp) string {
	return f.prefix + "." + table + "." + strings.ToLower(string(op))
}

// Publish implements store.Feed.
func (f *Feed) Publish(ev store.ChangeEvent) error {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return store.ErrClosed
	}
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := f.nc.Publish(f.Subject(ev.Table, ev.Op), data); err != nil {
		return fmt.Errorf("publish %s event on %s: %w", ev.Op, ev.Table, err)
	}
	return nil
}

// Subscribe implements store.Feed. The handler runs on the subscription's
// delivery goroutine, one event at a time.
func (f *Feed) Subscribe(table string, filters []store.Filter, handler store.Handler) (store.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, store.ErrClosed
	}

	s := &subscription{feed: f}
	subject := f.prefix + "." + table + ".>"
	ns, err := f.nc.Subscribe(subject, func(msg *nats.Msg) {
		ev, err := Decode(msg.Data)
		if err != nil {
			f.logger.Warn("dropping undecodable change event", "subject", msg.Subject, "error", err)
			return
		}
		if ev.Table != table || !store.Match(filters, ev.Row()) {
			return
		}
		handler(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	s.sub = ns
	f.subs[s] = struct{}{}
	return s, nil
}

// Close unsubscribes everything and, if the feed dialed the connection, closes it.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	subs := f.subs
	f.subs = make(map[*subscription]struct{})
	f.mu.Unlock()

	for s := range subs {
		s.unsubscribe()
	}
	if f.ownsConn {
		f.nc.Close()
	}
	return nil
}

type subscription struct {
	feed *Feed
	sub  *nats.Subscription
	once sync.Once
	err  error
}

// Unsubscribe implements store.Subscription.
func (s *subscription) Unsubscribe() error {
	s.feed.mu.Lock()
	delete(s.feed.subs, s)
	s.feed.mu.Unlock()
	return s.unsubscribe()
}

func (s *subscription) unsubscribe() error {
	s.once.Do(func() {
		if err := s.sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
			s.err = fmt.Errorf("unsubscribe from %s: %w", s.sub.Subject, err)
		}
	})
	return s.err
}
