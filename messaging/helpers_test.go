package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dhamidi/skillswap/realtime"
	"github.com/dhamidi/skillswap/store"
	"github.com/dhamidi/skillswap/store/sqlitestore"
)

const (
	alice = "11111111-1111-4111-8111-111111111111"
	bob   = "22222222-2222-4222-8222-222222222222"
	carol = "33333333-3333-4333-8333-333333333333"
)

// tickClock advances by one second on every reading so rows written in
// sequence get distinct, increasing timestamps.
type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTickClock() *tickClock {
	return &tickClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// newTestStore opens a store on a temporary SQLite file.
func newTestStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test_messaging.db")
	st, err := sqlitestore.Open(path, sqlitestore.WithClock(newTickClock().Now), sqlitestore.WithLogger(discardLogger()))
	require.NoError(t, err, "open test store")
	t.Cleanup(func() { st.Close() })
	return st
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testOptions polls fast enough for tests to observe it.
func testOptions() Options {
	return Options{
		Logger:             discardLogger(),
		ListPollInterval:   50 * time.Millisecond,
		ThreadPollInterval: 50 * time.Millisecond,
		Retry:              realtime.RetryPolicy{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	}
}

// quietOptions disables polling for the duration of a test.
func quietOptions() Options {
	opts := testOptions()
	opts.ListPollInterval = time.Hour
	opts.ThreadPollInterval = time.Hour
	return opts
}

func createConversation(t *testing.T, st store.Store, a, b string) string {
	t.Helper()
	id, err := NewDirectory(st, quietOptions()).GetOrCreate(context.Background(), a, b)
	require.NoError(t, err, "create conversation %s/%s", a, b)
	return id
}

func insertMessage(t *testing.T, st store.Store, conversationID, senderID, content string) Message {
	t.Helper()
	row, err := st.Insert(context.Background(), tableMessages, store.Row{
		colConversationID: conversationID,
		colSenderID:       senderID,
		colContent:        content,
	})
	require.NoError(t, err, "insert message")
	return messageFromRow(row)
}

func insertProfile(t *testing.T, st store.Store, p Profile) {
	t.Helper()
	_, err := st.Insert(context.Background(), tableProfiles, store.Row{
		colID:        p.ID,
		colUsername:  nullable(p.Username),
		colFirstName: nullable(p.FirstName),
		colLastName:  nullable(p.LastName),
		colAvatarURL: nullable(p.AvatarURL),
	})
	require.NoError(t, err, "insert profile")
}


func countRows(t *testing.T, st store.Store, table string, filters ...store.Filter) int64 {
	t.Helper()
	n, err := st.Count(context.Background(), table, filters)
	require.NoError(t, err)
	return n
}

func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

var errConnectionReset = errors.New("connection reset by peer")

// flakyStore fails every call while failing is set.
type flakyStore struct {
	store.Store
	failing atomic.Bool
	inserts atomic.Int64
}

func (s *flakyStore) Select(ctx context.Context, q store.Query) ([]store.Row, error) {
	if s.failing.Load() {
		return nil, errConnectionReset
	}
	return s.Store.Select(ctx, q)
}

func (s *flakyStore) Count(ctx context.Context, table string, filters []store.Filter) (int64, error) {
	if s.failing.Load() {
		return 0, errConnectionReset
	}
	return s.Store.Count(ctx, table, filters)
}

func (s *flakyStore) Insert(ctx context.Context, table string, row store.Row) (store.Row, error) {
	s.inserts.Add(1)
	if s.failing.Load() {
		return nil, errConnectionReset
	}
	return s.Store.Insert(ctx, table, row)
}

func (s *flakyStore) Update(ctx context.Context, table string, filters []store.Filter, patch store.Row) (int64, error) {
	if s.failing.Load() {
		return 0, errConnectionReset
	}
	return s.Store.Update(ctx, table, filters, patch)
}

// gatedStore holds message selects for one conversation until released,
// ignoring cancellation like a slow network round trip would.
type gatedStore struct {
	store.Store
	conversationID string
	entered        chan struct{}
	release        chan struct{}
	once           sync.Once
}

func newGatedStore(st store.Store, conversationID string) *gatedStore {
	return &gatedStore{
		Store:          st,
		conversationID: conversationID,
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
}

func (s *gatedStore) Select(ctx context.Context, q store.Query) ([]store.Row, error) {
	if q.Table == tableMessages && store.Match(q.Filters, store.Row{colConversationID: s.conversationID}) && len(q.Filters) == 1 {
		s.once.Do(func() { close(s.entered) })
		<-s.release
	}
	return s.Store.Select(ctx, q)
}
