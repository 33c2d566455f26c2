package realtime

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhamidi/skillswap/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sink struct {
	mu     sync.Mutex
	events []store.ChangeEvent
}

func (s *sink) handle(ev store.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *sink) contents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Row().String("content")
	}
	return out
}

func message(conversationID, content string) store.ChangeEvent {
	return store.ChangeEvent{
		Table: "messages",
		Op:    store.OpInsert,
		New:   store.Row{"conversation_id": conversationID, "content": content},
	}
}

func TestBrokerDeliversMatchingEventsInOrder(t *testing.T) {
	b := NewBroker(WithLogger(quietLogger()))
	defer b.Close()

	var a, all sink
	_, err := b.Subscribe("messages", []store.Filter{store.Eq("conversation_id", "A")}, a.handle)
	require.NoError(t, err)
	_, err = b.Subscribe("messages", nil, all.handle)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Len())

	for _, ev := range []store.ChangeEvent{
		message("A", "1"),
		message("B", "2"),
		message("A", "3"),
		{Table: "conversations", Op: store.OpInsert, New: store.Row{"conversation_id": "A", "content": "x"}},
		{Table: "messages", Op: store.OpDelete, Old: store.Row{"conversation_id": "A", "content": "4"}},
	} {
		require.NoError(t, b.Publish(ev))
	}

	require.Eventually(t, func() bool {
		return len(a.contents()) == 3 && len(all.contents()) == 4
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"1", "3", "4"}, a.contents())
	assert.Equal(t, []string{"1", "2", "3", "4"}, all.contents())
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker(WithLogger(quietLogger()))
	defer b.Close()

	var s sink
	sub, err := b.Subscribe("messages", nil, s.handle)
	require.NoError(t, err)
	require.NoError(t, b.Publish(message("A", "before")))
	require.Eventually(t, func() bool { return len(s.contents()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 0, b.Len())

	require.NoError(t, b.Publish(message("A", "after")))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"before"}, s.contents())
}

func TestBrokerUnsubscribeFromHandler(t *testing.T) {
	b := NewBroker(WithLogger(quietLogger()))
	defer b.Close()

	var (
		mu    sync.Mutex
		calls int
		sub   store.Subscription
	)
	ready := make(chan struct{})
	sub, err := b.Subscribe("messages", nil, func(store.ChangeEvent) {
		<-ready
		mu.Lock()
		calls++
		mu.Unlock()
		sub.Unsubscribe()
	})
	require.NoError(t, err)
	close(ready)

	require.NoError(t, b.Publish(message("A", "1")))
	require.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, b.Publish(message("A", "2")))
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestBrokerDropsEventsForSlowSubscribers(t *testing.T) {
	b := NewBroker(WithLogger(quietLogger()), WithQueueSize(1))
	defer b.Close()

	release := make(chan struct{})
	var s sink
	_, err := b.Subscribe("messages", nil, func(ev store.ChangeEvent) {
		<-release
		s.handle(ev)
	})
	require.NoError(t, err)

	for i := range 10 {
		require.NoError(t, b.Publish(message("A", string(rune('0'+i)))))
	}
	close(release)

	require.Eventually(t, func() bool { return len(s.contents()) >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	got := s.contents()
	assert.Less(t, len(got), 10, "publisher must not block on a slow subscriber")
	assert.Equal(t, "0", got[0])
}

func TestBrokerClose(t *testing.T) {
	b := NewBroker(WithLogger(quietLogger()))
	var s sink
	_, err := b.Subscribe("messages", nil, s.handle)
	require.NoError(t, err)

	require.NoError(t, b.Close())
	assert.Equal(t, 0, b.Len())
	assert.ErrorIs(t, b.Publish(message("A", "1")), store.ErrClosed)
	_, err = b.Subscribe("messages", nil, s.handle)
	assert.ErrorIs(t, err, store.ErrClosed)
}
