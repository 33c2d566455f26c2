package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dhamidi/skillswap/metrics"
	"github.com/dhamidi/skillswap/store"
)

// Messenger is the messaging API a UI shell talks to. It owns at most one
// conversation list and one open thread at a time, and publishes their
// snapshots on ListUpdates and ThreadUpdates.
//
// Both update channels hold only the latest snapshot: a slow reader skips
// intermediate states but always sees the newest one. Thread snapshots come
// only from the currently open thread; once another thread is opened, nothing
// from the previous one is delivered.
type Messenger struct {
	st       store.Store
	ids      store.IdentityProvider
	opts     Options
	dir      *Directory
	composer *Composer

	threadUpdates chan ThreadSnapshot
	listUpdates   chan ListSnapshot

	mu      sync.Mutex
	current *Thread
	list    *ConversationList
	openSeq uint64
	closed  bool
}

// NewMessenger returns a Messenger acting as the identity ids reports.
func NewMessenger(st store.Store, ids store.IdentityProvider, opts Options) *Messenger {
	opts = opts.withDefaults()
	dir := NewDirectory(st, opts)
	return &Messenger{
		st:            st,
		ids:           ids,
		opts:          opts,
		dir:           dir,
		composer:      NewComposer(st, dir, opts),
		threadUpdates: make(chan ThreadSnapshot, 1),
		listUpdates:   make(chan ListSnapshot, 1),
	}
}

// ThreadUpdates delivers snapshots of the open thread. It is closed by Close.
func (m *Messenger) ThreadUpdates() <-chan ThreadSnapshot { return m.threadUpdates }

// ListUpdates delivers snapshots of the watched conversation list. It is
// closed by Close.
func (m *Messenger) ListUpdates() <-chan ListSnapshot { return m.listUpdates }

// Self returns the current identity.
func (m *Messenger) Self(ctx context.Context) (string, error) {
	id, err := m.ids.CurrentIdentity(ctx)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			return "", err
		}
		return "", fmt.Errorf("resolve identity: %w", err)
	}
	if id == "" {
		return "", ErrUnauthenticated
	}
	return id, nil
}

// Directory returns the directory used to resolve conversations.
func (m *Messenger) Directory() *Directory { return m.dir }

// ListConversations loads the conversation summaries once.
func (m *Messenger) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	self, err := m.Self(ctx)
	if err != nil {
		return nil, err
	}
	return LoadConversations(ctx, m.st, self, m.opts.Fanout)
}

// WatchConversations starts keeping the conversation list up to date and
// publishing it on ListUpdates. Calling it again while watching is a no-op.
// A failed initial load is returned; the list keeps retrying by polling.
func (m *Messenger) WatchConversations(ctx context.Context) error {
	self, err := m.Self(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrStaleView
	}
	if m.list != nil {
		m.mu.Unlock()
		return nil
	}
	var l *ConversationList
	l = NewConversationList(m.st, self, m.opts, func(snap ListSnapshot) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed || m.list != l {
			return
		}
		offer(m.listUpdates, snap)
	})
	m.list = l
	m.mu.Unlock()

	return l.Start(ctx)
}

// Open closes the current thread and opens conversationID in its place.
// If another Open or OpenWith starts before this one finished, this one
// returns ErrStaleView and leaves the newer thread in place.
func (m *Messenger) Open(ctx context.Context, conversationID string) (*Thread, error) {
	seq, self, err := m.beginOpen(ctx)
	if err != nil {
		return nil, err
	}
	conv, err := GetConversation(ctx, m.st, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(self) {
		return nil, fmt.Errorf("open conversation %s: %w", conversationID, ErrUnauthorized)
	}
	return m.start(ctx, seq, func(onChange func(ThreadSnapshot)) (*Thread, error) {
		return NewThread(m.st, m.composer, conv.ID, self, m.opts, onChange), nil
	})
}

// OpenWith opens the conversation with targetID, or a pending thread if the
// two identities have not talked yet.
func (m *Messenger) OpenWith(ctx context.Context, targetID string) (*Thread, error) {
	seq, self, err := m.beginOpen(ctx)
	if err != nil {
		return nil, err
	}
	conv, err := m.dir.Lookup(ctx, self, targetID)
	switch {
	case err == nil:
		return m.start(ctx, seq, func(onChange func(ThreadSnapshot)) (*Thread, error) {
			return NewThread(m.st, m.composer, conv.ID, self, m.opts, onChange), nil
		})
	case errors.Is(err, ErrNotFound):
		return m.start(ctx, seq, func(onChange func(ThreadSnapshot)) (*Thread, error) {
			return NewPendingThread(m.st, m.composer, targetID, self, m.opts, onChange)
		})
	}
	return nil, err
}

func (m *Messenger) beginOpen(ctx context.Context) (uint64, string, error) {
	self, err := m.Self(ctx)
	if err != nil {
		return 0, "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, "", ErrStaleView
	}
	m.openSeq++
	return m.openSeq, self, nil
}

// start makes the thread built by newThread current, closes the previous
// thread and only then starts the new one.
func (m *Messenger) start(ctx context.Context, seq uint64, newThread func(func(ThreadSnapshot)) (*Thread, error)) (*Thread, error) {
	var t *Thread
	t, err := newThread(func(snap ThreadSnapshot) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed || m.current != t {
			m.opts.Metrics.StaleResponse(metrics.ViewThread)
			return
		}
		offer(m.threadUpdates, snap)
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed || seq != m.openSeq {
		m.mu.Unlock()
		t.Close()
		return nil, ErrStaleView
	}
	old := m.switchLocked(t)
	m.mu.Unlock()

	// The previous thread is closed outside the lock: its Close waits for an
	// in-flight emit, which needs the lock to deliver.
	if old != nil {
		old.Close()
	}

	if err := t.Start(ctx); err != nil {
		if Retryable(err) {
			return t, err
		}
		m.release(t)
		return nil, err
	}
	return t, nil
}

// switchLocked makes t current and drops any undelivered snapshot of the
// previous thread. It returns the previous thread.
func (m *Messenger) switchLocked(t *Thread) *Thread {
	old := m.current
	m.current = t
	select {
	case <-m.threadUpdates:
	default:
	}
	return old
}

// release closes t and clears it if it is still the current thread.
func (m *Messenger) release(t *Thread) {
	m.mu.Lock()
	if m.current == t {
		m.switchLocked(nil)
	}
	m.mu.Unlock()
	t.Close()
}

// Current returns the open thread, or nil.
func (m *Messenger) Current() *Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Send sends content to the open thread.
func (m *Messenger) Send(ctx context.Context, content string) (Message, error) {
	t := m.Current()
	if t == nil {
		return Message{}, ErrNoThread
	}
	msg, err := t.Send(ctx, content)
	if err != nil {
		return Message{}, err
	}
	m.mu.Lock()
	l := m.list
	m.mu.Unlock()
	if l != nil {
		l.request(metrics.TriggerManual)
	}
	return msg, nil
}

// DeleteConversation deletes conversationID if the current identity takes
// part in it. If it is the open thread, the thread is closed.
func (m *Messenger) DeleteConversation(ctx context.Context, conversationID string) error {
	self, err := m.Self(ctx)
	if err != nil {
		return err
	}
	if err := DeleteConversation(ctx, m.st, conversationID, self); err != nil {
		return err
	}
	m.opts.Logger.Info("deleted conversation", "conversation", conversationID)

	m.mu.Lock()
	var old *Thread
	if m.current != nil && m.current.ConversationID() == conversationID {
		old = m.switchLocked(nil)
	}
	l := m.list
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if l != nil {
		l.request(metrics.TriggerManual)
	}
	return nil
}

// CloseThread closes the open thread, if any.
func (m *Messenger) CloseThread() {
	m.mu.Lock()
	old := m.switchLocked(nil)
	m.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// Close stops all synchronization and closes the update channels.
func (m *Messenger) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	t, l := m.current, m.list
	m.current, m.list = nil, nil
	m.mu.Unlock()

	if t != nil {
		t.Close()
	}
	if l != nil {
		l.Close()
	}
	close(m.threadUpdates)
	close(m.listUpdates)
}

// offer replaces whatever is buffered in ch with v. ch must have capacity 1
// and offer must be called with the owner's lock held.
func offer[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}
