package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/dhamidi/skillswap/metrics"
	"github.com/dhamidi/skillswap/realtime"
	"github.com/dhamidi/skillswap/store"
)

// ListSnapshot is the state of a conversation list after a change.
type ListSnapshot struct {
	Conversations []ConversationSummary
	// Err is the last retryable error. Conversations still holds the last
	// successfully loaded list.
	Err     error
	Version uint64
}

// TotalUnread sums the unread counts of all conversations.
func (s ListSnapshot) TotalUnread() int {
	n := 0
	for _, c := range s.Conversations {
		n += c.UnreadCount
	}
	return n
}

// ConversationList keeps the conversation summaries of one identity up to
// date. Any change to the conversations or messages tables, and every poll
// tick, triggers a full reload; reload requests that arrive while one is
// running are coalesced into a single follow-up reload.
type ConversationList struct {
	st       store.Store
	self     string
	opts     Options
	onChange func(ListSnapshot)

	ctx     context.Context
	cancel  context.CancelFunc
	trigger chan string
	done    chan struct{}

	mu        sync.Mutex
	summaries []ConversationSummary
	err       error
	loaded    bool
	closed    bool
	started   bool
	subs      []store.Subscription
	fetchSeq  uint64
	applied   uint64
	version   uint64

	emitMu  sync.Mutex
	emitted uint64
}

// NewConversationList returns a list for selfID. No store call is made until Start.
func NewConversationList(st store.Store, selfID string, opts Options, onChange func(ListSnapshot)) *ConversationList {
	ctx, cancel := context.WithCancel(context.Background())
	return &ConversationList{
		st:       st,
		self:     selfID,
		opts:     opts.withDefaults(),
		onChange: onChange,
		ctx:      ctx,
		cancel:   cancel,
		trigger:  make(chan string, 1),
		done:     make(chan struct{}),
	}
}

// Start subscribes to conversation and message changes, loads the list and
// starts polling. A failed initial load is returned but polling still starts.
func (l *ConversationList) Start(ctx context.Context) error {
	if l.self == "" {
		return ErrUnauthenticated
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrStaleView
	}
	if l.started {
		l.mu.Unlock()
		return nil
	}
	l.started = true
	l.mu.Unlock()

	l.subscribe(ctx, tableConversations, []store.Filter{participantFilter(l.self)})
	// Message rows carry no participants, so every message change is a candidate.
	l.subscribe(ctx, tableMessages, nil)

	err := l.reload(ctx, metrics.TriggerInitial)
	go l.loop()
	return err
}

func (l *ConversationList) subscribe(ctx context.Context, table string, filters []store.Filter) {
	sub, err := realtime.SubscribeWithRetry(ctx, l.st, table, filters, l.handlePush, l.opts.Retry, l.opts.Logger)
	if err != nil {
		l.opts.Logger.Warn("push updates unavailable, relying on poll", "table", table, "error", err)
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	l.subs = append(l.subs, sub)
	l.mu.Unlock()
}

func (l *ConversationList) handlePush(ev store.ChangeEvent) {
	l.opts.Metrics.PushEvent(ev.Table)
	l.request(metrics.TriggerPush)
}

// request schedules a reload. It never blocks.
func (l *ConversationList) request(trigger string) {
	select {
	case l.trigger <- trigger:
	default:
	}
}

func (l *ConversationList) loop() {
	defer close(l.done)
	ticker := time.NewTicker(l.opts.ListPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.reload(l.ctx, metrics.TriggerPoll)
		case trigger := <-l.trigger:
			l.reload(l.ctx, trigger)
		}
	}
}

// Refresh reloads the list now.
func (l *ConversationList) Refresh(ctx context.Context) error {
	return l.reload(ctx, metrics.TriggerManual)
}

func (l *ConversationList) reload(ctx context.Context, trigger string) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrStaleView
	}
	l.fetchSeq++
	seq := l.fetchSeq
	l.mu.Unlock()

	start := time.Now()
	summaries, err := LoadConversations(ctx, l.st, l.self, l.opts.Fanout)
	l.opts.Metrics.Refresh(metrics.ViewList, trigger, time.Since(start), err)
	return l.apply(seq, trigger, summaries, err)
}

// apply is the single place where load results reach the list, whichever
// path requested them.
func (l *ConversationList) apply(seq uint64, trigger string, summaries []ConversationSummary, err error) error {
	l.mu.Lock()
	if l.closed || seq < l.applied {
		l.mu.Unlock()
		l.opts.Metrics.StaleResponse(metrics.ViewList)
		l.opts.Logger.Debug("discarding stale conversation list response", "trigger", trigger)
		return ErrStaleView
	}
	if err != nil {
		l.err = err
		snap := l.snapshotLocked()
		l.mu.Unlock()
		l.opts.Logger.Warn("failed to load conversations", "trigger", trigger, "error", err)
		l.emit(snap)
		return err
	}
	l.applied = seq
	l.summaries = summaries
	l.loaded = true
	l.err = nil
	snap := l.snapshotLocked()
	l.mu.Unlock()

	l.emit(snap)
	return nil
}

// Summaries returns the last successfully loaded list.
func (l *ConversationList) Summaries() []ConversationSummary {
	return l.Snapshot().Conversations
}

// Loaded reports whether at least one load has succeeded.
func (l *ConversationList) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// Snapshot returns the current state of the list.
func (l *ConversationList) Snapshot() ListSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// Err returns the last retryable error.
func (l *ConversationList) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// DismissError clears the error, keeping the list.
func (l *ConversationList) DismissError() {
	l.mu.Lock()
	l.err = nil
	snap := l.snapshotLocked()
	l.mu.Unlock()
	l.emit(snap)
}

// Close stops polling and drops the push subscriptions. Responses that
// arrive afterwards are discarded. Close must not be called from the
// onChange callback.
func (l *ConversationList) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	started := l.started
	subs := l.subs
	l.subs = nil
	l.summaries = nil
	l.mu.Unlock()

	l.cancel()
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			l.opts.Logger.Warn("failed to unsubscribe conversation list", "error", err)
		}
	}
	if started {
		<-l.done
	}
	l.emitMu.Lock()
	l.emitMu.Unlock()
}

func (l *ConversationList) snapshotLocked() ListSnapshot {
	l.version++
	summaries := make([]ConversationSummary, len(l.summaries))
	copy(summaries, l.summaries)
	return ListSnapshot{Conversations: summaries, Err: l.err, Version: l.version}
}

func (l *ConversationList) emit(snap ListSnapshot) {
	l.emitMu.Lock()
	defer l.emitMu.Unlock()
	if snap.Version <= l.emitted {
		return
	}
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}
	l.emitted = snap.Version
	if l.onChange != nil {
		l.onChange(snap)
	}
}
