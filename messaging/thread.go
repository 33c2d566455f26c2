package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dhamidi/skillswap/metrics"
	"github.com/dhamidi/skillswap/realtime"
	"github.com/dhamidi/skillswap/store"
)

// ThreadSnapshot is the state of a thread after a change.
type ThreadSnapshot struct {
	ConversationID string
	// TargetID is set while the thread is pending.
	TargetID string
	Messages []Message
	// Err is the last retryable error, kept until dismissed or a refresh succeeds.
	Err     error
	Version uint64
}

// Pending reports whether the snapshot belongs to a thread without a conversation.
func (s ThreadSnapshot) Pending() bool { return s.ConversationID == "" }

// Thread keeps the ordered message list of one conversation in sync with the
// store. Push notifications append new messages as they arrive and a poll
// replaces the whole list periodically. Both paths converge on the same
// ordered set.
//
// A pending thread has a target identity but no conversation; it starts
// neither poll nor push until its first message is sent.
type Thread struct {
	st       store.Store
	composer *Composer
	opts     Options
	self     string
	onChange func(ThreadSnapshot)

	// ctx scopes background work and is cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	conversationID string
	targetID       string
	messages       []Message
	err            error
	closed         bool
	started        bool
	sending        bool
	sub            store.Subscription
	// gen counts local mutations (push, send). A poll that sees gen change
	// while in flight merges instead of replacing.
	gen uint64
	// fetchSeq orders fetches; applied is the newest fetch applied so far.
	fetchSeq uint64
	applied  uint64
	version  uint64

	emitMu  sync.Mutex
	emitted uint64
}

// NewThread returns a thread for an existing conversation. No store call is
// made until Start.
func NewThread(st store.Store, composer *Composer, conversationID, selfID string, opts Options, onChange func(ThreadSnapshot)) *Thread {
	t := newThread(st, composer, selfID, opts, onChange)
	t.conversationID = conversationID
	return t
}

// NewPendingThread returns a thread addressed to targetID, for which no
// conversation exists yet.
func NewPendingThread(st store.Store, composer *Composer, targetID, selfID string, opts Options, onChange func(ThreadSnapshot)) (*Thread, error) {
	if err := checkPair(selfID, targetID); err != nil {
		return nil, err
	}
	t := newThread(st, composer, selfID, opts, onChange)
	t.targetID = targetID
	return t, nil
}

func newThread(st store.Store, composer *Composer, selfID string, opts Options, onChange func(ThreadSnapshot)) *Thread {
	opts = opts.withDefaults()
	if composer == nil {
		composer = NewComposer(st, NewDirectory(st, opts), opts)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Thread{
		st:       st,
		composer: composer,
		opts:     opts,
		self:     selfID,
		onChange: onChange,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OpenThread creates a thread for conversationID and starts it.
func OpenThread(ctx context.Context, st store.Store, conversationID, selfID string, opts Options, onChange func(ThreadSnapshot)) (*Thread, error) {
	t := NewThread(st, nil, conversationID, selfID, opts, onChange)
	if err := t.Start(ctx); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// Start loads the message history, marks incoming messages read, and starts
// the push subscription and the poll. For a pending thread it only publishes
// the empty snapshot.
//
// A transient load failure is recorded and returned, but poll and push are
// still started so the thread recovers on its own. If the thread is closed
// while Start is loading, the result is discarded and ErrStaleView returned.
func (t *Thread) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrStaleView
	}
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	pending := t.conversationID == ""
	snap := t.snapshotLocked()
	t.mu.Unlock()

	if pending {
		t.emit(snap)
		return nil
	}
	return t.activate(ctx, metrics.TriggerInitial)
}

// activate subscribes, performs the first load and starts polling.
func (t *Thread) activate(ctx context.Context, trigger string) error {
	t.mu.Lock()
	conversationID := t.conversationID
	t.mu.Unlock()

	t.subscribe(ctx, conversationID)
	err := t.refresh(ctx, trigger)
	if errors.Is(err, ErrStaleView) || errors.Is(err, ErrNotFound) {
		return err
	}
	go t.pollLoop()
	return err
}

func (t *Thread) subscribe(ctx context.Context, conversationID string) {
	sub, err := realtime.SubscribeWithRetry(ctx, t.st, tableMessages,
		[]store.Filter{store.Eq(colConversationID, conversationID)},
		t.handlePush, t.opts.Retry, t.opts.Logger)
	if err != nil {
		t.opts.Logger.Warn("push updates unavailable, relying on poll",
			"conversation", conversationID, "error", err)
		return
	}
	t.mu.Lock()
	if t.closed || t.conversationID != conversationID {
		t.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	t.sub = sub
	t.mu.Unlock()
}

func (t *Thread) pollLoop() {
	ticker := time.NewTicker(t.opts.ThreadPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.refresh(t.ctx, metrics.TriggerPoll)
		}
	}
}

// Refresh re-fetches the full message list now.
func (t *Thread) Refresh(ctx context.Context) error {
	t.mu.Lock()
	pending := t.conversationID == ""
	t.mu.Unlock()
	if pending {
		return nil
	}
	return t.refresh(ctx, metrics.TriggerManual)
}

func (t *Thread) refresh(ctx context.Context, trigger string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrStaleView
	}
	conversationID := t.conversationID
	gen := t.gen
	t.fetchSeq++
	seq := t.fetchSeq
	t.mu.Unlock()

	start := time.Now()
	msgs, err := t.fetch(ctx, conversationID)
	t.opts.Metrics.Refresh(metrics.ViewThread, trigger, time.Since(start), err)

	t.mu.Lock()
	if t.closed || t.conversationID != conversationID || seq < t.applied {
		t.mu.Unlock()
		t.opts.Metrics.StaleResponse(metrics.ViewThread)
		t.opts.Logger.Debug("discarding stale thread response", "conversation", conversationID, "trigger", trigger)
		return ErrStaleView
	}
	if err != nil {
		t.err = err
		snap := t.snapshotLocked()
		t.mu.Unlock()
		t.opts.Logger.Warn("failed to refresh thread", "conversation", conversationID, "trigger", trigger, "error", err)
		t.emit(snap)
		return err
	}
	t.applied = seq
	if t.gen == gen {
		t.messages = ReplaceAll(msgs)
	} else {
		t.messages = ApplyIncoming(t.messages, msgs)
	}
	t.err = nil
	unread := CountUnread(t.messages, t.self) > 0
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.emit(snap)
	if unread {
		return t.markRead(ctx, conversationID)
	}
	return nil
}

// fetch loads the conversation's messages, failing with ErrNotFound when the
// conversation itself is gone.
func (t *Thread) fetch(ctx context.Context, conversationID string) ([]Message, error) {
	if _, err := GetConversation(ctx, t.st, conversationID); err != nil {
		return nil, err
	}
	return LoadMessages(ctx, t.st, conversationID)
}

func (t *Thread) markRead(ctx context.Context, conversationID string) error {
	_, err := MarkRead(ctx, t.st, conversationID, t.self, t.opts.Now())
	if err == nil {
		return nil
	}
	t.opts.Metrics.Error(metrics.ViewThread)
	t.opts.Logger.Warn("failed to mark messages read", "conversation", conversationID, "error", err)
	t.mu.Lock()
	if t.closed || t.conversationID != conversationID {
		t.mu.Unlock()
		return ErrStaleView
	}
	t.err = err
	snap := t.snapshotLocked()
	t.mu.Unlock()
	t.emit(snap)
	return err
}

// handlePush applies a change notification for this thread's messages.
// Inserted messages are appended only if their id is not present yet.
func (t *Thread) handlePush(ev store.ChangeEvent) {
	t.opts.Metrics.PushEvent(ev.Table)
	m := messageFromRow(ev.Row())

	t.mu.Lock()
	if t.closed || m.ConversationID != t.conversationID {
		t.mu.Unlock()
		t.opts.Metrics.StaleResponse(metrics.ViewThread)
		return
	}
	switch ev.Op {
	case store.OpInsert:
		if containsID(t.messages, m.ID) {
			t.mu.Unlock()
			return
		}
		t.messages = ApplyIncoming(t.messages, []Message{m})
	case store.OpUpdate:
		t.messages = ApplyIncoming(t.messages, []Message{m})
	case store.OpDelete:
		// Messages only disappear when their conversation is deleted.
		kept := t.messages[:0:0]
		for _, existing := range t.messages {
			if existing.ID != m.ID {
				kept = append(kept, existing)
			}
		}
		t.messages = kept
		t.err = fmt.Errorf("conversation %s: %w", t.conversationID, ErrNotFound)
	}
	t.gen++
	conversationID := t.conversationID
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.emit(snap)
	if ev.Op == store.OpInsert && m.SenderID != t.self {
		t.markRead(t.ctx, conversationID)
	}
}

// Send writes content to the thread's conversation, creating the
// conversation first if the thread is pending. Only one send may be in
// flight; a second concurrent call fails with ErrSendInFlight. The sent
// message is part of the thread's list when Send returns.
func (t *Thread) Send(ctx context.Context, content string) (Message, error) {
	if _, err := ValidateContent(content); err != nil {
		return Message{}, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Message{}, ErrNoThread
	}
	if t.sending {
		t.mu.Unlock()
		return Message{}, ErrSendInFlight
	}
	t.sending = true
	dest := Destination{ConversationID: t.conversationID, TargetID: t.targetID}
	t.mu.Unlock()

	msg, err := t.composer.Send(ctx, dest, t.self, content)

	t.mu.Lock()
	t.sending = false
	if err != nil {
		if t.closed {
			t.mu.Unlock()
			return Message{}, err
		}
		if Retryable(err) {
			t.err = err
		}
		snap := t.snapshotLocked()
		t.mu.Unlock()
		t.emit(snap)
		return Message{}, err
	}
	if t.closed {
		// Persisted, but nobody is looking at this thread anymore.
		t.mu.Unlock()
		return msg, nil
	}
	activate := false
	if dest.Pending() {
		t.conversationID = msg.ConversationID
		t.targetID = ""
		activate = true
	}
	t.messages = ApplyIncoming(t.messages, []Message{msg})
	t.gen++
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.emit(snap)
	if activate {
		t.opts.Logger.Debug("pending thread became a conversation", "conversation", msg.ConversationID)
		if err := t.activate(ctx, metrics.TriggerInitial); err != nil && !errors.Is(err, ErrStaleView) {
			t.opts.Logger.Warn("failed to start syncing new conversation", "conversation", msg.ConversationID, "error", err)
		}
	}
	return msg, nil
}

// Close stops the poll, drops the push subscription and clears the messages.
// Responses that arrive afterwards are discarded. Close must not be called
// from the onChange callback.
func (t *Thread) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.messages = nil
	sub := t.sub
	t.sub = nil
	t.mu.Unlock()

	t.cancel()
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			t.opts.Logger.Warn("failed to unsubscribe thread", "error", err)
		}
	}
	// Wait for an in-progress emit so none is delivered after Close returns.
	t.emitMu.Lock()
	t.emitMu.Unlock()
}

// Snapshot returns the current state of the thread.
func (t *Thread) Snapshot() ThreadSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Messages returns a copy of the ordered message list.
func (t *Thread) Messages() []Message {
	return t.Snapshot().Messages
}

// ConversationID returns the conversation id, or "" while pending.
func (t *Thread) ConversationID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conversationID
}

// Pending reports whether the thread is waiting for its first message.
func (t *Thread) Pending() bool {
	return t.ConversationID() == ""
}

// Syncing reports whether poll and push are active.
func (t *Thread) Syncing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed && t.conversationID != "" && t.sub != nil
}

// Err returns the last retryable error.
func (t *Thread) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// DismissError clears the error without touching the messages.
func (t *Thread) DismissError() {
	t.mu.Lock()
	t.err = nil
	snap := t.snapshotLocked()
	t.mu.Unlock()
	t.emit(snap)
}

func (t *Thread) snapshotLocked() ThreadSnapshot {
	t.version++
	msgs := make([]Message, len(t.messages))
	copy(msgs, t.messages)
	return ThreadSnapshot{
		ConversationID: t.conversationID,
		TargetID:       t.targetID,
		Messages:       msgs,
		Err:            t.err,
		Version:        t.version,
	}
}

// emit delivers snap unless a newer snapshot was already delivered or the
// thread is closed.
func (t *Thread) emit(snap ThreadSnapshot) {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()
	if snap.Version <= t.emitted {
		return
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	t.emitted = snap.Version
	if t.onChange != nil {
		t.onChange(snap)
	}
}
