package messaging

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhamidi/skillswap/metrics"
	"github.com/dhamidi/skillswap/store"
)

func TestComposerSend(t *testing.T) {
	st := newTestStore(t)
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	opts := quietOptions()
	opts.Metrics = m
	composer := NewComposer(st, NewDirectory(st, opts), opts)
	ctx := context.Background()

	msg, err := composer.Send(ctx, PendingWith(bob), alice, "  first contact  ")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ConversationID)
	assert.Equal(t, "first contact", msg.Content)
	assert.Equal(t, alice, msg.SenderID)
	assert.Nil(t, msg.ReadAt)

	reply, err := composer.Send(ctx, PendingWith(alice), bob, "welcome")
	require.NoError(t, err)
	assert.Equal(t, msg.ConversationID, reply.ConversationID, "both sides resolve the same conversation")

	_, err = composer.Send(ctx, ToConversation(msg.ConversationID), alice, "third")
	require.NoError(t, err)

	assert.Equal(t, int64(1), countRows(t, st, tableConversations))
	assert.Equal(t, int64(3), countRows(t, st, tableMessages))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.MessagesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConversationsCreated))
}

func TestComposerSendErrors(t *testing.T) {
	st := newTestStore(t)
	composer := NewComposer(st, NewDirectory(st, quietOptions()), quietOptions())
	ctx := context.Background()
	conversationID := createConversation(t, st, alice, bob)

	_, err := composer.Send(ctx, ToConversation(conversationID), carol, "let me in")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = composer.Send(ctx, ToConversation("no-such-conversation"), alice, "hello?")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = composer.Send(ctx, ToConversation(conversationID), "", "anonymous")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = composer.Send(ctx, PendingWith(alice), alice, "talking to myself")
	assert.ErrorIs(t, err, ErrInvalidParticipant)

	assert.Equal(t, int64(0), countRows(t, st, tableMessages))
}

func TestComposerPendingDirectoryFailureWritesNothing(t *testing.T) {
	st := &flakyStore{Store: newTestStore(t)}
	st.failing.Store(true)
	composer := NewComposer(st, NewDirectory(st, quietOptions()), quietOptions())

	_, err := composer.Send(context.Background(), PendingWith(bob), alice, "hello")
	require.Error(t, err)
	assert.True(t, Retryable(err))

	st.failing.Store(false)
	assert.Equal(t, int64(0), countRows(t, st, tableConversations))
	assert.Equal(t, int64(0), countRows(t, st, tableMessages, store.Eq(colSenderID, alice)))
}
