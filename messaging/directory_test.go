package messaging

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhamidi/skillswap/store"
)

func TestCanonicalPair(t *testing.T) {
	low, high := CanonicalPair(bob, alice)
	assert.Equal(t, alice, low)
	assert.Equal(t, bob, high)

	low, high = CanonicalPair(alice, bob)
	assert.Equal(t, alice, low)
	assert.Equal(t, bob, high)
}

func TestGetOrCreateIsSymmetric(t *testing.T) {
	st := newTestStore(t)
	dir := NewDirectory(st, quietOptions())
	ctx := context.Background()

	first, err := dir.GetOrCreate(ctx, bob, alice)
	require.NoError(t, err)
	second, err := dir.GetOrCreate(ctx, alice, bob)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), countRows(t, st, tableConversations))

	conv, err := GetConversation(ctx, st, first)
	require.NoError(t, err)
	assert.Equal(t, alice, conv.ParticipantA)
	assert.Equal(t, bob, conv.ParticipantB)
}

func TestGetOrCreateConcurrent(t *testing.T) {
	st := newTestStore(t)
	dir := NewDirectory(st, quietOptions())

	const callers = 16
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			self, other := alice, bob
			if i%2 == 1 {
				self, other = bob, alice
			}
			ids[i], errs[i] = dir.GetOrCreate(context.Background(), self, other)
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i], "caller %d", i)
		assert.Equal(t, ids[0], ids[i], "caller %d", i)
	}
	assert.Equal(t, int64(1), countRows(t, st, tableConversations))
}

// racingStore lets a concurrent creator win between the directory's lookup
// and its insert.
type racingStore struct {
	store.Store
	raced   atomic.Bool
	lookups atomic.Int64
}

func (s *racingStore) Select(ctx context.Context, q store.Query) ([]store.Row, error) {
	if q.Table == tableConversations {
		s.lookups.Add(1)
	}
	if q.Table == tableConversations && s.raced.CompareAndSwap(false, true) {
		low, high := alice, bob
		if _, err := s.Store.Insert(ctx, tableConversations, store.Row{colParticipantA: low, colParticipantB: high}); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return s.Store.Select(ctx, q)
}

func TestGetOrCreateRetriesLookupAfterConstraintViolation(t *testing.T) {
	st := &racingStore{Store: newTestStore(t)}
	dir := NewDirectory(st, quietOptions())

	id, err := dir.GetOrCreate(context.Background(), bob, alice)
	require.NoError(t, err)

	conv, err := dir.Lookup(context.Background(), alice, bob)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, id)
	// Initial lookup, lookup after the failed insert, and the check above.
	assert.Equal(t, int64(3), st.lookups.Load())
	assert.Equal(t, int64(1), countRows(t, st, tableConversations))
}

func TestGetOrCreateRejectsInvalidPairs(t *testing.T) {
	dir := NewDirectory(newTestStore(t), quietOptions())

	_, err := dir.GetOrCreate(context.Background(), alice, alice)
	assert.ErrorIs(t, err, ErrInvalidParticipant)
	_, err = dir.GetOrCreate(context.Background(), "", bob)
	assert.ErrorIs(t, err, ErrInvalidParticipant)
}

func TestGetOrCreateStoreFailure(t *testing.T) {
	st := &flakyStore{Store: newTestStore(t)}
	st.failing.Store(true)
	dir := NewDirectory(st, quietOptions())

	_, err := dir.GetOrCreate(context.Background(), alice, bob)
	require.Error(t, err)
	assert.True(t, Retryable(err), "lookup failure should be retryable: %v", err)

	st.failing.Store(false)
	id, err := dir.GetOrCreate(context.Background(), alice, bob)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}
