package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/dhamidi/skillswap/store"
)

// CanonicalPair orders two identities so the lower one comes first.
func CanonicalPair(a, b string) (low, high string) {
	if b < a {
		return b, a
	}
	return a, b
}

// Directory resolves the single conversation between two identities.
// It does no locking: the store's uniqueness constraint on the canonical
// pair decides which of two concurrent creators wins.
type Directory struct {
	st   store.Store
	opts Options
}

// NewDirectory returns a Directory over st.
func NewDirectory(st store.Store, opts Options) *Directory {
	return &Directory{st: st, opts: opts.withDefaults()}
}

// Lookup returns the conversation between selfID and otherID, or ErrNotFound.
func (d *Directory) Lookup(ctx context.Context, selfID, otherID string) (Conversation, error) {
	if err := checkPair(selfID, otherID); err != nil {
		return Conversation{}, err
	}
	low, high := CanonicalPair(selfID, otherID)
	rows, err := d.st.Select(ctx, store.Query{
		Table:   tableConversations,
		Filters: []store.Filter{store.Eq(colParticipantA, low), store.Eq(colParticipantB, high)},
		Limit:   1,
	})
	if err != nil {
		return Conversation{}, storeErr("look up conversation", err)
	}
	if len(rows) == 0 {
		return Conversation{}, fmt.Errorf("conversation between %s and %s: %w", low, high, ErrNotFound)
	}
	return conversationFromRow(rows[0]), nil
}

// GetOrCreate returns the id of the conversation between selfID and otherID,
// creating it if it does not exist yet.
func (d *Directory) GetOrCreate(ctx context.Context, selfID, otherID string) (string, error) {
	conv, err := d.Lookup(ctx, selfID, otherID)
	if err == nil {
		return conv.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	low, high := CanonicalPair(selfID, otherID)
	row, err := d.st.Insert(ctx, tableConversations, store.Row{
		colParticipantA: low,
		colParticipantB: high,
	})
	if err == nil {
		d.opts.Metrics.ConversationCreated()
		d.opts.Logger.Debug("created conversation", "conversation", row.String(colID), "participant_a", low, "participant_b", high)
		return row.String(colID), nil
	}
	if !errors.Is(err, ErrConstraintViolation) {
		return "", fmt.Errorf("%w: %w", ErrCreateFailed, storeErr("insert conversation", err))
	}

	// Someone else created the pair between our lookup and insert.
	d.opts.Logger.Debug("conversation created concurrently, looking up again", "participant_a", low, "participant_b", high)
	conv, err = d.Lookup(ctx, selfID, otherID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}
	return conv.ID, nil
}

func checkPair(selfID, otherID string) error {
	if selfID == "" || otherID == "" {
		return fmt.Errorf("%w: identity must not be empty", ErrInvalidParticipant)
	}
	if selfID == otherID {
		return fmt.Errorf("%w: cannot start a conversation with yourself", ErrInvalidParticipant)
	}
	return nil
}
