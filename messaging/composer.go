package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/dhamidi/skillswap/store"
)

// Destination is where a message goes: an existing conversation, or a
// pending thread with a target identity that has no conversation yet.
type Destination struct {
	ConversationID string
	TargetID       string
}

// ToConversation addresses an existing conversation.
func ToConversation(id string) Destination { return Destination{ConversationID: id} }

// PendingWith addresses the not yet created conversation with targetID.
func PendingWith(targetID string) Destination { return Destination{TargetID: targetID} }

// Pending reports whether the conversation still has to be created.
func (d Destination) Pending() bool { return d.ConversationID == "" }

// Composer validates and persists outgoing messages.
type Composer struct {
	st   store.Store
	dir  *Directory
	opts Options
}

// NewComposer returns a Composer that creates conversations through dir.
func NewComposer(st store.Store, dir *Directory, opts Options) *Composer {
	return &Composer{st: st, dir: dir, opts: opts.withDefaults()}
}

// Send validates content and writes it to dest as selfID. Invalid content
// fails with an *InvalidContentError before the store is contacted. A pending
// destination is resolved through the directory first; if that fails no
// message is written.
func (c *Composer) Send(ctx context.Context, dest Destination, selfID, content string) (Message, error) {
	trimmed, err := ValidateContent(content)
	if err != nil {
		return Message{}, err
	}
	if selfID == "" {
		return Message{}, ErrUnauthenticated
	}

	conversationID := dest.ConversationID
	if dest.Pending() {
		conversationID, err = c.dir.GetOrCreate(ctx, selfID, dest.TargetID)
		if err != nil {
			return Message{}, err
		}
	}

	row, err := c.st.Insert(ctx, tableMessages, store.Row{
		colConversationID: conversationID,
		colSenderID:       selfID,
		colContent:        trimmed,
		colReadAt:         nil,
	})
	if err != nil {
		c.opts.Metrics.Error("composer")
		return Message{}, classifySendError(conversationID, err)
	}
	c.opts.Metrics.MessageSent()
	return messageFromRow(row), nil
}

func classifySendError(conversationID string, err error) error {
	var ce *store.ConstraintError
	switch {
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("send to conversation %s: %w", conversationID, ErrNotFound)
	case errors.As(err, &ce) && ce.Constraint == store.ConstraintTrigger:
		// The store's membership trigger rejected the sender.
		return fmt.Errorf("send to conversation %s: %w", conversationID, ErrUnauthorized)
	case errors.Is(err, ErrConstraintViolation):
		return &InvalidContentError{Reason: "Message content is invalid"}
	}
	return storeErr("send message", err)
}
