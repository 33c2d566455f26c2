package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/dhamidi/skillswap/store"
)

var (
	// ErrUnauthenticated is returned when there is no current identity.
	ErrUnauthenticated = store.ErrUnauthenticated
	// ErrNotFound is returned when a conversation or identity no longer exists.
	ErrNotFound = store.ErrNotFound
	// ErrConstraintViolation is returned when the store rejects a write; the
	// directory absorbs it once when two identities create the same conversation.
	ErrConstraintViolation = store.ErrConstraintViolation

	ErrUnauthorized       = errors.New("messaging: not a participant of the conversation")
	ErrInvalidContent     = errors.New("messaging: invalid message content")
	ErrTransientStore     = errors.New("messaging: store unavailable")
	ErrStaleView          = errors.New("messaging: view is no longer active")
	ErrCreateFailed       = errors.New("messaging: failed to create conversation")
	ErrSendInFlight       = errors.New("messaging: a message is already being sent")
	ErrNoThread           = errors.New("messaging: no open thread")
	ErrInvalidParticipant = errors.New("messaging: invalid participant")
)

// StoreError is a retryable store failure. It matches ErrTransientStore.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("messaging: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrTransientStore, e.Err}
}

// Retryable reports whether err is a transient store failure worth retrying.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransientStore)
}

// storeErr classifies an error returned by the store for operation op.
// Sentinels the caller can act on keep their identity; everything else is transient.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConstraintViolation),
		errors.Is(err, ErrUnauthenticated),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	}
	return &StoreError{Op: op, Err: err}
}
