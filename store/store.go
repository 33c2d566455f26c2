// Package store defines the contract between the messaging core and the
// relational backend it synchronizes against: row CRUD, filtered and ordered
// queries, store-side counts, and change subscriptions.
package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConstraintViolation is returned when a write violates a uniqueness or check constraint.
	ErrConstraintViolation = errors.New("store: constraint violation")
	// ErrUnauthenticated is returned by an IdentityProvider when there is no current identity.
	ErrUnauthenticated = errors.New("store: unauthenticated")
	// ErrClosed is returned when the store or feed has been closed.
	ErrClosed = errors.New("store: closed")
)

// Store is the remote store client used by every synchronizer.
// Implementations must be safe for concurrent use.
type Store interface {
	Select(ctx context.Context, q Query) ([]Row, error)
	// Insert writes row into table and returns the row as persisted,
	// including generated columns.
	Insert(ctx context.Context, table string, row Row) (Row, error)
	// Update applies patch to all rows matching filters and returns the number of affected rows.
	Update(ctx context.Context, table string, filters []Filter, patch Row) (int64, error)
	Delete(ctx context.Context, table string, filters []Filter) (int64, error)
	Count(ctx context.Context, table string, filters []Filter) (int64, error)
	// Subscribe registers handler for changes to rows of table matching filters.
	// Handlers run on a goroutine owned by the store.
	Subscribe(ctx context.Context, table string, filters []Filter, handler Handler) (Subscription, error)
}

// Subscription is a live change subscription.
type Subscription interface {
	// Unsubscribe stops delivery. No handler invocation starts after it returns.
	Unsubscribe() error
}

// IdentityProvider resolves the identity the current session acts as.
type IdentityProvider interface {
	CurrentIdentity(ctx context.Context) (string, error)
}

// StaticIdentity is an IdentityProvider that always returns the same identity.
// The empty StaticIdentity is unauthenticated.
type StaticIdentity string

// CurrentIdentity implements IdentityProvider.
func (s StaticIdentity) CurrentIdentity(ctx context.Context) (string, error) {
	if s == "" {
		return "", ErrUnauthenticated
	}
	return string(s), nil
}

// Constraint kinds reported by ConstraintError.
const (
	ConstraintUnique  = "unique"
	ConstraintCheck   = "check"
	ConstraintTrigger = "trigger"
	ConstraintNotNull = "not_null"
	ConstraintOther   = "other"
)

// ConstraintError reports which kind of constraint rejected a write.
// It matches ErrConstraintViolation with errors.Is.
type ConstraintError struct {
	Constraint string
	Err        error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s constraint failed: %v", e.Constraint, e.Err)
}

func (e *ConstraintError) Unwrap() []error {
	return []error{ErrConstraintViolation, e.Err}
}
