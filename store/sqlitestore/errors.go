package sqlitestore

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/dhamidi/skillswap/store"
)

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintForeignKey:
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return &store.ConstraintError{Constraint: store.ConstraintUnique, Err: err}
	case sqlite3.ErrConstraintCheck:
		return &store.ConstraintError{Constraint: store.ConstraintCheck, Err: err}
	case sqlite3.ErrConstraintTrigger:
		return &store.ConstraintError{Constraint: store.ConstraintTrigger, Err: err}
	case sqlite3.ErrConstraintNotNull:
		return &store.ConstraintError{Constraint: store.ConstraintNotNull, Err: err}
	}
	if se.Code == sqlite3.ErrConstraint {
		return &store.ConstraintError{Constraint: store.ConstraintOther, Err: err}
	}
	return err
}
