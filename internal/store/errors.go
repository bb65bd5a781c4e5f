package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// PersistErrorKind classifies a failed write.
type PersistErrorKind string

const (
	// Conflict means another writer changed the entity since its state was
	// read; the caller should reload and reconcile again.
	Conflict PersistErrorKind = "conflict"
	// TransactionAbort means the transaction failed and was rolled back.
	TransactionAbort PersistErrorKind = "transaction_abort"
)

// PersistError reports a rolled-back Persist.
type PersistError struct {
	Kind     PersistErrorKind
	EntityID int64
	Stage    string
	Err      error
}

func (e *PersistError) Error() string {
	msg := fmt.Sprintf("persist entity %d: %s", e.EntityID, e.Kind)
	if e.Stage != "" {
		msg += " at " + e.Stage
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PersistError) Unwrap() error { return e.Err }

// IsConflict reports whether err is a Persist version conflict.
func IsConflict(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe) && pe.Kind == Conflict
}

// isUniqueViolation detects a concurrent writer that won a unique index race.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint &&
			(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}
