package store

import (
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// ErrStorageUnavailable is returned when the database file cannot be opened,
// is corrupt, or stays locked past the busy timeout.
var ErrStorageUnavailable = errors.New("storage unavailable")

type unavailableError struct {
	err error
}

func (e *unavailableError) Error() string { return "storage unavailable: " + e.err.Error() }

func (e *unavailableError) Unwrap() error { return e.err }

func (e *unavailableError) Is(target error) bool { return target == ErrStorageUnavailable }

func unavailable(err error) error {
	return &unavailableError{err: err}
}

// Classify marks driver errors that mean the store itself is unusable so callers
// can match them with errors.Is(err, ErrStorageUnavailable). Other errors are
// returned untouched.
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	// database/sql doesn't export its closed-pool error.
	if strings.Contains(err.Error(), "sql: database is closed") {
		return unavailable(err)
	}
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.Code {
	case sqlite3.ErrBusy,
		sqlite3.ErrLocked,
		sqlite3.ErrCantOpen,
		sqlite3.ErrCorrupt,
		sqlite3.ErrNotADB,
		sqlite3.ErrPerm,
		sqlite3.ErrReadonly,
		sqlite3.ErrIoErr,
		sqlite3.ErrFull,
		sqlite3.ErrProtocol:
		return unavailable(err)
	}
	return err
}
