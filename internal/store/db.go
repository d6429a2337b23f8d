package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrUniqueViolation is returned when an insert collides with a uniqueness
// constraint. Callers treat it as "already recorded", not as a failure.
var ErrUniqueViolation = errors.New("unique constraint violation")

// DB wraps the sqlite connection for the app-owned zapdesk.db.
type DB struct {
	*sql.DB
}

// Open creates a new sqlite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// classify maps driver errors to the store's sentinel errors so callers can
// distinguish a duplicate insert from a real persistence failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %v", ErrUniqueViolation, err)
	}
	return err
}
