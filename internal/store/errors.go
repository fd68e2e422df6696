package store

import (
	"errors"
	"strings"
)

// Error kinds surfaced by the store. Callers distinguish them with
// errors.Is; anything else is an underlying storage failure wrapped
// as-is and never retried here.
var (
	// ErrConflict indicates a unique-constraint violation on a
	// caller-visible key: account email, message id within an account,
	// or folder name within an account.
	ErrConflict = errors.New("already exists")

	// ErrNotFound indicates a reference to a nonexistent account,
	// folder, or email.
	ErrNotFound = errors.New("not found")

	// ErrMigration indicates a schema migration failed during Open.
	// This is fatal: the caller must abort startup rather than run
	// against a partially migrated schema.
	ErrMigration = errors.New("schema migration failed")
)

// isUniqueViolation reports whether err is a SQLite unique-constraint
// failure. The modernc driver exposes constraint errors only through the
// error text, so this matches the canonical SQLite message.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation reports whether err is a SQLite foreign-key
// failure, meaning a referenced row does not exist.
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
