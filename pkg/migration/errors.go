package migration

import (
	"errors"
	"fmt"
)

var (
	ErrMissingDSN         = errors.New("migration: database DSN is required")
	ErrMissingSource      = errors.New("migration: migration source is required")
	ErrInvalidTimeout     = errors.New("migration: timeout must be positive")
	ErrInvalidLockTimeout = errors.New("migration: lock timeout must be non-negative")
	ErrDirtyDatabase      = errors.New("migration: database is in a dirty state, manual intervention required")
	ErrAlreadyClosed      = errors.New("migration: migrator has already been closed")
)

// MigrationError adds the operation and the schema version reached to a
// golang-migrate failure.
type MigrationError struct {
	Operation string
	Version   uint
	Err       error
}

func (e *MigrationError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("migration error during %s (version=%d): %v", e.Operation, e.Version, e.Err)
	}
	return fmt.Sprintf("migration error during %s: %v", e.Operation, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

func IsDirtyError(err error) bool {
	return errors.Is(err, ErrDirtyDatabase)
}
