package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrConfiguration signals a missing or unreadable schedule/ledger document.
	ErrConfiguration = errors.New("configuration error")
	// ErrQuotaExceeded signals that the call budget refuses new work for this period.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrTransport signals a failure talking to the external source.
	ErrTransport = errors.New("transport error")
	// ErrPersistence signals a failed write of ledger or schedule state.
	ErrPersistence = errors.New("persistence error")
	// ErrNotInitialized signals that the external source handle is not ready.
	ErrNotInitialized = errors.New("source not initialized")
	// ErrDuplicateTask signals a task id that is already registered.
	ErrDuplicateTask = errors.New("duplicate task")
	// ErrInvalidSchedule signals a malformed time-of-day window.
	ErrInvalidSchedule = errors.New("invalid schedule")
	// ErrInvalidDuration signals an unparseable ISO-8601 duration.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrInvalidEntity signals an entity without id or with a negative duration.
	ErrInvalidEntity = errors.New("invalid entity")
)

// DuplicateTaskError wraps ErrDuplicateTask with the conflicting task id.
type DuplicateTaskError struct {
	ID string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("%s: %q is already registered", ErrDuplicateTask.Error(), e.ID)
}

func (e *DuplicateTaskError) Unwrap() error { return ErrDuplicateTask }

// NewDuplicateTask creates a duplicate task error.
func NewDuplicateTask(id string) error {
	return &DuplicateTaskError{ID: id}
}

// MigrationError reports the schema version whose transform failed.
type MigrationError struct {
	Version int
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration v%d: %v", e.Version, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }
