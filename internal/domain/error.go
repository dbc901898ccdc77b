package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrRateLimited     = errors.New("too many requests")
	ErrUnauthorized    = errors.New("unauthorized")

	// Storage plumbing
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrLockNotAcquired    = errors.New("lock held by another worker")

	// Notification outcomes that are expected and never fatal.
	ErrSignatureMismatch      = errors.New("notification signature mismatch")
	ErrRemoteValidationFailed = errors.New("notification not confirmed by processor")
	ErrDuplicateNotification  = errors.New("duplicate notification")
	ErrUnexpectedInternal     = errors.New("unexpected internal error")
)

// ConfigurationError is returned before any external call when the active
// deployment mode is missing required settings.
type ConfigurationError struct {
	Fields []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Fields) == 0 {
		return "configuration error"
	}
	return "configuration error: missing or invalid " + strings.Join(e.Fields, ", ")
}

// PersistenceError wraps a storage failure with the operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func NewPersistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
