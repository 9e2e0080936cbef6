// Package sessions provides standardized error types for session storage.
package sessions

import (
	"errors"
	"fmt"
)

// Standard store error types that all implementations should use.
var (
	// ErrSessionNotFound indicates no session exists for the given ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists indicates a session with the same ID already exists.
	ErrSessionExists = errors.New("session already exists")

	// ErrConflict indicates the stored session changed since it was loaded
	// (two writers raced; the caller must reload and retry).
	ErrConflict = errors.New("session was modified concurrently")

	// ErrSessionExpired indicates the session idled past its TTL.
	ErrSessionExpired = errors.New("session expired")
)

// StoreError wraps store-level errors with operation context.
type StoreError struct {
	Op        string // Operation being performed (e.g. "Get", "Save")
	SessionID string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s failed for session %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a store error with context.
func NewStoreError(op, sessionID string, err error) *StoreError {
	return &StoreError{Op: op, SessionID: sessionID, Err: err}
}

// IsNotFound checks if an error indicates a missing or expired session; both
// present as 404 to clients.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionExpired)
}

// IsConflict checks if an error indicates an optimistic-concurrency conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsAlreadyExists checks if an error indicates a duplicate session ID.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrSessionExists)
}
