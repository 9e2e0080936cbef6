// Package protocol provides standardized error types for collaborator calls.
package protocol

import (
	"context"
	"errors"
	"fmt"
)

// ErrAuthFailed indicates the EHR rejected the supplied credentials.
var ErrAuthFailed = errors.New("authentication failed")

// ErrResourceNotFound indicates the requested resource does not exist on the
// external system.
var ErrResourceNotFound = errors.New("resource not found")

// CallError wraps a failed collaborator call, classified as transient
// (timeout, 5xx: retry with the same input) or permanent (bad credentials,
// 4xx: requires corrected input).
type CallError struct {
	Collaborator string // e.g. "enhancer", "ehr", "renderer"
	Transient    bool
	Err          error
}

func (e *CallError) Error() string {
	class := "permanent"
	if e.Transient {
		class = "transient"
	}

	return fmt.Sprintf("%s call failed (%s): %v", e.Collaborator, class, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as a retryable collaborator failure.
func NewTransientError(collaborator string, err error) *CallError {
	return &CallError{Collaborator: collaborator, Transient: true, Err: err}
}

// NewPermanentError wraps err as a collaborator failure that will not succeed
// without changed input.
func NewPermanentError(collaborator string, err error) *CallError {
	return &CallError{Collaborator: collaborator, Transient: false, Err: err}
}

// IsTransient reports whether err represents a failure worth retrying with
// unchanged input. Deadline expiry is always transient, even when a
// collaborator forgot to classify it.
func IsTransient(err error) bool {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Transient
	}

	return errors.Is(err, context.DeadlineExceeded)
}
