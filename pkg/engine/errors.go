// Package engine provides standardized error types for orchestration
// failures. The web layer maps these onto HTTP statuses; none of them leak
// collaborator internals.
package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownWizard indicates no step table is registered for the type.
	ErrUnknownWizard = errors.New("unknown wizard type")

	// ErrWizardTypeMismatch indicates the session belongs to a different
	// wizard type than the one in the request path.
	ErrWizardTypeMismatch = errors.New("session belongs to a different wizard type")

	// ErrStepMismatch indicates an out-of-order submission; the client must
	// navigate before submitting.
	ErrStepMismatch = errors.New("submitted step is not the session's current step")

	// ErrMalformedPayload indicates the payload does not match the step's
	// declared schema (a client programming error, not user input).
	ErrMalformedPayload = errors.New("payload does not match the step schema")

	// ErrValidationFailed indicates the step validator rejected the payload;
	// the messages live on the returned session.
	ErrValidationFailed = errors.New("step validation failed")

	// ErrAlreadyCompleted indicates the wizard has finished; the session no
	// longer accepts submissions or navigation.
	ErrAlreadyCompleted = errors.New("wizard already completed")

	// ErrSessionAbandoned indicates the session was cancelled or expired.
	ErrSessionAbandoned = errors.New("session abandoned")
)

// NavigationReason classifies an illegal transition request.
type NavigationReason string

const (
	ReasonOutOfRange          NavigationReason = "out_of_range"
	ReasonStepNotYetReachable NavigationReason = "step_not_yet_reachable"
)

// NavigationError reports an illegal navigation request. The engine never
// silently clamps a target.
type NavigationError struct {
	Reason    NavigationReason
	Requested int
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("cannot navigate to step %d: %s", e.Requested, e.Reason)
}

// IsNavigationError checks if an error is an illegal-transition error.
func IsNavigationError(err error) bool {
	var target *NavigationError

	return errors.As(err, &target)
}

// IsValidationError checks if an error should surface as a 400 with the
// session's errors list.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidationFailed)
}
