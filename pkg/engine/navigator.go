package engine

import "github.com/docwell/stepflow/pkg/models"

// The navigator is a set of pure functions over session state. Because
// completed steps are always the prefix {1..k}, the legal jump set
// "completed steps plus the next undone one" collapses to [1, k+1].

// CanAdvance reports whether the session can move forward from its current
// step. Display-only: the real gate is re-running the step validator.
func CanAdvance(session *models.Session, totalSteps int) bool {
	return session.Status == models.SessionStatusInProgress &&
		session.CurrentStep <= totalSteps &&
		len(session.Errors) == 0
}

// JumpTarget validates a requested jump. Legal targets are any completed step
// or the step immediately after the last completed one; skipping ahead past
// an incomplete step is never allowed.
func JumpTarget(session *models.Session, requested, totalSteps int) (int, error) {
	if requested < 1 || requested > totalSteps {
		return 0, &NavigationError{Reason: ReasonOutOfRange, Requested: requested}
	}

	if requested > session.LastCompleted()+1 {
		return 0, &NavigationError{Reason: ReasonStepNotYetReachable, Requested: requested}
	}

	return requested, nil
}

// NextTarget validates moving one step forward from the current position.
func NextTarget(session *models.Session, totalSteps int) (int, error) {
	return JumpTarget(session, session.CurrentStep+1, totalSteps)
}

// BackTarget validates moving one step backward. The engine removes the
// target step's completion mark afterwards: going back means the step must be
// re-validated before moving forward again.
func BackTarget(session *models.Session) (int, error) {
	if session.CurrentStep <= 1 {
		return 0, &NavigationError{Reason: ReasonOutOfRange, Requested: session.CurrentStep - 1}
	}

	return session.CurrentStep - 1, nil
}
