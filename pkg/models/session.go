// Package models defines the core domain models for guided wizard sessions.
package models

import "time"

// SessionStatus represents the lifecycle state of a wizard session.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "in_progress" // Resumable, accepts step submissions
	SessionStatusCompleted  SessionStatus = "completed"   // Terminal step applied, read-only
	SessionStatusAbandoned  SessionStatus = "abandoned"   // Cancelled or expired, read-only
)

// Session is the durable state of one in-progress (or finished) wizard run.
//
// CurrentStep is 1-based; a value of TotalSteps+1 means the terminal step has
// been applied. CompletedSteps is always the prefix {1..CurrentStep-1}: moving
// backwards removes completion marks, so a revisited step must be resubmitted
// before the session can advance past it again.
type Session struct {
	ID             string         `json:"id"              validate:"required"`
	WizardType     string         `json:"wizard_type"     validate:"required"`
	CurrentStep    int            `json:"current_step"    validate:"min=1"`
	CompletedSteps []int          `json:"completed_steps"`
	Fields         map[string]any `json:"fields"`
	Errors         []string       `json:"errors"`
	Warnings       []string       `json:"warnings"`
	Status         SessionStatus  `json:"status"          validate:"required"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewSession returns a fresh in-progress session positioned on step 1.
func NewSession(id, wizardType string, now time.Time) *Session {
	return &Session{
		ID:             id,
		WizardType:     wizardType,
		CurrentStep:    1,
		CompletedSteps: []int{},
		Fields:         make(map[string]any),
		Errors:         []string{},
		Warnings:       []string{},
		Status:         SessionStatusInProgress,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate persisted state in place.
func (s *Session) Clone() *Session {
	clone := *s

	clone.CompletedSteps = make([]int, len(s.CompletedSteps))
	copy(clone.CompletedSteps, s.CompletedSteps)

	clone.Fields = make(map[string]any, len(s.Fields))
	for k, v := range s.Fields {
		clone.Fields[k] = v
	}

	clone.Errors = make([]string, len(s.Errors))
	copy(clone.Errors, s.Errors)

	clone.Warnings = make([]string, len(s.Warnings))
	copy(clone.Warnings, s.Warnings)

	return &clone
}

// LastCompleted returns the highest completed step index, or 0.
func (s *Session) LastCompleted() int {
	if len(s.CompletedSteps) == 0 {
		return 0
	}

	return s.CompletedSteps[len(s.CompletedSteps)-1]
}

// MarkCompleted records a successful validate+apply of the given step and
// advances CurrentStep past it.
func (s *Session) MarkCompleted(stepIndex int) {
	for _, completed := range s.CompletedSteps {
		if completed == stepIndex {
			s.CurrentStep = stepIndex + 1

			return
		}
	}

	s.CompletedSteps = append(s.CompletedSteps, stepIndex)
	s.CurrentStep = stepIndex + 1
}

// Reposition moves CurrentStep to target and drops every completion mark at or
// beyond it. Revisited steps must be resubmitted before advancing again.
func (s *Session) Reposition(target int) {
	kept := s.CompletedSteps[:0]

	for _, completed := range s.CompletedSteps {
		if completed < target {
			kept = append(kept, completed)
		}
	}

	s.CompletedSteps = kept
	s.CurrentStep = target
}

// ResetAttempt clears the per-submission error and warning lists.
func (s *Session) ResetAttempt() {
	s.Errors = []string{}
	s.Warnings = []string{}
}

// ExpiresAfter reports whether the session has been inactive longer than ttl
// as of now. Completed sessions never expire.
func (s *Session) ExpiresAfter(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 || s.Status == SessionStatusCompleted {
		return false
	}

	return now.Sub(s.UpdatedAt) > ttl
}
