package models

import "math"

// Progress is the read-only projection of a session used by clients to render
// the wizard chrome. It is derived, never stored.
type Progress struct {
	SessionID       string        `json:"session_id"`
	WizardType      string        `json:"wizard_type"`
	CurrentStep     int           `json:"current_step"`
	CompletedSteps  []int         `json:"completed_steps"`
	TotalSteps      int           `json:"total_steps"`
	ProgressPercent int           `json:"progress_percent"`
	StepName        string        `json:"step_name"`
	StepDescription string        `json:"step_description"`
	CanProceed      bool          `json:"can_proceed"`
	Activated       bool          `json:"activated"`
	Errors          []string      `json:"errors"`
	Warnings        []string      `json:"warnings"`
	Status          SessionStatus `json:"status"`
}

// PercentComplete rounds completed/total to a whole percentage.
func PercentComplete(completed, total int) int {
	if total <= 0 {
		return 0
	}

	return int(math.Round(100 * float64(completed) / float64(total)))
}
