// Package web provides the HTTP surface for wizard sessions.
package web

import (
	"github.com/docwell/stepflow/pkg/models"
	"github.com/docwell/stepflow/pkg/wizard"
)

// StartRequest represents the request body for starting a wizard session.
type StartRequest struct {
	// SessionID pins the session ID so clients can resume after a reload.
	// Empty means server-generated.
	SessionID string `json:"session_id"     validate:"omitempty,min=1,max=128"`

	// ResetExisting discards any existing session with the same ID.
	ResetExisting bool `json:"reset_existing"`
}

// NavigateRequest represents the request body for repositioning a session.
type NavigateRequest struct {
	Action string `json:"action" validate:"required,oneof=next back jump"`

	// Target is the 1-based step index for jump; ignored for next and back.
	Target int `json:"target" validate:"omitempty,min=1"`
}

// SessionResponse pairs the session record with its derived progress view.
// Every mutating endpoint returns it so clients never need a follow-up read.
type SessionResponse struct {
	Session  *models.Session `json:"session"`
	Progress models.Progress `json:"progress"`
}

// StepInfo describes one step of a wizard's table.
type StepInfo struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// WizardInfo describes a registered wizard for the catalog endpoint.
type WizardInfo struct {
	Type        string     `json:"type"`
	Description string     `json:"description"`
	TotalSteps  int        `json:"total_steps"`
	Steps       []StepInfo `json:"steps"`
}

// TransformWizardInfo flattens a step table into its catalog entry.
func TransformWizardInfo(def *wizard.Definition) WizardInfo {
	info := WizardInfo{
		Type:        def.Type(),
		Description: def.Description(),
		TotalSteps:  def.TotalSteps(),
		Steps:       make([]StepInfo, 0, def.TotalSteps()),
	}

	for i := 1; i <= def.TotalSteps(); i++ {
		step, err := def.Step(i)
		if err != nil {
			continue
		}

		info.Steps = append(info.Steps, StepInfo{
			Index:       i,
			Name:        step.Name(),
			Description: step.Description(),
		})
	}

	return info
}
