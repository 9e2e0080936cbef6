package engine

import (
	"github.com/docwell/stepflow/pkg/models"
	"github.com/docwell/stepflow/pkg/wizard"
)

// activatedField is the reserved session field set by terminal steps of
// integration wizards once the external system is live.
const activatedField = "session.activated"

// Project derives the read-only progress view from session state. Pure, no
// external calls; safe on every read.
func Project(session *models.Session, def *wizard.Definition) models.Progress {
	progress := models.Progress{
		SessionID:       session.ID,
		WizardType:      session.WizardType,
		CurrentStep:     session.CurrentStep,
		CompletedSteps:  session.CompletedSteps,
		TotalSteps:      def.TotalSteps(),
		ProgressPercent: models.PercentComplete(len(session.CompletedSteps), def.TotalSteps()),
		CanProceed:      CanAdvance(session, def.TotalSteps()),
		Errors:          session.Errors,
		Warnings:        session.Warnings,
		Status:          session.Status,
	}

	if activated, ok := session.Fields[activatedField].(bool); ok {
		progress.Activated = activated
	}

	if step, err := def.Step(session.CurrentStep); err == nil {
		progress.StepName = step.Name()
		progress.StepDescription = step.Description()
	}

	return progress
}
