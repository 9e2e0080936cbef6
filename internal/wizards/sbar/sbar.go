// Package sbar implements the SBAR handoff report wizard (Situation,
// Background, Assessment, Recommendation). The assessment step runs the text
// enhancer over the clinician's notes; the terminal step renders the
// assembled report.
package sbar

import (
	"github.com/docwell/stepflow/pkg/protocol"
	"github.com/docwell/stepflow/pkg/wizard"
)

const WizardType = "sbar-report"

const (
	fieldSituation      = "sbar.situation"
	fieldBackground     = "sbar.background"
	fieldAssessment     = "sbar.assessment"
	fieldRecommendation = "sbar.recommendation"
	fieldDocumentID     = "sbar.document_id"
)

// New builds the four-step SBAR wizard over the given collaborators.
func New(enhancer protocol.Enhancer, renderer protocol.Renderer) (*wizard.Definition, error) {
	return wizard.NewDefinition(WizardType, "Author an SBAR handoff report",
		&textStep{
			name:        "situation",
			description: "Describe the current situation",
			field:       fieldSituation,
			payloadKey:  "situation",
		},
		&textStep{
			name:        "background",
			description: "Relevant patient background",
			field:       fieldBackground,
			payloadKey:  "background",
		},
		&assessmentStep{enhancer: enhancer},
		&recommendationStep{renderer: renderer},
	)
}
