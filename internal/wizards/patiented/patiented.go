// Package patiented implements the patient education document wizard: pick a
// topic and audience, draft the content with enhancer assistance, then review
// and render the final handout.
package patiented

import (
	"github.com/docwell/stepflow/pkg/protocol"
	"github.com/docwell/stepflow/pkg/wizard"
)

const WizardType = "patient-education"

const (
	fieldTopic      = "patiented.topic"
	fieldAudience   = "patiented.audience"
	fieldContent    = "patiented.content"
	fieldDocumentID = "patiented.document_id"
)

// New builds the three-step patient education wizard.
func New(enhancer protocol.Enhancer, renderer protocol.Renderer) (*wizard.Definition, error) {
	return wizard.NewDefinition(WizardType, "Create a patient education handout",
		&topicStep{},
		&contentStep{enhancer: enhancer},
		&reviewStep{renderer: renderer},
	)
}
