package sbar

import (
	"context"
	"strings"

	"github.com/docwell/stepflow/pkg/models"
	"github.com/docwell/stepflow/pkg/protocol"
	"github.com/docwell/stepflow/pkg/wizard"
)

const maxSectionLength = 4000

func stringField(session *models.Session, key string) string {
	value, _ := session.Fields[key].(string)

	return value
}

func sectionSchema(key, description string) *models.JSONSchema {
	return &models.JSONSchema{
		Type: "object",
		Properties: map[string]*models.Property{
			key: {Type: "string", Description: description},
		},
		Required: []string{key},
	}
}

func validateSection(payload map[string]any, key string) []string {
	text, _ := payload[key].(string)

	switch {
	case strings.TrimSpace(text) == "":
		return []string{key + " must not be blank"}
	case len(text) > maxSectionLength:
		return []string{key + " is too long"}
	}

	return nil
}

// textStep captures one free-text section verbatim.
type textStep struct {
	name        string
	description string
	field       string
	payloadKey  string
}

func (s *textStep) Name() string        { return s.name }
func (s *textStep) Description() string { return s.description }

func (s *textStep) Schema() *models.JSONSchema {
	return sectionSchema(s.payloadKey, s.description)
}

func (s *textStep) Validate(payload map[string]any, _ *models.Session) []string {
	return validateSection(payload, s.payloadKey)
}

func (s *textStep) Apply(_ context.Context, payload map[string]any, _ *models.Session) (*wizard.Result, error) {
	text, _ := payload[s.payloadKey].(string)

	return &wizard.Result{Fields: map[string]any{s.field: strings.TrimSpace(text)}}, nil
}

// assessmentStep runs the clinician's assessment through the enhancer. The
// original text is kept alongside the enhanced version.
type assessmentStep struct {
	enhancer protocol.Enhancer
}

func (s *assessmentStep) Name() string        { return "assessment" }
func (s *assessmentStep) Description() string { return "Clinical assessment, enhanced for clarity" }

func (s *assessmentStep) Schema() *models.JSONSchema {
	return sectionSchema("assessment", "Clinical assessment notes")
}

func (s *assessmentStep) Validate(payload map[string]any, _ *models.Session) []string {
	return validateSection(payload, "assessment")
}

func (s *assessmentStep) Apply(ctx context.Context, payload map[string]any, session *models.Session) (*wizard.Result, error) {
	raw, _ := payload["assessment"].(string)
	raw = strings.TrimSpace(raw)

	enhanced, err := s.enhancer.Enhance(ctx, raw, map[string]string{
		"document":  "sbar",
		"section":   "assessment",
		"situation": stringField(session, fieldSituation),
	})
	if err != nil {
		return nil, err
	}

	return &wizard.Result{Fields: map[string]any{
		fieldAssessment:             enhanced,
		fieldAssessment + ".source": raw,
	}}, nil
}

// recommendationStep is terminal: it stores the recommendation and renders
// the full report.
type recommendationStep struct {
	renderer protocol.Renderer
}

func (s *recommendationStep) Name() string        { return "recommendation" }
func (s *recommendationStep) Description() string { return "Recommendation and final report" }

func (s *recommendationStep) Schema() *models.JSONSchema {
	return sectionSchema("recommendation", "Recommended actions for the receiving team")
}

func (s *recommendationStep) Validate(payload map[string]any, session *models.Session) []string {
	messages := validateSection(payload, "recommendation")

	if stringField(session, fieldAssessment) == "" {
		messages = append(messages, "assessment is missing; complete the assessment step first")
	}

	return messages
}

func (s *recommendationStep) Apply(ctx context.Context, payload map[string]any, session *models.Session) (*wizard.Result, error) {
	recommendation, _ := payload["recommendation"].(string)
	recommendation = strings.TrimSpace(recommendation)

	documentID, err := s.renderer.Render(ctx, protocol.Document{
		Title: "SBAR Handoff Report",
		Sections: map[string]string{
			"situation":      stringField(session, fieldSituation),
			"background":     stringField(session, fieldBackground),
			"assessment":     stringField(session, fieldAssessment),
			"recommendation": recommendation,
		},
		Metadata: map[string]string{"session_id": session.ID},
	})
	if err != nil {
		return nil, err
	}

	return &wizard.Result{Fields: map[string]any{
		fieldRecommendation: recommendation,
		fieldDocumentID:     documentID,
	}}, nil
}
