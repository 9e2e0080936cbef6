package patiented

import (
	"context"
	"strings"

	"github.com/docwell/stepflow/pkg/models"
	"github.com/docwell/stepflow/pkg/protocol"
	"github.com/docwell/stepflow/pkg/wizard"
)

const maxContentLength = 20000

var audiences = []string{"patient", "caregiver", "pediatric"}

func stringField(session *models.Session, key string) string {
	value, _ := session.Fields[key].(string)

	return value
}

// topicStep captures the handout topic and target audience.
type topicStep struct{}

func (s *topicStep) Name() string        { return "topic" }
func (s *topicStep) Description() string { return "Topic and audience for the handout" }

func (s *topicStep) Schema() *models.JSONSchema {
	return &models.JSONSchema{
		Type: "object",
		Properties: map[string]*models.Property{
			"topic":    {Type: "string", Description: "Condition or procedure the handout covers"},
			"audience": {Type: "string", Enum: []any{"patient", "caregiver", "pediatric"}},
		},
		Required: []string{"topic"},
	}
}

func (s *topicStep) Validate(payload map[string]any, _ *models.Session) []string {
	var messages []string

	if topic, _ := payload["topic"].(string); strings.TrimSpace(topic) == "" {
		messages = append(messages, "topic must not be blank")
	}

	if audience, ok := payload["audience"].(string); ok && audience != "" {
		known := false

		for _, candidate := range audiences {
			if audience == candidate {
				known = true

				break
			}
		}

		if !known {
			messages = append(messages, "audience must be one of: "+strings.Join(audiences, ", "))
		}
	}

	return messages
}

func (s *topicStep) Apply(_ context.Context, payload map[string]any, _ *models.Session) (*wizard.Result, error) {
	topic, _ := payload["topic"].(string)

	audience, _ := payload["audience"].(string)
	if audience == "" {
		audience = "patient"
	}

	return &wizard.Result{Fields: map[string]any{
		fieldTopic:    strings.TrimSpace(topic),
		fieldAudience: audience,
	}}, nil
}

// contentStep drafts the handout body and runs it through the enhancer so
// the language matches the audience's reading level.
type contentStep struct {
	enhancer protocol.Enhancer
}

func (s *contentStep) Name() string        { return "content" }
func (s *contentStep) Description() string { return "Draft the handout content" }

func (s *contentStep) Schema() *models.JSONSchema {
	return &models.JSONSchema{
		Type: "object",
		Properties: map[string]*models.Property{
			"content": {Type: "string"},
		},
		Required: []string{"content"},
	}
}

func (s *contentStep) Validate(payload map[string]any, _ *models.Session) []string {
	content, _ := payload["content"].(string)

	switch {
	case strings.TrimSpace(content) == "":
		return []string{"content must not be blank"}
	case len(content) > maxContentLength:
		return []string{"content is too long"}
	}

	return nil
}

func (s *contentStep) Apply(ctx context.Context, payload map[string]any, session *models.Session) (*wizard.Result, error) {
	raw, _ := payload["content"].(string)
	raw = strings.TrimSpace(raw)

	enhanced, err := s.enhancer.Enhance(ctx, raw, map[string]string{
		"document": "patient_education",
		"topic":    stringField(session, fieldTopic),
		"audience": stringField(session, fieldAudience),
	})
	if err != nil {
		return nil, err
	}

	return &wizard.Result{Fields: map[string]any{
		fieldContent:             enhanced,
		fieldContent + ".source": raw,
	}}, nil
}

// reviewStep is terminal: the clinician approves the enhanced content and the
// handout is rendered.
type reviewStep struct {
	renderer protocol.Renderer
}

func (s *reviewStep) Name() string        { return "review" }
func (s *reviewStep) Description() string { return "Approve and render the handout" }

func (s *reviewStep) Schema() *models.JSONSchema {
	return &models.JSONSchema{
		Type: "object",
		Properties: map[string]*models.Property{
			"approved": {Type: "boolean"},
		},
		Required: []string{"approved"},
	}
}

func (s *reviewStep) Validate(payload map[string]any, session *models.Session) []string {
	var messages []string

	if approved, _ := payload["approved"].(bool); !approved {
		messages = append(messages, "the handout must be approved before rendering")
	}

	if stringField(session, fieldContent) == "" {
		messages = append(messages, "content is missing; complete the content step first")
	}

	return messages
}

func (s *reviewStep) Apply(ctx context.Context, _ map[string]any, session *models.Session) (*wizard.Result, error) {
	documentID, err := s.renderer.Render(ctx, protocol.Document{
		Title: stringField(session, fieldTopic),
		Sections: map[string]string{
			"content": stringField(session, fieldContent),
		},
		Metadata: map[string]string{
			"audience":   stringField(session, fieldAudience),
			"session_id": session.ID,
		},
	})
	if err != nil {
		return nil, err
	}

	return &wizard.Result{Fields: map[string]any{fieldDocumentID: documentID}}, nil
}
