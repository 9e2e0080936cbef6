package ehrconnect

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/docwell/stepflow/pkg/models"
	"github.com/docwell/stepflow/pkg/protocol"
	"github.com/docwell/stepflow/pkg/wizard"
)

func stringField(session *models.Session, key string) string {
	value, _ := session.Fields[key].(string)

	return value
}

// credentialsStep collects the OAuth client configuration. No external calls;
// the credentials are only persisted for the next step.
type credentialsStep struct{}

func (s *credentialsStep) Name() string        { return "credentials" }
func (s *credentialsStep) Description() string { return "EHR endpoint and OAuth client credentials" }

func (s *credentialsStep) Schema() *models.JSONSchema {
	return &models.JSONSchema{
		Type: "object",
		Properties: map[string]*models.Property{
			"base_url":      {Type: "string", Description: "EHR endpoint base URL"},
			"client_id":     {Type: "string"},
			"client_secret": {Type: "string"},
		},
		Required: []string{"base_url", "client_id", "client_secret"},
	}
}

func (s *credentialsStep) Validate(payload map[string]any, _ *models.Session) []string {
	var messages []string

	baseURL, _ := payload["base_url"].(string)

	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		messages = append(messages, "base_url must be an absolute URL")
	} else if parsed.Scheme != "https" && parsed.Scheme != "http" {
		messages = append(messages, "base_url must use http or https")
	}

	if clientID, _ := payload["client_id"].(string); strings.TrimSpace(clientID) == "" {
		messages = append(messages, "client_id must not be blank")
	}

	if secret, _ := payload["client_secret"].(string); strings.TrimSpace(secret) == "" {
		messages = append(messages, "client_secret must not be blank")
	}

	return messages
}

func (s *credentialsStep) Apply(_ context.Context, payload map[string]any, _ *models.Session) (*wizard.Result, error) {
	baseURL, _ := payload["base_url"].(string)
	clientID, _ := payload["client_id"].(string)
	clientSecret, _ := payload["client_secret"].(string)

	return &wizard.Result{Fields: map[string]any{
		fieldBaseURL:      strings.TrimRight(baseURL, "/"),
		fieldClientID:     clientID,
		fieldClientSecret: clientSecret,
	}}, nil
}

// authenticateStep exchanges the stored credentials for an access token.
type authenticateStep struct {
	client protocol.EHRClient
}

func (s *authenticateStep) Name() string        { return "authenticate" }
func (s *authenticateStep) Description() string { return "Verify the credentials against the EHR" }

func (s *authenticateStep) Schema() *models.JSONSchema {
	return &models.JSONSchema{Type: "object", Properties: map[string]*models.Property{}}
}

func (s *authenticateStep) Validate(_ map[string]any, session *models.Session) []string {
	if stringField(session, fieldBaseURL) == "" {
		return []string{"credentials are missing; complete the credentials step first"}
	}

	return nil
}

func (s *authenticateStep) Apply(ctx context.Context, _ map[string]any, session *models.Session) (*wizard.Result, error) {
	token, err := s.client.Authenticate(ctx, protocol.Credentials{
		BaseURL:      stringField(session, fieldBaseURL),
		ClientID:     stringField(session, fieldClientID),
		ClientSecret: stringField(session, fieldClientSecret),
	})
	if err != nil {
		return nil, err
	}

	return &wizard.Result{Fields: map[string]any{
		fieldAccessToken: token.AccessToken,
		fieldTokenType:   token.TokenType,
	}}, nil
}

// connectivityStep fetches a caller-chosen test resource to prove the token
// actually grants data access, not just a token endpoint handshake.
type connectivityStep struct {
	client protocol.EHRClient
}

func (s *connectivityStep) Name() string        { return "connectivity" }
func (s *connectivityStep) Description() string { return "Fetch a test resource through the connection" }

func (s *connectivityStep) Schema() *models.JSONSchema {
	return &models.JSONSchema{
		Type: "object",
		Properties: map[string]*models.Property{
			"resource_kind": {Type: "string", Description: "Resource type to fetch, e.g. Patient"},
			"resource_id":   {Type: "string"},
		},
		Required: []string{"resource_kind", "resource_id"},
	}
}

func (s *connectivityStep) Validate(payload map[string]any, session *models.Session) []string {
	var messages []string

	if kind, _ := payload["resource_kind"].(string); strings.TrimSpace(kind) == "" {
		messages = append(messages, "resource_kind must not be blank")
	}

	if id, _ := payload["resource_id"].(string); strings.TrimSpace(id) == "" {
		messages = append(messages, "resource_id must not be blank")
	}

	if stringField(session, fieldAccessToken) == "" {
		messages = append(messages, "no access token; complete the authenticate step first")
	}

	return messages
}

func (s *connectivityStep) Apply(ctx context.Context, payload map[string]any, session *models.Session) (*wizard.Result, error) {
	kind, _ := payload["resource_kind"].(string)
	id, _ := payload["resource_id"].(string)

	token := &protocol.Token{
		AccessToken: stringField(session, fieldAccessToken),
		TokenType:   stringField(session, fieldTokenType),
		BaseURL:     stringField(session, fieldBaseURL),
	}

	resource, err := s.client.FetchResource(ctx, token, kind, id)
	if err != nil {
		if errors.Is(err, protocol.ErrResourceNotFound) {
			return nil, protocol.NewPermanentError("ehr",
				fmt.Errorf("test resource %s/%s does not exist: %w", kind, id, err))
		}

		return nil, err
	}

	return &wizard.Result{Fields: map[string]any{fieldVerifiedID: resource.ID}}, nil
}

// activateStep is terminal: it flips the connector live. Everything was
// verified by the earlier steps, so activation itself is local.
type activateStep struct{}

func (s *activateStep) Name() string        { return "activate" }
func (s *activateStep) Description() string { return "Activate the verified connection" }

func (s *activateStep) Schema() *models.JSONSchema {
	return &models.JSONSchema{
		Type: "object",
		Properties: map[string]*models.Property{
			"confirm": {Type: "boolean"},
		},
		Required: []string{"confirm"},
	}
}

func (s *activateStep) Validate(payload map[string]any, session *models.Session) []string {
	var messages []string

	if confirmed, _ := payload["confirm"].(bool); !confirmed {
		messages = append(messages, "activation requires explicit confirmation")
	}

	if stringField(session, fieldVerifiedID) == "" {
		messages = append(messages, "connectivity has not been verified")
	}

	return messages
}

func (s *activateStep) Apply(_ context.Context, _ map[string]any, _ *models.Session) (*wizard.Result, error) {
	return &wizard.Result{Activated: true}, nil
}
