package collaborators

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/docwell/stepflow/pkg/protocol"
)

const ehrName = "ehr"

// HTTPEHRClient talks to whichever EHR endpoint the session's credentials
// point at. The client itself is endpoint-agnostic: the base URL travels with
// the credentials and the issued token.
type HTTPEHRClient struct {
	client *http.Client
	logger *slog.Logger
}

func NewHTTPEHRClient(timeout time.Duration, logger *slog.Logger) *HTTPEHRClient {
	return &HTTPEHRClient{
		client: newHTTPClient(timeout),
		logger: logger.With("module", "ehr_client"),
	}
}

func (c *HTTPEHRClient) Authenticate(ctx context.Context, creds protocol.Credentials) (*protocol.Token, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		creds.BaseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransport(ehrName, err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, protocol.NewPermanentError(ehrName, protocol.ErrAuthFailed)
	case resp.StatusCode != http.StatusOK:
		return nil, classifyStatus(ehrName, resp.StatusCode)
	}

	var token protocol.Token
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, classifyTransport(ehrName, err)
	}

	token.BaseURL = creds.BaseURL

	return &token, nil
}

func (c *HTTPEHRClient) FetchResource(ctx context.Context, token *protocol.Token, kind, id string) (*protocol.Resource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/%s/%s", token.BaseURL, kind, id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build resource request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransport(ehrName, err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, protocol.NewPermanentError(ehrName, protocol.ErrResourceNotFound)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, protocol.NewPermanentError(ehrName, protocol.ErrAuthFailed)
	case resp.StatusCode != http.StatusOK:
		return nil, classifyStatus(ehrName, resp.StatusCode)
	}

	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, classifyTransport(ehrName, err)
	}

	return &protocol.Resource{Kind: kind, ID: id, Data: data}, nil
}
