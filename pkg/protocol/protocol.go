// Package protocol defines the external collaborator contracts consumed by
// wizard steps. Implementations live outside the engine; steps only ever see
// these interfaces.
package protocol

import "context"

// Enhancer improves raw clinical text (an AI-backed service in production).
type Enhancer interface {
	Enhance(ctx context.Context, rawText string, enhanceContext map[string]string) (string, error)
}

// Credentials carries the OAuth client configuration for an EHR endpoint.
type Credentials struct {
	BaseURL      string `json:"base_url"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Token is an opaque access token returned by a successful authentication.
// BaseURL records the endpoint the token was issued by, so later resource
// fetches hit the same system.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	BaseURL     string `json:"-"`
}

// Resource is a fetched EHR resource, kept loosely typed on purpose: the
// engine only inspects identity fields during connectivity tests.
type Resource struct {
	Kind string         `json:"kind"`
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// EHRClient talks to an external EHR system during connector setup.
type EHRClient interface {
	Authenticate(ctx context.Context, creds Credentials) (*Token, error)
	FetchResource(ctx context.Context, token *Token, kind, id string) (*Resource, error)
}

// Document is the assembled content handed to the renderer by a terminal
// authoring step.
type Document struct {
	Title    string            `json:"title"`
	Sections map[string]string `json:"sections"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Renderer produces the finished artifact (PDF or similar) and returns an
// opaque handle for later retrieval.
type Renderer interface {
	Render(ctx context.Context, doc Document) (string, error)
}
