package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/docwell/stepflow/pkg/protocol"
)

const rendererName = "renderer"

// HTTPRenderer submits assembled documents to the rendering service and
// returns the handle under which the artifact can be fetched later.
type HTTPRenderer struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPRenderer(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPRenderer {
	return &HTTPRenderer{
		baseURL: baseURL,
		client:  newHTTPClient(timeout),
		logger:  logger.With("module", "renderer_client"),
	}
}

type renderResponse struct {
	DocumentID string `json:"document_id"`
}

func (r *HTTPRenderer) Render(ctx context.Context, doc protocol.Document) (string, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/documents", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build render request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", classifyTransport(rendererName, err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", classifyStatus(rendererName, resp.StatusCode)
	}

	var rendered renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&rendered); err != nil {
		return "", classifyTransport(rendererName, err)
	}

	if rendered.DocumentID == "" {
		return "", protocol.NewPermanentError(rendererName, fmt.Errorf("rendering service returned no document id"))
	}

	return rendered.DocumentID, nil
}
