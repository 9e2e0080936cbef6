package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const enhancerName = "enhancer"

// HTTPEnhancer calls the clinical text enhancement service.
type HTTPEnhancer struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPEnhancer(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPEnhancer {
	return &HTTPEnhancer{
		baseURL: baseURL,
		client:  newHTTPClient(timeout),
		logger:  logger.With("module", "enhancer_client"),
	}
}

type enhanceRequest struct {
	Text    string            `json:"text"`
	Context map[string]string `json:"context,omitempty"`
}

type enhanceResponse struct {
	EnhancedText string `json:"enhanced_text"`
}

func (e *HTTPEnhancer) Enhance(ctx context.Context, rawText string, enhanceContext map[string]string) (string, error) {
	body, err := json.Marshal(enhanceRequest{Text: rawText, Context: enhanceContext})
	if err != nil {
		return "", fmt.Errorf("failed to encode enhance request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/enhance", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build enhance request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", classifyTransport(enhancerName, err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			e.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(enhancerName, resp.StatusCode)
	}

	var enhanced enhanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&enhanced); err != nil {
		return "", classifyTransport(enhancerName, err)
	}

	return enhanced.EnhancedText, nil
}
