// Package collaborators provides the HTTP adapters for the external services
// wizard steps call: the text enhancer, EHR endpoints and the document
// renderer. Every adapter classifies failures at the boundary so the engine
// can tell a retryable outage from a rejected input.
package collaborators

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/docwell/stepflow/pkg/protocol"
)

const defaultTimeout = 30 * time.Second

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &http.Client{Timeout: timeout}
}

// classifyTransport wraps a transport-level failure. Network errors and
// timeouts are always worth retrying.
func classifyTransport(collaborator string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	return protocol.NewTransientError(collaborator, err)
}

// classifyStatus wraps a non-2xx response. 5xx means the service is unwell
// and the same request may succeed later; anything else means the request
// itself was rejected.
func classifyStatus(collaborator string, statusCode int) error {
	err := fmt.Errorf("unexpected status %d", statusCode)

	if statusCode >= http.StatusInternalServerError {
		return protocol.NewTransientError(collaborator, err)
	}

	return protocol.NewPermanentError(collaborator, err)
}
