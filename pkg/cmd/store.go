// Package cmd provides common initialization functions for command-line
// applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docwell/stepflow/pkg/sessions"
	"github.com/docwell/stepflow/pkg/sessions/file"
	"github.com/docwell/stepflow/pkg/sessions/memory"
	"github.com/docwell/stepflow/pkg/sessions/postgres"
	"github.com/docwell/stepflow/pkg/sessions/redis"
)

// NewStore builds a session store from its URL. Supported schemes: memory://,
// file://, redis://, rediss:// and postgres://. An empty URL falls back to
// the memory store.
func NewStore(ctx context.Context, logger *slog.Logger, storeURL string, ttl time.Duration) (sessions.Store, error) {
	switch storeScheme(storeURL) {
	case "", "memory":
		return memory.NewStore(ttl), nil
	case "file":
		return file.NewStore(storeURL, ttl)
	case "redis", "rediss":
		return redis.NewStore(ctx, storeURL, ttl)
	case "postgres", "postgresql":
		return postgres.NewStore(ctx, logger, storeURL, ttl)
	default:
		return nil, fmt.Errorf("unsupported session store url: %s", storeURL)
	}
}

func storeScheme(storeURL string) string {
	scheme, _, found := strings.Cut(storeURL, "://")
	if !found {
		return ""
	}

	return scheme
}
