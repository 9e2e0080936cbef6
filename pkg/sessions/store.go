// Package sessions provides the storage abstraction for wizard sessions.
package sessions

import (
	"context"

	"github.com/docwell/stepflow/pkg/models"
)

// Store owns durable session state. All implementations hand out defensive
// copies: mutating a returned session has no effect until Save.
//
// Save uses optimistic concurrency: it fails with ErrConflict unless the
// stored session's UpdatedAt equals the UpdatedAt the caller loaded. On
// success the store bumps UpdatedAt, and the caller's copy is updated to
// match, so a subsequent Save from the same copy still wins. A save is
// all-or-nothing; a concurrent reader never observes a half-written session.
type Store interface {
	// Create persists a fresh session. Fails with ErrSessionExists when the
	// ID is already present.
	Create(ctx context.Context, session *models.Session) error

	// Get loads a session. Fails with ErrSessionNotFound when absent and
	// ErrSessionExpired when the session idled past the store's TTL;
	// expired sessions may be hard-deleted lazily during the lookup.
	Get(ctx context.Context, id string) (*models.Session, error)

	// Save atomically replaces the stored session, subject to the
	// optimistic-concurrency check described above.
	Save(ctx context.Context, session *models.Session) error

	// Delete removes a session. Idempotent: absent IDs are not an error.
	Delete(ctx context.Context, id string) error

	// PurgeExpired removes every session that idled past the store's TTL
	// and returns how many were removed. Backends with server-side expiry
	// may report zero.
	PurgeExpired(ctx context.Context) (int, error)

	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
