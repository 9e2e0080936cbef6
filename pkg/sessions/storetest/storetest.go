// Package storetest is a conformance suite for sessions.Store backends.
// Every backend runs the same suite so the optimistic-concurrency and expiry
// contracts hold regardless of backing.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/docwell/stepflow/pkg/models"
	"github.com/docwell/stepflow/pkg/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TTL is the session TTL the suite expects the store under test to be
// configured with.
const TTL = time.Hour

// Options tunes the suite for backends whose expiry model differs from the
// default lazy, client-side one.
type Options struct {
	// ServerSideExpiry marks backends that delegate expiry to the server,
	// such as Redis key TTLs. The lazy-expiry subtests fabricate stale
	// UpdatedAt values the server never inspects, so they are skipped.
	ServerSideExpiry bool
}

// Run executes the conformance suite. newStore must return a store configured
// with the TTL above. The store need not be empty: every subtest works on
// sessions with unique IDs, so the suite is safe against shared servers.
func Run(t *testing.T, newStore func(t *testing.T) sessions.Store) {
	t.Helper()

	RunOptions(t, newStore, Options{})
}

// RunOptions is Run with backend-specific tuning.
func RunOptions(t *testing.T, newStore func(t *testing.T) sessions.Store, opts Options) {
	t.Helper()

	tests := []struct {
		name       string
		fn         func(t *testing.T, store sessions.Store)
		lazyExpiry bool
	}{
		{name: "CreateAndGetRoundTrip", fn: testCreateAndGetRoundTrip},
		{name: "CreateDuplicate", fn: testCreateDuplicate},
		{name: "GetMissing", fn: testGetMissing},
		{name: "SaveConflict", fn: testSaveConflict},
		{name: "SaveMissing", fn: testSaveMissing},
		{name: "SaveBumpsUpdatedAt", fn: testSaveBumpsUpdatedAt},
		{name: "DeleteIdempotent", fn: testDeleteIdempotent},
		{name: "GetExpired", fn: testGetExpired, lazyExpiry: true},
		{name: "PurgeExpired", fn: testPurgeExpired, lazyExpiry: true},
		{name: "StoredStateIsIsolated", fn: testStoredStateIsIsolated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.lazyExpiry && opts.ServerSideExpiry {
				t.Skip("expiry is server-side for this backend")
			}

			store := newStore(t)
			defer func() {
				_ = store.Close(context.Background())
			}()

			tt.fn(t, store)
		})
	}
}

func newSession(prefix string) *models.Session {
	id := prefix + "-" + uuid.NewString()[:8]
	session := models.NewSession(id, "sbar-report", time.Now().UTC().Truncate(time.Millisecond))
	session.Fields["step1.situation"] = "patient admitted overnight"
	session.MarkCompleted(1)

	return session
}

func testCreateAndGetRoundTrip(t *testing.T, store sessions.Store) {
	ctx := context.Background()
	session := newSession("sess-roundtrip")

	require.NoError(t, store.Create(ctx, session))

	loaded, err := store.Get(ctx, session.ID)
	require.NoError(t, err)

	assert.Equal(t, session.ID, loaded.ID)
	assert.Equal(t, session.WizardType, loaded.WizardType)
	assert.Equal(t, session.CurrentStep, loaded.CurrentStep)
	assert.Equal(t, session.CompletedSteps, loaded.CompletedSteps)
	assert.Equal(t, "patient admitted overnight", loaded.Fields["step1.situation"])
	assert.Equal(t, session.Status, loaded.Status)
	assert.True(t, session.UpdatedAt.Equal(loaded.UpdatedAt))
}

func testCreateDuplicate(t *testing.T, store sessions.Store) {
	ctx := context.Background()
	session := newSession("sess-dup")

	require.NoError(t, store.Create(ctx, session))

	duplicate := newSession("sess-dup")
	duplicate.ID = session.ID

	err := store.Create(ctx, duplicate)
	assert.True(t, sessions.IsAlreadyExists(err))
}

func testGetMissing(t *testing.T, store sessions.Store) {
	_, err := store.Get(context.Background(), "sess-missing-"+uuid.NewString()[:8])
	assert.True(t, sessions.IsNotFound(err))
}

func testSaveConflict(t *testing.T, store sessions.Store) {
	ctx := context.Background()
	session := newSession("sess-conflict")

	require.NoError(t, store.Create(ctx, session))

	first, err := store.Get(ctx, session.ID)
	require.NoError(t, err)

	second, err := store.Get(ctx, session.ID)
	require.NoError(t, err)

	first.Fields["step2.background"] = "first writer"
	require.NoError(t, store.Save(ctx, first))

	second.Fields["step2.background"] = "second writer"
	err = store.Save(ctx, second)
	assert.True(t, sessions.IsConflict(err))

	loaded, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "first writer", loaded.Fields["step2.background"])
}

func testSaveMissing(t *testing.T, store sessions.Store) {
	err := store.Save(context.Background(), newSession("sess-never-created"))
	assert.True(t, sessions.IsNotFound(err))
}

func testSaveBumpsUpdatedAt(t *testing.T, store sessions.Store) {
	ctx := context.Background()
	session := newSession("sess-touch")

	require.NoError(t, store.Create(ctx, session))

	loaded, err := store.Get(ctx, session.ID)
	require.NoError(t, err)

	before := loaded.UpdatedAt
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, store.Save(ctx, loaded))
	assert.True(t, loaded.UpdatedAt.After(before),
		"Save must refresh the caller's UpdatedAt so a follow-up Save still wins")

	reloaded, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.UpdatedAt.Equal(loaded.UpdatedAt))
}

func testDeleteIdempotent(t *testing.T, store sessions.Store) {
	ctx := context.Background()
	session := newSession("sess-delete")

	require.NoError(t, store.Create(ctx, session))
	require.NoError(t, store.Delete(ctx, session.ID))
	require.NoError(t, store.Delete(ctx, session.ID))

	_, err := store.Get(ctx, session.ID)
	assert.True(t, sessions.IsNotFound(err))
}

func testGetExpired(t *testing.T, store sessions.Store) {
	ctx := context.Background()

	session := newSession("sess-expired")
	session.CreatedAt = time.Now().UTC().Add(-2 * TTL)
	session.UpdatedAt = session.CreatedAt

	require.NoError(t, store.Create(ctx, session))

	_, err := store.Get(ctx, session.ID)
	assert.True(t, sessions.IsNotFound(err))
}

func testPurgeExpired(t *testing.T, store sessions.Store) {
	ctx := context.Background()

	stale := newSession("sess-stale")
	stale.CreatedAt = time.Now().UTC().Add(-2 * TTL)
	stale.UpdatedAt = stale.CreatedAt
	require.NoError(t, store.Create(ctx, stale))

	fresh := newSession("sess-fresh")
	require.NoError(t, store.Create(ctx, fresh))

	// A shared database may hold stale sessions from other runs, so only a
	// lower bound on the purge count is portable.
	purged, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, purged, 1)

	_, err = store.Get(ctx, stale.ID)
	assert.True(t, sessions.IsNotFound(err))

	_, err = store.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func testStoredStateIsIsolated(t *testing.T, store sessions.Store) {
	ctx := context.Background()
	session := newSession("sess-isolated")

	require.NoError(t, store.Create(ctx, session))

	// Mutating the caller's copy after Create must not leak into the store.
	session.Fields["step1.situation"] = "mutated after create"

	loaded, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "patient admitted overnight", loaded.Fields["step1.situation"])

	// Same for copies handed out by Get.
	loaded.Fields["step1.situation"] = "mutated after get"

	reloaded, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "patient admitted overnight", reloaded.Fields["step1.situation"])
}
