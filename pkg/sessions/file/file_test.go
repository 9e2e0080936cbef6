package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docwell/stepflow/pkg/models"
	"github.com/docwell/stepflow/pkg/sessions"
	"github.com/docwell/stepflow/pkg/sessions/file"
	"github.com/docwell/stepflow/pkg/sessions/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Conformance(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) sessions.Store {
		store, err := file.NewStore(t.TempDir(), storetest.TTL)
		require.NoError(t, err)

		return store
	})
}

func TestNewStore_AcceptsFileURL(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	store, err := file.NewStore("file://"+dir, time.Hour)
	require.NoError(t, err)

	ctx := context.Background()
	session := models.NewSession("sess-url", "sbar-report", time.Now())
	require.NoError(t, store.Create(ctx, session))

	_, err = os.Stat(filepath.Join(dir, "sessions", "sess-url.json"))
	assert.NoError(t, err)
}

func TestStore_SurvivesReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	store, err := file.NewStore(dir, time.Hour)
	require.NoError(t, err)

	session := models.NewSession("sess-durable", "epic-integration", time.Now().UTC())
	session.Fields["step1.baseUrl"] = "https://fhir.example.org"
	require.NoError(t, store.Create(ctx, session))
	require.NoError(t, store.Close(ctx))

	reopened, err := file.NewStore(dir, time.Hour)
	require.NoError(t, err)

	loaded, err := reopened.Get(ctx, "sess-durable")
	require.NoError(t, err)
	assert.Equal(t, "https://fhir.example.org", loaded.Fields["step1.baseUrl"])
}
