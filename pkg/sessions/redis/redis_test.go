package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docwell/stepflow/pkg/models"
	"github.com/docwell/stepflow/pkg/sessions"
	"github.com/docwell/stepflow/pkg/sessions/redis"
	"github.com/docwell/stepflow/pkg/sessions/storetest"
)

// redisURL skips the test unless REDIS_URL points at a reachable server,
// e.g. REDIS_URL=redis://localhost:6379/0.
func redisURL(t *testing.T) string {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	return url
}

func TestStore_Conformance(t *testing.T) {
	url := redisURL(t)

	storetest.RunOptions(t, func(t *testing.T) sessions.Store {
		store, err := redis.NewStore(context.Background(), url, storetest.TTL)
		require.NoError(t, err)

		return store
	}, storetest.Options{ServerSideExpiry: true})
}

func TestStore_SaveDropsTTLOnCompletion(t *testing.T) {
	url := redisURL(t)
	ctx := context.Background()

	store, err := redis.NewStore(ctx, url, time.Hour)
	require.NoError(t, err)

	defer func() {
		_ = store.Close(ctx)
	}()

	opts, err := goredis.ParseURL(url)
	require.NoError(t, err)

	client := goredis.NewClient(opts)
	defer func() {
		_ = client.Close()
	}()

	session := models.NewSession("sess-done-"+uuid.NewString()[:8], "sbar-report", time.Now().UTC())
	require.NoError(t, store.Create(ctx, session))

	key := "stepflow:session:" + session.ID

	ttl, err := client.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl, "in-flight sessions carry the configured TTL")

	session.Status = models.SessionStatusCompleted
	require.NoError(t, store.Save(ctx, session))

	ttl, err = client.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Negative(t, ttl, "completed sessions must persist without a TTL")

	require.NoError(t, client.Del(ctx, key).Err())
}
