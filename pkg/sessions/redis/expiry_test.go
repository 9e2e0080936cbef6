package redis

import (
	"testing"
	"time"

	"github.com/docwell/stepflow/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestExpiry_CompletedSessionsKeepNoTTL(t *testing.T) {
	t.Parallel()

	store := NewStoreWithClient(nil, time.Hour)
	session := models.NewSession("sess-1", "sbar-report", time.Now().UTC())

	assert.Equal(t, time.Hour, store.expiry(session))

	session.Status = models.SessionStatusCompleted
	assert.Equal(t, time.Duration(0), store.expiry(session),
		"completed sessions must not be reaped by key TTL")

	session.Status = models.SessionStatusAbandoned
	assert.Equal(t, time.Hour, store.expiry(session))
}
