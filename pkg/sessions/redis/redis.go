// Package redis provides a Redis-backed session store. Optimistic concurrency
// rides WATCH/MULTI on the session key; expiry is server-side via key TTL, so
// PurgeExpired is a no-op here.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/docwell/stepflow/pkg/models"
	"github.com/docwell/stepflow/pkg/sessions"
	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "stepflow:session:"

// Store implements sessions.Store over a Redis connection.
type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewStore connects to the given redis:// URL.
func NewStore(ctx context.Context, url string, ttl time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Store{client: client, ttl: ttl}, nil
}

// NewStoreWithClient wraps an existing client. Used by tests.
func NewStoreWithClient(client redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func key(id string) string {
	return keyPrefix + id
}

// expiry returns the TTL to persist the session with. Completed sessions are
// kept indefinitely, matching models.Session.ExpiresAfter which only reaps
// sessions still in flight.
func (s *Store) expiry(session *models.Session) time.Duration {
	if session.Status == models.SessionStatusCompleted {
		return 0
	}

	return s.ttl
}

func (s *Store) Create(ctx context.Context, session *models.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return sessions.NewStoreError("Create", session.ID, err)
	}

	ok, err := s.client.SetNX(ctx, key(session.ID), payload, s.expiry(session)).Result()
	if err != nil {
		return sessions.NewStoreError("Create", session.ID, err)
	}

	if !ok {
		return sessions.NewStoreError("Create", session.ID, sessions.ErrSessionExists)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Session, error) {
	data, err := s.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		// Redis already reaped expired keys, so absent and expired collapse.
		return nil, sessions.NewStoreError("Get", id, sessions.ErrSessionNotFound)
	}

	if err != nil {
		return nil, sessions.NewStoreError("Get", id, err)
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, sessions.NewStoreError("Get", id, err)
	}

	return &session, nil
}

func (s *Store) Save(ctx context.Context, session *models.Session) error {
	sessionKey := key(session.ID)
	updatedAt := time.Now().UTC()

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, sessionKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return sessions.ErrSessionNotFound
		}

		if err != nil {
			return err
		}

		var stored models.Session
		if err := json.Unmarshal(data, &stored); err != nil {
			return err
		}

		if !stored.UpdatedAt.Equal(session.UpdatedAt) {
			return sessions.ErrConflict
		}

		next := session.Clone()
		next.UpdatedAt = updatedAt

		payload, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, sessionKey, payload, s.expiry(next))

			return nil
		})

		return err
	}

	err := s.client.Watch(ctx, txn, sessionKey)
	if errors.Is(err, redis.TxFailedErr) {
		// Another writer touched the key between GET and EXEC.
		return sessions.NewStoreError("Save", session.ID, sessions.ErrConflict)
	}

	if err != nil {
		return sessions.NewStoreError("Save", session.ID, err)
	}

	session.UpdatedAt = updatedAt

	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, key(id)).Err(); err != nil {
		return sessions.NewStoreError("Delete", id, err)
	}

	return nil
}

func (s *Store) PurgeExpired(_ context.Context) (int, error) {
	return 0, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close(_ context.Context) error {
	return s.client.Close()
}
