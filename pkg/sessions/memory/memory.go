// Package memory provides an in-process session store. It is the default
// backing for tests and single-node deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/docwell/stepflow/pkg/models"
	"github.com/docwell/stepflow/pkg/sessions"
)

// Store implements sessions.Store over a mutex-guarded map.
type Store struct {
	mu   sync.RWMutex
	data map[string]*models.Session
	ttl  time.Duration
	now  func() time.Time
}

type Option func(*Store)

// WithClock overrides the time source. Used by expiry tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a memory store. A non-positive ttl disables expiry.
func NewStore(ttl time.Duration, opts ...Option) *Store {
	store := &Store{
		data: make(map[string]*models.Session),
		ttl:  ttl,
		now:  time.Now,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[session.ID]; exists {
		return sessions.NewStoreError("Create", session.ID, sessions.ErrSessionExists)
	}

	s.data[session.ID] = session.Clone()

	return nil
}

func (s *Store) Get(_ context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.data[id]
	if !ok {
		return nil, sessions.NewStoreError("Get", id, sessions.ErrSessionNotFound)
	}

	if stored.ExpiresAfter(s.ttl, s.now()) {
		delete(s.data, id)

		return nil, sessions.NewStoreError("Get", id, sessions.ErrSessionExpired)
	}

	return stored.Clone(), nil
}

func (s *Store) Save(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.data[session.ID]
	if !ok {
		return sessions.NewStoreError("Save", session.ID, sessions.ErrSessionNotFound)
	}

	if !stored.UpdatedAt.Equal(session.UpdatedAt) {
		return sessions.NewStoreError("Save", session.ID, sessions.ErrConflict)
	}

	session.UpdatedAt = s.now()
	s.data[session.ID] = session.Clone()

	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, id)

	return nil
}

func (s *Store) PurgeExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	purged := 0

	for id, stored := range s.data {
		if stored.ExpiresAfter(s.ttl, now) {
			delete(s.data, id)

			purged++
		}
	}

	return purged, nil
}

func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

func (s *Store) Close(_ context.Context) error {
	return nil
}
