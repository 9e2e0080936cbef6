// Package file provides a file-backed session store: one JSON document per
// session under <root>/sessions, written atomically via rename.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docwell/stepflow/pkg/models"
	"github.com/docwell/stepflow/pkg/sessions"
)

// Store implements sessions.Store on the local file system. A process-wide
// mutex serializes the check-and-swap; cross-process sharing is not supported.
type Store struct {
	root string
	ttl  time.Duration
	mu   sync.Mutex
}

// NewStore creates a file store rooted at the given directory. Accepts a
// plain path or a file:// URL.
func NewStore(root string, ttl time.Duration) (*Store, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	if err := os.MkdirAll(filepath.Join(cleanRoot, "sessions"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	return &Store{root: cleanRoot, ttl: ttl}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.root, "sessions", id+".json")
}

func (s *Store) read(id string) (*models.Session, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, sessions.ErrSessionNotFound
		}

		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session file: %w", err)
	}

	return &session, nil
}

// write replaces the session file atomically: marshal to a temp file in the
// same directory, then rename over the target.
func (s *Store) write(session *models.Session) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	dir := filepath.Dir(s.path(session.ID))

	tmp, err := os.CreateTemp(dir, session.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write session file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path(session.ID)); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to replace session file: %w", err)
	}

	return nil
}

func (s *Store) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.read(session.ID); err == nil {
		return sessions.NewStoreError("Create", session.ID, sessions.ErrSessionExists)
	}

	if err := s.write(session); err != nil {
		return sessions.NewStoreError("Create", session.ID, err)
	}

	return nil
}

func (s *Store) Get(_ context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.read(id)
	if err != nil {
		return nil, sessions.NewStoreError("Get", id, err)
	}

	if session.ExpiresAfter(s.ttl, time.Now()) {
		_ = os.Remove(s.path(id))

		return nil, sessions.NewStoreError("Get", id, sessions.ErrSessionExpired)
	}

	return session, nil
}

func (s *Store) Save(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.read(session.ID)
	if err != nil {
		return sessions.NewStoreError("Save", session.ID, err)
	}

	if !stored.UpdatedAt.Equal(session.UpdatedAt) {
		return sessions.NewStoreError("Save", session.ID, sessions.ErrConflict)
	}

	session.UpdatedAt = time.Now().UTC()

	if err := s.write(session); err != nil {
		return sessions.NewStoreError("Save", session.ID, err)
	}

	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return sessions.NewStoreError("Delete", id, err)
	}

	return nil
}

func (s *Store) PurgeExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := os.DirFS(filepath.Join(s.root, "sessions"))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return 0, fmt.Errorf("failed to list session files: %w", err)
	}

	now := time.Now()
	purged := 0

	for _, file := range jsonFiles {
		id := strings.TrimSuffix(file, ".json")

		session, err := s.read(id)
		if err != nil {
			continue
		}

		if session.ExpiresAfter(s.ttl, now) {
			if err := os.Remove(s.path(id)); err == nil {
				purged++
			}
		}
	}

	return purged, nil
}

func (s *Store) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (s *Store) Close(_ context.Context) error {
	return nil
}
