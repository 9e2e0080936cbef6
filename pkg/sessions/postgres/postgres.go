// Package postgres provides a PostgreSQL-backed session store. The
// optimistic-concurrency check rides the updated_at guard on UPDATE.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docwell/stepflow/pkg/models"
	"github.com/docwell/stepflow/pkg/sessions"
	_ "github.com/lib/pq" // postgres driver
)

// Store implements sessions.Store over a PostgreSQL database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	ttl    time.Duration
}

// NewStore connects to the database and runs pending migrations.
func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string, ttl time.Duration) (*Store, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	manager := newMigrationManager(logger, database, migrations())
	if err := manager.runMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: database, logger: logger, ttl: ttl}, nil
}

type sessionRow struct {
	completedSteps []byte
	fields         []byte
	errs           []byte
	warnings       []byte
}

func (s *Store) Create(ctx context.Context, session *models.Session) error {
	completed, fields, errs, warnings, err := marshalParts(session)
	if err != nil {
		return sessions.NewStoreError("Create", session.ID, err)
	}

	// Timestamp columns hold microseconds. Truncate on the way in so the
	// caller's copy stays byte-equal with the row and the updated_at guard
	// in Save keeps matching.
	session.CreatedAt = session.CreatedAt.Truncate(time.Microsecond)
	session.UpdatedAt = session.UpdatedAt.Truncate(time.Microsecond)

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO wizard_sessions
			(id, wizard_type, current_step, completed_steps, fields, errors, warnings, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		session.ID, session.WizardType, session.CurrentStep,
		completed, fields, errs, warnings,
		string(session.Status), session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return sessions.NewStoreError("Create", session.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return sessions.NewStoreError("Create", session.ID, err)
	}

	if affected == 0 {
		return sessions.NewStoreError("Create", session.ID, sessions.ErrSessionExists)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.scanSession(ctx, id)
	if err != nil {
		return nil, sessions.NewStoreError("Get", id, err)
	}

	if session.ExpiresAfter(s.ttl, time.Now()) {
		if err := s.Delete(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "Failed to reap expired session", "session_id", id, "error", err)
		}

		return nil, sessions.NewStoreError("Get", id, sessions.ErrSessionExpired)
	}

	return session, nil
}

func (s *Store) scanSession(ctx context.Context, id string) (*models.Session, error) {
	var (
		session models.Session
		row     sessionRow
		status  string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, wizard_type, current_step, completed_steps, fields, errors, warnings, status, created_at, updated_at
		FROM wizard_sessions WHERE id = $1`, id,
	).Scan(
		&session.ID, &session.WizardType, &session.CurrentStep,
		&row.completedSteps, &row.fields, &row.errs, &row.warnings,
		&status, &session.CreatedAt, &session.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sessions.ErrSessionNotFound
	}

	if err != nil {
		return nil, err
	}

	session.Status = models.SessionStatus(status)

	if err := unmarshalParts(&session, row); err != nil {
		return nil, err
	}

	return &session, nil
}

func (s *Store) Save(ctx context.Context, session *models.Session) error {
	completed, fields, errs, warnings, err := marshalParts(session)
	if err != nil {
		return sessions.NewStoreError("Save", session.ID, err)
	}

	updatedAt := time.Now().UTC().Truncate(time.Microsecond)

	result, err := s.db.ExecContext(ctx, `
		UPDATE wizard_sessions
		SET current_step = $2, completed_steps = $3, fields = $4, errors = $5,
			warnings = $6, status = $7, updated_at = $8
		WHERE id = $1 AND updated_at = $9`,
		session.ID, session.CurrentStep,
		completed, fields, errs, warnings,
		string(session.Status), updatedAt, session.UpdatedAt,
	)
	if err != nil {
		return sessions.NewStoreError("Save", session.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return sessions.NewStoreError("Save", session.ID, err)
	}

	if affected == 0 {
		// Guard failed: either the row is gone or another writer won.
		if _, err := s.scanSession(ctx, session.ID); errors.Is(err, sessions.ErrSessionNotFound) {
			return sessions.NewStoreError("Save", session.ID, sessions.ErrSessionNotFound)
		}

		return sessions.NewStoreError("Save", session.ID, sessions.ErrConflict)
	}

	session.UpdatedAt = updatedAt

	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM wizard_sessions WHERE id = $1`, id); err != nil {
		return sessions.NewStoreError("Delete", id, err)
	}

	return nil
}

func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-s.ttl)

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM wizard_sessions WHERE updated_at < $1 AND status != $2`,
		cutoff, string(models.SessionStatusCompleted),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired sessions: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(affected), nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (s *Store) Close(_ context.Context) error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

func marshalParts(session *models.Session) (completed, fields, errs, warnings []byte, err error) {
	if completed, err = json.Marshal(session.CompletedSteps); err != nil {
		return nil, nil, nil, nil, err
	}

	if fields, err = json.Marshal(session.Fields); err != nil {
		return nil, nil, nil, nil, err
	}

	if errs, err = json.Marshal(session.Errors); err != nil {
		return nil, nil, nil, nil, err
	}

	if warnings, err = json.Marshal(session.Warnings); err != nil {
		return nil, nil, nil, nil, err
	}

	return completed, fields, errs, warnings, nil
}

func unmarshalParts(session *models.Session, row sessionRow) error {
	if err := json.Unmarshal(row.completedSteps, &session.CompletedSteps); err != nil {
		return err
	}

	if err := json.Unmarshal(row.fields, &session.Fields); err != nil {
		return err
	}

	if err := json.Unmarshal(row.errs, &session.Errors); err != nil {
		return err
	}

	return json.Unmarshal(row.warnings, &session.Warnings)
}
