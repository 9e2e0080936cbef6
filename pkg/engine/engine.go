// Package engine orchestrates wizard sessions: it runs step validators and
// side-effect handlers, merges results into session state, and enforces the
// navigation rules. Sessions are loaded and saved through the sessions.Store;
// two concurrent writers race on the store's optimistic-concurrency check and
// the engine retries a lost race once before surfacing the conflict.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docwell/stepflow/pkg/eventbus"
	"github.com/docwell/stepflow/pkg/events"
	"github.com/docwell/stepflow/pkg/models"
	"github.com/docwell/stepflow/pkg/otelhelper"
	"github.com/docwell/stepflow/pkg/protocol"
	"github.com/docwell/stepflow/pkg/registry"
	"github.com/docwell/stepflow/pkg/sessions"
	"github.com/docwell/stepflow/pkg/wizard"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const defaultStepTimeout = 30 * time.Second

type Engine struct {
	store       sessions.Store
	registry    *registry.Registry
	logger      *slog.Logger
	bus         eventbus.EventPublisher
	tracer      trace.Tracer
	stepTimeout time.Duration
}

type Option func(*Engine)

// WithEventBus enables lifecycle event publishing. Publishing is best-effort:
// a failed publish logs and never fails the request.
func WithEventBus(bus eventbus.EventPublisher) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithDefaultStepTimeout bounds Apply calls for steps that do not declare
// their own timeout.
func WithDefaultStepTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		e.stepTimeout = timeout
	}
}

func New(store sessions.Store, reg *registry.Registry, logger *slog.Logger, opts ...Option) *Engine {
	engine := &Engine{
		store:       store,
		registry:    reg,
		logger:      logger,
		tracer:      noop.NewTracerProvider().Tracer("stepflow/engine"),
		stepTimeout: defaultStepTimeout,
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// StartOptions controls session creation.
type StartOptions struct {
	// SessionID pins the session ID; empty means server-generated.
	SessionID string

	// Reset discards an existing session with the same ID before creating.
	Reset bool
}

// Start creates a wizard session, or resumes an existing one when the caller
// supplies a known ID without Reset. The second return value reports whether
// a new session was created.
func (e *Engine) Start(ctx context.Context, wizardType string, opts StartOptions) (*models.Session, bool, error) {
	def, err := e.definition(wizardType)
	if err != nil {
		return nil, false, err
	}

	id := opts.SessionID
	if id == "" {
		id = uuid.New().String()
	}

	existing, err := e.store.Get(ctx, id)

	switch {
	case err == nil && !opts.Reset:
		if existing.WizardType != wizardType {
			return nil, false, ErrWizardTypeMismatch
		}

		return existing, false, nil

	case err == nil && opts.Reset:
		if err := e.store.Delete(ctx, id); err != nil {
			return nil, false, err
		}

	case !sessions.IsNotFound(err):
		return nil, false, err
	}

	session := models.NewSession(id, wizardType, time.Now().UTC())

	if err := e.store.Create(ctx, session); err != nil {
		if sessions.IsAlreadyExists(err) {
			// A concurrent starter won the race between Get and Create.
			// Resume the winner's session instead of failing.
			winner, getErr := e.store.Get(ctx, id)
			if getErr != nil {
				return nil, false, getErr
			}

			if winner.WizardType != wizardType {
				return nil, false, ErrWizardTypeMismatch
			}

			return winner, false, nil
		}

		return nil, false, err
	}

	e.publish(ctx, session.ID, events.SessionStarted{
		BaseEvent:  events.NewBase(events.SessionStartedEvent, session.ID, wizardType),
		TotalSteps: def.TotalSteps(),
	})

	return session, true, nil
}

// State loads the current session snapshot without mutating anything.
// Unlike Submit and Navigate it also serves completed and abandoned
// sessions: finished runs stay readable for audit.
func (e *Engine) State(ctx context.Context, wizardType, sessionID string) (*models.Session, error) {
	if _, err := e.definition(wizardType); err != nil {
		return nil, err
	}

	session, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.WizardType != wizardType {
		return nil, ErrWizardTypeMismatch
	}

	return session, nil
}

// Project derives the progress view for a session of a registered wizard.
func (e *Engine) Project(session *models.Session) (models.Progress, error) {
	def, err := e.definition(session.WizardType)
	if err != nil {
		return models.Progress{}, err
	}

	return Project(session, def), nil
}

// Submit runs the step at stepIndex against the payload: validator first,
// then the side-effect handler, then an atomic save. A save lost to a
// concurrent writer is retried once against freshly loaded state; the second
// loss surfaces sessions.ErrConflict and the caller must reload and resubmit.
func (e *Engine) Submit(ctx context.Context, wizardType, sessionID string, stepIndex int, payload map[string]any) (*models.Session, error) {
	def, err := e.definition(wizardType)
	if err != nil {
		return nil, err
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.Submit",
		attribute.String(otelhelper.SessionIDKey, sessionID),
		attribute.String(otelhelper.WizardTypeKey, wizardType),
		attribute.Int(otelhelper.StepIndexKey, stepIndex),
	)
	defer span.End()

	var session *models.Session

	for attempt := 0; attempt < 2; attempt++ {
		session, err = e.load(ctx, wizardType, sessionID)
		if err != nil {
			break
		}

		session, err = e.submitOnce(ctx, def, session, stepIndex, payload)
		if !sessions.IsConflict(err) {
			break
		}
	}

	if err != nil && session == nil {
		otelhelper.SetError(span, err, sessionID,
			attribute.Int(otelhelper.StepIndexKey, stepIndex))
	}

	return session, err
}

// submitOnce runs one submission attempt through Save. A conflict error tells
// the caller to reload and retry.
func (e *Engine) submitOnce(ctx context.Context, def *wizard.Definition, session *models.Session, stepIndex int, payload map[string]any) (*models.Session, error) {
	if stepIndex != session.CurrentStep {
		return session, fmt.Errorf("%w: submitted %d, current is %d", ErrStepMismatch, stepIndex, session.CurrentStep)
	}

	step, err := def.Step(stepIndex)
	if err != nil {
		return session, fmt.Errorf("%w: %d", ErrStepMismatch, stepIndex)
	}

	if err := checkPayloadShape(step.Schema(), payload); err != nil {
		// Shape mismatches are not persisted: they are client bugs, not
		// user input awaiting correction.
		return session, err
	}

	session.ResetAttempt()

	if messages := step.Validate(payload, session); len(messages) > 0 {
		session.Errors = append(session.Errors, messages...)

		// Persist so the errors survive a reload.
		if err := e.store.Save(ctx, session); err != nil {
			return session, err
		}

		return session, ErrValidationFailed
	}

	result, err := e.apply(ctx, step, payload, session)
	if err != nil {
		callErr := classify(step, err)

		e.logger.ErrorContext(ctx, "Step apply failed",
			"session_id", session.ID,
			"wizard_type", session.WizardType,
			"step", stepIndex,
			"transient", callErr.Transient,
			"error", err,
		)

		if callErr.Transient {
			session.Warnings = append(session.Warnings, transientMessage(step))
		} else {
			session.Errors = append(session.Errors, permanentMessage(step))
		}

		if saveErr := e.store.Save(ctx, session); saveErr != nil {
			return session, saveErr
		}

		return session, callErr
	}

	for key, value := range result.Fields {
		session.Fields[key] = value
	}

	session.Warnings = append(session.Warnings, result.Warnings...)

	if result.Activated {
		session.Fields[activatedField] = true
	}

	session.MarkCompleted(stepIndex)

	terminal := def.IsTerminal(stepIndex)
	if terminal {
		session.Status = models.SessionStatusCompleted
	}

	if err := e.store.Save(ctx, session); err != nil {
		return session, err
	}

	e.publish(ctx, session.ID, events.StepCompleted{
		BaseEvent: events.NewBase(events.StepCompletedEvent, session.ID, session.WizardType),
		StepIndex: stepIndex,
		StepName:  step.Name(),
		Terminal:  terminal,
	})

	if terminal {
		e.publish(ctx, session.ID, events.SessionCompleted{
			BaseEvent: events.NewBase(events.SessionCompletedEvent, session.ID, session.WizardType),
			Activated: result.Activated,
			Duration:  session.UpdatedAt.Sub(session.CreatedAt),
		})
	}

	return session, nil
}

// apply runs the step handler bounded by its timeout.
func (e *Engine) apply(ctx context.Context, step wizard.Step, payload map[string]any, session *models.Session) (*wizard.Result, error) {
	applyCtx, cancel := context.WithTimeout(ctx, wizard.StepTimeout(step, e.stepTimeout))
	defer cancel()

	result, err := step.Apply(applyCtx, payload, session)
	if err != nil {
		return nil, err
	}

	if result == nil {
		result = &wizard.Result{}
	}

	return result, nil
}

// NavigateAction is a client-requested repositioning.
type NavigateAction string

const (
	ActionNext NavigateAction = "next"
	ActionBack NavigateAction = "back"
	ActionJump NavigateAction = "jump"
)

// Navigate repositions the session without running any step handler. Moving
// to step t drops every completion mark at or beyond t, so revisited steps
// must be resubmitted.
func (e *Engine) Navigate(ctx context.Context, wizardType, sessionID string, action NavigateAction, target int) (*models.Session, error) {
	def, err := e.definition(wizardType)
	if err != nil {
		return nil, err
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.Navigate",
		attribute.String(otelhelper.SessionIDKey, sessionID),
		attribute.String(otelhelper.ActionKey, string(action)),
	)
	defer span.End()

	var session *models.Session

	for attempt := 0; attempt < 2; attempt++ {
		session, err = e.load(ctx, wizardType, sessionID)
		if err != nil {
			break
		}

		var dest int

		switch action {
		case ActionNext:
			dest, err = NextTarget(session, def.TotalSteps())
		case ActionBack:
			dest, err = BackTarget(session)
		case ActionJump:
			dest, err = JumpTarget(session, target, def.TotalSteps())
		default:
			err = &NavigationError{Reason: ReasonOutOfRange, Requested: target}
		}

		if err != nil {
			break
		}

		session.Reposition(dest)
		session.ResetAttempt()

		err = e.store.Save(ctx, session)
		if !sessions.IsConflict(err) {
			break
		}
	}

	if err != nil {
		otelhelper.SetError(span, err, sessionID,
			attribute.String(otelhelper.ActionKey, string(action)))
	}

	return session, err
}

// Cancel marks the session abandoned. The record is kept for audit; it is
// not deleted.
func (e *Engine) Cancel(ctx context.Context, wizardType, sessionID string) error {
	if _, err := e.definition(wizardType); err != nil {
		return err
	}

	var err error

	for attempt := 0; attempt < 2; attempt++ {
		var session *models.Session

		session, err = e.load(ctx, wizardType, sessionID)
		if err != nil {
			return err
		}

		session.Status = models.SessionStatusAbandoned

		err = e.store.Save(ctx, session)
		if err == nil {
			e.publish(ctx, session.ID, events.SessionAbandoned{
				BaseEvent: events.NewBase(events.SessionAbandonedEvent, session.ID, session.WizardType),
				Reason:    "cancelled",
			})

			return nil
		}

		if !sessions.IsConflict(err) {
			break
		}
	}

	return err
}

func (e *Engine) definition(wizardType string) (*wizard.Definition, error) {
	def, err := e.registry.Definition(wizardType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWizard, wizardType)
	}

	return def, nil
}

// load fetches the session and rejects finished or foreign ones.
func (e *Engine) load(ctx context.Context, wizardType, sessionID string) (*models.Session, error) {
	session, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.WizardType != wizardType {
		return nil, ErrWizardTypeMismatch
	}

	switch session.Status {
	case models.SessionStatusCompleted:
		return nil, ErrAlreadyCompleted
	case models.SessionStatusAbandoned:
		return nil, ErrSessionAbandoned
	}

	return session, nil
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.bus == nil {
		return
	}

	if err := e.bus.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish lifecycle event",
			"event_type", event.GetType(), "session_id", key, "error", err)
	}
}

// classify wraps an Apply failure as a call error. Steps classify at the
// collaborator boundary; anything unclassified is permanent unless the
// deadline expired.
func classify(step wizard.Step, err error) *protocol.CallError {
	var callErr *protocol.CallError
	if errors.As(err, &callErr) {
		return callErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return protocol.NewTransientError(step.Name(), err)
	}

	return protocol.NewPermanentError(step.Name(), err)
}

func transientMessage(step wizard.Step) string {
	return fmt.Sprintf("%s: the external service did not respond; please retry", step.Name())
}

func permanentMessage(step wizard.Step) string {
	return fmt.Sprintf("%s: the external service rejected the request; correct your input and resubmit", step.Name())
}
