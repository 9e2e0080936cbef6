package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/docwell/stepflow/pkg/engine"
	"github.com/docwell/stepflow/pkg/eventbus"
	"github.com/docwell/stepflow/pkg/events"
	"github.com/docwell/stepflow/pkg/models"
	"github.com/docwell/stepflow/pkg/protocol"
	"github.com/docwell/stepflow/pkg/registry"
	"github.com/docwell/stepflow/pkg/sessions"
	"github.com/docwell/stepflow/pkg/sessions/memory"
	"github.com/docwell/stepflow/pkg/wizard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStep is a configurable step for orchestration tests.
type fakeStep struct {
	name       string
	schema     *models.JSONSchema
	validateFn func(payload map[string]any, session *models.Session) []string
	applyFn    func(ctx context.Context, payload map[string]any, session *models.Session) (*wizard.Result, error)
	applyCalls int
}

func (s *fakeStep) Name() string               { return s.name }
func (s *fakeStep) Description() string        { return "step " + s.name }
func (s *fakeStep) Schema() *models.JSONSchema { return s.schema }

func (s *fakeStep) Validate(payload map[string]any, session *models.Session) []string {
	if s.validateFn == nil {
		return nil
	}

	return s.validateFn(payload, session)
}

func (s *fakeStep) Apply(ctx context.Context, payload map[string]any, session *models.Session) (*wizard.Result, error) {
	s.applyCalls++

	if s.applyFn == nil {
		return &wizard.Result{Fields: map[string]any{"step." + s.name: "done"}}, nil
	}

	return s.applyFn(ctx, payload, session)
}

func requireField(payload map[string]any, field string) []string {
	value, ok := payload[field].(string)
	if !ok || value == "" {
		return []string{field + " is required"}
	}

	return nil
}

// threeStepWizard builds the canonical 3-step test table: step 1 requires a
// "topic" field, steps 2 and 3 accept anything.
func threeStepWizard(t *testing.T) (*registry.Registry, []*fakeStep) {
	t.Helper()

	steps := []*fakeStep{
		{
			name: "topic",
			validateFn: func(payload map[string]any, _ *models.Session) []string {
				return requireField(payload, "topic")
			},
		},
		{name: "content"},
		{name: "review"},
	}

	r := registry.NewRegistry(slog.Default())
	require.NoError(t, r.Register(wizard.MustDefinition("patient-education", "Patient education document",
		steps[0], steps[1], steps[2])))

	return r, steps
}

func newEngine(t *testing.T, r *registry.Registry, opts ...engine.Option) (*engine.Engine, *memory.Store) {
	t.Helper()

	store := memory.NewStore(time.Hour)

	return engine.New(store, r, slog.Default(), opts...), store
}

func startSession(t *testing.T, e *engine.Engine, wizardType string) *models.Session {
	t.Helper()

	session, created, err := e.Start(context.Background(), wizardType, engine.StartOptions{})
	require.NoError(t, err)
	require.True(t, created)

	return session
}

func TestEngine_Start(t *testing.T) {
	t.Parallel()

	r, _ := threeStepWizard(t)
	e, _ := newEngine(t, r)
	ctx := context.Background()

	t.Run("generates session id when absent", func(t *testing.T) {
		session, created, err := e.Start(ctx, "patient-education", engine.StartOptions{})
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEmpty(t, session.ID)
		assert.Equal(t, 1, session.CurrentStep)
		assert.Equal(t, models.SessionStatusInProgress, session.Status)
	})

	t.Run("resumes existing session without reset", func(t *testing.T) {
		first, _, err := e.Start(ctx, "patient-education", engine.StartOptions{SessionID: "resume-me"})
		require.NoError(t, err)

		_, err = e.Submit(ctx, "patient-education", "resume-me", 1, map[string]any{"topic": "diabetes"})
		require.NoError(t, err)

		resumed, created, err := e.Start(ctx, "patient-education", engine.StartOptions{SessionID: "resume-me"})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, resumed.ID)
		assert.Equal(t, 2, resumed.CurrentStep)
	})

	t.Run("reset discards existing progress", func(t *testing.T) {
		_, _, err := e.Start(ctx, "patient-education", engine.StartOptions{SessionID: "reset-me"})
		require.NoError(t, err)

		_, err = e.Submit(ctx, "patient-education", "reset-me", 1, map[string]any{"topic": "asthma"})
		require.NoError(t, err)

		session, created, err := e.Start(ctx, "patient-education", engine.StartOptions{SessionID: "reset-me", Reset: true})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, 1, session.CurrentStep)
		assert.Empty(t, session.CompletedSteps)
	})

	t.Run("unknown wizard type", func(t *testing.T) {
		_, _, err := e.Start(ctx, "no-such-wizard", engine.StartOptions{})
		assert.ErrorIs(t, err, engine.ErrUnknownWizard)
	})
}

func TestEngine_Submit_AdvancesAndProjects(t *testing.T) {
	t.Parallel()

	r, _ := threeStepWizard(t)
	e, _ := newEngine(t, r)
	ctx := context.Background()

	session := startSession(t, e, "patient-education")

	updated, err := e.Submit(ctx, "patient-education", session.ID, 1, map[string]any{"topic": "diabetes"})
	require.NoError(t, err)

	assert.Equal(t, 2, updated.CurrentStep)
	assert.Equal(t, []int{1}, updated.CompletedSteps)

	progress, err := e.Project(updated)
	require.NoError(t, err)
	assert.Equal(t, 33, progress.ProgressPercent)
	assert.Equal(t, "content", progress.StepName)
	assert.True(t, progress.CanProceed)
}

func TestEngine_Submit_ValidationFailureKeepsStep(t *testing.T) {
	t.Parallel()

	r, _ := threeStepWizard(t)
	e, store := newEngine(t, r)
	ctx := context.Background()

	session := startSession(t, e, "patient-education")

	updated, err := e.Submit(ctx, "patient-education", session.ID, 1, map[string]any{})
	assert.ErrorIs(t, err, engine.ErrValidationFailed)

	assert.Equal(t, 1, updated.CurrentStep)
	assert.Empty(t, updated.CompletedSteps)
	assert.Equal(t, []string{"topic is required"}, updated.Errors)

	progress, err := e.Project(updated)
	require.NoError(t, err)
	assert.Equal(t, 0, progress.ProgressPercent)
	assert.False(t, progress.CanProceed)

	// Errors survive a reload.
	reloaded, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"topic is required"}, reloaded.Errors)
}

func TestEngine_Submit_StepMismatch(t *testing.T) {
	t.Parallel()

	r, _ := threeStepWizard(t)
	e, _ := newEngine(t, r)
	ctx := context.Background()

	session := startSession(t, e, "patient-education")

	_, err := e.Submit(ctx, "patient-education", session.ID, 2, map[string]any{})
	assert.ErrorIs(t, err, engine.ErrStepMismatch)
}

func TestEngine_Submit_PayloadShapeMismatch(t *testing.T) {
	t.Parallel()

	steps := []*fakeStep{
		{
			name: "credentials",
			schema: &models.JSONSchema{
				Type: "object",
				Properties: map[string]*models.Property{
					"client_id": {Type: "string"},
				},
				Required: []string{"client_id"},
			},
		},
		{name: "finish"},
	}

	r := registry.NewRegistry(slog.Default())
	require.NoError(t, r.Register(wizard.MustDefinition("epic-integration", "Epic connector",
		steps[0], steps[1])))

	e, _ := newEngine(t, r)
	ctx := context.Background()

	session := startSession(t, e, "epic-integration")

	_, err := e.Submit(ctx, "epic-integration", session.ID, 1, map[string]any{"client_id": 42})
	assert.ErrorIs(t, err, engine.ErrMalformedPayload)

	// Shape failures are not persisted as attempt errors.
	state, err := e.State(ctx, "epic-integration", session.ID)
	require.NoError(t, err)
	assert.Empty(t, state.Errors)
	assert.Equal(t, 1, state.CurrentStep)
}

func TestEngine_Submit_TerminalStepCompletes(t *testing.T) {
	t.Parallel()

	r, _ := threeStepWizard(t)
	e, _ := newEngine(t, r)
	ctx := context.Background()

	session := startSession(t, e, "patient-education")

	for step := 1; step <= 3; step++ {
		var err error

		session, err = e.Submit(ctx, "patient-education", session.ID, step, map[string]any{"topic": "copd"})
		require.NoError(t, err)
	}

	assert.Equal(t, models.SessionStatusCompleted, session.Status)
	assert.Equal(t, 4, session.CurrentStep)
	assert.Equal(t, []int{1, 2, 3}, session.CompletedSteps)

	progress, err := e.Project(session)
	require.NoError(t, err)
	assert.Equal(t, 100, progress.ProgressPercent)

	// No further submissions once completed.
	_, err = e.Submit(ctx, "patient-education", session.ID, 4, map[string]any{})
	assert.ErrorIs(t, err, engine.ErrAlreadyCompleted)
}

func TestEngine_Submit_TransientFailureThenRetry(t *testing.T) {
	t.Parallel()

	failures := 1
	connectivity := &fakeStep{
		name: "connectivity",
		applyFn: func(_ context.Context, _ map[string]any, _ *models.Session) (*wizard.Result, error) {
			if failures > 0 {
				failures--

				return nil, protocol.NewTransientError("ehr", errors.New("dial tcp: i/o timeout"))
			}

			return &wizard.Result{Fields: map[string]any{"step1.verified": true}}, nil
		},
	}

	r := registry.NewRegistry(slog.Default())
	require.NoError(t, r.Register(wizard.MustDefinition("epic-integration", "Epic connector",
		connectivity, &fakeStep{name: "activate"})))

	e, _ := newEngine(t, r)
	ctx := context.Background()

	session := startSession(t, e, "epic-integration")

	updated, err := e.Submit(ctx, "epic-integration", session.ID, 1, map[string]any{})
	require.Error(t, err)
	assert.True(t, protocol.IsTransient(err))

	assert.Equal(t, 1, updated.CurrentStep, "transient failure must not advance")
	assert.Empty(t, updated.CompletedSteps)
	assert.NotEmpty(t, updated.Warnings)
	assert.Empty(t, updated.Errors)

	// Same payload again: accepted and succeeds this time.
	updated, err = e.Submit(ctx, "epic-integration", session.ID, 1, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.CurrentStep)
	assert.Empty(t, updated.Warnings)
}

func TestEngine_Submit_PermanentFailureRecordsError(t *testing.T) {
	t.Parallel()

	authenticate := &fakeStep{
		name: "authenticate",
		applyFn: func(_ context.Context, _ map[string]any, _ *models.Session) (*wizard.Result, error) {
			return nil, protocol.NewPermanentError("ehr", protocol.ErrAuthFailed)
		},
	}

	r := registry.NewRegistry(slog.Default())
	require.NoError(t, r.Register(wizard.MustDefinition("epic-integration", "Epic connector",
		authenticate, &fakeStep{name: "activate"})))

	e, _ := newEngine(t, r)
	ctx := context.Background()

	session := startSession(t, e, "epic-integration")

	updated, err := e.Submit(ctx, "epic-integration", session.ID, 1, map[string]any{})
	require.Error(t, err)
	assert.False(t, protocol.IsTransient(err))

	assert.Equal(t, 1, updated.CurrentStep)
	assert.NotEmpty(t, updated.Errors)
	assert.Empty(t, updated.Warnings)
	assert.NotContains(t, updated.Errors[0], protocol.ErrAuthFailed.Error(),
		"raw collaborator errors must not leak")
}

func TestEngine_Submit_ApplyTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	slow := &fakeStep{
		name: "enhance",
		applyFn: func(ctx context.Context, _ map[string]any, _ *models.Session) (*wizard.Result, error) {
			<-ctx.Done()

			return nil, ctx.Err()
		},
	}

	r := registry.NewRegistry(slog.Default())
	require.NoError(t, r.Register(wizard.MustDefinition("sbar-report", "SBAR authoring",
		slow, &fakeStep{name: "finish"})))

	e, _ := newEngine(t, r, engine.WithDefaultStepTimeout(20*time.Millisecond))
	ctx := context.Background()

	session := startSession(t, e, "sbar-report")

	updated, err := e.Submit(ctx, "sbar-report", session.ID, 1, map[string]any{})
	require.Error(t, err)
	assert.True(t, protocol.IsTransient(err))
	assert.Equal(t, 1, updated.CurrentStep)
	assert.NotEmpty(t, updated.Warnings)
}

func TestEngine_Submit_IdempotentReapply(t *testing.T) {
	t.Parallel()

	connectivity := &fakeStep{
		name: "connectivity",
		applyFn: func(_ context.Context, _ map[string]any, _ *models.Session) (*wizard.Result, error) {
			return &wizard.Result{Fields: map[string]any{"step1.verified": true}}, nil
		},
	}

	r := registry.NewRegistry(slog.Default())
	require.NoError(t, r.Register(wizard.MustDefinition("epic-integration", "Epic connector",
		connectivity, &fakeStep{name: "activate"})))

	e, _ := newEngine(t, r)
	ctx := context.Background()

	session := startSession(t, e, "epic-integration")

	first, err := e.Submit(ctx, "epic-integration", session.ID, 1, map[string]any{})
	require.NoError(t, err)

	// Go back and resubmit the same payload: same resulting fields, no
	// accumulation.
	_, err = e.Navigate(ctx, "epic-integration", session.ID, engine.ActionBack, 0)
	require.NoError(t, err)

	second, err := e.Submit(ctx, "epic-integration", session.ID, 1, map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, first.Fields, second.Fields)
	assert.Equal(t, first.CompletedSteps, second.CompletedSteps)
	assert.Equal(t, 2, connectivity.applyCalls)
}

func TestEngine_Navigate(t *testing.T) {
	t.Parallel()

	r, _ := threeStepWizard(t)
	e, _ := newEngine(t, r)
	ctx := context.Background()

	session := startSession(t, e, "patient-education")

	_, err := e.Submit(ctx, "patient-education", session.ID, 1, map[string]any{"topic": "diabetes"})
	require.NoError(t, err)

	t.Run("back unmarks the revisited step", func(t *testing.T) {
		updated, err := e.Navigate(ctx, "patient-education", session.ID, engine.ActionBack, 0)
		require.NoError(t, err)

		assert.Equal(t, 1, updated.CurrentStep)
		assert.Empty(t, updated.CompletedSteps)
	})

	t.Run("back below step one is out of range", func(t *testing.T) {
		_, err := e.Navigate(ctx, "patient-education", session.ID, engine.ActionBack, 0)
		require.Error(t, err)

		var navErr *engine.NavigationError

		require.True(t, errors.As(err, &navErr))
		assert.Equal(t, engine.ReasonOutOfRange, navErr.Reason)
	})

	t.Run("jump ahead past incomplete step is rejected", func(t *testing.T) {
		_, err := e.Navigate(ctx, "patient-education", session.ID, engine.ActionJump, 3)
		require.Error(t, err)

		var navErr *engine.NavigationError

		require.True(t, errors.As(err, &navErr))
		assert.Equal(t, engine.ReasonStepNotYetReachable, navErr.Reason)
	})

	t.Run("jump to completed step succeeds after completion", func(t *testing.T) {
		_, err := e.Submit(ctx, "patient-education", session.ID, 1, map[string]any{"topic": "diabetes"})
		require.NoError(t, err)
		_, err = e.Submit(ctx, "patient-education", session.ID, 2, map[string]any{})
		require.NoError(t, err)

		updated, err := e.Navigate(ctx, "patient-education", session.ID, engine.ActionJump, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, updated.CurrentStep)
		assert.Equal(t, []int{1}, updated.CompletedSteps, "jump target loses its completion mark")
	})

	t.Run("jump beyond the table is out of range", func(t *testing.T) {
		_, err := e.Navigate(ctx, "patient-education", session.ID, engine.ActionJump, 7)
		require.Error(t, err)

		var navErr *engine.NavigationError

		require.True(t, errors.As(err, &navErr))
		assert.Equal(t, engine.ReasonOutOfRange, navErr.Reason)
	})
}

func TestEngine_ConcurrentSubmit_OneWins(t *testing.T) {
	t.Parallel()

	store := memory.NewStore(time.Hour)
	ctx := context.Background()

	// Simulate the losing request by bumping the stored session between the
	// loser's load and save: the step handler performs a competing write on
	// every attempt, so the automatic single retry also loses.
	step := &fakeStep{
		name: "topic",
		applyFn: func(_ context.Context, _ map[string]any, session *models.Session) (*wizard.Result, error) {
			fresh, err := store.Get(ctx, session.ID)
			if err != nil {
				return nil, err
			}

			if err := store.Save(ctx, fresh); err != nil {
				return nil, err
			}

			return &wizard.Result{}, nil
		},
	}

	r := registry.NewRegistry(slog.Default())
	require.NoError(t, r.Register(wizard.MustDefinition("contended", "contended wizard",
		step, &fakeStep{name: "content"})))

	e := engine.New(store, r, slog.Default())

	contended, _, err := e.Start(ctx, "contended", engine.StartOptions{})
	require.NoError(t, err)

	_, err = e.Submit(ctx, "contended", contended.ID, 1, map[string]any{})
	require.Error(t, err)
	assert.True(t, sessions.IsConflict(err), "second lost race must surface the conflict")
}

func TestEngine_Submit_RecoversFromSingleConflict(t *testing.T) {
	t.Parallel()

	store := memory.NewStore(time.Hour)
	ctx := context.Background()

	conflicts := 1
	step := &fakeStep{
		name: "topic",
		applyFn: func(_ context.Context, _ map[string]any, _ *models.Session) (*wizard.Result, error) {
			if conflicts > 0 {
				conflicts--

				fresh, err := store.Get(ctx, "retry-sess")
				if err != nil {
					return nil, err
				}

				if err := store.Save(ctx, fresh); err != nil {
					return nil, err
				}
			}

			return &wizard.Result{Fields: map[string]any{"step1.topic": "ok"}}, nil
		},
	}

	r := registry.NewRegistry(slog.Default())
	require.NoError(t, r.Register(wizard.MustDefinition("retryable", "retryable wizard",
		step, &fakeStep{name: "content"})))

	e := engine.New(store, r, slog.Default())

	_, _, err := e.Start(ctx, "retryable", engine.StartOptions{SessionID: "retry-sess"})
	require.NoError(t, err)

	updated, err := e.Submit(ctx, "retryable", "retry-sess", 1, map[string]any{})
	require.NoError(t, err, "a single lost race is retried internally")
	assert.Equal(t, 2, updated.CurrentStep)
}

func TestEngine_Cancel(t *testing.T) {
	t.Parallel()

	r, _ := threeStepWizard(t)
	e, _ := newEngine(t, r)
	ctx := context.Background()

	session := startSession(t, e, "patient-education")

	require.NoError(t, e.Cancel(ctx, "patient-education", session.ID))

	// Abandoned sessions stay readable for audit but reject submissions.
	state, err := e.State(ctx, "patient-education", session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusAbandoned, state.Status)

	_, err = e.Submit(ctx, "patient-education", session.ID, 1, map[string]any{"topic": "x"})
	assert.ErrorIs(t, err, engine.ErrSessionAbandoned)
}

func TestEngine_PublishesLifecycleEvents(t *testing.T) {
	t.Parallel()

	r, _ := threeStepWizard(t)

	bus := eventbus.NewGoChannelEventBus(slog.Default())
	defer func() {
		_ = bus.Close()
	}()

	completed := make(chan *events.SessionCompleted, 1)

	require.NoError(t, bus.Handle(events.SessionCompletedEvent, func(_ context.Context, event any) error {
		if sessionCompleted, ok := event.(*events.SessionCompleted); ok {
			completed <- sessionCompleted
		}

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	store := memory.NewStore(time.Hour)
	e := engine.New(store, r, slog.Default(), engine.WithEventBus(bus))

	session := startSession(t, e, "patient-education")

	for step := 1; step <= 3; step++ {
		_, err := e.Submit(ctx, "patient-education", session.ID, step, map[string]any{"topic": "flu"})
		require.NoError(t, err)
	}

	select {
	case event := <-completed:
		assert.Equal(t, session.ID, event.SessionID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session completed event")
	}
}

func TestEngine_InvariantHoldsAtRest(t *testing.T) {
	t.Parallel()

	r, _ := threeStepWizard(t)
	e, store := newEngine(t, r)
	ctx := context.Background()

	session := startSession(t, e, "patient-education")

	ops := []func(){
		func() { _, _ = e.Submit(ctx, "patient-education", session.ID, 1, map[string]any{"topic": "a"}) },
		func() { _, _ = e.Submit(ctx, "patient-education", session.ID, 2, map[string]any{}) },
		func() { _, _ = e.Navigate(ctx, "patient-education", session.ID, engine.ActionBack, 0) },
		func() { _, _ = e.Navigate(ctx, "patient-education", session.ID, engine.ActionJump, 1) },
		func() { _, _ = e.Submit(ctx, "patient-education", session.ID, 1, map[string]any{"topic": "b"}) },
	}

	for _, op := range ops {
		op()

		at, err := store.Get(ctx, session.ID)
		require.NoError(t, err)

		if at.Status == models.SessionStatusCompleted {
			continue
		}

		assert.Equal(t, at.LastCompleted()+1, at.CurrentStep)

		for i, completed := range at.CompletedSteps {
			assert.Equal(t, i+1, completed, "completed steps must be the gapless prefix")
		}
	}
}

// raceStore hides the session from the first Get so a starter takes the
// create path even though a concurrent starter already persisted the session.
type raceStore struct {
	sessions.Store
	misses int
}

func (s *raceStore) Get(ctx context.Context, id string) (*models.Session, error) {
	if s.misses > 0 {
		s.misses--

		return nil, sessions.NewStoreError("Get", id, sessions.ErrSessionNotFound)
	}

	return s.Store.Get(ctx, id)
}

func TestEngine_Start_LosingRacerResumesWinner(t *testing.T) {
	t.Parallel()

	r, _ := threeStepWizard(t)
	inner := memory.NewStore(time.Hour)
	store := &raceStore{Store: inner, misses: 1}
	e := engine.New(store, r, slog.Default())
	ctx := context.Background()

	winner := models.NewSession("sess-race", "patient-education", time.Now().UTC())
	require.NoError(t, inner.Create(ctx, winner))

	session, created, err := e.Start(ctx, "patient-education", engine.StartOptions{SessionID: "sess-race"})
	require.NoError(t, err)
	assert.False(t, created, "the losing racer must resume, not fail")
	assert.Equal(t, "sess-race", session.ID)
	assert.Equal(t, models.SessionStatusInProgress, session.Status)
}

func TestEngine_Start_LosingRacerRejectsTypeMismatch(t *testing.T) {
	t.Parallel()

	r, _ := threeStepWizard(t)
	require.NoError(t, r.Register(wizard.MustDefinition("sbar-report", "SBAR handoff report",
		&fakeStep{name: "situation"})))

	inner := memory.NewStore(time.Hour)
	store := &raceStore{Store: inner, misses: 1}
	e := engine.New(store, r, slog.Default())
	ctx := context.Background()

	winner := models.NewSession("sess-race", "sbar-report", time.Now().UTC())
	require.NoError(t, inner.Create(ctx, winner))

	_, _, err := e.Start(ctx, "patient-education", engine.StartOptions{SessionID: "sess-race"})
	assert.ErrorIs(t, err, engine.ErrWizardTypeMismatch)
}
