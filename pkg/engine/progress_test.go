package engine_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/docwell/stepflow/pkg/engine"
	"github.com/docwell/stepflow/pkg/models"
	"github.com/docwell/stepflow/pkg/registry"
	"github.com/docwell/stepflow/pkg/wizard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func progressDefinition(t *testing.T) *wizard.Definition {
	t.Helper()

	def, err := wizard.NewDefinition("patient-education", "Patient education document",
		&fakeStep{name: "topic"},
		&fakeStep{name: "content"},
		&fakeStep{name: "review"},
	)
	require.NoError(t, err)

	return def
}

func TestProject(t *testing.T) {
	t.Parallel()

	def := progressDefinition(t)

	t.Run("fresh session", func(t *testing.T) {
		t.Parallel()

		session := models.NewSession("sess-1", "patient-education", time.Now().UTC())
		progress := engine.Project(session, def)

		assert.Equal(t, "sess-1", progress.SessionID)
		assert.Equal(t, 1, progress.CurrentStep)
		assert.Equal(t, 3, progress.TotalSteps)
		assert.Equal(t, 0, progress.ProgressPercent)
		assert.Equal(t, "topic", progress.StepName)
		assert.Equal(t, "step topic", progress.StepDescription)
		assert.True(t, progress.CanProceed)
		assert.False(t, progress.Activated)
	})

	t.Run("one of three steps rounds to 33", func(t *testing.T) {
		t.Parallel()

		session := sessionAt(2, 1)
		progress := engine.Project(session, def)

		assert.Equal(t, 33, progress.ProgressPercent)
		assert.Equal(t, "content", progress.StepName)
	})

	t.Run("two of three steps rounds to 67", func(t *testing.T) {
		t.Parallel()

		session := sessionAt(3, 1, 2)
		progress := engine.Project(session, def)

		assert.Equal(t, 67, progress.ProgressPercent)
	})

	t.Run("completed session reports full progress", func(t *testing.T) {
		t.Parallel()

		session := sessionAt(4, 1, 2, 3)
		session.Status = models.SessionStatusCompleted

		progress := engine.Project(session, def)

		assert.Equal(t, 100, progress.ProgressPercent)
		assert.False(t, progress.CanProceed)
		assert.Empty(t, progress.StepName, "no step exists past the terminal one")
	})

	t.Run("errors and warnings pass through", func(t *testing.T) {
		t.Parallel()

		session := sessionAt(2, 1)
		session.Errors = []string{"content too long"}
		session.Warnings = []string{"enhancer slow"}

		progress := engine.Project(session, def)

		assert.Equal(t, []string{"content too long"}, progress.Errors)
		assert.Equal(t, []string{"enhancer slow"}, progress.Warnings)
		assert.False(t, progress.CanProceed)
	})

	t.Run("activation flag reflects the session field", func(t *testing.T) {
		t.Parallel()

		session := sessionAt(2, 1)
		session.Fields["session.activated"] = true

		progress := engine.Project(session, def)

		assert.True(t, progress.Activated)
	})
}

func TestEngineProject_UnknownWizard(t *testing.T) {
	t.Parallel()

	e := engine.New(nil, registry.NewRegistry(slog.Default()), slog.Default())

	session := models.NewSession("sess-1", "unregistered", time.Now().UTC())

	_, err := e.Project(session)
	assert.ErrorIs(t, err, engine.ErrUnknownWizard)
}
