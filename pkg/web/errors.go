package web

import (
	"errors"
	"strings"

	"github.com/docwell/stepflow/pkg/engine"
	"github.com/docwell/stepflow/pkg/sessions"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError maps orchestration errors onto HTTP statuses. Transient
// collaborator failures are handled by the submit handler before reaching
// here; everything in this table is a request the client must change.
func handleEngineError(c fiber.Ctx, err error) error {
	var navErr *engine.NavigationError

	switch {
	case errors.Is(err, engine.ErrUnknownWizard):
		return notFound(c, "wizard_not_found", "no such wizard type")

	case sessions.IsNotFound(err):
		return notFound(c, "session_not_found", "session not found or expired")

	case errors.Is(err, engine.ErrWizardTypeMismatch):
		return notFound(c, "session_not_found", "session not found or expired")

	case errors.Is(err, engine.ErrAlreadyCompleted):
		return notFound(c, "session_completed", "wizard already completed")

	case errors.Is(err, engine.ErrSessionAbandoned):
		return notFound(c, "session_abandoned", "session was cancelled")

	case errors.Is(err, engine.ErrStepMismatch):
		return badRequest(c, err.Error())

	case errors.As(err, &navErr):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("illegal_navigation").
			WithDetail(navErr.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case errors.Is(err, engine.ErrMalformedPayload):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("malformed_payload").
			WithDetail(err.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case sessions.IsConflict(err), sessions.IsAlreadyExists(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail("session was modified concurrently; reload and resubmit")

		return c.Status(fiber.StatusConflict).JSON(problem)

	default:
		return internalError(c, err)
	}
}

// validationProblem reports a step validator rejection with the per-field
// messages. The session keeps the messages too, so a later state read shows
// the same list.
func validationProblem(c fiber.Ctx, messages []string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(strings.Join(messages, "; "))

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

// permanentCallProblem reports a non-retryable collaborator rejection.
func permanentCallProblem(c fiber.Ctx, messages []string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("external_rejection").
		WithDetail(strings.Join(messages, "; "))

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}
