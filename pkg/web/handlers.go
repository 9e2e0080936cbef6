package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/docwell/stepflow/pkg/engine"
	"github.com/docwell/stepflow/pkg/models"
	"github.com/docwell/stepflow/pkg/protocol"
	"github.com/docwell/stepflow/pkg/registry"
	"github.com/docwell/stepflow/pkg/sessions"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	engine    *engine.Engine
	registry  *registry.Registry
	store     sessions.Store
	validator *validator.Validate
}

func NewAPIHandlers(
	eng *engine.Engine,
	reg *registry.Registry,
	store sessions.Store,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		engine:    eng,
		registry:  reg,
		store:     store,
		validator: validator,
	}
}

// RegisterRoutes mounts the wizard API onto the app.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	wizards := app.Group("/wizards")
	wizards.Get("/", h.ListWizards)
	wizards.Post("/:type/start", h.StartSession)

	sessions := wizards.Group("/:type/sessions/:id")
	sessions.Get("/state", h.GetState)
	sessions.Get("/progress", h.GetProgress)
	sessions.Post("/steps/:index", h.SubmitStep)
	sessions.Post("/navigate", h.NavigateSession)
	sessions.Post("/cancel", h.CancelSession)

	app.Get("/health", h.HealthCheck)
}

// ListWizards returns the catalog of registered wizard types.
func (h *APIHandlers) ListWizards(c fiber.Ctx) error {
	types := h.registry.Types()
	catalog := make([]WizardInfo, 0, len(types))

	for _, wizardType := range types {
		def, err := h.registry.Definition(wizardType)
		if err != nil {
			continue
		}

		catalog = append(catalog, TransformWizardInfo(def))
	}

	return c.JSON(fiber.Map{
		"wizards":     catalog,
		"total_count": len(catalog),
	})
}

// StartSession creates or resumes a wizard session. 201 for a fresh session,
// 200 when an existing one was resumed.
func (h *APIHandlers) StartSession(c fiber.Ctx) error {
	wizardType := c.Params("type")
	if wizardType == "" {
		return badRequest(c, "Wizard type is required")
	}

	req := StartRequest{}
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	session, created, err := h.engine.Start(c.Context(), wizardType, engine.StartOptions{
		SessionID: req.SessionID,
		Reset:     req.ResetExisting,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	response, err := h.sessionResponse(session)
	if err != nil {
		return internalError(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}

	return c.Status(status).JSON(response)
}

// GetState returns the session snapshot with its progress view. Completed and
// abandoned sessions remain readable.
func (h *APIHandlers) GetState(c fiber.Ctx) error {
	wizardType, sessionID := c.Params("type"), c.Params("id")

	session, err := h.engine.State(c.Context(), wizardType, sessionID)
	if err != nil {
		return handleEngineError(c, err)
	}

	response, err := h.sessionResponse(session)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(response)
}

// GetProgress returns only the derived progress view.
func (h *APIHandlers) GetProgress(c fiber.Ctx) error {
	wizardType, sessionID := c.Params("type"), c.Params("id")

	session, err := h.engine.State(c.Context(), wizardType, sessionID)
	if err != nil {
		return handleEngineError(c, err)
	}

	progress, err := h.engine.Project(session)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(progress)
}

// SubmitStep runs the step at the path index against the request body.
//
// Outcomes: 200 with the advanced session; 400 when the validator or a
// collaborator permanently rejected the input; 200 with warnings when a
// collaborator failed transiently (the step stays current and the same
// payload may simply be resubmitted); 422 when the payload shape does not
// match the step schema.
func (h *APIHandlers) SubmitStep(c fiber.Ctx) error {
	wizardType, sessionID := c.Params("type"), c.Params("id")

	stepIndex, err := strconv.Atoi(c.Params("index"))
	if err != nil {
		return badRequest(c, "Step index must be an integer")
	}

	payload := map[string]any{}
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&payload); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	session, err := h.engine.Submit(c.Context(), wizardType, sessionID, stepIndex, payload)
	if err != nil {
		return h.submitFailure(c, session, err)
	}

	response, err := h.sessionResponse(session)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(response)
}

// submitFailure distinguishes user-correctable rejections from transient
// collaborator outages. Transient failures return the snapshot with 200: the
// session did not move, and the client retries the same submission.
func (h *APIHandlers) submitFailure(c fiber.Ctx, session *models.Session, err error) error {
	var callErr *protocol.CallError

	switch {
	case engine.IsValidationError(err) && session != nil:
		return validationProblem(c, session.Errors)

	case errors.As(err, &callErr) && session != nil:
		if !callErr.Transient {
			return permanentCallProblem(c, session.Errors)
		}

		response, respErr := h.sessionResponse(session)
		if respErr != nil {
			return internalError(c, respErr)
		}

		return c.JSON(response)

	default:
		return handleEngineError(c, err)
	}
}

// NavigateSession repositions the session without running any step handler.
func (h *APIHandlers) NavigateSession(c fiber.Ctx) error {
	wizardType, sessionID := c.Params("type"), c.Params("id")

	var req NavigateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	session, err := h.engine.Navigate(c.Context(), wizardType, sessionID,
		engine.NavigateAction(req.Action), req.Target)
	if err != nil {
		return handleEngineError(c, err)
	}

	response, err := h.sessionResponse(session)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(response)
}

// CancelSession marks the session abandoned. The record stays readable.
func (h *APIHandlers) CancelSession(c fiber.Ctx) error {
	wizardType, sessionID := c.Params("type"), c.Params("id")

	if err := h.engine.Cancel(c.Context(), wizardType, sessionID); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()

	storeCheck := "healthy"

	storeErr := h.store.HealthCheck(c.Context())
	if storeErr != nil {
		storeCheck = storeErr.Error()
	}

	status := "unhealthy"
	message := "Stepflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && storeErr == nil {
		status = "healthy"
		message = "Stepflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry": registryCheck,
			"store":    storeCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) sessionResponse(session *models.Session) (SessionResponse, error) {
	progress, err := h.engine.Project(session)
	if err != nil {
		return SessionResponse{}, err
	}

	return SessionResponse{Session: session, Progress: progress}, nil
}
