// Package main provides the Stepflow API server implementation.
package main

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/docwell/stepflow/pkg/engine"
	"github.com/docwell/stepflow/pkg/eventbus"
	"github.com/docwell/stepflow/pkg/registry"
	"github.com/docwell/stepflow/pkg/sessions"
	"github.com/docwell/stepflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"
)

type API struct {
	logger      *slog.Logger
	store       sessions.Store
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	validate    *validator.Validate
	tracer      trace.Tracer
	stepTimeout time.Duration
}

func NewAPI(
	logger *slog.Logger,
	store sessions.Store,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
	stepTimeout time.Duration,
) *API {
	return &API{
		logger:      logger,
		store:       store,
		registry:    registry,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		stepTimeout: stepTimeout,
	}
}

// WithTracer enables span export for engine operations.
func (a *API) WithTracer(tracer trace.Tracer) *API {
	a.tracer = tracer

	return a
}

func (a *API) App() *fiber.App {
	opts := []engine.Option{
		engine.WithEventBus(a.eventBus),
		engine.WithDefaultStepTimeout(a.stepTimeout),
	}

	if a.tracer != nil {
		opts = append(opts, engine.WithTracer(a.tracer))
	}

	eng := engine.New(a.store, a.registry, a.logger, opts...)

	handlers := web.NewAPIHandlers(eng, a.registry, a.store, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Stepflow API")
	})

	handlers.RegisterRoutes(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
