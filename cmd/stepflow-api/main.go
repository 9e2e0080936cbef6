package main

import (
	"context"
	"os"
	"time"

	"github.com/docwell/stepflow/internal/collaborators"
	"github.com/docwell/stepflow/internal/wizards/ehrconnect"
	"github.com/docwell/stepflow/internal/wizards/patiented"
	"github.com/docwell/stepflow/internal/wizards/sbar"
	"github.com/docwell/stepflow/pkg/cmd"
	"github.com/docwell/stepflow/pkg/janitor"
	"github.com/docwell/stepflow/pkg/log"
	"github.com/docwell/stepflow/pkg/otelhelper"
	"github.com/docwell/stepflow/pkg/registry"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "stepflow-api",
		Usage:                 "Run guided clinical wizards over HTTP",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "store-url",
				Usage:   "Session store URL (memory://, file://, redis://, postgres://)",
				Value:   "memory://",
				Sources: cli.EnvVars("STORE_URL"),
			},
			&cli.DurationFlag{
				Name:    "session-ttl",
				Usage:   "Idle time before an incomplete session expires",
				Value:   24 * time.Hour,
				Sources: cli.EnvVars("SESSION_TTL"),
			},
			&cli.StringFlag{
				Name:    "purge-schedule",
				Usage:   "Cron schedule for the expired session sweep",
				Value:   janitor.DefaultSchedule,
				Sources: cli.EnvVars("PURGE_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider for lifecycle events",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.DurationFlag{
				Name:    "step-timeout",
				Usage:   "Default timeout for steps that call external services",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("STEP_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:     "enhancer-url",
				Usage:    "Base URL of the text enhancement service",
				Required: true,
				Sources:  cli.EnvVars("ENHANCER_URL"),
			},
			&cli.StringFlag{
				Name:     "renderer-url",
				Usage:    "Base URL of the document rendering service",
				Required: true,
				Sources:  cli.EnvVars("RENDERER_URL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export engine spans over OTLP (endpoint from OTEL_* env vars)",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Stepflow API")

			store, err := cmd.NewStore(ctx, logger,
				command.String("store-url"), command.Duration("session-ttl"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close session store", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			reg, err := buildRegistry(command)
			if err != nil {
				return err
			}

			sweep := janitor.New(store, logger, command.String("purge-schedule"))
			if err := sweep.Start(ctx); err != nil {
				return err
			}
			defer sweep.Stop()

			api := NewAPI(logger, store, reg, eventBus, command.Duration("step-timeout"))

			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, "stepflow-api")
				if err != nil {
					return err
				}

				api.WithTracer(tracer)
			}

			if err := api.Start(command.Int("port")); err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)

				return err
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

// buildRegistry wires the built-in wizards over their HTTP collaborators.
func buildRegistry(command *cli.Command) (*registry.Registry, error) {
	logger := log.WithModule("registry")
	timeout := command.Duration("step-timeout")

	enhancer := collaborators.NewHTTPEnhancer(command.String("enhancer-url"), timeout, logger)
	renderer := collaborators.NewHTTPRenderer(command.String("renderer-url"), timeout, logger)
	ehrClient := collaborators.NewHTTPEHRClient(timeout, logger)

	reg := registry.NewRegistry(logger)

	connector, err := ehrconnect.New(ehrClient)
	if err != nil {
		return nil, err
	}

	handoff, err := sbar.New(enhancer, renderer)
	if err != nil {
		return nil, err
	}

	education, err := patiented.New(enhancer, renderer)
	if err != nil {
		return nil, err
	}

	if err := reg.Register(connector); err != nil {
		return nil, err
	}

	if err := reg.Register(handoff); err != nil {
		return nil, err
	}

	if err := reg.Register(education); err != nil {
		return nil, err
	}

	return reg, nil
}
