// Package janitor runs the periodic sweep that deletes expired session
// records. Stores already hide expired sessions from reads; the janitor only
// reclaims the storage behind them.
package janitor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docwell/stepflow/pkg/sessions"
	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "@every 10m"

type Janitor struct {
	store    sessions.Store
	logger   *slog.Logger
	schedule string
	cron     *cron.Cron
}

func New(store sessions.Store, logger *slog.Logger, schedule string) *Janitor {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	return &Janitor{
		store:    store,
		logger:   logger.With("module", "janitor"),
		schedule: schedule,
	}
}

// Start schedules the recurring sweep. The returned error reports an invalid
// schedule expression only; sweep failures are logged and retried on the next
// tick.
func (j *Janitor) Start(ctx context.Context) error {
	j.cron = cron.New()

	_, err := j.cron.AddFunc(j.schedule, func() {
		if _, err := j.RunOnce(ctx); err != nil {
			j.logger.ErrorContext(ctx, "Expired session sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", j.schedule, err)
	}

	j.cron.Start()
	j.logger.InfoContext(ctx, "Session janitor started", "schedule", j.schedule)

	return nil
}

// RunOnce performs a single sweep and reports how many sessions were purged.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	purged, err := j.store.PurgeExpired(ctx)
	if err != nil {
		return 0, err
	}

	if purged > 0 {
		j.logger.InfoContext(ctx, "Purged expired sessions", "count", purged)
	}

	return purged, nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}

	<-j.cron.Stop().Done()
}
