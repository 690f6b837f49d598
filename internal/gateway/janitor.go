package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lorekeep/lorekeep/internal/config"
	"github.com/lorekeep/lorekeep/internal/convstore"
	"github.com/lorekeep/lorekeep/internal/observability"
)

// Janitor prunes conversations that have not been touched within the
// retention window, on a cron schedule. Pruning also discards any
// PendingAction the stale conversations still carried.
type Janitor struct {
	cfg     config.RetentionConfig
	store   convstore.Store
	logger  *observability.Logger
	metrics *observability.Metrics

	cron *cron.Cron
}

// NewJanitor creates a retention janitor. An empty schedule disables it.
func NewJanitor(cfg config.RetentionConfig, store convstore.Store, logger *observability.Logger, metrics *observability.Metrics) *Janitor {
	return &Janitor{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// Start schedules pruning. Returns an error for an invalid cron expression.
func (j *Janitor) Start(ctx context.Context) error {
	if j.cfg.Schedule == "" {
		return nil
	}

	j.cron = cron.New()
	if _, err := j.cron.AddFunc(j.cfg.Schedule, func() { j.Prune(ctx) }); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", j.cfg.Schedule, err)
	}
	j.cron.Start()

	j.logger.Info(ctx, "retention janitor started", "schedule", j.cfg.Schedule, "max_age", j.cfg.MaxAge.String())
	return nil
}

// Stop halts the schedule. Running prunes finish.
func (j *Janitor) Stop() {
	if j.cron != nil {
		j.cron.Stop()
	}
}

// Prune removes conversations last updated before the retention cutoff.
func (j *Janitor) Prune(ctx context.Context) {
	cutoff := time.Now().Add(-j.cfg.MaxAge)

	pruned, err := j.store.PruneBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error(ctx, "retention prune failed", "error", err)
		return
	}
	if pruned > 0 {
		j.logger.Info(ctx, "pruned stale conversations", "count", pruned, "cutoff", cutoff.Format(time.RFC3339))
		if j.metrics != nil {
			j.metrics.ConversationsPruned.Add(float64(pruned))
		}
	}
}
