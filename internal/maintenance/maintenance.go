// Package maintenance runs periodic background tasks on a cron schedule.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Config controls maintenance schedules. An empty schedule disables a task.
type Config struct {
	HistoryPruneSchedule string // standard 5-field cron expression
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{HistoryPruneSchedule: "0 3 * * *"}
}

// Start registers all configured jobs and blocks until ctx is cancelled.
// Intended to be called with `go` after a successful Schedule check.
func Start(ctx context.Context, users UserLister, pruner HistoryPruner, cfg Config, logger *slog.Logger) error {
	c, err := Schedule(ctx, users, pruner, cfg, logger)
	if err != nil {
		return err
	}
	c.Start()
	logger.Info("Maintenance jobs started", "history_prune", cfg.HistoryPruneSchedule)

	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info("Maintenance jobs stopped")
	return nil
}

// Schedule builds the cron scheduler without starting it.
func Schedule(ctx context.Context, users UserLister, pruner HistoryPruner, cfg Config, logger *slog.Logger) (*cron.Cron, error) {
	c := cron.New()
	if cfg.HistoryPruneSchedule != "" {
		_, err := c.AddFunc(cfg.HistoryPruneSchedule, func() {
			PruneHistories(ctx, users, pruner, logger)
		})
		if err != nil {
			return nil, fmt.Errorf("schedule history prune %q: %w", cfg.HistoryPruneSchedule, err)
		}
	}
	return c, nil
}
