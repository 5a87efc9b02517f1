package maintenance

import (
	"context"
	"log/slog"
	"time"
)

// UserLister enumerates users with stored data.
type UserLister interface {
	Users(ctx context.Context) ([]string, error)
}

// HistoryPruner drops expired notification history for one user.
type HistoryPruner interface {
	PruneHistory(ctx context.Context, userID string) (int, error)
}

// PruneResult summarises one PruneHistories run.
type PruneResult struct {
	Users   int
	Removed int
	Failed  int
}

// PruneHistories prunes every user's history. A failing user is logged and
// skipped.
func PruneHistories(ctx context.Context, users UserLister, pruner HistoryPruner, logger *slog.Logger) PruneResult {
	start := time.Now()
	var res PruneResult

	ids, err := users.Users(ctx)
	if err != nil {
		logger.Warn("History prune: failed to list users", "error", err)
		return res
	}
	res.Users = len(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		n, err := pruner.PruneHistory(ctx, id)
		if err != nil {
			res.Failed++
			logger.Warn("History prune: failed", "user_id", id, "error", err)
			continue
		}
		res.Removed += n
	}

	logger.Info("History prune complete",
		"users", res.Users, "removed", res.Removed, "failed", res.Failed,
		"duration", time.Since(start).Round(time.Millisecond))
	return res
}
