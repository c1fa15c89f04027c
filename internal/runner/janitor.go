package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"exphub/internal/domain"
)

// Janitor surfaces orphaned ledger rows: running records whose heartbeat
// stopped, left behind by a crashed worker. Orphans are an expected,
// tolerated failure mode; the sweep only reports them unless FailStale is
// set, in which case they are moved to failed so polls stop waiting on them.
type Janitor struct {
	queries   domain.QueryRepository
	logger    *slog.Logger
	staleable time.Duration
	failStale bool
}

// NewJanitor creates a Janitor. staleAfter is how old a heartbeat must be
// before a running record counts as orphaned.
func NewJanitor(queries domain.QueryRepository, logger *slog.Logger, staleAfter time.Duration, failStale bool) *Janitor {
	return &Janitor{
		queries:   queries,
		logger:    logger,
		staleable: staleAfter,
		failStale: failStale,
	}
}

// Sweep logs every orphan candidate and optionally fails it.
func (j *Janitor) Sweep(ctx context.Context) error {
	stale, err := j.queries.ListStaleRunning(ctx, time.Now().Add(-j.staleable))
	if err != nil {
		return fmt.Errorf("list stale queries: %w", err)
	}

	for _, rec := range stale {
		j.logger.Warn("stale running query",
			"query", rec.ID,
			"datasource", rec.Datasource,
			"heartbeat", rec.Heartbeat,
		)
		if !j.failStale {
			continue
		}
		if err := j.queries.MarkFailed(ctx, rec.ID, "query orphaned: heartbeat expired"); err != nil {
			j.logger.Error("fail stale query", "query", rec.ID, "error", err)
		}
	}
	return nil
}
