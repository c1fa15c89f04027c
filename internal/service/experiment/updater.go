package experiment

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"exphub/internal/domain"
)

// Updater manages cron-based snapshot refresh for auto-refresh experiments.
type Updater struct {
	cron        *cron.Cron
	svc         *Service
	experiments domain.ExperimentRepository
	logger      *slog.Logger
	mu          sync.Mutex
	entries     map[string]cron.EntryID // experiment ID → cron entry
}

// NewUpdater creates a new snapshot refresh scheduler.
func NewUpdater(svc *Service, experiments domain.ExperimentRepository, logger *slog.Logger) *Updater {
	return &Updater{
		cron:        cron.New(),
		svc:         svc,
		experiments: experiments,
		logger:      logger,
		entries:     make(map[string]cron.EntryID),
	}
}

// Start loads all auto-refresh experiments and starts the cron scheduler.
func (u *Updater) Start(ctx context.Context) error {
	if err := u.loadSchedules(ctx); err != nil {
		return err
	}
	u.cron.Start()
	u.logger.Info("snapshot updater started")
	return nil
}

// Stop gracefully stops the cron scheduler.
func (u *Updater) Stop() {
	u.cron.Stop()
	u.logger.Info("snapshot updater stopped")
}

// Reload clears all cron entries and reloads from the database.
func (u *Updater) Reload(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, entryID := range u.entries {
		u.cron.Remove(entryID)
	}
	u.entries = make(map[string]cron.EntryID)

	return u.loadSchedules(ctx)
}

// loadSchedules queries for auto-refresh experiments and adds them to cron.
// Refreshes always run against the latest phase with caching enabled, so a
// refresh close behind a manual run reuses its queries.
func (u *Updater) loadSchedules(ctx context.Context) error {
	experiments, err := u.experiments.ListAutoRefresh(ctx)
	if err != nil {
		return err
	}

	for _, e := range experiments {
		if e.RefreshSchedule == "" || len(e.Phases) == 0 {
			continue
		}
		org := e.Organization
		experimentID := e.ID
		phase := len(e.Phases) - 1
		schedule := e.RefreshSchedule

		entryID, err := u.cron.AddFunc(schedule, func() {
			ctx := context.Background()
			_, refreshErr := u.svc.CreateSnapshot(ctx, org, experimentID, SnapshotOptions{
				Phase:    phase,
				UseCache: true,
			})
			if refreshErr != nil {
				u.logger.Warn("scheduled snapshot refresh failed",
					"experiment", experimentID,
					"error", refreshErr,
				)
			}
		})
		if err != nil {
			u.logger.Warn("invalid refresh schedule",
				"experiment", experimentID,
				"schedule", schedule,
				"error", err,
			)
			continue
		}

		u.entries[e.ID] = entryID
		u.logger.Info("scheduled snapshot refresh", "experiment", experimentID, "schedule", schedule)
	}

	return nil
}
