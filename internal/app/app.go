// Package app provides application-level wiring for the analysis pipeline
// following hexagonal architecture.
package app

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"exphub/internal/config"
	"exphub/internal/db/repository"
	"exphub/internal/integration"
	"exphub/internal/runner"
	"exphub/internal/service/experiment"
	"exphub/internal/stats"
)

// Deps holds the external dependencies that main() must provide: database
// handles, config, and the logger.
type Deps struct {
	Cfg     *config.Config
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Logger  *slog.Logger
}

// App holds the fully-wired application.
type App struct {
	Service      *experiment.Service
	Experiments  *repository.ExperimentRepo
	Metrics      *repository.MetricRepo
	Queries      *repository.QueryRepo
	Datasources  *integration.Registry
	Updater      *experiment.Updater
	janitor      *runner.Janitor
	janitorEvery time.Duration
	logger       *slog.Logger
}

// New wires all repositories, the datasource registry, the query pipeline,
// and the service from the provided deps.
func New(deps Deps) (*App, error) {
	cfg := deps.Cfg

	queryRepo := repository.NewQueryRepo(deps.WriteDB, deps.ReadDB)
	experimentRepo := repository.NewExperimentRepo(deps.WriteDB, deps.ReadDB)
	metricRepo := repository.NewMetricRepo(deps.WriteDB, deps.ReadDB)
	snapshotRepo := repository.NewSnapshotRepo(deps.WriteDB, deps.ReadDB)
	analysisRepo := repository.NewMetricAnalysisRepo(deps.WriteDB, deps.ReadDB)
	importRepo := repository.NewPastExperimentsRepo(deps.WriteDB, deps.ReadDB)
	comparisonRepo := repository.NewSegmentComparisonRepo(deps.WriteDB, deps.ReadDB)

	registry, err := integration.LoadRegistry(cfg.DatasourcesPath, deps.Logger.With("component", "datasources"))
	if err != nil {
		return nil, err
	}

	dispatcher := runner.NewDispatcher(queryRepo, deps.Logger.With("component", "dispatcher"))
	dispatcher.SetHeartbeatInterval(cfg.HeartbeatInterval)
	poller := runner.NewPoller(queryRepo, deps.Logger.With("component", "poller"))
	janitor := runner.NewJanitor(queryRepo, deps.Logger.With("component", "janitor"), cfg.StaleAfter, true)

	var engine stats.Engine = stats.NewNormalEngine()
	if cfg.StatsEngineCmd != "" {
		fields := strings.Fields(cfg.StatsEngineCmd)
		engine = stats.NewProcessEngine(fields[0], fields[1:], deps.Logger.With("component", "stats-engine"))
	}

	svc := experiment.NewService(experiment.Deps{
		Experiments: experimentRepo,
		Metrics:     metricRepo,
		Snapshots:   snapshotRepo,
		Analyses:    analysisRepo,
		Imports:     importRepo,
		Comparisons: comparisonRepo,
		Queries:     queryRepo,
		Resolver:    registry,
		Dispatcher:  dispatcher,
		Poller:      poller,
		Engine:      engine,
		CacheTTL:    deps.Cfg.CacheTTL,
		Logger:      deps.Logger.With("component", "experiment"),
	})

	updater := experiment.NewUpdater(svc, experimentRepo, deps.Logger.With("component", "updater"))

	return &App{
		Service:      svc,
		Experiments:  experimentRepo,
		Metrics:      metricRepo,
		Queries:      queryRepo,
		Datasources:  registry,
		Updater:      updater,
		janitor:      janitor,
		janitorEvery: cfg.JanitorInterval,
		logger:       deps.Logger,
	}, nil
}

// Start launches the background schedulers: the cron snapshot updater and
// the stale-query janitor loop. The janitor stops when ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	if err := a.Updater.Start(ctx); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(a.janitorEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := a.janitor.Sweep(ctx); err != nil {
					a.logger.Warn("stale query sweep failed", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop shuts down the background schedulers and warehouse connections.
func (a *App) Stop() {
	a.Updater.Stop()
	a.Datasources.Close()
}
