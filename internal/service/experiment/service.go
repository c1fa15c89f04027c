// Package experiment orchestrates analysis runs: it dispatches warehouse
// query sets for snapshots, metric analyses, past-experiment imports, and
// segment comparisons, and reassembles completed results.
package experiment

import (
	"context"
	"log/slog"
	"time"

	"exphub/internal/domain"
	"exphub/internal/integration"
	"exphub/internal/runner"
	"exphub/internal/stats"
)

// IntegrationResolver resolves a datasource id to its warehouse integration.
type IntegrationResolver interface {
	Get(org, id string) (domain.Integration, error)
}

// Service coordinates the analysis pipeline for all owning-object kinds.
type Service struct {
	experiments domain.ExperimentRepository
	metrics     domain.MetricRepository
	snapshots   domain.SnapshotRepository
	analyses    domain.MetricAnalysisRepository
	imports     domain.PastExperimentsRepository
	comparisons domain.SegmentComparisonRepository
	queries     domain.QueryRepository
	resolver    IntegrationResolver
	dispatcher  *runner.Dispatcher
	poller      *runner.Poller
	engine      stats.Engine
	cacheTTL    time.Duration
	logger      *slog.Logger
}

// Deps lists everything a Service needs.
type Deps struct {
	Experiments domain.ExperimentRepository
	Metrics     domain.MetricRepository
	Snapshots   domain.SnapshotRepository
	Analyses    domain.MetricAnalysisRepository
	Imports     domain.PastExperimentsRepository
	Comparisons domain.SegmentComparisonRepository
	Queries     domain.QueryRepository
	Resolver    IntegrationResolver
	Dispatcher  *runner.Dispatcher
	Poller      *runner.Poller
	Engine      stats.Engine
	// CacheTTL overrides the default query reuse window when positive.
	CacheTTL time.Duration
	Logger   *slog.Logger
}

// NewService wires a Service from its dependencies.
func NewService(d Deps) *Service {
	return &Service{
		experiments: d.Experiments,
		metrics:     d.Metrics,
		snapshots:   d.Snapshots,
		analyses:    d.Analyses,
		imports:     d.Imports,
		comparisons: d.Comparisons,
		queries:     d.Queries,
		resolver:    d.Resolver,
		dispatcher:  d.Dispatcher,
		poller:      d.Poller,
		engine:      d.Engine,
		cacheTTL:    d.CacheTTL,
		logger:      d.Logger,
	}
}

// queryOptions builds the dispatch options for one run, applying the
// service's configured reuse window on top of the defaults.
func (s *Service) queryOptions(useCache bool) runner.QueryOptions {
	opts := runner.DefaultQueryOptions()
	opts.UseCache = useCache
	if s.cacheTTL > 0 {
		opts.CacheTTL = s.cacheTTL
	}
	return opts
}

// SnapshotOptions controls one snapshot run.
type SnapshotOptions struct {
	Phase     int
	Dimension string
	UseCache  bool
}

// CreateSnapshot dispatches the users query plus one query per experiment
// metric and persists a new snapshot. When every query resolves
// synchronously (cache hits), results are computed and stored immediately;
// otherwise they arrive via SnapshotStatus polling.
func (s *Service) CreateSnapshot(ctx context.Context, org, experimentID string, opts SnapshotOptions) (*domain.ExperimentSnapshot, error) {
	exp, err := s.experiments.GetByID(ctx, org, experimentID)
	if err != nil {
		return nil, err
	}
	phase, err := exp.Phase(opts.Phase)
	if err != nil {
		return nil, err
	}
	metricList, err := s.metrics.GetByIDs(ctx, org, exp.Metrics)
	if err != nil {
		return nil, err
	}
	integ, err := s.resolver.Get(org, exp.Datasource)
	if err != nil {
		return nil, err
	}

	qopts := s.queryOptions(opts.UseCache)
	ds := integ.Datasource()

	pending := []runner.PendingQuery{
		s.dispatch(ctx, "users", integ, qopts,
			integration.ExperimentUsersQuery(ds, exp, phase, opts.Dimension), parseUsersRows),
	}
	for _, m := range metricList {
		pending = append(pending, s.dispatch(ctx, m.ID, integ, qopts,
			integration.ExperimentMetricQuery(ds, exp, phase, m, opts.Dimension), parseMetricRows))
	}

	outcome, err := runner.StartRun(ctx, pending, func(ctx context.Context, qm runner.QueryMap) (*stats.ExperimentResults, error) {
		return s.processSnapshot(ctx, exp, phase, metricList, qm)
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	snap := &domain.ExperimentSnapshot{
		Organization: org,
		Experiment:   exp.ID,
		Phase:        opts.Phase,
		Dimension:    opts.Dimension,
		RunStarted:   &now,
		Queries:      outcome.Queries,
	}
	if outcome.Result != nil {
		snap.Results = outcome.Result.Dimensions
		snap.UnknownVariations = outcome.Result.UnknownVariations
	}

	return s.snapshots.Create(ctx, snap)
}

// SnapshotStatus polls the ledger for a snapshot's queries, computing and
// persisting results on the first transition to all-succeeded.
func (s *Service) SnapshotStatus(ctx context.Context, org, id string) (*runner.Status, *domain.ExperimentSnapshot, error) {
	snap, err := s.snapshots.GetByID(ctx, org, id)
	if err != nil {
		return nil, nil, err
	}

	st, err := s.poller.Poll(ctx, &snapshotOwner{svc: s, snap: snap})
	if err != nil {
		return nil, nil, err
	}

	// Re-read to surface whatever the poll persisted.
	snap, err = s.snapshots.GetByID(ctx, org, id)
	if err != nil {
		return nil, nil, err
	}
	return st, snap, nil
}

// CancelSnapshot detaches a running snapshot from its queries.
func (s *Service) CancelSnapshot(ctx context.Context, org, id string) error {
	snap, err := s.snapshots.GetByID(ctx, org, id)
	if err != nil {
		return err
	}
	return s.poller.Cancel(ctx, &snapshotOwner{svc: s, snap: snap}, org)
}

// dispatch starts one named query against the integration.
func (s *Service) dispatch(ctx context.Context, name string, integ domain.Integration, opts runner.QueryOptions, queryText string, process runner.ProcessFunc) runner.PendingQuery {
	ds := integ.Datasource()
	rec, err := s.dispatcher.StartQuery(ctx, runner.QuerySpec{
		Organization: ds.Organization,
		Datasource:   ds.ID,
		Language:     integ.Language(),
		Query:        queryText,
		Run: func(ctx context.Context) (domain.RawRows, error) {
			return integ.RunQuery(ctx, queryText)
		},
		Process: process,
	}, opts)
	return runner.PendingQuery{Name: name, Record: rec, Err: err}
}

// processSnapshot reassembles the name-keyed query map into aggregator input
// and runs the results aggregation.
func (s *Service) processSnapshot(ctx context.Context, exp *domain.Experiment, phase *domain.ExperimentPhase, metricList []*domain.Metric, qm runner.QueryMap) (*stats.ExperimentResults, error) {
	data, err := buildExperimentData(qm, metricList)
	if err != nil {
		return nil, err
	}
	return stats.AnalyzeExperimentResults(ctx, exp, phase, metricList, data, s.engine)
}

// buildExperimentData partitions named query results into users data and
// per-metric row sets. Datasources that return everything at once use a
// single "results" entry whose rows carry a metric column.
func buildExperimentData(qm runner.QueryMap, metricList []*domain.Metric) (*stats.ExperimentData, error) {
	data := &stats.ExperimentData{Metrics: make(map[string][]stats.MetricRow, len(metricList))}

	if combined, ok := qm["results"]; ok {
		return buildCombinedData(combined, metricList)
	}

	usersRec, ok := qm["users"]
	if !ok {
		return nil, domain.ErrValidation("query map is missing the users query")
	}
	users, err := runner.DecodeResult[[]stats.UsersRow](usersRec)
	if err != nil {
		return nil, err
	}
	data.Users = *users

	for _, m := range metricList {
		rec, ok := qm[m.ID]
		if !ok {
			continue
		}
		rows, err := runner.DecodeResult[[]stats.MetricRow](rec)
		if err != nil {
			return nil, err
		}
		data.Metrics[m.ID] = *rows
	}
	return data, nil
}

// buildCombinedData splits a single combined result set by its metric
// column; rows without one are user counts.
func buildCombinedData(rec *domain.QueryRecord, metricList []*domain.Metric) (*stats.ExperimentData, error) {
	rows, err := runner.DecodeResult[[]combinedRow](rec)
	if err != nil {
		return nil, err
	}

	data := &stats.ExperimentData{Metrics: make(map[string][]stats.MetricRow, len(metricList))}
	for _, row := range *rows {
		if row.Metric == "" {
			data.Users = append(data.Users, stats.UsersRow{
				Dimension: row.Dimension,
				Variation: row.Variation,
				Users:     row.Users,
			})
			continue
		}
		data.Metrics[row.Metric] = append(data.Metrics[row.Metric], stats.MetricRow{
			Dimension: row.Dimension,
			Variation: row.Variation,
			Count:     row.Count,
			Sum:       row.Sum,
			Mean:      row.Mean,
			Stddev:    row.Stddev,
		})
	}
	return data, nil
}

// combinedRow is one row of a single-query ("results") response.
type combinedRow struct {
	Metric    string  `json:"metric"`
	Dimension string  `json:"dimension"`
	Variation string  `json:"variation"`
	Users     int64   `json:"users"`
	Count     int64   `json:"count"`
	Sum       float64 `json:"sum"`
	Mean      float64 `json:"mean"`
	Stddev    float64 `json:"stddev"`
}

func pointerIDs(pointers []domain.QueryPointer) []string {
	ids := make([]string, len(pointers))
	for i, p := range pointers {
		ids[i] = p.QueryID
	}
	return ids
}
