package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "exphub/internal/db"
	"exphub/internal/db/repository"
	"exphub/internal/domain"
	"exphub/internal/runner"
	"exphub/internal/stats"
)

// fakeIntegration serves canned rows keyed on the query's leading comment.
// A non-nil gate blocks every RunQuery until the gate channel is closed,
// which keeps dispatched queries in the running state.
type fakeIntegration struct {
	ds   *domain.Datasource
	gate chan struct{}
	rows func(query string) (domain.RawRows, error)
}

func (f *fakeIntegration) Datasource() *domain.Datasource { return f.ds }
func (f *fakeIntegration) Language() string               { return "sql" }

func (f *fakeIntegration) RunQuery(ctx context.Context, query string) (domain.RawRows, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.rows(query)
}

type fakeResolver struct {
	integ *fakeIntegration
}

func (f *fakeResolver) Get(org, id string) (domain.Integration, error) {
	if org != f.integ.ds.Organization || id != f.integ.ds.ID {
		return nil, domain.ErrNotFound("datasource %q not found", id)
	}
	return f.integ, nil
}

func defaultRows(query string) (domain.RawRows, error) {
	switch {
	case strings.HasPrefix(query, "-- users"):
		return domain.RawRows{
			{"dimension": "", "variation": "0", "users": int64(500)},
			{"dimension": "", "variation": "1", "users": int64(510)},
		}, nil
	case strings.HasPrefix(query, "-- metric analysis"):
		return domain.RawRows{
			{"date": "2026-08-01", "users": int64(100), "value": float64(200)},
			{"date": "2026-08-02", "users": int64(300), "value": float64(900)},
		}, nil
	case strings.HasPrefix(query, "-- metric"):
		return domain.RawRows{
			{"dimension": "", "variation": "0", "count": int64(500), "sum": float64(100), "mean": 0.2, "stddev": float64(0)},
			{"dimension": "", "variation": "1", "count": int64(510), "sum": float64(130), "mean": 0.255, "stddev": float64(0)},
		}, nil
	case strings.HasPrefix(query, "-- past experiments"):
		return domain.RawRows{
			{"experiment_id": "legacy-test", "variations": int64(2), "start_date": "2026-01-01", "end_date": "2026-02-01", "users": int64(8000)},
		}, nil
	case strings.HasPrefix(query, "-- segment"):
		return domain.RawRows{{"users": int64(1234)}}, nil
	}
	return nil, fmt.Errorf("unexpected query: %s", query)
}

// ledgerSpy passes everything through to a real ledger while recording the
// reuse cutoff handed to FindReusable.
type ledgerSpy struct {
	domain.QueryRepository

	mu   sync.Mutex
	last time.Time
}

func (l *ledgerSpy) FindReusable(ctx context.Context, org, datasource, queryText string, since time.Time, includeFailed bool) (*domain.QueryRecord, error) {
	l.mu.Lock()
	l.last = since
	l.mu.Unlock()
	return l.QueryRepository.FindReusable(ctx, org, datasource, queryText, since, includeFailed)
}

func (l *ledgerSpy) lastCutoff() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

type serviceFixture struct {
	svc    *Service
	integ  *fakeIntegration
	repos  repos
	ledger *ledgerSpy
	expID  string
	metric string
}

type repos struct {
	queries domain.QueryRepository
}

// newFixture wires a Service over a real SQLite ledger and one seeded
// experiment with a single binomial metric.
func newFixture(t *testing.T, gate chan struct{}) *serviceFixture {
	return newFixtureTTL(t, gate, 0)
}

// newFixtureTTL is newFixture with an explicit query reuse window.
func newFixtureTTL(t *testing.T, gate chan struct{}, cacheTTL time.Duration) *serviceFixture {
	t.Helper()

	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	writeDB, readDB := internaldb.OpenTestSQLite(t)

	queries := &ledgerSpy{QueryRepository: repository.NewQueryRepo(writeDB, readDB)}
	experiments := repository.NewExperimentRepo(writeDB, readDB)
	metrics := repository.NewMetricRepo(writeDB, readDB)

	ds := &domain.Datasource{
		ID:           "warehouse",
		Organization: "acme",
		Type:         domain.DatasourceTypeSQLite,
		Settings: domain.DatasourceSettings{
			ExperimentsTable: "assignments",
			ExperimentIDCol:  "experiment_id",
			VariationCol:     "variation",
			UsersCol:         "user_id",
			TimestampCol:     "ts",
		},
	}
	integ := &fakeIntegration{ds: ds, gate: gate, rows: defaultRows}

	m, err := metrics.Create(ctx, &domain.Metric{
		Organization: "acme",
		Datasource:   "warehouse",
		Name:         "Converted",
		Type:         domain.MetricTypeBinomial,
		Table:        "conversions",
	})
	require.NoError(t, err)

	exp, err := experiments.Create(ctx, &domain.Experiment{
		Organization: "acme",
		Datasource:   "warehouse",
		TrackingKey:  "checkout-flow",
		Name:         "Checkout flow",
		Variations: []domain.Variation{
			{ID: "v0", Name: "Control", Key: "0"},
			{ID: "v1", Name: "Treatment", Key: "1"},
		},
		Phases: []domain.ExperimentPhase{
			{DateStarted: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), VariationWeights: []float64{0.5, 0.5}},
		},
		Metrics: []string{m.ID},
	})
	require.NoError(t, err)

	dispatcher := runner.NewDispatcher(queries, logger)
	dispatcher.SetHeartbeatInterval(10 * time.Millisecond)

	svc := NewService(Deps{
		Experiments: experiments,
		Metrics:     metrics,
		Snapshots:   repository.NewSnapshotRepo(writeDB, readDB),
		Analyses:    repository.NewMetricAnalysisRepo(writeDB, readDB),
		Imports:     repository.NewPastExperimentsRepo(writeDB, readDB),
		Comparisons: repository.NewSegmentComparisonRepo(writeDB, readDB),
		Queries:     queries,
		Resolver:    &fakeResolver{integ: integ},
		Dispatcher:  dispatcher,
		Poller:      runner.NewPoller(queries, logger),
		Engine:      stats.NewNormalEngine(),
		CacheTTL:    cacheTTL,
		Logger:      logger,
	})

	return &serviceFixture{
		svc:    svc,
		integ:  integ,
		repos:  repos{queries: queries},
		ledger: queries,
		expID:  exp.ID,
		metric: m.ID,
	}
}

func waitSucceeded(t *testing.T, poll func() (*runner.Status, error)) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := poll()
		return err == nil && st.QueryStatus == domain.QueryStatusSucceeded
	}, 5*time.Second, 20*time.Millisecond)
}

func TestService_CreateSnapshotLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gate := make(chan struct{})
	fix := newFixture(t, gate)

	snap, err := fix.svc.CreateSnapshot(ctx, "acme", fix.expID, SnapshotOptions{UseCache: true})
	require.NoError(t, err)
	require.Len(t, snap.Queries, 2)
	assert.Equal(t, "users", snap.Queries[0].Name)
	assert.Equal(t, fix.metric, snap.Queries[1].Name)
	assert.Empty(t, snap.Results)
	require.NotNil(t, snap.RunStarted)

	st, _, err := fix.svc.SnapshotStatus(ctx, "acme", snap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueryStatusRunning, st.QueryStatus)
	assert.Equal(t, 0, st.Finished)
	assert.Equal(t, 2, st.Total)

	close(gate)

	waitSucceeded(t, func() (*runner.Status, error) {
		st, _, err := fix.svc.SnapshotStatus(ctx, "acme", snap.ID)
		return st, err
	})

	_, got, err := fix.svc.SnapshotStatus(ctx, "acme", snap.ID)
	require.NoError(t, err)
	require.Len(t, got.Results, 1)
	dim := got.Results[0]
	assert.Equal(t, "All", dim.Name)
	require.Len(t, dim.Variations, 2)
	assert.Equal(t, int64(500), dim.Variations[0].Users)
	assert.Equal(t, int64(510), dim.Variations[1].Users)
	assert.InDelta(t, 0.2, dim.Variations[0].Metrics[fix.metric].CR, 1e-9)
	assert.NotNil(t, dim.Variations[1].Metrics[fix.metric].ChanceToWin)
	assert.Empty(t, got.Error)
}

func TestService_CreateSnapshot_SyncOnCacheHit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fix := newFixture(t, nil)

	first, err := fix.svc.CreateSnapshot(ctx, "acme", fix.expID, SnapshotOptions{UseCache: true})
	require.NoError(t, err)
	waitSucceeded(t, func() (*runner.Status, error) {
		st, _, err := fix.svc.SnapshotStatus(ctx, "acme", first.ID)
		return st, err
	})

	// Every query is now a terminal cache hit, so the second snapshot
	// carries computed results immediately.
	second, err := fix.svc.CreateSnapshot(ctx, "acme", fix.expID, SnapshotOptions{UseCache: true})
	require.NoError(t, err)
	require.Len(t, second.Results, 1)
	assert.Equal(t, "All", second.Results[0].Name)
	for _, p := range second.Queries {
		assert.Equal(t, domain.QueryStatusSucceeded, p.Status)
	}
}

func TestService_ConfiguredReuseWindowReachesLedger(t *testing.T) {
	t.Parallel()

	fix := newFixtureTTL(t, nil, time.Hour)

	_, err := fix.svc.CreateSnapshot(context.Background(), "acme", fix.expID, SnapshotOptions{UseCache: true})
	require.NoError(t, err)

	// The default window is 24h, so a cutoff near now-1h proves the
	// configured value made it through dispatch.
	assert.WithinDuration(t, time.Now().Add(-time.Hour), fix.ledger.lastCutoff(), 10*time.Second)
}

func TestService_CreateSnapshot_UnknownExperiment(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, nil)
	_, err := fix.svc.CreateSnapshot(context.Background(), "acme", "missing", SnapshotOptions{UseCache: true})
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestService_SnapshotFailureSurfacesError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fix := newFixture(t, nil)
	fix.integ.rows = func(query string) (domain.RawRows, error) {
		if strings.HasPrefix(query, "-- metric") {
			return nil, fmt.Errorf("relation does not exist")
		}
		return defaultRows(query)
	}

	snap, err := fix.svc.CreateSnapshot(ctx, "acme", fix.expID, SnapshotOptions{UseCache: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, _, err := fix.svc.SnapshotStatus(ctx, "acme", snap.ID)
		return err == nil && st.QueryStatus == domain.QueryStatusFailed
	}, 5*time.Second, 20*time.Millisecond)

	_, got, err := fix.svc.SnapshotStatus(ctx, "acme", snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "one or more queries failed", got.Error)
	assert.Empty(t, got.Results)
}

func TestService_CancelSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gate := make(chan struct{})
	t.Cleanup(func() { close(gate) })
	fix := newFixture(t, gate)

	snap, err := fix.svc.CreateSnapshot(ctx, "acme", fix.expID, SnapshotOptions{UseCache: true})
	require.NoError(t, err)
	ids := pointerIDs(snap.Queries)

	require.NoError(t, fix.svc.CancelSnapshot(ctx, "acme", snap.ID))

	_, got, err := fix.svc.SnapshotStatus(ctx, "acme", snap.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Queries)
	assert.Nil(t, got.RunStarted)

	left, err := fix.repos.queries.FindByIDs(ctx, "acme", ids)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestService_CancelSnapshot_WrongOrganization(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gate := make(chan struct{})
	t.Cleanup(func() { close(gate) })
	fix := newFixture(t, gate)

	snap, err := fix.svc.CreateSnapshot(ctx, "acme", fix.expID, SnapshotOptions{UseCache: true})
	require.NoError(t, err)

	err = fix.svc.CancelSnapshot(ctx, "rival", snap.ID)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestService_AnalyzeMetricLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fix := newFixture(t, nil)

	analysis, err := fix.svc.AnalyzeMetric(ctx, "acme", fix.metric, true)
	require.NoError(t, err)
	require.Len(t, analysis.Queries, 1)
	assert.Equal(t, "metric", analysis.Queries[0].Name)

	waitSucceeded(t, func() (*runner.Status, error) {
		st, _, err := fix.svc.MetricAnalysisStatus(ctx, "acme", analysis.ID)
		return st, err
	})

	_, got, err := fix.svc.MetricAnalysisStatus(ctx, "acme", analysis.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Analysis)
	assert.Equal(t, int64(400), got.Analysis.Users)
	// Weighted by users: (200*100 + 900*300) / 400.
	assert.InDelta(t, 725.0, got.Analysis.Average, 1e-9)
	require.Len(t, got.Analysis.Dates, 2)
}

func TestService_ImportPastExperimentsLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fix := newFixture(t, nil)

	imp, err := fix.svc.ImportPastExperiments(ctx, "acme", "warehouse", true)
	require.NoError(t, err)
	require.Len(t, imp.Queries, 1)

	waitSucceeded(t, func() (*runner.Status, error) {
		st, _, err := fix.svc.PastExperimentsStatus(ctx, "acme", imp.ID)
		return st, err
	})

	_, got, err := fix.svc.PastExperimentsStatus(ctx, "acme", imp.ID)
	require.NoError(t, err)
	require.Len(t, got.Experiments, 1)
	assert.Equal(t, "legacy-test", got.Experiments[0].TrackingKey)
	assert.Equal(t, 2, got.Experiments[0].Variations)
	assert.Equal(t, int64(8000), got.Experiments[0].Users)
}

func TestService_CompareSegmentsLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fix := newFixture(t, nil)

	_, err := fix.svc.CompareSegments(ctx, "acme", "warehouse", "", "casual", true)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)

	sc, err := fix.svc.CompareSegments(ctx, "acme", "warehouse", "power_users", "casual_users", true)
	require.NoError(t, err)
	require.Len(t, sc.Queries, 2)

	waitSucceeded(t, func() (*runner.Status, error) {
		st, _, err := fix.svc.SegmentComparisonStatus(ctx, "acme", sc.ID)
		return st, err
	})

	_, got, err := fix.svc.SegmentComparisonStatus(ctx, "acme", sc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Results)
	assert.Equal(t, "power_users", got.Results.Segment1.Segment)
	assert.Equal(t, int64(1234), got.Results.Segment1.Users)
	assert.Equal(t, int64(1234), got.Results.Segment2.Users)
}
