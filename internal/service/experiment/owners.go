package experiment

import (
	"context"
	"time"

	"exphub/internal/domain"
	"exphub/internal/runner"
)

// Owner adapters bind each owning-object kind to the status poller: they
// expose the persisted pointers and know how to compute and store results on
// the success transition, and how to detach on cancellation.

type snapshotOwner struct {
	svc  *Service
	snap *domain.ExperimentSnapshot
}

var _ runner.Owner = (*snapshotOwner)(nil)

func (o *snapshotOwner) OwnerKind() string                   { return "snapshot" }
func (o *snapshotOwner) OwnerID() string                     { return o.snap.ID }
func (o *snapshotOwner) OwnerOrganization() string           { return o.snap.Organization }
func (o *snapshotOwner) QueryPointers() []domain.QueryPointer { return o.snap.Queries }
func (o *snapshotOwner) RunStarted() *time.Time              { return o.snap.RunStarted }
func (o *snapshotOwner) StoredError() string                 { return o.snap.Error }

func (o *snapshotOwner) SaveQueries(ctx context.Context, queries []domain.QueryPointer, errMsg string) error {
	return o.svc.snapshots.UpdateQueries(ctx, o.snap.Organization, o.snap.ID, queries, errMsg)
}

func (o *snapshotOwner) SaveSuccess(ctx context.Context, queries []domain.QueryPointer, qm runner.QueryMap) error {
	exp, err := o.svc.experiments.GetByID(ctx, o.snap.Organization, o.snap.Experiment)
	if err != nil {
		return err
	}
	phase, err := exp.Phase(o.snap.Phase)
	if err != nil {
		return err
	}
	metricList, err := o.svc.metrics.GetByIDs(ctx, o.snap.Organization, exp.Metrics)
	if err != nil {
		return err
	}

	results, err := o.svc.processSnapshot(ctx, exp, phase, metricList, qm)
	if err != nil {
		return err
	}
	return o.svc.snapshots.UpdateResults(ctx, o.snap.Organization, o.snap.ID, queries, results.Dimensions, results.UnknownVariations)
}

func (o *snapshotOwner) DeleteQueries(ctx context.Context) error {
	if err := o.svc.queries.DeleteByIDs(ctx, o.snap.Organization, pointerIDs(o.snap.Queries)); err != nil {
		return err
	}
	return o.svc.snapshots.ClearRun(ctx, o.snap.Organization, o.snap.ID)
}

type analysisOwner struct {
	svc      *Service
	analysis *domain.MetricAnalysis
}

var _ runner.Owner = (*analysisOwner)(nil)

func (o *analysisOwner) OwnerKind() string                    { return "metric-analysis" }
func (o *analysisOwner) OwnerID() string                      { return o.analysis.ID }
func (o *analysisOwner) OwnerOrganization() string            { return o.analysis.Organization }
func (o *analysisOwner) QueryPointers() []domain.QueryPointer { return o.analysis.Queries }
func (o *analysisOwner) RunStarted() *time.Time               { return o.analysis.RunStarted }
func (o *analysisOwner) StoredError() string                  { return o.analysis.Error }

func (o *analysisOwner) SaveQueries(ctx context.Context, queries []domain.QueryPointer, errMsg string) error {
	return o.svc.analyses.UpdateQueries(ctx, o.analysis.Organization, o.analysis.ID, queries, errMsg)
}

func (o *analysisOwner) SaveSuccess(ctx context.Context, queries []domain.QueryPointer, qm runner.QueryMap) error {
	result, err := processMetricAnalysis(qm)
	if err != nil {
		return err
	}
	return o.svc.analyses.UpdateResults(ctx, o.analysis.Organization, o.analysis.ID, queries, result)
}

func (o *analysisOwner) DeleteQueries(ctx context.Context) error {
	if err := o.svc.queries.DeleteByIDs(ctx, o.analysis.Organization, pointerIDs(o.analysis.Queries)); err != nil {
		return err
	}
	return o.svc.analyses.ClearRun(ctx, o.analysis.Organization, o.analysis.ID)
}

type importOwner struct {
	svc *Service
	imp *domain.PastExperimentsImport
}

var _ runner.Owner = (*importOwner)(nil)

func (o *importOwner) OwnerKind() string                    { return "past-experiments" }
func (o *importOwner) OwnerID() string                      { return o.imp.ID }
func (o *importOwner) OwnerOrganization() string            { return o.imp.Organization }
func (o *importOwner) QueryPointers() []domain.QueryPointer { return o.imp.Queries }
func (o *importOwner) RunStarted() *time.Time               { return o.imp.RunStarted }
func (o *importOwner) StoredError() string                  { return o.imp.Error }

func (o *importOwner) SaveQueries(ctx context.Context, queries []domain.QueryPointer, errMsg string) error {
	return o.svc.imports.UpdateQueries(ctx, o.imp.Organization, o.imp.ID, queries, errMsg)
}

func (o *importOwner) SaveSuccess(ctx context.Context, queries []domain.QueryPointer, qm runner.QueryMap) error {
	experiments, err := processPastExperiments(qm)
	if err != nil {
		return err
	}
	return o.svc.imports.UpdateResults(ctx, o.imp.Organization, o.imp.ID, queries, experiments)
}

func (o *importOwner) DeleteQueries(ctx context.Context) error {
	if err := o.svc.queries.DeleteByIDs(ctx, o.imp.Organization, pointerIDs(o.imp.Queries)); err != nil {
		return err
	}
	return o.svc.imports.ClearRun(ctx, o.imp.Organization, o.imp.ID)
}

type comparisonOwner struct {
	svc *Service
	sc  *domain.SegmentComparison
}

var _ runner.Owner = (*comparisonOwner)(nil)

func (o *comparisonOwner) OwnerKind() string                    { return "segment-comparison" }
func (o *comparisonOwner) OwnerID() string                      { return o.sc.ID }
func (o *comparisonOwner) OwnerOrganization() string            { return o.sc.Organization }
func (o *comparisonOwner) QueryPointers() []domain.QueryPointer { return o.sc.Queries }
func (o *comparisonOwner) RunStarted() *time.Time               { return o.sc.RunStarted }
func (o *comparisonOwner) StoredError() string                  { return o.sc.Error }

func (o *comparisonOwner) SaveQueries(ctx context.Context, queries []domain.QueryPointer, errMsg string) error {
	return o.svc.comparisons.UpdateQueries(ctx, o.sc.Organization, o.sc.ID, queries, errMsg)
}

func (o *comparisonOwner) SaveSuccess(ctx context.Context, queries []domain.QueryPointer, qm runner.QueryMap) error {
	result, err := processSegmentComparison(o.sc, qm)
	if err != nil {
		return err
	}
	return o.svc.comparisons.UpdateResults(ctx, o.sc.Organization, o.sc.ID, queries, result)
}

func (o *comparisonOwner) DeleteQueries(ctx context.Context) error {
	if err := o.svc.queries.DeleteByIDs(ctx, o.sc.Organization, pointerIDs(o.sc.Queries)); err != nil {
		return err
	}
	return o.svc.comparisons.ClearRun(ctx, o.sc.Organization, o.sc.ID)
}
