package experiment

import (
	"context"
	"time"

	"exphub/internal/domain"
	"exphub/internal/integration"
	"exphub/internal/runner"
)

// pastExperimentsLookback bounds how far back the discovery query scans
// assignment data.
const pastExperimentsLookback = 365 * 24 * time.Hour

// ImportPastExperiments dispatches a discovery query over warehouse
// assignment data and persists a new import run.
func (s *Service) ImportPastExperiments(ctx context.Context, org, datasourceID string, useCache bool) (*domain.PastExperimentsImport, error) {
	integ, err := s.resolver.Get(org, datasourceID)
	if err != nil {
		return nil, err
	}

	qopts := s.queryOptions(useCache)
	since := time.Now().Add(-pastExperimentsLookback)

	pending := []runner.PendingQuery{
		s.dispatch(ctx, "experiments", integ, qopts,
			integration.PastExperimentsQuery(integ.Datasource(), since), parsePastExperiments),
	}

	outcome, err := runner.StartRun(ctx, pending, func(ctx context.Context, qm runner.QueryMap) (*[]domain.PastExperiment, error) {
		return processPastExperimentsPtr(qm)
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	imp := &domain.PastExperimentsImport{
		Organization: org,
		Datasource:   datasourceID,
		RunStarted:   &now,
		Queries:      outcome.Queries,
	}
	if outcome.Result != nil {
		imp.Experiments = *outcome.Result
	}
	return s.imports.Create(ctx, imp)
}

// PastExperimentsStatus polls the import's queries and returns the latest
// persisted state.
func (s *Service) PastExperimentsStatus(ctx context.Context, org, id string) (*runner.Status, *domain.PastExperimentsImport, error) {
	imp, err := s.imports.GetByID(ctx, org, id)
	if err != nil {
		return nil, nil, err
	}

	st, err := s.poller.Poll(ctx, &importOwner{svc: s, imp: imp})
	if err != nil {
		return nil, nil, err
	}

	imp, err = s.imports.GetByID(ctx, org, id)
	if err != nil {
		return nil, nil, err
	}
	return st, imp, nil
}

// CancelPastExperiments detaches a running import from its queries.
func (s *Service) CancelPastExperiments(ctx context.Context, org, id string) error {
	imp, err := s.imports.GetByID(ctx, org, id)
	if err != nil {
		return err
	}
	return s.poller.Cancel(ctx, &importOwner{svc: s, imp: imp}, org)
}

func processPastExperiments(qm runner.QueryMap) ([]domain.PastExperiment, error) {
	out, err := processPastExperimentsPtr(qm)
	if err != nil {
		return nil, err
	}
	return *out, nil
}

func processPastExperimentsPtr(qm runner.QueryMap) (*[]domain.PastExperiment, error) {
	rec, ok := qm["experiments"]
	if !ok {
		return nil, domain.ErrValidation("query map is missing the experiments query")
	}
	return runner.DecodeResult[[]domain.PastExperiment](rec)
}

// CompareSegments dispatches one users query per segment and persists a new
// comparison run.
func (s *Service) CompareSegments(ctx context.Context, org, datasourceID, segment1, segment2 string, useCache bool) (*domain.SegmentComparison, error) {
	integ, err := s.resolver.Get(org, datasourceID)
	if err != nil {
		return nil, err
	}
	if segment1 == "" || segment2 == "" {
		return nil, domain.ErrValidation("both segments are required")
	}

	qopts := s.queryOptions(useCache)
	ds := integ.Datasource()

	sc := &domain.SegmentComparison{
		Organization: org,
		Datasource:   datasourceID,
		Segment1:     segment1,
		Segment2:     segment2,
	}

	pending := []runner.PendingQuery{
		s.dispatch(ctx, "users1", integ, qopts, integration.SegmentUsersQuery(ds, segment1), parseSegmentUsers),
		s.dispatch(ctx, "users2", integ, qopts, integration.SegmentUsersQuery(ds, segment2), parseSegmentUsers),
	}

	outcome, err := runner.StartRun(ctx, pending, func(ctx context.Context, qm runner.QueryMap) (*domain.SegmentComparisonResult, error) {
		return processSegmentComparison(sc, qm)
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sc.RunStarted = &now
	sc.Queries = outcome.Queries
	sc.Results = outcome.Result
	return s.comparisons.Create(ctx, sc)
}

// SegmentComparisonStatus polls the comparison's queries and returns the
// latest persisted state.
func (s *Service) SegmentComparisonStatus(ctx context.Context, org, id string) (*runner.Status, *domain.SegmentComparison, error) {
	sc, err := s.comparisons.GetByID(ctx, org, id)
	if err != nil {
		return nil, nil, err
	}

	st, err := s.poller.Poll(ctx, &comparisonOwner{svc: s, sc: sc})
	if err != nil {
		return nil, nil, err
	}

	sc, err = s.comparisons.GetByID(ctx, org, id)
	if err != nil {
		return nil, nil, err
	}
	return st, sc, nil
}

// CancelSegmentComparison detaches a running comparison from its queries.
func (s *Service) CancelSegmentComparison(ctx context.Context, org, id string) error {
	sc, err := s.comparisons.GetByID(ctx, org, id)
	if err != nil {
		return err
	}
	return s.poller.Cancel(ctx, &comparisonOwner{svc: s, sc: sc}, org)
}

func processSegmentComparison(sc *domain.SegmentComparison, qm runner.QueryMap) (*domain.SegmentComparisonResult, error) {
	rec1, ok1 := qm["users1"]
	rec2, ok2 := qm["users2"]
	if !ok1 || !ok2 {
		return nil, domain.ErrValidation("query map is missing a segment users query")
	}
	side1, err := runner.DecodeResult[segmentUsers](rec1)
	if err != nil {
		return nil, err
	}
	side2, err := runner.DecodeResult[segmentUsers](rec2)
	if err != nil {
		return nil, err
	}
	return &domain.SegmentComparisonResult{
		Segment1: domain.SegmentComparisonSide{Segment: sc.Segment1, Users: side1.Users},
		Segment2: domain.SegmentComparisonSide{Segment: sc.Segment2, Users: side2.Users},
	}, nil
}
