package experiment

import (
	"context"
	"time"

	"exphub/internal/domain"
	"exphub/internal/integration"
	"exphub/internal/runner"
)

// AnalyzeMetric dispatches a daily metric value query and persists a new
// metric analysis. Cached results complete synchronously.
func (s *Service) AnalyzeMetric(ctx context.Context, org, metricID string, useCache bool) (*domain.MetricAnalysis, error) {
	m, err := s.metrics.GetByID(ctx, org, metricID)
	if err != nil {
		return nil, err
	}
	integ, err := s.resolver.Get(org, m.Datasource)
	if err != nil {
		return nil, err
	}

	qopts := s.queryOptions(useCache)

	pending := []runner.PendingQuery{
		s.dispatch(ctx, "metric", integ, qopts,
			integration.MetricValueQuery(integ.Datasource(), m), parseMetricDates),
	}

	outcome, err := runner.StartRun(ctx, pending, func(ctx context.Context, qm runner.QueryMap) (*domain.MetricAnalysisResult, error) {
		return processMetricAnalysis(qm)
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	analysis := &domain.MetricAnalysis{
		Organization: org,
		Metric:       m.ID,
		RunStarted:   &now,
		Queries:      outcome.Queries,
		Analysis:     outcome.Result,
	}
	return s.analyses.Create(ctx, analysis)
}

// MetricAnalysisStatus polls the analysis's queries and returns the latest
// persisted state.
func (s *Service) MetricAnalysisStatus(ctx context.Context, org, id string) (*runner.Status, *domain.MetricAnalysis, error) {
	analysis, err := s.analyses.GetByID(ctx, org, id)
	if err != nil {
		return nil, nil, err
	}

	st, err := s.poller.Poll(ctx, &analysisOwner{svc: s, analysis: analysis})
	if err != nil {
		return nil, nil, err
	}

	analysis, err = s.analyses.GetByID(ctx, org, id)
	if err != nil {
		return nil, nil, err
	}
	return st, analysis, nil
}

// CancelMetricAnalysis detaches a running analysis from its queries.
func (s *Service) CancelMetricAnalysis(ctx context.Context, org, id string) error {
	analysis, err := s.analyses.GetByID(ctx, org, id)
	if err != nil {
		return err
	}
	return s.poller.Cancel(ctx, &analysisOwner{svc: s, analysis: analysis}, org)
}

// processMetricAnalysis folds the daily series into totals. Average is
// weighted by daily users so sparse days do not skew it.
func processMetricAnalysis(qm runner.QueryMap) (*domain.MetricAnalysisResult, error) {
	rec, ok := qm["metric"]
	if !ok {
		return nil, domain.ErrValidation("query map is missing the metric query")
	}
	dates, err := runner.DecodeResult[[]domain.MetricAnalysisDate](rec)
	if err != nil {
		return nil, err
	}

	result := &domain.MetricAnalysisResult{Dates: *dates}
	var weighted float64
	for _, d := range *dates {
		result.Users += d.Users
		weighted += d.Value * float64(d.Users)
	}
	if result.Users > 0 {
		result.Average = weighted / float64(result.Users)
	}
	return result, nil
}
