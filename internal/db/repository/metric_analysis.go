package repository

import (
	"context"
	"database/sql"

	"exphub/internal/domain"
)

var _ domain.MetricAnalysisRepository = (*MetricAnalysisRepo)(nil)

// MetricAnalysisRepo stores standalone metric analyses in SQLite.
type MetricAnalysisRepo struct {
	db     *sql.DB
	readDB *sql.DB
}

// NewMetricAnalysisRepo creates a new MetricAnalysisRepo.
func NewMetricAnalysisRepo(db, readDB *sql.DB) *MetricAnalysisRepo {
	return &MetricAnalysisRepo{db: db, readDB: readDB}
}

// Create inserts a new metric analysis.
func (r *MetricAnalysisRepo) Create(ctx context.Context, a *domain.MetricAnalysis) (*domain.MetricAnalysis, error) {
	if a == nil {
		return nil, domain.ErrValidation("metric analysis is required")
	}
	if a.ID == "" {
		a.ID = domain.NewID()
	}

	queriesJSON, err := marshalJSON(a.Queries, "queries")
	if err != nil {
		return nil, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO metric_analyses (id, organization, metric, run_started, queries_json, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, a.Organization, a.Metric, a.RunStarted, queriesJSON, a.Error)
	if err != nil {
		return nil, mapDBError(err)
	}

	return r.GetByID(ctx, a.Organization, a.ID)
}

// GetByID returns a metric analysis by organization and id.
func (r *MetricAnalysisRepo) GetByID(ctx context.Context, org, id string) (*domain.MetricAnalysis, error) {
	var (
		a            domain.MetricAnalysis
		runStarted   sql.NullTime
		queriesJSON  sql.NullString
		analysisJSON sql.NullString
	)

	err := r.readDB.QueryRowContext(ctx, `
		SELECT id, organization, metric, run_started, queries_json, analysis_json, error_message, date_created
		FROM metric_analyses WHERE organization = ? AND id = ?
	`, org, id).Scan(&a.ID, &a.Organization, &a.Metric, &runStarted, &queriesJSON, &analysisJSON, &a.Error, &a.DateCreated)
	if err != nil {
		return nil, mapDBError(err)
	}

	if runStarted.Valid {
		t := runStarted.Time
		a.RunStarted = &t
	}
	if err := unmarshalJSON(queriesJSON, &a.Queries, "queries"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(analysisJSON, &a.Analysis, "analysis"); err != nil {
		return nil, err
	}

	return &a, nil
}

// UpdateQueries persists pointer statuses plus an optional error message.
func (r *MetricAnalysisRepo) UpdateQueries(ctx context.Context, org, id string, queries []domain.QueryPointer, errMsg string) error {
	queriesJSON, err := marshalJSON(queries, "queries")
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE metric_analyses SET queries_json = ?, error_message = ?
		WHERE organization = ? AND id = ?
	`, queriesJSON, errMsg, org, id)
	return mapDBError(err)
}

// UpdateResults persists pointers and the computed analysis in one update.
func (r *MetricAnalysisRepo) UpdateResults(ctx context.Context, org, id string, queries []domain.QueryPointer, result *domain.MetricAnalysisResult) error {
	queriesJSON, err := marshalJSON(queries, "queries")
	if err != nil {
		return err
	}
	analysisJSON, err := marshalJSON(result, "analysis")
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE metric_analyses
		SET queries_json = ?, analysis_json = ?, error_message = ''
		WHERE organization = ? AND id = ?
	`, queriesJSON, analysisJSON, org, id)
	return mapDBError(err)
}

// ClearRun detaches a cancelled analysis from its queries.
func (r *MetricAnalysisRepo) ClearRun(ctx context.Context, org, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE metric_analyses
		SET queries_json = '[]', run_started = NULL, error_message = ''
		WHERE organization = ? AND id = ?
	`, org, id)
	return mapDBError(err)
}
