package repository

import (
	"context"
	"database/sql"

	"exphub/internal/domain"
)

var _ domain.SegmentComparisonRepository = (*SegmentComparisonRepo)(nil)

// SegmentComparisonRepo stores segment comparisons in SQLite.
type SegmentComparisonRepo struct {
	db     *sql.DB
	readDB *sql.DB
}

// NewSegmentComparisonRepo creates a new SegmentComparisonRepo.
func NewSegmentComparisonRepo(db, readDB *sql.DB) *SegmentComparisonRepo {
	return &SegmentComparisonRepo{db: db, readDB: readDB}
}

// Create inserts a new comparison.
func (r *SegmentComparisonRepo) Create(ctx context.Context, sc *domain.SegmentComparison) (*domain.SegmentComparison, error) {
	if sc == nil {
		return nil, domain.ErrValidation("segment comparison is required")
	}
	if sc.ID == "" {
		sc.ID = domain.NewID()
	}

	queriesJSON, err := marshalJSON(sc.Queries, "queries")
	if err != nil {
		return nil, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO segment_comparisons (id, organization, datasource, segment1, segment2, run_started, queries_json, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sc.ID, sc.Organization, sc.Datasource, sc.Segment1, sc.Segment2, sc.RunStarted, queriesJSON, sc.Error)
	if err != nil {
		return nil, mapDBError(err)
	}

	return r.GetByID(ctx, sc.Organization, sc.ID)
}

// GetByID returns a comparison by organization and id.
func (r *SegmentComparisonRepo) GetByID(ctx context.Context, org, id string) (*domain.SegmentComparison, error) {
	var (
		sc          domain.SegmentComparison
		runStarted  sql.NullTime
		queriesJSON sql.NullString
		resultsJSON sql.NullString
	)

	err := r.readDB.QueryRowContext(ctx, `
		SELECT id, organization, datasource, segment1, segment2, run_started, queries_json, results_json, error_message, date_created
		FROM segment_comparisons WHERE organization = ? AND id = ?
	`, org, id).Scan(&sc.ID, &sc.Organization, &sc.Datasource, &sc.Segment1, &sc.Segment2, &runStarted, &queriesJSON, &resultsJSON, &sc.Error, &sc.DateCreated)
	if err != nil {
		return nil, mapDBError(err)
	}

	if runStarted.Valid {
		t := runStarted.Time
		sc.RunStarted = &t
	}
	if err := unmarshalJSON(queriesJSON, &sc.Queries, "queries"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(resultsJSON, &sc.Results, "results"); err != nil {
		return nil, err
	}

	return &sc, nil
}

// UpdateQueries persists pointer statuses plus an optional error message.
func (r *SegmentComparisonRepo) UpdateQueries(ctx context.Context, org, id string, queries []domain.QueryPointer, errMsg string) error {
	queriesJSON, err := marshalJSON(queries, "queries")
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE segment_comparisons SET queries_json = ?, error_message = ?
		WHERE organization = ? AND id = ?
	`, queriesJSON, errMsg, org, id)
	return mapDBError(err)
}

// UpdateResults persists pointers and the comparison result in one update.
func (r *SegmentComparisonRepo) UpdateResults(ctx context.Context, org, id string, queries []domain.QueryPointer, results *domain.SegmentComparisonResult) error {
	queriesJSON, err := marshalJSON(queries, "queries")
	if err != nil {
		return err
	}
	resultsJSON, err := marshalJSON(results, "results")
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE segment_comparisons
		SET queries_json = ?, results_json = ?, error_message = ''
		WHERE organization = ? AND id = ?
	`, queriesJSON, resultsJSON, org, id)
	return mapDBError(err)
}

// ClearRun detaches a cancelled comparison from its queries.
func (r *SegmentComparisonRepo) ClearRun(ctx context.Context, org, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE segment_comparisons
		SET queries_json = '[]', run_started = NULL, error_message = ''
		WHERE organization = ? AND id = ?
	`, org, id)
	return mapDBError(err)
}
