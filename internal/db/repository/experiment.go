package repository

import (
	"context"
	"database/sql"

	"exphub/internal/domain"
)

var _ domain.ExperimentRepository = (*ExperimentRepo)(nil)

// ExperimentRepo stores experiment configuration in SQLite.
type ExperimentRepo struct {
	db     *sql.DB
	readDB *sql.DB
}

// NewExperimentRepo creates a new ExperimentRepo.
func NewExperimentRepo(db, readDB *sql.DB) *ExperimentRepo {
	return &ExperimentRepo{db: db, readDB: readDB}
}

// Create inserts a new experiment.
func (r *ExperimentRepo) Create(ctx context.Context, e *domain.Experiment) (*domain.Experiment, error) {
	if e == nil {
		return nil, domain.ErrValidation("experiment is required")
	}
	if e.ID == "" {
		e.ID = domain.NewID()
	}

	variationsJSON, err := marshalJSON(e.Variations, "variations")
	if err != nil {
		return nil, err
	}
	phasesJSON, err := marshalJSON(e.Phases, "phases")
	if err != nil {
		return nil, err
	}
	metricsJSON, err := marshalJSON(e.Metrics, "metrics")
	if err != nil {
		return nil, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO experiments
			(id, organization, datasource, tracking_key, name, variations_json, phases_json,
			 metrics_json, auto_refresh, refresh_schedule)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Organization, e.Datasource, e.TrackingKey, e.Name,
		variationsJSON, phasesJSON, metricsJSON, boolToInt(e.AutoRefresh), e.RefreshSchedule)
	if err != nil {
		return nil, mapDBError(err)
	}

	return r.GetByID(ctx, e.Organization, e.ID)
}

// GetByID returns an experiment by organization and id.
func (r *ExperimentRepo) GetByID(ctx context.Context, org, id string) (*domain.Experiment, error) {
	return r.getOne(ctx, `
		SELECT id, organization, datasource, tracking_key, name, variations_json, phases_json,
		       metrics_json, auto_refresh, refresh_schedule, created_at, updated_at
		FROM experiments WHERE organization = ? AND id = ?
	`, org, id)
}

// ListAutoRefresh returns experiments with a scheduled refresh, across all
// organizations. Used by the snapshot updater.
func (r *ExperimentRepo) ListAutoRefresh(ctx context.Context) ([]*domain.Experiment, error) {
	rows, err := r.readDB.QueryContext(ctx, `
		SELECT id, organization, datasource, tracking_key, name, variations_json, phases_json,
		       metrics_json, auto_refresh, refresh_schedule, created_at, updated_at
		FROM experiments WHERE auto_refresh = 1 AND refresh_schedule != ''
	`)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []*domain.Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *ExperimentRepo) getOne(ctx context.Context, stmt string, args ...interface{}) (*domain.Experiment, error) {
	row := r.readDB.QueryRowContext(ctx, stmt, args...)
	return scanExperiment(row)
}

func scanExperiment(row rowScanner) (*domain.Experiment, error) {
	var (
		e                                        domain.Experiment
		variationsJSON, phasesJSON, metricsJSON  string
		autoRefresh                              int64
	)

	err := row.Scan(
		&e.ID,
		&e.Organization,
		&e.Datasource,
		&e.TrackingKey,
		&e.Name,
		&variationsJSON,
		&phasesJSON,
		&metricsJSON,
		&autoRefresh,
		&e.RefreshSchedule,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, mapDBError(err)
	}

	e.AutoRefresh = autoRefresh != 0
	if err := unmarshalJSON(sql.NullString{String: variationsJSON, Valid: true}, &e.Variations, "variations"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(sql.NullString{String: phasesJSON, Valid: true}, &e.Phases, "phases"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(sql.NullString{String: metricsJSON, Valid: true}, &e.Metrics, "metrics"); err != nil {
		return nil, err
	}

	return &e, nil
}
