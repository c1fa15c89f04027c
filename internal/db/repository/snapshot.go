package repository

import (
	"context"
	"database/sql"

	"exphub/internal/domain"
)

var _ domain.SnapshotRepository = (*SnapshotRepo)(nil)

const snapshotColumns = `id, organization, experiment, phase, dimension, date_created,
	       run_started, queries_json, unknown_variations_json, results_json, error_message`

// SnapshotRepo stores experiment snapshots in SQLite.
type SnapshotRepo struct {
	db     *sql.DB
	readDB *sql.DB
}

// NewSnapshotRepo creates a new SnapshotRepo.
func NewSnapshotRepo(db, readDB *sql.DB) *SnapshotRepo {
	return &SnapshotRepo{db: db, readDB: readDB}
}

// Create inserts a new snapshot.
func (r *SnapshotRepo) Create(ctx context.Context, s *domain.ExperimentSnapshot) (*domain.ExperimentSnapshot, error) {
	if s == nil {
		return nil, domain.ErrValidation("snapshot is required")
	}
	if s.ID == "" {
		s.ID = domain.NewID()
	}

	queriesJSON, err := marshalJSON(s.Queries, "queries")
	if err != nil {
		return nil, err
	}
	resultsJSON, err := marshalJSON(s.Results, "results")
	if err != nil {
		return nil, err
	}
	unknownJSON, err := marshalJSON(s.UnknownVariations, "unknown variations")
	if err != nil {
		return nil, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO experiment_snapshots
			(id, organization, experiment, phase, dimension, run_started, queries_json,
			 unknown_variations_json, results_json, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Organization, s.Experiment, s.Phase, s.Dimension, s.RunStarted,
		queriesJSON, unknownJSON, resultsJSON, s.Error)
	if err != nil {
		return nil, mapDBError(err)
	}

	return r.GetByID(ctx, s.Organization, s.ID)
}

// GetByID returns a snapshot by organization and id.
func (r *SnapshotRepo) GetByID(ctx context.Context, org, id string) (*domain.ExperimentSnapshot, error) {
	return r.getOne(ctx, `
		SELECT `+snapshotColumns+`
		FROM experiment_snapshots WHERE organization = ? AND id = ?
	`, org, id)
}

// GetLatestByExperiment returns the most recent snapshot for one
// experiment/phase/dimension combination.
func (r *SnapshotRepo) GetLatestByExperiment(ctx context.Context, org, experimentID string, phase int, dimension string) (*domain.ExperimentSnapshot, error) {
	return r.getOne(ctx, `
		SELECT `+snapshotColumns+`
		FROM experiment_snapshots
		WHERE organization = ? AND experiment = ? AND phase = ? AND dimension = ?
		ORDER BY date_created DESC LIMIT 1
	`, org, experimentID, phase, dimension)
}

// UpdateQueries persists pointer statuses plus an optional error message.
func (r *SnapshotRepo) UpdateQueries(ctx context.Context, org, id string, queries []domain.QueryPointer, errMsg string) error {
	queriesJSON, err := marshalJSON(queries, "queries")
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE experiment_snapshots SET queries_json = ?, error_message = ?
		WHERE organization = ? AND id = ?
	`, queriesJSON, errMsg, org, id)
	return mapDBError(err)
}

// UpdateResults persists pointers and success fields in one update.
func (r *SnapshotRepo) UpdateResults(ctx context.Context, org, id string, queries []domain.QueryPointer, results []domain.SnapshotDimension, unknownVariations []string) error {
	queriesJSON, err := marshalJSON(queries, "queries")
	if err != nil {
		return err
	}
	resultsJSON, err := marshalJSON(results, "results")
	if err != nil {
		return err
	}
	unknownJSON, err := marshalJSON(unknownVariations, "unknown variations")
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE experiment_snapshots
		SET queries_json = ?, results_json = ?, unknown_variations_json = ?, error_message = ''
		WHERE organization = ? AND id = ?
	`, queriesJSON, resultsJSON, unknownJSON, org, id)
	return mapDBError(err)
}

// ClearRun detaches a cancelled snapshot from its queries.
func (r *SnapshotRepo) ClearRun(ctx context.Context, org, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE experiment_snapshots
		SET queries_json = '[]', run_started = NULL, error_message = ''
		WHERE organization = ? AND id = ?
	`, org, id)
	return mapDBError(err)
}

func (r *SnapshotRepo) getOne(ctx context.Context, stmt string, args ...interface{}) (*domain.ExperimentSnapshot, error) {
	var (
		s                     domain.ExperimentSnapshot
		runStarted            sql.NullTime
		queriesJSON           sql.NullString
		unknownJSON           sql.NullString
		resultsJSON           sql.NullString
	)

	err := r.readDB.QueryRowContext(ctx, stmt, args...).Scan(
		&s.ID,
		&s.Organization,
		&s.Experiment,
		&s.Phase,
		&s.Dimension,
		&s.DateCreated,
		&runStarted,
		&queriesJSON,
		&unknownJSON,
		&resultsJSON,
		&s.Error,
	)
	if err != nil {
		return nil, mapDBError(err)
	}

	if runStarted.Valid {
		t := runStarted.Time
		s.RunStarted = &t
	}
	if err := unmarshalJSON(queriesJSON, &s.Queries, "queries"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(unknownJSON, &s.UnknownVariations, "unknown variations"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(resultsJSON, &s.Results, "results"); err != nil {
		return nil, err
	}

	return &s, nil
}
