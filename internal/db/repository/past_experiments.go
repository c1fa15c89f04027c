package repository

import (
	"context"
	"database/sql"

	"exphub/internal/domain"
)

var _ domain.PastExperimentsRepository = (*PastExperimentsRepo)(nil)

// PastExperimentsRepo stores past-experiments imports in SQLite.
type PastExperimentsRepo struct {
	db     *sql.DB
	readDB *sql.DB
}

// NewPastExperimentsRepo creates a new PastExperimentsRepo.
func NewPastExperimentsRepo(db, readDB *sql.DB) *PastExperimentsRepo {
	return &PastExperimentsRepo{db: db, readDB: readDB}
}

// Create inserts a new import.
func (r *PastExperimentsRepo) Create(ctx context.Context, imp *domain.PastExperimentsImport) (*domain.PastExperimentsImport, error) {
	if imp == nil {
		return nil, domain.ErrValidation("past experiments import is required")
	}
	if imp.ID == "" {
		imp.ID = domain.NewID()
	}

	queriesJSON, err := marshalJSON(imp.Queries, "queries")
	if err != nil {
		return nil, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO past_experiment_imports (id, organization, datasource, run_started, queries_json, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
	`, imp.ID, imp.Organization, imp.Datasource, imp.RunStarted, queriesJSON, imp.Error)
	if err != nil {
		return nil, mapDBError(err)
	}

	return r.GetByID(ctx, imp.Organization, imp.ID)
}

// GetByID returns an import by organization and id.
func (r *PastExperimentsRepo) GetByID(ctx context.Context, org, id string) (*domain.PastExperimentsImport, error) {
	var (
		imp             domain.PastExperimentsImport
		runStarted      sql.NullTime
		queriesJSON     sql.NullString
		experimentsJSON sql.NullString
	)

	err := r.readDB.QueryRowContext(ctx, `
		SELECT id, organization, datasource, run_started, queries_json, experiments_json, error_message, date_created
		FROM past_experiment_imports WHERE organization = ? AND id = ?
	`, org, id).Scan(&imp.ID, &imp.Organization, &imp.Datasource, &runStarted, &queriesJSON, &experimentsJSON, &imp.Error, &imp.DateCreated)
	if err != nil {
		return nil, mapDBError(err)
	}

	if runStarted.Valid {
		t := runStarted.Time
		imp.RunStarted = &t
	}
	if err := unmarshalJSON(queriesJSON, &imp.Queries, "queries"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(experimentsJSON, &imp.Experiments, "experiments"); err != nil {
		return nil, err
	}

	return &imp, nil
}

// UpdateQueries persists pointer statuses plus an optional error message.
func (r *PastExperimentsRepo) UpdateQueries(ctx context.Context, org, id string, queries []domain.QueryPointer, errMsg string) error {
	queriesJSON, err := marshalJSON(queries, "queries")
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE past_experiment_imports SET queries_json = ?, error_message = ?
		WHERE organization = ? AND id = ?
	`, queriesJSON, errMsg, org, id)
	return mapDBError(err)
}

// UpdateResults persists pointers and discovered experiments in one update.
func (r *PastExperimentsRepo) UpdateResults(ctx context.Context, org, id string, queries []domain.QueryPointer, experiments []domain.PastExperiment) error {
	queriesJSON, err := marshalJSON(queries, "queries")
	if err != nil {
		return err
	}
	experimentsJSON, err := marshalJSON(experiments, "experiments")
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE past_experiment_imports
		SET queries_json = ?, experiments_json = ?, error_message = ''
		WHERE organization = ? AND id = ?
	`, queriesJSON, experimentsJSON, org, id)
	return mapDBError(err)
}

// ClearRun detaches a cancelled import from its queries.
func (r *PastExperimentsRepo) ClearRun(ctx context.Context, org, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE past_experiment_imports
		SET queries_json = '[]', run_started = NULL, error_message = ''
		WHERE organization = ? AND id = ?
	`, org, id)
	return mapDBError(err)
}
