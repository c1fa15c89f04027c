package repository

import (
	"context"
	"database/sql"
	"time"

	"exphub/internal/domain"
)

var _ domain.QueryRepository = (*QueryRepo)(nil)

const queryColumns = `id, organization, datasource, language, query_text, status,
	       created_at, started_at, finished_at, heartbeat, raw_json, result_json, error_message`

// QueryRepo stores the warehouse query ledger in SQLite. Writes go through
// the single-connection write pool; reads use the read pool.
type QueryRepo struct {
	db     *sql.DB
	readDB *sql.DB
}

// NewQueryRepo creates a new QueryRepo.
func NewQueryRepo(db, readDB *sql.DB) *QueryRepo {
	return &QueryRepo{db: db, readDB: readDB}
}

// Create inserts a new running query record.
func (r *QueryRepo) Create(ctx context.Context, q *domain.QueryRecord) (*domain.QueryRecord, error) {
	if q == nil {
		return nil, domain.ErrValidation("query record is required")
	}
	if q.ID == "" {
		q.ID = domain.NewID()
	}
	if q.Language == "" {
		q.Language = "sql"
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO queries (id, organization, datasource, language, query_text, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, q.ID, q.Organization, q.Datasource, q.Language, q.Query, string(domain.QueryStatusRunning))
	if err != nil {
		return nil, mapDBError(err)
	}

	return r.getOne(ctx, `SELECT `+queryColumns+` FROM queries WHERE id = ?`, q.ID)
}

// FindReusable returns the most recent record matching (org, datasource,
// query text) created after since. Running and succeeded records always
// qualify; failed records only when includeFailed is set.
func (r *QueryRepo) FindReusable(ctx context.Context, org, datasource, queryText string, since time.Time, includeFailed bool) (*domain.QueryRecord, error) {
	stmt := `SELECT ` + queryColumns + `
		FROM queries
		WHERE organization = ? AND datasource = ? AND query_text = ? AND created_at > ?`
	if !includeFailed {
		stmt += ` AND status != 'failed'`
	}
	stmt += ` ORDER BY created_at DESC LIMIT 1`

	return r.getOne(ctx, stmt, org, datasource, queryText, since.UTC())
}

// FindByIDs returns the records with the given ids belonging to org.
func (r *QueryRepo) FindByIDs(ctx context.Context, org string, ids []string) ([]*domain.QueryRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, org)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := r.readDB.QueryContext(ctx, `
		SELECT `+queryColumns+`
		FROM queries
		WHERE organization = ? AND id IN (`+placeholders(len(ids))+`)
	`, args...)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []*domain.QueryRecord
	for rows.Next() {
		rec, err := scanQuery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Heartbeat refreshes a running record's liveness timestamp.
func (r *QueryRepo) Heartbeat(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE queries SET heartbeat = ? WHERE id = ? AND status = 'running'
	`, at.UTC(), id)
	return mapDBError(err)
}

// MarkSucceeded stores results and moves the record to its terminal state.
// Guarded so an already-terminal record is never rewritten.
func (r *QueryRepo) MarkSucceeded(ctx context.Context, id string, rawJSON, resultJSON []byte) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE queries
		SET status = 'succeeded', raw_json = ?, result_json = ?, error_message = NULL,
		    finished_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'running'
	`, string(rawJSON), string(resultJSON), id)
	return mapDBError(err)
}

// MarkFailed records an execution error and moves the record to its terminal
// state.
func (r *QueryRepo) MarkFailed(ctx context.Context, id string, message string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE queries
		SET status = 'failed', error_message = ?, finished_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'running'
	`, message, id)
	return mapDBError(err)
}

// DeleteByIDs removes an owner's ledger rows, used by the cancellation path.
func (r *QueryRepo) DeleteByIDs(ctx context.Context, org string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, org)
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := r.db.ExecContext(ctx, `
		DELETE FROM queries WHERE organization = ? AND id IN (`+placeholders(len(ids))+`)
	`, args...)
	return mapDBError(err)
}

// ListStaleRunning returns running records whose heartbeat predates cutoff.
func (r *QueryRepo) ListStaleRunning(ctx context.Context, cutoff time.Time) ([]*domain.QueryRecord, error) {
	rows, err := r.readDB.QueryContext(ctx, `
		SELECT `+queryColumns+`
		FROM queries
		WHERE status = 'running' AND heartbeat < ?
		ORDER BY heartbeat ASC
	`, cutoff.UTC())
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []*domain.QueryRecord
	for rows.Next() {
		rec, err := scanQuery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *QueryRepo) getOne(ctx context.Context, stmt string, args ...interface{}) (*domain.QueryRecord, error) {
	row := r.readDB.QueryRowContext(ctx, stmt, args...)
	rec, err := scanQuery(row)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuery(row rowScanner) (*domain.QueryRecord, error) {
	var (
		rec                    domain.QueryRecord
		status                 string
		startedAt, finishedAt  sql.NullTime
		rawJSON, resultJSON    sql.NullString
		errorMessage           sql.NullString
	)

	err := row.Scan(
		&rec.ID,
		&rec.Organization,
		&rec.Datasource,
		&rec.Language,
		&rec.Query,
		&status,
		&rec.CreatedAt,
		&startedAt,
		&finishedAt,
		&rec.Heartbeat,
		&rawJSON,
		&resultJSON,
		&errorMessage,
	)
	if err != nil {
		return nil, mapDBError(err)
	}

	rec.Status = domain.QueryStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		rec.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		rec.FinishedAt = &t
	}
	if rawJSON.Valid {
		rec.RawJSON = []byte(rawJSON.String)
	}
	if resultJSON.Valid {
		rec.ResultJSON = []byte(resultJSON.String)
	}
	if errorMessage.Valid {
		rec.Error = errorMessage.String
	}

	return &rec, nil
}
