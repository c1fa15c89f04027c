package repository

import (
	"context"
	"database/sql"

	"exphub/internal/domain"
)

var _ domain.MetricRepository = (*MetricRepo)(nil)

const metricColumns = `id, organization, datasource, name, type, table_name, column_name,
	       ignore_nulls, inverse, created_at, updated_at`

// MetricRepo stores metric configuration in SQLite.
type MetricRepo struct {
	db     *sql.DB
	readDB *sql.DB
}

// NewMetricRepo creates a new MetricRepo.
func NewMetricRepo(db, readDB *sql.DB) *MetricRepo {
	return &MetricRepo{db: db, readDB: readDB}
}

// Create inserts a new metric.
func (r *MetricRepo) Create(ctx context.Context, m *domain.Metric) (*domain.Metric, error) {
	if m == nil {
		return nil, domain.ErrValidation("metric is required")
	}
	if m.ID == "" {
		m.ID = domain.NewID()
	}
	if m.Type == "" {
		m.Type = domain.MetricTypeBinomial
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO metrics (id, organization, datasource, name, type, table_name, column_name, ignore_nulls, inverse)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Organization, m.Datasource, m.Name, string(m.Type), m.Table, m.Column,
		boolToInt(m.IgnoreNulls), boolToInt(m.Inverse))
	if err != nil {
		return nil, mapDBError(err)
	}

	return r.GetByID(ctx, m.Organization, m.ID)
}

// GetByID returns a metric by organization and id.
func (r *MetricRepo) GetByID(ctx context.Context, org, id string) (*domain.Metric, error) {
	row := r.readDB.QueryRowContext(ctx, `
		SELECT `+metricColumns+` FROM metrics WHERE organization = ? AND id = ?
	`, org, id)
	return scanMetric(row)
}

// GetByIDs returns the metrics with the given ids belonging to org,
// preserving the requested order.
func (r *MetricRepo) GetByIDs(ctx context.Context, org string, ids []string) ([]*domain.Metric, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, org)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := r.readDB.QueryContext(ctx, `
		SELECT `+metricColumns+` FROM metrics
		WHERE organization = ? AND id IN (`+placeholders(len(ids))+`)
	`, args...)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	byID := make(map[string]*domain.Metric, len(ids))
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*domain.Metric, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func scanMetric(row rowScanner) (*domain.Metric, error) {
	var (
		m                    domain.Metric
		metricType           string
		ignoreNulls, inverse int64
	)

	err := row.Scan(
		&m.ID,
		&m.Organization,
		&m.Datasource,
		&m.Name,
		&metricType,
		&m.Table,
		&m.Column,
		&ignoreNulls,
		&inverse,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, mapDBError(err)
	}

	m.Type = domain.MetricType(metricType)
	m.IgnoreNulls = ignoreNulls != 0
	m.Inverse = inverse != 0

	return &m, nil
}
