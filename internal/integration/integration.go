// Package integration runs warehouse-specific SQL against customer-owned
// datasources. Everything beyond the (text) -> rows contract is opaque to
// the orchestration pipeline.
package integration

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"exphub/internal/domain"
)

var _ domain.Integration = (*SQLIntegration)(nil)

// SQLIntegration runs queries over a database/sql pool. One instance exists
// per configured datasource.
type SQLIntegration struct {
	ds     *domain.Datasource
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLIntegration wraps an open pool for the given datasource.
func NewSQLIntegration(ds *domain.Datasource, db *sql.DB, logger *slog.Logger) *SQLIntegration {
	return &SQLIntegration{ds: ds, db: db, logger: logger}
}

// Datasource returns the datasource this integration serves.
func (s *SQLIntegration) Datasource() *domain.Datasource { return s.ds }

// Language tags ledger records with the query dialect.
func (s *SQLIntegration) Language() string { return "sql" }

// RunQuery executes the query and returns all rows as column-keyed maps.
func (s *SQLIntegration) RunQuery(ctx context.Context, query string) (domain.RawRows, error) {
	s.logger.Debug("warehouse query", "datasource", s.ds.ID, "type", s.ds.Type)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("warehouse query (%s): %w", s.ds.ID, err)
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var out domain.RawRows
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = vals[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
