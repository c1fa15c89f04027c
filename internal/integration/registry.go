package integration

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"exphub/internal/domain"

	// Warehouse drivers.
	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// driverNames maps datasource types to registered database/sql drivers.
var driverNames = map[domain.DatasourceType]string{
	domain.DatasourceTypePostgres: "pgx",
	domain.DatasourceTypeMySQL:    "mysql",
	domain.DatasourceTypeSQLite:   "sqlite3",
	domain.DatasourceTypeDuckDB:   "duckdb",
}

// Registry holds the configured datasources and lazily opens one connection
// pool per datasource on first use.
type Registry struct {
	logger *slog.Logger

	mu          sync.Mutex
	datasources map[string]*domain.Datasource
	open        map[string]*SQLIntegration
}

// NewRegistry creates a Registry over the given datasource definitions.
func NewRegistry(datasources []domain.Datasource, logger *slog.Logger) *Registry {
	byID := make(map[string]*domain.Datasource, len(datasources))
	for i := range datasources {
		byID[datasources[i].ID] = &datasources[i]
	}
	return &Registry{
		logger:      logger,
		datasources: byID,
		open:        make(map[string]*SQLIntegration),
	}
}

// LoadRegistry reads datasource definitions from a YAML file.
func LoadRegistry(path string, logger *slog.Logger) (*Registry, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path is operator-controlled config
	if err != nil {
		return nil, fmt.Errorf("read datasources file: %w", err)
	}

	var file struct {
		Datasources []domain.Datasource `yaml:"datasources"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse datasources file: %w", err)
	}

	for _, ds := range file.Datasources {
		if _, ok := driverNames[ds.Type]; !ok {
			return nil, domain.ErrValidation("datasource %q has unsupported type %q", ds.ID, ds.Type)
		}
	}

	return NewRegistry(file.Datasources, logger), nil
}

// Get returns the integration for a datasource belonging to org, opening the
// connection pool on first use.
func (r *Registry) Get(org, id string) (domain.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ds, ok := r.datasources[id]
	if !ok {
		return nil, domain.ErrNotFound("datasource %q not found", id)
	}
	if ds.Organization != org {
		return nil, domain.ErrNotFound("datasource %q not found", id)
	}

	if integ, ok := r.open[id]; ok {
		return integ, nil
	}

	db, err := sql.Open(driverNames[ds.Type], ds.DSN)
	if err != nil {
		return nil, fmt.Errorf("open datasource %q: %w", id, err)
	}
	db.SetMaxOpenConns(4)

	integ := NewSQLIntegration(ds, db, r.logger.With("datasource", id))
	r.open[id] = integ
	return integ, nil
}

// Close closes all opened connection pools.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, integ := range r.open {
		if err := integ.db.Close(); err != nil {
			r.logger.Warn("close datasource", "datasource", id, "error", err)
		}
		delete(r.open, id)
	}
}
