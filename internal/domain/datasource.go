package domain

// DatasourceType identifies the warehouse driver for a datasource.
type DatasourceType string

// Supported warehouse types.
const (
	DatasourceTypePostgres DatasourceType = "postgres"
	DatasourceTypeMySQL    DatasourceType = "mysql"
	DatasourceTypeSQLite   DatasourceType = "sqlite"
	DatasourceTypeDuckDB   DatasourceType = "duckdb"
)

// DatasourceSettings holds the table/column conventions the query builders
// use against a customer warehouse.
type DatasourceSettings struct {
	ExperimentsTable string `yaml:"experimentsTable"` // variation assignment events
	UsersCol         string `yaml:"usersCol"`         // user identifier column
	ExperimentIDCol  string `yaml:"experimentIdCol"`
	VariationCol     string `yaml:"variationCol"`
	TimestampCol     string `yaml:"timestampCol"`
	DimensionCol     string `yaml:"dimensionCol"` // optional, empty disables dimension slicing
}

// Datasource describes one customer-owned warehouse connection.
type Datasource struct {
	ID           string             `yaml:"id"`
	Organization string             `yaml:"organization"`
	Name         string             `yaml:"name"`
	Type         DatasourceType     `yaml:"type"`
	DSN          string             `yaml:"dsn"`
	Settings     DatasourceSettings `yaml:"settings"`
}
