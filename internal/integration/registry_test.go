package integration

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exphub/internal/domain"
)

func writeDatasourcesYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "datasources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadRegistry(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)

	t.Run("loads definitions", func(t *testing.T) {
		path := writeDatasourcesYAML(t, `
datasources:
  - id: warehouse
    organization: acme
    name: Main warehouse
    type: sqlite
    dsn: ":memory:"
    settings:
      experimentsTable: assignments
      usersCol: user_id
      experimentIdCol: experiment_id
      variationCol: variation
      timestampCol: ts
`)
		reg, err := LoadRegistry(path, logger)
		require.NoError(t, err)
		defer reg.Close()

		integ, err := reg.Get("acme", "warehouse")
		require.NoError(t, err)
		assert.Equal(t, "sql", integ.Language())
		assert.Equal(t, "assignments", integ.Datasource().Settings.ExperimentsTable)
	})

	t.Run("rejects unsupported types", func(t *testing.T) {
		path := writeDatasourcesYAML(t, `
datasources:
  - id: lake
    organization: acme
    type: mongodb
`)
		_, err := LoadRegistry(path, logger)
		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadRegistry(filepath.Join(t.TempDir(), "nope.yaml"), logger)
		require.Error(t, err)
	})
}

func TestRegistry_GetScopedToOrganization(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	reg := NewRegistry([]domain.Datasource{
		{ID: "warehouse", Organization: "acme", Type: domain.DatasourceTypeSQLite, DSN: ":memory:"},
	}, logger)
	defer reg.Close()

	var nf *domain.NotFoundError

	_, err := reg.Get("rival", "warehouse")
	require.ErrorAs(t, err, &nf)

	_, err = reg.Get("acme", "missing")
	require.ErrorAs(t, err, &nf)

	integ, err := reg.Get("acme", "warehouse")
	require.NoError(t, err)

	// Pools are opened once and cached.
	again, err := reg.Get("acme", "warehouse")
	require.NoError(t, err)
	assert.Same(t, integ, again)
}

func TestSQLIntegration_RunQuery(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	dbPath := filepath.Join(t.TempDir(), "warehouse.sqlite")
	reg := NewRegistry([]domain.Datasource{
		{ID: "warehouse", Organization: "acme", Type: domain.DatasourceTypeSQLite, DSN: dbPath},
	}, logger)
	defer reg.Close()

	integ, err := reg.Get("acme", "warehouse")
	require.NoError(t, err)

	ctx := context.Background()
	_, err = integ.RunQuery(ctx, `CREATE TABLE assignments (user_id TEXT, variation TEXT)`)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = integ.RunQuery(ctx, fmt.Sprintf(
			`INSERT INTO assignments VALUES ('u%d', '%d')`, i, i%2))
		require.NoError(t, err)
	}

	rows, err := integ.RunQuery(ctx,
		`SELECT variation, COUNT(DISTINCT user_id) AS users FROM assignments GROUP BY variation ORDER BY variation`)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "0", rows[0]["variation"])
	assert.Equal(t, int64(2), rows[0]["users"])
	assert.Equal(t, int64(1), rows[1]["users"])

	_, err = integ.RunQuery(ctx, `SELECT * FROM missing_table`)
	require.Error(t, err)
}
