package repository

import (
	"context"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "exphub/internal/db"
	"exphub/internal/domain"
)

func sampleExperiment(org string) *domain.Experiment {
	return &domain.Experiment{
		Organization: org,
		Datasource:   "warehouse",
		TrackingKey:  "checkout-flow",
		Name:         "Checkout flow",
		Variations: []domain.Variation{
			{ID: "v0", Name: "Control", Key: "0"},
			{ID: "v1", Name: "Treatment", Key: "1"},
		},
		Phases: []domain.ExperimentPhase{
			{DateStarted: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), VariationWeights: []float64{0.5, 0.5}},
		},
		Metrics: []string{"m1", "m2"},
	}
}

func TestExperimentRepo_CreateAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	writeDB, readDB := internaldb.OpenTestSQLite(t)
	repo := NewExperimentRepo(writeDB, readDB)

	exp, err := repo.Create(ctx, sampleExperiment("acme"))
	require.NoError(t, err)
	assert.NotEmpty(t, exp.ID)
	assert.Len(t, exp.Variations, 2)
	assert.Len(t, exp.Phases, 1)
	assert.Equal(t, []string{"m1", "m2"}, exp.Metrics)
	assert.Equal(t, []float64{0.5, 0.5}, exp.Phases[0].VariationWeights)

	got, err := repo.GetByID(ctx, "acme", exp.ID)
	require.NoError(t, err)
	assert.Equal(t, exp.TrackingKey, got.TrackingKey)

	_, err = repo.GetByID(ctx, "rival", exp.ID)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestExperimentRepo_ListAutoRefresh(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	writeDB, readDB := internaldb.OpenTestSQLite(t)
	repo := NewExperimentRepo(writeDB, readDB)

	scheduled := sampleExperiment("acme")
	scheduled.AutoRefresh = true
	scheduled.RefreshSchedule = "0 * * * *"
	scheduled, err := repo.Create(ctx, scheduled)
	require.NoError(t, err)

	noSchedule := sampleExperiment("acme")
	noSchedule.AutoRefresh = true
	_, err = repo.Create(ctx, noSchedule)
	require.NoError(t, err)

	_, err = repo.Create(ctx, sampleExperiment("rival"))
	require.NoError(t, err)

	got, err := repo.ListAutoRefresh(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, scheduled.ID, got[0].ID)
	assert.True(t, got[0].AutoRefresh)
	assert.Equal(t, "0 * * * *", got[0].RefreshSchedule)
}
