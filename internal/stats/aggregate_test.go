package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exphub/internal/domain"
)

// countingEngine returns a fixed result and records every invocation.
type countingEngine struct {
	mu    sync.Mutex
	calls atomic.Int32
	seen  []*ABTestParams
}

func (e *countingEngine) ABTest(_ context.Context, params *ABTestParams) (*ABTestResult, error) {
	e.calls.Add(1)
	e.mu.Lock()
	e.seen = append(e.seen, params)
	e.mu.Unlock()
	return &ABTestResult{
		ChanceToWin: 0.9,
		CI:          [2]float64{0.01, 0.2},
		Expected:    0.1,
		Buckets:     []domain.BucketPoint{{X: 0.1, Y: 1}},
	}, nil
}

func twoArmExperiment() (*domain.Experiment, *domain.ExperimentPhase) {
	exp := &domain.Experiment{
		ID: "exp1",
		Variations: []domain.Variation{
			{ID: "v0", Name: "Control", Key: "control"},
			{ID: "v1", Name: "Treatment", Key: "treatment"},
		},
	}
	phase := &domain.ExperimentPhase{VariationWeights: []float64{0.5, 0.5}}
	return exp, phase
}

func TestAnalyzeExperimentResults_BasicTree(t *testing.T) {
	t.Parallel()
	exp, phase := twoArmExperiment()
	metric := &domain.Metric{ID: "revenue", Type: domain.MetricTypeRevenue}
	engine := &countingEngine{}

	data := &ExperimentData{
		Users: []UsersRow{
			{Variation: "0", Users: 1000},
			{Variation: "1", Users: 1010},
		},
		Metrics: map[string][]MetricRow{
			"revenue": {
				{Variation: "0", Count: 400, Sum: 5000},
				{Variation: "1", Count: 420, Sum: 5600},
			},
		},
	}

	results, err := AnalyzeExperimentResults(context.Background(), exp, phase, []*domain.Metric{metric}, data, engine)
	require.NoError(t, err)

	require.Len(t, results.Dimensions, 1)
	dim := results.Dimensions[0]
	assert.Equal(t, "All", dim.Name, "rows without a dimension value land in All")
	assert.InDelta(t, 1.0, dim.SRM, 0.2)

	require.Len(t, dim.Variations, 2)
	baseline := dim.Variations[0]
	treatment := dim.Variations[1]

	assert.Equal(t, int64(1000), baseline.Users, "index 0 must be the baseline")
	assert.Equal(t, int64(1010), treatment.Users)

	base := baseline.Metrics["revenue"]
	assert.Equal(t, float64(5000), base.Value)
	assert.InDelta(t, 5.0, base.CR, 1e-9, "denominator is all users when nulls count")
	assert.Nil(t, base.ChanceToWin, "baseline carries no comparison stats")

	treat := treatment.Metrics["revenue"]
	require.NotNil(t, treat.ChanceToWin)
	assert.InDelta(t, 0.9, *treat.ChanceToWin, 1e-9)
	require.NotNil(t, treat.CI)
	assert.Equal(t, [2]float64{0.01, 0.2}, *treat.CI)

	assert.Equal(t, int32(1), engine.calls.Load())
	assert.Empty(t, results.UnknownVariations)
}

func TestAnalyzeExperimentResults_IgnoreNullsDenominator(t *testing.T) {
	t.Parallel()
	exp, phase := twoArmExperiment()
	metric := &domain.Metric{ID: "aov", Type: domain.MetricTypeRevenue, IgnoreNulls: true}
	engine := &countingEngine{}

	data := &ExperimentData{
		Users: []UsersRow{
			{Variation: "0", Users: 1000},
			{Variation: "1", Users: 1000},
		},
		Metrics: map[string][]MetricRow{
			"aov": {
				{Variation: "0", Count: 200, Sum: 4000},
				{Variation: "1", Count: 250, Sum: 5500},
			},
		},
	}

	results, err := AnalyzeExperimentResults(context.Background(), exp, phase, []*domain.Metric{metric}, data, engine)
	require.NoError(t, err)

	base := results.Dimensions[0].Variations[0].Metrics["aov"]
	assert.Equal(t, int64(200), base.Users, "ignore-nulls metrics count only converters")
	assert.InDelta(t, 20.0, base.CR, 1e-9)
}

func TestAnalyzeExperimentResults_UnknownVariationThreshold(t *testing.T) {
	t.Parallel()
	exp, phase := twoArmExperiment()

	// The share is taken against every row, unknown arms included, so all
	// of these total 1000 users.
	cases := []struct {
		name          string
		users         []UsersRow
		wantUnknown   []string
		wantBaseline  int64
		wantTreatment int64
	}{
		{
			name: "clear of the cutoff in both directions",
			users: []UsersRow{
				{Variation: "0", Users: 490},
				{Variation: "1", Users: 480},
				{Variation: "ghost", Users: 25}, // 2.5%
				{Variation: "speck", Users: 5},  // 0.5%
			},
			wantUnknown:   []string{"ghost"},
			wantBaseline:  490,
			wantTreatment: 480,
		},
		{
			name: "just under two percent stays quiet",
			users: []UsersRow{
				{Variation: "0", Users: 481},
				{Variation: "1", Users: 500},
				{Variation: "ghost", Users: 19}, // 1.9%
			},
			wantBaseline:  481,
			wantTreatment: 500,
		},
		{
			name: "exactly two percent is reported",
			users: []UsersRow{
				{Variation: "0", Users: 480},
				{Variation: "1", Users: 500},
				{Variation: "ghost", Users: 20}, // 2.0%, the cutoff itself
			},
			wantUnknown:   []string{"ghost"},
			wantBaseline:  480,
			wantTreatment: 500,
		},
		{
			name: "just over two percent is reported",
			users: []UsersRow{
				{Variation: "0", Users: 479},
				{Variation: "1", Users: 500},
				{Variation: "ghost", Users: 21}, // 2.1%
			},
			wantUnknown:   []string{"ghost"},
			wantBaseline:  479,
			wantTreatment: 500,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			data := &ExperimentData{Users: tc.users, Metrics: map[string][]MetricRow{}}

			results, err := AnalyzeExperimentResults(context.Background(), exp, phase, nil, data, &countingEngine{})
			require.NoError(t, err)

			assert.Equal(t, tc.wantUnknown, results.UnknownVariations)
			// Unknown rows never contribute to per-variation counts.
			assert.Equal(t, tc.wantBaseline, results.Dimensions[0].Variations[0].Users)
			assert.Equal(t, tc.wantTreatment, results.Dimensions[0].Variations[1].Users)
		})
	}
}

func TestAnalyzeExperimentResults_ZeroSumShortCircuit(t *testing.T) {
	t.Parallel()
	exp, phase := twoArmExperiment()
	metric := &domain.Metric{ID: "signups", Type: domain.MetricTypeBinomial}
	engine := &countingEngine{}

	data := &ExperimentData{
		Users: []UsersRow{
			{Variation: "0", Users: 100},
			{Variation: "1", Users: 100},
		},
		Metrics: map[string][]MetricRow{
			"signups": {
				{Variation: "0", Count: 0, Sum: 0},
				{Variation: "1", Count: 10, Sum: 10},
			},
		},
	}

	results, err := AnalyzeExperimentResults(context.Background(), exp, phase, []*domain.Metric{metric}, data, engine)
	require.NoError(t, err)

	assert.Zero(t, engine.calls.Load(), "degenerate pairs must not reach the engine")

	treat := results.Dimensions[0].Variations[1].Metrics["signups"]
	require.NotNil(t, treat.ChanceToWin)
	assert.Zero(t, *treat.ChanceToWin)
	require.NotNil(t, treat.CI)
	assert.Equal(t, [2]float64{0, 0}, *treat.CI)
	assert.NotNil(t, treat.Buckets)
	assert.Empty(t, treat.Buckets)
}

func TestAnalyzeExperimentResults_DimensionSlicing(t *testing.T) {
	t.Parallel()
	exp, phase := twoArmExperiment()
	metric := &domain.Metric{ID: "m1", Type: domain.MetricTypeCount}
	engine := &countingEngine{}

	data := &ExperimentData{
		Users: []UsersRow{
			{Dimension: "mobile", Variation: "0", Users: 300},
			{Dimension: "mobile", Variation: "1", Users: 310},
			{Dimension: "desktop", Variation: "0", Users: 700},
			{Dimension: "desktop", Variation: "1", Users: 690},
		},
		Metrics: map[string][]MetricRow{
			"m1": {
				{Dimension: "mobile", Variation: "0", Count: 30, Sum: 60},
				{Dimension: "mobile", Variation: "1", Count: 35, Sum: 80},
				{Dimension: "desktop", Variation: "0", Count: 70, Sum: 140},
				{Dimension: "desktop", Variation: "1", Count: 68, Sum: 150},
			},
		},
	}

	results, err := AnalyzeExperimentResults(context.Background(), exp, phase, []*domain.Metric{metric}, data, engine)
	require.NoError(t, err)

	require.Len(t, results.Dimensions, 2)
	// Dimensions come back sorted by name.
	assert.Equal(t, "desktop", results.Dimensions[0].Name)
	assert.Equal(t, "mobile", results.Dimensions[1].Name)
	assert.Equal(t, int32(2), engine.calls.Load(), "one invocation per dimension per pair")
}

func TestAnalyzeExperimentResults_VariationIdentifierForms(t *testing.T) {
	t.Parallel()
	exp, phase := twoArmExperiment()
	engine := &countingEngine{}

	// The same variation referenced by index, id, and key collapses into one.
	data := &ExperimentData{
		Users: []UsersRow{
			{Variation: "0", Users: 100},
			{Variation: "v0", Users: 50},
			{Variation: "control", Users: 25},
			{Variation: "1", Users: 200},
		},
		Metrics: map[string][]MetricRow{},
	}

	results, err := AnalyzeExperimentResults(context.Background(), exp, phase, nil, data, engine)
	require.NoError(t, err)

	assert.Equal(t, int64(175), results.Dimensions[0].Variations[0].Users)
	assert.Equal(t, int64(200), results.Dimensions[0].Variations[1].Users)
}

func TestAnalyzeExperimentResults_EmptyData(t *testing.T) {
	t.Parallel()
	exp, phase := twoArmExperiment()
	engine := &countingEngine{}

	results, err := AnalyzeExperimentResults(context.Background(), exp, phase, nil, &ExperimentData{}, engine)
	require.NoError(t, err)

	require.Len(t, results.Dimensions, 1)
	assert.Equal(t, "All", results.Dimensions[0].Name)
	assert.Equal(t, float64(1), results.Dimensions[0].SRM)
	assert.Empty(t, results.Dimensions[0].Variations)
}
