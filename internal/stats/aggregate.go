package stats

import (
	"context"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"exphub/internal/domain"
)

// Variation identifiers present in warehouse data but absent from the
// experiment config are surfaced as a data-quality warning only when they
// account for at least this share of all observed users; below it they are
// dropped as noise.
const unknownVariationThreshold = 0.02

// UsersRow is one (dimension, variation) unit-count row from the users query.
type UsersRow struct {
	Dimension string `json:"dimension"`
	Variation string `json:"variation"`
	Users     int64  `json:"users"`
}

// MetricRow is one (dimension, variation) aggregate row from a metric query.
// Count is users with a defined metric value, Sum the aggregate value.
type MetricRow struct {
	Dimension string  `json:"dimension"`
	Variation string  `json:"variation"`
	Count     int64   `json:"count"`
	Sum       float64 `json:"sum"`
	Mean      float64 `json:"mean"`
	Stddev    float64 `json:"stddev"`
}

// ExperimentData is the reassembled input to the aggregator: users rows plus
// one row set per selected metric, keyed by metric id.
type ExperimentData struct {
	Users   []UsersRow             `json:"users"`
	Metrics map[string][]MetricRow `json:"metrics"`
}

// ExperimentResults is the aggregation output.
type ExperimentResults struct {
	UnknownVariations []string
	Dimensions        []domain.SnapshotDimension
}

// engineJob is one pending baseline-vs-variation invocation.
type engineJob struct {
	dimension string
	metricID  string
	varIndex  int
	params    *ABTestParams
	result    *ABTestResult
}

// AnalyzeExperimentResults builds the per-dimension, per-variation result
// tree for one experiment phase. Engine invocations run concurrently
// (bounded) and the merge is keyed by name, so completion order never
// affects the output. Variations[0] of every dimension is the baseline.
func AnalyzeExperimentResults(ctx context.Context, exp *domain.Experiment, phase *domain.ExperimentPhase, metrics []*domain.Metric, data *ExperimentData, engine Engine) (*ExperimentResults, error) {
	varIndex := variationIndex(exp)
	nvars := len(exp.Variations)

	// Pass 1: per-dimension user counts, plus unknown-variation tallies.
	userCounts := make(map[string][]int64)
	unknownUsers := make(map[string]int64)
	var totalUsers int64

	for _, row := range data.Users {
		dim := dimensionName(row.Dimension)
		totalUsers += row.Users
		idx, ok := varIndex[row.Variation]
		if !ok {
			unknownUsers[row.Variation] += row.Users
			continue
		}
		if _, seen := userCounts[dim]; !seen {
			userCounts[dim] = make([]int64, nvars)
		}
		userCounts[dim][idx] += row.Users
	}

	var unknown []string
	for key, count := range unknownUsers {
		if totalUsers > 0 && float64(count)/float64(totalUsers) >= unknownVariationThreshold {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	// Pass 2: per-dimension, per-metric variation aggregates.
	metricData := make(map[string]map[string][]VariationData)
	for _, m := range metrics {
		rows := data.Metrics[m.ID]
		perDim := make(map[string][]VariationData)
		for _, row := range rows {
			dim := dimensionName(row.Dimension)
			idx, ok := varIndex[row.Variation]
			if !ok {
				continue
			}
			if _, seen := perDim[dim]; !seen {
				perDim[dim] = make([]VariationData, nvars)
			}
			vd := &perDim[dim][idx]
			vd.Count += row.Count
			vd.Sum += row.Sum
			vd.Mean = row.Mean
			vd.Stddev = row.Stddev
			if counts, ok := userCounts[dim]; ok {
				vd.Users = counts[idx]
			}
		}
		metricData[m.ID] = perDim
	}

	dims := make([]string, 0, len(userCounts))
	for dim := range userCounts {
		dims = append(dims, dim)
	}
	sort.Strings(dims)

	// Pass 3: engine invocations for every non-degenerate variation pair.
	jobs := collectEngineJobs(dims, metrics, metricData, nvars)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentInvocations)
	for _, job := range jobs {
		g.Go(func() error {
			res, err := engine.ABTest(gctx, job.params)
			if err != nil {
				return err
			}
			job.result = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resultsByKey := make(map[string]*ABTestResult, len(jobs))
	for _, job := range jobs {
		resultsByKey[jobKey(job.dimension, job.metricID, job.varIndex)] = job.result
	}

	// Pass 4: assemble the tree.
	out := &ExperimentResults{UnknownVariations: unknown}
	for _, dim := range dims {
		counts := userCounts[dim]
		snapDim := domain.SnapshotDimension{
			Name:       dim,
			SRM:        SRM(counts, phase.VariationWeights),
			Variations: make([]domain.SnapshotVariation, nvars),
		}

		for i := 0; i < nvars; i++ {
			snapVar := domain.SnapshotVariation{
				Users:   counts[i],
				Metrics: make(map[string]domain.SnapshotMetric),
			}
			for _, m := range metrics {
				perDim, ok := metricData[m.ID][dim]
				if !ok {
					continue
				}
				sm := valueCR(m, perDim[i])
				if i > 0 {
					attachStats(&sm, statsFor(resultsByKey, perDim, dim, m.ID, i))
				}
				snapVar.Metrics[m.ID] = sm
			}
			snapDim.Variations[i] = snapVar
		}
		out.Dimensions = append(out.Dimensions, snapDim)
	}

	// No dimension rows at all: a single synthetic "All" entry.
	if len(out.Dimensions) == 0 {
		out.Dimensions = []domain.SnapshotDimension{{
			Name:       "All",
			SRM:        1,
			Variations: []domain.SnapshotVariation{},
		}}
	}

	return out, nil
}

func collectEngineJobs(dims []string, metrics []*domain.Metric, metricData map[string]map[string][]VariationData, nvars int) []*engineJob {
	var jobs []*engineJob
	for _, dim := range dims {
		for _, m := range metrics {
			perDim, ok := metricData[m.ID][dim]
			if !ok {
				continue
			}
			baseline := perDim[0]
			for i := 1; i < nvars; i++ {
				if baseline.Sum == 0 || perDim[i].Sum == 0 {
					continue // short-circuits to NoResult, engine never invoked
				}
				jobs = append(jobs, &engineJob{
					dimension: dim,
					metricID:  m.ID,
					varIndex:  i,
					params: &ABTestParams{
						Metric: MetricConfig{
							ID:          m.ID,
							Type:        m.Type,
							IgnoreNulls: m.IgnoreNulls,
							Inverse:     m.Inverse,
						},
						Baseline:  baseline,
						Variation: perDim[i],
					},
				})
			}
		}
	}
	return jobs
}

func statsFor(results map[string]*ABTestResult, perDim []VariationData, dim, metricID string, varIndex int) *ABTestResult {
	if res, ok := results[jobKey(dim, metricID, varIndex)]; ok {
		return res
	}
	return NoResult()
}

func attachStats(sm *domain.SnapshotMetric, res *ABTestResult) {
	ctw := res.ChanceToWin
	ci := res.CI
	expected := res.Expected
	sm.ChanceToWin = &ctw
	sm.CI = &ci
	sm.Expected = &expected
	sm.Buckets = res.Buckets
}

// valueCR computes a variation's value and conversion rate for one metric.
// The denominator is all assigned users, or only users with a defined value
// when the metric ignores nulls.
func valueCR(m *domain.Metric, vd VariationData) domain.SnapshotMetric {
	denominator := vd.Users
	if m.IgnoreNulls {
		denominator = vd.Count
	}
	sm := domain.SnapshotMetric{Value: vd.Sum, Users: denominator}
	if denominator > 0 {
		sm.CR = vd.Sum / float64(denominator)
	}
	return sm
}

func dimensionName(dim string) string {
	if dim == "" {
		return "All"
	}
	return dim
}

func jobKey(dim, metricID string, varIndex int) string {
	return dim + "\x00" + metricID + "\x00" + strconv.Itoa(varIndex)
}

// variationIndex maps every recognized variation identifier (id, key, and
// bare index) to its position. Index 0 is the baseline.
func variationIndex(exp *domain.Experiment) map[string]int {
	idx := make(map[string]int, len(exp.Variations)*3)
	for i, v := range exp.Variations {
		idx[strconv.Itoa(i)] = i
		if v.ID != "" {
			idx[v.ID] = i
		}
		if v.Key != "" {
			idx[v.Key] = i
		}
	}
	return idx
}
