package stats

import (
	"context"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"exphub/internal/domain"
)

// NormalEngine is the built-in significance engine: a two-sample z-test on
// per-user means with a normal approximation. It is the default when no
// external engine executable is configured.
type NormalEngine struct{}

var _ Engine = (*NormalEngine)(nil)

// NewNormalEngine creates the built-in engine.
func NewNormalEngine() *NormalEngine {
	return &NormalEngine{}
}

// ABTest compares baseline and variation means. Binomial metrics derive
// variance from the conversion rate itself; other types use the sample
// stddev reported by the warehouse.
func (e *NormalEngine) ABTest(_ context.Context, params *ABTestParams) (*ABTestResult, error) {
	base := sideStats(params.Metric, params.Baseline)
	variant := sideStats(params.Metric, params.Variation)

	if base.n == 0 || variant.n == 0 || base.mean == 0 {
		return NoResult(), nil
	}

	se := math.Sqrt(base.variance/base.n + variant.variance/variant.n)
	uplift := (variant.mean - base.mean) / base.mean

	if se == 0 {
		return &ABTestResult{
			Expected: uplift,
			CI:       [2]float64{uplift, uplift},
			Buckets:  []domain.BucketPoint{},
		}, nil
	}

	z := (variant.mean - base.mean) / se
	if params.Metric.Inverse {
		z = -z
	}
	normal := distuv.Normal{Mu: 0, Sigma: 1}

	// 95% interval on the relative uplift.
	margin := 1.959964 * se / base.mean

	return &ABTestResult{
		ChanceToWin: normal.CDF(z),
		Expected:    uplift,
		CI:          [2]float64{uplift - margin, uplift + margin},
		Buckets:     upliftBuckets(uplift, se/base.mean),
	}, nil
}

type side struct {
	n        float64
	mean     float64
	variance float64
}

func sideStats(m MetricConfig, v VariationData) side {
	denom := float64(v.Users)
	if m.IgnoreNulls {
		denom = float64(v.Count)
	}
	if denom == 0 {
		return side{}
	}
	mean := v.Sum / denom

	if m.Type == domain.MetricTypeBinomial {
		return side{n: denom, mean: mean, variance: mean * (1 - mean)}
	}
	variance := v.Stddev * v.Stddev
	if variance == 0 {
		// Warehouses that do not report stddev get a crude spread estimate.
		variance = mean * mean
	}
	return side{n: denom, mean: mean, variance: variance}
}

// upliftBuckets samples the uplift distribution into a coarse histogram for
// violin-style rendering.
func upliftBuckets(mean, sigma float64) []domain.BucketPoint {
	if sigma == 0 {
		return []domain.BucketPoint{}
	}
	normal := distuv.Normal{Mu: mean, Sigma: sigma}
	points := make([]domain.BucketPoint, 0, 21)
	for i := 0; i <= 20; i++ {
		x := mean + sigma*(float64(i)-10)/10*3
		points = append(points, domain.BucketPoint{X: x, Y: normal.Prob(x)})
	}
	return points
}
