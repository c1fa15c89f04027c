// Package stats reshapes raw warehouse rows into per-dimension,
// per-variation result trees and computes the sample-ratio-mismatch check.
// The significance-test math itself runs in an external engine.
package stats

import "gonum.org/v1/gonum/stat/distuv"

// SRM returns the chi-square goodness-of-fit p-value comparing observed
// per-variation user counts against configured traffic weights. A low value
// indicates likely instrumentation bugs. Variations with zero weight or zero
// users are excluded; with fewer than 2 qualifying variations there is no
// evidence of mismatch and SRM is 1.
func SRM(users []int64, weights []float64) float64 {
	var (
		observed   []float64
		shares     []float64
		totalUsers float64
		totalShare float64
	)

	for i, u := range users {
		if i >= len(weights) {
			break
		}
		if weights[i] <= 0 || u <= 0 {
			continue
		}
		observed = append(observed, float64(u))
		shares = append(shares, weights[i])
		totalUsers += float64(u)
		totalShare += weights[i]
	}

	if len(observed) < 2 {
		return 1
	}

	var x float64
	for i, obs := range observed {
		expected := shares[i] / totalShare * totalUsers
		diff := obs - expected
		x += diff * diff / expected
	}

	dist := distuv.ChiSquared{K: float64(len(observed) - 1)}
	return dist.Survival(x)
}
