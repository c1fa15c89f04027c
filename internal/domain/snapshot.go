package domain

import "time"

// BucketPoint is one point of a risk/uplift histogram from the stats engine.
type BucketPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SnapshotMetric holds one metric's statistics for one variation.
type SnapshotMetric struct {
	Value       float64       `json:"value"`
	CR          float64       `json:"cr"`
	Users       int64         `json:"users"`
	CI          *[2]float64   `json:"ci,omitempty"`
	Expected    *float64      `json:"expected,omitempty"`
	Buckets     []BucketPoint `json:"buckets,omitempty"`
	ChanceToWin *float64      `json:"chanceToWin,omitempty"`
}

// SnapshotVariation holds one variation's user count and per-metric stats.
type SnapshotVariation struct {
	Users   int64                     `json:"users"`
	Metrics map[string]SnapshotMetric `json:"metrics"`
}

// SnapshotDimension is one dimension value's result slice. Variations[0] is
// always the baseline. SRM is the sample-ratio-mismatch p-value.
type SnapshotDimension struct {
	Name       string              `json:"name"`
	SRM        float64             `json:"srm"`
	Variations []SnapshotVariation `json:"variations"`
}

// ExperimentSnapshot is a persisted point-in-time computation of an
// experiment's results for one phase/dimension combination.
type ExperimentSnapshot struct {
	ID                string
	Organization      string
	Experiment        string
	Phase             int
	Dimension         string
	DateCreated       time.Time
	RunStarted        *time.Time
	Queries           []QueryPointer
	UnknownVariations []string
	Results           []SnapshotDimension
	Error             string
}
