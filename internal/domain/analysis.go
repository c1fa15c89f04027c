package domain

import "time"

// MetricAnalysisDate is one day of a metric's time series.
type MetricAnalysisDate struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
	Users int64     `json:"users"`
}

// MetricAnalysisResult is the computed output of a metric analysis.
type MetricAnalysisResult struct {
	Average float64              `json:"average"`
	Users   int64                `json:"users"`
	Dates   []MetricAnalysisDate `json:"dates,omitempty"`
}

// MetricAnalysis is an owning object for a standalone metric value analysis.
type MetricAnalysis struct {
	ID           string
	Organization string
	Metric       string
	RunStarted   *time.Time
	Queries      []QueryPointer
	Analysis     *MetricAnalysisResult
	Error        string
	DateCreated  time.Time
}

// PastExperiment is one experiment discovered in warehouse assignment data.
type PastExperiment struct {
	TrackingKey string    `json:"trackingKey"`
	Variations  int       `json:"variations"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
	Users       int64     `json:"users"`
}

// PastExperimentsImport is an owning object for a past-experiments discovery
// run against a datasource.
type PastExperimentsImport struct {
	ID           string
	Organization string
	Datasource   string
	RunStarted   *time.Time
	Queries      []QueryPointer
	Experiments  []PastExperiment
	Error        string
	DateCreated  time.Time
}

// SegmentComparisonSide holds one segment's observed totals.
type SegmentComparisonSide struct {
	Segment string `json:"segment"`
	Users   int64  `json:"users"`
}

// SegmentComparisonResult is the computed output of a segment comparison.
type SegmentComparisonResult struct {
	Segment1 SegmentComparisonSide `json:"segment1"`
	Segment2 SegmentComparisonSide `json:"segment2"`
}

// SegmentComparison is an owning object comparing two user segments.
type SegmentComparison struct {
	ID           string
	Organization string
	Datasource   string
	Segment1     string
	Segment2     string
	RunStarted   *time.Time
	Queries      []QueryPointer
	Results      *SegmentComparisonResult
	Error        string
	DateCreated  time.Time
}
