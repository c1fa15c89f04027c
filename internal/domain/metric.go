package domain

import "time"

// MetricType classifies how a metric's per-user value is interpreted.
type MetricType string

// Supported metric types.
const (
	MetricTypeBinomial MetricType = "binomial"
	MetricTypeCount    MetricType = "count"
	MetricTypeDuration MetricType = "duration"
	MetricTypeRevenue  MetricType = "revenue"
)

// Metric is a measurable outcome tracked in the warehouse.
//
// IgnoreNulls controls the conversion-rate denominator: when true, only users
// with a defined metric value count; otherwise all assigned users do.
// Inverse means lower is better (e.g. bounce rate).
type Metric struct {
	ID           string
	Organization string
	Datasource   string
	Name         string
	Type         MetricType
	Table        string
	Column       string
	IgnoreNulls  bool
	Inverse      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
