package integration

import (
	"fmt"
	"time"

	"exphub/internal/domain"
)

// Query builders produce the SQL each analysis kind dispatches. They are
// intentionally plain ANSI-ish SQL over the conventions in
// DatasourceSettings; dialect quirks belong to the warehouse owner's schema,
// not to the orchestration layer.

func sqlTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

func phaseFilter(s *domain.DatasourceSettings, phase *domain.ExperimentPhase) string {
	filter := fmt.Sprintf("%s >= '%s'", s.TimestampCol, sqlTime(phase.DateStarted))
	if phase.DateEnded != nil {
		filter += fmt.Sprintf(" AND %s <= '%s'", s.TimestampCol, sqlTime(*phase.DateEnded))
	}
	return filter
}

// ExperimentUsersQuery counts distinct assigned users per dimension and
// variation for one experiment phase.
func ExperimentUsersQuery(ds *domain.Datasource, exp *domain.Experiment, phase *domain.ExperimentPhase, dimension string) string {
	s := &ds.Settings
	dimExpr := "''"
	if dimension != "" && s.DimensionCol != "" {
		dimExpr = s.DimensionCol
	}
	return fmt.Sprintf(`-- users
SELECT
  %s AS dimension,
  %s AS variation,
  COUNT(DISTINCT %s) AS users
FROM %s
WHERE %s = '%s'
  AND %s
GROUP BY %s, %s`,
		dimExpr, s.VariationCol, s.UsersCol,
		s.ExperimentsTable,
		s.ExperimentIDCol, exp.TrackingKey,
		phaseFilter(s, phase),
		dimExpr, s.VariationCol)
}

// ExperimentMetricQuery aggregates one metric's value per dimension and
// variation for users assigned during the phase.
func ExperimentMetricQuery(ds *domain.Datasource, exp *domain.Experiment, phase *domain.ExperimentPhase, m *domain.Metric, dimension string) string {
	s := &ds.Settings
	dimExpr := "''"
	if dimension != "" && s.DimensionCol != "" {
		dimExpr = "a." + s.DimensionCol
	}
	valueExpr := "1"
	if m.Type != domain.MetricTypeBinomial && m.Column != "" {
		valueExpr = "m." + m.Column
	}
	return fmt.Sprintf(`-- metric %s
SELECT
  %s AS dimension,
  a.%s AS variation,
  COUNT(DISTINCT m.%s) AS count,
  SUM(%s) AS sum,
  AVG(%s) AS mean,
  0 AS stddev
FROM %s a
JOIN %s m ON m.%s = a.%s
WHERE a.%s = '%s'
  AND a.%s
GROUP BY %s, a.%s`,
		m.ID,
		dimExpr, s.VariationCol, s.UsersCol,
		valueExpr, valueExpr,
		s.ExperimentsTable, m.Table, s.UsersCol, s.UsersCol,
		s.ExperimentIDCol, exp.TrackingKey,
		phaseFilter(s, phase),
		dimExpr, s.VariationCol)
}

// MetricValueQuery aggregates a metric's daily totals for a standalone
// metric analysis.
func MetricValueQuery(ds *domain.Datasource, m *domain.Metric) string {
	s := &ds.Settings
	valueExpr := "1"
	if m.Type != domain.MetricTypeBinomial && m.Column != "" {
		valueExpr = m.Column
	}
	return fmt.Sprintf(`-- metric analysis %s
SELECT
  DATE(%s) AS date,
  COUNT(DISTINCT %s) AS users,
  SUM(%s) AS value
FROM %s
GROUP BY DATE(%s)
ORDER BY date`,
		m.ID,
		s.TimestampCol, s.UsersCol, valueExpr,
		m.Table,
		s.TimestampCol)
}

// PastExperimentsQuery discovers experiments present in assignment data
// since the given date.
func PastExperimentsQuery(ds *domain.Datasource, since time.Time) string {
	s := &ds.Settings
	return fmt.Sprintf(`-- past experiments
SELECT
  %s AS experiment_id,
  COUNT(DISTINCT %s) AS variations,
  MIN(%s) AS start_date,
  MAX(%s) AS end_date,
  COUNT(DISTINCT %s) AS users
FROM %s
WHERE %s > '%s'
GROUP BY %s`,
		s.ExperimentIDCol,
		s.VariationCol,
		s.TimestampCol, s.TimestampCol,
		s.UsersCol,
		s.ExperimentsTable,
		s.TimestampCol, sqlTime(since),
		s.ExperimentIDCol)
}

// SegmentUsersQuery counts distinct users in one segment table.
func SegmentUsersQuery(ds *domain.Datasource, segmentTable string) string {
	s := &ds.Settings
	return fmt.Sprintf(`-- segment %s
SELECT COUNT(DISTINCT %s) AS users FROM %s`,
		segmentTable, s.UsersCol, segmentTable)
}
