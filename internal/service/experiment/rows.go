package experiment

import (
	"fmt"
	"strconv"
	"time"

	"exphub/internal/domain"
	"exphub/internal/stats"
)

// Warehouse drivers disagree on scan types (int64 vs float64 vs string), so
// row access is tolerant by coercion.

func rowString(row map[string]interface{}, key string) string {
	switch v := row[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func rowInt(row map[string]interface{}, key string) int64 {
	switch v := row[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

func rowFloat(row map[string]interface{}, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

func rowTime(row map[string]interface{}, key string) time.Time {
	switch v := row[key].(type) {
	case time.Time:
		return v
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

func parseUsersRows(rows domain.RawRows) (interface{}, error) {
	out := make([]stats.UsersRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, stats.UsersRow{
			Dimension: rowString(row, "dimension"),
			Variation: rowString(row, "variation"),
			Users:     rowInt(row, "users"),
		})
	}
	return out, nil
}

func parseMetricRows(rows domain.RawRows) (interface{}, error) {
	out := make([]stats.MetricRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, stats.MetricRow{
			Dimension: rowString(row, "dimension"),
			Variation: rowString(row, "variation"),
			Count:     rowInt(row, "count"),
			Sum:       rowFloat(row, "sum"),
			Mean:      rowFloat(row, "mean"),
			Stddev:    rowFloat(row, "stddev"),
		})
	}
	return out, nil
}

func parseMetricDates(rows domain.RawRows) (interface{}, error) {
	out := make([]domain.MetricAnalysisDate, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.MetricAnalysisDate{
			Date:  rowTime(row, "date"),
			Users: rowInt(row, "users"),
			Value: rowFloat(row, "value"),
		})
	}
	return out, nil
}

func parsePastExperiments(rows domain.RawRows) (interface{}, error) {
	out := make([]domain.PastExperiment, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.PastExperiment{
			TrackingKey: rowString(row, "experiment_id"),
			Variations:  int(rowInt(row, "variations")),
			StartDate:   rowTime(row, "start_date"),
			EndDate:     rowTime(row, "end_date"),
			Users:       rowInt(row, "users"),
		})
	}
	return out, nil
}

// segmentUsers is the processed payload of one segment users query.
type segmentUsers struct {
	Users int64 `json:"users"`
}

func parseSegmentUsers(rows domain.RawRows) (interface{}, error) {
	var out segmentUsers
	if len(rows) > 0 {
		out.Users = rowInt(rows[0], "users")
	}
	return out, nil
}
