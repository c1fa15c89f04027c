package domain

import (
	"context"
	"time"
)

// QueryRepository is the durable query ledger. Writers only touch records
// they created (dispatcher) or own via pointers (poller, cancellation);
// terminal records must never be resurrected to running.
type QueryRepository interface {
	Create(ctx context.Context, q *QueryRecord) (*QueryRecord, error)
	// FindReusable returns the most recent record matching the reuse key
	// created after since. includeFailed controls whether failed records
	// qualify; running and succeeded records always do.
	FindReusable(ctx context.Context, org, datasource, queryText string, since time.Time, includeFailed bool) (*QueryRecord, error)
	FindByIDs(ctx context.Context, org string, ids []string) ([]*QueryRecord, error)
	Heartbeat(ctx context.Context, id string, at time.Time) error
	MarkSucceeded(ctx context.Context, id string, rawJSON, resultJSON []byte) error
	MarkFailed(ctx context.Context, id string, message string) error
	DeleteByIDs(ctx context.Context, org string, ids []string) error
	// ListStaleRunning returns running records whose heartbeat is older than
	// cutoff, the orphan candidates left by a crashed worker.
	ListStaleRunning(ctx context.Context, cutoff time.Time) ([]*QueryRecord, error)
}

// SnapshotRepository stores experiment snapshots.
type SnapshotRepository interface {
	Create(ctx context.Context, s *ExperimentSnapshot) (*ExperimentSnapshot, error)
	GetByID(ctx context.Context, org, id string) (*ExperimentSnapshot, error)
	GetLatestByExperiment(ctx context.Context, org, experimentID string, phase int, dimension string) (*ExperimentSnapshot, error)
	// UpdateQueries persists pointer statuses plus an optional error message.
	UpdateQueries(ctx context.Context, org, id string, queries []QueryPointer, errMsg string) error
	// UpdateResults persists pointers and success fields in one update.
	UpdateResults(ctx context.Context, org, id string, queries []QueryPointer, results []SnapshotDimension, unknownVariations []string) error
	// ClearRun detaches a cancelled snapshot from its queries.
	ClearRun(ctx context.Context, org, id string) error
}

// MetricAnalysisRepository stores standalone metric analyses.
type MetricAnalysisRepository interface {
	Create(ctx context.Context, a *MetricAnalysis) (*MetricAnalysis, error)
	GetByID(ctx context.Context, org, id string) (*MetricAnalysis, error)
	UpdateQueries(ctx context.Context, org, id string, queries []QueryPointer, errMsg string) error
	UpdateResults(ctx context.Context, org, id string, queries []QueryPointer, result *MetricAnalysisResult) error
	ClearRun(ctx context.Context, org, id string) error
}

// PastExperimentsRepository stores past-experiments imports.
type PastExperimentsRepository interface {
	Create(ctx context.Context, imp *PastExperimentsImport) (*PastExperimentsImport, error)
	GetByID(ctx context.Context, org, id string) (*PastExperimentsImport, error)
	UpdateQueries(ctx context.Context, org, id string, queries []QueryPointer, errMsg string) error
	UpdateResults(ctx context.Context, org, id string, queries []QueryPointer, experiments []PastExperiment) error
	ClearRun(ctx context.Context, org, id string) error
}

// SegmentComparisonRepository stores segment comparisons.
type SegmentComparisonRepository interface {
	Create(ctx context.Context, sc *SegmentComparison) (*SegmentComparison, error)
	GetByID(ctx context.Context, org, id string) (*SegmentComparison, error)
	UpdateQueries(ctx context.Context, org, id string, queries []QueryPointer, errMsg string) error
	UpdateResults(ctx context.Context, org, id string, queries []QueryPointer, results *SegmentComparisonResult) error
	ClearRun(ctx context.Context, org, id string) error
}

// ExperimentRepository stores experiment configuration.
type ExperimentRepository interface {
	Create(ctx context.Context, e *Experiment) (*Experiment, error)
	GetByID(ctx context.Context, org, id string) (*Experiment, error)
	ListAutoRefresh(ctx context.Context) ([]*Experiment, error)
}

// MetricRepository stores metric configuration.
type MetricRepository interface {
	Create(ctx context.Context, m *Metric) (*Metric, error)
	GetByID(ctx context.Context, org, id string) (*Metric, error)
	GetByIDs(ctx context.Context, org string, ids []string) ([]*Metric, error)
}

// Integration runs warehouse-specific SQL. Implementations are opaque beyond
// the (text) -> rows contract.
type Integration interface {
	Datasource() *Datasource
	// Language tags the query dialect on ledger records.
	Language() string
	RunQuery(ctx context.Context, query string) (RawRows, error)
}
