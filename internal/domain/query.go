package domain

import "time"

// QueryStatus represents the lifecycle state of a warehouse query.
type QueryStatus string

// Query lifecycle statuses. Once a record leaves "running" its result or
// error is set and never mutates again.
const (
	QueryStatusRunning   QueryStatus = "running"
	QueryStatusSucceeded QueryStatus = "succeeded"
	QueryStatusFailed    QueryStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s QueryStatus) Terminal() bool {
	return s == QueryStatusSucceeded || s == QueryStatusFailed
}

// RawRows holds untyped warehouse result rows, one map per row keyed by
// column name.
type RawRows []map[string]interface{}

// QueryRecord stores durable state for a single warehouse query execution.
// (organization, datasource, query text) together form the cache-reuse key.
type QueryRecord struct {
	ID           string
	Organization string
	Datasource   string
	Language     string
	Query        string
	Status       QueryStatus
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	Heartbeat    time.Time
	RawJSON      []byte // untyped warehouse rows, JSON-encoded
	ResultJSON   []byte // processed payload, JSON-encoded, decoded by logical name
	Error        string
}

// QueryPointer is the lightweight reference an owning object holds to a
// QueryRecord. Status is a denormalized copy and may lag ledger truth until
// the next poll.
type QueryPointer struct {
	Name    string      `json:"name"`
	QueryID string      `json:"query"`
	Status  QueryStatus `json:"status"`
}

// OverallStatus derives an owning object's status from its pointers: failed
// if any pointer failed, running if any is non-terminal, succeeded otherwise.
func OverallStatus(pointers []QueryPointer) QueryStatus {
	status := QueryStatusSucceeded
	for _, p := range pointers {
		if p.Status == QueryStatusFailed {
			return QueryStatusFailed
		}
		if !p.Status.Terminal() {
			status = QueryStatusRunning
		}
	}
	return status
}
