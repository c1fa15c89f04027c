package runner

import (
	"context"
	"encoding/json"
	"fmt"

	"exphub/internal/domain"
)

// QueryMap maps a logical name ("users", a metric id, "results", ...) to its
// full ledger record.
type QueryMap map[string]*domain.QueryRecord

// PendingQuery is one named dispatch outcome handed to StartRun.
type PendingQuery struct {
	Name   string
	Record *domain.QueryRecord
	Err    error
}

// RunOutcome is what StartRun hands back to the caller: pointers to persist
// on the owning object, plus the synchronously computed result when every
// query had already succeeded at call time.
type RunOutcome[T any] struct {
	Queries []domain.QueryPointer
	Result  *T
}

// StartRun builds query pointers from the dispatched queries, preserving the
// caller-supplied name order. If every query is already succeeded, it invokes
// process over the name→record map exactly once and returns the result;
// otherwise the result arrives later via the status poller.
//
// This short-circuit keeps one-shot datasources (a single query that resolves
// synchronously) on the same code path as long-running multi-query batches.
func StartRun[T any](ctx context.Context, pending []PendingQuery, process func(context.Context, QueryMap) (*T, error)) (*RunOutcome[T], error) {
	if len(pending) == 0 {
		return nil, domain.ErrValidation("at least one query is required")
	}

	pointers := make([]domain.QueryPointer, 0, len(pending))
	qm := make(QueryMap, len(pending))
	allSucceeded := true

	for _, p := range pending {
		if p.Err != nil {
			return nil, fmt.Errorf("start query %q: %w", p.Name, p.Err)
		}
		pointers = append(pointers, domain.QueryPointer{
			Name:    p.Name,
			QueryID: p.Record.ID,
			Status:  p.Record.Status,
		})
		qm[p.Name] = p.Record
		if p.Record.Status != domain.QueryStatusSucceeded {
			allSucceeded = false
		}
	}

	outcome := &RunOutcome[T]{Queries: pointers}
	if !allSucceeded {
		return outcome, nil
	}

	result, err := process(ctx, qm)
	if err != nil {
		return nil, fmt.Errorf("process results: %w", err)
	}
	outcome.Result = result
	return outcome, nil
}

// DecodeResult unmarshals a ledger record's processed payload into T. The
// logical name on the owning pointer determines which T a caller expects.
func DecodeResult[T any](rec *domain.QueryRecord) (*T, error) {
	if rec == nil {
		return nil, domain.ErrValidation("query record is required")
	}
	if len(rec.ResultJSON) == 0 {
		return nil, domain.ErrValidation("query %q has no processed result", rec.ID)
	}
	var out T
	if err := json.Unmarshal(rec.ResultJSON, &out); err != nil {
		return nil, fmt.Errorf("decode result of query %q: %w", rec.ID, err)
	}
	return &out, nil
}
