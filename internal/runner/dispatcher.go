// Package runner implements the asynchronous query orchestration pipeline:
// dispatching warehouse queries with cache reuse, fanning out named query
// sets, polling owning objects for status transitions, and cancellation.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"exphub/internal/domain"
)

// Dispatcher defaults.
const (
	DefaultCacheTTL          = 24 * time.Hour
	defaultHeartbeatInterval = 30 * time.Second
)

// RunFunc executes a warehouse query and returns its raw rows.
type RunFunc func(ctx context.Context) (domain.RawRows, error)

// ProcessFunc reshapes raw rows into the typed payload stored on the ledger
// record. The returned value must be JSON-marshalable.
type ProcessFunc func(rows domain.RawRows) (interface{}, error)

// QuerySpec describes one query dispatch: the reuse key fields plus the run
// and process callbacks.
type QuerySpec struct {
	Organization string
	Datasource   string
	Language     string
	Query        string
	Run          RunFunc
	Process      ProcessFunc
}

// QueryOptions controls the caching layer. ReuseFailed keeps the original
// behavior of treating recent failed records as reusable; callers that want a
// failed query re-run set it to false.
type QueryOptions struct {
	UseCache    bool
	CacheTTL    time.Duration
	ReuseFailed bool
}

// DefaultQueryOptions returns the standard caching policy: reuse any record,
// failed included, within the last 24 hours.
func DefaultQueryOptions() QueryOptions {
	return QueryOptions{UseCache: true, CacheTTL: DefaultCacheTTL, ReuseFailed: true}
}

// Dispatcher turns query specs into ledger records, launching warehouse
// execution in the background. At most one concurrent execution exists per
// identical query text within the reuse window.
type Dispatcher struct {
	queries           domain.QueryRepository
	logger            *slog.Logger
	heartbeatInterval time.Duration
}

// NewDispatcher creates a Dispatcher over the given query ledger.
func NewDispatcher(queries domain.QueryRepository, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queries:           queries,
		logger:            logger,
		heartbeatInterval: defaultHeartbeatInterval,
	}
}

// SetHeartbeatInterval overrides the background heartbeat period (tests).
func (d *Dispatcher) SetHeartbeatInterval(interval time.Duration) {
	d.heartbeatInterval = interval
}

// StartQuery returns a reusable ledger record when the caching policy allows,
// otherwise creates a running record and executes the query in the
// background. The returned record reflects the state at dispatch time; the
// background path never surfaces errors except through the record.
func (d *Dispatcher) StartQuery(ctx context.Context, spec QuerySpec, opts QueryOptions) (*domain.QueryRecord, error) {
	if spec.Query == "" {
		return nil, domain.ErrValidation("query text is required")
	}
	if spec.Run == nil || spec.Process == nil {
		return nil, domain.ErrValidation("run and process callbacks are required")
	}

	if opts.UseCache {
		ttl := opts.CacheTTL
		if ttl <= 0 {
			ttl = DefaultCacheTTL
		}
		existing, err := d.queries.FindReusable(ctx, spec.Organization, spec.Datasource, spec.Query, time.Now().Add(-ttl), opts.ReuseFailed)
		if err == nil {
			return existing, nil
		}
		var notFound *domain.NotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("lookup reusable query: %w", err)
		}
	}

	rec, err := d.queries.Create(ctx, &domain.QueryRecord{
		Organization: spec.Organization,
		Datasource:   spec.Datasource,
		Language:     spec.Language,
		Query:        spec.Query,
	})
	if err != nil {
		return nil, fmt.Errorf("create query record: %w", err)
	}

	go d.execute(rec.ID, spec)
	return rec, nil
}

// execute runs the warehouse call in the background and moves the record to
// its terminal state. It must not panic: run/process failures become data on
// the record.
func (d *Dispatcher) execute(id string, spec QuerySpec) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hbDone := make(chan struct{})
	go d.heartbeatLoop(ctx, id, hbDone)

	rows, err := runGuarded(ctx, spec.Run)
	close(hbDone)

	if err != nil {
		d.fail(id, spec, err)
		return
	}

	result, err := processGuarded(spec.Process, rows)
	if err != nil {
		d.fail(id, spec, err)
		return
	}

	rawJSON, err := json.Marshal(rows)
	if err != nil {
		d.fail(id, spec, fmt.Errorf("marshal raw rows: %w", err))
		return
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		d.fail(id, spec, fmt.Errorf("marshal result: %w", err))
		return
	}

	if err := d.queries.MarkSucceeded(context.Background(), id, rawJSON, resultJSON); err != nil {
		d.logger.Error("persist query success", "query", id, "error", err)
	}
}

func (d *Dispatcher) fail(id string, spec QuerySpec, cause error) {
	d.logger.Warn("query failed",
		"query", id,
		"datasource", spec.Datasource,
		"error", cause,
	)
	if err := d.queries.MarkFailed(context.Background(), id, cause.Error()); err != nil {
		d.logger.Error("persist query failure", "query", id, "error", err)
	}
}

// heartbeatLoop refreshes the record's liveness timestamp until the query
// finishes. The ticker is stopped on both success and failure paths.
func (d *Dispatcher) heartbeatLoop(ctx context.Context, id string, done <-chan struct{}) {
	ticker := time.NewTicker(d.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			_ = d.queries.Heartbeat(context.Background(), id, t)
		}
	}
}

func runGuarded(ctx context.Context, run RunFunc) (rows domain.RawRows, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("query run panicked: %v", r)
		}
	}()
	return run(ctx)
}

func processGuarded(process ProcessFunc, rows domain.RawRows) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("result processing panicked: %v", r)
		}
	}()
	return process(rows)
}
