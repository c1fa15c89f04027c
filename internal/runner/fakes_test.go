package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"exphub/internal/domain"
)

// discardLogger returns a logger that discards all output.
func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// memQueryRepo is an in-memory QueryRepository with call counters for
// asserting write behavior.
type memQueryRepo struct {
	mu      sync.Mutex
	records map[string]*domain.QueryRecord

	createCalls    int
	succeededCalls int
	failedCalls    int
	heartbeats     int
	deletedIDs     []string
}

func newMemQueryRepo() *memQueryRepo {
	return &memQueryRepo{records: make(map[string]*domain.QueryRecord)}
}

func (r *memQueryRepo) Create(_ context.Context, q *domain.QueryRecord) (*domain.QueryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	now := time.Now()
	rec := &domain.QueryRecord{
		ID:           domain.NewID(),
		Organization: q.Organization,
		Datasource:   q.Datasource,
		Language:     q.Language,
		Query:        q.Query,
		Status:       domain.QueryStatusRunning,
		CreatedAt:    now,
		StartedAt:    &now,
		Heartbeat:    now,
	}
	r.records[rec.ID] = rec
	return cloneRecord(rec), nil
}

func (r *memQueryRepo) FindReusable(_ context.Context, org, datasource, queryText string, since time.Time, includeFailed bool) (*domain.QueryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *domain.QueryRecord
	for _, rec := range r.records {
		if rec.Organization != org || rec.Datasource != datasource || rec.Query != queryText {
			continue
		}
		if rec.CreatedAt.Before(since) {
			continue
		}
		if !includeFailed && rec.Status == domain.QueryStatusFailed {
			continue
		}
		if best == nil || rec.CreatedAt.After(best.CreatedAt) {
			best = rec
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound("no reusable query")
	}
	return cloneRecord(best), nil
}

func (r *memQueryRepo) FindByIDs(_ context.Context, org string, ids []string) ([]*domain.QueryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.QueryRecord
	for _, id := range ids {
		if rec, ok := r.records[id]; ok && rec.Organization == org {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func (r *memQueryRepo) Heartbeat(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats++
	if rec, ok := r.records[id]; ok {
		rec.Heartbeat = at
	}
	return nil
}

func (r *memQueryRepo) MarkSucceeded(_ context.Context, id string, rawJSON, resultJSON []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Status != domain.QueryStatusRunning {
		return domain.ErrNotFound("running query %q not found", id)
	}
	r.succeededCalls++
	now := time.Now()
	rec.Status = domain.QueryStatusSucceeded
	rec.RawJSON = rawJSON
	rec.ResultJSON = resultJSON
	rec.FinishedAt = &now
	return nil
}

func (r *memQueryRepo) MarkFailed(_ context.Context, id string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Status != domain.QueryStatusRunning {
		return domain.ErrNotFound("running query %q not found", id)
	}
	r.failedCalls++
	now := time.Now()
	rec.Status = domain.QueryStatusFailed
	rec.Error = message
	rec.FinishedAt = &now
	return nil
}

func (r *memQueryRepo) DeleteByIDs(_ context.Context, org string, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if rec, ok := r.records[id]; ok && rec.Organization == org {
			delete(r.records, id)
			r.deletedIDs = append(r.deletedIDs, id)
		}
	}
	return nil
}

func (r *memQueryRepo) ListStaleRunning(_ context.Context, cutoff time.Time) ([]*domain.QueryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.QueryRecord
	for _, rec := range r.records {
		if rec.Status == domain.QueryStatusRunning && rec.Heartbeat.Before(cutoff) {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func (r *memQueryRepo) get(id string) *domain.QueryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		return cloneRecord(rec)
	}
	return nil
}

// put inserts a record as-is, for seeding poller scenarios.
func (r *memQueryRepo) put(rec *domain.QueryRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ID] = cloneRecord(rec)
}

func cloneRecord(rec *domain.QueryRecord) *domain.QueryRecord {
	clone := *rec
	return &clone
}

var _ domain.QueryRepository = (*memQueryRepo)(nil)
