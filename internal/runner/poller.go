package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"exphub/internal/domain"
)

// queriesFailedMessage is the generic error stored on an owning object when
// a query fails. The specific warehouse error stays on the ledger record.
const queriesFailedMessage = "one or more queries failed"

// Owner adapts one owning-object kind (snapshot, metric analysis, past
// experiments import, segment comparison) to the status poller. Persistence
// callbacks are supplied by the owner so the poller stays storage-agnostic.
type Owner interface {
	OwnerKind() string
	OwnerID() string
	OwnerOrganization() string
	QueryPointers() []domain.QueryPointer
	RunStarted() *time.Time
	StoredError() string

	// SaveQueries persists pointer statuses plus an optional error message.
	SaveQueries(ctx context.Context, queries []domain.QueryPointer, errMsg string) error
	// SaveSuccess computes the owner's result from the completed query map
	// and persists it together with the pointers in one update.
	SaveSuccess(ctx context.Context, queries []domain.QueryPointer, qm QueryMap) error
	// DeleteQueries removes the owner's ledger rows and clears its pointers
	// and run timestamp. Invoked only by cancellation while running.
	DeleteQueries(ctx context.Context) error
}

// Status is the poll response surfaced to clients. Underlying query failures
// are encoded in QueryStatus, never as a transport error.
type Status struct {
	QueryStatus domain.QueryStatus `json:"queryStatus"`
	Finished    int                `json:"finished"`
	Total       int                `json:"total"`
	Elapsed     time.Duration      `json:"elapsed"`
}

// Poller reconciles an owning object's pointers against ledger truth and
// triggers result computation on the running→succeeded transition.
//
// Concurrent polls for the same owner are serialized with a per-owner mutex:
// the read-compute-write sequence otherwise races and can double-invoke
// SaveSuccess. Transition detection stays idempotent, so redundant polls
// after the lock are no-ops.
type Poller struct {
	queries domain.QueryRepository
	logger  *slog.Logger
	locks   sync.Map // "kind/id" -> *sync.Mutex
}

// NewPoller creates a Poller over the given query ledger.
func NewPoller(queries domain.QueryRepository, logger *slog.Logger) *Poller {
	return &Poller{queries: queries, logger: logger}
}

func (p *Poller) ownerLock(owner Owner) *sync.Mutex {
	key := owner.OwnerKind() + "/" + owner.OwnerID()
	mu, _ := p.locks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Poll re-reads ledger state for the owner's non-terminal pointers, persists
// any status change, and on the transition to all-succeeded invokes the
// owner's success callback exactly once. Unchanged pointers cause no write.
func (p *Poller) Poll(ctx context.Context, owner Owner) (*Status, error) {
	mu := p.ownerLock(owner)
	mu.Lock()
	defer mu.Unlock()

	pointers := owner.QueryPointers()

	var pendingIDs []string
	for _, ptr := range pointers {
		if !ptr.Status.Terminal() {
			pendingIDs = append(pendingIDs, ptr.QueryID)
		}
	}

	updated := pointers
	changed := false
	if len(pendingIDs) > 0 {
		records, err := p.queries.FindByIDs(ctx, owner.OwnerOrganization(), pendingIDs)
		if err != nil {
			return nil, fmt.Errorf("fetch query statuses: %w", err)
		}
		byID := make(map[string]*domain.QueryRecord, len(records))
		for _, rec := range records {
			byID[rec.ID] = rec
		}

		updated = make([]domain.QueryPointer, len(pointers))
		copy(updated, pointers)
		for i := range updated {
			rec, ok := byID[updated[i].QueryID]
			if !ok || rec.Status == updated[i].Status {
				continue
			}
			updated[i].Status = rec.Status
			changed = true
		}
	}

	if !changed {
		return p.status(updated, owner), nil
	}

	switch domain.OverallStatus(updated) {
	case domain.QueryStatusFailed:
		// Results callback is never invoked on failure.
		if err := owner.SaveQueries(ctx, updated, queriesFailedMessage); err != nil {
			return nil, fmt.Errorf("persist failed queries: %w", err)
		}

	case domain.QueryStatusSucceeded:
		if err := p.finish(ctx, owner, updated); err != nil {
			return nil, err
		}

	default:
		// Still running, but some pointer statuses moved: sync them.
		if err := owner.SaveQueries(ctx, updated, owner.StoredError()); err != nil {
			return nil, fmt.Errorf("persist query statuses: %w", err)
		}
	}

	return p.status(updated, owner), nil
}

// finish fetches the full records, invokes the success callback, and
// downgrades any aggregation failure to a stored error instead of letting it
// escape the poll.
func (p *Poller) finish(ctx context.Context, owner Owner, pointers []domain.QueryPointer) error {
	ids := make([]string, len(pointers))
	for i, ptr := range pointers {
		ids[i] = ptr.QueryID
	}

	records, err := p.queries.FindByIDs(ctx, owner.OwnerOrganization(), ids)
	if err != nil {
		return fmt.Errorf("fetch completed queries: %w", err)
	}

	qm := make(QueryMap, len(records))
	byID := make(map[string]*domain.QueryRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}
	for _, ptr := range pointers {
		if rec, ok := byID[ptr.QueryID]; ok {
			qm[ptr.Name] = rec
		}
	}

	if err := saveSuccessGuarded(ctx, owner, pointers, qm); err != nil {
		p.logger.Warn("results processing failed",
			"kind", owner.OwnerKind(),
			"owner", owner.OwnerID(),
			"error", err,
		)
		if saveErr := owner.SaveQueries(ctx, pointers, err.Error()); saveErr != nil {
			return fmt.Errorf("persist processing error: %w", saveErr)
		}
	}
	return nil
}

func saveSuccessGuarded(ctx context.Context, owner Owner, pointers []domain.QueryPointer, qm QueryMap) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("results processing panicked: %v", r)
		}
	}()
	return owner.SaveSuccess(ctx, pointers, qm)
}

func (p *Poller) status(pointers []domain.QueryPointer, owner Owner) *Status {
	st := &Status{
		QueryStatus: domain.OverallStatus(pointers),
		Total:       len(pointers),
	}
	if owner.StoredError() != "" {
		st.QueryStatus = domain.QueryStatusFailed
	}
	for _, ptr := range pointers {
		if ptr.Status == domain.QueryStatusSucceeded {
			st.Finished++
		}
	}
	if started := owner.RunStarted(); started != nil {
		st.Elapsed = time.Since(*started)
	}
	return st
}

// Cancel detaches a running owner from its in-flight queries. The warehouse
// call itself is not interrupted; the ledger rows are deleted so they no
// longer affect future polls. A no-op when nothing is running.
func (p *Poller) Cancel(ctx context.Context, owner Owner, org string) error {
	if owner.OwnerOrganization() != org {
		return domain.ErrAccessDenied("organization mismatch")
	}

	mu := p.ownerLock(owner)
	mu.Lock()
	defer mu.Unlock()

	running := false
	for _, ptr := range owner.QueryPointers() {
		if !ptr.Status.Terminal() {
			running = true
			break
		}
	}
	if !running {
		return nil
	}

	return owner.DeleteQueries(ctx)
}
