// Package vectorstore provides the failover policy over the primary and
// fallback vector store backends.
package vectorstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"policyqa/internal/domain"
)

var _ domain.VectorStore = (*Failover)(nil)

// Failover routes store operations to the primary backend, degrading to the
// local fallback when the primary is unreachable. Once a document lands in a
// backend it stays with that backend for the lifetime of the session, so the
// top-K results for one document never mix indices. Every degradation is
// logged; Degraded reports whether one has happened.
type Failover struct {
	primary  domain.VectorStore
	fallback domain.VectorStore
	log      *slog.Logger

	mu       sync.RWMutex
	assigned map[string]string
	degraded bool
}

// NewFailover creates the failover policy. primary may be nil, in which case
// everything runs on the fallback without counting as degraded.
func NewFailover(primary, fallback domain.VectorStore, log *slog.Logger) *Failover {
	if log == nil {
		log = slog.Default()
	}
	return &Failover{
		primary:  primary,
		fallback: fallback,
		log:      log,
		assigned: make(map[string]string),
	}
}

// Name returns the backend identifier.
func (f *Failover) Name() string { return "failover" }

// Degraded reports whether the primary backend has been unreachable at any
// point in this session.
func (f *Failover) Degraded() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.degraded
}

// Backend reports which backend holds the given document, or "" if the
// document has not been seen this session.
func (f *Failover) Backend(documentID string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.assigned[documentID]
}

// Assign pins a document to a backend by name. The orchestrator uses this to
// restore stickiness for documents the registry already knows about.
func (f *Failover) Assign(documentID, backend string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assigned[documentID] = backend
}

// Unassign forgets a document's backend pin, so its next ingestion picks a
// backend fresh, primary first. Used when a recorded backend turns out to
// hold no entries for the document.
func (f *Failover) Unassign(documentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.assigned, documentID)
}

// HasPrimary reports whether a primary backend is configured at all.
func (f *Failover) HasPrimary() bool { return f.primary != nil }

// PrimaryReachable probes the primary backend. Used by the health surface.
func (f *Failover) PrimaryReachable(ctx context.Context) bool {
	if f.primary == nil {
		return false
	}
	_, err := f.primary.Count(ctx, "health-probe")
	return !errors.Is(err, domain.ErrIndexUnavailable)
}

// Init initializes both backends. A primary that is down at init time is a
// degradation, not a failure.
func (f *Failover) Init(ctx context.Context, dimension int) error {
	if err := f.fallback.Init(ctx, dimension); err != nil {
		return err
	}
	if f.primary == nil {
		return nil
	}
	if err := f.primary.Init(ctx, dimension); err != nil {
		if errors.Is(err, domain.ErrIndexUnavailable) {
			f.markDegraded("init", err)
			return nil
		}
		return err
	}
	return nil
}

// Upsert writes the entries to each owning document's backend, choosing and
// recording a backend for documents seen for the first time.
func (f *Failover) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	for documentID, group := range groupByDocument(entries) {
		store := f.storeFor(documentID)
		err := store.Upsert(ctx, group)
		if err != nil && store == f.primary && errors.Is(err, domain.ErrIndexUnavailable) {
			f.markDegraded("upsert", err)
			store = f.fallback
			err = store.Upsert(ctx, group)
		}
		if err != nil {
			return err
		}
		f.Assign(documentID, store.Name())
	}
	return nil
}

// Search queries the backend holding the document.
func (f *Failover) Search(ctx context.Context, documentID string, vector []float64, topK int) ([]domain.SearchResult, error) {
	store := f.storeFor(documentID)
	results, err := store.Search(ctx, documentID, vector, topK)
	if err != nil && store == f.primary && errors.Is(err, domain.ErrIndexUnavailable) {
		f.markDegraded("search", err)
		return f.fallback.Search(ctx, documentID, vector, topK)
	}
	return results, err
}

// Count reports the entry count for the document in its backend.
func (f *Failover) Count(ctx context.Context, documentID string) (int, error) {
	store := f.storeFor(documentID)
	n, err := store.Count(ctx, documentID)
	if err != nil && store == f.primary && errors.Is(err, domain.ErrIndexUnavailable) {
		f.markDegraded("count", err)
		return f.fallback.Count(ctx, documentID)
	}
	return n, err
}

// Clear drops both backends and forgets all assignments.
func (f *Failover) Clear(ctx context.Context) error {
	f.mu.Lock()
	f.assigned = make(map[string]string)
	f.mu.Unlock()
	if err := f.fallback.Clear(ctx); err != nil {
		return err
	}
	if f.primary != nil {
		if err := f.primary.Clear(ctx); err != nil && !errors.Is(err, domain.ErrIndexUnavailable) {
			return err
		}
	}
	return nil
}

// storeFor resolves the backend a document belongs to: its recorded
// assignment if any, otherwise the primary unless the session is degraded.
func (f *Failover) storeFor(documentID string) domain.VectorStore {
	f.mu.RLock()
	defer f.mu.RUnlock()
	switch f.assigned[documentID] {
	case "":
		if f.primary != nil && !f.degraded {
			return f.primary
		}
		return f.fallback
	case f.fallback.Name():
		return f.fallback
	default:
		if f.primary != nil {
			return f.primary
		}
		return f.fallback
	}
}

func (f *Failover) markDegraded(op string, err error) {
	f.mu.Lock()
	already := f.degraded
	f.degraded = true
	f.mu.Unlock()
	if !already {
		f.log.Warn("primary vector store unreachable, degrading to fallback",
			"op", op, "fallback", f.fallback.Name(), "error", err)
	}
}

func groupByDocument(entries []domain.IndexEntry) map[string][]domain.IndexEntry {
	groups := make(map[string][]domain.IndexEntry)
	for _, e := range entries {
		groups[e.Chunk.DocumentID] = append(groups[e.Chunk.DocumentID], e)
	}
	return groups
}
