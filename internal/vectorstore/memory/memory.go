package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"policyqa/internal/domain"
)

var _ domain.VectorStore = (*Store)(nil)

// Store is the local fallback index: brute-force cosine similarity over
// in-process vectors, partitioned by document. Entries are keyed by chunk ID,
// so re-upserting the same chunk replaces it instead of duplicating it.
type Store struct {
	mu        sync.RWMutex
	dimension int
	docs      map[string]map[string]domain.IndexEntry
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{docs: make(map[string]map[string]domain.IndexEntry)}
}

// Name returns the backend identifier.
func (s *Store) Name() string { return "memory" }

// Init sets the expected vector dimension. Re-initializing with a different
// dimension drops existing entries.
func (s *Store) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension != 0 && s.dimension != dimension {
		s.docs = make(map[string]map[string]domain.IndexEntry)
	}
	s.dimension = dimension
	return nil
}

// Upsert stores the entries, replacing any with the same chunk ID.
func (s *Store) Upsert(_ context.Context, entries []domain.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if len(e.Vector) != s.dimension {
			return errors.New("vector dimension mismatch")
		}
	}
	for _, e := range entries {
		doc := s.docs[e.Chunk.DocumentID]
		if doc == nil {
			doc = make(map[string]domain.IndexEntry)
			s.docs[e.Chunk.DocumentID] = doc
		}
		doc[e.Chunk.ChunkID] = e
	}
	return nil
}

// Search returns the topK entries of one document ranked by descending dot
// product (vectors are L2-normalized by the embedder), ties broken by
// ascending chunk index so results are deterministic.
func (s *Store) Search(_ context.Context, documentID string, vector []float64, topK int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topK <= 0 {
		topK = 5
	}
	doc := s.docs[documentID]
	results := make([]domain.SearchResult, 0, len(doc))
	for _, e := range doc {
		results = append(results, domain.SearchResult{Chunk: e.Chunk, Score: dot(e.Vector, vector)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.Index < results[j].Chunk.Index
	})
	if topK > len(results) {
		topK = len(results)
	}
	return results[:topK], nil
}

// Count reports how many entries are stored for the document.
func (s *Store) Count(_ context.Context, documentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs[documentID]), nil
}

// Clear drops all entries.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[string]map[string]domain.IndexEntry)
	return nil
}

func dot(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
