package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"policyqa/internal/domain"
)

var _ domain.VectorStore = (*Store)(nil)

// pointNamespace seeds the deterministic point IDs. The same
// (document_id, chunk_id) always maps to the same point, which makes
// repeated upserts of an already-indexed document overwrite in place.
var pointNamespace = uuid.MustParse("0aa3a5cc-7c3f-4e66-9a52-31a7c1c2a9de")

// Store is a minimal REST client to Qdrant, the primary vector backend.
// It assumes cosine distance and creates the collection if missing.
type Store struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
}

// Config contains connection details. APIKeyEnv names the environment
// variable holding the key; an empty value means no auth header.
type Config struct {
	URL        string
	APIKeyEnv  string
	Collection string
	Timeout    time.Duration
}

// NewStore creates a Qdrant client from the given configuration.
func NewStore(cfg Config) *Store {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "insurance_policies"
	}
	return &Store{
		url:        cfg.URL,
		apiKey:     os.Getenv(cfg.APIKeyEnv),
		collection: collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// Name returns the backend identifier.
func (s *Store) Name() string { return "qdrant" }

// Init creates the collection if it does not exist yet.
func (s *Store) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.dimension = dimension
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	// Qdrant returns 200 if the collection already exists with this schema.
	return s.do(ctx, http.MethodPut, fmt.Sprintf("%s/collections/%s", s.url, s.collection), body, nil)
}

// Upsert writes the entries under deterministic point IDs.
func (s *Store) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	points := make([]map[string]any, len(entries))
	for i, e := range entries {
		points[i] = map[string]any{
			"id":     uuid.NewSHA1(pointNamespace, []byte(e.Chunk.ChunkID)).String(),
			"vector": e.Vector,
			"payload": map[string]any{
				"document_id": e.Chunk.DocumentID,
				"chunk_id":    e.Chunk.ChunkID,
				"index":       e.Chunk.Index,
				"text":        e.Chunk.Text,
				"start":       e.Chunk.Start,
				"end":         e.Chunk.End,
			},
		}
	}
	body := map[string]any{"points": points}
	return s.do(ctx, http.MethodPut, fmt.Sprintf("%s/collections/%s/points?wait=true", s.url, s.collection), body, nil)
}

// Search runs a similarity query filtered to one document.
func (s *Store) Search(ctx context.Context, documentID string, vector []float64, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"filter":       documentFilter(documentID),
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, fmt.Sprintf("%s/collections/%s/points/search", s.url, s.collection), req, &resp); err != nil {
		return nil, err
	}
	results := make([]domain.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, domain.SearchResult{Chunk: chunkFromPayload(r.Payload), Score: r.Score})
	}
	// Qdrant orders by score only; equal scores need the index tie-break.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.Index < results[j].Chunk.Index
	})
	return results, nil
}

// Count reports how many points are stored for the document.
func (s *Store) Count(ctx context.Context, documentID string) (int, error) {
	req := map[string]any{
		"filter": documentFilter(documentID),
		"exact":  true,
	}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, fmt.Sprintf("%s/collections/%s/points/count", s.url, s.collection), req, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// Clear drops the collection. Best-effort.
func (s *Store) Clear(ctx context.Context) error {
	return s.do(ctx, http.MethodDelete, fmt.Sprintf("%s/collections/%s", s.url, s.collection), nil, nil)
}

func documentFilter(documentID string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": "document_id", "match": map[string]any{"value": documentID}},
		},
	}
}

func chunkFromPayload(payload map[string]any) domain.Chunk {
	chunk := domain.Chunk{}
	if v, ok := payload["document_id"].(string); ok {
		chunk.DocumentID = v
	}
	if v, ok := payload["chunk_id"].(string); ok {
		chunk.ChunkID = v
	}
	if v, ok := payload["index"].(float64); ok {
		chunk.Index = int(v)
	}
	if v, ok := payload["text"].(string); ok {
		chunk.Text = v
	}
	if v, ok := payload["start"].(float64); ok {
		chunk.Start = int(v)
	}
	if v, ok := payload["end"].(float64); ok {
		chunk.End = int(v)
	}
	return chunk
}

func (s *Store) do(ctx context.Context, method, url string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: qdrant %s %s: %s", domain.ErrIndexUnavailable, method, url, resp.Status)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant %s %s failed: %s", method, url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
