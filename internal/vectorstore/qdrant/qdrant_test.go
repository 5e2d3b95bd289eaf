package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyqa/internal/domain"
)

func TestInitCreatesCollection(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"result":true}`)
	}))
	defer srv.Close()

	s := NewStore(Config{URL: srv.URL, Collection: "policies"})
	require.NoError(t, s.Init(context.Background(), 128))
	assert.Equal(t, "PUT /collections/policies", gotPath)
	vectors := gotBody["vectors"].(map[string]any)
	assert.Equal(t, float64(128), vectors["size"])
	assert.Equal(t, "Cosine", vectors["distance"])
}

func TestUpsertUsesDeterministicIDs(t *testing.T) {
	ids := map[string]bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Points []struct {
				ID      string         `json:"id"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		for _, p := range body.Points {
			ids[p.ID] = true
			assert.Equal(t, "doc-1", p.Payload["document_id"])
		}
		fmt.Fprint(w, `{"result":{"status":"completed"}}`)
	}))
	defer srv.Close()

	s := NewStore(Config{URL: srv.URL})
	entries := []domain.IndexEntry{
		{Chunk: domain.Chunk{DocumentID: "doc-1", ChunkID: "doc-1:0", Index: 0, Text: "clause"}, Vector: []float64{1, 0}},
	}
	require.NoError(t, s.Upsert(context.Background(), entries))
	require.NoError(t, s.Upsert(context.Background(), entries))
	assert.Len(t, ids, 1, "re-upserting the same chunk must reuse the point ID")
}

func TestSearchFiltersAndParsesPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/insurance_policies/points/search", r.URL.Path)
		var body struct {
			Filter struct {
				Must []struct {
					Key   string `json:"key"`
					Match struct {
						Value string `json:"value"`
					} `json:"match"`
				} `json:"must"`
			} `json:"filter"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Filter.Must, 1)
		assert.Equal(t, "document_id", body.Filter.Must[0].Key)
		assert.Equal(t, "doc-1", body.Filter.Must[0].Match.Value)

		fmt.Fprint(w, `{"result":[
			{"score":0.9,"payload":{"document_id":"doc-1","chunk_id":"doc-1:2","index":2,"text":"b","start":10,"end":20}},
			{"score":0.9,"payload":{"document_id":"doc-1","chunk_id":"doc-1:0","index":0,"text":"a","start":0,"end":10}}
		]}`)
	}))
	defer srv.Close()

	s := NewStore(Config{URL: srv.URL})
	results, err := s.Search(context.Background(), "doc-1", []float64{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "doc-1:0", results[0].Chunk.ChunkID, "equal scores break ties by ascending index")
	assert.Equal(t, 0, results[0].Chunk.Start)
	assert.Equal(t, 10, results[0].Chunk.End)
}

func TestCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/insurance_policies/points/count", r.URL.Path)
		fmt.Fprint(w, `{"result":{"count":7}}`)
	}))
	defer srv.Close()

	s := NewStore(Config{URL: srv.URL})
	n, err := s.Count(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestServerErrorMapsToIndexUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewStore(Config{URL: srv.URL})
	_, err := s.Count(context.Background(), "doc-1")
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
}

func TestUnreachableHostMapsToIndexUnavailable(t *testing.T) {
	s := NewStore(Config{URL: "http://127.0.0.1:1"})
	err := s.Init(context.Background(), 8)
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
}

func TestClientErrorIsPlainError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewStore(Config{URL: srv.URL})
	err := s.Init(context.Background(), 8)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrIndexUnavailable)
}
