package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyqa/internal/domain"
)

func newTestClient(t *testing.T, baseURL string, batchSize, maxRetries int) *Client {
	t.Helper()
	t.Setenv("TEST_EMBED_KEY", "test-key")
	c, err := NewClient(Config{
		BaseURL:    baseURL,
		APIKeyEnv:  "TEST_EMBED_KEY",
		BatchSize:  batchSize,
		MaxRetries: maxRetries,
	})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("TEST_EMBED_KEY", "")
	_, err := NewClient(Config{APIKeyEnv: "TEST_EMBED_KEY"})
	assert.Error(t, err)
}

func TestEmbedManyOrdersByResponseIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		// Respond in reverse order; the client must reorder by index.
		fmt.Fprintf(w, `{"data":[{"index":1,"embedding":[0,2]},{"index":0,"embedding":[3,0]}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 8, 1)
	vecs, err := c.EmbedMany(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.InDelta(t, 1.0, vecs[0][0], 1e-9, "first input gets index-0 vector, normalized")
	assert.InDelta(t, 1.0, vecs[1][1], 1e-9)
	assert.Equal(t, 2, c.Dimension())
}

func TestEmbedManyBatches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := struct {
			Data []map[string]any `json:"data"`
		}{}
		for i := range req.Input {
			resp.Data = append(resp.Data, map[string]any{"index": i, "embedding": []float64{1, 0}})
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2, 1)
	vecs, err := c.EmbedMany(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Len(t, vecs, 5)
	assert.Equal(t, int32(3), calls.Load(), "5 texts at batch size 2 means 3 requests")
}

func TestEmbedNormalizesVectors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[3,4]}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 8, 1)
	vec, err := c.Embed(context.Background(), "text")
	require.NoError(t, err)
	var norm float64
	for _, x := range vec {
		norm += x * x
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)
}

func TestConcurrentFirstEmbeddingsAgreeOnDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[1,0,0]}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 8, 1)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Embed(context.Background(), "text")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, c.Dimension())
}

func TestEmbedRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[1,0]}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 8, 2)
	_, err := c.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbedExhaustedRetriesWrapsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 8, 1)
	_, err := c.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestEmbedCountMismatchFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[1,0]}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 8, 1)
	_, err := c.EmbedMany(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 vectors for 2 inputs")
}
