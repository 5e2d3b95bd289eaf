package reasoner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyqa/internal/domain"
)

func newTestClient(t *testing.T, baseURL string, maxRetries, maxContextChars int) *Client {
	t.Helper()
	t.Setenv("TEST_REASONER_KEY", "test-key")
	c, err := NewClient(Config{
		BaseURL:         baseURL,
		APIKeyEnv:       "TEST_REASONER_KEY",
		MaxRetries:      maxRetries,
		MaxContextChars: maxContextChars,
	})
	require.NoError(t, err)
	return c
}

func result(text string, score float64) domain.SearchResult {
	return domain.SearchResult{Chunk: domain.Chunk{Text: text}, Score: score}
}

func TestAnswerSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"choices":[{"message":{"content":"Yes, the policy covers cataract surgery after a waiting period of 24 months."}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 1, 0)
	ans, err := c.Answer(context.Background(), "Is cataract surgery covered?", []domain.SearchResult{
		result("Cataract surgery is covered after 24 months.", 0.9),
	})
	require.NoError(t, err)
	assert.Equal(t, "Is cataract surgery covered?", ans.Question)
	assert.Contains(t, ans.Text, "24 months")
	assert.Len(t, ans.Citations, 1)
	assert.Greater(t, ans.Confidence, 0.7)
}

func TestAnswerRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2, 0)
	_, err := c.Answer(context.Background(), "q", []domain.SearchResult{result("clause", 0.5)})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrReasoningUnavailable)
	assert.Equal(t, int32(3), calls.Load(), "initial attempt plus two retries")
}

func TestAnswerRecoversAfterRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"No."}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2, 0)
	ans, err := c.Answer(context.Background(), "q", []domain.SearchResult{result("clause", 0.5)})
	require.NoError(t, err)
	assert.Equal(t, "No.", ans.Text)
}

func TestAnswerClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad request"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3, 0)
	_, err := c.Answer(context.Background(), "q", []domain.SearchResult{result("clause", 0.5)})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrReasoningUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFitContextDropsWholeClauses(t *testing.T) {
	c := newTestClient(t, "http://unused", 1, 100)
	results := []domain.SearchResult{
		result(strings.Repeat("a", 60), 0.9),
		result(strings.Repeat("b", 30), 0.8),
		result(strings.Repeat("c", 30), 0.7), // would exceed 100
	}
	used := c.fitContext(results)
	require.Len(t, used, 2)
	assert.Equal(t, 0.9, used[0].Score)
	assert.Equal(t, 0.8, used[1].Score)
}

func TestFitContextKeepsSingleOversizedClause(t *testing.T) {
	c := newTestClient(t, "http://unused", 1, 50)
	results := []domain.SearchResult{result(strings.Repeat("a", 200), 0.9)}
	used := c.fitContext(results)
	require.Len(t, used, 1)
	assert.Len(t, used[0].Chunk.Text, 200)
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("What is the grace period?", []domain.SearchResult{
		result("A grace\n period of thirty days   applies.", 0.9),
		result("Premium is payable annually.", 0.5),
	})
	assert.Contains(t, prompt, "Clause 1: A grace period of thirty days applies.")
	assert.Contains(t, prompt, "Clause 2: Premium is payable annually.")
	assert.Contains(t, prompt, "QUESTION: What is the grace period?")
}

func TestAssessConfidence(t *testing.T) {
	definitive := assessConfidence("Yes, the policy covers this under clause 4.")
	hedged := assessConfidence("It is unclear whether this treatment qualifies.")
	neutral := assessConfidence("The waiting period is 24 months.")

	assert.Greater(t, definitive, neutral)
	assert.Less(t, hedged, neutral)
	assert.LessOrEqual(t, definitive, 0.95)
	assert.GreaterOrEqual(t, hedged, 0.1)
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 1, 0)
	assert.NoError(t, c.Ping(context.Background()))

	srv.Close()
	assert.ErrorIs(t, c.Ping(context.Background()), domain.ErrReasoningUnavailable)
}
