package retriever

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyqa/internal/domain"
	"policyqa/internal/vectorstore/memory"
)

// fixedEmbedder maps known texts to fixed unit vectors.
type fixedEmbedder struct {
	vectors map[string][]float64
}

func (e *fixedEmbedder) Name() string   { return "fixed" }
func (e *fixedEmbedder) Dimension() int { return 2 }

func (e *fixedEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float64{0, 1}, nil
}

func (e *fixedEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.NewStore()
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Upsert(ctx, []domain.IndexEntry{
		{Chunk: domain.Chunk{DocumentID: "d", ChunkID: "d:0", Index: 0, Text: "grace period clause"}, Vector: []float64{1, 0}},
		{Chunk: domain.Chunk{DocumentID: "d", ChunkID: "d:1", Index: 1, Text: "unrelated clause"}, Vector: []float64{0, 1}},
	}))
	return s
}

func TestRetrieveRanksBySimilarity(t *testing.T) {
	emb := &fixedEmbedder{vectors: map[string][]float64{"grace period?": {1, 0}}}
	r := New(emb, seedStore(t), 5, 0)

	results, err := r.Retrieve(context.Background(), "d", "grace period?", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "d:0", results[0].Chunk.ChunkID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestRetrieveNotIndexed(t *testing.T) {
	emb := &fixedEmbedder{}
	r := New(emb, seedStore(t), 5, 0)

	_, err := r.Retrieve(context.Background(), "never-ingested", "anything", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotIndexed)
}

func TestRetrieveEmptyAfterThresholdIsNotAnError(t *testing.T) {
	// The question embeds orthogonal to d:0 and parallel to d:1; a threshold
	// above both scores filters everything out.
	emb := &fixedEmbedder{vectors: map[string][]float64{"q": {0.6, 0.8}}}
	r := New(emb, seedStore(t), 5, 0.99)

	results, err := r.Retrieve(context.Background(), "d", "q", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveDefaultK(t *testing.T) {
	emb := &fixedEmbedder{vectors: map[string][]float64{"q": {1, 0}}}
	r := New(emb, seedStore(t), 1, 0)

	results, err := r.Retrieve(context.Background(), "d", "q", 0)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestRetrieveMinScoreFilters(t *testing.T) {
	emb := &fixedEmbedder{vectors: map[string][]float64{"q": {1, 0}}}
	r := New(emb, seedStore(t), 5, 0.5)

	results, err := r.Retrieve(context.Background(), "d", "q", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d:0", results[0].Chunk.ChunkID)
}
