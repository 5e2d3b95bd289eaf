package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyqa/internal/domain"
)

func entry(doc, chunkID string, idx int, vec []float64) domain.IndexEntry {
	return domain.IndexEntry{
		Chunk:  domain.Chunk{DocumentID: doc, ChunkID: chunkID, Index: idx, Text: chunkID},
		Vector: vec,
	}
}

func TestSearchScopedToDocument(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Upsert(ctx, []domain.IndexEntry{
		entry("docA", "docA:0", 0, []float64{1, 0}),
		entry("docB", "docB:0", 0, []float64{1, 0}),
	}))

	results, err := s.Search(ctx, "docA", []float64{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "docA", results[0].Chunk.DocumentID)
}

func TestSearchRankingAndTieBreak(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Upsert(ctx, []domain.IndexEntry{
		entry("d", "d:2", 2, []float64{1, 0}), // ties with d:0
		entry("d", "d:1", 1, []float64{0, 1}), // orthogonal, score 0
		entry("d", "d:0", 0, []float64{1, 0}),
	}))

	results, err := s.Search(ctx, "d", []float64{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "d:0", results[0].Chunk.ChunkID, "equal scores break ties by ascending index")
	assert.Equal(t, "d:2", results[1].Chunk.ChunkID)
	assert.Equal(t, "d:1", results[2].Chunk.ChunkID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.InDelta(t, 0.0, results[2].Score, 1e-9)
}

func TestSearchTopKLimit(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Upsert(ctx, []domain.IndexEntry{
		entry("d", "d:0", 0, []float64{1, 0}),
		entry("d", "d:1", 1, []float64{0.9, 0.1}),
		entry("d", "d:2", 2, []float64{0.5, 0.5}),
	}))

	results, err := s.Search(ctx, "d", []float64{1, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestUpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Init(ctx, 2))

	e := entry("d", "d:0", 0, []float64{1, 0})
	require.NoError(t, s.Upsert(ctx, []domain.IndexEntry{e}))
	require.NoError(t, s.Upsert(ctx, []domain.IndexEntry{e}))

	n, err := s.Count(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsertDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Init(ctx, 3))
	err := s.Upsert(ctx, []domain.IndexEntry{entry("d", "d:0", 0, []float64{1, 0})})
	assert.Error(t, err)
}

func TestReinitWithNewDimensionDropsEntries(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Upsert(ctx, []domain.IndexEntry{entry("d", "d:0", 0, []float64{1, 0})}))

	require.NoError(t, s.Init(ctx, 4))
	n, err := s.Count(ctx, "d")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCountAndClear(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Init(ctx, 1))
	require.NoError(t, s.Upsert(ctx, []domain.IndexEntry{
		entry("d", "d:0", 0, []float64{1}),
		entry("d", "d:1", 1, []float64{1}),
	}))

	n, err := s.Count(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Count(ctx, "unknown")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.Clear(ctx))
	n, err = s.Count(ctx, "d")
	require.NoError(t, err)
	assert.Zero(t, n)
}
