package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "tfidf", cfg.Embedder.Type)
	assert.Equal(t, "memory", cfg.VectorStore.Type)
	assert.Equal(t, 2000, cfg.Chunker.ChunkSize)
	assert.Equal(t, 200, cfg.Chunker.Overlap)
	assert.Equal(t, 5, cfg.Pipeline.TopK)
	assert.Equal(t, 120, cfg.Pipeline.DeadlineSecs)
	assert.Equal(t, "policyqa.db", cfg.Registry.Path)
}

func TestLoadAppliesDefaultsToPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chunker:
  chunk_size: 1500
embedder:
  type: openai
  openai:
    model: custom-embed
vector_store:
  type: qdrant
  qdrant:
    url: http://localhost:6333
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1500, cfg.Chunker.ChunkSize)
	assert.Equal(t, 200, cfg.Chunker.Overlap)
	assert.Equal(t, "custom-embed", cfg.Embedder.OpenAI.Model)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Equal(t, 32, cfg.Embedder.OpenAI.BatchSize)
	assert.Equal(t, "insurance_policies", cfg.VectorStore.Qdrant.Collection)
	assert.Equal(t, "gpt-4o-mini", cfg.Reasoner.Model)
	assert.Equal(t, 12000, cfg.Reasoner.MaxContextChars)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunker: [not a map"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	original, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	original.Pipeline.TopK = 9

	require.NoError(t, Save(path, original))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Pipeline.TopK)
	assert.Equal(t, original.Chunker, loaded.Chunker)
}
