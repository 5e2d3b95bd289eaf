package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FetchConfig configures document download and extraction.
type FetchConfig struct {
	TimeoutSecs int   `yaml:"timeout_secs"`
	MaxBytes    int64 `yaml:"max_bytes"`
}

// ChunkerConfig configures how document text is split into chunks.
type ChunkerConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	Overlap   int `yaml:"overlap"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL        string  `yaml:"base_url"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	Model          string  `yaml:"model"`
	TimeoutSecs    int     `yaml:"timeout_secs"`
	BatchSize      int     `yaml:"batch_size"`
	MaxRetries     int     `yaml:"max_retries"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type   string                `yaml:"type"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// QdrantConfig contains connection details for the primary vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// VectorStoreConfig configures the primary vector store. The in-memory
// fallback needs no configuration and is always available.
type VectorStoreConfig struct {
	Type   string        `yaml:"type"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// ReasonerConfig configures the chat-completions reasoning backend.
type ReasonerConfig struct {
	BaseURL         string  `yaml:"base_url"`
	APIKeyEnv       string  `yaml:"api_key_env"`
	Model           string  `yaml:"model"`
	TimeoutSecs     int     `yaml:"timeout_secs"`
	MaxTokens       int     `yaml:"max_tokens"`
	Temperature     float64 `yaml:"temperature"`
	MaxRetries      int     `yaml:"max_retries"`
	MaxContextChars int     `yaml:"max_context_chars"`
}

// PipelineConfig holds the orchestrator tunables.
type PipelineConfig struct {
	TopK             int     `yaml:"top_k"`
	MinScore         float64 `yaml:"min_score"`
	MaxConcurrent    int     `yaml:"max_concurrent"`
	DeadlineSecs     int     `yaml:"deadline_secs"`
	SummarySentences int     `yaml:"summary_sentences"`
}

// RegistryConfig configures the SQLite document registry.
type RegistryConfig struct {
	Path string `yaml:"path"`
}

// AppConfig is the root application configuration structure. It is built
// once at startup and threaded through construction; nothing reads ambient
// process state mid-operation.
type AppConfig struct {
	Fetch       FetchConfig       `yaml:"fetch"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Reasoner    ReasonerConfig    `yaml:"reasoner"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Registry    RegistryConfig    `yaml:"registry"`
}

// Load reads a config from a specified path. If the file does not exist,
// returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/policyqa/config.yaml.
// If neither exists, it writes defaults to the user path and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "policyqa", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Embedder:    EmbedderConfig{Type: "tfidf"},
		VectorStore: VectorStoreConfig{Type: "memory"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Fetch.TimeoutSecs == 0 {
		cfg.Fetch.TimeoutSecs = 30
	}
	if cfg.Fetch.MaxBytes == 0 {
		cfg.Fetch.MaxBytes = 32 << 20
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 2000
	}
	if cfg.Chunker.Overlap == 0 {
		cfg.Chunker.Overlap = 200
	}
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI != nil {
		o := cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.BatchSize == 0 {
			o.BatchSize = 32
		}
		if o.MaxRetries == 0 {
			o.MaxRetries = 3
		}
	}
	if cfg.VectorStore.Type == "qdrant" && cfg.VectorStore.Qdrant != nil {
		q := cfg.VectorStore.Qdrant
		if q.APIKeyEnv == "" {
			q.APIKeyEnv = "QDRANT_API_KEY"
		}
		if q.Collection == "" {
			q.Collection = "insurance_policies"
		}
		if q.TimeoutSecs == 0 {
			q.TimeoutSecs = 15
		}
	}
	if cfg.Reasoner.BaseURL == "" {
		cfg.Reasoner.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Reasoner.APIKeyEnv == "" {
		cfg.Reasoner.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Reasoner.Model == "" {
		cfg.Reasoner.Model = "gpt-4o-mini"
	}
	if cfg.Reasoner.TimeoutSecs == 0 {
		cfg.Reasoner.TimeoutSecs = 60
	}
	if cfg.Reasoner.MaxTokens == 0 {
		cfg.Reasoner.MaxTokens = 200
	}
	if cfg.Reasoner.MaxRetries == 0 {
		cfg.Reasoner.MaxRetries = 2
	}
	if cfg.Reasoner.MaxContextChars == 0 {
		cfg.Reasoner.MaxContextChars = 12000
	}
	if cfg.Pipeline.TopK == 0 {
		cfg.Pipeline.TopK = 5
	}
	if cfg.Pipeline.MaxConcurrent == 0 {
		cfg.Pipeline.MaxConcurrent = 4
	}
	if cfg.Pipeline.DeadlineSecs == 0 {
		cfg.Pipeline.DeadlineSecs = 120
	}
	if cfg.Pipeline.SummarySentences == 0 {
		cfg.Pipeline.SummarySentences = 5
	}
	if cfg.Registry.Path == "" {
		cfg.Registry.Path = "policyqa.db"
	}
}
