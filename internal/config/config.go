// Package config loads the engine configuration. The canonical format is
// JSON5 (comments and trailing commas allowed); YAML is accepted when the
// file extension says so. A missing file yields defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// SourceConfig enables and locates one content source.
type SourceConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Path    string   `json:"path,omitempty" yaml:"path,omitempty"`
	Paths   []string `json:"paths,omitempty" yaml:"paths,omitempty"`
}

// SourcesConfig holds the per-source configuration.
type SourcesConfig struct {
	Notes     SourceConfig `json:"notes" yaml:"notes"`
	Sessions  SourceConfig `json:"sessions" yaml:"sessions"`
	Assistant SourceConfig `json:"assistant" yaml:"assistant"`
	Workspace SourceConfig `json:"workspace" yaml:"workspace"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider        string `json:"provider" yaml:"provider"` // "openai", "ollama", ""
	Model           string `json:"model" yaml:"model"`
	BaseURL         string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	APIKeyEnv       string `json:"apiKeyEnv,omitempty" yaml:"apiKeyEnv,omitempty"`
	Dimensions      int    `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	BatchSize       int    `json:"batchSize" yaml:"batchSize"`
	MaxConcurrent   int    `json:"maxConcurrent" yaml:"maxConcurrent"`
	RequestsPerSec  int    `json:"requestsPerSec" yaml:"requestsPerSec"`
	TimeoutSecs     int    `json:"timeoutSecs" yaml:"timeoutSecs"`
	AsyncBatches    bool   `json:"asyncBatches" yaml:"asyncBatches"` // job-based batch API, off by default
	CacheSize       int    `json:"cacheSize" yaml:"cacheSize"`       // in-process LRU entries
}

// SearchConfig tunes the hybrid merge.
type SearchConfig struct {
	VectorWeight  float64 `json:"vectorWeight" yaml:"vectorWeight"`
	TextWeight    float64 `json:"textWeight" yaml:"textWeight"`
	MinScore      float64 `json:"minScore" yaml:"minScore"`
	MaxResults    int     `json:"maxResults" yaml:"maxResults"`
	SnippetMaxLen int     `json:"snippetMaxLen" yaml:"snippetMaxLen"`
}

// ChunkConfig tunes the chunker.
type ChunkConfig struct {
	TokenBudget int `json:"tokenBudget" yaml:"tokenBudget"`
}

// SyncConfig tunes the sync controller.
type SyncConfig struct {
	Concurrency int  `json:"concurrency" yaml:"concurrency"`
	Watch       bool `json:"watch" yaml:"watch"`
	DebounceMS  int  `json:"debounceMs" yaml:"debounceMs"`
}

// Config is the root configuration.
type Config struct {
	DataDir       string          `json:"dataDir" yaml:"dataDir"`
	SessionsFile  string          `json:"sessionsFile,omitempty" yaml:"sessionsFile,omitempty"`
	Sources       SourcesConfig   `json:"sources" yaml:"sources"`
	Embedding     EmbeddingConfig `json:"embedding" yaml:"embedding"`
	Search        SearchConfig    `json:"search" yaml:"search"`
	Chunk         ChunkConfig     `json:"chunk" yaml:"chunk"`
	Sync          SyncConfig      `json:"sync" yaml:"sync"`
}

// Default returns the built-in configuration rooted at baseDir.
func Default(baseDir string) *Config {
	return &Config{
		DataDir:      filepath.Join(baseDir, "data"),
		SessionsFile: filepath.Join(baseDir, "sessions.json"),
		Sources: SourcesConfig{
			Notes:    SourceConfig{Enabled: true, Path: filepath.Join(baseDir, "notes")},
			Sessions: SourceConfig{Enabled: true, Path: filepath.Join(baseDir, "transcripts")},
		},
		Embedding: EmbeddingConfig{
			Provider:       "openai",
			Model:          "text-embedding-3-small",
			APIKeyEnv:      "OPENAI_API_KEY",
			BatchSize:      64,
			MaxConcurrent:  4,
			RequestsPerSec: 8,
			TimeoutSecs:    30,
			CacheSize:      4096,
		},
		Search: SearchConfig{
			VectorWeight:  0.7,
			TextWeight:    0.3,
			MinScore:      0.15,
			MaxResults:    6,
			SnippetMaxLen: 700,
		},
		Chunk: ChunkConfig{TokenBudget: 250},
		Sync:  SyncConfig{Concurrency: 4, DebounceMS: 1500},
	}
}

// Load reads the config at path. A missing file returns defaults rooted at
// the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(filepath.Dir(path)), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default(filepath.Dir(path))
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	default:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.normalize()
	return cfg, nil
}

// normalize clamps nonsensical values back to defaults.
func (c *Config) normalize() {
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = 64
	}
	if c.Embedding.MaxConcurrent <= 0 {
		c.Embedding.MaxConcurrent = 4
	}
	if c.Embedding.TimeoutSecs <= 0 {
		c.Embedding.TimeoutSecs = 30
	}
	if c.Embedding.CacheSize <= 0 {
		c.Embedding.CacheSize = 4096
	}
	if c.Search.VectorWeight <= 0 && c.Search.TextWeight <= 0 {
		c.Search.VectorWeight = 0.7
		c.Search.TextWeight = 0.3
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = 6
	}
	if c.Search.SnippetMaxLen <= 0 {
		c.Search.SnippetMaxLen = 700
	}
	if c.Chunk.TokenBudget <= 0 {
		c.Chunk.TokenBudget = 250
	}
	if c.Sync.Concurrency <= 0 {
		c.Sync.Concurrency = 4
	}
	if c.Sync.DebounceMS <= 0 {
		c.Sync.DebounceMS = 1500
	}
}

// IndexPath returns the location of the SQLite index database.
func (c *Config) IndexPath() string {
	return filepath.Join(c.DataDir, "index.db")
}
