// Package config loads PicLocate configuration from an optional YAML file and
// the environment. Environment variables always win so deployments can run
// without any file on disk.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"piclocate/internal/apperr"
)

// Config holds all PicLocate configuration.
type Config struct {
	// Database connection string (SQLite path or ":memory:").
	DBURL string `yaml:"db_url"`

	// Source store (cloud drive) settings.
	Source SourceConfig `yaml:"source"`

	// Embedding engine settings.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// VLM verifier settings.
	VLM VLMConfig `yaml:"vlm"`

	// Detector service settings.
	Detector DetectorConfig `yaml:"detector"`

	// Search pipeline knobs.
	Search SearchConfig `yaml:"search"`

	// Indexing pipeline knobs.
	Index IndexConfig `yaml:"index"`

	// HTTP listen address for the serve command.
	ListenAddr string `yaml:"listen_addr"`
}

// SourceConfig configures the image store adapter.
type SourceConfig struct {
	RootID  string        `yaml:"root_id"`
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider string        `yaml:"provider"` // genai or ollama
	ModelURL string        `yaml:"model_url"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Dims     int           `yaml:"dims"`
	Timeout  time.Duration `yaml:"timeout"`
}

// VLMConfig configures the Stage B verifier.
type VLMConfig struct {
	ModelURL     string        `yaml:"model_url"`
	APIKey       string        `yaml:"api_key"`
	Model        string        `yaml:"model"`
	BatchSize    int           `yaml:"batch_size"`
	Concurrency  int           `yaml:"concurrency"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	CacheTTLDays int           `yaml:"cache_ttl_days"`
	CacheMax     int           `yaml:"cache_max"`
	RatePerSec   float64       `yaml:"rate_per_sec"`
}

// DetectorConfig configures the object detection service.
type DetectorConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// SearchConfig holds Stage A/C tuning.
type SearchConfig struct {
	TopK            int           `yaml:"top_k"`
	Cutoff          float64       `yaml:"cutoff"`
	FinalLimit      int           `yaml:"final_limit"`
	Alpha           float64       `yaml:"alpha"`
	RequestDeadline time.Duration `yaml:"request_deadline"`
}

// IndexConfig holds indexing pipeline tuning.
type IndexConfig struct {
	MaxImagePx  int  `yaml:"max_image_px"`
	Incremental bool `yaml:"incremental"`
	Fetchers    int  `yaml:"fetchers"`
	Analyzers   int  `yaml:"analyzers"`
	Embedders   int  `yaml:"embedders"`
	Persisters  int  `yaml:"persisters"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DBURL:      "data/piclocate.db",
		ListenAddr: ":8000",
		Source: SourceConfig{
			BaseURL: "https://www.googleapis.com/drive/v3",
			Timeout: 30 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider: "genai",
			Model:    "gemini-embedding-001",
			Dims:     768,
			Timeout:  10 * time.Second,
		},
		VLM: VLMConfig{
			Model:        "gemini-3-flash-preview",
			BatchSize:    12,
			Concurrency:  4,
			BatchTimeout: 45 * time.Second,
			CacheTTLDays: 7,
			CacheMax:     10000,
			RatePerSec:   4,
		},
		Detector: DetectorConfig{
			Timeout: 30 * time.Second,
		},
		Search: SearchConfig{
			TopK:            120,
			Cutoff:          0.7,
			FinalLimit:      24,
			Alpha:           0.75,
			RequestDeadline: 30 * time.Second,
		},
		Index: IndexConfig{
			MaxImagePx:  1024,
			Incremental: true,
			Fetchers:    8,
			Analyzers:   4,
			Embedders:   2,
			Persisters:  2,
		},
	}
}

// Load loads configuration from a YAML file (optional) and then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DB_URL"); v != "" {
		c.DBURL = v
	}
	if v := os.Getenv("SOURCE_ROOT_ID"); v != "" {
		c.Source.RootID = v
	}
	if v := os.Getenv("SOURCE_BASE_URL"); v != "" {
		c.Source.BaseURL = v
	}
	if v := os.Getenv("SOURCE_TOKEN"); v != "" {
		c.Source.Token = v
	}
	if v := os.Getenv("EMBED_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("EMBED_MODEL_URL"); v != "" {
		c.Embedding.ModelURL = v
	}
	if v := os.Getenv("EMBED_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("EMBED_DIMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Embedding.Dims = n
		}
	}
	if v := os.Getenv("VLM_MODEL_URL"); v != "" {
		c.VLM.ModelURL = v
	}
	if v := os.Getenv("VLM_API_KEY"); v != "" {
		c.VLM.APIKey = v
	}
	if v := os.Getenv("VLM_MODEL"); v != "" {
		c.VLM.Model = v
	}
	if v := os.Getenv("DETECTOR_URL"); v != "" {
		c.Detector.BaseURL = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Search.TopK = n
		}
	}
	if v := os.Getenv("BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.VLM.BatchSize = n
		}
	}
	if v := os.Getenv("CUTOFF"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.Cutoff = f
		}
	}
	if v := os.Getenv("FINAL_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Search.FinalLimit = n
		}
	}
	if v := os.Getenv("ALPHA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.Alpha = f
		}
	}
	if v := os.Getenv("CACHE_TTL_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.VLM.CacheTTLDays = n
		}
	}
	if v := os.Getenv("MAX_IMAGE_PX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Index.MaxImagePx = n
		}
	}
}

// Validate checks that the required settings are present and the tunables are
// in range. Failures are config errors (CLI exit code 2).
func (c *Config) Validate() error {
	if c.DBURL == "" {
		return apperr.New(apperr.KindInput, "DB_URL is required")
	}
	if c.Source.RootID == "" {
		return apperr.New(apperr.KindInput, "SOURCE_ROOT_ID is required")
	}
	if c.Embedding.Provider != "genai" && c.Embedding.Provider != "ollama" {
		return apperr.Newf(apperr.KindInput, "unsupported embedding provider %q (use genai or ollama)", c.Embedding.Provider)
	}
	if c.Embedding.Provider == "ollama" && c.Embedding.ModelURL == "" {
		return apperr.New(apperr.KindInput, "EMBED_MODEL_URL is required for the ollama provider")
	}
	if c.Embedding.Provider == "genai" && c.Embedding.APIKey == "" && c.VLM.APIKey == "" {
		return apperr.New(apperr.KindInput, "EMBED_API_KEY or VLM_API_KEY is required for the genai provider")
	}
	if c.VLM.APIKey == "" {
		return apperr.New(apperr.KindInput, "VLM_API_KEY is required")
	}
	if c.Embedding.Dims <= 0 {
		return apperr.New(apperr.KindInput, "embedding dims must be positive")
	}
	if c.VLM.BatchSize <= 0 {
		return apperr.New(apperr.KindInput, "BATCH_SIZE must be positive")
	}
	if c.Search.TopK < 0 {
		return apperr.New(apperr.KindInput, "TOP_K must be non-negative")
	}
	if c.Search.Cutoff < 0 || c.Search.Cutoff > 1 {
		return apperr.New(apperr.KindInput, "CUTOFF must be in [0,1]")
	}
	if c.Search.Alpha < 0 || c.Search.Alpha > 1 {
		return apperr.New(apperr.KindInput, "ALPHA must be in [0,1]")
	}
	if c.Index.MaxImagePx < 64 {
		return apperr.New(apperr.KindInput, "MAX_IMAGE_PX must be at least 64")
	}
	return nil
}
