// Package config provides configuration loading and structs for casefind.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Remote    RemoteConfig    `yaml:"remote"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Index     IndexConfig     `yaml:"index"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the data directory and the catalog database path.
type StorageConfig struct {
	DataDir     string `yaml:"data_dir"`
	CatalogPath string `yaml:"catalog_path"`
}

// EmbeddingsDir is where vectors live: one subdirectory per modality.
func (s StorageConfig) EmbeddingsDir() string {
	return filepath.Join(s.DataDir, "embeddings")
}

// RemoteConfig holds the remote catalog client settings.
type RemoteConfig struct {
	BaseURL           string  `yaml:"base_url"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	UserAgent         string  `yaml:"user_agent"`
}

// Timeout returns the per-request timeout.
func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// IngestConfig controls the ingestion walk and worker pool.
type IngestConfig struct {
	Workers int `yaml:"workers"`
	// Window is how many consecutive ids one catalog walk probes.
	Window int `yaml:"window"`
	// Lookback moves the walk start below the highest stored id to revisit recent gaps.
	Lookback int `yaml:"lookback"`
	// StartID is where the walk begins when nothing is stored yet.
	StartID int64 `yaml:"start_id"`
}

// EmbeddingConfig holds provider settings for both embedding spaces.
type EmbeddingConfig struct {
	TimeoutSeconds int              `yaml:"timeout_seconds"`
	CacheSize      int              `yaml:"cache_size"`
	Image          ImageModelConfig `yaml:"image"`
	Text           TextModelConfig  `yaml:"text"`
}

// Timeout returns the per-call provider timeout.
func (e EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// ImageModelConfig configures the joint image/text (CLIP) space.
type ImageModelConfig struct {
	// Provider is "onnx" or "mock".
	Provider      string `yaml:"provider"`
	ModelPath     string `yaml:"model_path"`
	TextModelPath string `yaml:"text_model_path"`
	Dimensions    int    `yaml:"dimensions"`
	ImageSize     int    `yaml:"image_size"`
	MaxTokens     int    `yaml:"max_tokens"`
}

// TextModelConfig configures the record-text space.
type TextModelConfig struct {
	// Provider is "openai" or "mock".
	Provider   string `yaml:"provider"`
	URL        string `yaml:"url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`
}

// APIKey reads the key from the configured environment variable.
func (t TextModelConfig) APIKey() string {
	if t.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(t.APIKeyEnv)
}

// SearchConfig holds query settings.
type SearchConfig struct {
	K int `yaml:"k"`
}

// IndexConfig controls when in-memory indexes are rebuilt.
type IndexConfig struct {
	RebuildOnStart *bool `yaml:"rebuild_on_start"`
	// AutoRebuild watches the embedding directories and rebuilds after writes settle.
	AutoRebuild bool `yaml:"auto_rebuild"`
	DebounceMs  int  `yaml:"debounce_ms"`
}

// RebuildOnStartOrDefault returns whether to build indexes at startup; defaults to true when unset.
func (i *IndexConfig) RebuildOnStartOrDefault() bool {
	if i.RebuildOnStart != nil {
		return *i.RebuildOnStart
	}
	return true
}

// Debounce returns the auto-rebuild debounce interval.
func (i IndexConfig) Debounce() time.Duration {
	return time.Duration(i.DebounceMs) * time.Millisecond
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Load reads and parses the config file at path, applies defaults, expands paths and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	cfg.Storage.CatalogPath = expandPath(cfg.Storage.CatalogPath, configDir)
	cfg.Embedding.Image.ModelPath = expandPath(cfg.Embedding.Image.ModelPath, configDir)
	cfg.Embedding.Image.TextModelPath = expandPath(cfg.Embedding.Image.TextModelPath, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the components cannot run with.
func (c *Config) Validate() error {
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("invalid config: ingest.workers must be positive, got %d", c.Ingest.Workers)
	}
	if c.Ingest.Window <= 0 {
		return fmt.Errorf("invalid config: ingest.window must be positive, got %d", c.Ingest.Window)
	}
	if c.Ingest.Lookback < 0 {
		return fmt.Errorf("invalid config: ingest.lookback must not be negative, got %d", c.Ingest.Lookback)
	}
	switch c.Embedding.Image.Provider {
	case "onnx", "mock":
	default:
		return fmt.Errorf("invalid config: embedding.image.provider %q (want onnx or mock)", c.Embedding.Image.Provider)
	}
	switch c.Embedding.Text.Provider {
	case "openai", "mock":
	default:
		return fmt.Errorf("invalid config: embedding.text.provider %q (want openai or mock)", c.Embedding.Text.Provider)
	}
	if c.Search.K <= 0 {
		return fmt.Errorf("invalid config: search.k must be positive, got %d", c.Search.K)
	}
	return nil
}

// Save writes the config to path. Used by `casefind init` to write a starter file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
