package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/usr/local/var/casefind/data"
	}
	if cfg.Storage.CatalogPath == "" {
		cfg.Storage.CatalogPath = "/usr/local/var/casefind/data/catalog.db"
	}
	if cfg.Remote.BaseURL == "" {
		cfg.Remote.BaseURL = "https://www.namus.gov"
	}
	if cfg.Remote.TimeoutSeconds == 0 {
		cfg.Remote.TimeoutSeconds = 30
	}
	if cfg.Remote.RequestsPerSecond == 0 {
		cfg.Remote.RequestsPerSecond = 20
	}
	if cfg.Remote.Burst == 0 {
		cfg.Remote.Burst = 16
	}
	if cfg.Remote.UserAgent == "" {
		cfg.Remote.UserAgent = "casefind/1.0"
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 16
	}
	if cfg.Ingest.Window == 0 {
		cfg.Ingest.Window = 1000
	}
	if cfg.Ingest.StartID == 0 {
		cfg.Ingest.StartID = 1
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 60
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Embedding.Image.Provider == "" {
		cfg.Embedding.Image.Provider = "onnx"
	}
	if cfg.Embedding.Image.ModelPath == "" {
		cfg.Embedding.Image.ModelPath = "/usr/local/var/casefind/models/clip-vit-bigg-14-visual.onnx"
	}
	if cfg.Embedding.Image.TextModelPath == "" {
		cfg.Embedding.Image.TextModelPath = "/usr/local/var/casefind/models/clip-vit-bigg-14-text.onnx"
	}
	if cfg.Embedding.Image.Dimensions == 0 {
		cfg.Embedding.Image.Dimensions = 1280
	}
	if cfg.Embedding.Image.ImageSize == 0 {
		cfg.Embedding.Image.ImageSize = 224
	}
	if cfg.Embedding.Image.MaxTokens == 0 {
		cfg.Embedding.Image.MaxTokens = 77
	}
	if cfg.Embedding.Text.Provider == "" {
		cfg.Embedding.Text.Provider = "openai"
	}
	if cfg.Embedding.Text.URL == "" {
		cfg.Embedding.Text.URL = "https://api.openai.com"
	}
	if cfg.Embedding.Text.Model == "" {
		cfg.Embedding.Text.Model = "text-embedding-ada-002"
	}
	if cfg.Embedding.Text.Dimensions == 0 {
		cfg.Embedding.Text.Dimensions = 1536
	}
	if cfg.Embedding.Text.APIKeyEnv == "" {
		cfg.Embedding.Text.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Search.K == 0 {
		cfg.Search.K = 10
	}
	if cfg.Index.DebounceMs == 0 {
		cfg.Index.DebounceMs = 2000
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "casefind"
	}
}
