package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CIDX"

// Loader provides configuration loading capabilities.
type Loader interface {
	// Load loads configuration from file and environment variables.
	// Priority: defaults → config file → environment variables (env wins)
	Load() (*Config, error)
}

type loader struct {
	rootDir string
}

// NewLoader creates a new configuration loader for the given root directory.
func NewLoader(rootDir string) Loader {
	return &loader{
		rootDir: rootDir,
	}
}

// Load loads configuration with the following priority (highest to lowest):
// 1. Environment variables (CIDX_*)
// 2. Config file (.code-indexer/config.yml or .code-indexer/config.yaml)
// 3. Default values
func (l *loader) Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(l.rootDir, DirName))

	// CIDX_EMBEDDING_ENDPOINT -> embedding.endpoint
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only sees keys viper already knows about, so every key
	// gets a default.
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is acceptable - we'll use defaults + env vars
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Reindexing == nil {
		cfg.Reindexing = map[string]any{}
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults configures viper with default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.endpoint", d.Embedding.Endpoint)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
	v.SetDefault("embedding.api_key", d.Embedding.APIKey)
	v.SetDefault("embedding.requests_per_second", d.Embedding.RequestsPerSecond)
	v.SetDefault("embedding.parallel_requests", d.Embedding.ParallelRequests)
	v.SetDefault("embedding.timeout", d.Embedding.Timeout)
	v.SetDefault("embedding.query_cache_size", d.Embedding.QueryCacheSize)

	v.SetDefault("vector_store.backend", d.VectorStore.Backend)
	v.SetDefault("vector_store.path", d.VectorStore.Path)
	v.SetDefault("vector_store.host", d.VectorStore.Host)
	v.SetDefault("vector_store.port", d.VectorStore.Port)
	v.SetDefault("vector_store.api_key", d.VectorStore.APIKey)
	v.SetDefault("vector_store.use_tls", d.VectorStore.UseTLS)
	v.SetDefault("vector_store.retry_attempts", d.VectorStore.RetryAttempts)
	v.SetDefault("vector_store.collection", d.VectorStore.Collection)

	v.SetDefault("paths.code", d.Paths.Code)
	v.SetDefault("paths.docs", d.Paths.Docs)
	v.SetDefault("paths.ignore", d.Paths.Ignore)

	v.SetDefault("indexing.chunk_size", d.Indexing.ChunkSize)
	v.SetDefault("indexing.chunk_overlap", d.Indexing.ChunkOverlap)
	v.SetDefault("indexing.max_file_size", d.Indexing.MaxFileSize)
	v.SetDefault("indexing.workers", d.Indexing.Workers)
	v.SetDefault("indexing.verify_attempts", d.Indexing.VerifyAttempts)
	v.SetDefault("indexing.verify_backoff", d.Indexing.VerifyBackoff)
	v.SetDefault("indexing.mtime_safety_buffer", d.Indexing.MTimeSafetyBuffer)
	v.SetDefault("indexing.cleanup_orphans", d.Indexing.CleanupOrphans)
	v.SetDefault("indexing.probe_samples", d.Indexing.ProbeSamples)

	v.SetDefault("storage.cache_location", d.Storage.CacheLocation)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// LoadConfigFromDir loads configuration from a specific directory.
func LoadConfigFromDir(rootDir string) (*Config, error) {
	return NewLoader(rootDir).Load()
}
