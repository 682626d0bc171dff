package config

import (
	"path/filepath"

	"github.com/mvp-joe/code-indexer/internal/embed"
	"github.com/mvp-joe/code-indexer/internal/indexer"
	"github.com/mvp-joe/code-indexer/internal/logging"
	"github.com/mvp-joe/code-indexer/internal/reindex"
	"github.com/mvp-joe/code-indexer/internal/storage"
	"github.com/mvp-joe/code-indexer/internal/vectorstore"
)

// ToIndexerConfig converts a Config to an indexer.Config.
// The rootDir parameter specifies the root directory of the codebase to index
// and collection the active collection's base name.
func (c *Config) ToIndexerConfig(rootDir, collection string) *indexer.Config {
	cfg := indexer.DefaultConfig(rootDir)
	cfg.CodePatterns = c.Paths.Code
	cfg.DocsPatterns = c.Paths.Docs
	cfg.IgnorePatterns = c.Paths.Ignore
	cfg.MaxFileSize = c.Indexing.MaxFileSize
	cfg.ChunkSize = c.Indexing.ChunkSize
	cfg.ChunkOverlap = c.Indexing.ChunkOverlap
	cfg.Workers = c.Indexing.Workers
	cfg.Verify = storage.VerifyPolicy{
		MaxAttempts:    c.Indexing.VerifyAttempts,
		InitialBackoff: c.Indexing.VerifyBackoff,
	}
	cfg.Verify.ApplyDefaults()
	cfg.MTimeSafetyBuffer = c.Indexing.MTimeSafetyBuffer
	cfg.CleanupOrphans = c.Indexing.CleanupOrphans
	cfg.ProbeSamples = c.Indexing.ProbeSamples
	if collection != "" {
		cfg.Collection = collection
	}
	return cfg
}

// ToEmbedConfig converts the embedding section.
func (c *Config) ToEmbedConfig() embed.Config {
	return embed.Config{
		Provider:          c.Embedding.Provider,
		Endpoint:          c.Embedding.Endpoint,
		Model:             c.Embedding.Model,
		Dimensions:        c.Embedding.Dimensions,
		APIKey:            c.Embedding.APIKey,
		RequestsPerSecond: c.Embedding.RequestsPerSecond,
		ParallelRequests:  c.Embedding.ParallelRequests,
		Timeout:           c.Embedding.Timeout,
		QueryCacheSize:    c.Embedding.QueryCacheSize,
	}
}

// ToVectorStoreOptions converts the vector_store section. A relative
// chromem path is resolved against rootDir.
func (c *Config) ToVectorStoreOptions(rootDir string) vectorstore.Options {
	path := c.VectorStore.Path
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(rootDir, path)
	}
	q := vectorstore.DefaultQdrantConfig()
	q.Host = c.VectorStore.Host
	q.Port = c.VectorStore.Port
	q.APIKey = c.VectorStore.APIKey
	q.UseTLS = c.VectorStore.UseTLS
	q.RetryAttempts = c.VectorStore.RetryAttempts
	return vectorstore.Options{
		Backend: c.VectorStore.Backend,
		Path:    path,
		Qdrant:  q,
	}
}

// ToLoggingOptions converts the logging section.
func (c *Config) ToLoggingOptions() logging.Options {
	return logging.Options{Level: c.Logging.Level, Format: c.Logging.Format}
}

// ReindexConfig decodes the reindexing section with CIDX_REINDEX_*
// overrides applied.
func (c *Config) ReindexConfig(logger *logging.Logger) (*reindex.Config, error) {
	return reindex.FromHostConfigWithEnvOverrides(c, reindex.WithLogger(logger))
}
