package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/code-indexer/internal/reindex"
	"github.com/mvp-joe/code-indexer/internal/vectorstore"
)

// Test Plan for Config System:
// - Default() passes validation and carries the documented defaults
// - Load() uses defaults when no config file exists
// - Load() reads .code-indexer/config.yml and .code-indexer/config.yaml
// - Load() merges a partial file with defaults
// - Environment variables override file values and defaults
// - Load() rejects malformed YAML and invalid values
// - The raw reindexing section reaches reindex.FromHostConfig
// - Validate() reports every violation and matches each sentinel
// - Conversions produce indexer, embed and vector store settings

func writeConfig(t *testing.T, root, name, body string) {
	t.Helper()
	dir := filepath.Join(root, DirName)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "http", cfg.Embedding.Provider)
	assert.Equal(t, 384, cfg.Embedding.Dimensions)
	assert.Equal(t, "chromem", cfg.VectorStore.Backend)
	assert.Equal(t, 6334, cfg.VectorStore.Port)
	assert.Equal(t, 2000, cfg.Indexing.ChunkSize)
	assert.Equal(t, int64(1<<20), cfg.Indexing.MaxFileSize)
	assert.True(t, cfg.Indexing.CleanupOrphans)
	assert.Contains(t, cfg.Paths.Code, "**/*.go")
	assert.Contains(t, cfg.Paths.Ignore, DirName+"/**")
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFromDir(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, Default().Embedding, cfg.Embedding)
	assert.Equal(t, Default().Indexing, cfg.Indexing)
	assert.Empty(t, cfg.Reindexing)
}

func TestLoad_ConfigFile(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"config.yml", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			root := t.TempDir()
			writeConfig(t, root, name, `
embedding:
  provider: mock
  dimensions: 64
vector_store:
  backend: qdrant
  host: qdrant.internal
indexing:
  workers: 8
  verify_backoff: 250ms
paths:
  code: ["src/**/*.go"]
`)
			cfg, err := LoadConfigFromDir(root)
			require.NoError(t, err)

			assert.Equal(t, "mock", cfg.Embedding.Provider)
			assert.Equal(t, 64, cfg.Embedding.Dimensions)
			assert.Equal(t, "qdrant", cfg.VectorStore.Backend)
			assert.Equal(t, "qdrant.internal", cfg.VectorStore.Host)
			assert.Equal(t, 8, cfg.Indexing.Workers)
			assert.Equal(t, 250*time.Millisecond, cfg.Indexing.VerifyBackoff)
			assert.Equal(t, []string{"src/**/*.go"}, cfg.Paths.Code)

			// untouched keys keep their defaults
			assert.Equal(t, Default().Embedding.Model, cfg.Embedding.Model)
			assert.Equal(t, Default().Paths.Docs, cfg.Paths.Docs)
			assert.Equal(t, 6334, cfg.VectorStore.Port)
		})
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "config.yml", `
embedding:
  endpoint: http://from-file:8080
indexing:
  workers: 2
`)
	t.Setenv("CIDX_EMBEDDING_ENDPOINT", "http://from-env:9090")
	t.Setenv("CIDX_VECTOR_STORE_BACKEND", "qdrant")
	t.Setenv("CIDX_LOGGING_LEVEL", "debug")

	cfg, err := LoadConfigFromDir(root)
	require.NoError(t, err)

	assert.Equal(t, "http://from-env:9090", cfg.Embedding.Endpoint)
	assert.Equal(t, "qdrant", cfg.VectorStore.Backend)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 2, cfg.Indexing.Workers)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	t.Run("malformed yaml", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeConfig(t, root, "config.yml", "embedding: [unclosed")
		_, err := LoadConfigFromDir(root)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("invalid values", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeConfig(t, root, "config.yml", `
embedding:
  dimensions: 0
indexing:
  workers: -1
`)
		_, err := LoadConfigFromDir(root)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidDimensions)
		assert.ErrorIs(t, err, ErrInvalidIndexing)
	})
}

func TestLoad_ReindexingSection(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "config.yml", `
reindexing:
  change_percentage_threshold: 0.5
  batch_size: 25
  unknown_key: ignored
`)
	cfg, err := LoadConfigFromDir(root)
	require.NoError(t, err)

	rc, err := cfg.ReindexConfig(nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, rc.ChangePercentageThreshold, 1e-9)
	assert.Equal(t, 25, rc.BatchSize)
	assert.Equal(t, reindex.DefaultConfig().MaxIndexAgeDays, rc.MaxIndexAgeDays)

	t.Setenv("CIDX_REINDEX_BATCH_SIZE", "40")
	rc, err = cfg.ReindexConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, 40, rc.BatchSize)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   []error
	}{
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "openai" }, []error{ErrInvalidProvider}},
		{"empty model", func(c *Config) { c.Embedding.Model = " " }, []error{ErrEmptyModel}},
		{"empty endpoint", func(c *Config) { c.Embedding.Endpoint = "" }, []error{ErrEmptyEndpoint}},
		{"mock needs no endpoint", func(c *Config) { c.Embedding.Provider = "mock"; c.Embedding.Endpoint = "" }, nil},
		{"unknown backend", func(c *Config) { c.VectorStore.Backend = "pinecone" }, []error{ErrInvalidBackend}},
		{"qdrant bad port", func(c *Config) { c.VectorStore.Backend = "qdrant"; c.VectorStore.Port = 70000 }, []error{ErrInvalidBackend}},
		{"zero chunk size", func(c *Config) { c.Indexing.ChunkSize = 0 }, []error{ErrInvalidChunkSize}},
		{"negative overlap", func(c *Config) { c.Indexing.ChunkOverlap = -1 }, []error{ErrInvalidOverlap}},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, []error{ErrInvalidLogging}},
		{
			"several at once",
			func(c *Config) {
				c.Embedding.Dimensions = -3
				c.Indexing.VerifyAttempts = 0
				c.Logging.Level = "loud"
			},
			[]error{ErrInvalidDimensions, ErrInvalidIndexing, ErrInvalidLogging},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if len(tt.want) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.want {
				assert.ErrorIs(t, err, want)
			}
		})
	}
}

func TestConversions(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Indexing.Workers = 6
	cfg.Indexing.VerifyAttempts = 7
	cfg.VectorStore.APIKey = "secret"

	ic := cfg.ToIndexerConfig("/repo", "cidx_abc")
	assert.Equal(t, "/repo", ic.RootDir)
	assert.Equal(t, "cidx_abc", ic.Collection)
	assert.Equal(t, 6, ic.Workers)
	assert.Equal(t, 7, ic.Verify.MaxAttempts)
	assert.Positive(t, ic.Verify.MaxBackoff)
	assert.Equal(t, cfg.Paths.Ignore, ic.IgnorePatterns)

	assert.Equal(t, "code_index", cfg.ToIndexerConfig("/repo", "").Collection)

	ec := cfg.ToEmbedConfig()
	assert.Equal(t, cfg.Embedding.Endpoint, ec.Endpoint)
	assert.Equal(t, cfg.Embedding.QueryCacheSize, ec.QueryCacheSize)

	vo := cfg.ToVectorStoreOptions("/repo")
	assert.Equal(t, vectorstore.BackendChromem, vo.Backend)
	assert.Equal(t, filepath.Join("/repo", DirName, "vectors"), vo.Path)
	assert.Equal(t, "secret", vo.Qdrant.APIKey)

	cfg.VectorStore.Path = "/var/lib/vectors"
	assert.Equal(t, "/var/lib/vectors", cfg.ToVectorStoreOptions("/repo").Path)
}

func TestGetSourceExtensions(t *testing.T) {
	t.Parallel()

	cfg := &Config{Paths: PathsConfig{
		Code: []string{"**/*.go", "src/*.ts", "Makefile"},
		Docs: []string{"**/*.md", "docs/*.go"},
	}}
	assert.Equal(t, []string{".go", ".ts", ".md"}, cfg.GetSourceExtensions())
}
