// Package indexer keeps a branch-aware vector index in sync with a working
// tree. A sync discovers files, diffs them against what the index shows for
// the current branch, asks the reindex engine whether a full rebuild is
// warranted, and then runs either an incremental update or one of the full
// rebuild strategies.
package indexer

import (
	"time"

	"github.com/mvp-joe/code-indexer/internal/storage"
)

// Config contains configuration for the indexer.
type Config struct {
	// Root directory of the codebase to index
	RootDir string

	// Paths configuration
	CodePatterns   []string
	DocsPatterns   []string
	IgnorePatterns []string
	MaxFileSize    int64

	// Chunking configuration
	ChunkSize    int // characters
	ChunkOverlap int // lines

	// Workers bounds files indexed concurrently.
	Workers int

	// Collection is the base vector store collection name. Blue/green
	// rebuilds derive new names from it.
	Collection string

	Verify storage.VerifyPolicy

	// MTimeSafetyBuffer is how far a file's mtime may drift from the stored
	// one before the file is hashed again.
	MTimeSafetyBuffer time.Duration

	// CleanupOrphans deletes content no known branch can see after a
	// successful sync, and forgets branches that no longer exist.
	CleanupOrphans bool

	// ProbeSamples is the number of records used to measure search accuracy.
	ProbeSamples int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig(rootDir string) *Config {
	return &Config{
		RootDir: rootDir,
		CodePatterns: []string{
			"**/*.go",
			"**/*.ts",
			"**/*.tsx",
			"**/*.js",
			"**/*.jsx",
			"**/*.py",
			"**/*.rs",
			"**/*.c",
			"**/*.cpp",
			"**/*.cc",
			"**/*.h",
			"**/*.hpp",
			"**/*.php",
			"**/*.rb",
			"**/*.java",
		},
		DocsPatterns: []string{
			"**/*.md",
			"**/*.rst",
		},
		IgnorePatterns: []string{
			"node_modules/**",
			"vendor/**",
			".git/**",
			"dist/**",
			"build/**",
			"target/**",
			"__pycache__/**",
			"*.test",
			"*.pyc",
		},
		MaxFileSize:       1 << 20,
		ChunkSize:         2000,
		ChunkOverlap:      3,
		Workers:           4,
		Collection:        "code_index",
		Verify:            storage.DefaultVerifyPolicy(),
		MTimeSafetyBuffer: time.Second,
		CleanupOrphans:    true,
		ProbeSamples:      defaultProbeSamples,
	}
}
