package storage

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/code-indexer/internal/embed"
	"github.com/mvp-joe/code-indexer/internal/git"
	"github.com/mvp-joe/code-indexer/internal/vectorstore"
)

const (
	testCollection = "code"
	testDims       = 16
)

func newTestIndex(t *testing.T) (*Index, *embed.MockProvider) {
	t.Helper()
	store, err := vectorstore.NewChromemStore("", nil)
	require.NoError(t, err)
	provider := embed.NewMockProvider(testDims)
	idx := NewIndex(store, testCollection, provider, nil)
	require.NoError(t, idx.EnsureCollection(context.Background()))
	return idx, provider
}

// fileOf chunks content on blank-line boundaries.
func fileOf(path, content string) FileInput {
	var chunks []Chunk
	line := 1
	for _, part := range strings.Split(content, "\n\n") {
		n := strings.Count(part, "\n") + 1
		chunks = append(chunks, Chunk{Text: part, LineStart: line, LineEnd: line + n - 1})
		line += n + 1
	}
	return FileInput{
		Path:     path,
		Chunks:   chunks,
		FileHash: HashContent(content),
		FileSize: int64(len(content)),
		Language: "go",
		ModTime:  time.Unix(1_700_000_000, 0),
		Status:   git.StatusCommitted,
		Commit:   "abc1234",
	}
}

func searchPaths(t *testing.T, idx *Index, branch, text string) []string {
	t.Helper()
	results, err := idx.SearchText(context.Background(), branch, text, SearchOptions{Limit: 20})
	require.NoError(t, err)
	paths := make([]string, 0, len(results))
	for _, r := range results {
		paths = append(paths, r.Path)
	}
	return paths
}

func legacyPoint(t *testing.T, p *embed.MockProvider, id, branch, path string, chunk int, content string) vectorstore.Point {
	t.Helper()
	v, err := embed.EmbedOne(context.Background(), p, content, embed.EmbedModePassage)
	require.NoError(t, err)
	return vectorstore.Point{
		ID:     id,
		Vector: v,
		Payload: map[string]any{
			FieldPath:       path,
			FieldChunkIndex: chunk,
			FieldContent:    content,
			FieldGitBranch:  branch,
			FieldLanguage:   "go",
			FieldGitCommit:  fmt.Sprintf("c-%s", branch),
		},
	}
}
