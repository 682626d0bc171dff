package mcp

// Test Plan for the MCP tools:
// - search_code binds arguments, defaults the branch, clamps the limit,
//   applies min_score and never returns vectors
// - search_code rejects an empty query and reports search failures as tool errors
// - index_status maps the orchestrator snapshot and clamps recent_runs
// - analyze_reindex always runs a dry run and forwards force_full
// - NewServer registers all tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/code-indexer/internal/cache"
	"github.com/mvp-joe/code-indexer/internal/indexer"
	"github.com/mvp-joe/code-indexer/internal/reindex"
	"github.com/mvp-joe/code-indexer/internal/storage"
)

type fakeIndex struct {
	branch string

	results   []storage.SearchResult
	searchErr error
	status    *indexer.IndexStatus
	report    *indexer.Report

	gotBranch string
	gotQuery  string
	gotOpts   storage.SearchOptions
	gotRuns   int
	gotSync   indexer.SyncRequest
}

func (f *fakeIndex) Search(_ context.Context, branch, query string, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	f.gotBranch, f.gotQuery, f.gotOpts = branch, query, opts
	return f.results, f.searchErr
}

func (f *fakeIndex) Status(_ context.Context, recentRuns int) (*indexer.IndexStatus, error) {
	f.gotRuns = recentRuns
	return f.status, nil
}

func (f *fakeIndex) Sync(_ context.Context, req indexer.SyncRequest) (*indexer.Report, error) {
	f.gotSync = req
	return f.report, nil
}

func (f *fakeIndex) CurrentBranch() string { return f.branch }

func callTool(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (*mcp.CallToolResult, string) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	result, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return result, text.Text
}

func TestSearchTool(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{
		branch: "main",
		results: []storage.SearchResult{
			{ContentRecord: storage.ContentRecord{Path: "a.go", LineStart: 1, LineEnd: 9, Language: "go", Content: "func A()", Vector: []float32{1, 2}}, Score: 0.9},
			{ContentRecord: storage.ContentRecord{Path: "b.go", LineStart: 3, LineEnd: 4, Language: "go", Content: "func B()"}, Score: 0.2},
		},
	}

	result, text := callTool(t, searchHandler(idx), map[string]any{
		"query":       "  parse config  ",
		"limit":       "500",
		"language":    "go",
		"path_prefix": "internal/",
		"min_score":   0.5,
	})
	assert.False(t, result.IsError)
	assert.Equal(t, "main", idx.gotBranch)
	assert.Equal(t, "parse config", idx.gotQuery)
	assert.Equal(t, storage.SearchOptions{Limit: maxSearchLimit, Language: "go", PathPrefix: "internal/"}, idx.gotOpts)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal([]byte(text), &resp))
	assert.Equal(t, "main", resp.Branch)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "a.go", resp.Results[0].Path)
	assert.NotContains(t, text, "vector")
}

func TestSearchTool_ExplicitBranchAndDefaultLimit(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{branch: "main"}
	_, text := callTool(t, searchHandler(idx), map[string]any{"query": "x", "branch": "feature"})
	assert.Equal(t, "feature", idx.gotBranch)
	assert.Equal(t, defaultSearchLimit, idx.gotOpts.Limit)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal([]byte(text), &resp))
	assert.Empty(t, resp.Results)
}

func TestSearchTool_Errors(t *testing.T) {
	t.Parallel()

	t.Run("empty query", func(t *testing.T) {
		t.Parallel()
		result, text := callTool(t, searchHandler(&fakeIndex{}), map[string]any{"query": "   "})
		assert.True(t, result.IsError)
		assert.Contains(t, text, "query is required")
	})

	t.Run("search failure", func(t *testing.T) {
		t.Parallel()
		idx := &fakeIndex{branch: "main", searchErr: errors.New("store down")}
		result, text := callTool(t, searchHandler(idx), map[string]any{"query": "x"})
		assert.True(t, result.IsError)
		assert.Contains(t, text, "store down")
	})
}

func TestStatusTool(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	idx := &fakeIndex{status: &indexer.IndexStatus{
		Collection:      "code_abc",
		Branch:          "main",
		Documents:       12,
		VisibleOnBranch: 10,
		Schema:          storage.SchemaReport{State: storage.SchemaCurrent},
		KnownBranches:   []cache.BranchRecord{{Name: "main", LastCommit: "abc123", FileCount: 4}},
		RecentRuns: []cache.RunRecord{{
			Mode: "incremental", Branch: "main", Status: cache.RunCompleted,
			StartedAt: started, FinishedAt: started.Add(1500 * time.Millisecond),
		}},
	}}

	_, text := callTool(t, statusHandler(idx), map[string]any{"recent_runs": float64(1000)})
	assert.Equal(t, maxRecentRuns, idx.gotRuns)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal([]byte(text), &resp))
	assert.Equal(t, "code_abc", resp.Collection)
	assert.Equal(t, storage.SchemaCurrent.String(), resp.Schema)
	assert.Equal(t, 12, resp.Documents)
	require.Len(t, resp.Branches, 1)
	assert.Equal(t, "abc123", resp.Branches[0].LastCommit)
	require.Len(t, resp.RecentRuns, 1)
	assert.Equal(t, int64(1500), resp.RecentRuns[0].DurationMS)
}

func TestAnalyzeTool(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{report: &indexer.Report{
		Branch:   "main",
		Strategy: reindex.StrategyBlueGreen,
		Decision: reindex.Decision{
			ShouldReindex:   true,
			TriggerReasons:  []reindex.TriggerReason{reindex.ReasonUserRequested},
			ConfidenceScore: 1.0,
		},
		DecisionChanges: reindex.ChangeSet{FilesChanged: []string{"a.go"}, TotalFiles: 4},
	}}

	_, text := callTool(t, analyzeHandler(idx), map[string]any{"force_full": true})
	assert.True(t, idx.gotSync.DryRun)
	assert.True(t, idx.gotSync.ForceFull)

	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal([]byte(text), &resp))
	assert.True(t, resp.ShouldReindex)
	assert.Equal(t, string(reindex.StrategyBlueGreen), resp.Strategy)
	assert.Equal(t, 1, resp.ChangedFiles)
	assert.Equal(t, 4, resp.TotalFiles)
	assert.InDelta(t, 0.25, resp.PercentChanged, 0.001)
	require.Len(t, resp.Reasons, 1)
}

func TestNewServer(t *testing.T) {
	t.Parallel()

	s := NewServer(&fakeIndex{}, "test", nil)
	require.NotNil(t, s)
	assert.NotNil(t, s.mcp)
}
