package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mvp-joe/code-indexer/internal/indexer"
	mcputils "github.com/mvp-joe/code-indexer/internal/mcp-utils"
	"github.com/mvp-joe/code-indexer/internal/storage"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
	defaultRecentRuns  = 5
	maxRecentRuns      = 50
)

// AddSearchTool registers the search_code tool.
func AddSearchTool(s *server.MCPServer, index Index) {
	tool := mcp.NewTool(
		"search_code",
		mcp.WithDescription("Semantic search over the indexed repository. Results are scoped to a branch; the current branch is used when none is given."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural language or code query")),
		mcp.WithString("branch", mcp.Description("Branch to search (default: current branch)")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 10, max 100)")),
		mcp.WithString("language", mcp.Description("Only return chunks in this language, e.g. go")),
		mcp.WithString("path_prefix", mcp.Description("Only return chunks under this path")),
		mcp.WithNumber("min_score", mcp.Description("Drop results scoring below this similarity")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	s.AddTool(tool, searchHandler(index))
}

func searchHandler(index Index) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var req SearchRequest
		if err := mcputils.CoerceBindArguments(request, &req); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		req.Query = strings.TrimSpace(req.Query)
		if req.Query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		if req.Limit == 0 {
			req.Limit = defaultSearchLimit
		}
		req.Limit = clamp(req.Limit, 1, maxSearchLimit)

		branch := req.Branch
		if branch == "" {
			branch = index.CurrentBranch()
		}
		results, err := index.Search(ctx, branch, req.Query, storage.SearchOptions{
			Limit:      req.Limit,
			Language:   req.Language,
			PathPrefix: req.PathPrefix,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}

		resp := SearchResponse{Branch: branch, Results: make([]SearchHit, 0, len(results))}
		for _, r := range results {
			if float64(r.Score) < req.MinScore {
				continue
			}
			resp.Results = append(resp.Results, SearchHit{
				Path:      r.Path,
				LineStart: r.LineStart,
				LineEnd:   r.LineEnd,
				Language:  r.Language,
				Score:     r.Score,
				Content:   r.Content,
				GitCommit: r.GitCommit,
			})
		}
		resp.Total = len(resp.Results)
		return jsonResult(resp)
	}
}

// AddStatusTool registers the index_status tool.
func AddStatusTool(s *server.MCPServer, index Index) {
	tool := mcp.NewTool(
		"index_status",
		mcp.WithDescription("Report the state of the index: schema, document counts, known branches and recent indexing runs."),
		mcp.WithNumber("recent_runs", mcp.Description("Number of recent runs to include (default 5, max 50)")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	s.AddTool(tool, statusHandler(index))
}

func statusHandler(index Index) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runs := parseClampedInt(request.GetArguments(), "recent_runs", defaultRecentRuns, 0, maxRecentRuns)
		st, err := index.Status(ctx, runs)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("status failed: %v", err)), nil
		}
		return jsonResult(statusResponse(st))
	}
}

func statusResponse(st *indexer.IndexStatus) StatusResponse {
	resp := StatusResponse{
		Collection:      st.Collection,
		Branch:          st.Branch,
		Schema:          st.Schema.State.String(),
		Documents:       st.Documents,
		VisibleOnBranch: st.VisibleOnBranch,
		LastSuccess:     st.LastSuccess,
		Branches:        make([]BranchInfo, 0, len(st.KnownBranches)),
	}
	for _, b := range st.KnownBranches {
		resp.Branches = append(resp.Branches, BranchInfo{
			Name:          b.Name,
			LastCommit:    b.LastCommit,
			FileCount:     b.FileCount,
			LastIndexedAt: b.LastIndexedAt,
		})
	}
	for _, r := range st.RecentRuns {
		resp.RecentRuns = append(resp.RecentRuns, RunInfo{
			Mode:           r.Mode,
			Strategy:       r.Strategy,
			Branch:         r.Branch,
			Status:         string(r.Status),
			TriggerReasons: r.TriggerReasons,
			FilesProcessed: r.FilesProcessed,
			ChunksEmbedded: r.ChunksEmbedded,
			StartedAt:      r.StartedAt,
			DurationMS:     r.Duration().Milliseconds(),
			Error:          r.Error,
		})
	}
	return resp
}

// AddAnalyzeTool registers the analyze_reindex tool. It runs the decision
// without touching the index.
func AddAnalyzeTool(s *server.MCPServer, index Index) {
	tool := mcp.NewTool(
		"analyze_reindex",
		mcp.WithDescription("Explain whether the index needs rebuilding and which strategy would be used. Nothing is written."),
		mcp.WithBoolean("force_full", mcp.Description("Analyze as if a full rebuild was requested")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	s.AddTool(tool, analyzeHandler(index))
}

func analyzeHandler(index Index) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		full := parseBoolArg(request.GetArguments(), "force_full", false)
		report, err := index.Sync(ctx, indexer.SyncRequest{ForceFull: full, DryRun: true})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("analysis failed: %v", err)), nil
		}
		return jsonResult(analyzeResponse(report))
	}
}

func analyzeResponse(r *indexer.Report) AnalyzeResponse {
	return AnalyzeResponse{
		Branch:           r.Branch,
		ShouldReindex:    r.Decision.ShouldReindex,
		Strategy:         string(r.Strategy),
		Confidence:       r.Decision.ConfidenceScore,
		EstimatedMinutes: r.Decision.EstimatedMinutes,
		Reasons:          r.Decision.Explain(),
		ChangedFiles:     r.DecisionChanges.ChangeCount(),
		TotalFiles:       r.DecisionChanges.TotalFiles,
		PercentChanged:   r.DecisionChanges.PercentageChanged(),
		Health:           string(r.Metrics.HealthStatus()),
		QualityScore:     r.Metrics.QualityScore(),
		Documents:        r.Metrics.DocumentCount,
		SearchAccuracy:   r.Metrics.SearchAccuracy,
		IndexAgeDays:     r.Metrics.IndexAgeDays,
		Corrupted:        r.Metrics.CorruptionDetected,
		MetricsEstimated: r.MetricsFallback,
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
