// Package mcp exposes the index to MCP clients over stdio: semantic search,
// index status and the reindex decision.
package mcp

import (
	"context"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/mvp-joe/code-indexer/internal/indexer"
	"github.com/mvp-joe/code-indexer/internal/logging"
	"github.com/mvp-joe/code-indexer/internal/storage"
)

var toolNames = []string{"search_code", "index_status", "analyze_reindex"}

// Index is the part of the orchestrator the tools call.
type Index interface {
	Search(ctx context.Context, branch, query string, opts storage.SearchOptions) ([]storage.SearchResult, error)
	Status(ctx context.Context, recentRuns int) (*indexer.IndexStatus, error)
	Sync(ctx context.Context, req indexer.SyncRequest) (*indexer.Report, error)
	CurrentBranch() string
}

// Server manages the MCP server lifecycle.
type Server struct {
	mcp    *server.MCPServer
	logger *logging.Logger
}

// NewServer registers every tool against index.
func NewServer(index Index, version string, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	s := server.NewMCPServer("cidx", version, server.WithToolCapabilities(true))
	AddSearchTool(s, index)
	AddStatusTool(s, index)
	AddAnalyzeTool(s, index)
	return &Server{mcp: s, logger: logger.Named("mcp")}
}

// Serve speaks MCP over in and out until ctx is cancelled or in closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info(ctx, "starting MCP server on stdio", zap.Strings("tools", toolNames))
	if err := server.NewStdioServer(s.mcp).Listen(ctx, in, out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
