package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/repoexplain/internal/fetcher"
	"github.com/dshills/repoexplain/internal/indexer"
	"github.com/dshills/repoexplain/internal/pipeline"
	"github.com/dshills/repoexplain/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "repoexplain"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Defaults are applied to tool calls that leave the matching argument out
type Defaults struct {
	Location   string
	Collection string
	ModelID    string
	BatchSize  int
	K          int
	RawDir     string

	NCtx            int
	MaxAnswerTokens int

	Fetch fetcher.FetchOptions
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	pipeline *pipeline.Pipeline
	open     storage.Opener
	defaults Defaults
	lock     indexer.IndexLock
	logger   *zap.Logger
}

// NewServer creates a new MCP server instance. The pipeline's Fetcher and
// Generator may be nil; the tools that need them then fail per call. open
// is used for listing collections and should not create missing stores.
func NewServer(p *pipeline.Pipeline, open storage.Opener, defaults Defaults, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		mcp:      mcpServer,
		pipeline: p,
		open:     open,
		defaults: defaults,
		logger:   logger,
	}
	s.registerTools()

	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("serving MCP on stdio", zap.String("collection", s.defaults.Collection))
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(indexRepositoryTool(), s.handleIndexRepository)
	s.mcp.AddTool(searchRepositoryTool(), s.handleSearchRepository)
	s.mcp.AddTool(askRepositoryTool(), s.handleAskRepository)
	s.mcp.AddTool(listCollectionsTool(), s.handleListCollections)
}
