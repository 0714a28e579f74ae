package mcp

import (
	"context"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/hybridsearch/internal/app"
)

const (
	// ServerName is the MCP server name
	ServerName = "hybridsearch"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Server exposes the retrieval API of a container as MCP tools
type Server struct {
	mcp       *server.MCPServer
	container *app.Container
	logger    *slog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(c *app.Container, opts ...Option) *Server {
	s := &Server{
		mcp:       server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		container: c,
		logger:    slog.Default().With("component", "mcp"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerTools()
	return s
}

// Serve speaks MCP over the given streams until ctx is cancelled or in closes
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	s.logger.Info("MCP server ready", "name", ServerName, "version", ServerVersion)
	err := stdio.Listen(ctx, in, out)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(hybridSearchTool(), s.handleHybridSearch)
	s.mcp.AddTool(listResourcesTool(), s.handleListResources)
	s.mcp.AddTool(queryRelevantDocumentsTool(), s.handleQueryRelevantDocuments)
	s.mcp.AddTool(getStatisticsTool(), s.handleGetStatistics)
	s.mcp.AddTool(indexWorkspaceTool(), s.handleIndexWorkspace)
	s.mcp.AddTool(fetchContentTool(), s.handleFetchContent)
}
