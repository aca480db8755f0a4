// Package mcpserver exposes the memory store as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/rcliao/memkeeper/internal/lifecycle"
	"github.com/rcliao/memkeeper/internal/model"
	"github.com/rcliao/memkeeper/internal/search"
	"github.com/rcliao/memkeeper/internal/store"
)

// Store is the record persistence the tools need.
type Store interface {
	Write(ctx context.Context, p store.WriteParams) (*model.Record, error)
	Read(ctx context.Context, id string) (*model.Record, error)
	History(ctx context.Context, id string) ([]model.Record, error)
	SoftDelete(ctx context.Context, id, reason string) error
	AddRelation(ctx context.Context, from, to, kind string, weight float64) (*model.Relation, error)
	RemoveRelation(ctx context.Context, from, to, kind string) error
}

// Searcher ranks records for a query.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

// Maintainer runs a lifecycle pass.
type Maintainer interface {
	Run(ctx context.Context, p lifecycle.Policy, now time.Time) (*lifecycle.Result, error)
}

// Server wires memory operations to MCP tools.
type Server struct {
	store      Store
	searcher   Searcher
	maintainer Maintainer
	policy     lifecycle.Policy
	now        func() time.Time
	logger     zerolog.Logger
	mcp        *server.MCPServer
}

// Option configures a Server.
type Option func(*Server)

// WithPolicy sets the policy memory_maintain starts from.
func WithPolicy(p lifecycle.Policy) Option {
	return func(s *Server) { s.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithClock overrides the pass time used by memory_maintain.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a Server and registers every tool.
func New(st Store, searcher Searcher, maintainer Maintainer, version string, opts ...Option) *Server {
	s := &Server{
		store:      st,
		searcher:   searcher,
		maintainer: maintainer,
		policy:     lifecycle.DefaultPolicy(),
		now:        time.Now,
		logger:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With().Str("component", "mcp").Logger()

	s.mcp = server.NewMCPServer("memkeeper", version, server.WithToolCapabilities(false))
	s.registerTools()
	return s
}

// MCP returns the underlying MCP server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// Serve speaks MCP over in/out until ctx is done or in closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info().Msg("serving MCP over stdio")
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(writeTool(), s.handleWrite)
	s.mcp.AddTool(readTool(), s.handleRead)
	s.mcp.AddTool(searchTool(), s.handleSearch)
	s.mcp.AddTool(relateTool(), s.handleRelate)
	s.mcp.AddTool(forgetTool(), s.handleForget)
	s.mcp.AddTool(maintainTool(), s.handleMaintain)
}

// jsonResult renders v as a text result. Failures become tool errors, never
// transport errors.
func (s *Server) jsonResult(tool string, v any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		s.logger.Warn().Err(err).Str("tool", tool).Msg("tool call failed")
		return mcp.NewToolResultError(err.Error()), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
