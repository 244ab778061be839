// Package mcp implements the Model Context Protocol server for Kanri.
//
// The MCP server exposes the query and event-submission surface of the HTTP
// API as MCP tools and resources, so MCP-compatible AI agents can raise
// events, inspect alerts, and read root cause analyses.
package mcp

import (
	"encoding/json"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kanri/internal/service/ingest"
	"github.com/ashita-ai/kanri/internal/service/metrics"
	"github.com/ashita-ai/kanri/internal/service/rootcause"
	"github.com/ashita-ai/kanri/internal/store"
)

// Server wraps the MCP server with Kanri's engine components.
type Server struct {
	mcpServer *mcpserver.MCPServer
	store     *store.Store
	ingest    *ingest.Pipeline
	metrics   *metrics.Aggregator
	analyzer  *rootcause.Analyzer
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources, tools,
// and prompts registered.
func New(s *store.Store, pipeline *ingest.Pipeline, agg *metrics.Aggregator, analyzer *rootcause.Analyzer, logger *slog.Logger, version string) *Server {
	srv := &Server{
		store:    s,
		ingest:   pipeline,
		metrics:  agg,
		analyzer: analyzer,
		logger:   logger,
	}

	srv.mcpServer = mcpserver.NewMCPServer(
		"kanri",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
	)

	srv.registerResources()
	srv.registerTools()
	srv.registerPrompts()

	return srv
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

// jsonResult renders v as indented JSON text content.
func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}
