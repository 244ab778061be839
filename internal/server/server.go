package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kanri/internal/ratelimit"
	"github.com/ashita-ai/kanri/internal/service/dispatch"
	"github.com/ashita-ai/kanri/internal/service/ingest"
	"github.com/ashita-ai/kanri/internal/service/metrics"
	"github.com/ashita-ai/kanri/internal/service/rootcause"
	"github.com/ashita-ai/kanri/internal/service/workflow"
	"github.com/ashita-ai/kanri/internal/store"
)

// Server is the Kanri HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Limiter, Broker, Storage, MCPServer, OpenAPISpec,
// Middlewares.
type ServerConfig struct {
	// Required dependencies.
	Store      *store.Store
	Ingest     *ingest.Pipeline
	Dispatcher *dispatch.Dispatcher
	Workflows  *workflow.Evaluator
	Analyzer   *rootcause.Analyzer
	Metrics    *metrics.Aggregator
	Logger     *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter     ratelimit.Limiter
	Broker      *Broker
	Storage     Pinger
	StorageName string
	MCPServer   *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64

	OpenAPISpec []byte // Embedded OpenAPI YAML.

	// Middlewares wrap the whole handler, first entry outermost.
	Middlewares []func(http.Handler) http.Handler
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Store:               cfg.Store,
		Ingest:              cfg.Ingest,
		Dispatcher:          cfg.Dispatcher,
		Workflows:           cfg.Workflows,
		Analyzer:            cfg.Analyzer,
		Metrics:             cfg.Metrics,
		Broker:              cfg.Broker,
		Storage:             cfg.Storage,
		StorageName:         cfg.StorageName,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.Limiter != nil {
		limiter = cfg.Limiter
	}
	ingestRL := ratelimit.Middleware(limiter, ratelimit.IPKeyFunc, reqIDFunc, cfg.Logger)

	mux := http.NewServeMux()

	// Event ingestion (rate limited by client IP).
	mux.Handle("POST /api/events", ingestRL(http.HandlerFunc(h.HandleSubmitEvent)))

	// Entity queries.
	mux.HandleFunc("GET /api/alerts", h.HandleListAlerts)
	mux.HandleFunc("GET /api/alerts/{id}", h.HandleGetAlert)
	mux.HandleFunc("GET /api/patches", h.HandleListPatches)
	mux.HandleFunc("GET /api/tasks", h.HandleListTasks)
	mux.HandleFunc("GET /api/agents", h.HandleListAgents)
	mux.HandleFunc("GET /api/automations", h.HandleListAutomations)
	mux.HandleFunc("GET /api/dashboard/metrics", h.HandleDashboardMetrics)
	mux.HandleFunc("GET /api/rca", h.HandleListRootCauses)
	mux.HandleFunc("GET /api/rca/{alert_id}", h.HandleGetRootCause)
	mux.HandleFunc("GET /api/workflows", h.HandleListWorkflows)
	mux.HandleFunc("GET /api/policies", h.HandleListPolicies)

	// Operator actions.
	mux.HandleFunc("POST /api/alerts/{id}/acknowledge", h.HandleAcknowledgeAlert)
	mux.HandleFunc("POST /api/alerts/{id}/resolve", h.HandleResolveAlert)
	mux.HandleFunc("POST /api/alerts/{id}/analyze", h.HandleAnalyzeAlert)
	mux.HandleFunc("POST /api/agents/{id}/complete", h.HandleCompleteAgent)
	mux.HandleFunc("POST /api/workflows", h.HandleCreateWorkflow)
	mux.HandleFunc("PUT /api/policies/{id}", h.HandlePutPolicy)

	// Live activity stream (long-lived, no rate limit).
	mux.HandleFunc("GET /api/subscribe", h.HandleSubscribe)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
