// Package kanri is the public API for embedding the Kanri IT operations
// engine: event ingestion, workflow evaluation, agent dispatch, root cause
// analysis, and the HTTP/MCP surface over them.
//
//	app, err := kanri.New(
//	    kanri.WithVersion(version),
//	    kanri.WithLogger(logger),
//	    kanri.WithExecutor("patch-bot", myPatchExecutor{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph is one-way: kanri (root) imports internal/*, but
// internal/* never imports kanri (root). Public types (Action, Agent,
// Result) carry no internal types; the adapters that convert between the
// two live here.
package kanri

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/kanri/api"
	"github.com/ashita-ai/kanri/internal/agents"
	"github.com/ashita-ai/kanri/internal/config"
	"github.com/ashita-ai/kanri/internal/mcp"
	"github.com/ashita-ai/kanri/internal/model"
	"github.com/ashita-ai/kanri/internal/ratelimit"
	"github.com/ashita-ai/kanri/internal/server"
	"github.com/ashita-ai/kanri/internal/service/dispatch"
	"github.com/ashita-ai/kanri/internal/service/ingest"
	"github.com/ashita-ai/kanri/internal/service/metrics"
	"github.com/ashita-ai/kanri/internal/service/rootcause"
	"github.com/ashita-ai/kanri/internal/service/workflow"
	"github.com/ashita-ai/kanri/internal/storage"
	"github.com/ashita-ai/kanri/internal/storage/sqlite"
	"github.com/ashita-ai/kanri/internal/store"
	"github.com/ashita-ai/kanri/internal/telemetry"
	"github.com/ashita-ai/kanri/migrations"
)

// ErrDeferred is returned by an Executor that accepted work which will be
// reported later through the completion endpoint.
var ErrDeferred = model.ErrDeferred

const shutdownPhaseTimeout = 10 * time.Second

// App is the Kanri server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	store        *store.Store
	dispatcher   *dispatch.Dispatcher
	pipeline     *ingest.Pipeline
	aggregator   *metrics.Aggregator
	limiter      ratelimit.Limiter
	srv          *server.Server
	closeStorage func()
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
	started      atomic.Bool
}

// New initialises Kanri. It opens storage, restores persisted state, loads
// the definitions file, and wires every subsystem. It does NOT start any
// goroutines or accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := loadConfig(o)
	if err != nil {
		return nil, err
	}

	var defs config.Definitions
	if cfg.DefinitionsPath != "" {
		defs, err = config.LoadDefinitions(cfg.DefinitionsPath)
		if err != nil {
			return nil, err
		}
	}

	logger.Info("kanri starting", "version", version, "port", cfg.Port, "storage", cfg.StorageDriver)

	ctx := context.Background()
	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:       cfg.OTELEndpoint,
		ServiceName:    cfg.ServiceName,
		Version:        version,
		Insecure:       cfg.OTELInsecure,
		ExportInterval: cfg.OTELExportInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	persister, pinger, closeStorage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, err
	}
	fail := func(err error) (*App, error) {
		closeStorage()
		_ = otelShutdown(ctx)
		return nil, err
	}

	s := store.New(store.WithPersister(persister))
	if err := s.Load(ctx); err != nil {
		return fail(fmt.Errorf("restore state: %w", err))
	}

	dispatcher := dispatch.New(s, logger,
		dispatch.WithSuccessWeight(cfg.SuccessWeight),
		dispatch.WithQueueSize(cfg.DispatchQueueSize),
	)
	if err := provisionAgents(ctx, s, dispatcher, defs.Agents, o, logger); err != nil {
		return fail(err)
	}

	severities := make([]model.AlertSeverity, 0, len(cfg.CriticalSeverities))
	for _, sev := range cfg.CriticalSeverities {
		severities = append(severities, model.AlertSeverity(sev))
	}
	evaluator := workflow.New(s, dispatcher, logger, workflow.WithCriticalSeverities(severities...))
	if err := evaluator.Reload(ctx); err != nil {
		return fail(fmt.Errorf("reload workflows: %w", err))
	}
	if err := loadWorkflows(ctx, s, evaluator, defs, logger); err != nil {
		return fail(err)
	}

	analyzer := rootcause.New(s, logger)
	if cfg.AutoAnalyze {
		s.Subscribe(analyzer.Observe)
	}
	broker := server.NewBroker(logger)
	s.Subscribe(broker.Observe)

	aggOpts := []metrics.Option{metrics.WithTrendWindow(cfg.TrendWindow)}
	if o.health != nil {
		aggOpts = append(aggOpts, metrics.WithHealthSource(o.health))
	}
	aggregator := metrics.New(s, logger, aggOpts...)

	pipeline := ingest.New(s, evaluator, logger,
		ingest.WithWorkers(cfg.IngestWorkers),
		ingest.WithQueueSize(cfg.IngestQueueSize),
	)

	limiter := ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	logger.Info("rate limiting: memory (in-process token bucket)",
		"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)

	mcpSrv := mcp.New(s, pipeline, aggregator, analyzer, logger, version)

	middlewares := make([]func(http.Handler) http.Handler, 0, len(o.middlewares))
	for _, mw := range o.middlewares {
		middlewares = append(middlewares, mw)
	}

	srv := server.New(server.ServerConfig{
		Store:               s,
		Ingest:              pipeline,
		Dispatcher:          dispatcher,
		Workflows:           evaluator,
		Analyzer:            analyzer,
		Metrics:             aggregator,
		Logger:              logger,
		Limiter:             limiter,
		Broker:              broker,
		Storage:             pinger,
		StorageName:         cfg.StorageDriver,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
		Middlewares:         middlewares,
	})

	return &App{
		cfg:          cfg,
		store:        s,
		dispatcher:   dispatcher,
		pipeline:     pipeline,
		aggregator:   aggregator,
		limiter:      limiter,
		srv:          srv,
		closeStorage: closeStorage,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Handler returns the root HTTP handler, for tests and for callers that
// serve Kanri on their own listener.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts all background goroutines and the HTTP server, then blocks until
// ctx is cancelled or a fatal server error occurs. On return, Shutdown is called
// automatically, so callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	a.started.Store(true)
	a.pipeline.Start(ctx)
	go a.aggregator.Run(ctx, a.cfg.SnapshotInterval)
	if a.cfg.ScheduleTickInterval > 0 {
		go a.scheduleTickLoop(ctx, a.cfg.ScheduleTickInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		_ = a.Shutdown(context.Background())
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown performs a three-phase graceful shutdown:
// (1) stop accepting HTTP requests and drain in-flight,
// (2) evaluate the events already accepted,
// (3) wait for running agent executions.
// It then closes storage and the OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kanri shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, shutdownPhaseTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	// Without Run no worker exists to finish a drain.
	if a.started.Load() {
		drainCtx, drainCancel := context.WithTimeout(ctx, shutdownPhaseTimeout)
		a.pipeline.Drain(drainCtx)
		drainCancel()
	}

	dispatchCtx, dispatchCancel := context.WithTimeout(ctx, shutdownPhaseTimeout)
	err := a.dispatcher.Close(dispatchCtx)
	dispatchCancel()
	if err != nil {
		a.logger.Error("agent executions still running at shutdown", "error", err,
			"agents", a.dispatcher.Pending())
	}

	_ = a.limiter.Close()
	a.closeStorage()
	_ = a.otelShutdown(context.Background())

	a.logger.Info("kanri stopped")
	return err
}

// scheduleTickLoop emits a schedule-tick event every interval so that
// schedule-triggered workflows get a chance to run.
func (a *App) scheduleTickLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := a.pipeline.Submit(ctx, model.EventScheduleTick, map[string]any{})
			if err != nil && !errors.Is(err, ingest.ErrClosed) {
				a.logger.Warn("schedule tick not submitted", "error", err)
			}
		}
	}
}

func loadConfig(o resolvedOptions) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.storage != "" {
		cfg.StorageDriver = o.storage
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.definitionsPath != "" {
		cfg.DefinitionsPath = o.definitionsPath
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openStorage returns the persister behind the entity store, the pinger
// used by /health (nil for memory), and a close function.
func openStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Persister, server.Pinger, func(), error) {
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		db, err := storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("storage: %w", err)
		}
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("migrations: %w", err)
		}
		return db, db, db.Close, nil

	case config.StorageSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("storage: %w", err)
		}
		closeFn := func() {
			if err := db.Close(); err != nil {
				logger.Warn("sqlite close failed", "error", err)
			}
		}
		return db, db, closeFn, nil

	default:
		logger.Info("storage: memory (state is lost on restart)")
		return nil, nil, func() {}, nil
	}
}

// provisionAgents registers the agents named in the definitions file and
// binds their executors. Agents already restored from storage keep their
// counters; only the display name is refreshed.
func provisionAgents(ctx context.Context, s *store.Store, d *dispatch.Dispatcher, defs []config.AgentDef, o resolvedOptions, logger *slog.Logger) error {
	for _, def := range defs {
		_, err := s.RegisterAgent(ctx, model.Agent{ID: def.ID, Type: def.Type, Name: def.Name})
		switch {
		case errors.Is(err, model.ErrAlreadyExists):
			if def.Name != "" {
				if _, err := s.RenameAgent(ctx, def.ID, def.Name); err != nil {
					return fmt.Errorf("agent %s: %w", def.ID, err)
				}
			}
		case err != nil:
			return fmt.Errorf("agent %s: %w", def.ID, err)
		}

		if _, ok := o.executors[def.ID]; ok {
			continue
		}
		exec, err := agents.Build(agents.Spec{
			Kind:    agents.Kind(def.Executor.Kind),
			Ops:     def.Executor.Ops,
			URL:     def.Executor.URL,
			Token:   def.Executor.Token,
			Timeout: def.Executor.Timeout,
			Latency: def.Executor.Latency,
		})
		if err != nil {
			return fmt.Errorf("agent %s: %w", def.ID, err)
		}
		d.RegisterAgentExecutor(def.ID, exec)
		logger.Info("agent provisioned", "agent_id", def.ID, "type", def.Type, "executor", def.Executor.Kind)
	}

	for id, e := range o.executors {
		d.RegisterAgentExecutor(id, executorAdapter{e})
	}
	for t, e := range o.typeExecutors {
		d.RegisterTypeExecutor(model.AgentType(t), executorAdapter{e})
	}
	return nil
}

// loadWorkflows adds the definitions file's workflows and policies.
// Workflows restored from storage keep their stored definition; a
// malformed workflow is stored disabled and does not stop startup.
func loadWorkflows(ctx context.Context, s *store.Store, e *workflow.Evaluator, defs config.Definitions, logger *slog.Logger) error {
	for _, w := range defs.Workflows {
		_, err := e.AddWorkflow(ctx, w)
		switch {
		case err == nil:
		case errors.Is(err, model.ErrAlreadyExists):
			logger.Debug("workflow already stored", "workflow_id", w.ID)
		case errors.Is(err, model.ErrMalformedWorkflow):
			logger.Warn("workflow loaded disabled", "workflow_id", w.ID, "error", err)
		default:
			return fmt.Errorf("workflow %s: %w", w.ID, err)
		}
	}
	for _, p := range defs.Policies {
		if _, err := workflow.ParseWindow(p.MaintenanceWindow); err != nil {
			return fmt.Errorf("policy %s: %w", p.ID, err)
		}
		if err := s.PutPolicy(ctx, p); err != nil {
			return fmt.Errorf("policy %s: %w", p.ID, err)
		}
	}
	return nil
}

// executorAdapter exposes a public Executor to the dispatcher.
type executorAdapter struct {
	e Executor
}

func (a executorAdapter) CanHandle(spec model.ActionSpec) bool {
	return a.e.CanHandle(toPublicAction(spec))
}

func (a executorAdapter) Execute(ctx context.Context, agent model.Agent, spec model.ActionSpec) (model.ExecutionResult, error) {
	res, err := a.e.Execute(ctx, toPublicAgent(agent), toPublicAction(spec))
	if err != nil {
		return model.ExecutionResult{}, err
	}
	return model.ExecutionResult{
		Outcome:          model.Outcome(res.Outcome),
		Details:          res.Details,
		SystemsSucceeded: res.SystemsSucceeded,
		SystemsFailed:    res.SystemsFailed,
		Progress:         res.Progress,
	}, nil
}

func toPublicAction(spec model.ActionSpec) Action {
	return Action{
		Op:         spec.Op,
		AgentType:  string(spec.AgentType),
		Params:     spec.Params,
		EntityKind: string(spec.Entity.Kind),
		EntityID:   spec.Entity.ID,
		WorkflowID: spec.WorkflowID,
		EventID:    spec.EventID,
		Attempt:    spec.Attempt,
	}
}

func toPublicAgent(a model.Agent) Agent {
	return Agent{
		ID:             a.ID,
		Type:           string(a.Type),
		Name:           a.Name,
		TasksCompleted: a.TasksCompleted,
		SuccessRate:    a.SuccessRate,
	}
}
