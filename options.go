package kanri

import (
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Callers use the With* functions.
type resolvedOptions struct {
	port            int
	storage         string
	databaseURL     string
	definitionsPath string
	logger          *slog.Logger
	version         string
	executors       map[string]Executor
	typeExecutors   map[string]Executor
	health          HealthSource
	middlewares     []Middleware
}

// WithPort overrides the TCP port from config (KANRI_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithStorage overrides the storage driver from config (KANRI_STORAGE env
// var): "memory", "postgres", or "sqlite".
func WithStorage(driver string) Option {
	return func(o *resolvedOptions) { o.storage = driver }
}

// WithDatabaseURL overrides the Postgres connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithDefinitions overrides the agents/workflows/policies file from config
// (KANRI_DEFINITIONS env var).
func WithDefinitions(path string) Option {
	return func(o *resolvedOptions) { o.definitionsPath = path }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithExecutor binds an executor to one agent ID, replacing whatever the
// definitions file configured for that agent.
func WithExecutor(agentID string, e Executor) Option {
	return func(o *resolvedOptions) {
		if o.executors == nil {
			o.executors = make(map[string]Executor)
		}
		o.executors[agentID] = e
	}
}

// WithTypeExecutor sets the fallback executor for every agent of a type
// ("patch-management", "alert-management", "routine-tasks") that has no
// executor of its own.
func WithTypeExecutor(agentType string, e Executor) Option {
	return func(o *resolvedOptions) {
		if o.typeExecutors == nil {
			o.typeExecutors = make(map[string]Executor)
		}
		o.typeExecutors[agentType] = e
	}
}

// WithHealthSource sets where the dashboard's system uptime comes from.
func WithHealthSource(h HealthSource) Option {
	return func(o *resolvedOptions) { o.health = h }
}

// WithMiddleware registers an outermost HTTP middleware.
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}
