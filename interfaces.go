package kanri

import (
	"context"
	"net/http"
)

// Executor carries out actions for one agent. When provided via
// WithExecutor it replaces the executor named in the definitions file.
// Execute runs on its own goroutine and may block; returning ErrDeferred
// leaves the agent processing until the work is completed through
// POST /api/agents/{id}/complete.
type Executor interface {
	CanHandle(action Action) bool
	Execute(ctx context.Context, agent Agent, action Action) (Result, error)
}

// ExecutorFunc adapts a function into an Executor that accepts every action.
type ExecutorFunc func(ctx context.Context, agent Agent, action Action) (Result, error)

// CanHandle implements Executor.
func (f ExecutorFunc) CanHandle(Action) bool { return true }

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, agent Agent, action Action) (Result, error) {
	return f(ctx, agent, action)
}

// HealthSource reports system uptime as a percentage for the dashboard.
// Without one, uptime is reported as 0.
type HealthSource interface {
	Uptime(ctx context.Context) (float64, error)
}

// Middleware wraps the root HTTP handler.
// Applied outermost (before routing), so it sees all requests including /health.
// Multiple middlewares are applied in registration order (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
