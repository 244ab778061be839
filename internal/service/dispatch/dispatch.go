// Package dispatch assigns actions to agents and runs them asynchronously.
//
// Dispatch claims the best available agent of the requested type atomically
// in the store, starts the agent's executor on its own goroutine, and
// returns once the work is accepted. When the executor finishes (or an
// external caller reports completion for deferred work) the agent's
// counters are updated, the agent returns to idle, and the caller's
// continuation runs. Work rejected with model.ErrAgentBusy may be queued
// per agent type and is drained as agents complete.
package dispatch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/kanri/internal/model"
	"github.com/ashita-ai/kanri/internal/store"
	"github.com/ashita-ai/kanri/internal/telemetry"
)

// Defaults.
const (
	DefaultSuccessWeight = 0.1
	DefaultQueueSize     = 64
)

// Executor performs one action on behalf of an agent. Execute may block; it
// always runs on its own goroutine. Returning model.ErrDeferred leaves the
// agent processing until Complete is called for it.
type Executor interface {
	CanHandle(spec model.ActionSpec) bool
	Execute(ctx context.Context, agent model.Agent, spec model.ActionSpec) (model.ExecutionResult, error)
}

// ExecutorFunc adapts a function into an Executor that handles every spec.
type ExecutorFunc func(ctx context.Context, agent model.Agent, spec model.ActionSpec) (model.ExecutionResult, error)

// CanHandle implements Executor.
func (f ExecutorFunc) CanHandle(model.ActionSpec) bool { return true }

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, agent model.Agent, spec model.ActionSpec) (model.ExecutionResult, error) {
	return f(ctx, agent, spec)
}

// Completion is handed to a continuation once an action has finished.
// Agent is the agent after release; it is zero when queued work could not
// be assigned at all.
type Completion struct {
	Agent    model.Agent
	Spec     model.ActionSpec
	Result   model.ExecutionResult
	Sequence int64
}

// Continuation runs after an action completes. It is called exactly once
// per accepted action.
type Continuation func(ctx context.Context, c Completion)

// Acceptance is returned when work is taken on.
type Acceptance struct {
	AgentID   string
	AgentName string
	Sequence  int64
	// Queued is set when no agent was free and the work waits in the
	// per-type queue. Position is its 1-based place in that queue.
	Queued   bool
	Position int
}

type work struct {
	spec     model.ActionSpec
	seq      int64
	onDone   Continuation
	deferred bool
}

// Dispatcher routes ActionSpecs to agents.
type Dispatcher struct {
	store     *store.Store
	logger    *slog.Logger
	weight    float64
	queueSize int

	mu       sync.Mutex
	byID     map[string]Executor
	byType   map[model.AgentType]Executor
	inflight map[string]*work
	queues   map[model.AgentType][]*work

	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup

	tracer      trace.Tracer
	completions metric.Int64Counter
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSuccessWeight sets w in successRate = (1-w)*old + w*score.
func WithSuccessWeight(w float64) Option {
	return func(d *Dispatcher) {
		if w > 0 && w <= 1 {
			d.weight = w
		}
	}
}

// WithQueueSize bounds each per-type queue.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// New creates a dispatcher over s.
func New(s *store.Store, logger *slog.Logger, opts ...Option) *Dispatcher {
	runCtx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		store:     s,
		logger:    logger,
		weight:    DefaultSuccessWeight,
		queueSize: DefaultQueueSize,
		byID:      make(map[string]Executor),
		byType:    make(map[model.AgentType]Executor),
		inflight:  make(map[string]*work),
		queues:    make(map[model.AgentType][]*work),
		runCtx:    runCtx,
		cancelRun: cancel,
		tracer:    telemetry.Tracer("kanri/dispatch"),
	}
	for _, o := range opts {
		o(d)
	}
	d.registerMetrics()
	return d
}

// RegisterAgentExecutor binds an executor to one agent id. It takes
// precedence over the type executor.
func (d *Dispatcher) RegisterAgentExecutor(agentID string, e Executor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID[agentID] = e
}

// RegisterTypeExecutor binds the fallback executor for an agent type.
func (d *Dispatcher) RegisterTypeExecutor(t model.AgentType, e Executor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byType[t] = e
}

// Dispatch claims an agent of spec.AgentType and starts the action. The
// returned error is one of model.ErrNoCapableAgent, model.ErrAgentUnavailable,
// or model.ErrAgentBusy (all wrapped), or a persistence failure.
func (d *Dispatcher) Dispatch(ctx context.Context, spec model.ActionSpec, onDone Continuation) (Acceptance, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("agent_type", string(spec.AgentType)),
			attribute.String("op", spec.Op),
			attribute.String("entity", spec.Entity.String()),
		))
	defer span.End()

	w := &work{spec: spec, seq: d.store.ReserveSequence(), onDone: onDone}
	agent, err := d.claim(ctx, w)
	if err != nil {
		span.RecordError(err)
		return Acceptance{}, fmt.Errorf("dispatch: %w", err)
	}
	return Acceptance{AgentID: agent.ID, AgentName: agent.Name, Sequence: w.seq}, nil
}

// Enqueue parks work for spec.AgentType until an agent of that type
// completes. It is meant for callers that received model.ErrAgentBusy.
func (d *Dispatcher) Enqueue(_ context.Context, spec model.ActionSpec, onDone Continuation) (Acceptance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := d.queues[spec.AgentType]
	if len(q) >= d.queueSize {
		return Acceptance{}, fmt.Errorf("dispatch: %s queue: %w", spec.AgentType, model.ErrQueueFull)
	}
	w := &work{spec: spec, seq: d.store.ReserveSequence(), onDone: onDone}
	d.queues[spec.AgentType] = append(q, w)
	return Acceptance{Sequence: w.seq, Queued: true, Position: len(q) + 1}, nil
}

// QueueDepth returns the number of queued actions for t.
func (d *Dispatcher) QueueDepth(t model.AgentType) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues[t])
}

// Kick tries to start queued work for t, e.g. after an agent was brought
// back from the error state.
func (d *Dispatcher) Kick(ctx context.Context, t model.AgentType) {
	d.drain(ctx, t)
}

func (d *Dispatcher) claim(ctx context.Context, w *work) (model.Agent, error) {
	agent, err := d.store.ClaimAgent(ctx, w.spec.AgentType, w.spec.TaskRef(), pickAgent)
	if err != nil {
		return model.Agent{}, err
	}
	d.mu.Lock()
	d.inflight[agent.ID] = w
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(agent, w)
	return agent, nil
}

// pickAgent prefers the highest success rate, then the agent idle longest,
// then the lowest id.
func pickAgent(candidates []model.Agent) int {
	best := 0
	for i := 1; i < len(candidates); i++ {
		if compareAgents(candidates[i], candidates[best]) < 0 {
			best = i
		}
	}
	return best
}

func compareAgents(a, b model.Agent) int {
	if c := cmp.Compare(b.SuccessRate, a.SuccessRate); c != 0 {
		return c
	}
	if c := a.LastActive.Compare(b.LastActive); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func (d *Dispatcher) executor(agent model.Agent) Executor {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.byID[agent.ID]; ok {
		return e
	}
	return d.byType[agent.Type]
}

func (d *Dispatcher) run(agent model.Agent, w *work) {
	defer d.wg.Done()
	ctx := d.runCtx

	exec := d.executor(agent)
	if exec == nil || !exec.CanHandle(w.spec) {
		_ = d.finish(ctx, agent.ID, w, model.ExecutionResult{
			Outcome: model.OutcomeFailed,
			Details: fmt.Sprintf("agent %s cannot handle op %q", agent.ID, w.spec.Op),
		})
		return
	}

	res, err := exec.Execute(ctx, agent, w.spec)
	switch {
	case errors.Is(err, model.ErrDeferred):
		d.mu.Lock()
		w.deferred = true
		d.mu.Unlock()
		d.logger.Info("dispatch: execution deferred", "agent_id", agent.ID, "op", w.spec.Op, "entity", w.spec.Entity.String())
		return
	case err != nil:
		d.logger.Warn("dispatch: execution failed", "agent_id", agent.ID, "op", w.spec.Op, "error", err)
		res = model.ExecutionResult{Outcome: model.OutcomeFailed, Details: err.Error()}
	}
	if err := d.finish(ctx, agent.ID, w, res); err != nil {
		d.logger.Error("dispatch: release after execution", "agent_id", agent.ID, "error", err)
	}
}

// Complete reports the outcome of the agent's current action. It is used for
// deferred work and by external watchdogs; completing an agent that is not
// processing returns model.ErrInvalidTransition.
func (d *Dispatcher) Complete(ctx context.Context, agentID string, res model.ExecutionResult) error {
	return d.finish(context.WithoutCancel(ctx), agentID, nil, res)
}

// finish releases the agent and runs the continuation. want is the work the
// caller believes is running; a mismatch means an external Complete already
// finished it and the agent may have moved on, so the result is dropped.
func (d *Dispatcher) finish(ctx context.Context, agentID string, want *work, res model.ExecutionResult) error {
	res = res.Normalize()

	d.mu.Lock()
	w := d.inflight[agentID]
	if want != nil && w != want {
		d.mu.Unlock()
		d.logger.Info("dispatch: stale completion ignored", "agent_id", agentID, "op", want.spec.Op)
		return nil
	}
	delete(d.inflight, agentID)
	d.mu.Unlock()

	agent, err := d.store.ReleaseAgent(ctx, agentID, d.rate(res.Outcome))
	if err != nil {
		if w != nil {
			// Release failed; keep the work so a later Complete can retry.
			d.mu.Lock()
			d.inflight[agentID] = w
			d.mu.Unlock()
		}
		return fmt.Errorf("dispatch: complete %s: %w", agentID, err)
	}
	d.completions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent_type", string(agent.Type)),
		attribute.String("outcome", string(res.Outcome)),
	))

	if w == nil {
		d.logger.Warn("dispatch: completion without tracked work", "agent_id", agentID)
	} else if w.onDone != nil {
		w.onDone(ctx, Completion{Agent: agent, Spec: w.spec, Result: res, Sequence: w.seq})
	}
	d.drain(ctx, agent.Type)
	return nil
}

func (d *Dispatcher) rate(o model.Outcome) func(float64) float64 {
	var score float64
	switch o {
	case model.OutcomeSuccess:
		score = 100
	case model.OutcomePartial:
		score = 50
	}
	return func(old float64) float64 {
		return (1-d.weight)*old + d.weight*score
	}
}

// drain starts queued work for t until no agent is free.
func (d *Dispatcher) drain(ctx context.Context, t model.AgentType) {
	for {
		d.mu.Lock()
		q := d.queues[t]
		if len(q) == 0 {
			d.mu.Unlock()
			return
		}
		w := q[0]
		d.queues[t] = q[1:]
		d.mu.Unlock()

		_, err := d.claim(ctx, w)
		switch {
		case err == nil:
			continue
		case errors.Is(err, model.ErrAgentBusy):
			d.mu.Lock()
			d.queues[t] = append([]*work{w}, d.queues[t]...)
			d.mu.Unlock()
			return
		default:
			d.logger.Warn("dispatch: queued work cannot be assigned", "agent_type", t, "op", w.spec.Op, "error", err)
			if w.onDone != nil {
				w.onDone(ctx, Completion{
					Spec:     w.spec,
					Result:   model.ExecutionResult{Outcome: model.OutcomeFailed, Details: err.Error()},
					Sequence: w.seq,
				})
			}
		}
	}
}

// Pending lists agents whose work is deferred awaiting Complete.
func (d *Dispatcher) Pending() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []string
	for id, w := range d.inflight {
		if w.deferred {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Close cancels running executions and waits for their goroutines, bounded
// by ctx. Deferred work stays recorded on the agents.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.cancelRun()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatch: close: %w", ctx.Err())
	}
}

func (d *Dispatcher) registerMetrics() {
	meter := telemetry.Meter("kanri/dispatch")
	d.completions, _ = meter.Int64Counter("kanri.dispatch.completions",
		metric.WithDescription("Completed agent actions by outcome"),
	)
	_, _ = meter.Int64ObservableGauge("kanri.dispatch.queue_depth",
		metric.WithDescription("Actions waiting for a free agent"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			d.mu.Lock()
			defer d.mu.Unlock()
			for t, q := range d.queues {
				o.Observe(int64(len(q)), metric.WithAttributes(attribute.String("agent_type", string(t))))
			}
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("kanri.dispatch.inflight",
		metric.WithDescription("Actions currently assigned to an agent"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			d.mu.Lock()
			defer d.mu.Unlock()
			o.Observe(int64(len(d.inflight)))
			return nil
		}),
	)
}
