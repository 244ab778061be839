// Package workflow evaluates trigger, condition, and action graphs against
// incoming events.
//
// For one event, enabled workflows run sequentially in creation order. Each
// run happens inside the event entity's store transaction, so conditions
// and dispatch see a consistent entity and a concurrent run for the same
// entity observes the result of this one. Actions are dispatched to agents;
// their completion arrives later through a continuation that appends the
// activity and drives the entity's state machine.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/kanri/internal/model"
	"github.com/ashita-ai/kanri/internal/service/dispatch"
	"github.com/ashita-ai/kanri/internal/store"
	"github.com/ashita-ai/kanri/internal/telemetry"
)

// Dispatcher is the subset of dispatch.Dispatcher the evaluator uses.
type Dispatcher interface {
	Dispatch(ctx context.Context, spec model.ActionSpec, onDone dispatch.Continuation) (dispatch.Acceptance, error)
	Enqueue(ctx context.Context, spec model.ActionSpec, onDone dispatch.Continuation) (dispatch.Acceptance, error)
}

// Evaluator runs workflows.
type Evaluator struct {
	store    *store.Store
	disp     Dispatcher
	reg      *Registry
	logger   *slog.Logger
	now      func() time.Time
	critical []model.AlertSeverity

	mu     sync.RWMutex
	graphs map[string]*Graph

	tracer     trace.Tracer
	activities metric.Int64Counter
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithRegistry replaces the built-in handler registry.
func WithRegistry(r *Registry) Option {
	return func(e *Evaluator) { e.reg = r }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// WithCriticalSeverities sets which alert severities count as critical in
// the criticalAlerts aggregate.
func WithCriticalSeverities(sev ...model.AlertSeverity) Option {
	return func(e *Evaluator) {
		if len(sev) > 0 {
			e.critical = sev
		}
	}
}

// New creates an evaluator.
func New(s *store.Store, d Dispatcher, logger *slog.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{
		store:    s,
		disp:     d,
		reg:      NewRegistry(),
		logger:   logger,
		now:      time.Now,
		critical: []model.AlertSeverity{model.AlertCritical},
		graphs:   make(map[string]*Graph),
		tracer:   telemetry.Tracer("kanri/workflow"),
	}
	for _, o := range opts {
		o(e)
	}
	e.activities, _ = telemetry.Meter("kanri/workflow").Int64Counter("kanri.workflow.activities",
		metric.WithDescription("Automation activities recorded by outcome"),
	)
	return e
}

// Registry returns the handler registry, for installing custom handlers
// before workflows are loaded.
func (e *Evaluator) Registry() *Registry { return e.reg }

// AddWorkflow compiles and stores a workflow. A workflow that fails
// validation is still stored, disabled, with its load error recorded; the
// returned error wraps model.ErrMalformedWorkflow.
func (e *Evaluator) AddWorkflow(ctx context.Context, w model.Workflow) (model.Workflow, error) {
	g, cerr := Compile(w, e.reg)
	if cerr != nil {
		w.Enabled = false
		w.LoadError = cerr.Error()
	} else {
		w.LoadError = ""
	}
	stored, err := e.store.AddWorkflow(ctx, w)
	if err != nil {
		return model.Workflow{}, fmt.Errorf("workflow: add: %w", err)
	}
	if cerr != nil {
		e.logger.Warn("workflow: disabled at load", "workflow_id", stored.ID, "error", cerr)
		return stored, fmt.Errorf("workflow: add: %w", cerr)
	}
	e.mu.Lock()
	e.graphs[stored.ID] = g
	e.mu.Unlock()
	return stored, nil
}

// Reload compiles every workflow already in the store, e.g. after
// store.Load. Malformed workflows are disabled.
func (e *Evaluator) Reload(ctx context.Context) error {
	var errs []error
	for _, w := range e.store.Workflows() {
		g, cerr := Compile(w, e.reg)
		if cerr != nil {
			e.logger.Warn("workflow: disabled at load", "workflow_id", w.ID, "error", cerr)
			if err := e.store.SetWorkflowEnabled(ctx, w.ID, false, cerr.Error()); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		e.mu.Lock()
		e.graphs[w.ID] = g
		e.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (e *Evaluator) graph(id string) *Graph {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.graphs[id]
}

// Evaluate runs every enabled workflow against ev. It returns the
// activities recorded synchronously (dispatch failures); activities for
// accepted work are appended when the agents complete. Errors from
// individual workflows are joined; model.ErrNoCapableAgent halts that
// workflow without an activity. An action whose entity has already left the
// state it starts from halts the run quietly, like a false condition.
func (e *Evaluator) Evaluate(ctx context.Context, ev model.Event) ([]model.AutomationActivity, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.evaluate",
		trace.WithAttributes(
			attribute.String("event_id", ev.ID),
			attribute.String("event_kind", string(ev.Kind)),
			attribute.String("entity", ev.Entity.String()),
		))
	defer span.End()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now().UTC()
	}

	var (
		recorded []model.AutomationActivity
		errs     []error
	)
	for _, w := range e.store.Workflows() {
		if !w.Enabled {
			continue
		}
		g := e.graph(w.ID)
		if g == nil {
			continue
		}
		if err := e.store.TouchWorkflow(ctx, w.ID, ev.Timestamp); err != nil {
			errs = append(errs, fmt.Errorf("workflow %s: %w", w.ID, err))
			continue
		}
		acts, err := e.run(ctx, g, ev)
		recorded = append(recorded, acts...)
		if err != nil {
			errs = append(errs, fmt.Errorf("workflow %s: %w", w.ID, err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
	}
	return recorded, err
}

// run executes one workflow graph under the entity lock.
func (e *Evaluator) run(ctx context.Context, g *Graph, ev model.Event) ([]model.AutomationActivity, error) {
	var recorded []model.AutomationActivity
	err := e.store.WithEntity(ctx, ev.Entity, func(tx *store.Tx) error {
		entity, err := tx.Entity()
		if err != nil {
			return err
		}
		env := &Env{Event: ev, Entity: entity, Now: e.now().UTC(), tx: tx, critical: e.critical}

		trig := g.nodes[0]
		if !trig.trigger.Match(env, trig.cfg) {
			return nil
		}
		for i := trig.next; i != halt; {
			n := g.nodes[i]
			switch n.typ {
			case model.NodeCondition:
				ok, err := n.condition.Eval(ctx, env, n.cfg)
				if err != nil {
					return fmt.Errorf("node %s: %w", n.id, err)
				}
				if ok {
					i = n.next
				} else {
					i = n.otherwise
				}
			case model.NodeAction:
				plan, err := n.action.Spec(env, n.cfg)
				if err != nil {
					return fmt.Errorf("node %s: %w", n.id, err)
				}
				plan.Spec.WorkflowID = g.WorkflowID
				plan.Spec.NodeID = n.id
				act, stop, err := e.act(ctx, tx, plan)
				if act != nil {
					recorded = append(recorded, *act)
				}
				if err != nil {
					return fmt.Errorf("node %s: %w", n.id, err)
				}
				if stop {
					return nil
				}
				// Later nodes see the accepted transition.
				if env.Entity, err = tx.Entity(); err != nil {
					return err
				}
				env.fields = nil
				env.aggs = nil
				i = n.next
			default:
				return fmt.Errorf("node %s: unexpected %s", n.id, n.typ)
			}
		}
		return nil
	})
	return recorded, err
}

// act dispatches one action. stop halts the rest of the run.
func (e *Evaluator) act(ctx context.Context, tx *store.Tx, plan ActionPlan) (*model.AutomationActivity, bool, error) {
	spec := plan.Spec
	if err := e.checkAccept(tx, spec); err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			// Another run already moved the entity on.
			e.logger.Debug("workflow: action skipped", "workflow_id", spec.WorkflowID,
				"node_id", spec.NodeID, "entity", spec.Entity.String(), "reason", err.Error())
			return nil, true, nil
		}
		return nil, true, err
	}

	onDone := e.continuation(plan)
	acc, err := e.disp.Dispatch(ctx, spec, onDone)
	if errors.Is(err, model.ErrAgentBusy) {
		acc, err = e.disp.Enqueue(ctx, spec, onDone)
	}
	switch {
	case err == nil:
	case errors.Is(err, model.ErrNoCapableAgent):
		return nil, true, err
	case errors.Is(err, model.ErrAgentUnavailable), errors.Is(err, model.ErrQueueFull):
		details := err.Error()
		act, aerr := tx.AppendActivity(model.AutomationActivity{
			Type:        activityType(spec),
			Description: fmt.Sprintf("No %s agent available for %s", spec.AgentType, describe(spec)),
			Outcome:     model.OutcomeFailed,
			Details:     &details,
			WorkflowID:  spec.WorkflowID,
			EventID:     spec.EventID,
			Entity:      spec.Entity,
		})
		if aerr != nil {
			return nil, true, aerr
		}
		e.count(ctx, act)
		return &act, true, nil
	default:
		return nil, true, err
	}

	if err := e.applyAccept(tx, spec, acc.AgentID); err != nil {
		// The agent already has the work; its completion will find the
		// entity in whatever state it is in and record the outcome.
		e.logger.Error("workflow: accept transition failed", "entity", spec.Entity.String(), "op", spec.Op, "error", err)
	}
	e.logger.Debug("workflow: action accepted",
		"workflow_id", spec.WorkflowID, "node_id", spec.NodeID, "agent_id", acc.AgentID,
		"queued", acc.Queued, "sequence", acc.Sequence)
	return nil, false, nil
}

func (e *Evaluator) count(ctx context.Context, a model.AutomationActivity) {
	e.activities.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", a.Type),
		attribute.String("outcome", string(a.Outcome)),
	))
}
