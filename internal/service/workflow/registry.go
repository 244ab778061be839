package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/ashita-ai/kanri/internal/model"
)

// TriggerHandler decides whether an event starts a workflow run.
type TriggerHandler interface {
	Validate(cfg map[string]any) error
	Match(env *Env, cfg map[string]any) bool
}

// ConditionHandler evaluates a condition node against the run environment.
type ConditionHandler interface {
	Validate(cfg map[string]any) error
	Eval(ctx context.Context, env *Env, cfg map[string]any) (bool, error)
}

// ActionHandler turns an action node's config into an ActionSpec.
type ActionHandler interface {
	Validate(cfg map[string]any) error
	Spec(env *Env, cfg map[string]any) (ActionPlan, error)
}

// ActionPlan is a resolved action node: the ActionSpec to dispatch plus the
// failure handling the node asked for.
type ActionPlan struct {
	Spec              model.ActionSpec
	Retries           int
	RollbackOnFailure bool
}

// Registry resolves (node type, label) pairs to handlers. A label with no
// specific handler falls back to the type's default, registered under "".
type Registry struct {
	mu         sync.RWMutex
	triggers   map[string]TriggerHandler
	conditions map[string]ConditionHandler
	actions    map[string]ActionHandler
}

// NewRegistry returns a registry with the built-in handlers installed.
func NewRegistry() *Registry {
	r := &Registry{
		triggers:   make(map[string]TriggerHandler),
		conditions: make(map[string]ConditionHandler),
		actions:    make(map[string]ActionHandler),
	}
	r.RegisterTrigger("", eventTrigger{})
	r.RegisterCondition("", predicateCondition{})
	r.RegisterCondition(LabelPatchPolicy, policyCondition{})
	r.RegisterAction("", dispatchAction{})
	return r
}

// RegisterTrigger installs a trigger handler for label.
func (r *Registry) RegisterTrigger(label string, h TriggerHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers[label] = h
}

// RegisterCondition installs a condition handler for label.
func (r *Registry) RegisterCondition(label string, h ConditionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conditions[label] = h
}

// RegisterAction installs an action handler for label.
func (r *Registry) RegisterAction(label string, h ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[label] = h
}

func lookup[H any](m map[string]H, label string) (H, bool) {
	if h, ok := m[label]; ok {
		return h, true
	}
	h, ok := m[""]
	return h, ok
}

func (r *Registry) trigger(label string) (TriggerHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := lookup(r.triggers, label)
	if !ok {
		return nil, fmt.Errorf("no trigger handler for label %q", label)
	}
	return h, nil
}

func (r *Registry) condition(label string) (ConditionHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := lookup(r.conditions, label)
	if !ok {
		return nil, fmt.Errorf("no condition handler for label %q", label)
	}
	return h, nil
}

func (r *Registry) action(label string) (ActionHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := lookup(r.actions, label)
	if !ok {
		return nil, fmt.Errorf("no action handler for label %q", label)
	}
	return h, nil
}
