package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashita-ai/kanri/internal/model"
)

// LabelPatchPolicy selects the condition handler that consults the patch's
// deployment policy.
const LabelPatchPolicy = "patch-policy"

// Config keys read by the built-in handlers.
const (
	keyEvent             = "event"
	keyField             = "field"
	keyOp                = "op"
	keyValue             = "value"
	keyExpr              = "expr"
	keyPolicyID          = "policyId"
	keyAgentType         = "agentType"
	keyParams            = "params"
	keyRetries           = "retries"
	keyRollbackOnFailure = "rollbackOnFailure"
)

func structural(key string) bool { return key == keyNext || key == keyElse }

// eventTrigger matches on event kind plus equality predicates for every
// other config key, e.g. {"event": "alert-created", "severity": "critical"}.
type eventTrigger struct{}

func (eventTrigger) kinds(cfg map[string]any) ([]model.EventKind, error) {
	var raw []any
	switch v := cfg[keyEvent].(type) {
	case string:
		raw = []any{v}
	case []any:
		raw = v
	case []string:
		for _, s := range v {
			raw = append(raw, s)
		}
	default:
		return nil, fmt.Errorf("trigger needs an event kind")
	}
	kinds := make([]model.EventKind, 0, len(raw))
	for _, r := range raw {
		s, _ := r.(string)
		k := model.EventKind(s)
		if !k.Valid() {
			return nil, fmt.Errorf("unknown event kind %q", s)
		}
		kinds = append(kinds, k)
	}
	if len(kinds) == 0 {
		return nil, fmt.Errorf("trigger needs an event kind")
	}
	return kinds, nil
}

func (t eventTrigger) Validate(cfg map[string]any) error {
	_, err := t.kinds(cfg)
	return err
}

func (t eventTrigger) Match(env *Env, cfg map[string]any) bool {
	kinds, err := t.kinds(cfg)
	if err != nil {
		return false
	}
	matched := false
	for _, k := range kinds {
		if k == env.Event.Kind {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for key, want := range cfg {
		if key == keyEvent || structural(key) {
			continue
		}
		got, ok := env.Field(key)
		if !ok {
			return false
		}
		if list, isList := want.([]any); isList {
			if ok, _ := compare(got, "in", list); !ok {
				return false
			}
			continue
		}
		if !looseEqual(got, want) {
			return false
		}
	}
	return true
}

// predicate is a parsed "field op value" condition.
type predicate struct {
	field string
	op    string
	value any
}

func parsePredicate(cfg map[string]any) (predicate, error) {
	if expr, ok := cfg[keyExpr].(string); ok {
		return parseExpr(expr)
	}
	field, _ := cfg[keyField].(string)
	op, _ := cfg[keyOp].(string)
	if field == "" || op == "" {
		return predicate{}, fmt.Errorf("condition needs field and op, or expr")
	}
	if !validOperator(op) {
		return predicate{}, fmt.Errorf("unknown operator %q", op)
	}
	p := predicate{field: field, op: op, value: cfg[keyValue]}
	if op == "in" {
		if _, ok := p.value.([]any); !ok {
			return predicate{}, fmt.Errorf("operator in needs a list value")
		}
	}
	return p, nil
}

// parseExpr reads "field op value". The value is the rest of the string;
// quotes are stripped and a JSON array or number is decoded.
func parseExpr(expr string) (predicate, error) {
	parts := strings.Fields(expr)
	if len(parts) < 3 {
		return predicate{}, fmt.Errorf("expr %q is not field op value", expr)
	}
	if !validOperator(parts[1]) {
		return predicate{}, fmt.Errorf("unknown operator %q", parts[1])
	}
	raw := strings.Join(parts[2:], " ")
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = strings.Trim(raw, `"'`)
	}
	if parts[1] == "in" {
		if _, ok := value.([]any); !ok {
			return predicate{}, fmt.Errorf("operator in needs a list value")
		}
	}
	return predicate{field: parts[0], op: parts[1], value: value}, nil
}

// predicateCondition is the default condition handler.
type predicateCondition struct{}

func (predicateCondition) Validate(cfg map[string]any) error {
	_, err := parsePredicate(cfg)
	return err
}

func (predicateCondition) Eval(_ context.Context, env *Env, cfg map[string]any) (bool, error) {
	p, err := parsePredicate(cfg)
	if err != nil {
		return false, err
	}
	got, ok := env.Field(p.field)
	if !ok {
		return false, nil
	}
	return compare(got, p.op, p.value)
}

// policyCondition is true when the patch's policy allows unattended
// deployment right now.
type policyCondition struct{}

func (policyCondition) Validate(cfg map[string]any) error {
	if v, ok := cfg[keyPolicyID]; ok {
		if s, _ := v.(string); s == "" {
			return fmt.Errorf("policyId must be a string")
		}
	}
	return nil
}

func (policyCondition) Eval(_ context.Context, env *Env, cfg map[string]any) (bool, error) {
	id, _ := cfg[keyPolicyID].(string)
	if id == "" {
		p, ok := env.Entity.(model.Patch)
		if !ok || p.PolicyID == "" {
			return false, nil
		}
		id = p.PolicyID
	}
	policy, err := env.Store().Policy(id)
	if err != nil {
		return false, nil
	}
	if !policy.AutoDeployment || policy.ApprovalRequired {
		return false, nil
	}
	w, err := ParseWindow(policy.MaintenanceWindow)
	if err != nil {
		return false, fmt.Errorf("policy %s: %w", policy.ID, err)
	}
	return w.Contains(env.Now), nil
}

// dispatchAction is the default action handler: it dispatches op to an
// agent of agentType.
type dispatchAction struct{}

func (dispatchAction) Validate(cfg map[string]any) error {
	t, _ := cfg[keyAgentType].(string)
	if !model.AgentType(t).Valid() {
		return fmt.Errorf("unknown agentType %q", t)
	}
	if op, _ := cfg[keyOp].(string); op == "" {
		return fmt.Errorf("action needs an op")
	}
	if v, ok := cfg[keyParams]; ok && v != nil {
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("params must be an object")
		}
	}
	if v, ok := cfg[keyRetries]; ok {
		if n, ok := toInt(v); !ok || n < 0 {
			return fmt.Errorf("retries must be a non-negative integer")
		}
	}
	if v, ok := cfg[keyRollbackOnFailure]; ok {
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("rollbackOnFailure must be a boolean")
		}
	}
	return nil
}

func (dispatchAction) Spec(env *Env, cfg map[string]any) (ActionPlan, error) {
	t, _ := cfg[keyAgentType].(string)
	op, _ := cfg[keyOp].(string)
	params, _ := cfg[keyParams].(map[string]any)
	retries, _ := toInt(cfg[keyRetries])
	rollback, _ := cfg[keyRollbackOnFailure].(bool)
	return ActionPlan{
		Spec: model.ActionSpec{
			Op:        op,
			AgentType: model.AgentType(t),
			Params:    params,
			Entity:    env.Event.Entity,
			EventID:   env.Event.ID,
			Attempt:   1,
		},
		Retries:           retries,
		RollbackOnFailure: rollback,
	}, nil
}
