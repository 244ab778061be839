package workflow

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/kanri/internal/model"
	"github.com/ashita-ai/kanri/internal/store"
)

// Aggregate field names available to conditions.
const (
	FieldActiveAlerts   = "activeAlerts"
	FieldCriticalAlerts = "criticalAlerts"
	FieldPendingPatches = "pendingPatches"
	FieldPendingTasks   = "pendingTasks"
	FieldIdleAgents     = "idleAgents"
)

// Env is what a node sees during one run: the event, a snapshot of the
// locked entity, and aggregate counts over the store.
type Env struct {
	Event  model.Event
	Entity any
	Now    time.Time

	tx       *store.Tx
	critical []model.AlertSeverity
	fields   map[string]any
	aggs     map[string]any
}

// Store returns the store for lookups beyond the locked entity.
func (e *Env) Store() *store.Store { return e.tx.Store() }

// Field resolves a dotted name. "event.x" and "payload.x" read the event
// payload; aggregate names read store counts; anything else reads the
// entity's JSON fields, falling back to the payload.
func (e *Env) Field(name string) (any, bool) {
	switch {
	case strings.HasPrefix(name, "event."):
		return e.payload(strings.TrimPrefix(name, "event."))
	case strings.HasPrefix(name, "payload."):
		return e.payload(strings.TrimPrefix(name, "payload."))
	case name == "kind":
		return string(e.Event.Kind), true
	}
	if v, ok := e.aggregates()[name]; ok {
		return v, true
	}
	if v, ok := e.entityFields()[name]; ok {
		return v, true
	}
	return e.payload(name)
}

func (e *Env) payload(name string) (any, bool) {
	v, ok := e.Event.Payload[name]
	return v, ok
}

func (e *Env) entityFields() map[string]any {
	if e.fields != nil {
		return e.fields
	}
	e.fields = map[string]any{}
	if e.Entity == nil {
		return e.fields
	}
	raw, err := json.Marshal(e.Entity)
	if err != nil {
		return e.fields
	}
	_ = json.Unmarshal(raw, &e.fields)
	return e.fields
}

func (e *Env) aggregates() map[string]any {
	if e.aggs != nil {
		return e.aggs
	}
	s := e.tx.Store()
	var active, critical, patches, tasks, idle int
	for _, a := range s.Alerts() {
		if a.Status.Terminal() {
			continue
		}
		active++
		if slices.Contains(e.critical, a.Severity) {
			critical++
		}
	}
	for _, p := range s.Patches() {
		if p.Status == model.PatchPending {
			patches++
		}
	}
	for _, t := range s.Tasks() {
		if t.Status == model.TaskPending {
			tasks++
		}
	}
	for _, a := range s.Agents() {
		if a.Status.Available() {
			idle++
		}
	}
	e.aggs = map[string]any{
		FieldActiveAlerts:   float64(active),
		FieldCriticalAlerts: float64(critical),
		FieldPendingPatches: float64(patches),
		FieldPendingTasks:   float64(tasks),
		FieldIdleAgents:     float64(idle),
	}
	return e.aggs
}

// Comparison operators for condition predicates.
var operators = []string{">=", "<=", "!=", "==", ">", "<", "contains", "in"}

func validOperator(op string) bool { return slices.Contains(operators, op) }

// compare applies op to a field value and a configured value.
func compare(field any, op string, want any) (bool, error) {
	switch op {
	case "contains":
		switch f := field.(type) {
		case string:
			return strings.Contains(strings.ToLower(f), strings.ToLower(fmt.Sprint(want))), nil
		case []any:
			return slices.ContainsFunc(f, func(v any) bool { return looseEqual(v, want) }), nil
		default:
			return false, nil
		}
	case "in":
		list, ok := want.([]any)
		if !ok {
			return false, fmt.Errorf("operator in needs a list value")
		}
		return slices.ContainsFunc(list, func(v any) bool { return looseEqual(field, v) }), nil
	case "==":
		return looseEqual(field, want), nil
	case "!=":
		return !looseEqual(field, want), nil
	}

	// Ordering a list compares its length, so "affectedSystems > 0" works
	// for both alerts (host list) and patches (host count).
	if list, ok := field.([]any); ok {
		field = len(list)
	}
	a, aok := toFloat(field)
	b, bok := toFloat(want)
	if !aok || !bok {
		return false, fmt.Errorf("operator %s needs numeric operands, got %v and %v", op, field, want)
	}
	switch op {
	case ">":
		return a > b, nil
	case ">=":
		return a >= b, nil
	case "<":
		return a < b, nil
	case "<=":
		return a <= b, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

func looseEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}
