package workflow

import (
	"fmt"

	"github.com/ashita-ai/kanri/internal/model"
)

// Config keys that shape the graph rather than a handler.
const (
	keyNext = "next"
	keyElse = "else"
)

const halt = -1

// node is one compiled workflow node. Edges are indices into Graph.nodes.
type node struct {
	id        string
	typ       model.NodeType
	label     string
	cfg       map[string]any
	next      int
	otherwise int

	trigger   TriggerHandler
	condition ConditionHandler
	action    ActionHandler
}

// Graph is a validated workflow ready for evaluation. Node 0 is the trigger.
type Graph struct {
	WorkflowID string
	nodes      []node
}

// Compile validates w against the registry and builds its graph. Edges
// follow array order unless a node names "next" (and, for conditions,
// "else") explicitly. A false condition with no else target halts the run.
func Compile(w model.Workflow, reg *Registry) (*Graph, error) {
	fail := func(nodeID, format string, args ...any) error {
		return &model.WorkflowError{WorkflowID: w.ID, NodeID: nodeID, Reason: fmt.Sprintf(format, args...)}
	}
	if len(w.Nodes) == 0 {
		return nil, fail("", "no nodes")
	}

	index := make(map[string]int, len(w.Nodes))
	for i, n := range w.Nodes {
		if n.ID == "" {
			return nil, fail("", "node %d has no id", i)
		}
		if _, dup := index[n.ID]; dup {
			return nil, fail(n.ID, "duplicate node id")
		}
		index[n.ID] = i
	}

	g := &Graph{WorkflowID: w.ID, nodes: make([]node, len(w.Nodes))}
	for i, n := range w.Nodes {
		switch {
		case i == 0 && n.Type != model.NodeTrigger:
			return nil, fail(n.ID, "first node must be a trigger")
		case i > 0 && n.Type == model.NodeTrigger:
			return nil, fail(n.ID, "only one trigger is allowed")
		}

		cn := node{id: n.ID, typ: n.Type, label: n.Label, cfg: n.Config, next: halt, otherwise: halt}
		if i+1 < len(w.Nodes) {
			cn.next = i + 1
		}
		if target, ok, err := edge(n.Config, keyNext); err != nil {
			return nil, fail(n.ID, "%v", err)
		} else if ok {
			j, found := index[target]
			if !found {
				return nil, fail(n.ID, "next references unknown node %q", target)
			}
			cn.next = j
		}
		if target, ok, err := edge(n.Config, keyElse); err != nil {
			return nil, fail(n.ID, "%v", err)
		} else if ok {
			if n.Type != model.NodeCondition {
				return nil, fail(n.ID, "else is only valid on conditions")
			}
			j, found := index[target]
			if !found {
				return nil, fail(n.ID, "else references unknown node %q", target)
			}
			cn.otherwise = j
		}

		var err error
		switch n.Type {
		case model.NodeTrigger:
			if cn.trigger, err = reg.trigger(n.Label); err == nil {
				err = cn.trigger.Validate(n.Config)
			}
		case model.NodeCondition:
			if cn.condition, err = reg.condition(n.Label); err == nil {
				err = cn.condition.Validate(n.Config)
			}
		case model.NodeAction:
			if cn.action, err = reg.action(n.Label); err == nil {
				err = cn.action.Validate(n.Config)
			}
		default:
			err = fmt.Errorf("unknown node type %q", n.Type)
		}
		if err != nil {
			return nil, fail(n.ID, "%v", err)
		}
		g.nodes[i] = cn
	}

	for _, n := range g.nodes {
		if n.next == 0 || n.otherwise == 0 {
			return nil, fail(n.id, "edges may not return to the trigger")
		}
	}
	if cycle := g.findCycle(); cycle != "" {
		return nil, fail(cycle, "cycle detected")
	}
	reached := g.reachable()
	for i, n := range g.nodes {
		if n.typ == model.NodeAction && !reached[i] {
			return nil, fail(n.id, "action is unreachable from the trigger")
		}
	}
	return g, nil
}

func edge(cfg map[string]any, key string) (string, bool, error) {
	v, ok := cfg[key]
	if !ok || v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false, fmt.Errorf("%s must be a node id", key)
	}
	return s, true, nil
}

func (g *Graph) successors(i int) []int {
	var out []int
	if n := g.nodes[i].next; n != halt {
		out = append(out, n)
	}
	if n := g.nodes[i].otherwise; n != halt {
		out = append(out, n)
	}
	return out
}

// findCycle returns the id of a node on a cycle, or "".
func (g *Graph) findCycle() string {
	const (
		white = iota
		grey
		black
	)
	color := make([]int, len(g.nodes))
	var visit func(i int) string
	visit = func(i int) string {
		color[i] = grey
		for _, j := range g.successors(i) {
			switch color[j] {
			case grey:
				return g.nodes[j].id
			case white:
				if id := visit(j); id != "" {
					return id
				}
			}
		}
		color[i] = black
		return ""
	}
	for i := range g.nodes {
		if color[i] == white {
			if id := visit(i); id != "" {
				return id
			}
		}
	}
	return ""
}

func (g *Graph) reachable() []bool {
	seen := make([]bool, len(g.nodes))
	stack := []int{0}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[i] {
			continue
		}
		seen[i] = true
		stack = append(stack, g.successors(i)...)
	}
	return seen
}
