package model

import (
	"maps"
	"slices"
	"time"
)

// NodeType is the grammar position of a workflow node.
type NodeType string

const (
	NodeTrigger   NodeType = "trigger"
	NodeCondition NodeType = "condition"
	NodeAction    NodeType = "action"
)

// WorkflowNode is one step in a workflow graph. Config is interpreted by the
// handler registered for the node's (type, label) pair.
type WorkflowNode struct {
	ID     string         `json:"id" yaml:"id"`
	Type   NodeType       `json:"type" yaml:"type"`
	Label  string         `json:"label" yaml:"label"`
	Config map[string]any `json:"config" yaml:"config"`
}

// Workflow is an ordered node list. The single trigger node is the entry;
// edges follow array order unless a node names its successors explicitly.
type Workflow struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Enabled     bool           `json:"enabled" yaml:"enabled"`
	Nodes       []WorkflowNode `json:"nodes" yaml:"nodes"`
	CreatedAt   time.Time      `json:"createdAt" yaml:"createdAt"`
	LastRun     *time.Time     `json:"lastRun,omitempty" yaml:"-"`
	// LoadError records why the workflow was disabled at load time.
	LoadError string `json:"loadError,omitempty" yaml:"-"`
}

// Clone returns a deep copy, including node config values.
func (w Workflow) Clone() Workflow {
	w.LastRun = clonePtr(w.LastRun)
	nodes := make([]WorkflowNode, len(w.Nodes))
	for i, n := range w.Nodes {
		n.Config = cloneConfig(n.Config)
		nodes[i] = n
	}
	w.Nodes = nodes
	return w
}

func cloneConfig(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := maps.Clone(m)
	for k, v := range out {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneConfig(t)
	case []any:
		c := slices.Clone(t)
		for i := range c {
			c[i] = cloneValue(c[i])
		}
		return c
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}
