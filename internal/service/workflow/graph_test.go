package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kanri/internal/model"
)

func trigger(id string, cfg map[string]any) model.WorkflowNode {
	return model.WorkflowNode{ID: id, Type: model.NodeTrigger, Label: "On event", Config: cfg}
}

func condition(id string, cfg map[string]any) model.WorkflowNode {
	return model.WorkflowNode{ID: id, Type: model.NodeCondition, Label: "Check", Config: cfg}
}

func action(id string, cfg map[string]any) model.WorkflowNode {
	return model.WorkflowNode{ID: id, Type: model.NodeAction, Label: "Do", Config: cfg}
}

func remediateAction(id string) model.WorkflowNode {
	return action(id, map[string]any{"agentType": "alert-management", "op": "remediate"})
}

func TestCompile_LinearGraph(t *testing.T) {
	w := model.Workflow{ID: "wf", Nodes: []model.WorkflowNode{
		trigger("t", map[string]any{"event": "alert-created"}),
		condition("c", map[string]any{"field": "severity", "op": "==", "value": "critical"}),
		remediateAction("a"),
	}}
	g, err := Compile(w, NewRegistry())
	require.NoError(t, err)
	require.Len(t, g.nodes, 3)
	assert.Equal(t, 1, g.nodes[0].next)
	assert.Equal(t, 2, g.nodes[1].next)
	assert.Equal(t, halt, g.nodes[1].otherwise)
	assert.Equal(t, halt, g.nodes[2].next)
}

func TestCompile_ExplicitEdges(t *testing.T) {
	w := model.Workflow{ID: "wf", Nodes: []model.WorkflowNode{
		trigger("t", map[string]any{"event": "alert-created"}),
		condition("c", map[string]any{"expr": "severity == critical", "next": "page", "else": "ack"}),
		action("ack", map[string]any{"agentType": "alert-management", "op": "acknowledge"}),
		action("page", map[string]any{"agentType": "alert-management", "op": "remediate"}),
	}}
	g, err := Compile(w, NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, 3, g.nodes[1].next)
	assert.Equal(t, 2, g.nodes[1].otherwise)
}

func TestCompile_Rejects(t *testing.T) {
	okTrigger := trigger("t", map[string]any{"event": "alert-created"})
	cases := map[string][]model.WorkflowNode{
		"empty":             nil,
		"trigger not first": {remediateAction("a"), okTrigger},
		"two triggers":      {okTrigger, trigger("t2", map[string]any{"event": "manual"}), remediateAction("a")},
		"duplicate ids":     {okTrigger, remediateAction("a"), remediateAction("a")},
		"unknown event":     {trigger("t", map[string]any{"event": "alert-exploded"}), remediateAction("a")},
		"missing event":     {trigger("t", map[string]any{}), remediateAction("a")},
		"bad operator":      {okTrigger, condition("c", map[string]any{"field": "x", "op": "~="}), remediateAction("a")},
		"bad expr":          {okTrigger, condition("c", map[string]any{"expr": "severity"}), remediateAction("a")},
		"in needs list":     {okTrigger, condition("c", map[string]any{"field": "x", "op": "in", "value": "a"}), remediateAction("a")},
		"bad agent type":    {okTrigger, action("a", map[string]any{"agentType": "robot", "op": "x"})},
		"missing op":        {okTrigger, action("a", map[string]any{"agentType": "alert-management"})},
		"negative retries":  {okTrigger, action("a", map[string]any{"agentType": "patch-management", "op": "deploy", "retries": -1})},
		"unknown next":      {okTrigger, action("a", map[string]any{"agentType": "alert-management", "op": "x", "next": "zzz"})},
		"else on action":    {okTrigger, action("a", map[string]any{"agentType": "alert-management", "op": "x", "else": "t"})},
		"unknown node type": {okTrigger, {ID: "x", Type: "loop"}},
		"cycle": {
			okTrigger,
			action("a", map[string]any{"agentType": "alert-management", "op": "x"}),
			action("b", map[string]any{"agentType": "alert-management", "op": "y", "next": "a"}),
		},
		"unreachable action": {
			trigger("t", map[string]any{"event": "alert-created", "next": "b"}),
			action("a", map[string]any{"agentType": "alert-management", "op": "x"}),
			action("b", map[string]any{"agentType": "alert-management", "op": "y"}),
		},
	}
	for name, nodes := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Compile(model.Workflow{ID: "wf", Nodes: nodes}, NewRegistry())
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrMalformedWorkflow)
			var we *model.WorkflowError
			assert.ErrorAs(t, err, &we)
		})
	}
}

func TestCompile_LabelSpecificHandler(t *testing.T) {
	reg := NewRegistry()
	w := model.Workflow{ID: "wf", Nodes: []model.WorkflowNode{
		trigger("t", map[string]any{"event": "patch-available"}),
		{ID: "p", Type: model.NodeCondition, Label: LabelPatchPolicy, Config: map[string]any{}},
		action("a", map[string]any{"agentType": "patch-management", "op": "deploy"}),
	}}
	g, err := Compile(w, reg)
	require.NoError(t, err)
	assert.IsType(t, policyCondition{}, g.nodes[1].condition)

	w.Nodes[1].Config = map[string]any{"policyId": 7}
	_, err = Compile(w, reg)
	assert.ErrorIs(t, err, model.ErrMalformedWorkflow)
}
