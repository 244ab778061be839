package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kanri/internal/model"
)

const sampleDefinitions = `
agents:
  - id: am-1
    type: alert-management
    name: Alert Bot
    executor:
      kind: webhook
      url: https://runner.internal/alerts
      token: ${KANRI_TEST_AGENT_TOKEN}
      timeout: 10s
      ops: [restart-service, clear-disk]
  - id: pm-1
    type: patch-management
    executor:
      kind: simulated
      latency: 50ms
workflows:
  - id: disk-cleanup
    name: Disk cleanup
    enabled: true
    nodes:
      - id: t
        type: trigger
        label: Alert Created
        config: {severity: critical}
      - id: a
        type: action
        label: Remediate
policies:
  - id: nightly
    name: Nightly
    autoDeployment: true
    maintenanceWindow: "02:00-04:00"
`

func TestParseDefinitions(t *testing.T) {
	t.Setenv("KANRI_TEST_AGENT_TOKEN", "s3cret")

	defs, err := ParseDefinitions([]byte(sampleDefinitions))
	require.NoError(t, err)

	require.Len(t, defs.Agents, 2)
	am := defs.Agents[0]
	assert.Equal(t, model.AgentAlertManagement, am.Type)
	assert.Equal(t, "webhook", am.Executor.Kind)
	assert.Equal(t, "s3cret", am.Executor.Token, "env references are expanded")
	assert.Equal(t, 10*time.Second, am.Executor.Timeout)
	assert.Equal(t, []string{"restart-service", "clear-disk"}, am.Executor.Ops)
	assert.Equal(t, 50*time.Millisecond, defs.Agents[1].Executor.Latency)

	require.Len(t, defs.Workflows, 1)
	wf := defs.Workflows[0]
	assert.True(t, wf.Enabled)
	require.Len(t, wf.Nodes, 2)
	assert.Equal(t, model.NodeTrigger, wf.Nodes[0].Type)
	assert.Equal(t, "critical", wf.Nodes[0].Config["severity"])

	require.Len(t, defs.Policies, 1)
	assert.True(t, defs.Policies[0].AutoDeployment)
	assert.Equal(t, "02:00-04:00", defs.Policies[0].MaintenanceWindow)
}

func TestParseDefinitions_Empty(t *testing.T) {
	defs, err := ParseDefinitions(nil)
	require.NoError(t, err)
	assert.Empty(t, defs.Agents)
}

func TestParseDefinitions_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown key": `
agents:
  - id: a
    type: alert-management
    colour: blue
`,
		"bad agent type": `
agents:
  - id: a
    type: janitor
`,
		"webhook without url": `
agents:
  - id: a
    type: alert-management
    executor: {kind: webhook}
`,
		"unknown executor": `
agents:
  - id: a
    type: alert-management
    executor: {kind: carrier-pigeon}
`,
		"duplicate agent": `
agents:
  - {id: a, type: alert-management}
  - {id: a, type: routine-tasks}
`,
		"duplicate workflow": `
workflows:
  - {id: w, name: one}
  - {id: w, name: two}
`,
		"policy without id": `
policies:
  - {name: nameless}
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDefinitions([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadDefinitions_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kanri.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agents:\n  - {id: rt-1, type: routine-tasks}\n"), 0o600))

	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	require.Len(t, defs.Agents, 1)
	assert.Equal(t, "", defs.Agents[0].Executor.Kind, "manual is implied when no executor is configured")

	_, err = LoadDefinitions(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
