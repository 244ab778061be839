package mcp

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/kanri/internal/model"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "日本...", truncate("日本語のテキスト", 5))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}

func TestCompactAlert_DropsEmptyOptionals(t *testing.T) {
	m := compactAlert(model.Alert{
		ID:        "a1",
		Severity:  model.AlertCritical,
		Status:    model.AlertActive,
		Title:     "CPU",
		Timestamp: time.Now(),
	})
	for _, k := range []string{"description", "affectedSystems", "agentAction", "rootCause"} {
		assert.NotContains(t, m, k)
	}
	assert.Equal(t, "a1", m["id"])
}

func TestCompactAlert_TruncatesText(t *testing.T) {
	cause := strings.Repeat("x", 500)
	action := "restart"
	m := compactAlert(model.Alert{
		ID:              "a1",
		Description:     strings.Repeat("d", 500),
		AffectedSystems: []string{"web-01"},
		AgentAction:     &action,
		RootCause:       &cause,
	})
	assert.Len(t, []rune(m["description"].(string)), maxCompactText)
	assert.Len(t, []rune(m["rootCause"].(string)), maxCompactText)
	assert.Equal(t, "restart", m["agentAction"])
	assert.Equal(t, []string{"web-01"}, m["affectedSystems"])
}

func TestCompactActivity(t *testing.T) {
	details := "exit 0"
	m := compactActivity(model.AutomationActivity{
		Sequence:    7,
		Type:        "patch-deploy",
		Description: "deployed",
		Outcome:     model.OutcomeSuccess,
		AgentName:   "Patch Bot",
		Details:     &details,
		Entity:      model.EntityRef{Kind: model.EntityPatch, ID: "p1"},
	})
	assert.Equal(t, int64(7), m["sequence"])
	assert.Equal(t, "patch/p1", m["entity"])
	assert.Equal(t, "exit 0", m["details"])
	assert.NotContains(t, m, "workflowId")
}
