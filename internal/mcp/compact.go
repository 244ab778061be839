package mcp

import (
	"github.com/ashita-ai/kanri/internal/model"
)

const maxCompactText = 200

// compactAlert returns a minimal representation of an alert for MCP
// responses. The description is truncated and empty optionals are dropped.
func compactAlert(a model.Alert) map[string]any {
	m := map[string]any{
		"id":        a.ID,
		"severity":  a.Severity,
		"status":    a.Status,
		"title":     a.Title,
		"source":    a.Source,
		"timestamp": a.Timestamp,
	}
	if a.Description != "" {
		m["description"] = truncate(a.Description, maxCompactText)
	}
	if len(a.AffectedSystems) > 0 {
		m["affectedSystems"] = a.AffectedSystems
	}
	if a.AgentAction != nil {
		m["agentAction"] = *a.AgentAction
	}
	if a.RootCause != nil {
		m["rootCause"] = truncate(*a.RootCause, maxCompactText)
	}
	return m
}

// compactActivity returns a minimal representation of an audit record.
func compactActivity(a model.AutomationActivity) map[string]any {
	m := map[string]any{
		"sequence":    a.Sequence,
		"type":        a.Type,
		"outcome":     a.Outcome,
		"agentName":   a.AgentName,
		"entity":      a.Entity.String(),
		"timestamp":   a.Timestamp,
		"description": truncate(a.Description, maxCompactText),
	}
	if a.Details != nil && *a.Details != "" {
		m["details"] = truncate(*a.Details, maxCompactText)
	}
	if a.WorkflowID != "" {
		m["workflowId"] = a.WorkflowID
	}
	return m
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
