package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kanri/internal/model"
)

func (s *Server) registerTools() {
	// kanri_submit_event: hand an external event to the ingest pipeline.
	s.mcpServer.AddTool(
		mcplib.NewTool("kanri_submit_event",
			mcplib.WithDescription(`Submit an operational event for workflow evaluation.

WHEN TO USE: When you observe something Kanri should react to: a new
monitoring alert, an available patch, a requested routine task, or a
change to an existing alert.

The event is accepted immediately and evaluated asynchronously. The
response carries an acceptance token and the entity the event created or
referenced; use kanri_list_alerts or the automations resource to follow
what the workflows did with it.

PAYLOAD BY KIND:
- alert-created: severity, title, description, source, affectedSystems
- patch-available: name, version, severity, targetSystems, releaseDate
- task-requested: type, title, description, targetSystems
- alert-updated / manual: entityKind, entityId`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("kind",
				mcplib.Description("Event kind"),
				mcplib.Required(),
				mcplib.Enum(
					string(model.EventAlertCreated),
					string(model.EventAlertUpdated),
					string(model.EventPatchAvailable),
					string(model.EventTaskRequested),
					string(model.EventScheduleTick),
					string(model.EventManual),
				),
			),
			mcplib.WithObject("payload",
				mcplib.Description("Event payload; fields depend on kind"),
			),
		),
		s.handleSubmitEvent,
	)

	// kanri_list_alerts: current alerts, newest first.
	s.mcpServer.AddTool(
		mcplib.NewTool("kanri_list_alerts",
			mcplib.WithDescription(`List monitoring alerts, newest first.

FILTER EXAMPLES:
- Open critical alerts: status="active", severity="critical"
- Everything the agents fixed: status="auto-remediated"`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("status",
				mcplib.Description("Filter by alert status"),
				mcplib.Enum(
					string(model.AlertActive),
					string(model.AlertAcknowledged),
					string(model.AlertResolved),
					string(model.AlertAutoRemediated),
				),
			),
			mcplib.WithString("severity",
				mcplib.Description("Filter by severity"),
				mcplib.Enum(
					string(model.AlertCritical),
					string(model.AlertWarning),
					string(model.AlertInfo),
					string(model.AlertLow),
				),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum alerts to return"),
				mcplib.Min(1),
				mcplib.Max(500),
				mcplib.DefaultNumber(20),
			),
			mcplib.WithString("format",
				mcplib.Description(`"concise" (default) drops long text; "full" returns complete records`),
				mcplib.Enum("concise", "full"),
			),
		),
		s.handleListAlerts,
	)

	// kanri_metrics: dashboard counters and trends.
	s.mcpServer.AddTool(
		mcplib.NewTool("kanri_metrics",
			mcplib.WithDescription("Dashboard metrics: alert, patch, and task counts, completion rates, uptime, and trend percentages against the trend window baseline."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleMetrics,
	)

	// kanri_root_cause: fetch (or produce) the analysis for a closed alert.
	s.mcpServer.AddTool(
		mcplib.NewTool("kanri_root_cause",
			mcplib.WithDescription(`Get the root cause analysis for a resolved or auto-remediated alert.

If no analysis exists yet and analyze is true (the default), one is built
from the alert and its automation history. Alerts that are still open have
no analysis.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("alert_id",
				mcplib.Description("Alert identifier"),
				mcplib.Required(),
			),
			mcplib.WithBoolean("analyze",
				mcplib.Description("Run the analysis when none is stored"),
				mcplib.DefaultBool(true),
			),
		),
		s.handleRootCause,
	)
}

func (s *Server) handleSubmitEvent(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	kind := model.EventKind(request.GetString("kind", ""))
	if !kind.Valid() {
		return errorResult(fmt.Sprintf("unknown event kind %q", kind)), nil
	}
	payload, err := payloadArg(request.GetArguments()["payload"])
	if err != nil {
		return errorResult(err.Error()), nil
	}

	ev, err := s.ingest.Submit(ctx, kind, payload)
	if err != nil {
		return errorResult(fmt.Sprintf("submit failed: %v", err)), nil
	}
	return jsonResult(model.SubmitEventResponse{Token: ev.ID, Entity: ev.Entity})
}

// payloadArg accepts the payload as a JSON object or as a string holding
// one, since some clients stringify nested arguments.
func payloadArg(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case string:
		if v == "" {
			return map[string]any{}, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("payload is not a JSON object: %v", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("payload must be an object, got %T", raw)
	}
}

func (s *Server) handleListAlerts(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	status := model.AlertStatus(request.GetString("status", ""))
	severity := model.AlertSeverity(request.GetString("severity", ""))
	limit := request.GetInt("limit", 20)
	full := request.GetString("format", "concise") == "full"

	alerts := slices.DeleteFunc(s.store.Alerts(), func(a model.Alert) bool {
		return (status != "" && a.Status != status) || (severity != "" && a.Severity != severity)
	})
	slices.SortStableFunc(alerts, func(a, b model.Alert) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	total := len(alerts)
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}

	var items any
	if full {
		items = alerts
	} else {
		compact := make([]map[string]any, 0, len(alerts))
		for _, a := range alerts {
			compact = append(compact, compactAlert(a))
		}
		items = compact
	}
	return jsonResult(map[string]any{
		"alerts": items,
		"total":  total,
	})
}

func (s *Server) handleMetrics(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	m, err := s.metrics.Compute(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("metrics failed: %v", err)), nil
	}
	return jsonResult(m)
}

func (s *Server) handleRootCause(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	alertID := request.GetString("alert_id", "")
	if alertID == "" {
		return errorResult("alert_id is required"), nil
	}

	rca, err := s.store.RootCause(alertID)
	if err == nil {
		return jsonResult(rca)
	}
	if !errors.Is(err, model.ErrNotFound) || !request.GetBool("analyze", true) {
		return errorResult(fmt.Sprintf("no analysis for alert %s: %v", alertID, err)), nil
	}

	rca, err = s.analyzer.Analyze(ctx, alertID)
	switch {
	case errors.Is(err, model.ErrAlreadyAnalyzed):
		// Lost a race with the auto-analysis observer; the stored record wins.
		rca, err = s.store.RootCause(alertID)
	case errors.Is(err, model.ErrAlertNotResolved):
		return errorResult(fmt.Sprintf("alert %s is still open; analysis runs once it is resolved", alertID)), nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("analysis failed: %v", err)), nil
	}
	return jsonResult(rca)
}
