package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// triage-alert: walks the agent through investigating one alert.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("triage-alert",
			mcplib.WithPromptDescription("Investigate an alert using its automation history and root cause analysis"),
			mcplib.WithArgument("alert_id",
				mcplib.ArgumentDescription("The alert to triage"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleTriageAlertPrompt,
	)

	// operator-setup: system prompt snippet describing the Kanri tools.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("operator-setup",
			mcplib.WithPromptDescription("System prompt snippet explaining how to operate Kanri through MCP"),
		),
		s.handleOperatorSetupPrompt,
	)
}

func (s *Server) handleTriageAlertPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	alertID := request.Params.Arguments["alert_id"]
	if alertID == "" {
		return nil, fmt.Errorf("alert_id argument is required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Triage alert %s", alertID),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Triage alert %[1]s:

1. READ the resource kanri://alert/%[1]s/activity to see the alert and every
   automation step recorded against it.

2. If the alert is resolved or auto-remediated, CALL kanri_root_cause with
   alert_id="%[1]s" and summarize the cause, the affected components, and
   the prevention steps.

3. If the alert is still open, check which agent actions failed and whether
   a similar alert was auto-remediated recently (kanri_list_alerts with
   status="auto-remediated").

4. REPORT what happened, what the agents already tried, and what a human
   operator should do next.`, alertID),
				},
			},
		},
	}, nil
}

func (s *Server) handleOperatorSetupPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return &mcplib.GetPromptResult{
		Description: "Operating Kanri through MCP",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: `You have access to Kanri, an IT operations engine that routes alerts, patches,
and routine tasks to automation agents through configurable workflows.

## Available Tools

- kanri_submit_event: Report an event (new alert, available patch, task request)
- kanri_list_alerts: List alerts with status and severity filters
- kanri_metrics: Dashboard counters, completion rates, and trends
- kanri_root_cause: Root cause analysis for a resolved alert

## Resources

- kanri://automations/recent: The newest automation activities
- kanri://alert/{id}/activity: One alert with its full automation trail

## Guidelines

Events are evaluated asynchronously. After submitting one, read the recent
automations resource to see which workflow ran and what the agents did.
Do not resubmit an event because its effect is not visible yet.`,
				},
			},
		},
	}, nil
}
