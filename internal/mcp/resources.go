package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kanri/internal/model"
	"github.com/ashita-ai/kanri/internal/store"
)

const (
	recentAutomationsURI = "kanri://automations/recent"
	recentAutomations    = 50

	alertActivityPrefix = "kanri://alert/"
	alertActivitySuffix = "/activity"
)

func (s *Server) registerResources() {
	// kanri://automations/recent: newest audit records across all entities.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			recentAutomationsURI,
			"Recent Automations",
			mcplib.WithResourceDescription("Most recent automation activities, newest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleAutomationsRecent,
	)

	// kanri://alert/{id}/activity: one alert with its audit trail.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			alertActivityPrefix+"{id}"+alertActivitySuffix,
			"Alert Activity",
			mcplib.WithTemplateDescription("An alert with every automation activity recorded against it"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleAlertActivity,
	)
}

func (s *Server) handleAutomationsRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	acts := s.store.Activities(store.ActivityFilter{Limit: recentAutomations})
	slices.Reverse(acts)

	items := make([]map[string]any, 0, len(acts))
	for _, a := range acts {
		items = append(items, compactActivity(a))
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal automations: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      recentAutomationsURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleAlertActivity(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	alertID, err := parseAlertActivityURI(uri)
	if err != nil {
		return nil, err
	}

	alert, err := s.store.Alert(alertID)
	if err != nil {
		return nil, fmt.Errorf("mcp: alert activity: %w", err)
	}
	acts := s.store.Activities(store.ActivityFilter{
		Entity: model.EntityRef{Kind: model.EntityAlert, ID: alertID},
	})
	if acts == nil {
		acts = []model.AutomationActivity{}
	}

	data, err := json.MarshalIndent(map[string]any{
		"alert":      alert,
		"activities": acts,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal alert activity: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// parseAlertActivityURI extracts the alert ID from kanri://alert/{id}/activity.
func parseAlertActivityURI(uri string) (string, error) {
	if !strings.HasPrefix(uri, alertActivityPrefix) || !strings.HasSuffix(uri, alertActivitySuffix) ||
		len(uri) < len(alertActivityPrefix)+len(alertActivitySuffix) {
		return "", fmt.Errorf("mcp: invalid alert activity URI: %s", uri)
	}
	id := strings.TrimSuffix(strings.TrimPrefix(uri, alertActivityPrefix), alertActivitySuffix)
	if id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("mcp: invalid alert activity URI: empty or nested alert id in %s", uri)
	}
	return id, nil
}
