package kanri

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Kanri server (e.g. "http://localhost:8080").
	BaseURL string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with Timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Kanri API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("kanri: BaseURL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  httpClient,
	}, nil
}

// SubmitEvent hands an event to the engine. Evaluation is asynchronous; the
// response carries the acceptance token and the entity the event created or
// referenced.
func (c *Client) SubmitEvent(ctx context.Context, kind string, payload map[string]any) (*SubmitEventResponse, error) {
	body := map[string]any{"kind": kind, "payload": payload}
	var resp SubmitEventResponse
	if err := c.do(ctx, http.MethodPost, "/api/events", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Alerts
// ---------------------------------------------------------------------------

// ListAlerts returns alerts, optionally filtered by status and severity.
func (c *Client) ListAlerts(ctx context.Context, status, severity string) ([]Alert, error) {
	var resp []Alert
	err := c.do(ctx, http.MethodGet, "/api/alerts"+query("status", status, "severity", severity), nil, &resp)
	return resp, err
}

// GetAlert returns a single alert.
func (c *Client) GetAlert(ctx context.Context, id string) (*Alert, error) {
	var resp Alert
	if err := c.do(ctx, http.MethodGet, "/api/alerts/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AcknowledgeAlert moves an active alert to acknowledged.
func (c *Client) AcknowledgeAlert(ctx context.Context, id string) (*Alert, error) {
	var resp Alert
	if err := c.do(ctx, http.MethodPost, "/api/alerts/"+url.PathEscape(id)+"/acknowledge", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResolveAlert resolves an alert. rootCause may be empty.
func (c *Client) ResolveAlert(ctx context.Context, id, rootCause string) (*Alert, error) {
	var body any
	if rootCause != "" {
		body = map[string]string{"rootCause": rootCause}
	}
	var resp Alert
	if err := c.do(ctx, http.MethodPost, "/api/alerts/"+url.PathEscape(id)+"/resolve", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AnalyzeAlert runs root cause analysis on a resolved alert.
func (c *Client) AnalyzeAlert(ctx context.Context, id string) (*RootCauseAnalysis, error) {
	var resp RootCauseAnalysis
	if err := c.do(ctx, http.MethodPost, "/api/alerts/"+url.PathEscape(id)+"/analyze", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRootCauses returns every stored analysis.
func (c *Client) ListRootCauses(ctx context.Context) ([]RootCauseAnalysis, error) {
	var resp []RootCauseAnalysis
	err := c.do(ctx, http.MethodGet, "/api/rca", nil, &resp)
	return resp, err
}

// GetRootCause returns the analysis for an alert.
func (c *Client) GetRootCause(ctx context.Context, alertID string) (*RootCauseAnalysis, error) {
	var resp RootCauseAnalysis
	if err := c.do(ctx, http.MethodGet, "/api/rca/"+url.PathEscape(alertID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Patches, tasks, agents
// ---------------------------------------------------------------------------

// ListPatches returns patches, optionally filtered by status and severity.
func (c *Client) ListPatches(ctx context.Context, status, severity string) ([]Patch, error) {
	var resp []Patch
	err := c.do(ctx, http.MethodGet, "/api/patches"+query("status", status, "severity", severity), nil, &resp)
	return resp, err
}

// ListTasks returns routine tasks, optionally filtered by status and type.
func (c *Client) ListTasks(ctx context.Context, status, taskType string) ([]RoutineTask, error) {
	var resp []RoutineTask
	err := c.do(ctx, http.MethodGet, "/api/tasks"+query("status", status, "type", taskType), nil, &resp)
	return resp, err
}

// ListAgents returns agents, optionally filtered by status and type.
func (c *Client) ListAgents(ctx context.Context, status, agentType string) ([]Agent, error) {
	var resp []Agent
	err := c.do(ctx, http.MethodGet, "/api/agents"+query("status", status, "type", agentType), nil, &resp)
	return resp, err
}

// CompleteAgent reports the outcome of work an agent accepted as deferred.
// Remote agents reached over webhooks call this when they finish.
func (c *Client) CompleteAgent(ctx context.Context, agentID string, req CompleteRequest) (*Agent, error) {
	var resp Agent
	if err := c.do(ctx, http.MethodPost, "/api/agents/"+url.PathEscape(agentID)+"/complete", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListAutomations queries the activity trail, newest first.
func (c *Client) ListAutomations(ctx context.Context, f *ActivityFilter) ([]Activity, error) {
	params := url.Values{}
	if f != nil {
		set := func(k, v string) {
			if v != "" {
				params.Set(k, v)
			}
		}
		set("entityKind", f.EntityKind)
		set("entityId", f.EntityID)
		set("agentId", f.AgentID)
		set("workflowId", f.WorkflowID)
		set("eventId", f.EventID)
		set("outcome", f.Outcome)
		if !f.Since.IsZero() {
			params.Set("since", f.Since.UTC().Format(time.RFC3339Nano))
		}
		if !f.Until.IsZero() {
			params.Set("until", f.Until.UTC().Format(time.RFC3339Nano))
		}
		if f.Limit > 0 {
			params.Set("limit", strconv.Itoa(f.Limit))
		}
	}
	path := "/api/automations"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp []Activity
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp, err
}

// DashboardMetrics returns the current dashboard metrics.
func (c *Client) DashboardMetrics(ctx context.Context) (*DashboardMetrics, error) {
	var resp DashboardMetrics
	if err := c.do(ctx, http.MethodGet, "/api/dashboard/metrics", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Workflows and policies
// ---------------------------------------------------------------------------

// ListWorkflows returns every stored workflow, including disabled ones.
func (c *Client) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	var resp []Workflow
	err := c.do(ctx, http.MethodGet, "/api/workflows", nil, &resp)
	return resp, err
}

// CreateWorkflow stores a workflow. A malformed workflow is still stored,
// disabled; the returned error satisfies IsMalformedWorkflow and its
// Details hold the stored record.
func (c *Client) CreateWorkflow(ctx context.Context, wf Workflow) (*Workflow, error) {
	var resp Workflow
	if err := c.do(ctx, http.MethodPost, "/api/workflows", wf, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListPolicies returns every patch policy.
func (c *Client) ListPolicies(ctx context.Context) ([]PatchPolicy, error) {
	var resp []PatchPolicy
	err := c.do(ctx, http.MethodGet, "/api/policies", nil, &resp)
	return resp, err
}

// PutPolicy creates or replaces a patch policy.
func (c *Client) PutPolicy(ctx context.Context, id string, p PatchPolicy) (*PatchPolicy, error) {
	var resp PatchPolicy
	if err := c.do(ctx, http.MethodPut, "/api/policies/"+url.PathEscape(id), p, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks the server's health status. An unhealthy server answers
// 503 with a body; Health returns the decoded body alongside the error.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &resp)
	return &resp, err
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

// query builds a query string from key/value pairs, skipping empty values.
func query(kv ...string) string {
	params := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			params.Set(kv[i], kv[i+1])
		}
	}
	if len(params) == 0 {
		return ""
	}
	return "?" + params.Encode()
}

func (c *Client) do(ctx context.Context, method, path string, body any, dest any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("kanri: marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("kanri: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kanri: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kanri: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := parseErrorResponse(resp.StatusCode, bodyBytes)
		// /health answers 503 with a data envelope.
		if dest != nil && apiErr.Code == http.StatusText(resp.StatusCode) {
			var envelope apiEnvelope
			if json.Unmarshal(bodyBytes, &envelope) == nil && envelope.Data != nil {
				_ = json.Unmarshal(envelope.Data, dest)
			}
		}
		return apiErr
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("kanri: decode response envelope: %w", err)
	}
	if envelope.Data == nil {
		return nil
	}
	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		if len(envelope.Error.Details) > 0 && string(envelope.Error.Details) != "null" {
			apiErr.Details = envelope.Error.Details
		}
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
