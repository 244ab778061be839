package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kanri/internal/agents"
	"github.com/ashita-ai/kanri/internal/model"
	"github.com/ashita-ai/kanri/internal/server"
	"github.com/ashita-ai/kanri/internal/service/dispatch"
	"github.com/ashita-ai/kanri/internal/service/ingest"
	"github.com/ashita-ai/kanri/internal/service/metrics"
	"github.com/ashita-ai/kanri/internal/service/rootcause"
	"github.com/ashita-ai/kanri/internal/service/workflow"
	"github.com/ashita-ai/kanri/internal/store"
	"github.com/ashita-ai/kanri/internal/testutil"
)

type env struct {
	store *store.Store
	srv   *httptest.Server
}

func newEnv(t *testing.T, opts ...func(*server.ServerConfig)) *env {
	t.Helper()
	logger := testutil.TestLogger()
	ctx, cancel := context.WithCancel(context.Background())

	s := store.New()
	d := dispatch.New(s, logger)
	d.RegisterTypeExecutor(model.AgentAlertManagement, agents.Simulated{})
	d.RegisterTypeExecutor(model.AgentRoutineTasks, agents.Manual{})
	eval := workflow.New(s, d, logger)
	analyzer := rootcause.New(s, logger)
	s.Subscribe(analyzer.Observe)
	broker := server.NewBroker(logger)
	s.Subscribe(broker.Observe)
	pipeline := ingest.New(s, eval, logger, ingest.WithWorkers(2), ingest.WithQueueSize(16))
	pipeline.Start(ctx)

	cfg := server.ServerConfig{
		Store:               s,
		Ingest:              pipeline,
		Dispatcher:          d,
		Workflows:           eval,
		Analyzer:            analyzer,
		Metrics:             metrics.New(s, logger),
		Broker:              broker,
		Logger:              logger,
		Version:             "test",
		MaxRequestBodyBytes: 4096,
	}
	for _, o := range opts {
		o(&cfg)
	}
	srv := httptest.NewServer(server.New(cfg).Handler())

	t.Cleanup(func() {
		srv.Close()
		cancel()
		shutdown, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		pipeline.Drain(shutdown)
		_ = d.Close(shutdown)
	})

	for _, a := range []model.Agent{
		{ID: "am-1", Name: "Alert Bot", Type: model.AgentAlertManagement},
		{ID: "rt-1", Name: "Desk Bot", Type: model.AgentRoutineTasks},
	} {
		_, err := s.RegisterAgent(context.Background(), a)
		require.NoError(t, err)
	}
	return &env{store: s, srv: srv}
}

type envelope struct {
	Data  json.RawMessage   `json:"data"`
	Error model.ErrorDetail `json:"error"`
	Meta  model.ResponseMeta
}

func (e *env) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &env))
	}
	return resp.StatusCode, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func remediationWorkflow(id string) model.Workflow {
	return model.Workflow{
		ID: id, Name: "Critical disk remediation", Enabled: true,
		Nodes: []model.WorkflowNode{
			{ID: "t", Type: model.NodeTrigger, Config: map[string]any{"event": "alert-created", "severity": "critical"}},
			{ID: "a", Type: model.NodeAction, Config: map[string]any{"agentType": "alert-management", "op": "remediate"}},
		},
	}
}

func submitCriticalAlert(t *testing.T, e *env) model.SubmitEventResponse {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/api/events", model.SubmitEventRequest{
		Kind: model.EventAlertCreated,
		Payload: map[string]any{
			"severity": "critical", "title": "Disk usage above 95%", "source": "disk-full",
			"affectedSystems": []string{"web-01"},
		},
	})
	require.Equal(t, http.StatusAccepted, status)
	return decode[model.SubmitEventResponse](t, body.Data)
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	status, body := e.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, status)
	h := decode[model.HealthResponse](t, body.Data)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "test", h.Version)
	assert.Equal(t, "ok", h.QueueStatus)
	assert.NotEmpty(t, body.Meta.RequestID)
}

func TestSubmitEvent_RemediatesAndAnalyzes(t *testing.T) {
	e := newEnv(t)
	status, _ := e.do(t, http.MethodPost, "/api/workflows", remediationWorkflow("wf-disk"))
	require.Equal(t, http.StatusCreated, status)

	accepted := submitCriticalAlert(t, e)
	assert.NotEmpty(t, accepted.Token)
	assert.Equal(t, model.EntityAlert, accepted.Entity.Kind)

	require.Eventually(t, func() bool {
		_, body := e.do(t, http.MethodGet, "/api/rca/"+accepted.Entity.ID, nil)
		return body.Data != nil
	}, 5*time.Second, 20*time.Millisecond)

	_, body := e.do(t, http.MethodGet, "/api/alerts?status=auto-remediated", nil)
	alerts := decode[[]model.Alert](t, body.Data)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].AutoRemediated)

	_, body = e.do(t, http.MethodGet, "/api/automations?entityKind=alert&entityId="+accepted.Entity.ID, nil)
	acts := decode[[]model.AutomationActivity](t, body.Data)
	require.Len(t, acts, 1)
	assert.Equal(t, model.OutcomeSuccess, acts[0].Outcome)
	assert.Equal(t, "Alert Bot", acts[0].AgentName)
	assert.Equal(t, accepted.Token, acts[0].EventID)

	status, body = e.do(t, http.MethodPost, "/api/alerts/"+accepted.Entity.ID+"/analyze", nil)
	assert.Equal(t, http.StatusConflict, status, "analysis runs once per alert")
	assert.Equal(t, model.ErrCodeConflict, body.Error.Code)

	_, body = e.do(t, http.MethodGet, "/api/dashboard/metrics", nil)
	m := decode[model.DashboardMetrics](t, body.Data)
	assert.Equal(t, 1, m.TotalAlerts)
	assert.Equal(t, 0, m.CriticalAlerts)
}

func TestSubmitEvent_Rejects(t *testing.T) {
	e := newEnv(t)

	status, body := e.do(t, http.MethodPost, "/api/events", model.SubmitEventRequest{Kind: "meteor-strike"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, model.ErrCodeInvalidInput, body.Error.Code)

	status, _ = e.do(t, http.MethodPost, "/api/events", model.SubmitEventRequest{
		Kind: model.EventAlertUpdated, Payload: map[string]any{"entityId": "missing"},
	})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = e.do(t, http.MethodPost, "/api/events", `{"kind":"manual","surprise":true}`)
	assert.Equal(t, http.StatusBadRequest, status, "unknown fields are rejected")

	status, _ = e.do(t, http.MethodPost, "/api/events", `{"kind":"manual","payload":{"pad":"`+strings.Repeat("x", 5000)+`"}}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
}

func TestAlertActions(t *testing.T) {
	e := newEnv(t)
	accepted := submitCriticalAlert(t, e)
	id := accepted.Entity.ID

	status, body := e.do(t, http.MethodPost, "/api/alerts/"+id+"/analyze", nil)
	assert.Equal(t, http.StatusConflict, status, "open alerts cannot be analyzed")
	assert.Contains(t, body.Error.Message, "not resolved")

	status, body = e.do(t, http.MethodPost, "/api/alerts/"+id+"/acknowledge", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, model.AlertAcknowledged, decode[model.Alert](t, body.Data).Status)

	status, _ = e.do(t, http.MethodPost, "/api/alerts/"+id+"/acknowledge", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, body = e.do(t, http.MethodPost, "/api/alerts/"+id+"/resolve", model.ResolveAlertRequest{RootCause: "log rotation disabled"})
	require.Equal(t, http.StatusOK, status)
	resolved := decode[model.Alert](t, body.Data)
	assert.Equal(t, model.AlertResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	require.Eventually(t, func() bool {
		_, err := e.store.RootCause(id)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	_, body = e.do(t, http.MethodGet, "/api/rca", nil)
	rcas := decode[[]model.RootCauseAnalysis](t, body.Data)
	require.Len(t, rcas, 1)
	assert.Equal(t, "log rotation disabled", rcas[0].RootCause)

	status, _ = e.do(t, http.MethodPost, "/api/alerts/nope/acknowledge", nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = e.do(t, http.MethodGet, "/api/rca/nope", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCompleteAgent_DeferredTask(t *testing.T) {
	e := newEnv(t)
	status, _ := e.do(t, http.MethodPost, "/api/workflows", model.Workflow{
		ID: "wf-reset", Name: "Password reset", Enabled: true,
		Nodes: []model.WorkflowNode{
			{ID: "t", Type: model.NodeTrigger, Config: map[string]any{"event": "task-requested"}},
			{ID: "a", Type: model.NodeAction, Config: map[string]any{"agentType": "routine-tasks", "op": "execute"}},
		},
	})
	require.Equal(t, http.StatusCreated, status)

	status, body := e.do(t, http.MethodPost, "/api/events", model.SubmitEventRequest{
		Kind:    model.EventTaskRequested,
		Payload: map[string]any{"type": "password-reset", "requestedBy": "jane@example.com"},
	})
	require.Equal(t, http.StatusAccepted, status)
	task := decode[model.SubmitEventResponse](t, body.Data).Entity

	require.Eventually(t, func() bool {
		a, err := e.store.Agent("rt-1")
		return err == nil && a.Status == model.AgentProcessing
	}, 5*time.Second, 10*time.Millisecond)

	status, _ = e.do(t, http.MethodPost, "/api/agents/rt-1/complete", model.CompleteAgentRequest{Outcome: "meh"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = e.do(t, http.MethodPost, "/api/agents/rt-1/complete", model.CompleteAgentRequest{Outcome: model.OutcomeSuccess, Details: "reset by desk"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, model.AgentIdle, decode[model.Agent](t, body.Data).Status)

	_, body = e.do(t, http.MethodGet, "/api/tasks?status=completed", nil)
	tasks := decode[[]model.RoutineTask](t, body.Data)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.ID, tasks[0].ID)
	assert.Equal(t, "rt-1", tasks[0].AutomatedBy)
	assert.Equal(t, "Task: password-reset", tasks[0].Title)

	status, _ = e.do(t, http.MethodPost, "/api/agents/rt-1/complete", model.CompleteAgentRequest{Outcome: model.OutcomeSuccess})
	assert.Equal(t, http.StatusConflict, status, "agent is no longer processing")

	_, body = e.do(t, http.MethodGet, "/api/agents?type=routine-tasks", nil)
	agentsList := decode[[]model.Agent](t, body.Data)
	require.Len(t, agentsList, 1)
	assert.Equal(t, 1, agentsList[0].TasksCompleted)
}

func TestWorkflows_CreateAndList(t *testing.T) {
	e := newEnv(t)

	status, body := e.do(t, http.MethodPost, "/api/workflows", model.Workflow{
		ID: "wf-bad", Name: "no trigger", Enabled: true,
		Nodes: []model.WorkflowNode{{ID: "a", Type: model.NodeAction, Config: map[string]any{"agentType": "alert-management", "op": "remediate"}}},
	})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, model.ErrCodeInvalidInput, body.Error.Code)

	status, _ = e.do(t, http.MethodPost, "/api/workflows", remediationWorkflow("wf-ok"))
	require.Equal(t, http.StatusCreated, status)
	status, _ = e.do(t, http.MethodPost, "/api/workflows", remediationWorkflow("wf-ok"))
	assert.Equal(t, http.StatusConflict, status)

	_, body = e.do(t, http.MethodGet, "/api/workflows", nil)
	wfs := decode[[]model.Workflow](t, body.Data)
	require.Len(t, wfs, 2)
	assert.Equal(t, "wf-bad", wfs[0].ID)
	assert.False(t, wfs[0].Enabled)
	assert.NotEmpty(t, wfs[0].LoadError)
	assert.True(t, wfs[1].Enabled)
}

func TestPolicies_Put(t *testing.T) {
	e := newEnv(t)

	status, _ := e.do(t, http.MethodPut, "/api/policies/nightly", model.PatchPolicy{AutoDeployment: true, MaintenanceWindow: "02:00-04:00"})
	require.Equal(t, http.StatusOK, status)
	status, _ = e.do(t, http.MethodPut, "/api/policies/nightly", model.PatchPolicy{ID: "other"})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = e.do(t, http.MethodPut, "/api/policies/nightly", model.PatchPolicy{MaintenanceWindow: "weekends"})
	assert.Equal(t, http.StatusBadRequest, status)

	_, body := e.do(t, http.MethodGet, "/api/policies", nil)
	policies := decode[[]model.PatchPolicy](t, body.Data)
	require.Len(t, policies, 1)
	assert.Equal(t, "nightly", policies[0].ID)
	assert.True(t, policies[0].AutoDeployment)
}

func TestEmptyListsAreArrays(t *testing.T) {
	e := newEnv(t)
	for _, path := range []string{"/api/alerts", "/api/patches", "/api/tasks", "/api/automations", "/api/rca", "/api/workflows", "/api/policies"} {
		status, body := e.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, status, path)
		assert.Equal(t, "[]", string(body.Data), path)
	}
}

func TestAutomations_BadTime(t *testing.T) {
	e := newEnv(t)
	status, _ := e.do(t, http.MethodGet, "/api/automations?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = e.do(t, http.MethodGet, "/api/automations?entityId=a-1", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestOpenAPISpec(t *testing.T) {
	e := newEnv(t)
	status, _ := e.do(t, http.MethodGet, "/openapi.yaml", nil)
	assert.Equal(t, http.StatusNotFound, status)

	e = newEnv(t, func(c *server.ServerConfig) { c.OpenAPISpec = []byte("openapi: 3.1.0\n") })
	resp, err := http.Get(e.srv.URL + "/openapi.yaml")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))
}

func TestSubscribe_StreamsChanges(t *testing.T) {
	e := newEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.srv.URL+"/api/subscribe", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	accepted := submitCriticalAlert(t, e)

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			event = name
		}
		if payload, ok := strings.CutPrefix(line, "data: "); ok && event == server.EventCreated {
			data = payload
			break
		}
	}
	require.NotEmpty(t, data, "expected an entity-created event")
	assert.Contains(t, data, accepted.Entity.ID)
}
