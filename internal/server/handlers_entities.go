package server

import (
	"errors"
	"net/http"
	"slices"

	"github.com/ashita-ai/kanri/internal/model"
	"github.com/ashita-ai/kanri/internal/service/workflow"
	"github.com/ashita-ai/kanri/internal/store"
)

// HandleListPatches handles GET /api/patches. Optional filters: status, severity.
func (h *Handlers) HandleListPatches(w http.ResponseWriter, r *http.Request) {
	patches := h.store.Patches()
	patches = filterBy(r, "status", patches, func(p model.Patch) model.PatchStatus { return p.Status })
	patches = filterBy(r, "severity", patches, func(p model.Patch) model.PatchSeverity { return p.Severity })
	writeJSON(w, r, http.StatusOK, nonNil(patches))
}

// HandleListTasks handles GET /api/tasks. Optional filters: status, type.
func (h *Handlers) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.store.Tasks()
	tasks = filterBy(r, "status", tasks, func(t model.RoutineTask) model.TaskStatus { return t.Status })
	tasks = filterBy(r, "type", tasks, func(t model.RoutineTask) model.TaskType { return t.Type })
	writeJSON(w, r, http.StatusOK, nonNil(tasks))
}

// HandleListAgents handles GET /api/agents. Optional filters: status, type.
func (h *Handlers) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.store.Agents()
	agents = filterBy(r, "status", agents, func(a model.Agent) model.AgentStatus { return a.Status })
	agents = filterBy(r, "type", agents, func(a model.Agent) model.AgentType { return a.Type })
	writeJSON(w, r, http.StatusOK, nonNil(agents))
}

// HandleCompleteAgent handles POST /api/agents/{id}/complete, reporting the
// outcome of deferred work.
func (h *Handlers) HandleCompleteAgent(w http.ResponseWriter, r *http.Request) {
	var req model.CompleteAgentRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	switch req.Outcome {
	case model.OutcomeSuccess, model.OutcomePartial, model.OutcomeFailed:
	default:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "outcome must be success, partial, or failed")
		return
	}

	id := r.PathValue("id")
	err := h.dispatcher.Complete(r.Context(), id, model.ExecutionResult{
		Outcome:          req.Outcome,
		Details:          req.Details,
		SystemsSucceeded: req.SystemsSucceeded,
		SystemsFailed:    req.SystemsFailed,
		Progress:         req.Progress,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	agent, err := h.store.Agent(id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, agent)
}

// HandleListAutomations handles GET /api/automations: the activity trail,
// newest first. Filters: entityKind, entityId, agentId, workflowId,
// eventId, outcome, since, until, limit (default 50).
func (h *Handlers) HandleListAutomations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := queryTime(r, "since")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	until, err := queryTime(r, "until")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	f := store.ActivityFilter{
		EntityKind: model.EntityKind(q.Get("entityKind")),
		AgentID:    q.Get("agentId"),
		WorkflowID: q.Get("workflowId"),
		EventID:    q.Get("eventId"),
		Outcome:    model.Outcome(q.Get("outcome")),
		Since:      since,
		Until:      until,
		Limit:      queryLimit(r, 50),
	}
	if id := q.Get("entityId"); id != "" {
		if f.EntityKind == "" {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "entityId requires entityKind")
			return
		}
		f.Entity = model.EntityRef{Kind: f.EntityKind, ID: id}
	}

	acts := h.store.Activities(f)
	slices.Reverse(acts)
	writeJSON(w, r, http.StatusOK, nonNil(acts))
}

// HandleDashboardMetrics handles GET /api/dashboard/metrics.
func (h *Handlers) HandleDashboardMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.metrics.Compute(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, m)
}

// HandleSubmitEvent handles POST /api/events. Evaluation is asynchronous;
// the response carries the acceptance token and the entity the event
// created or referenced.
func (h *Handlers) HandleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitEventRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	ev, err := h.ingest.Submit(r.Context(), req.Kind, req.Payload)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, model.SubmitEventResponse{Token: ev.ID, Entity: ev.Entity})
}

// HandleListWorkflows handles GET /api/workflows.
func (h *Handlers) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, nonNil(h.store.Workflows()))
}

// HandleCreateWorkflow handles POST /api/workflows. A workflow that fails
// validation is stored disabled; the response is 422 with the stored
// record in the error details.
func (h *Handlers) HandleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf model.Workflow
	if err := decodeJSON(w, r, &wf, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	stored, err := h.workflows.AddWorkflow(r.Context(), wf)
	switch {
	case errors.Is(err, model.ErrMalformedWorkflow) && stored.ID != "":
		writeErrorDetails(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, err.Error(), stored)
	case err != nil:
		writeServiceError(w, r, h.logger, err)
	default:
		writeJSON(w, r, http.StatusCreated, stored)
	}
}

// HandleListPolicies handles GET /api/policies.
func (h *Handlers) HandleListPolicies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, nonNil(h.store.Policies()))
}

// HandlePutPolicy handles PUT /api/policies/{id}, creating or replacing
// the policy.
func (h *Handlers) HandlePutPolicy(w http.ResponseWriter, r *http.Request) {
	var p model.PatchPolicy
	if err := decodeJSON(w, r, &p, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	if p.ID != "" && p.ID != id {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "policy id does not match path")
		return
	}
	p.ID = id
	if _, err := workflow.ParseWindow(p.MaintenanceWindow); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if err := h.store.PutPolicy(r.Context(), p); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}
