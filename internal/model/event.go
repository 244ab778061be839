package model

import "time"

// EventKind names what happened in the outside world.
type EventKind string

const (
	EventAlertCreated   EventKind = "alert-created"
	EventAlertUpdated   EventKind = "alert-updated"
	EventPatchAvailable EventKind = "patch-available"
	EventTaskRequested  EventKind = "task-requested"
	EventScheduleTick   EventKind = "schedule-tick"
	EventManual         EventKind = "manual"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventAlertCreated, EventAlertUpdated, EventPatchAvailable,
		EventTaskRequested, EventScheduleTick, EventManual:
		return true
	default:
		return false
	}
}

// Event is the unit of ingestion. ID doubles as the acceptance token
// returned to the submitter.
type Event struct {
	ID        string         `json:"id"`
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Entity    EntityRef      `json:"entity"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// ActionSpec is the unit of work handed to an agent.
type ActionSpec struct {
	Op         string         `json:"op"`
	AgentType  AgentType      `json:"agentType"`
	Params     map[string]any `json:"params,omitempty"`
	Entity     EntityRef      `json:"entity"`
	WorkflowID string         `json:"workflowId,omitempty"`
	NodeID     string         `json:"nodeId,omitempty"`
	EventID    string         `json:"eventId,omitempty"`
	Attempt    int            `json:"attempt"`
}

// TaskRef renders the action as the agent's currentTask reference.
func (s ActionSpec) TaskRef() string {
	if s.Entity.IsZero() {
		return s.Op
	}
	return s.Op + ":" + s.Entity.String()
}

// ExecutionResult is what an agent reports back for one ActionSpec.
type ExecutionResult struct {
	Outcome          Outcome `json:"outcome"`
	Details          string  `json:"details,omitempty"`
	SystemsSucceeded int     `json:"systemsSucceeded,omitempty"`
	SystemsFailed    int     `json:"systemsFailed,omitempty"`
	// Progress is a completion percentage for partially applied work.
	Progress int `json:"progress,omitempty"`
}

// Normalize fills Outcome from the system counts when the agent left it empty.
func (r ExecutionResult) Normalize() ExecutionResult {
	if !r.Outcome.Valid() {
		r.Outcome = OutcomeFromCounts(r.SystemsSucceeded, r.SystemsFailed)
	}
	return r
}
