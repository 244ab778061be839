package model

import (
	"fmt"
	"time"
)

// AgentType is the capability family an agent serves.
type AgentType string

const (
	AgentPatchManagement AgentType = "patch-management"
	AgentAlertManagement AgentType = "alert-management"
	AgentRoutineTasks    AgentType = "routine-tasks"
)

// Valid reports whether t is one of the known agent types.
func (t AgentType) Valid() bool {
	switch t {
	case AgentPatchManagement, AgentAlertManagement, AgentRoutineTasks:
		return true
	default:
		return false
	}
}

// AgentStatus is the runtime state of an agent.
type AgentStatus string

const (
	AgentActive     AgentStatus = "active"
	AgentIdle       AgentStatus = "idle"
	AgentProcessing AgentStatus = "processing"
	AgentError      AgentStatus = "error"
)

// Available reports whether an agent in this status may accept work.
func (s AgentStatus) Available() bool {
	return s == AgentIdle || s == AgentActive
}

// Agent is an executor provisioned from configuration at process start.
// Only status and counters mutate afterwards.
type Agent struct {
	ID             string      `json:"id"`
	Type           AgentType   `json:"type"`
	Name           string      `json:"name"`
	Status         AgentStatus `json:"status"`
	CurrentTask    *string     `json:"currentTask,omitempty"`
	TasksCompleted int         `json:"tasksCompleted"`
	SuccessRate    float64     `json:"successRate"`
	LastActive     time.Time   `json:"lastActive"`
}

// Clone returns a deep copy.
func (a Agent) Clone() Agent {
	a.CurrentTask = clonePtr(a.CurrentTask)
	return a
}

// Validate checks field domains and the processing invariant.
func (a Agent) Validate() error {
	if err := ValidateAgentID(a.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !a.Type.Valid() {
		return fmt.Errorf("%w: agent type %q", ErrInvalidInput, a.Type)
	}
	switch a.Status {
	case AgentActive, AgentIdle, AgentProcessing, AgentError:
	default:
		return fmt.Errorf("%w: agent status %q", ErrInvalidInput, a.Status)
	}
	if a.SuccessRate < 0 || a.SuccessRate > 100 {
		return fmt.Errorf("%w: agent successRate %.2f out of range", ErrInvalidInput, a.SuccessRate)
	}
	if (a.Status == AgentProcessing) != (a.CurrentTask != nil) {
		return fmt.Errorf("%w: agent %s status %s inconsistent with currentTask", ErrInvalidInput, a.ID, a.Status)
	}
	return nil
}

// ValidateAgentID checks that an agent ID conforms to the allowed format.
// Agent IDs must be 1-255 ASCII characters: alphanumeric, dots, hyphens,
// underscores, and @ signs.
func ValidateAgentID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("agent id is required")
	}
	if len(id) > 255 {
		return fmt.Errorf("agent id must be at most 255 characters")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' && c != '@' {
			return fmt.Errorf("agent id contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
