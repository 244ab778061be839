package model

import (
	"fmt"
	"time"
)

// TaskType is the kind of routine service-desk work.
type TaskType string

const (
	TaskUserOnboarding       TaskType = "user-onboarding"
	TaskUserOffboarding      TaskType = "user-offboarding"
	TaskSoftwareInstallation TaskType = "software-installation"
	TaskPasswordReset        TaskType = "password-reset"
	TaskSystemMaintenance    TaskType = "system-maintenance"
)

// TaskStatus is the lifecycle state of a routine task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// RoutineTask is a service-desk request fulfilled by a routine-tasks agent.
type RoutineTask struct {
	ID          string     `json:"id"`
	Type        TaskType   `json:"type"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	RequestedBy string     `json:"requestedBy"`
	RequestedAt time.Time  `json:"requestedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	AutomatedBy string     `json:"automatedBy"`
}

// Clone returns a deep copy.
func (t RoutineTask) Clone() RoutineTask {
	t.CompletedAt = clonePtr(t.CompletedAt)
	return t
}

// Validate checks field domains.
func (t RoutineTask) Validate() error {
	switch t.Type {
	case TaskUserOnboarding, TaskUserOffboarding, TaskSoftwareInstallation, TaskPasswordReset, TaskSystemMaintenance:
	default:
		return fmt.Errorf("%w: task type %q", ErrInvalidInput, t.Type)
	}
	switch t.Status {
	case TaskPending, TaskInProgress, TaskCompleted, TaskFailed:
	default:
		return fmt.Errorf("%w: task status %q", ErrInvalidInput, t.Status)
	}
	if t.RequestedBy == "" {
		return fmt.Errorf("%w: task requestedBy is required", ErrInvalidInput)
	}
	return nil
}
