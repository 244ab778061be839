package model

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the store, the state machines, and the services.
// Callers match them with errors.Is; producers wrap them with context.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when an entity id is reused.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidTransition is returned for a status change that the entity's
	// transition table does not list. State is left unchanged.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrAgentBusy is returned when every capable agent is already processing.
	ErrAgentBusy = errors.New("agent busy")

	// ErrNoCapableAgent is returned when no agent of the requested type is
	// registered at all. This is a configuration gap and is never retried.
	ErrNoCapableAgent = errors.New("no capable agent")

	// ErrAgentUnavailable is returned when agents of the requested type exist
	// but all of them are in the error state.
	ErrAgentUnavailable = errors.New("agent unavailable")

	// ErrAlreadyAnalyzed is returned by the root cause analyzer when an alert
	// already has a RootCauseAnalysis.
	ErrAlreadyAnalyzed = errors.New("already analyzed")

	// ErrAlertNotResolved is returned when analysis is requested for an alert
	// that is neither resolved nor auto-remediated.
	ErrAlertNotResolved = errors.New("alert not resolved")

	// ErrMalformedWorkflow is returned when a workflow graph fails validation
	// at load time.
	ErrMalformedWorkflow = errors.New("malformed workflow")

	// ErrDeferred is returned by an executor that accepted work which will be
	// completed later through an explicit Complete call.
	ErrDeferred = errors.New("execution deferred")

	// ErrInvalidInput is returned for entity payloads that fail validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrQueueFull is returned when a bounded work queue rejects an item.
	ErrQueueFull = errors.New("queue full")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	Entity EntityKind
	ID     string
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s %s: %s -> %s", e.Entity, e.ID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return "invalid transition: " + msg
}

// Unwrap lets errors.Is(err, ErrInvalidTransition) match.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// WorkflowError describes why a workflow graph was rejected.
type WorkflowError struct {
	WorkflowID string
	NodeID     string
	Reason     string
}

func (e *WorkflowError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("malformed workflow %s: node %s: %s", e.WorkflowID, e.NodeID, e.Reason)
	}
	return fmt.Sprintf("malformed workflow %s: %s", e.WorkflowID, e.Reason)
}

// Unwrap lets errors.Is(err, ErrMalformedWorkflow) match.
func (e *WorkflowError) Unwrap() error { return ErrMalformedWorkflow }
