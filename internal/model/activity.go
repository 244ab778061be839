package model

import (
	"slices"
	"time"
)

// Outcome is the result class of one delegated action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomePartial Outcome = "partial"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailed || o == OutcomePartial
}

// OutcomeFromCounts classifies a multi-system execution.
func OutcomeFromCounts(succeeded, failed int) Outcome {
	switch {
	case failed == 0 && succeeded > 0:
		return OutcomeSuccess
	case succeeded > 0 && failed > 0:
		return OutcomePartial
	default:
		return OutcomeFailed
	}
}

// AutomationActivity is an immutable audit record of one action outcome.
// AgentName is copied at creation so the record keeps its meaning if the
// agent is renamed later.
type AutomationActivity struct {
	ID          string    `json:"id"`
	Sequence    int64     `json:"sequence"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Outcome     Outcome   `json:"outcome"`
	Timestamp   time.Time `json:"timestamp"`
	AgentID     string    `json:"agentId"`
	AgentName   string    `json:"agentName"`
	Details     *string   `json:"details,omitempty"`
	WorkflowID  string    `json:"workflowId,omitempty"`
	EventID     string    `json:"eventId,omitempty"`
	Entity      EntityRef `json:"entity"`
}

// Clone returns a deep copy.
func (a AutomationActivity) Clone() AutomationActivity {
	a.Details = clonePtr(a.Details)
	return a
}

// RootCauseAnalysis is the post-hoc explanation attached to a resolved alert.
// Created once per alert and never overwritten.
type RootCauseAnalysis struct {
	ID                 string    `json:"id"`
	AlertID            string    `json:"alertId"`
	Timestamp          time.Time `json:"timestamp"`
	RootCause          string    `json:"rootCause"`
	AffectedComponents []string  `json:"affectedComponents"`
	Recommendation     string    `json:"recommendation"`
	PreventionSteps    []string  `json:"preventionSteps"`
	Confidence         float64   `json:"confidence"`
	// ActivityIDs lists the audit records the analysis was derived from.
	ActivityIDs []string `json:"activityIds,omitempty"`
}

// Clone returns a deep copy.
func (r RootCauseAnalysis) Clone() RootCauseAnalysis {
	r.AffectedComponents = slices.Clone(r.AffectedComponents)
	r.PreventionSteps = slices.Clone(r.PreventionSteps)
	r.ActivityIDs = slices.Clone(r.ActivityIDs)
	return r
}
