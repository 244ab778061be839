// Package model defines the domain records owned by the entity store and the
// request/response shapes of the HTTP API.
package model

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// EntityKind names the kind of record an event or activity refers to.
type EntityKind string

const (
	EntityAlert EntityKind = "alert"
	EntityPatch EntityKind = "patch"
	EntityTask  EntityKind = "task"
)

// EntityRef points at a stored entity without owning it.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// IsZero reports whether the reference points at nothing.
func (r EntityRef) IsZero() bool { return r.Kind == "" && r.ID == "" }

func (r EntityRef) String() string { return string(r.Kind) + "/" + r.ID }

// AlertSeverity is the monitoring severity of an alert.
type AlertSeverity string

const (
	AlertCritical AlertSeverity = "critical"
	AlertWarning  AlertSeverity = "warning"
	AlertInfo     AlertSeverity = "info"
	AlertLow      AlertSeverity = "low"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertActive         AlertStatus = "active"
	AlertAcknowledged   AlertStatus = "acknowledged"
	AlertResolved       AlertStatus = "resolved"
	AlertAutoRemediated AlertStatus = "auto-remediated"
)

// Terminal reports whether no further transition is possible.
func (s AlertStatus) Terminal() bool {
	return s == AlertResolved || s == AlertAutoRemediated
}

// Alert is a monitoring alert raised by an external feed.
type Alert struct {
	ID              string        `json:"id"`
	Severity        AlertSeverity `json:"severity"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	Source          string        `json:"source"`
	Timestamp       time.Time     `json:"timestamp"`
	Status          AlertStatus   `json:"status"`
	AffectedSystems []string      `json:"affectedSystems"`
	AutoRemediated  bool          `json:"autoRemediated"`
	AgentAction     *string       `json:"agentAction,omitempty"`
	RootCause       *string       `json:"rootCause,omitempty"`
	// ResolvedAt is stamped when the alert reaches a terminal status. It
	// bounds the resolution window used for root cause correlation.
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// Clone returns a deep copy so callers never share slices with the store.
func (a Alert) Clone() Alert {
	a.AffectedSystems = slices.Clone(a.AffectedSystems)
	a.AgentAction = clonePtr(a.AgentAction)
	a.RootCause = clonePtr(a.RootCause)
	a.ResolvedAt = clonePtr(a.ResolvedAt)
	return a
}

// Validate checks field domains and the auto-remediation invariant.
func (a Alert) Validate() error {
	switch a.Severity {
	case AlertCritical, AlertWarning, AlertInfo, AlertLow:
	default:
		return fmt.Errorf("%w: alert severity %q", ErrInvalidInput, a.Severity)
	}
	switch a.Status {
	case AlertActive, AlertAcknowledged, AlertResolved, AlertAutoRemediated:
	default:
		return fmt.Errorf("%w: alert status %q", ErrInvalidInput, a.Status)
	}
	if strings.TrimSpace(a.Title) == "" {
		return fmt.Errorf("%w: alert title is required", ErrInvalidInput)
	}
	if a.AutoRemediated && a.Status != AlertAutoRemediated {
		return fmt.Errorf("%w: autoRemediated alert must have status %s", ErrInvalidInput, AlertAutoRemediated)
	}
	if a.Status == AlertAutoRemediated && (!a.AutoRemediated || a.AgentAction == nil || *a.AgentAction == "") {
		return fmt.Errorf("%w: auto-remediated alert requires agentAction", ErrInvalidInput)
	}
	return nil
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
