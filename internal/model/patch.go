package model

import (
	"fmt"
	"strings"
	"time"
)

// PatchSeverity is the vendor severity of a patch.
type PatchSeverity string

const (
	PatchCritical PatchSeverity = "critical"
	PatchHigh     PatchSeverity = "high"
	PatchMedium   PatchSeverity = "medium"
	PatchLow      PatchSeverity = "low"
)

// PatchStatus is the deployment lifecycle state of a patch.
type PatchStatus string

const (
	PatchPending    PatchStatus = "pending"
	PatchInProgress PatchStatus = "in-progress"
	PatchCompleted  PatchStatus = "completed"
	PatchFailed     PatchStatus = "failed"
	PatchRollback   PatchStatus = "rollback"
)

// Patch is a deployable OS or software update.
type Patch struct {
	ID                   string        `json:"id"`
	Name                 string        `json:"name"`
	Version              string        `json:"version"`
	Severity             PatchSeverity `json:"severity"`
	AffectedSystems      int           `json:"affectedSystems"`
	Status               PatchStatus   `json:"status"`
	CompletionPercentage int           `json:"completionPercentage"`
	CanRollback          bool          `json:"canRollback"`
	DeployedAt           *time.Time    `json:"deployedAt,omitempty"`
	ScheduledFor         *time.Time    `json:"scheduledFor,omitempty"`
	PolicyID             string        `json:"policyId,omitempty"`
}

// Clone returns a deep copy.
func (p Patch) Clone() Patch {
	p.DeployedAt = clonePtr(p.DeployedAt)
	p.ScheduledFor = clonePtr(p.ScheduledFor)
	return p
}

// Validate checks field domains and the completion invariant.
func (p Patch) Validate() error {
	switch p.Severity {
	case PatchCritical, PatchHigh, PatchMedium, PatchLow:
	default:
		return fmt.Errorf("%w: patch severity %q", ErrInvalidInput, p.Severity)
	}
	switch p.Status {
	case PatchPending, PatchInProgress, PatchCompleted, PatchFailed, PatchRollback:
	default:
		return fmt.Errorf("%w: patch status %q", ErrInvalidInput, p.Status)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: patch name is required", ErrInvalidInput)
	}
	if p.AffectedSystems < 0 {
		return fmt.Errorf("%w: patch affectedSystems must not be negative", ErrInvalidInput)
	}
	if p.CompletionPercentage < 0 || p.CompletionPercentage > 100 {
		return fmt.Errorf("%w: patch completionPercentage %d out of range", ErrInvalidInput, p.CompletionPercentage)
	}
	if p.Status == PatchCompleted && p.CompletionPercentage != 100 {
		return fmt.Errorf("%w: completed patch must be at 100%%", ErrInvalidInput)
	}
	return nil
}

// PatchPolicy governs when patches may be deployed automatically.
type PatchPolicy struct {
	ID                string `json:"id" yaml:"id"`
	Name              string `json:"name" yaml:"name"`
	AutoDeployment    bool   `json:"autoDeployment" yaml:"autoDeployment"`
	MaintenanceWindow string `json:"maintenanceWindow" yaml:"maintenanceWindow"`
	TestPhaseRequired bool   `json:"testPhaseRequired" yaml:"testPhaseRequired"`
	ApprovalRequired  bool   `json:"approvalRequired" yaml:"approvalRequired"`
}
