package lifecycle

import (
	"fmt"
	"time"

	"github.com/ashita-ai/kanri/internal/model"
)

// AlertChange requests an alert status transition.
type AlertChange struct {
	To model.AlertStatus
	// AgentAction is required when To is auto-remediated.
	AgentAction string
	RootCause   string
	At          time.Time
}

// ApplyAlert returns a copy of a with the change applied.
func ApplyAlert(a model.Alert, c AlertChange) (model.Alert, error) {
	if err := CheckAlert(a, c.To); err != nil {
		return a, err
	}
	next := a.Clone()
	next.Status = c.To
	switch c.To {
	case model.AlertAutoRemediated:
		if c.AgentAction == "" {
			return a, &model.TransitionError{
				Entity: model.EntityAlert, ID: a.ID, From: string(a.Status), To: string(c.To),
				Reason: "agentAction is required",
			}
		}
		action := c.AgentAction
		next.AgentAction = &action
		next.AutoRemediated = true
	case model.AlertResolved:
		if c.AgentAction != "" {
			action := c.AgentAction
			next.AgentAction = &action
		}
	}
	if c.RootCause != "" {
		rc := c.RootCause
		next.RootCause = &rc
	}
	if c.To.Terminal() {
		at := c.At
		next.ResolvedAt = &at
	}
	return next, nil
}

// PatchChange requests a patch status transition.
type PatchChange struct {
	To model.PatchStatus
	// Progress optionally records how far a failed deployment got.
	Progress *int
	At       time.Time
}

// ApplyPatch returns a copy of p with the change applied. Completing always
// sets 100%; no transition moves the percentage backwards.
func ApplyPatch(p model.Patch, c PatchChange) (model.Patch, error) {
	if err := CheckPatch(p, c.To); err != nil {
		return p, err
	}
	next := p.Clone()
	next.Status = c.To
	switch c.To {
	case model.PatchInProgress:
		if next.DeployedAt == nil {
			at := c.At
			next.DeployedAt = &at
		}
	case model.PatchCompleted:
		next.CompletionPercentage = 100
	case model.PatchFailed:
		if c.Progress != nil && *c.Progress > next.CompletionPercentage {
			next.CompletionPercentage = min(*c.Progress, 99)
		}
	}
	return next, nil
}

// ProgressPatch records deployment progress on an in-progress patch. The
// percentage is monotonic and only completion may reach 100.
func ProgressPatch(p model.Patch, pct int) (model.Patch, error) {
	if p.Status != model.PatchInProgress {
		return p, &model.TransitionError{
			Entity: model.EntityPatch, ID: p.ID, From: string(p.Status), To: string(p.Status),
			Reason: "progress is only recorded while in-progress",
		}
	}
	if pct < p.CompletionPercentage || pct >= 100 {
		return p, &model.TransitionError{
			Entity: model.EntityPatch, ID: p.ID, From: string(p.Status), To: string(p.Status),
			Reason: fmt.Sprintf("progress %d not in [%d,100)", pct, p.CompletionPercentage),
		}
	}
	next := p.Clone()
	next.CompletionPercentage = pct
	return next, nil
}

// TaskChange requests a routine task status transition.
type TaskChange struct {
	To model.TaskStatus
	// AgentID is recorded as automatedBy when the task starts, or when it
	// finishes without one (work that waited in a queue).
	AgentID string
	At      time.Time
}

// ApplyTask returns a copy of t with the change applied.
func ApplyTask(t model.RoutineTask, c TaskChange) (model.RoutineTask, error) {
	if err := CheckTask(t, c.To); err != nil {
		return t, err
	}
	next := t.Clone()
	next.Status = c.To
	switch c.To {
	case model.TaskInProgress:
		if c.AgentID != "" {
			next.AutomatedBy = c.AgentID
		}
	case model.TaskCompleted:
		at := c.At
		next.CompletedAt = &at
	}
	if next.AutomatedBy == "" && c.AgentID != "" &&
		(c.To == model.TaskCompleted || c.To == model.TaskFailed) {
		next.AutomatedBy = c.AgentID
	}
	return next, nil
}
