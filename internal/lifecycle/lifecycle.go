// Package lifecycle holds the status transition tables for alerts, patches,
// and routine tasks. Every status change in the store goes through the Check
// and Apply functions here; any pair not listed is rejected with
// model.ErrInvalidTransition and the entity is left unchanged.
package lifecycle

import (
	"slices"

	"github.com/ashita-ai/kanri/internal/model"
)

var alertTransitions = map[model.AlertStatus][]model.AlertStatus{
	model.AlertActive:       {model.AlertAcknowledged, model.AlertResolved, model.AlertAutoRemediated},
	model.AlertAcknowledged: {model.AlertResolved},
}

var patchTransitions = map[model.PatchStatus][]model.PatchStatus{
	model.PatchPending:    {model.PatchInProgress},
	model.PatchInProgress: {model.PatchCompleted, model.PatchFailed},
	model.PatchCompleted:  {model.PatchRollback},
	model.PatchFailed:     {model.PatchRollback},
}

var taskTransitions = map[model.TaskStatus][]model.TaskStatus{
	model.TaskPending:    {model.TaskInProgress},
	model.TaskInProgress: {model.TaskCompleted, model.TaskFailed},
}

// CanAlert reports whether the alert table lists from -> to.
func CanAlert(from, to model.AlertStatus) bool {
	return slices.Contains(alertTransitions[from], to)
}

// CanPatch reports whether the patch table lists from -> to. It does not
// consider canRollback; use CheckPatch for the full rule.
func CanPatch(from, to model.PatchStatus) bool {
	return slices.Contains(patchTransitions[from], to)
}

// CanTask reports whether the task table lists from -> to.
func CanTask(from, to model.TaskStatus) bool {
	return slices.Contains(taskTransitions[from], to)
}

// CheckAlert validates a status change for alert a.
func CheckAlert(a model.Alert, to model.AlertStatus) error {
	if !CanAlert(a.Status, to) {
		return &model.TransitionError{Entity: model.EntityAlert, ID: a.ID, From: string(a.Status), To: string(to)}
	}
	return nil
}

// CheckPatch validates a status change for patch p, including the
// canRollback guard on the rollback edge.
func CheckPatch(p model.Patch, to model.PatchStatus) error {
	if !CanPatch(p.Status, to) {
		return &model.TransitionError{Entity: model.EntityPatch, ID: p.ID, From: string(p.Status), To: string(to)}
	}
	if to == model.PatchRollback && !p.CanRollback {
		return &model.TransitionError{
			Entity: model.EntityPatch, ID: p.ID, From: string(p.Status), To: string(to),
			Reason: "patch does not support rollback",
		}
	}
	return nil
}

// CheckTask validates a status change for task t.
func CheckTask(t model.RoutineTask, to model.TaskStatus) error {
	if !CanTask(t.Status, to) {
		return &model.TransitionError{Entity: model.EntityTask, ID: t.ID, From: string(t.Status), To: string(to)}
	}
	return nil
}
