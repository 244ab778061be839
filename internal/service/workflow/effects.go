package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ashita-ai/kanri/internal/lifecycle"
	"github.com/ashita-ai/kanri/internal/model"
	"github.com/ashita-ai/kanri/internal/service/dispatch"
	"github.com/ashita-ai/kanri/internal/store"
)

// Ops with built-in entity effects.
const (
	OpRemediate   = "remediate"
	OpAcknowledge = "acknowledge"
	OpResolve     = "resolve"
	OpDeploy      = "deploy"
	OpRollback    = "rollback"
	OpExecute     = "execute"
)

type effectKey struct {
	kind model.EntityKind
	op   string
}

var activityTypes = map[effectKey]string{
	{model.EntityAlert, OpRemediate}:   "Alert Remediation",
	{model.EntityAlert, OpAcknowledge}: "Alert Triage",
	{model.EntityAlert, OpResolve}:     "Alert Resolution",
	{model.EntityPatch, OpDeploy}:      "Patch Deployment",
	{model.EntityPatch, OpRollback}:    "Patch Rollback",
	{model.EntityTask, OpExecute}:      "Task Automation",
}

func activityType(spec model.ActionSpec) string {
	if t, ok := activityTypes[effectKey{spec.Entity.Kind, spec.Op}]; ok {
		return t
	}
	words := strings.FieldsFunc(spec.Op, func(r rune) bool { return r == '-' || r == '_' || r == ' ' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func describe(spec model.ActionSpec) string {
	if spec.Entity.IsZero() {
		return spec.Op
	}
	return spec.Op + " " + spec.Entity.String()
}

func entityLabel(entity any) string {
	switch v := entity.(type) {
	case model.Alert:
		return fmt.Sprintf("alert %q", v.Title)
	case model.Patch:
		return fmt.Sprintf("patch %s %s", v.Name, v.Version)
	case model.RoutineTask:
		if v.Title != "" {
			return fmt.Sprintf("task %q", v.Title)
		}
		return "task " + string(v.Type)
	default:
		return ""
	}
}

// checkAccept rejects an action whose effect the entity's state machine
// would not allow, before any agent is claimed.
func (e *Evaluator) checkAccept(tx *store.Tx, spec model.ActionSpec) error {
	switch (effectKey{spec.Entity.Kind, spec.Op}) {
	case effectKey{model.EntityAlert, OpRemediate}:
		a, err := tx.Alert()
		if err != nil {
			return err
		}
		return lifecycle.CheckAlert(a, model.AlertAutoRemediated)
	case effectKey{model.EntityAlert, OpAcknowledge}:
		a, err := tx.Alert()
		if err != nil {
			return err
		}
		return lifecycle.CheckAlert(a, model.AlertAcknowledged)
	case effectKey{model.EntityAlert, OpResolve}:
		a, err := tx.Alert()
		if err != nil {
			return err
		}
		return lifecycle.CheckAlert(a, model.AlertResolved)
	case effectKey{model.EntityPatch, OpDeploy}:
		if spec.Attempt > 1 {
			return nil
		}
		p, err := tx.Patch()
		if err != nil {
			return err
		}
		return lifecycle.CheckPatch(p, model.PatchInProgress)
	case effectKey{model.EntityPatch, OpRollback}:
		p, err := tx.Patch()
		if err != nil {
			return err
		}
		return lifecycle.CheckPatch(p, model.PatchRollback)
	case effectKey{model.EntityTask, OpExecute}:
		t, err := tx.Task()
		if err != nil {
			return err
		}
		return lifecycle.CheckTask(t, model.TaskInProgress)
	}
	return nil
}

// applyAccept performs the transition that happens when work is accepted.
func (e *Evaluator) applyAccept(tx *store.Tx, spec model.ActionSpec, agentID string) error {
	switch (effectKey{spec.Entity.Kind, spec.Op}) {
	case effectKey{model.EntityPatch, OpDeploy}:
		if spec.Attempt > 1 {
			return nil
		}
		_, err := tx.TransitionPatch(lifecycle.PatchChange{To: model.PatchInProgress})
		return err
	case effectKey{model.EntityTask, OpExecute}:
		_, err := tx.TransitionTask(lifecycle.TaskChange{To: model.TaskInProgress, AgentID: agentID})
		return err
	}
	return nil
}

// continuation returns the completion handler for an accepted action.
func (e *Evaluator) continuation(plan ActionPlan) dispatch.Continuation {
	return func(ctx context.Context, c dispatch.Completion) {
		err := e.store.WithEntity(ctx, c.Spec.Entity, func(tx *store.Tx) error {
			return e.complete(ctx, tx, plan, c)
		})
		if err != nil {
			e.logger.Error("workflow: completion", "entity", c.Spec.Entity.String(), "op", c.Spec.Op, "error", err)
		}
	}
}

// complete applies the outcome of one action: the entity transition, the
// activity, and any retry or rollback the node asked for.
func (e *Evaluator) complete(ctx context.Context, tx *store.Tx, plan ActionPlan, c dispatch.Completion) error {
	spec, res := c.Spec, c.Result
	var (
		effectErr error
		retry     bool
		rollback  bool
	)

	switch (effectKey{spec.Entity.Kind, spec.Op}) {
	case effectKey{model.EntityAlert, OpRemediate}:
		switch res.Outcome {
		case model.OutcomeSuccess:
			action := res.Details
			if action == "" {
				action = fmt.Sprintf("remediated by %s", c.Agent.Name)
			}
			_, effectErr = tx.TransitionAlert(lifecycle.AlertChange{To: model.AlertAutoRemediated, AgentAction: action})
		case model.OutcomePartial:
			_, effectErr = tx.TransitionAlert(lifecycle.AlertChange{To: model.AlertAcknowledged})
		}
	case effectKey{model.EntityAlert, OpAcknowledge}:
		if res.Outcome != model.OutcomeFailed {
			_, effectErr = tx.TransitionAlert(lifecycle.AlertChange{To: model.AlertAcknowledged})
		}
	case effectKey{model.EntityAlert, OpResolve}:
		if res.Outcome == model.OutcomeSuccess {
			_, effectErr = tx.TransitionAlert(lifecycle.AlertChange{To: model.AlertResolved, AgentAction: res.Details})
		}
	case effectKey{model.EntityPatch, OpDeploy}:
		if res.Outcome == model.OutcomeSuccess {
			_, effectErr = tx.TransitionPatch(lifecycle.PatchChange{To: model.PatchCompleted})
			break
		}
		if spec.Attempt <= plan.Retries {
			retry = true
			if res.Progress > 0 {
				// Progress is informational here; a regression is ignored.
				_, _ = tx.ProgressPatch(min(res.Progress, 99))
			}
			break
		}
		change := lifecycle.PatchChange{To: model.PatchFailed}
		if res.Progress > 0 {
			progress := res.Progress
			change.Progress = &progress
		}
		var p model.Patch
		p, effectErr = tx.TransitionPatch(change)
		rollback = effectErr == nil && plan.RollbackOnFailure && p.CanRollback
	case effectKey{model.EntityPatch, OpRollback}:
		if res.Outcome == model.OutcomeSuccess {
			_, effectErr = tx.TransitionPatch(lifecycle.PatchChange{To: model.PatchRollback})
		}
	case effectKey{model.EntityTask, OpExecute}:
		to := model.TaskFailed
		if res.Outcome == model.OutcomeSuccess {
			to = model.TaskCompleted
		}
		_, effectErr = tx.TransitionTask(lifecycle.TaskChange{To: to, AgentID: c.Agent.ID})
	}

	details := res.Details
	if effectErr != nil {
		e.logger.Warn("workflow: completion effect rejected", "entity", spec.Entity.String(), "op", spec.Op, "error", effectErr)
		details = strings.TrimSpace(details + " (state not updated: " + effectErr.Error() + ")")
	}
	if spec.Attempt > 1 {
		details = strings.TrimSpace(fmt.Sprintf("attempt %d. %s", spec.Attempt, details))
	}
	entity, _ := tx.Entity()
	desc := fmt.Sprintf("%s %s: %s", activityType(spec), entityLabel(entity), res.Outcome)
	if entity == nil {
		desc = fmt.Sprintf("%s: %s", activityType(spec), res.Outcome)
	}
	act := model.AutomationActivity{
		Sequence:    c.Sequence,
		Type:        activityType(spec),
		Description: desc,
		Outcome:     res.Outcome,
		AgentID:     c.Agent.ID,
		AgentName:   c.Agent.Name,
		WorkflowID:  spec.WorkflowID,
		EventID:     spec.EventID,
		Entity:      spec.Entity,
	}
	if details != "" {
		act.Details = &details
	}
	act, err := tx.AppendActivity(act)
	if err != nil {
		return err
	}
	e.count(ctx, act)

	switch {
	case retry:
		next := spec
		next.Attempt++
		if err := e.redispatch(ctx, tx, next, plan); err != nil {
			progress := res.Progress
			if _, terr := tx.TransitionPatch(lifecycle.PatchChange{To: model.PatchFailed, Progress: &progress}); terr != nil {
				return errors.Join(err, terr)
			}
			return err
		}
	case rollback:
		rb := spec
		rb.Op = OpRollback
		rb.Attempt = 1
		if err := e.redispatch(ctx, tx, rb, ActionPlan{Spec: rb}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Evaluator) redispatch(ctx context.Context, tx *store.Tx, spec model.ActionSpec, plan ActionPlan) error {
	if err := e.checkAccept(tx, spec); err != nil {
		return err
	}
	plan.Spec = spec
	onDone := e.continuation(plan)
	_, err := e.disp.Dispatch(ctx, spec, onDone)
	if errors.Is(err, model.ErrAgentBusy) {
		_, err = e.disp.Enqueue(ctx, spec, onDone)
	}
	return err
}
