package store

import (
	"context"
	"fmt"

	"github.com/ashita-ai/kanri/internal/lifecycle"
	"github.com/ashita-ai/kanri/internal/model"
)

// Tx is a locked view of one entity. Mutations are persisted and applied as
// they are made; an error returned from the WithEntity callback does not
// undo them. Observers see the collected changes after the lock is released.
type Tx struct {
	ctx     context.Context
	s       *Store
	ref     model.EntityRef
	changes []Change
}

// WithEntity runs fn while holding ref's lock. A zero ref runs fn without
// locking, for events that do not target an entity.
func (s *Store) WithEntity(ctx context.Context, ref model.EntityRef, fn func(tx *Tx) error) error {
	tx := &Tx{ctx: ctx, s: s, ref: ref}
	if !ref.IsZero() {
		var (
			unlock func()
			err    error
		)
		switch ref.Kind {
		case model.EntityAlert:
			unlock, err = s.alerts.lock(ref.ID)
		case model.EntityPatch:
			unlock, err = s.patches.lock(ref.ID)
		case model.EntityTask:
			unlock, err = s.tasks.lock(ref.ID)
		default:
			err = fmt.Errorf("%w: entity kind %q", model.ErrInvalidInput, ref.Kind)
		}
		if err != nil {
			return fmt.Errorf("store: lock %s: %w", ref, err)
		}
		err = func() error {
			defer unlock()
			return fn(tx)
		}()
		s.notify(tx.changes...)
		return err
	}
	err := fn(tx)
	s.notify(tx.changes...)
	return err
}

// Ref returns the locked entity reference.
func (tx *Tx) Ref() model.EntityRef { return tx.ref }

// Store returns the underlying store for reads outside the locked entity.
func (tx *Tx) Store() *Store { return tx.s }

// Entity returns a copy of the locked entity, or nil for an entity-less tx.
func (tx *Tx) Entity() (any, error) {
	if tx.ref.IsZero() {
		return nil, nil
	}
	return tx.s.Entity(tx.ref)
}

func (tx *Tx) require(kind model.EntityKind) error {
	if tx.ref.Kind != kind {
		return fmt.Errorf("store: tx holds %s, not a %s: %w", tx.ref, kind, model.ErrInvalidInput)
	}
	return nil
}

// Alert returns the locked alert.
func (tx *Tx) Alert() (model.Alert, error) {
	if err := tx.require(model.EntityAlert); err != nil {
		return model.Alert{}, err
	}
	return tx.s.Alert(tx.ref.ID)
}

// Patch returns the locked patch.
func (tx *Tx) Patch() (model.Patch, error) {
	if err := tx.require(model.EntityPatch); err != nil {
		return model.Patch{}, err
	}
	return tx.s.Patch(tx.ref.ID)
}

// Task returns the locked task.
func (tx *Tx) Task() (model.RoutineTask, error) {
	if err := tx.require(model.EntityTask); err != nil {
		return model.RoutineTask{}, err
	}
	return tx.s.Task(tx.ref.ID)
}

// TransitionAlert applies a status change to the locked alert.
func (tx *Tx) TransitionAlert(c lifecycle.AlertChange) (model.Alert, error) {
	cur, err := tx.Alert()
	if err != nil {
		return model.Alert{}, err
	}
	if c.At.IsZero() {
		c.At = tx.s.Now()
	}
	next, err := lifecycle.ApplyAlert(cur, c)
	if err != nil {
		return cur, fmt.Errorf("store: %w", err)
	}
	if err := tx.s.persist.SaveAlert(tx.ctx, next); err != nil {
		return cur, fmt.Errorf("store: save alert %s: %w", cur.ID, err)
	}
	tx.s.alerts.put(next.ID, next)
	tx.changes = append(tx.changes, Change{Kind: ChangeStatus, Entity: tx.ref, From: string(cur.Status), To: string(next.Status), Data: next.Clone()})
	return next, nil
}

// AnnotateAlert sets the alert's root cause text without changing status.
func (tx *Tx) AnnotateAlert(rootCause string) (model.Alert, error) {
	cur, err := tx.Alert()
	if err != nil {
		return model.Alert{}, err
	}
	next := cur.Clone()
	next.RootCause = &rootCause
	if err := tx.s.persist.SaveAlert(tx.ctx, next); err != nil {
		return cur, fmt.Errorf("store: save alert %s: %w", cur.ID, err)
	}
	tx.s.alerts.put(next.ID, next)
	tx.changes = append(tx.changes, Change{Kind: ChangeUpdated, Entity: tx.ref, Data: next.Clone()})
	return next, nil
}

// TransitionPatch applies a status change to the locked patch.
func (tx *Tx) TransitionPatch(c lifecycle.PatchChange) (model.Patch, error) {
	cur, err := tx.Patch()
	if err != nil {
		return model.Patch{}, err
	}
	if c.At.IsZero() {
		c.At = tx.s.Now()
	}
	next, err := lifecycle.ApplyPatch(cur, c)
	if err != nil {
		return cur, fmt.Errorf("store: %w", err)
	}
	if err := tx.s.persist.SavePatch(tx.ctx, next); err != nil {
		return cur, fmt.Errorf("store: save patch %s: %w", cur.ID, err)
	}
	tx.s.patches.put(next.ID, next)
	tx.changes = append(tx.changes, Change{Kind: ChangeStatus, Entity: tx.ref, From: string(cur.Status), To: string(next.Status), Data: next.Clone()})
	return next, nil
}

// ProgressPatch records deployment progress on the locked patch.
func (tx *Tx) ProgressPatch(pct int) (model.Patch, error) {
	cur, err := tx.Patch()
	if err != nil {
		return model.Patch{}, err
	}
	next, err := lifecycle.ProgressPatch(cur, pct)
	if err != nil {
		return cur, fmt.Errorf("store: %w", err)
	}
	if err := tx.s.persist.SavePatch(tx.ctx, next); err != nil {
		return cur, fmt.Errorf("store: save patch %s: %w", cur.ID, err)
	}
	tx.s.patches.put(next.ID, next)
	tx.changes = append(tx.changes, Change{Kind: ChangeUpdated, Entity: tx.ref, Data: next.Clone()})
	return next, nil
}

// TransitionTask applies a status change to the locked task.
func (tx *Tx) TransitionTask(c lifecycle.TaskChange) (model.RoutineTask, error) {
	cur, err := tx.Task()
	if err != nil {
		return model.RoutineTask{}, err
	}
	if c.At.IsZero() {
		c.At = tx.s.Now()
	}
	next, err := lifecycle.ApplyTask(cur, c)
	if err != nil {
		return cur, fmt.Errorf("store: %w", err)
	}
	if err := tx.s.persist.SaveTask(tx.ctx, next); err != nil {
		return cur, fmt.Errorf("store: save task %s: %w", cur.ID, err)
	}
	tx.s.tasks.put(next.ID, next)
	tx.changes = append(tx.changes, Change{Kind: ChangeStatus, Entity: tx.ref, From: string(cur.Status), To: string(next.Status), Data: next.Clone()})
	return next, nil
}

// AppendActivity records an activity; the notification is deferred until
// the entity lock is released.
func (tx *Tx) AppendActivity(a model.AutomationActivity) (model.AutomationActivity, error) {
	a, err := tx.s.appendActivity(tx.ctx, a)
	if err != nil {
		return a, err
	}
	tx.changes = append(tx.changes, Change{Kind: ChangeActivity, Entity: a.Entity, To: string(a.Outcome), Data: a.Clone()})
	return a, nil
}
