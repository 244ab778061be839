// Package store is the in-memory entity store that owns every alert, patch,
// task, agent, workflow, policy, activity, and root cause record. Writes go
// through a Persister before they become visible, and each entity has a
// single writer at a time: status changes run inside WithEntity under that
// entity's lock. Agent claims are atomic under a separate agents lock; when
// both are needed the entity lock is always taken first.
package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kanri/internal/model"
)

// Store holds all records. The zero value is not usable; call New.
type Store struct {
	alerts    *table[model.Alert]
	patches   *table[model.Patch]
	tasks     *table[model.RoutineTask]
	agents    *table[model.Agent]
	workflows *table[model.Workflow]
	policies  *table[model.PatchPolicy]

	// agentMu serialises claim and release so check-then-set is atomic.
	agentMu sync.Mutex

	actMu      sync.RWMutex
	activities []model.AutomationActivity
	seq        atomic.Int64

	rcaMu    sync.RWMutex
	rcas     map[string]model.RootCauseAnalysis
	rcaOrder []string

	snapMu    sync.RWMutex
	snapshots []model.MetricsSnapshot

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int

	persist Persister
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPersister sets the write-through backing store. Without one the store
// is memory-only.
func WithPersister(p Persister) Option {
	return func(s *Store) {
		if p != nil {
			s.persist = p
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		alerts:    newTable(model.Alert.Clone),
		patches:   newTable(model.Patch.Clone),
		tasks:     newTable(model.RoutineTask.Clone),
		agents:    newTable(model.Agent.Clone),
		workflows: newTable(model.Workflow.Clone),
		policies:  newTable(func(p model.PatchPolicy) model.PatchPolicy { return p }),
		rcas:      make(map[string]model.RootCauseAnalysis),
		observers: make(map[int]Observer),
		persist:   nopPersister{},
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Now returns the store's clock reading in UTC.
func (s *Store) Now() time.Time { return s.now().UTC() }

// Load fills an empty store from the persister. Call it once before serving
// traffic.
func (s *Store) Load(ctx context.Context) error {
	snap, err := s.persist.Load(ctx)
	if err != nil {
		return fmt.Errorf("store: load: %w", err)
	}
	for _, a := range snap.Alerts {
		if err := s.alerts.insert(a.ID, a); err != nil {
			return fmt.Errorf("store: load alert: %w", err)
		}
	}
	for _, p := range snap.Patches {
		if err := s.patches.insert(p.ID, p); err != nil {
			return fmt.Errorf("store: load patch: %w", err)
		}
	}
	for _, t := range snap.Tasks {
		if err := s.tasks.insert(t.ID, t); err != nil {
			return fmt.Errorf("store: load task: %w", err)
		}
	}
	for _, a := range snap.Agents {
		if err := s.agents.insert(a.ID, a); err != nil {
			return fmt.Errorf("store: load agent: %w", err)
		}
	}
	for _, w := range snap.Workflows {
		if err := s.workflows.insert(w.ID, w); err != nil {
			return fmt.Errorf("store: load workflow: %w", err)
		}
	}
	for _, p := range snap.Policies {
		if err := s.policies.insert(p.ID, p); err != nil {
			return fmt.Errorf("store: load policy: %w", err)
		}
	}
	s.actMu.Lock()
	for _, a := range snap.Activities {
		s.insertActivityLocked(a)
		if a.Sequence > s.seq.Load() {
			s.seq.Store(a.Sequence)
		}
	}
	s.actMu.Unlock()
	s.rcaMu.Lock()
	for _, r := range snap.RootCauses {
		if _, ok := s.rcas[r.AlertID]; ok {
			continue
		}
		s.rcas[r.AlertID] = r.Clone()
		s.rcaOrder = append(s.rcaOrder, r.AlertID)
	}
	s.rcaMu.Unlock()
	s.snapMu.Lock()
	s.snapshots = append(s.snapshots, snap.MetricsSnapshots...)
	s.snapMu.Unlock()
	return nil
}

// CreateAlert stores a new alert. Alerts always start active and are never
// created auto-remediated.
func (s *Store) CreateAlert(ctx context.Context, a model.Alert) (model.Alert, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = model.AlertActive
	}
	if a.Status != model.AlertActive || a.AutoRemediated || a.ResolvedAt != nil {
		return model.Alert{}, fmt.Errorf("store: create alert: %w: new alerts start %s", model.ErrInvalidInput, model.AlertActive)
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = s.Now()
	}
	if a.AffectedSystems == nil {
		a.AffectedSystems = []string{}
	}
	if err := a.Validate(); err != nil {
		return model.Alert{}, fmt.Errorf("store: create alert: %w", err)
	}
	if _, ok := s.alerts.get(a.ID); ok {
		return model.Alert{}, fmt.Errorf("store: create alert: %w: %s", model.ErrAlreadyExists, a.ID)
	}
	if err := s.persist.SaveAlert(ctx, a); err != nil {
		return model.Alert{}, fmt.Errorf("store: create alert: %w", err)
	}
	if err := s.alerts.insert(a.ID, a); err != nil {
		return model.Alert{}, fmt.Errorf("store: create alert: %w", err)
	}
	s.notify(Change{Kind: ChangeCreated, Entity: model.EntityRef{Kind: model.EntityAlert, ID: a.ID}, To: string(a.Status), Data: a.Clone()})
	return a.Clone(), nil
}

// CreatePatch stores a new pending patch.
func (s *Store) CreatePatch(ctx context.Context, p model.Patch) (model.Patch, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = model.PatchPending
	}
	if p.Status != model.PatchPending || p.CompletionPercentage != 0 {
		return model.Patch{}, fmt.Errorf("store: create patch: %w: new patches start %s at 0%%", model.ErrInvalidInput, model.PatchPending)
	}
	if err := p.Validate(); err != nil {
		return model.Patch{}, fmt.Errorf("store: create patch: %w", err)
	}
	if p.PolicyID != "" {
		if _, ok := s.policies.get(p.PolicyID); !ok {
			return model.Patch{}, fmt.Errorf("store: create patch: policy %s: %w", p.PolicyID, model.ErrNotFound)
		}
	}
	if _, ok := s.patches.get(p.ID); ok {
		return model.Patch{}, fmt.Errorf("store: create patch: %w: %s", model.ErrAlreadyExists, p.ID)
	}
	if err := s.persist.SavePatch(ctx, p); err != nil {
		return model.Patch{}, fmt.Errorf("store: create patch: %w", err)
	}
	if err := s.patches.insert(p.ID, p); err != nil {
		return model.Patch{}, fmt.Errorf("store: create patch: %w", err)
	}
	s.notify(Change{Kind: ChangeCreated, Entity: model.EntityRef{Kind: model.EntityPatch, ID: p.ID}, To: string(p.Status), Data: p.Clone()})
	return p.Clone(), nil
}

// CreateTask stores a new pending routine task.
func (s *Store) CreateTask(ctx context.Context, t model.RoutineTask) (model.RoutineTask, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = model.TaskPending
	}
	if t.Status != model.TaskPending || t.CompletedAt != nil {
		return model.RoutineTask{}, fmt.Errorf("store: create task: %w: new tasks start %s", model.ErrInvalidInput, model.TaskPending)
	}
	if t.RequestedAt.IsZero() {
		t.RequestedAt = s.Now()
	}
	if err := t.Validate(); err != nil {
		return model.RoutineTask{}, fmt.Errorf("store: create task: %w", err)
	}
	if _, ok := s.tasks.get(t.ID); ok {
		return model.RoutineTask{}, fmt.Errorf("store: create task: %w: %s", model.ErrAlreadyExists, t.ID)
	}
	if err := s.persist.SaveTask(ctx, t); err != nil {
		return model.RoutineTask{}, fmt.Errorf("store: create task: %w", err)
	}
	if err := s.tasks.insert(t.ID, t); err != nil {
		return model.RoutineTask{}, fmt.Errorf("store: create task: %w", err)
	}
	s.notify(Change{Kind: ChangeCreated, Entity: model.EntityRef{Kind: model.EntityTask, ID: t.ID}, To: string(t.Status), Data: t.Clone()})
	return t.Clone(), nil
}

// Alert returns a copy of the alert with the given id.
func (s *Store) Alert(id string) (model.Alert, error) {
	a, ok := s.alerts.get(id)
	if !ok {
		return model.Alert{}, fmt.Errorf("store: alert %s: %w", id, model.ErrNotFound)
	}
	return a, nil
}

// Patch returns a copy of the patch with the given id.
func (s *Store) Patch(id string) (model.Patch, error) {
	p, ok := s.patches.get(id)
	if !ok {
		return model.Patch{}, fmt.Errorf("store: patch %s: %w", id, model.ErrNotFound)
	}
	return p, nil
}

// Task returns a copy of the task with the given id.
func (s *Store) Task(id string) (model.RoutineTask, error) {
	t, ok := s.tasks.get(id)
	if !ok {
		return model.RoutineTask{}, fmt.Errorf("store: task %s: %w", id, model.ErrNotFound)
	}
	return t, nil
}

// Alerts returns every alert in creation order.
func (s *Store) Alerts() []model.Alert { return s.alerts.list() }

// Patches returns every patch in creation order.
func (s *Store) Patches() []model.Patch { return s.patches.list() }

// Tasks returns every routine task in creation order.
func (s *Store) Tasks() []model.RoutineTask { return s.tasks.list() }

// Exists reports whether ref points at a stored entity.
func (s *Store) Exists(ref model.EntityRef) bool {
	switch ref.Kind {
	case model.EntityAlert:
		_, ok := s.alerts.get(ref.ID)
		return ok
	case model.EntityPatch:
		_, ok := s.patches.get(ref.ID)
		return ok
	case model.EntityTask:
		_, ok := s.tasks.get(ref.ID)
		return ok
	default:
		return false
	}
}

// Entity returns a copy of the referenced record as a field map view, used
// by condition predicates. The concrete type is model.Alert, model.Patch, or
// model.RoutineTask.
func (s *Store) Entity(ref model.EntityRef) (any, error) {
	switch ref.Kind {
	case model.EntityAlert:
		return s.Alert(ref.ID)
	case model.EntityPatch:
		return s.Patch(ref.ID)
	case model.EntityTask:
		return s.Task(ref.ID)
	default:
		return nil, fmt.Errorf("store: entity %s: %w", ref, model.ErrNotFound)
	}
}

// AddWorkflow stores a workflow definition. Workflows keep their insertion
// order, which is the order the evaluator runs them in.
func (s *Store) AddWorkflow(ctx context.Context, w model.Workflow) (model.Workflow, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = s.Now()
	}
	if _, ok := s.workflows.get(w.ID); ok {
		return model.Workflow{}, fmt.Errorf("store: add workflow: %w: %s", model.ErrAlreadyExists, w.ID)
	}
	if err := s.persist.SaveWorkflow(ctx, w); err != nil {
		return model.Workflow{}, fmt.Errorf("store: add workflow: %w", err)
	}
	if err := s.workflows.insert(w.ID, w); err != nil {
		return model.Workflow{}, fmt.Errorf("store: add workflow: %w", err)
	}
	return w.Clone(), nil
}

// Workflow returns a copy of one workflow.
func (s *Store) Workflow(id string) (model.Workflow, error) {
	w, ok := s.workflows.get(id)
	if !ok {
		return model.Workflow{}, fmt.Errorf("store: workflow %s: %w", id, model.ErrNotFound)
	}
	return w, nil
}

// Workflows returns all workflows in creation order.
func (s *Store) Workflows() []model.Workflow { return s.workflows.list() }

// TouchWorkflow records that the workflow was evaluated at t.
func (s *Store) TouchWorkflow(ctx context.Context, id string, t time.Time) error {
	return s.updateWorkflow(ctx, id, func(w *model.Workflow) {
		at := t
		w.LastRun = &at
	})
}

// SetWorkflowEnabled toggles a workflow and records why it was disabled.
func (s *Store) SetWorkflowEnabled(ctx context.Context, id string, enabled bool, loadError string) error {
	return s.updateWorkflow(ctx, id, func(w *model.Workflow) {
		w.Enabled = enabled
		w.LoadError = loadError
	})
}

func (s *Store) updateWorkflow(ctx context.Context, id string, fn func(*model.Workflow)) error {
	unlock, err := s.workflows.lock(id)
	if err != nil {
		return fmt.Errorf("store: workflow: %w", err)
	}
	defer unlock()
	w, _ := s.workflows.get(id)
	fn(&w)
	if err := s.persist.SaveWorkflow(ctx, w); err != nil {
		return fmt.Errorf("store: workflow %s: %w", id, err)
	}
	s.workflows.put(id, w)
	return nil
}

// PutPolicy inserts or replaces a patch policy.
func (s *Store) PutPolicy(ctx context.Context, p model.PatchPolicy) error {
	if p.ID == "" {
		return fmt.Errorf("store: put policy: %w: id is required", model.ErrInvalidInput)
	}
	if err := s.persist.SavePolicy(ctx, p); err != nil {
		return fmt.Errorf("store: put policy: %w", err)
	}
	if err := s.policies.insert(p.ID, p); err == nil {
		return nil
	}
	unlock, err := s.policies.lock(p.ID)
	if err != nil {
		return fmt.Errorf("store: put policy: %w", err)
	}
	defer unlock()
	s.policies.put(p.ID, p)
	return nil
}

// Policy returns one patch policy.
func (s *Store) Policy(id string) (model.PatchPolicy, error) {
	p, ok := s.policies.get(id)
	if !ok {
		return model.PatchPolicy{}, fmt.Errorf("store: policy %s: %w", id, model.ErrNotFound)
	}
	return p, nil
}

// Policies returns all patch policies.
func (s *Store) Policies() []model.PatchPolicy { return s.policies.list() }

// RecordMetricsSnapshot appends a trend baseline, assigning the next version.
func (s *Store) RecordMetricsSnapshot(ctx context.Context, snap model.MetricsSnapshot) (model.MetricsSnapshot, error) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	snap.Version = 1
	if n := len(s.snapshots); n > 0 {
		snap.Version = s.snapshots[n-1].Version + 1
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = s.Now()
	}
	if err := s.persist.SaveMetricsSnapshot(ctx, snap); err != nil {
		return model.MetricsSnapshot{}, fmt.Errorf("store: record metrics snapshot: %w", err)
	}
	s.snapshots = append(s.snapshots, snap)
	return snap, nil
}

// MetricsSnapshots returns recorded baselines, oldest first.
func (s *Store) MetricsSnapshots() []model.MetricsSnapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	out := make([]model.MetricsSnapshot, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}
