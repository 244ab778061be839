package store

import (
	"context"

	"github.com/ashita-ai/kanri/internal/model"
)

// Persister is the write-through backing store. Every mutation is persisted
// before it becomes visible in memory; a persistence error aborts the
// mutation and leaves in-memory state unchanged.
type Persister interface {
	SaveAlert(ctx context.Context, a model.Alert) error
	SavePatch(ctx context.Context, p model.Patch) error
	SaveTask(ctx context.Context, t model.RoutineTask) error
	SaveAgent(ctx context.Context, a model.Agent) error
	SaveWorkflow(ctx context.Context, w model.Workflow) error
	SavePolicy(ctx context.Context, p model.PatchPolicy) error
	AppendActivity(ctx context.Context, a model.AutomationActivity) error
	// InsertRootCause must fail with model.ErrAlreadyAnalyzed when the alert
	// already has an analysis.
	InsertRootCause(ctx context.Context, r model.RootCauseAnalysis) error
	SaveMetricsSnapshot(ctx context.Context, s model.MetricsSnapshot) error
	Load(ctx context.Context) (Snapshot, error)
}

// Snapshot is the full persisted state used to warm the store at startup.
type Snapshot struct {
	Alerts           []model.Alert
	Patches          []model.Patch
	Tasks            []model.RoutineTask
	Agents           []model.Agent
	Workflows        []model.Workflow
	Policies         []model.PatchPolicy
	Activities       []model.AutomationActivity
	RootCauses       []model.RootCauseAnalysis
	MetricsSnapshots []model.MetricsSnapshot
}

// nopPersister keeps everything in memory only.
type nopPersister struct{}

func (nopPersister) SaveAlert(context.Context, model.Alert) error                         { return nil }
func (nopPersister) SavePatch(context.Context, model.Patch) error                         { return nil }
func (nopPersister) SaveTask(context.Context, model.RoutineTask) error                    { return nil }
func (nopPersister) SaveAgent(context.Context, model.Agent) error                         { return nil }
func (nopPersister) SaveWorkflow(context.Context, model.Workflow) error                   { return nil }
func (nopPersister) SavePolicy(context.Context, model.PatchPolicy) error                  { return nil }
func (nopPersister) AppendActivity(context.Context, model.AutomationActivity) error       { return nil }
func (nopPersister) InsertRootCause(context.Context, model.RootCauseAnalysis) error       { return nil }
func (nopPersister) SaveMetricsSnapshot(context.Context, model.MetricsSnapshot) error     { return nil }
func (nopPersister) Load(context.Context) (Snapshot, error)                               { return Snapshot{}, nil }
