package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kanri/internal/lifecycle"
	"github.com/ashita-ai/kanri/internal/model"
	"github.com/ashita-ai/kanri/internal/store"
	"github.com/ashita-ai/kanri/internal/testutil"
)

func openTemp(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kanri.db")
	db, err := Open(context.Background(), path, testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, path := openTemp(t)
	s := store.New(store.WithPersister(db))

	_, err := s.RegisterAgent(ctx, model.Agent{ID: "rt-1", Type: model.AgentRoutineTasks})
	require.NoError(t, err)
	task, err := s.CreateTask(ctx, model.RoutineTask{Type: model.TaskUserOnboarding, Title: "new hire", RequestedBy: "hr"})
	require.NoError(t, err)
	other, err := s.CreateTask(ctx, model.RoutineTask{Type: model.TaskPasswordReset, Title: "reset", RequestedBy: "ops"})
	require.NoError(t, err)

	ref := model.EntityRef{Kind: model.EntityTask, ID: task.ID}
	require.NoError(t, s.WithEntity(ctx, ref, func(tx *store.Tx) error {
		if _, err := tx.TransitionTask(lifecycle.TaskChange{To: model.TaskInProgress, AgentID: "rt-1"}); err != nil {
			return err
		}
		_, err := tx.AppendActivity(model.AutomationActivity{
			Type: "Task Automation", Description: "started", Outcome: model.OutcomeSuccess, AgentID: "rt-1", AgentName: "rt-1", Entity: ref,
		})
		return err
	}))
	_, err = s.RecordMetricsSnapshot(ctx, model.MetricsSnapshot{TasksAutomated: 1})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, err := Open(ctx, path, testutil.TestLogger())
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	loaded := store.New(store.WithPersister(reopened))
	require.NoError(t, loaded.Load(ctx))

	tasks := loaded.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, task.ID, tasks[0].ID)
	assert.Equal(t, other.ID, tasks[1].ID)
	assert.Equal(t, model.TaskInProgress, tasks[0].Status)
	assert.Equal(t, "rt-1", tasks[0].AutomatedBy)
	assert.Len(t, loaded.Activities(store.ActivityFilter{}), 1)
	assert.Len(t, loaded.MetricsSnapshots(), 1)
	assert.Len(t, loaded.Agents(), 1)
}

func TestInsertRootCause_Once(t *testing.T) {
	db, _ := openTemp(t)
	ctx := context.Background()

	require.NoError(t, db.InsertRootCause(ctx, model.RootCauseAnalysis{ID: "r1", AlertID: "a-1"}))
	err := db.InsertRootCause(ctx, model.RootCauseAnalysis{ID: "r2", AlertID: "a-1"})
	require.ErrorIs(t, err, model.ErrAlreadyAnalyzed)

	require.NoError(t, db.InsertRootCause(ctx, model.RootCauseAnalysis{ID: "r3", AlertID: "a-2"}))
	snap, err := db.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.RootCauses, 2)
	assert.Equal(t, "r1", snap.RootCauses[0].ID)
}

func TestUpsert_ReplacesDocument(t *testing.T) {
	db, _ := openTemp(t)
	ctx := context.Background()

	p := model.PatchPolicy{ID: "nightly", MaintenanceWindow: "02:00-04:00"}
	require.NoError(t, db.SavePolicy(ctx, p))
	p.AutoDeployment = true
	require.NoError(t, db.SavePolicy(ctx, p))

	snap, err := db.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Policies, 1)
	assert.True(t, snap.Policies[0].AutoDeployment)
}
