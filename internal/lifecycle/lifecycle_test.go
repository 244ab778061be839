package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kanri/internal/model"
)

var (
	allAlertStatuses = []model.AlertStatus{model.AlertActive, model.AlertAcknowledged, model.AlertResolved, model.AlertAutoRemediated}
	allPatchStatuses = []model.PatchStatus{model.PatchPending, model.PatchInProgress, model.PatchCompleted, model.PatchFailed, model.PatchRollback}
	allTaskStatuses  = []model.TaskStatus{model.TaskPending, model.TaskInProgress, model.TaskCompleted, model.TaskFailed}
)

func TestAlertTransitionTable(t *testing.T) {
	allowed := map[[2]model.AlertStatus]bool{
		{model.AlertActive, model.AlertAcknowledged}:   true,
		{model.AlertActive, model.AlertResolved}:       true,
		{model.AlertActive, model.AlertAutoRemediated}: true,
		{model.AlertAcknowledged, model.AlertResolved}: true,
	}
	for _, from := range allAlertStatuses {
		for _, to := range allAlertStatuses {
			assert.Equal(t, allowed[[2]model.AlertStatus{from, to}], CanAlert(from, to), "%s -> %s", from, to)
		}
	}
}

func TestPatchTransitionTable(t *testing.T) {
	allowed := map[[2]model.PatchStatus]bool{
		{model.PatchPending, model.PatchInProgress}:   true,
		{model.PatchInProgress, model.PatchCompleted}: true,
		{model.PatchInProgress, model.PatchFailed}:    true,
		{model.PatchCompleted, model.PatchRollback}:   true,
		{model.PatchFailed, model.PatchRollback}:      true,
	}
	for _, from := range allPatchStatuses {
		for _, to := range allPatchStatuses {
			assert.Equal(t, allowed[[2]model.PatchStatus{from, to}], CanPatch(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTaskTransitionTable(t *testing.T) {
	allowed := map[[2]model.TaskStatus]bool{
		{model.TaskPending, model.TaskInProgress}:   true,
		{model.TaskInProgress, model.TaskCompleted}: true,
		{model.TaskInProgress, model.TaskFailed}:    true,
	}
	for _, from := range allTaskStatuses {
		for _, to := range allTaskStatuses {
			assert.Equal(t, allowed[[2]model.TaskStatus{from, to}], CanTask(from, to), "%s -> %s", from, to)
		}
	}
}

func testAlert() model.Alert {
	return model.Alert{
		ID:              "a1",
		Severity:        model.AlertCritical,
		Title:           "disk full",
		Source:          "disk-full",
		Timestamp:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:          model.AlertActive,
		AffectedSystems: []string{"web-01"},
	}
}

func TestApplyAlert_AutoRemediatedRequiresAction(t *testing.T) {
	_, err := ApplyAlert(testAlert(), AlertChange{To: model.AlertAutoRemediated})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))

	at := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	next, err := ApplyAlert(testAlert(), AlertChange{To: model.AlertAutoRemediated, AgentAction: "cleared /var/log", At: at})
	require.NoError(t, err)
	assert.Equal(t, model.AlertAutoRemediated, next.Status)
	assert.True(t, next.AutoRemediated)
	require.NotNil(t, next.AgentAction)
	assert.Equal(t, "cleared /var/log", *next.AgentAction)
	require.NotNil(t, next.ResolvedAt)
	assert.Equal(t, at, *next.ResolvedAt)
	require.NoError(t, next.Validate())
}

// Every reachable alert path keeps autoRemediated consistent with status.
func TestApplyAlert_AutoRemediatedInvariantOnAllPaths(t *testing.T) {
	paths := [][]model.AlertStatus{
		{model.AlertAcknowledged, model.AlertResolved},
		{model.AlertResolved},
		{model.AlertAutoRemediated},
	}
	for _, path := range paths {
		a := testAlert()
		for _, to := range path {
			var err error
			a, err = ApplyAlert(a, AlertChange{To: to, AgentAction: "restart", At: time.Now()})
			require.NoError(t, err)
			require.NoError(t, a.Validate())
			if a.AutoRemediated {
				assert.Equal(t, model.AlertAutoRemediated, a.Status)
				require.NotNil(t, a.AgentAction)
				assert.NotEmpty(t, *a.AgentAction)
			}
		}
		// Terminal: nothing further is allowed.
		for _, to := range allAlertStatuses {
			_, err := ApplyAlert(a, AlertChange{To: to, AgentAction: "x"})
			assert.ErrorIs(t, err, model.ErrInvalidTransition)
		}
	}
}

func TestApplyAlert_RejectedLeavesInputUnchanged(t *testing.T) {
	a := testAlert()
	a.Status = model.AlertAcknowledged
	got, err := ApplyAlert(a, AlertChange{To: model.AlertAutoRemediated, AgentAction: "x"})
	require.Error(t, err)
	var te *model.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "acknowledged", te.From)
	assert.Equal(t, model.AlertAcknowledged, got.Status)
}

func testPatch() model.Patch {
	return model.Patch{ID: "p1", Name: "openssl", Version: "3.0.14", Severity: model.PatchHigh, AffectedSystems: 12, Status: model.PatchPending}
}

func TestApplyPatch_CompletedIsAlwaysFull(t *testing.T) {
	p, err := ApplyPatch(testPatch(), PatchChange{To: model.PatchInProgress, At: time.Now()})
	require.NoError(t, err)
	require.NotNil(t, p.DeployedAt)

	p, err = ProgressPatch(p, 40)
	require.NoError(t, err)
	assert.Equal(t, 40, p.CompletionPercentage)

	p, err = ApplyPatch(p, PatchChange{To: model.PatchCompleted})
	require.NoError(t, err)
	assert.Equal(t, 100, p.CompletionPercentage)
	require.NoError(t, p.Validate())
}

func TestApplyPatch_RollbackNeedsCanRollback(t *testing.T) {
	p := testPatch()
	p.Status = model.PatchCompleted
	p.CompletionPercentage = 100

	_, err := ApplyPatch(p, PatchChange{To: model.PatchRollback})
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	p.CanRollback = true
	rolled, err := ApplyPatch(p, PatchChange{To: model.PatchRollback})
	require.NoError(t, err)
	assert.Equal(t, model.PatchRollback, rolled.Status)
	assert.Equal(t, 100, rolled.CompletionPercentage, "percentage never moves backwards")

	_, err = ApplyPatch(rolled, PatchChange{To: model.PatchPending})
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestApplyPatch_FailedKeepsProgressBelowFull(t *testing.T) {
	p := testPatch()
	p.Status = model.PatchInProgress
	p.CompletionPercentage = 30

	lower := 10
	failed, err := ApplyPatch(p, PatchChange{To: model.PatchFailed, Progress: &lower})
	require.NoError(t, err)
	assert.Equal(t, 30, failed.CompletionPercentage)

	full := 100
	failed, err = ApplyPatch(p, PatchChange{To: model.PatchFailed, Progress: &full})
	require.NoError(t, err)
	assert.Equal(t, 99, failed.CompletionPercentage)
}

func TestProgressPatch_Guards(t *testing.T) {
	p := testPatch()
	_, err := ProgressPatch(p, 10)
	assert.ErrorIs(t, err, model.ErrInvalidTransition, "pending patch has no progress")

	p.Status = model.PatchInProgress
	p.CompletionPercentage = 50
	_, err = ProgressPatch(p, 20)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	_, err = ProgressPatch(p, 100)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestApplyTask(t *testing.T) {
	task := model.RoutineTask{ID: "t1", Type: model.TaskPasswordReset, Status: model.TaskPending, RequestedBy: "jane"}
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	task, err := ApplyTask(task, TaskChange{To: model.TaskInProgress, AgentID: "rt-1"})
	require.NoError(t, err)
	assert.Equal(t, "rt-1", task.AutomatedBy)

	task, err = ApplyTask(task, TaskChange{To: model.TaskCompleted, At: at})
	require.NoError(t, err)
	require.NotNil(t, task.CompletedAt)
	assert.Equal(t, at, *task.CompletedAt)

	_, err = ApplyTask(task, TaskChange{To: model.TaskFailed})
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestApplyTask_AttributedAtFinish(t *testing.T) {
	queued := model.RoutineTask{ID: "t2", Type: model.TaskPasswordReset, Status: model.TaskPending, RequestedBy: "joe"}
	queued, err := ApplyTask(queued, TaskChange{To: model.TaskInProgress})
	require.NoError(t, err)
	assert.Empty(t, queued.AutomatedBy)

	done, err := ApplyTask(queued, TaskChange{To: model.TaskCompleted, AgentID: "rt-1"})
	require.NoError(t, err)
	assert.Equal(t, "rt-1", done.AutomatedBy)

	failed, err := ApplyTask(queued, TaskChange{To: model.TaskFailed, AgentID: "rt-2"})
	require.NoError(t, err)
	assert.Equal(t, "rt-2", failed.AutomatedBy)

	started, err := ApplyTask(model.RoutineTask{ID: "t3", Status: model.TaskInProgress, AutomatedBy: "rt-1"}, TaskChange{To: model.TaskCompleted, AgentID: "rt-9"})
	require.NoError(t, err)
	assert.Equal(t, "rt-1", started.AutomatedBy, "the starting agent keeps the attribution")
}
