package rootcause

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kanri/internal/lifecycle"
	"github.com/ashita-ai/kanri/internal/model"
	"github.com/ashita-ai/kanri/internal/store"
)

type harness struct {
	store *store.Store
	now   time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{now: time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC)}
	h.store = store.New(store.WithClock(func() time.Time { return h.now }))
	_, err := h.store.RegisterAgent(context.Background(), model.Agent{ID: "am-1", Type: model.AgentAlertManagement, Name: "Alert Bot"})
	require.NoError(t, err)
	_, err = h.store.RegisterAgent(context.Background(), model.Agent{ID: "pm-1", Type: model.AgentPatchManagement, Name: "Patch Bot"})
	require.NoError(t, err)
	return h
}

func (h *harness) alert(t *testing.T, a model.Alert) model.Alert {
	t.Helper()
	if a.Severity == "" {
		a.Severity = model.AlertCritical
	}
	got, err := h.store.CreateAlert(context.Background(), a)
	require.NoError(t, err)
	return got
}

func (h *harness) activity(t *testing.T, ref model.EntityRef, agentID string, outcome model.Outcome) model.AutomationActivity {
	t.Helper()
	h.now = h.now.Add(time.Minute)
	act, err := h.store.AppendActivity(context.Background(), model.AutomationActivity{
		Type: "Alert Remediation", Description: "remediate", Outcome: outcome, AgentID: agentID, Entity: ref,
	})
	require.NoError(t, err)
	return act
}

func (h *harness) resolve(t *testing.T, id string, c lifecycle.AlertChange) {
	t.Helper()
	h.now = h.now.Add(time.Minute)
	ref := model.EntityRef{Kind: model.EntityAlert, ID: id}
	require.NoError(t, h.store.WithEntity(context.Background(), ref, func(tx *store.Tx) error {
		_, err := tx.TransitionAlert(c)
		return err
	}))
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func ref(id string) model.EntityRef { return model.EntityRef{Kind: model.EntityAlert, ID: id} }

func TestAnalyze_AutoRemediatedDisk(t *testing.T) {
	h := newHarness(t)
	a := h.alert(t, model.Alert{Title: "Disk usage 97%", Source: "disk-monitor", AffectedSystems: []string{"web-01"}})
	act := h.activity(t, ref(a.ID), "am-1", model.OutcomeSuccess)
	h.resolve(t, a.ID, lifecycle.AlertChange{To: model.AlertAutoRemediated, AgentAction: "cleaned /var/log"})

	rca, err := New(h.store, quietLogger()).Analyze(context.Background(), a.ID)
	require.NoError(t, err)

	assert.Equal(t, a.ID, rca.AlertID)
	assert.NotEmpty(t, rca.ID)
	assert.Contains(t, rca.RootCause, "Storage capacity")
	assert.Equal(t, []string{"web-01", "storage"}, rca.AffectedComponents)
	assert.Equal(t, []string{act.ID}, rca.ActivityIDs)
	// 0.2 base + 0.5 success + 0.15 known category.
	assert.InDelta(t, 0.85, rca.Confidence, 1e-9)
	assert.NotContains(t, rca.PreventionSteps, "Add an automated remediation workflow for disk-monitor alerts")

	stored, err := h.store.Alert(a.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RootCause)
	assert.Equal(t, rca.RootCause, *stored.RootCause)
}

func TestAnalyze_RejectsOpenAlert(t *testing.T) {
	h := newHarness(t)
	a := h.alert(t, model.Alert{Title: "CPU high", Source: "cpu"})

	_, err := New(h.store, quietLogger()).Analyze(context.Background(), a.ID)
	require.ErrorIs(t, err, model.ErrAlertNotResolved)

	_, err = New(h.store, quietLogger()).Analyze(context.Background(), "missing")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestAnalyze_OncePerAlert(t *testing.T) {
	h := newHarness(t)
	a := h.alert(t, model.Alert{Title: "Service down", Source: "healthcheck"})
	h.resolve(t, a.ID, lifecycle.AlertChange{To: model.AlertResolved})

	an := New(h.store, quietLogger())
	first, err := an.Analyze(context.Background(), a.ID)
	require.NoError(t, err)

	_, err = an.Analyze(context.Background(), a.ID)
	require.ErrorIs(t, err, model.ErrAlreadyAnalyzed)

	got, err := h.store.RootCause(a.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Len(t, h.store.RootCauses(), 1)
}

func TestAnalyze_ExplicitRootCauseWins(t *testing.T) {
	h := newHarness(t)
	a := h.alert(t, model.Alert{Title: "Odd behaviour", Source: "custom"})
	h.resolve(t, a.ID, lifecycle.AlertChange{To: model.AlertResolved, RootCause: "bad config push"})

	rca, err := New(h.store, quietLogger()).Analyze(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "bad config push", rca.RootCause)
	// 0.2 base + 0.15 explicit cause; unknown category, no activities.
	assert.InDelta(t, 0.35, rca.Confidence, 1e-9)
	assert.Equal(t, []string{"unknown"}, rca.AffectedComponents)
}

func TestAnalyze_CorrelatesResolutionWindow(t *testing.T) {
	h := newHarness(t)
	a := h.alert(t, model.Alert{Title: "Packet loss", Source: "network"})
	other := h.alert(t, model.Alert{Title: "Latency", Source: "network"})
	patch, err := h.store.CreatePatch(context.Background(), model.Patch{Name: "kernel", Severity: model.PatchHigh})
	require.NoError(t, err)

	h.activity(t, ref(a.ID), "am-1", model.OutcomeFailed)
	correlated := h.activity(t, ref(other.ID), "am-1", model.OutcomeSuccess)
	h.activity(t, model.EntityRef{Kind: model.EntityPatch, ID: patch.ID}, "pm-1", model.OutcomeSuccess)
	h.resolve(t, a.ID, lifecycle.AlertChange{To: model.AlertResolved})
	late := h.activity(t, ref(other.ID), "am-1", model.OutcomeSuccess)

	rca, err := New(h.store, quietLogger()).Analyze(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Contains(t, rca.ActivityIDs, correlated.ID)
	assert.NotContains(t, rca.ActivityIDs, late.ID)
	assert.Len(t, rca.ActivityIDs, 2)
	// 0.2 base + 0.1 failed + 0.05 correlated + 0.15 known.
	assert.InDelta(t, 0.5, rca.Confidence, 1e-9)
	assert.Contains(t, rca.Recommendation, "did not succeed")
	assert.Contains(t, rca.PreventionSteps, "Add an automated remediation workflow for network alerts")
}

func TestConfidence_Capped(t *testing.T) {
	direct := []model.AutomationActivity{{Outcome: model.OutcomeFailed}, {Outcome: model.OutcomeSuccess}}
	assert.InDelta(t, 1.0, confidence(direct, 10, true, true), 1e-9)
	assert.InDelta(t, 0.2, confidence(nil, 0, false, false), 1e-9)
	assert.InDelta(t, 0.5, confidence(nil, 0, true, true), 1e-9)
}

func TestObserve_AnalyzesOnResolution(t *testing.T) {
	h := newHarness(t)
	an := New(h.store, quietLogger(), WithAnnotation(false))
	unsubscribe := h.store.Subscribe(an.Observe)
	defer unsubscribe()

	a := h.alert(t, model.Alert{Title: "Certificate expiring", Source: "tls-probe"})
	h.resolve(t, a.ID, lifecycle.AlertChange{To: model.AlertAcknowledged})
	_, err := h.store.RootCause(a.ID)
	require.ErrorIs(t, err, model.ErrNotFound, "acknowledged is not terminal")

	h.resolve(t, a.ID, lifecycle.AlertChange{To: model.AlertResolved})
	rca, err := h.store.RootCause(a.ID)
	require.NoError(t, err)
	assert.Contains(t, rca.RootCause, "certificate")

	stored, err := h.store.Alert(a.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.RootCause, "annotation disabled")
}

func TestClassify_SourceFirst(t *testing.T) {
	c, ok := classify("memory-exporter", "Service restarted after disk filled")
	require.True(t, ok)
	assert.Equal(t, "memory", c.name)

	c, ok = classify("", "nothing to see")
	assert.False(t, ok)
	assert.Equal(t, "unknown", c.name)
}
