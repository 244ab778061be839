package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kanri/internal/model"
	"github.com/ashita-ai/kanri/internal/store"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recorder struct {
	mu      sync.Mutex
	events  []model.Event
	started chan struct{}
	release chan struct{}
	err     error
}

func (r *recorder) Evaluate(_ context.Context, ev model.Event) ([]model.AutomationActivity, error) {
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.release != nil {
		<-r.release
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil, r.err
}

func (r *recorder) seen() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}

func TestSubmit_AlertCreated(t *testing.T) {
	s := store.New()
	rec := &recorder{}
	p := New(s, rec, quietLogger())
	p.Start(context.Background())

	ev, err := p.Submit(context.Background(), model.EventAlertCreated, map[string]any{
		"severity": "critical", "source": "disk-full", "affectedSystems": []any{"web-01"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, model.EntityAlert, ev.Entity.Kind)

	a, err := s.Alert(ev.Entity.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertActive, a.Status)
	assert.Equal(t, "Alert: disk-full", a.Title)
	assert.Equal(t, []string{"web-01"}, a.AffectedSystems)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Drain(ctx)
	got := rec.seen()
	require.Len(t, got, 1)
	assert.Equal(t, ev.ID, got[0].ID)
	assert.Equal(t, "disk-full", got[0].Payload["source"])
}

func TestSubmit_CreatesPatchesAndTasks(t *testing.T) {
	s := store.New()
	p := New(s, &recorder{}, quietLogger())
	p.Start(context.Background())
	defer p.Drain(context.Background())

	ev, err := p.Submit(context.Background(), model.EventPatchAvailable, map[string]any{
		"name": "openssl", "version": "3.0.14", "severity": "high", "affectedSystems": 12, "canRollback": true,
	})
	require.NoError(t, err)
	patch, err := s.Patch(ev.Entity.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PatchPending, patch.Status)
	assert.Equal(t, 12, patch.AffectedSystems)
	assert.True(t, patch.CanRollback)

	ev, err = p.Submit(context.Background(), model.EventTaskRequested, map[string]any{
		"type": "password-reset", "requestedBy": "jane@example.com",
	})
	require.NoError(t, err)
	task, err := s.Task(ev.Entity.ID)
	require.NoError(t, err)
	assert.Equal(t, "Task: password-reset", task.Title)
	assert.Equal(t, model.TaskPending, task.Status)
}

func TestSubmit_Rejections(t *testing.T) {
	s := store.New()
	p := New(s, &recorder{}, quietLogger())
	p.Start(context.Background())
	defer p.Drain(context.Background())
	ctx := context.Background()

	_, err := p.Submit(ctx, "pager", nil)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = p.Submit(ctx, model.EventAlertCreated, map[string]any{"severity": "apocalyptic"})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = p.Submit(ctx, model.EventAlertCreated, map[string]any{"severity": "critical", "status": "resolved"})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = p.Submit(ctx, model.EventAlertUpdated, map[string]any{})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = p.Submit(ctx, model.EventAlertUpdated, map[string]any{"entityId": "nope"})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = p.Submit(ctx, model.EventManual, map[string]any{"entityKind": "server", "entityId": "x"})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	assert.Zero(t, p.Len(), "rejected submissions release their slot")
	assert.Empty(t, s.Alerts())
}

func TestSubmit_ReferencesExistingEntity(t *testing.T) {
	s := store.New()
	rec := &recorder{}
	p := New(s, rec, quietLogger())
	p.Start(context.Background())

	a, err := s.CreateAlert(context.Background(), model.Alert{Severity: model.AlertWarning, Title: "cpu"})
	require.NoError(t, err)

	ev, err := p.Submit(context.Background(), model.EventAlertUpdated, map[string]any{"entityId": a.ID})
	require.NoError(t, err)
	assert.Equal(t, model.EntityRef{Kind: model.EntityAlert, ID: a.ID}, ev.Entity)

	tick, err := p.Submit(context.Background(), model.EventScheduleTick, nil)
	require.NoError(t, err)
	assert.True(t, tick.Entity.IsZero())

	p.Drain(context.Background())
	assert.Len(t, rec.seen(), 2)
	assert.Len(t, s.Alerts(), 1)
}

func TestSubmit_QueueFull(t *testing.T) {
	s := store.New()
	rec := &recorder{started: make(chan struct{}, 4), release: make(chan struct{})}
	p := New(s, rec, quietLogger(), WithWorkers(1), WithQueueSize(1))
	p.Start(context.Background())
	ctx := context.Background()

	_, err := p.Submit(ctx, model.EventManual, nil)
	require.NoError(t, err)
	<-rec.started // the only worker is now busy

	_, err = p.Submit(ctx, model.EventManual, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())

	_, err = p.Submit(ctx, model.EventAlertCreated, map[string]any{"severity": "critical", "title": "dropped"})
	require.ErrorIs(t, err, model.ErrQueueFull)
	assert.Empty(t, s.Alerts(), "no entity is created for a rejected event")

	close(rec.release)
	drainCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	p.Drain(drainCtx)
	assert.Len(t, rec.seen(), 2)

	_, err = p.Submit(ctx, model.EventManual, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEvaluate_CountsFailures(t *testing.T) {
	s := store.New()
	rec := &recorder{err: errors.New("no capable agent")}
	p := New(s, rec, quietLogger())
	p.Start(context.Background())

	_, err := p.Submit(context.Background(), model.EventManual, nil)
	require.NoError(t, err)
	p.Drain(context.Background())
	assert.Equal(t, int64(1), p.Failures())
}

// orderEvaluator slows down the first event of each entity so a later one
// would overtake it on a different worker.
type orderEvaluator struct {
	mu    sync.Mutex
	order map[model.EntityRef][]string
}

func (o *orderEvaluator) Evaluate(_ context.Context, ev model.Event) ([]model.AutomationActivity, error) {
	if ev.Kind == model.EventAlertCreated {
		time.Sleep(20 * time.Millisecond)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.order[ev.Entity] = append(o.order[ev.Entity], ev.ID)
	return nil, nil
}

func TestSubmit_PerEntityOrder(t *testing.T) {
	s := store.New()
	eval := &orderEvaluator{order: map[model.EntityRef][]string{}}
	p := New(s, eval, quietLogger(), WithWorkers(8))
	p.Start(context.Background())
	ctx := context.Background()

	want := map[model.EntityRef][]string{}
	for range 5 {
		created, err := p.Submit(ctx, model.EventAlertCreated, map[string]any{"severity": "warning", "title": "cpu"})
		require.NoError(t, err)
		want[created.Entity] = append(want[created.Entity], created.ID)
		for range 3 {
			upd, err := p.Submit(ctx, model.EventAlertUpdated, map[string]any{"entityId": created.Entity.ID})
			require.NoError(t, err)
			want[created.Entity] = append(want[created.Entity], upd.ID)
		}
	}

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	p.Drain(drainCtx)

	eval.mu.Lock()
	defer eval.mu.Unlock()
	assert.Equal(t, want, eval.order)
}
