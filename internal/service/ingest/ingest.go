// Package ingest is the single entry point for outside events. Submit
// creates or resolves the referenced entity, hands back the event id as an
// acceptance token, and queues the event for workflow evaluation on a
// bounded worker pool. Events for one entity always land on the same
// worker, so they are evaluated in submission order.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kanri/internal/model"
	"github.com/ashita-ai/kanri/internal/store"
	"github.com/ashita-ai/kanri/internal/telemetry"
)

// ErrClosed is returned by Submit after Drain.
var ErrClosed = errors.New("ingest: pipeline closed")

const (
	defaultWorkers   = 4
	defaultQueueSize = 1024
)

// Evaluator runs workflows for one event.
type Evaluator interface {
	Evaluate(ctx context.Context, ev model.Event) ([]model.AutomationActivity, error)
}

// Pipeline accepts events and evaluates them in the background.
type Pipeline struct {
	store   *store.Store
	eval    Evaluator
	logger  *slog.Logger
	tracer  trace.Tracer
	workers   int
	queueSize int

	// slots bounds queued events; a slot is taken before the entity is
	// created so a full queue never leaves an orphaned entity behind.
	slots  chan struct{}
	shards []chan model.Event
	next   atomic.Uint64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	evaluated metric.Int64Counter
	rejected  atomic.Int64
	failures  atomic.Int64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWorkers sets the number of concurrent evaluations.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithQueueSize sets how many accepted events may wait for a worker.
func WithQueueSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// New creates a pipeline. Call Start before Submit.
func New(s *store.Store, eval Evaluator, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:   s,
		eval:    eval,
		logger:  logger,
		tracer:  telemetry.Tracer("kanri/ingest"),
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.slots = make(chan struct{}, p.queueSize)
	// Every shard can hold the whole bound; slots keeps the total in check,
	// so a send never blocks.
	p.shards = make([]chan model.Event, p.workers)
	for i := range p.shards {
		p.shards[i] = make(chan model.Event, p.queueSize)
	}
	return p
}

// Start launches the worker pool and registers OTEL metrics. Workers stop
// once Drain closes the queue, not when ctx is cancelled; ctx only supplies
// values for evaluation.
func (p *Pipeline) Start(ctx context.Context) {
	p.registerMetrics()
	base := context.WithoutCancel(ctx)
	var g errgroup.Group
	for _, shard := range p.shards {
		g.Go(func() error {
			for ev := range shard {
				<-p.slots
				p.evaluate(base, ev)
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(p.done)
	}()
}

// Submit accepts an event. Creation events store their entity first;
// other kinds must reference an existing entity or none. The returned
// event's ID is the acceptance token.
func (p *Pipeline) Submit(ctx context.Context, kind model.EventKind, payload map[string]any) (model.Event, error) {
	if !kind.Valid() {
		return model.Event{}, fmt.Errorf("ingest: %w: unknown event kind %q", model.ErrInvalidInput, kind)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return model.Event{}, ErrClosed
	}
	select {
	case p.slots <- struct{}{}:
	default:
		p.rejected.Add(1)
		return model.Event{}, fmt.Errorf("ingest: %d events waiting: %w", cap(p.slots), model.ErrQueueFull)
	}

	ref, err := p.resolve(ctx, kind, payload)
	if err != nil {
		<-p.slots
		return model.Event{}, err
	}
	ev := model.Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: p.store.Now(),
		Entity:    ref,
		Payload:   payload,
	}
	p.shards[p.shard(ev)] <- ev
	p.logger.Debug("ingest: event accepted", "event_id", ev.ID, "kind", kind, "entity", ref.String())
	return ev, nil
}

// resolve creates the entity for creation events and validates references
// for the rest.
func (p *Pipeline) resolve(ctx context.Context, kind model.EventKind, payload map[string]any) (model.EntityRef, error) {
	switch kind {
	case model.EventAlertCreated:
		a, err := decode[model.Alert](payload)
		if err != nil {
			return model.EntityRef{}, err
		}
		if a.Title == "" {
			a.Title = defaultTitle("Alert", a.Source)
		}
		created, err := p.store.CreateAlert(ctx, a)
		if err != nil {
			return model.EntityRef{}, fmt.Errorf("ingest: %w", err)
		}
		return model.EntityRef{Kind: model.EntityAlert, ID: created.ID}, nil

	case model.EventPatchAvailable:
		pt, err := decode[model.Patch](payload)
		if err != nil {
			return model.EntityRef{}, err
		}
		created, err := p.store.CreatePatch(ctx, pt)
		if err != nil {
			return model.EntityRef{}, fmt.Errorf("ingest: %w", err)
		}
		return model.EntityRef{Kind: model.EntityPatch, ID: created.ID}, nil

	case model.EventTaskRequested:
		t, err := decode[model.RoutineTask](payload)
		if err != nil {
			return model.EntityRef{}, err
		}
		if t.Title == "" {
			t.Title = defaultTitle("Task", string(t.Type))
		}
		created, err := p.store.CreateTask(ctx, t)
		if err != nil {
			return model.EntityRef{}, fmt.Errorf("ingest: %w", err)
		}
		return model.EntityRef{Kind: model.EntityTask, ID: created.ID}, nil

	case model.EventAlertUpdated:
		ref, err := reference(payload, model.EntityAlert)
		if err != nil {
			return model.EntityRef{}, err
		}
		if ref.IsZero() {
			return model.EntityRef{}, fmt.Errorf("ingest: %w: alert-updated requires entityId", model.ErrInvalidInput)
		}
		return ref, p.mustExist(ref)

	default:
		ref, err := reference(payload, "")
		if err != nil || ref.IsZero() {
			return ref, err
		}
		return ref, p.mustExist(ref)
	}
}

// shard picks the worker for ev. Entityless events are spread round robin.
func (p *Pipeline) shard(ev model.Event) int {
	if ev.Entity.IsZero() {
		return int(p.next.Add(1) % uint64(len(p.shards)))
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(ev.Entity.String()))
	return int(h.Sum32() % uint32(len(p.shards)))
}

func (p *Pipeline) mustExist(ref model.EntityRef) error {
	if !p.store.Exists(ref) {
		return fmt.Errorf("ingest: %s: %w", ref, model.ErrNotFound)
	}
	return nil
}

// reference reads entityKind/entityId from a payload. want, when set, is
// the only kind accepted and the default when entityKind is absent.
func reference(payload map[string]any, want model.EntityKind) (model.EntityRef, error) {
	id, _ := payload["entityId"].(string)
	kind, _ := payload["entityKind"].(string)
	if id == "" {
		if kind != "" {
			return model.EntityRef{}, fmt.Errorf("ingest: %w: entityKind without entityId", model.ErrInvalidInput)
		}
		return model.EntityRef{}, nil
	}
	if kind == "" {
		kind = string(want)
	}
	ref := model.EntityRef{Kind: model.EntityKind(kind), ID: id}
	switch {
	case want != "" && ref.Kind != want:
		return model.EntityRef{}, fmt.Errorf("ingest: %w: entityKind must be %s", model.ErrInvalidInput, want)
	case ref.Kind != model.EntityAlert && ref.Kind != model.EntityPatch && ref.Kind != model.EntityTask:
		return model.EntityRef{}, fmt.Errorf("ingest: %w: entityKind %q", model.ErrInvalidInput, kind)
	}
	return ref, nil
}

// decode maps a payload onto an entity record through its JSON tags.
func decode[T any](payload map[string]any) (T, error) {
	var v T
	raw, err := json.Marshal(payload)
	if err != nil {
		return v, fmt.Errorf("ingest: %w: %v", model.ErrInvalidInput, err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("ingest: %w: %v", model.ErrInvalidInput, err)
	}
	return v, nil
}

func defaultTitle(noun, detail string) string {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return noun
	}
	return noun + ": " + detail
}

func (p *Pipeline) evaluate(ctx context.Context, ev model.Event) {
	ctx, span := p.tracer.Start(ctx, "ingest.evaluate", trace.WithAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.kind", string(ev.Kind)),
		attribute.String("entity", ev.Entity.String()),
	))
	defer span.End()

	acts, err := p.eval.Evaluate(ctx, ev)
	result := "ok"
	if err != nil {
		result = "error"
		p.failures.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("ingest: evaluation failed", "event_id", ev.ID, "kind", ev.Kind, "error", err)
	}
	p.evaluated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(ev.Kind)),
		attribute.String("result", result),
	))
	p.logger.Debug("ingest: event evaluated", "event_id", ev.ID, "activities", len(acts))
}

// Drain stops accepting events and waits for queued ones to be evaluated,
// or for ctx to expire.
func (p *Pipeline) Drain(ctx context.Context) {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, shard := range p.shards {
			close(shard)
		}
	}
	p.mu.Unlock()
	select {
	case <-p.done:
	case <-ctx.Done():
		p.logger.Warn("ingest: drain timed out", "pending", p.Len())
	}
}

func (p *Pipeline) registerMetrics() {
	meter := telemetry.Meter("kanri/ingest")

	p.evaluated, _ = meter.Int64Counter("kanri.ingest.evaluated",
		metric.WithDescription("Events evaluated by kind and result"),
	)
	_, _ = meter.Int64ObservableGauge("kanri.ingest.queue_depth",
		metric.WithDescription("Accepted events waiting for a worker"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(p.Len()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("kanri.ingest.rejected_total",
		metric.WithDescription("Events rejected because the queue was full"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(p.rejected.Load())
			return nil
		}),
	)
}

// Len returns the number of accepted events not yet picked up by a worker.
func (p *Pipeline) Len() int { return len(p.slots) }

// Capacity returns the queue bound.
func (p *Pipeline) Capacity() int { return cap(p.slots) }

// Failures returns how many evaluations returned an error.
func (p *Pipeline) Failures() int64 { return p.failures.Load() }
