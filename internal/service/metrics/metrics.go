// Package metrics computes DashboardMetrics as a read-only projection of the
// entity store and records the versioned snapshots that trends compare
// against.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/kanri/internal/model"
	"github.com/ashita-ai/kanri/internal/store"
	"github.com/ashita-ai/kanri/internal/telemetry"
)

// DefaultTrendWindow is how old a snapshot must be to serve as the trend
// baseline.
const DefaultTrendWindow = 7 * 24 * time.Hour

// HealthSource reports system uptime as a percentage. Its value is passed
// through unchanged.
type HealthSource interface {
	Uptime(ctx context.Context) (float64, error)
}

// HealthFunc adapts a function to HealthSource.
type HealthFunc func(ctx context.Context) (float64, error)

// Uptime calls f.
func (f HealthFunc) Uptime(ctx context.Context) (float64, error) { return f(ctx) }

// Aggregator computes dashboard metrics.
type Aggregator struct {
	store  *store.Store
	logger *slog.Logger
	health HealthSource
	window time.Duration

	group        singleflight.Group
	computations metric.Int64Counter
	snapshots    metric.Int64Counter
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithHealthSource sets where systemUptime comes from. Without one uptime
// is reported as 0.
func WithHealthSource(h HealthSource) Option {
	return func(a *Aggregator) { a.health = h }
}

// WithTrendWindow overrides DefaultTrendWindow.
func WithTrendWindow(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.window = d
		}
	}
}

// New creates an aggregator over s.
func New(s *store.Store, logger *slog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{store: s, logger: logger, window: DefaultTrendWindow}
	for _, o := range opts {
		o(a)
	}
	meter := telemetry.Meter("kanri/metrics")
	a.computations, _ = meter.Int64Counter("kanri.metrics.computations",
		metric.WithDescription("Dashboard metric projections computed"),
	)
	a.snapshots, _ = meter.Int64Counter("kanri.metrics.snapshots",
		metric.WithDescription("Metric baselines recorded"),
	)
	return a
}

// Compute returns the current dashboard metrics. Concurrent callers share
// one computation.
func (a *Aggregator) Compute(ctx context.Context) (model.DashboardMetrics, error) {
	v, err, _ := a.group.Do("dashboard", func() (any, error) {
		return a.compute(ctx), nil
	})
	if err != nil {
		return model.DashboardMetrics{}, err
	}
	m := v.(model.DashboardMetrics)
	m.AlertsByStatus = maps.Clone(m.AlertsByStatus)
	m.PatchesByStatus = maps.Clone(m.PatchesByStatus)
	m.TasksByStatus = maps.Clone(m.TasksByStatus)
	m.AgentsByStatus = maps.Clone(m.AgentsByStatus)
	return m, nil
}

func (a *Aggregator) compute(ctx context.Context) model.DashboardMetrics {
	now := a.store.Now()
	cur := a.current(ctx, now)

	m := model.DashboardMetrics{
		TotalAlerts:     cur.TotalAlerts,
		CriticalAlerts:  cur.CriticalAlerts,
		PatchesDeployed: cur.PatchesDeployed,
		TasksAutomated:  cur.TasksAutomated,
		SystemUptime:    cur.SystemUptime,
		AlertsByStatus:  map[model.AlertStatus]int{},
		PatchesByStatus: map[model.PatchStatus]int{},
		TasksByStatus:   map[model.TaskStatus]int{},
		AgentsByStatus:  map[model.AgentStatus]int{},
		ComputedAt:      now,
	}
	for _, al := range a.store.Alerts() {
		m.AlertsByStatus[al.Status]++
	}
	patches := a.store.Patches()
	for _, p := range patches {
		m.PatchesByStatus[p.Status]++
	}
	tasks := a.store.Tasks()
	for _, t := range tasks {
		m.TasksByStatus[t.Status]++
	}
	for _, ag := range a.store.Agents() {
		m.AgentsByStatus[ag.Status]++
		if ag.Status == model.AgentActive || ag.Status == model.AgentProcessing {
			m.ActiveAgents++
		}
	}
	m.PatchCompletionRate = percent(m.PatchesByStatus[model.PatchCompleted], len(patches))
	m.TaskCompletionRate = percent(m.TasksByStatus[model.TaskCompleted], len(tasks))

	if prior, ok := Baseline(a.store.MetricsSnapshots(), now, a.window); ok {
		m.AlertTrend = Trend(float64(cur.TotalAlerts), float64(prior.TotalAlerts))
		m.PatchesDeployedTrend = Trend(float64(cur.PatchesDeployed), float64(prior.PatchesDeployed))
		m.TasksAutomatedTrend = Trend(float64(cur.TasksAutomated), float64(prior.TasksAutomated))
		m.UptimeTrend = Trend(cur.SystemUptime, prior.SystemUptime)
		taken := prior.TakenAt
		m.BaselineAt = &taken
	}
	a.computations.Add(ctx, 1)
	return m
}

// current counts the headline figures that snapshots record.
func (a *Aggregator) current(ctx context.Context, now time.Time) model.MetricsSnapshot {
	snap := model.MetricsSnapshot{TakenAt: now}
	for _, al := range a.store.Alerts() {
		snap.TotalAlerts++
		if al.Severity == model.AlertCritical && !al.Status.Terminal() {
			snap.CriticalAlerts++
		}
	}
	for _, p := range a.store.Patches() {
		if p.Status == model.PatchCompleted {
			snap.PatchesDeployed++
		}
	}
	for _, t := range a.store.Tasks() {
		if t.Status == model.TaskCompleted && t.AutomatedBy != "" {
			snap.TasksAutomated++
		}
	}
	if a.health != nil {
		up, err := a.health.Uptime(ctx)
		if err != nil {
			a.logger.Warn("metrics: uptime unavailable", "error", err)
		} else {
			snap.SystemUptime = up
		}
	}
	return snap
}

// RecordSnapshot stores the current headline figures as a new baseline.
func (a *Aggregator) RecordSnapshot(ctx context.Context) (model.MetricsSnapshot, error) {
	snap, err := a.store.RecordMetricsSnapshot(ctx, a.current(ctx, a.store.Now()))
	if err != nil {
		return model.MetricsSnapshot{}, fmt.Errorf("metrics: record snapshot: %w", err)
	}
	a.snapshots.Add(ctx, 1)
	return snap, nil
}

// Run records a snapshot every interval until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := a.RecordSnapshot(ctx)
			if err != nil {
				a.logger.Error("metrics: snapshot failed", "error", err)
				continue
			}
			a.logger.Debug("metrics: snapshot recorded", "version", snap.Version)
		}
	}
}

// Baseline returns the newest snapshot taken at least window before now.
func Baseline(snaps []model.MetricsSnapshot, now time.Time, window time.Duration) (model.MetricsSnapshot, bool) {
	cutoff := now.Add(-window)
	var (
		best  model.MetricsSnapshot
		found bool
	)
	for _, s := range snaps {
		if s.TakenAt.After(cutoff) {
			continue
		}
		if !found || s.TakenAt.After(best.TakenAt) || (s.TakenAt.Equal(best.TakenAt) && s.Version > best.Version) {
			best, found = s, true
		}
	}
	return best, found
}

// Trend is the percentage change from prior to cur, rounded to the nearest
// integer. Growth from a zero prior counts as +100.
func Trend(cur, prior float64) int {
	if prior == 0 {
		if cur > 0 {
			return 100
		}
		return 0
	}
	return int(math.Round((cur - prior) / prior * 100))
}

func percent(n, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(n) / float64(total) * 100))
}
