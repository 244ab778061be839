// Package rootcause produces the post-hoc RootCauseAnalysis for resolved
// alerts. An analysis combines the alert's own fields, the activities that
// acted on it, alert-management activity during its resolution window, and
// a source category rule table. Each alert is analyzed at most once.
package rootcause

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/ashita-ai/kanri/internal/model"
	"github.com/ashita-ai/kanri/internal/store"
)

// Confidence contributions.
const (
	baseConfidence       = 0.2
	successConfidence    = 0.5
	partialConfidence    = 0.3
	failedConfidence     = 0.1
	correlatedConfidence = 0.05
	correlatedCap        = 0.2
	knownCategoryBonus   = 0.15
	explicitCauseBonus   = 0.15
)

// Analyzer computes and stores root cause analyses.
type Analyzer struct {
	store    *store.Store
	logger   *slog.Logger
	annotate bool
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithAnnotation controls whether the analysis text is copied into the
// alert's rootCause field when the alert has none.
func WithAnnotation(on bool) Option {
	return func(a *Analyzer) { a.annotate = on }
}

// New creates an analyzer.
func New(s *store.Store, logger *slog.Logger, opts ...Option) *Analyzer {
	a := &Analyzer{store: s, logger: logger, annotate: true}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Observe is a store.Observer that analyzes alerts as they reach a
// terminal status.
func (a *Analyzer) Observe(c store.Change) {
	if c.Kind != store.ChangeStatus || c.Entity.Kind != model.EntityAlert {
		return
	}
	if !model.AlertStatus(c.To).Terminal() {
		return
	}
	if _, err := a.Analyze(context.Background(), c.Entity.ID); err != nil && !errors.Is(err, model.ErrAlreadyAnalyzed) {
		a.logger.Error("rootcause: analyze on resolution", "alert_id", c.Entity.ID, "error", err)
	}
}

// Analyze builds and stores the analysis for a resolved or auto-remediated
// alert. A second call for the same alert returns model.ErrAlreadyAnalyzed.
func (a *Analyzer) Analyze(ctx context.Context, alertID string) (model.RootCauseAnalysis, error) {
	alert, err := a.store.Alert(alertID)
	if err != nil {
		return model.RootCauseAnalysis{}, fmt.Errorf("rootcause: %w", err)
	}
	if !alert.Status.Terminal() {
		return model.RootCauseAnalysis{}, fmt.Errorf("rootcause: alert %s is %s: %w", alertID, alert.Status, model.ErrAlertNotResolved)
	}
	if _, err := a.store.RootCause(alertID); err == nil {
		return model.RootCauseAnalysis{}, fmt.Errorf("rootcause: alert %s: %w", alertID, model.ErrAlreadyAnalyzed)
	}

	ref := model.EntityRef{Kind: model.EntityAlert, ID: alert.ID}
	direct := a.store.Activities(store.ActivityFilter{Entity: ref})
	correlated := a.correlated(alert, ref)

	cat, known := classify(alert.Source, alert.Title, alert.Description)
	explicit := alert.RootCause != nil && *alert.RootCause != ""

	rca := model.RootCauseAnalysis{
		AlertID:            alert.ID,
		RootCause:          cat.rootCause,
		AffectedComponents: components(alert, cat),
		Recommendation:     cat.recommendation,
		PreventionSteps:    slices.Clone(cat.prevention),
		Confidence:         confidence(direct, len(correlated), known, explicit),
	}
	if explicit {
		rca.RootCause = *alert.RootCause
	}
	if best := bestOutcome(direct); best == model.OutcomeFailed {
		rca.Recommendation = "Automated remediation did not succeed. " + rca.Recommendation
	}
	if !alert.AutoRemediated && known {
		rca.PreventionSteps = append(rca.PreventionSteps, fmt.Sprintf("Add an automated remediation workflow for %s alerts", alert.Source))
	}
	for _, act := range direct {
		rca.ActivityIDs = append(rca.ActivityIDs, act.ID)
	}
	for _, act := range correlated {
		rca.ActivityIDs = append(rca.ActivityIDs, act.ID)
	}

	stored, err := a.store.InsertRootCause(ctx, rca)
	if err != nil {
		return model.RootCauseAnalysis{}, fmt.Errorf("rootcause: %w", err)
	}

	if a.annotate && !explicit {
		err := a.store.WithEntity(ctx, ref, func(tx *store.Tx) error {
			_, err := tx.AnnotateAlert(stored.RootCause)
			return err
		})
		if err != nil {
			a.logger.Warn("rootcause: annotate alert", "alert_id", alert.ID, "error", err)
		}
	}
	a.logger.Info("rootcause: analysis stored", "alert_id", alert.ID, "confidence", stored.Confidence, "activities", len(stored.ActivityIDs))
	return stored, nil
}

// correlated returns alert-management activities on other entities that
// ran while the alert was open.
func (a *Analyzer) correlated(alert model.Alert, ref model.EntityRef) []model.AutomationActivity {
	until := alert.Timestamp
	if alert.ResolvedAt != nil {
		until = *alert.ResolvedAt
	}
	alertAgents := map[string]bool{}
	for _, ag := range a.store.Agents() {
		if ag.Type == model.AgentAlertManagement {
			alertAgents[ag.ID] = true
		}
	}
	var out []model.AutomationActivity
	for _, act := range a.store.Activities(store.ActivityFilter{Since: alert.Timestamp, Until: until}) {
		if act.Entity == ref || !alertAgents[act.AgentID] {
			continue
		}
		out = append(out, act)
	}
	return out
}

func components(alert model.Alert, cat category) []string {
	out := slices.Clone(alert.AffectedSystems)
	if !slices.Contains(out, cat.component) {
		out = append(out, cat.component)
	}
	return out
}

func bestOutcome(acts []model.AutomationActivity) model.Outcome {
	var best model.Outcome
	rank := map[model.Outcome]int{model.OutcomeFailed: 1, model.OutcomePartial: 2, model.OutcomeSuccess: 3}
	for _, act := range acts {
		if rank[act.Outcome] > rank[best] {
			best = act.Outcome
		}
	}
	return best
}

func confidence(direct []model.AutomationActivity, correlated int, known, explicit bool) float64 {
	c := baseConfidence
	switch bestOutcome(direct) {
	case model.OutcomeSuccess:
		c += successConfidence
	case model.OutcomePartial:
		c += partialConfidence
	case model.OutcomeFailed:
		c += failedConfidence
	}
	c += math.Min(float64(correlated)*correlatedConfidence, correlatedCap)
	if known {
		c += knownCategoryBonus
	}
	if explicit {
		c += explicitCauseBonus
	}
	return math.Round(math.Min(c, 1)*100) / 100
}
