package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kanri/internal/model"
)

// ReserveSequence hands out the next activity ordering key. Dispatch
// reserves a sequence when work is accepted so activities sort in dispatch
// order even when executions complete out of order.
func (s *Store) ReserveSequence() int64 { return s.seq.Add(1) }

// AppendActivity records an activity outside any entity transaction.
func (s *Store) AppendActivity(ctx context.Context, a model.AutomationActivity) (model.AutomationActivity, error) {
	a, err := s.appendActivity(ctx, a)
	if err != nil {
		return a, err
	}
	s.notify(Change{Kind: ChangeActivity, Entity: a.Entity, To: string(a.Outcome), Data: a.Clone()})
	return a, nil
}

func (s *Store) appendActivity(ctx context.Context, a model.AutomationActivity) (model.AutomationActivity, error) {
	if !a.Outcome.Valid() {
		return a, fmt.Errorf("store: append activity: %w: outcome %q", model.ErrInvalidInput, a.Outcome)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Sequence == 0 {
		a.Sequence = s.ReserveSequence()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = s.Now()
	}
	s.actMu.Lock()
	defer s.actMu.Unlock()
	if err := s.persist.AppendActivity(ctx, a); err != nil {
		return a, fmt.Errorf("store: append activity: %w", err)
	}
	s.insertActivityLocked(a)
	return a.Clone(), nil
}

// insertActivityLocked keeps activities sorted by sequence. Callers hold actMu.
func (s *Store) insertActivityLocked(a model.AutomationActivity) {
	i := sort.Search(len(s.activities), func(i int) bool { return s.activities[i].Sequence > a.Sequence })
	s.activities = append(s.activities, model.AutomationActivity{})
	copy(s.activities[i+1:], s.activities[i:])
	s.activities[i] = a.Clone()
}

// ActivityFilter narrows Activities. Zero fields match everything.
type ActivityFilter struct {
	Entity     model.EntityRef
	EntityKind model.EntityKind
	AgentID    string
	WorkflowID string
	EventID    string
	Outcome    model.Outcome
	Since      time.Time
	Until      time.Time
	// Limit keeps only the newest N matches; 0 means no limit.
	Limit int
}

func (f ActivityFilter) match(a model.AutomationActivity) bool {
	switch {
	case !f.Entity.IsZero() && a.Entity != f.Entity:
		return false
	case f.EntityKind != "" && a.Entity.Kind != f.EntityKind:
		return false
	case f.AgentID != "" && a.AgentID != f.AgentID:
		return false
	case f.WorkflowID != "" && a.WorkflowID != f.WorkflowID:
		return false
	case f.EventID != "" && a.EventID != f.EventID:
		return false
	case f.Outcome != "" && a.Outcome != f.Outcome:
		return false
	case !f.Since.IsZero() && a.Timestamp.Before(f.Since):
		return false
	case !f.Until.IsZero() && a.Timestamp.After(f.Until):
		return false
	}
	return true
}

// Activities returns matching activities in sequence order.
func (s *Store) Activities(f ActivityFilter) []model.AutomationActivity {
	s.actMu.RLock()
	defer s.actMu.RUnlock()
	var out []model.AutomationActivity
	for _, a := range s.activities {
		if f.match(a) {
			out = append(out, a.Clone())
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// InsertRootCause stores the analysis for an alert. A second insert for the
// same alert fails with ErrAlreadyAnalyzed and leaves the first untouched.
func (s *Store) InsertRootCause(ctx context.Context, r model.RootCauseAnalysis) (model.RootCauseAnalysis, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = s.Now()
	}
	s.rcaMu.Lock()
	if _, ok := s.rcas[r.AlertID]; ok {
		s.rcaMu.Unlock()
		return model.RootCauseAnalysis{}, fmt.Errorf("store: root cause for alert %s: %w", r.AlertID, model.ErrAlreadyAnalyzed)
	}
	if err := s.persist.InsertRootCause(ctx, r); err != nil {
		s.rcaMu.Unlock()
		return model.RootCauseAnalysis{}, fmt.Errorf("store: root cause for alert %s: %w", r.AlertID, err)
	}
	s.rcas[r.AlertID] = r.Clone()
	s.rcaOrder = append(s.rcaOrder, r.AlertID)
	s.rcaMu.Unlock()
	s.notify(Change{Kind: ChangeRootCause, Entity: model.EntityRef{Kind: model.EntityAlert, ID: r.AlertID}, Data: r.Clone()})
	return r.Clone(), nil
}

// RootCause returns the analysis for an alert.
func (s *Store) RootCause(alertID string) (model.RootCauseAnalysis, error) {
	s.rcaMu.RLock()
	defer s.rcaMu.RUnlock()
	r, ok := s.rcas[alertID]
	if !ok {
		return model.RootCauseAnalysis{}, fmt.Errorf("store: root cause for alert %s: %w", alertID, model.ErrNotFound)
	}
	return r.Clone(), nil
}

// RootCauses returns every analysis in creation order.
func (s *Store) RootCauses() []model.RootCauseAnalysis {
	s.rcaMu.RLock()
	defer s.rcaMu.RUnlock()
	out := make([]model.RootCauseAnalysis, 0, len(s.rcaOrder))
	for _, id := range s.rcaOrder {
		out = append(out, s.rcas[id].Clone())
	}
	return out
}
