package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashita-ai/kanri/internal/model"
)

// RegisterAgent provisions an agent. New agents start idle unless a status
// is given; an agent cannot be registered as processing. An agent without a
// track record starts at a success rate of 100.
func (s *Store) RegisterAgent(ctx context.Context, a model.Agent) (model.Agent, error) {
	if a.Status == "" {
		a.Status = model.AgentIdle
	}
	if a.SuccessRate == 0 {
		a.SuccessRate = 100
	}
	if a.Status == model.AgentProcessing || a.CurrentTask != nil {
		return model.Agent{}, fmt.Errorf("store: register agent: %w: agents cannot start processing", model.ErrInvalidInput)
	}
	if a.Name == "" {
		a.Name = a.ID
	}
	if a.LastActive.IsZero() {
		a.LastActive = s.Now()
	}
	if err := a.Validate(); err != nil {
		return model.Agent{}, fmt.Errorf("store: register agent: %w", err)
	}
	s.agentMu.Lock()
	defer s.agentMu.Unlock()
	if _, ok := s.agents.get(a.ID); ok {
		return model.Agent{}, fmt.Errorf("store: register agent: %w: %s", model.ErrAlreadyExists, a.ID)
	}
	if err := s.persist.SaveAgent(ctx, a); err != nil {
		return model.Agent{}, fmt.Errorf("store: register agent: %w", err)
	}
	if err := s.agents.insert(a.ID, a); err != nil {
		return model.Agent{}, fmt.Errorf("store: register agent: %w", err)
	}
	return a.Clone(), nil
}

// Agent returns a copy of one agent.
func (s *Store) Agent(id string) (model.Agent, error) {
	a, ok := s.agents.get(id)
	if !ok {
		return model.Agent{}, fmt.Errorf("store: agent %s: %w", id, model.ErrNotFound)
	}
	return a, nil
}

// Agents returns all agents in registration order.
func (s *Store) Agents() []model.Agent { return s.agents.list() }

// ClaimAgent atomically picks an available agent of the given type and marks
// it processing taskRef. choose receives the available candidates in
// registration order and returns the index to claim.
//
// Errors: ErrNoCapableAgent when no agent of the type is registered,
// ErrAgentUnavailable when all of them are in error, ErrAgentBusy otherwise
// when none is available.
func (s *Store) ClaimAgent(ctx context.Context, typ model.AgentType, taskRef string, choose func([]model.Agent) int) (model.Agent, error) {
	s.agentMu.Lock()
	var (
		registered, errored int
		available           []model.Agent
	)
	for _, a := range s.agents.list() {
		if a.Type != typ {
			continue
		}
		registered++
		switch {
		case a.Status == model.AgentError:
			errored++
		case a.Status.Available():
			available = append(available, a)
		}
	}
	switch {
	case registered == 0:
		s.agentMu.Unlock()
		return model.Agent{}, fmt.Errorf("store: claim %s: %w", typ, model.ErrNoCapableAgent)
	case errored == registered:
		s.agentMu.Unlock()
		return model.Agent{}, fmt.Errorf("store: claim %s: %w", typ, model.ErrAgentUnavailable)
	case len(available) == 0:
		s.agentMu.Unlock()
		return model.Agent{}, fmt.Errorf("store: claim %s: %w", typ, model.ErrAgentBusy)
	}
	idx := choose(available)
	if idx < 0 || idx >= len(available) {
		s.agentMu.Unlock()
		return model.Agent{}, fmt.Errorf("store: claim %s: chooser returned %d of %d", typ, idx, len(available))
	}
	next := available[idx]
	next.Status = model.AgentProcessing
	ref := taskRef
	next.CurrentTask = &ref
	next.LastActive = s.Now()
	if err := s.persist.SaveAgent(ctx, next); err != nil {
		s.agentMu.Unlock()
		return model.Agent{}, fmt.Errorf("store: claim %s: %w", typ, err)
	}
	s.agents.put(next.ID, next)
	s.agentMu.Unlock()
	s.notify(Change{Kind: ChangeAgent, From: string(available[idx].Status), To: string(next.Status), Data: next.Clone()})
	return next.Clone(), nil
}

// ReleaseAgent finishes the agent's current task: tasksCompleted is bumped,
// successRate replaced by rate(old), status returns to idle, and currentTask
// is cleared. The agent must be processing.
func (s *Store) ReleaseAgent(ctx context.Context, id string, rate func(old float64) float64) (model.Agent, error) {
	s.agentMu.Lock()
	cur, ok := s.agents.get(id)
	if !ok {
		s.agentMu.Unlock()
		return model.Agent{}, fmt.Errorf("store: release agent %s: %w", id, model.ErrNotFound)
	}
	if cur.Status != model.AgentProcessing {
		s.agentMu.Unlock()
		return cur, fmt.Errorf("store: release agent %s: %w: status %s", id, model.ErrInvalidTransition, cur.Status)
	}
	next := cur.Clone()
	next.TasksCompleted++
	next.SuccessRate = min(max(rate(cur.SuccessRate), 0), 100)
	next.Status = model.AgentIdle
	next.CurrentTask = nil
	next.LastActive = s.Now()
	if err := s.persist.SaveAgent(ctx, next); err != nil {
		s.agentMu.Unlock()
		return cur, fmt.Errorf("store: release agent %s: %w", id, err)
	}
	s.agents.put(id, next)
	s.agentMu.Unlock()
	s.notify(Change{Kind: ChangeAgent, From: string(cur.Status), To: string(next.Status), Data: next.Clone()})
	return next.Clone(), nil
}

// SetAgentStatus moves an agent between idle, active, and error. Taking a
// processing agent out of service drops its current task.
func (s *Store) SetAgentStatus(ctx context.Context, id string, status model.AgentStatus) (model.Agent, error) {
	if status == model.AgentProcessing {
		return model.Agent{}, fmt.Errorf("store: set agent status: %w: use ClaimAgent", model.ErrInvalidInput)
	}
	s.agentMu.Lock()
	cur, ok := s.agents.get(id)
	if !ok {
		s.agentMu.Unlock()
		return model.Agent{}, fmt.Errorf("store: agent %s: %w", id, model.ErrNotFound)
	}
	next := cur.Clone()
	next.Status = status
	next.CurrentTask = nil
	if err := next.Validate(); err != nil {
		s.agentMu.Unlock()
		return cur, fmt.Errorf("store: set agent status: %w", err)
	}
	if err := s.persist.SaveAgent(ctx, next); err != nil {
		s.agentMu.Unlock()
		return cur, fmt.Errorf("store: set agent status: %w", err)
	}
	s.agents.put(id, next)
	s.agentMu.Unlock()
	s.notify(Change{Kind: ChangeAgent, From: string(cur.Status), To: string(next.Status), Data: next.Clone()})
	return next.Clone(), nil
}

// RenameAgent changes an agent's display name. Activities already recorded
// keep the old name.
func (s *Store) RenameAgent(ctx context.Context, id, name string) (model.Agent, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Agent{}, fmt.Errorf("store: rename agent: %w: name is required", model.ErrInvalidInput)
	}
	s.agentMu.Lock()
	defer s.agentMu.Unlock()
	cur, ok := s.agents.get(id)
	if !ok {
		return model.Agent{}, fmt.Errorf("store: agent %s: %w", id, model.ErrNotFound)
	}
	next := cur.Clone()
	next.Name = name
	if err := s.persist.SaveAgent(ctx, next); err != nil {
		return cur, fmt.Errorf("store: rename agent: %w", err)
	}
	s.agents.put(id, next)
	return next.Clone(), nil
}
