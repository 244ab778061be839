package agents

import (
	"context"
	"time"

	"github.com/ashita-ai/kanri/internal/model"
)

// Manual hands work to a human. Execute returns model.ErrDeferred and the
// agent stays processing until POST /api/agents/{id}/complete.
type Manual struct {
	Ops []string
}

// CanHandle implements dispatch.Executor.
func (m Manual) CanHandle(spec model.ActionSpec) bool { return handles(m.Ops, spec) }

// Execute implements dispatch.Executor.
func (Manual) Execute(context.Context, model.Agent, model.ActionSpec) (model.ExecutionResult, error) {
	return model.ExecutionResult{}, model.ErrDeferred
}

// Simulated reports success for every action after an optional delay.
// Params "succeeded" and "failed" override the system counts so demos can
// exercise partial and failed outcomes.
type Simulated struct {
	Ops     []string
	Latency time.Duration
}

// CanHandle implements dispatch.Executor.
func (s Simulated) CanHandle(spec model.ActionSpec) bool { return handles(s.Ops, spec) }

// Execute implements dispatch.Executor.
func (s Simulated) Execute(ctx context.Context, _ model.Agent, spec model.ActionSpec) (model.ExecutionResult, error) {
	if s.Latency > 0 {
		t := time.NewTimer(s.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return model.ExecutionResult{}, ctx.Err()
		case <-t.C:
		}
	}
	ok, failed := count(spec.Params["succeeded"], 1), count(spec.Params["failed"], 0)
	res := model.ExecutionResult{
		SystemsSucceeded: ok,
		SystemsFailed:    failed,
		Details:          "simulated " + spec.Op,
	}
	if failed > 0 && ok+failed > 0 {
		res.Progress = ok * 100 / (ok + failed)
	}
	return res.Normalize(), nil
}

func count(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}
