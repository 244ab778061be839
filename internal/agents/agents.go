// Package agents provides the built-in executors behind registered agents:
// webhook posts the action to an HTTP endpoint, manual parks it until an
// operator reports completion, and simulated succeeds locally for demos
// and tests.
package agents

import (
	"fmt"
	"slices"
	"time"

	"github.com/ashita-ai/kanri/internal/model"
	"github.com/ashita-ai/kanri/internal/service/dispatch"
)

// Kind selects an executor implementation.
type Kind string

const (
	KindWebhook   Kind = "webhook"
	KindManual    Kind = "manual"
	KindSimulated Kind = "simulated"
)

// Spec describes an executor as it appears in the definitions file.
type Spec struct {
	Kind Kind
	// Ops limits the operations the executor accepts; empty means all.
	Ops []string

	URL     string
	Token   string
	Timeout time.Duration

	// Latency delays simulated executions.
	Latency time.Duration
}

// Build returns the executor described by s.
func Build(s Spec) (dispatch.Executor, error) {
	switch s.Kind {
	case KindWebhook:
		if s.URL == "" {
			return nil, fmt.Errorf("agents: webhook executor requires a url")
		}
		return NewWebhook(s.URL, WithToken(s.Token), WithTimeout(s.Timeout), WithOps(s.Ops...)), nil
	case KindManual, "":
		return Manual{Ops: s.Ops}, nil
	case KindSimulated:
		return Simulated{Ops: s.Ops, Latency: s.Latency}, nil
	default:
		return nil, fmt.Errorf("agents: unknown executor kind %q", s.Kind)
	}
}

func handles(ops []string, spec model.ActionSpec) bool {
	return len(ops) == 0 || slices.Contains(ops, spec.Op)
}
