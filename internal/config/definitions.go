package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/kanri/internal/model"
)

// Definitions is the declarative part of the deployment: which agents
// exist and how they execute, plus the workflows and patch policies to
// load at startup.
type Definitions struct {
	Agents    []AgentDef          `yaml:"agents" validate:"unique=ID,dive"`
	Workflows []model.Workflow    `yaml:"workflows"`
	Policies  []model.PatchPolicy `yaml:"policies"`
}

// AgentDef provisions one agent.
type AgentDef struct {
	ID       string          `yaml:"id" validate:"required"`
	Type     model.AgentType `yaml:"type" validate:"required,oneof=patch-management alert-management routine-tasks"`
	Name     string          `yaml:"name"`
	Executor ExecutorDef     `yaml:"executor"`
}

// ExecutorDef selects and configures the agent's executor.
type ExecutorDef struct {
	Kind    string        `yaml:"kind" validate:"omitempty,oneof=webhook manual simulated"`
	URL     string        `yaml:"url" validate:"required_if=Kind webhook"`
	Token   string        `yaml:"token"`
	Ops     []string      `yaml:"ops"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	Latency time.Duration `yaml:"latency" validate:"gte=0"`
}

// LoadDefinitions reads a definitions file. ${VAR} references are expanded
// from the environment before parsing so secrets can stay out of the file.
func LoadDefinitions(path string) (Definitions, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("config: read definitions: %w", err)
	}
	return ParseDefinitions(raw)
}

// ParseDefinitions decodes and validates a definitions document. Unknown
// keys are rejected.
func ParseDefinitions(raw []byte) (Definitions, error) {
	var defs Definitions
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(raw)))))
	dec.KnownFields(true)
	if err := dec.Decode(&defs); err != nil && !errors.Is(err, io.EOF) {
		return Definitions{}, fmt.Errorf("config: parse definitions: %w", err)
	}
	if err := defs.Validate(); err != nil {
		return Definitions{}, err
	}
	return defs, nil
}

// Validate checks agent definitions and id uniqueness. Workflow graphs are
// validated when they are compiled.
func (d Definitions) Validate() error {
	if err := validator.New().Struct(d); err != nil {
		return fmt.Errorf("config: invalid definitions: %w", err)
	}
	seen := make(map[string]bool, len(d.Workflows))
	for i, w := range d.Workflows {
		if w.ID == "" {
			return fmt.Errorf("config: workflows[%d]: id is required", i)
		}
		if seen[w.ID] {
			return fmt.Errorf("config: workflows[%d]: duplicate id %q", i, w.ID)
		}
		seen[w.ID] = true
	}
	clear(seen)
	for i, p := range d.Policies {
		if p.ID == "" {
			return fmt.Errorf("config: policies[%d]: id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("config: policies[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}
