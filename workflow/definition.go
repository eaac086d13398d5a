package workflow

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Definition is a serializable description of a workflow's structure. Step
// bodies and conditions are not serializable and appear only as flags.
type Definition struct {
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []StepDefinition `json:"steps" yaml:"steps"`
	Order       []string         `json:"order,omitempty" yaml:"order,omitempty"`
}

// StepDefinition describes one step.
type StepDefinition struct {
	Name        string         `json:"name" yaml:"name"`
	Type        StepType       `json:"type" yaml:"type"`
	After       []string       `json:"after,omitempty" yaml:"after,omitempty"`
	Conditional bool           `json:"conditional,omitempty" yaml:"conditional,omitempty"`
	Timeout     string         `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Options     []string       `json:"options,omitempty" yaml:"options,omitempty"`
	Retry       *RetryPolicy   `json:"retry,omitempty" yaml:"retry,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Describe exports the workflow structure. Order is empty when the graph has
// a cycle.
func (w *Workflow) Describe() *Definition {
	def := &Definition{
		Name:        w.name,
		Description: w.description,
		Steps:       make([]StepDefinition, 0, w.graph.Len()),
	}
	for _, name := range w.graph.Nodes() {
		n := w.nodes[name]
		sd := StepDefinition{
			Name:        name,
			Type:        n.edge.Type,
			After:       w.graph.Dependencies(name),
			Conditional: n.edge.When != nil,
			Options:     n.edge.Options,
			Metadata:    n.edge.Metadata,
		}
		if n.edge.Timeout > 0 {
			sd.Timeout = n.edge.Timeout.String()
		}
		if rp, ok := n.step.(RetryPolicyProvider); ok {
			sd.Retry = rp.RetryPolicy()
		}
		def.Steps = append(def.Steps, sd)
	}
	if order, err := w.graph.TopologicalSort(); err == nil {
		def.Order = order
	}
	return def
}

// ToJSON renders the definition as indented JSON.
func (d *Definition) ToJSON() (string, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	return string(data), nil
}

// ToYAML renders the definition as YAML.
func (d *Definition) ToYAML() (string, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal to YAML: %w", err)
	}
	return string(data), nil
}
