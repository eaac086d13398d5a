package dsl

import (
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/dagflow/workflow"
)

// StepFactory builds a step body from a node's config.
type StepFactory func(config map[string]any) (workflow.StepFunc, error)

// StepRegistry maps step kinds to factories. It is safe for concurrent use.
type StepRegistry struct {
	mu        sync.RWMutex
	factories map[string]StepFactory
}

// NewStepRegistry returns a registry preloaded with the built-in kinds.
func NewStepRegistry() *StepRegistry {
	r := &StepRegistry{factories: make(map[string]StepFactory)}
	registerBuiltins(r)
	return r
}

// Register binds kind to factory, replacing any previous binding.
func (r *StepRegistry) Register(kind string, factory StepFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Build looks up kind and invokes its factory.
func (r *StepRegistry) Build(kind string, config map[string]any) (workflow.StepFunc, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown step kind %q", kind)
	}
	fn, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("step kind %q: %w", kind, err)
	}
	return fn, nil
}

// Kinds returns the registered kinds, sorted.
func (r *StepRegistry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
