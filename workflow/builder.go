package workflow

import (
	"fmt"

	"go.uber.org/zap"
)

// Builder provides a fluent API for defining a workflow. The first
// registration error is kept and returned by Build; later calls are ignored.
type Builder struct {
	wf  *Workflow
	err error
}

// NewBuilder creates a builder for a workflow named name.
func NewBuilder(name string, opts ...Option) *Builder {
	return &Builder{wf: New(name, opts...)}
}

// Step registers a normal step.
func (b *Builder) Step(step Step, cfg EdgeConfig) *Builder {
	if b.err != nil {
		return b
	}
	if cfg.Type == StepTypeHuman {
		b.err = fmt.Errorf("%w: use Human to register gate %q", ErrValidation, step.Name())
		return b
	}
	b.err = b.wf.AddStep(step, cfg)
	return b
}

// Func registers a FuncStep.
func (b *Builder) Func(name string, fn StepFunc, cfg EdgeConfig, opts ...StepOption) *Builder {
	return b.Step(NewFuncStep(name, fn, opts...), cfg)
}

// Human registers a human gate.
func (b *Builder) Human(name string, cfg EdgeConfig) *Builder {
	if b.err != nil {
		return b
	}
	cfg.Type = StepTypeHuman
	b.err = b.wf.AddStep(HumanStep(name), cfg)
	return b
}

// Edge adds a dependency between two registered steps.
func (b *Builder) Edge(from, to string) *Builder {
	if b.err != nil {
		return b
	}
	b.err = b.wf.AddEdge(from, to)
	return b
}

// Build returns the workflow or the first registration error. Cycles are not
// checked here; see Workflow.Validate.
func (b *Builder) Build() (*Workflow, error) {
	if b.err != nil {
		return nil, fmt.Errorf("build workflow %q: %w", b.wf.name, b.err)
	}
	b.wf.logger.Debug("workflow built", zap.Int("steps", b.wf.graph.Len()))
	return b.wf, nil
}
