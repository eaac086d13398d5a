package workflow

import (
	"context"
	"fmt"
	"math"
	"time"
)

// StepInput is what a step body receives on each attempt.
type StepInput struct {
	// RunID identifies the run the attempt belongs to.
	RunID string
	// Attempt is zero for the first invocation and grows by one per retry.
	Attempt int
	// Deps holds the outputs of the step's completed direct dependencies.
	// Skipped dependencies are absent.
	Deps map[string]any
	// State is the run's shared state. Steps may read any key; the
	// scheduler writes the step's own key after it succeeds.
	State *State
}

// Step is a named unit of work.
type Step interface {
	Name() string
	Execute(ctx context.Context, in *StepInput) (any, error)
}

// RetryPolicyProvider is implemented by steps that carry a retry policy.
type RetryPolicyProvider interface {
	RetryPolicy() *RetryPolicy
}

// SchemaProvider is implemented by steps whose output is validated before it
// is committed to state.
type SchemaProvider interface {
	OutputSchema() Schema
}

// Schema validates a step output.
type Schema interface {
	Validate(output any) error
}

// SchemaFunc adapts a function to Schema.
type SchemaFunc func(output any) error

// Validate implements Schema.
func (f SchemaFunc) Validate(output any) error { return f(output) }

// ============================================================
// RetryPolicy
// ============================================================

// RetryPolicy governs re-invocation of a failing step. Retries re-run only
// the step itself, never its dependencies.
type RetryPolicy struct {
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
	// Delay is the wait before the first retry.
	Delay time.Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
	// BackoffMultiplier scales Delay per attempt. Values <= 0 mean 1.
	BackoffMultiplier float64 `json:"backoff_multiplier,omitempty" yaml:"backoff_multiplier,omitempty"`
	// MaxDelay caps the computed delay when positive.
	MaxDelay time.Duration `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
}

// Backoff returns the wait after the given failed attempt:
// Delay * BackoffMultiplier^attempt, capped by MaxDelay.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if p == nil || p.Delay <= 0 {
		return 0
	}
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	d := float64(p.Delay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Attempts returns the total number of invocations the policy allows.
func (p *RetryPolicy) Attempts() int {
	if p == nil || p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// ============================================================
// FuncStep
// ============================================================

// StepFunc is the body of a FuncStep.
type StepFunc func(ctx context.Context, in *StepInput) (any, error)

// FuncStep is a Step built from a function.
type FuncStep struct {
	name   string
	fn     StepFunc
	retry  *RetryPolicy
	schema Schema
}

// StepOption configures a FuncStep.
type StepOption func(*FuncStep)

// WithRetry attaches a retry policy.
func WithRetry(policy RetryPolicy) StepOption {
	return func(s *FuncStep) {
		p := policy
		s.retry = &p
	}
}

// WithOutputSchema attaches an output schema.
func WithOutputSchema(schema Schema) StepOption {
	return func(s *FuncStep) {
		s.schema = schema
	}
}

// NewFuncStep creates a step from fn.
func NewFuncStep(name string, fn StepFunc, opts ...StepOption) *FuncStep {
	s := &FuncStep{name: name, fn: fn}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FuncStep) Name() string { return s.name }

func (s *FuncStep) Execute(ctx context.Context, in *StepInput) (any, error) {
	return s.fn(ctx, in)
}

func (s *FuncStep) RetryPolicy() *RetryPolicy { return s.retry }

func (s *FuncStep) OutputSchema() Schema { return s.schema }

// ============================================================
// Human gate
// ============================================================

type humanStep struct {
	name string
}

// HumanStep returns a placeholder step for a human gate. The scheduler never
// invokes a gate's body; the gate's value is the HumanInputResponse passed to
// Resume.
func HumanStep(name string) Step {
	return &humanStep{name: name}
}

func (s *humanStep) Name() string { return s.name }

func (s *humanStep) Execute(context.Context, *StepInput) (any, error) {
	return nil, Permanent(fmt.Errorf("human gate %q registered as a normal step", s.name))
}
