package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/BaSui01/dagflow/workflow"

// EdgeConfig describes how a step becomes ready and, for human gates, what
// the approver is shown.
type EdgeConfig struct {
	// After lists the steps this step depends on. They must already be
	// registered.
	After []string
	// When, if set, is evaluated once the step is ready; false skips it.
	When Condition
	// Type is StepTypeNormal when empty.
	Type StepType
	// Prompt renders the approver prompt of a human gate.
	Prompt PromptFunc
	// Timeout bounds a single attempt of a normal step, or the decision
	// window of a human gate.
	Timeout time.Duration
	// Options turns a human gate into a choice; an approving response must
	// select one of them.
	Options []string
	// Metadata is copied into the PendingWorkflow of a human gate.
	Metadata map[string]any
}

// After is a shorthand for an EdgeConfig with only dependencies.
func After(deps ...string) EdgeConfig {
	return EdgeConfig{After: deps}
}

type node struct {
	step Step
	edge EdgeConfig
}

func (n *node) human() bool { return n.edge.Type == StepTypeHuman }

// Workflow is a reusable workflow definition: a graph of steps. Define it
// once, then call Execute for every run. Registration methods are not safe
// for concurrent use; Execute and Resume are.
type Workflow struct {
	name        string
	description string
	graph       *Graph
	nodes       map[string]*node

	logger         *zap.Logger
	checkpoints    CheckpointStore
	histories      *ExecutionHistoryStore
	observers      observers
	breakers       *CircuitBreakerRegistry
	breakerConfig  *CircuitBreakerConfig
	breakerEvents  CircuitBreakerEventHandler
	maxConcurrency int
	tracer         trace.Tracer
	now            func() time.Time
	newID          func() string
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Workflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDescription sets a human readable description.
func WithDescription(desc string) Option {
	return func(w *Workflow) { w.description = desc }
}

// WithCheckpointStore sets where paused runs are kept. Defaults to an
// InMemoryCheckpointStore.
func WithCheckpointStore(store CheckpointStore) Option {
	return func(w *Workflow) {
		if store != nil {
			w.checkpoints = store
		}
	}
}

// WithHistoryStore sets where execution histories are kept.
func WithHistoryStore(store *ExecutionHistoryStore) Option {
	return func(w *Workflow) {
		if store != nil {
			w.histories = store
		}
	}
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(w *Workflow) {
		if o != nil {
			w.observers = append(w.observers, o)
		}
	}
}

// WithCircuitBreaker enables a circuit breaker per step, shared across the
// runs of this workflow.
func WithCircuitBreaker(config CircuitBreakerConfig, onChange CircuitBreakerEventHandler) Option {
	return func(w *Workflow) {
		w.breakerConfig = &config
		w.breakerEvents = onChange
	}
}

// WithMaxConcurrency caps how many steps of one batch run at once. Zero means
// no limit.
func WithMaxConcurrency(n int) Option {
	return func(w *Workflow) {
		if n >= 0 {
			w.maxConcurrency = n
		}
	}
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(w *Workflow) {
		if tp != nil {
			w.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithClock overrides the clock used for timestamps and gate deadlines.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) {
		if now != nil {
			w.now = now
		}
	}
}

// WithIDGenerator overrides run and request id generation.
func WithIDGenerator(newID func() string) Option {
	return func(w *Workflow) {
		if newID != nil {
			w.newID = newID
		}
	}
}

// New creates an empty workflow.
func New(name string, opts ...Option) *Workflow {
	w := &Workflow{
		name:        name,
		graph:       NewGraph(),
		nodes:       make(map[string]*node),
		logger:      zap.NewNop(),
		checkpoints: NewInMemoryCheckpointStore(),
		histories:   NewExecutionHistoryStore(),
		tracer:      otel.Tracer(instrumentationName),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "workflow"), zap.String("workflow", name))
	if w.breakerConfig != nil {
		w.breakers = NewCircuitBreakerRegistry(*w.breakerConfig, w.breakerEvents, w.logger)
	}
	return w
}

// Name returns the workflow name.
func (w *Workflow) Name() string { return w.name }

// Description returns the workflow description.
func (w *Workflow) Description() string { return w.description }

// Graph returns the dependency graph. Callers must not mutate it.
func (w *Workflow) Graph() *Graph { return w.graph }

// Histories returns the execution history store.
func (w *Workflow) Histories() *ExecutionHistoryStore { return w.histories }

// CircuitBreakers returns the breaker registry, or nil when breakers are
// disabled.
func (w *Workflow) CircuitBreakers() *CircuitBreakerRegistry { return w.breakers }

// Step returns the registered step with the given name.
func (w *Workflow) Step(name string) (Step, bool) {
	n, ok := w.nodes[name]
	if !ok {
		return nil, false
	}
	return n.step, true
}

// AddStep registers step with its edge configuration. Dependencies named in
// cfg.After must be registered first.
func (w *Workflow) AddStep(step Step, cfg EdgeConfig) error {
	if step == nil {
		return fmt.Errorf("%w: nil step", ErrValidation)
	}
	name := step.Name()
	if name == "" {
		return fmt.Errorf("%w: step name is empty", ErrValidation)
	}
	if w.graph.Has(name) {
		return &DuplicateNodeError{Node: name}
	}
	for _, dep := range cfg.After {
		if !w.graph.Has(dep) {
			return &UnknownNodeError{Node: dep}
		}
	}

	switch cfg.Type {
	case "":
		cfg.Type = StepTypeNormal
	case StepTypeNormal, StepTypeHuman:
	default:
		return fmt.Errorf("%w: step %q has unknown type %q", ErrValidation, name, cfg.Type)
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("%w: step %q has negative timeout", ErrValidation, name)
	}
	if rp, ok := step.(RetryPolicyProvider); ok {
		if p := rp.RetryPolicy(); p != nil && (p.MaxRetries < 0 || p.Delay < 0) {
			return fmt.Errorf("%w: step %q has a negative retry policy", ErrValidation, name)
		}
	}

	if err := w.graph.AddNode(name); err != nil {
		return err
	}
	for _, dep := range cfg.After {
		if err := w.graph.AddEdge(dep, name); err != nil {
			return err
		}
	}
	w.nodes[name] = &node{step: step, edge: cfg}
	return nil
}

// AddEdge adds a dependency between two registered steps. Unlike AddStep it
// may create cycles; they are reported by Validate and by Execute.
func (w *Workflow) AddEdge(from, to string) error {
	return w.graph.AddEdge(from, to)
}

// Validate checks the graph for cycles.
func (w *Workflow) Validate() error {
	if w.graph.Len() == 0 {
		return fmt.Errorf("%w: workflow %q has no steps", ErrValidation, w.name)
	}
	_, err := w.graph.TopologicalSort()
	return err
}
