package workflow

import (
	"context"
	"time"
)

// =============================================================================
// Run Streaming
// =============================================================================

// StreamEventType defines the type of run stream event.
type StreamEventType string

const (
	// EventStepStart is emitted before the first attempt of a step.
	EventStepStart StreamEventType = "step_start"
	// EventStepComplete is emitted after a step output is committed.
	EventStepComplete StreamEventType = "step_complete"
	// EventStepSkipped is emitted when a step's condition is false or its
	// gate was rejected.
	EventStepSkipped StreamEventType = "step_skipped"
	// EventStepRetry is emitted before a retry attempt.
	EventStepRetry StreamEventType = "step_retry"
	// EventStepError is emitted when a step fails terminally.
	EventStepError StreamEventType = "step_error"
	// EventRunPaused is emitted when a run pauses at a human gate.
	EventRunPaused StreamEventType = "run_paused"
	// EventRunComplete is emitted when a run completes.
	EventRunComplete StreamEventType = "run_complete"
	// EventRunFailed is emitted when a run fails.
	EventRunFailed StreamEventType = "run_failed"
)

// StreamEvent carries information about a run event.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	RunID     string          `json:"run_id"`
	Workflow  string          `json:"workflow"`
	Step      string          `json:"step,omitempty"`
	Attempt   int             `json:"attempt,omitempty"`
	Data      any             `json:"data,omitempty"`
	Error     error           `json:"-"`
	Timestamp time.Time       `json:"timestamp"`
}

// StreamEmitter receives run stream events. It is called from the goroutine
// that executes the step, so emitters shared across a batch must be safe for
// concurrent use.
type StreamEmitter func(StreamEvent)

type streamEmitterKey struct{}

// WithStreamEmitter stores a StreamEmitter in the context passed to Execute
// or Resume.
func WithStreamEmitter(ctx context.Context, emitter StreamEmitter) context.Context {
	if emitter == nil {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, streamEmitterKey{}, emitter)
}

func streamEmitterFromContext(ctx context.Context) (StreamEmitter, bool) {
	if ctx == nil {
		return nil, false
	}
	emit, ok := ctx.Value(streamEmitterKey{}).(StreamEmitter)
	return emit, ok && emit != nil
}

// =============================================================================
// Observer
// =============================================================================

// Observer receives scheduler measurements. Implementations must be safe for
// concurrent use.
type Observer interface {
	RunFinished(workflow string, status RunStatus, d time.Duration)
	StepFinished(workflow, step string, status StepStatus, d time.Duration)
	StepRetried(workflow, step string)
	GateOpened(workflow, step string)
	GateAnswered(workflow, step string, decision string)
}

type observers []Observer

func (o observers) RunFinished(workflow string, status RunStatus, d time.Duration) {
	for _, ob := range o {
		ob.RunFinished(workflow, status, d)
	}
}

func (o observers) StepFinished(workflow, step string, status StepStatus, d time.Duration) {
	for _, ob := range o {
		ob.StepFinished(workflow, step, status, d)
	}
}

func (o observers) StepRetried(workflow, step string) {
	for _, ob := range o {
		ob.StepRetried(workflow, step)
	}
}

func (o observers) GateOpened(workflow, step string) {
	for _, ob := range o {
		ob.GateOpened(workflow, step)
	}
}

func (o observers) GateAnswered(workflow, step string, decision string) {
	for _, ob := range o {
		ob.GateAnswered(workflow, step, decision)
	}
}
