package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type recordingObserver struct {
	mu      sync.Mutex
	runs    []RunStatus
	steps   map[string]StepStatus
	retries int
	opened  []string
	answers []string
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{steps: make(map[string]StepStatus)}
}

func (o *recordingObserver) RunFinished(_ string, status RunStatus, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs = append(o.runs, status)
}

func (o *recordingObserver) StepFinished(_, step string, status StepStatus, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps[step] = status
}

func (o *recordingObserver) StepRetried(string, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

func (o *recordingObserver) GateOpened(_, step string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, step)
}

func (o *recordingObserver) GateAnswered(_, _ string, decision string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.answers = append(o.answers, decision)
}

func TestStreamEvents(t *testing.T) {
	t.Parallel()
	w := newTestWorkflow(t, "events")

	var calls atomic.Int32
	mustAdd(t, w, NewFuncStep("flaky", func(context.Context, *StepInput) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("once")
		}
		return "ok", nil
	}, WithRetry(RetryPolicy{MaxRetries: 1})), EdgeConfig{})
	mustAdd(t, w, constStep("never", 1), EdgeConfig{
		After: []string{"flaky"},
		When:  func(context.Context, *State) (bool, error) { return false, nil },
	})
	mustAdd(t, w, HumanStep("gate"), EdgeConfig{After: []string{"never"}, Type: StepTypeHuman})

	var mu sync.Mutex
	var events []StreamEventType
	ctx := WithStreamEmitter(context.Background(), func(e StreamEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e.Type)
	})

	first := w.Execute(ctx, nil)
	require.Equal(t, RunPending, first.Status)
	second := w.Resume(ctx, first.RunID, HumanInputResponse{Approved: true})
	require.Equal(t, RunCompleted, second.Status)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []StreamEventType{
		EventStepStart,
		EventStepRetry,
		EventStepComplete,
		EventStepSkipped,
		EventRunPaused,
		EventStepComplete,
		EventRunComplete,
	}, events)
}

func TestStreamEmitter_NilIsIgnored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert.Equal(t, ctx, WithStreamEmitter(ctx, nil))
	_, ok := streamEmitterFromContext(ctx)
	assert.False(t, ok)
}

func TestObserverAndHistory(t *testing.T) {
	t.Parallel()
	obs := newRecordingObserver()
	histories := NewExecutionHistoryStore()
	w := newTestWorkflow(t, "observed", WithObserver(obs), WithHistoryStore(histories))

	var calls atomic.Int32
	mustAdd(t, w, NewFuncStep("work", func(context.Context, *StepInput) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("retry me")
		}
		return "done", nil
	}, WithRetry(RetryPolicy{MaxRetries: 1})), EdgeConfig{})
	mustAdd(t, w, HumanStep("review"), EdgeConfig{After: []string{"work"}, Type: StepTypeHuman})
	mustAdd(t, w, constStep("skipped", 1), EdgeConfig{After: []string{"review"}, When: Approved("review")})

	first := w.Execute(context.Background(), nil)
	require.Equal(t, RunPending, first.Status)
	assert.Equal(t, RunPending, first.History.GetStatus())

	second := w.Resume(context.Background(), first.RunID, HumanInputResponse{Approved: false})
	require.Equal(t, RunCompleted, second.Status)

	obs.mu.Lock()
	assert.Equal(t, []RunStatus{RunPending, RunCompleted}, obs.runs)
	assert.Equal(t, StepCompleted, obs.steps["work"])
	assert.Equal(t, StepSkipped, obs.steps["skipped"])
	assert.Equal(t, 1, obs.retries)
	assert.Equal(t, []string{"review"}, obs.opened)
	assert.Equal(t, []string{"rejected"}, obs.answers)
	obs.mu.Unlock()

	h, ok := histories.Get(first.RunID)
	require.True(t, ok)
	assert.Same(t, h, second.History)
	assert.Equal(t, RunCompleted, h.GetStatus())
	assert.Equal(t, 2, h.GetStep("work").Attempts)
	assert.Equal(t, StepSkipped, h.GetStep("review").Status)
	assert.Equal(t, StepSkipped, h.GetStep("skipped").Status)
	assert.Len(t, histories.ListByWorkflow("observed"), 1)
	assert.Len(t, histories.ListByStatus(RunCompleted), 1)
	assert.Len(t, histories.ListByTimeRange(time.Now().Add(-time.Minute), time.Now()), 1)
	assert.Positive(t, h.Duration)
}

func TestTracingSpans(t *testing.T) {
	t.Parallel()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	w := newTestWorkflow(t, "traced", WithTracerProvider(tp))
	mustAdd(t, w, constStep("a", 1), EdgeConfig{})
	mustAdd(t, w, NewFuncStep("b", func(context.Context, *StepInput) (any, error) {
		return nil, errors.New("bad")
	}), After("a"))

	res := w.Execute(context.Background(), nil)
	require.Equal(t, RunFailed, res.Status)

	spans := recorder.Ended()
	names := make(map[string]int)
	for _, s := range spans {
		names[s.Name()]++
	}
	assert.Equal(t, 1, names["workflow.run"])
	assert.Equal(t, 2, names["workflow.step"])

	for _, s := range spans {
		if s.Name() == "workflow.run" {
			assert.Equal(t, "Error", s.Status().Code.String())
		}
	}
}
