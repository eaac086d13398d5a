package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/dagflow/types"
)

// runStep runs one step through its retry policy. It never touches the
// run's step statuses; the scheduler commits the outcome after the batch.
func (r *run) runStep(ctx context.Context, name string, deps map[string]any) stepOutcome {
	n := r.wf.nodes[name]
	var policy *RetryPolicy
	if rp, ok := n.step.(RetryPolicyProvider); ok {
		policy = rp.RetryPolicy()
	}
	maxAttempts := policy.Attempts()
	logger := r.logger.With(zap.String("step", name))

	rec := r.history.RecordStepStart(name)
	r.event(EventStepStart, name, 0, nil, nil)
	start := time.Now()

	var (
		lastErr  error
		attempts int
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := policy.Backoff(attempt - 1)
			logger.Warn("retrying step",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			r.wf.observers.StepRetried(r.wf.name, name)
			r.event(EventStepRetry, name, attempt, delay, lastErr)
			if err := sleep(ctx, delay); err != nil {
				lastErr = &AbortError{Cause: err}
				break
			}
		}

		attempts++
		logger.Debug("step attempt", zap.Int("attempt", attempt))
		out, err := r.attempt(ctx, n, &StepInput{
			RunID:   r.id,
			Attempt: attempt,
			Deps:    deps,
			State:   r.state,
		})
		if err == nil {
			d := time.Since(start)
			r.history.RecordStepEnd(rec, StepCompleted, attempts, nil)
			r.wf.observers.StepFinished(r.wf.name, name, StepCompleted, d)
			r.event(EventStepComplete, name, attempt, out, nil)
			logger.Debug("step completed", zap.Int("attempts", attempts), zap.Duration("duration", d))
			return stepOutcome{name: name, output: out}
		}

		lastErr = err
		if IsPermanent(err) || ctx.Err() != nil {
			break
		}
	}

	failErr := &StepFailedError{Step: name, Attempts: attempts, Err: lastErr}
	r.history.RecordStepEnd(rec, StepFailed, attempts, lastErr)
	r.wf.observers.StepFinished(r.wf.name, name, StepFailed, time.Since(start))
	r.event(EventStepError, name, attempts-1, nil, failErr)
	logger.Error("step failed",
		zap.Int("attempts", attempts),
		zap.String("error_code", string(types.GetErrorCode(lastErr))),
		zap.Error(lastErr))
	return stepOutcome{name: name, err: failErr}
}

// attempt makes a single invocation: circuit breaker check, per-attempt
// timeout, panic recovery and output schema validation.
func (r *run) attempt(ctx context.Context, n *node, in *StepInput) (any, error) {
	name := n.step.Name()

	var cb *CircuitBreaker
	if r.wf.breakers != nil {
		cb = r.wf.breakers.Get(name)
		if err := cb.Allow(); err != nil {
			return nil, err
		}
	}

	ctx, span := r.wf.tracer.Start(ctx, "workflow.step", trace.WithAttributes(
		attribute.String("workflow.step", name),
		attribute.Int("workflow.attempt", in.Attempt),
	))
	defer span.End()
	ctx = types.WithAttempt(types.WithStepName(ctx, name), in.Attempt)

	out, err := invoke(ctx, n, in)
	if err == nil {
		if sp, ok := n.step.(SchemaProvider); ok && sp.OutputSchema() != nil {
			if verr := sp.OutputSchema().Validate(out); verr != nil {
				err = &SchemaError{Step: name, Err: verr}
			}
		}
	}

	if cb != nil {
		if err != nil {
			cb.RecordFailure()
		} else {
			cb.RecordSuccess()
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

// invoke calls the step body, bounded by the edge timeout when one is set.
func invoke(ctx context.Context, n *node, in *StepInput) (any, error) {
	timeout := n.edge.Timeout
	if timeout <= 0 {
		return call(ctx, n.step, in)
	}

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out any
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := call(actx, n.step, in)
		done <- result{out: out, err: err}
	}()

	timedOut := &TimeoutError{Step: n.step.Name(), Attempt: in.Attempt, Timeout: timeout}
	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, timedOut
		}
		return res.out, res.err
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, timedOut
	}
}

// call runs the step body and converts errors and panics to
// *ExecutionError.
func call(ctx context.Context, step Step, in *StepInput) (out any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = &ExecutionError{Step: step.Name(), Attempt: in.Attempt, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	out, err = step.Execute(ctx, in)
	if err != nil {
		return nil, &ExecutionError{Step: step.Name(), Attempt: in.Attempt, Err: err}
	}
	return out, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
