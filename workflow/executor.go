package workflow

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/dagflow/types"
)

// run is the scheduler state of one Execute or Resume call.
type run struct {
	wf       *Workflow
	id       string
	state    *State
	statuses map[string]StepStatus
	history  *ExecutionHistory
	logger   *zap.Logger
	emit     StreamEmitter
	span     trace.Span
	started  time.Time
	resumed  bool
}

type stepOutcome struct {
	name   string
	output any
	err    error
}

// Execute starts a new run seeded with initial. It validates the graph
// first; an invalid graph fails the run before any step executes.
//
// Step failures, cancellation and validation errors are reported through
// the returned Result, never as a panic or a separate error.
func (w *Workflow) Execute(ctx context.Context, initial map[string]any) *Result {
	if ctx == nil {
		ctx = context.Background()
	}
	r := w.newRun(w.newID(), NewState(initial), nil)
	ctx = r.start(ctx, "execute")

	if err := w.Validate(); err != nil {
		return r.fail(ctx, err)
	}
	return r.loop(ctx)
}

// Resume continues a run paused at a human gate, loading its checkpoint
// from the workflow's CheckpointStore. The checkpoint is claimed before any
// step runs: when several callers resume the same run at once, one proceeds
// and the others get a *RunNotFoundError.
func (w *Workflow) Resume(ctx context.Context, runID string, resp HumanInputResponse) *Result {
	if ctx == nil {
		ctx = context.Background()
	}
	cp, err := w.checkpoints.Load(ctx, runID)
	if err != nil {
		if !errors.Is(err, ErrRunNotFound) {
			err = fmt.Errorf("load checkpoint %q: %w", runID, err)
		}
		return &Result{RunID: runID, Workflow: w.name, Status: RunFailed, Error: err}
	}
	return w.resume(ctx, cp, resp, true)
}

// ResumeFrom continues a run from a checkpoint held by the caller.
//
// A response that does not fit the pending request (wrong request id, an
// option that is not offered) leaves the run paused: the Result has status
// RunPending, the unchanged checkpoint and a *ResponseError.
//
// ResumeFrom does not claim the checkpoint from the store; callers that hand
// checkpoints around themselves must not resume the same one twice.
func (w *Workflow) ResumeFrom(ctx context.Context, cp *Checkpoint, resp HumanInputResponse) *Result {
	if ctx == nil {
		ctx = context.Background()
	}
	return w.resume(ctx, cp, resp, false)
}

func (w *Workflow) resume(ctx context.Context, cp *Checkpoint, resp HumanInputResponse, claim bool) *Result {
	if cp == nil || cp.Pending == nil {
		runID := ""
		if cp != nil {
			runID = cp.RunID
		}
		return &Result{RunID: runID, Workflow: w.name, Status: RunFailed, Error: &RunNotFoundError{RunID: runID}}
	}
	gate := cp.Pending.StepName
	if cp.Workflow != w.name {
		return &Result{RunID: cp.RunID, Workflow: w.name, Status: RunFailed,
			Error: fmt.Errorf("%w: checkpoint belongs to workflow %q", ErrValidation, cp.Workflow)}
	}
	if n, ok := w.nodes[gate]; !ok || !n.human() {
		return &Result{RunID: cp.RunID, Workflow: w.name, Status: RunFailed,
			Error: fmt.Errorf("%w: %q is not a human gate of workflow %q", ErrValidation, gate, w.name)}
	}
	if err := resp.validate(cp.Pending); err != nil {
		return &Result{
			RunID:      cp.RunID,
			Workflow:   w.name,
			Status:     RunPending,
			State:      maps.Clone(cp.State),
			Error:      err,
			Pending:    cp.Pending,
			Checkpoint: cp,
			Steps:      maps.Clone(cp.Steps),
		}
	}

	if err := w.Validate(); err != nil {
		return &Result{RunID: cp.RunID, Workflow: w.name, Status: RunFailed, Error: err}
	}
	if claim {
		if err := w.checkpoints.Claim(ctx, cp.RunID, cp.Pending.RequestID); err != nil {
			if !errors.Is(err, ErrRunNotFound) {
				err = fmt.Errorf("claim checkpoint %q: %w", cp.RunID, err)
			}
			return &Result{RunID: cp.RunID, Workflow: w.name, Status: RunFailed, Error: err}
		}
	}

	r := w.newRun(cp.RunID, NewState(cp.State), cp.Steps)
	r.resumed = true
	ctx = r.start(ctx, "resume")

	if cp.Pending.Expired(w.now()) {
		r.statuses[gate] = StepFailed
		r.history.RecordStep(gate, StepFailed)
		w.observers.GateAnswered(w.name, gate, "expired")
		return r.fail(ctx, &TimeoutError{Step: gate, Timeout: w.nodes[gate].edge.Timeout})
	}

	logger := r.logger.With(zap.String("step", gate), zap.String("request_id", cp.Pending.RequestID))
	r.state.set(gate, resp)
	if resp.Approved {
		r.statuses[gate] = StepCompleted
		r.history.RecordStep(gate, StepCompleted)
		w.observers.GateAnswered(w.name, gate, "approved")
		r.event(EventStepComplete, gate, 0, resp, nil)
		logger.Info("human gate approved", zap.String("user_id", resp.UserID))
	} else {
		r.statuses[gate] = StepSkipped
		r.history.RecordStep(gate, StepSkipped)
		w.observers.GateAnswered(w.name, gate, "rejected")
		r.event(EventStepSkipped, gate, 0, resp, nil)
		logger.Info("human gate rejected", zap.String("user_id", resp.UserID))
	}
	return r.loop(ctx)
}

// ListPending returns the paused runs of this workflow.
func (w *Workflow) ListPending(ctx context.Context) ([]*PendingWorkflow, error) {
	cps, err := w.checkpoints.List(ctx, w.name)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	pending := make([]*PendingWorkflow, 0, len(cps))
	for _, cp := range cps {
		if cp.Pending != nil {
			pending = append(pending, cp.Pending)
		}
	}
	return pending, nil
}

func (w *Workflow) newRun(id string, state *State, statuses map[string]StepStatus) *run {
	r := &run{
		wf:       w,
		id:       id,
		state:    state,
		statuses: make(map[string]StepStatus, w.graph.Len()),
		started:  time.Now(),
		logger:   w.logger.With(zap.String("run_id", id)),
	}
	for _, name := range w.graph.Nodes() {
		r.statuses[name] = StepNotReady
	}
	for name, status := range statuses {
		if _, ok := r.statuses[name]; ok {
			r.statuses[name] = status
		}
	}
	if h, ok := w.histories.Get(id); ok {
		r.history = h
	} else {
		r.history = NewExecutionHistory(id, w.name)
		w.histories.Save(r.history)
	}
	return r
}

func (r *run) start(ctx context.Context, op string) context.Context {
	ctx, r.span = r.wf.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.name", r.wf.name),
		attribute.String("workflow.run_id", r.id),
		attribute.String("workflow.operation", op),
	))
	r.emit, _ = streamEmitterFromContext(ctx)
	r.history.Finish(RunRunning, nil)
	r.logger.Info("workflow run started", zap.String("operation", op))
	return types.WithRunID(types.WithWorkflow(ctx, r.wf.name), r.id)
}

// loop is the main scheduling loop: one iteration per batch.
func (r *run) loop(ctx context.Context) *Result {
	for {
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, &AbortError{Cause: err})
		}

		resolved := r.resolved()
		ready := r.wf.graph.Ready(resolved)
		if len(ready) == 0 {
			if len(resolved) < r.wf.graph.Len() {
				return r.fail(ctx, &InvariantError{Unresolved: r.unresolved(resolved)})
			}
			return r.complete(ctx)
		}

		var launch, gates []string
		for _, name := range ready {
			n := r.wf.nodes[name]
			if n.edge.When != nil {
				ok, err := n.edge.When(ctx, r.state)
				if err != nil {
					r.statuses[name] = StepFailed
					r.history.RecordStep(name, StepFailed)
					return r.fail(ctx, &StepFailedError{Step: name, Err: fmt.Errorf("evaluate condition: %w", err)})
				}
				if !ok {
					r.skip(name)
					continue
				}
			}
			if n.human() {
				gates = append(gates, name)
			} else {
				launch = append(launch, name)
			}
		}

		var failure error
		for _, o := range r.runBatch(ctx, launch) {
			if o.err != nil {
				r.statuses[o.name] = StepFailed
				if failure == nil {
					failure = o.err
				}
				continue
			}
			r.state.set(o.name, o.output)
			r.statuses[o.name] = StepCompleted
		}

		if err := ctx.Err(); err != nil {
			return r.fail(ctx, &AbortError{Cause: err})
		}
		if failure != nil {
			return r.fail(ctx, failure)
		}
		if len(gates) > 0 {
			return r.pause(ctx, gates[0])
		}
	}
}

// runBatch launches names concurrently and waits for all of them. Outcomes
// are returned in the order of names.
func (r *run) runBatch(ctx context.Context, names []string) []stepOutcome {
	outcomes := make([]stepOutcome, len(names))
	if len(names) == 0 {
		return outcomes
	}

	inputs := make([]map[string]any, len(names))
	for i, name := range names {
		inputs[i] = r.depsOf(name)
		r.statuses[name] = StepRunning
	}
	r.logger.Debug("launching batch", zap.Strings("steps", names))

	var g errgroup.Group
	if r.wf.maxConcurrency > 0 {
		g.SetLimit(r.wf.maxConcurrency)
	}
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			outcomes[i] = r.runStep(ctx, name, inputs[i])
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (r *run) depsOf(name string) map[string]any {
	deps := make(map[string]any)
	for _, dep := range r.wf.graph.Dependencies(name) {
		if r.statuses[dep] != StepCompleted {
			continue
		}
		if v, ok := r.state.Get(dep); ok {
			deps[dep] = v
		}
	}
	return deps
}

func (r *run) resolved() map[string]bool {
	resolved := make(map[string]bool, len(r.statuses))
	for name, status := range r.statuses {
		if status == StepCompleted || status == StepSkipped {
			resolved[name] = true
		}
	}
	return resolved
}

func (r *run) unresolved(resolved map[string]bool) []string {
	var out []string
	for _, name := range r.wf.graph.Nodes() {
		if !resolved[name] {
			out = append(out, name)
		}
	}
	return out
}

func (r *run) skip(name string) {
	r.statuses[name] = StepSkipped
	r.history.RecordStep(name, StepSkipped)
	r.wf.observers.StepFinished(r.wf.name, name, StepSkipped, 0)
	r.event(EventStepSkipped, name, 0, nil, nil)
	r.logger.Debug("step skipped", zap.String("step", name))
}

// pause checkpoints the run at gate and returns a pending result.
func (r *run) pause(ctx context.Context, gate string) *Result {
	n := r.wf.nodes[gate]
	now := r.wf.now()

	prompt := fmt.Sprintf("Approve step %q?", gate)
	if n.edge.Prompt != nil {
		prompt = n.edge.Prompt(r.state)
	}
	pending := &PendingWorkflow{
		RunID:     r.id,
		Workflow:  r.wf.name,
		RequestID: r.wf.newID(),
		StepName:  gate,
		Prompt:    prompt,
		Options:   slices.Clone(n.edge.Options),
		Metadata:  maps.Clone(n.edge.Metadata),
		CreatedAt: now,
	}
	if n.edge.Timeout > 0 {
		expires := now.Add(n.edge.Timeout)
		pending.ExpiresAt = &expires
	}

	r.statuses[gate] = StepWaiting
	cp := &Checkpoint{
		RunID:     r.id,
		Workflow:  r.wf.name,
		State:     r.state.Snapshot(),
		Steps:     maps.Clone(r.statuses),
		Pending:   pending,
		CreatedAt: now,
	}
	if err := r.wf.checkpoints.Save(ctx, cp); err != nil {
		return r.fail(ctx, fmt.Errorf("save checkpoint: %w", err))
	}

	r.history.RecordStep(gate, StepWaiting)
	r.wf.observers.GateOpened(r.wf.name, gate)
	r.event(EventRunPaused, gate, 0, pending, nil)
	r.logger.Info("workflow run paused",
		zap.String("step", gate),
		zap.String("request_id", pending.RequestID))

	res := r.finish(ctx, RunPending, nil)
	res.Pending = pending
	res.Checkpoint = cp
	return res
}

func (r *run) complete(ctx context.Context) *Result {
	r.event(EventRunComplete, "", 0, nil, nil)
	r.logger.Info("workflow run completed", zap.Duration("duration", time.Since(r.started)))
	return r.finish(ctx, RunCompleted, nil)
}

func (r *run) fail(ctx context.Context, err error) *Result {
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, err.Error())
	r.event(EventRunFailed, "", 0, nil, err)
	r.logger.Error("workflow run failed",
		zap.String("error_code", string(types.GetErrorCode(err))),
		zap.Error(err))
	return r.finish(ctx, RunFailed, err)
}

func (r *run) finish(ctx context.Context, status RunStatus, err error) *Result {
	d := time.Since(r.started)
	r.history.Finish(status, err)
	r.wf.histories.Save(r.history)
	r.wf.observers.RunFinished(r.wf.name, status, d)

	if status.Terminal() && r.resumed {
		if derr := r.wf.checkpoints.Delete(context.WithoutCancel(ctx), r.id); derr != nil {
			r.logger.Warn("failed to delete checkpoint", zap.Error(derr))
		}
	}

	r.span.SetAttributes(attribute.String("workflow.status", string(status)))
	r.span.End()

	return &Result{
		RunID:    r.id,
		Workflow: r.wf.name,
		Status:   status,
		State:    r.state.Snapshot(),
		Error:    err,
		Steps:    maps.Clone(r.statuses),
		History:  r.history,
		Duration: d,
	}
}

func (r *run) event(typ StreamEventType, step string, attempt int, data any, err error) {
	if r.emit == nil {
		return
	}
	r.emit(StreamEvent{
		Type:      typ,
		RunID:     r.id,
		Workflow:  r.wf.name,
		Step:      step,
		Attempt:   attempt,
		Data:      data,
		Error:     err,
		Timestamp: time.Now(),
	})
}
