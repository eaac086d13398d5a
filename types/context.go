package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyRunID    contextKey = "run_id"
	keyWorkflow contextKey = "workflow"
	keyStepName contextKey = "step_name"
	keyAttempt  contextKey = "attempt"
)

// WithRunID adds run ID to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, keyRunID, runID)
}

// RunID extracts run ID from context.
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRunID).(string)
	return v, ok && v != ""
}

// WithWorkflow adds the workflow name to context.
func WithWorkflow(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, keyWorkflow, name)
}

// Workflow extracts the workflow name from context.
func Workflow(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyWorkflow).(string)
	return v, ok && v != ""
}

// WithStepName adds the executing step name to context.
func WithStepName(ctx context.Context, step string) context.Context {
	return context.WithValue(ctx, keyStepName, step)
}

// StepName extracts the executing step name from context.
func StepName(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyStepName).(string)
	return v, ok && v != ""
}

// WithAttempt adds the zero-based attempt number to context.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, keyAttempt, attempt)
}

// Attempt extracts the zero-based attempt number from context.
func Attempt(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(keyAttempt).(int)
	return v, ok
}
