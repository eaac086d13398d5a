package workflow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/dagflow/types"
)

// Sentinel errors. Every concrete error type below matches one of these
// through errors.Is.
var (
	ErrValidation      = errors.New("workflow validation failed")
	ErrStepExecution   = errors.New("step execution failed")
	ErrTimeout         = errors.New("step timed out")
	ErrSchema          = errors.New("step output rejected by schema")
	ErrStepFailed      = errors.New("step failed after retries")
	ErrAborted         = errors.New("workflow aborted")
	ErrCircuitOpen     = errors.New("circuit breaker open")
	ErrInvariant       = errors.New("scheduler invariant violated")
	ErrRunNotFound     = errors.New("run not found")
	ErrInvalidResponse = errors.New("invalid human input response")
)

// DuplicateNodeError is returned when a node name is registered twice.
type DuplicateNodeError struct {
	Node string
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("duplicate node %q", e.Node)
}

func (e *DuplicateNodeError) Is(target error) bool { return target == ErrValidation }

func (e *DuplicateNodeError) ErrorCode() types.ErrorCode { return types.ErrDuplicateNode }

// UnknownNodeError is returned when an edge references an unregistered node.
type UnknownNodeError struct {
	Node string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("unknown node %q", e.Node)
}

func (e *UnknownNodeError) Is(target error) bool { return target == ErrValidation }

func (e *UnknownNodeError) ErrorCode() types.ErrorCode { return types.ErrUnknownNode }

// CycleError reports a dependency cycle. Node is on the cycle; Path lists the
// cycle starting and ending at Node.
type CycleError struct {
	Node string
	Path []string
}

func (e *CycleError) Error() string {
	if len(e.Path) > 0 {
		return fmt.Sprintf("cycle detected at node %q: %s", e.Node, strings.Join(e.Path, " -> "))
	}
	return fmt.Sprintf("cycle detected at node %q", e.Node)
}

func (e *CycleError) Is(target error) bool { return target == ErrValidation }

func (e *CycleError) ErrorCode() types.ErrorCode { return types.ErrCycleDetected }

// ExecutionError wraps an error returned (or a panic raised) by a step body.
type ExecutionError struct {
	Step    string
	Attempt int
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("step %q attempt %d: %v", e.Step, e.Attempt, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) Is(target error) bool { return target == ErrStepExecution }

func (e *ExecutionError) ErrorCode() types.ErrorCode { return types.ErrStepExecution }

// TimeoutError is returned when a single attempt, or a human decision,
// exceeds its deadline.
type TimeoutError struct {
	Step    string
	Attempt int
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("step %q attempt %d exceeded timeout %s", e.Step, e.Attempt, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

func (e *TimeoutError) ErrorCode() types.ErrorCode { return types.ErrStepTimeout }

// SchemaError is returned when a step output fails its output schema.
type SchemaError struct {
	Step string
	Err  error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("step %q output rejected: %v", e.Step, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

func (e *SchemaError) ErrorCode() types.ErrorCode { return types.ErrSchemaValidation }

// CircuitOpenError is returned for an attempt rejected by the step's breaker.
type CircuitOpenError struct {
	Step   string
	Reason string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("step %q: circuit open: %s", e.Step, e.Reason)
}

func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

func (e *CircuitOpenError) ErrorCode() types.ErrorCode { return types.ErrCircuitOpen }

// StepFailedError is the terminal failure of a step. Err is the error of the
// last attempt.
type StepFailedError struct {
	Step     string
	Attempts int
	Err      error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %q failed after %d attempt(s): %v", e.Step, e.Attempts, e.Err)
}

func (e *StepFailedError) Unwrap() error { return e.Err }

func (e *StepFailedError) Is(target error) bool { return target == ErrStepFailed }

func (e *StepFailedError) ErrorCode() types.ErrorCode { return types.ErrStepFailed }

// AbortError is returned when the run's context is cancelled.
type AbortError struct {
	Cause error
}

func (e *AbortError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("workflow aborted: %v", e.Cause)
	}
	return "workflow aborted"
}

func (e *AbortError) Unwrap() error { return e.Cause }

func (e *AbortError) Is(target error) bool { return target == ErrAborted }

func (e *AbortError) ErrorCode() types.ErrorCode { return types.ErrAborted }

// InvariantError is returned when nothing is ready but steps remain
// unresolved.
type InvariantError struct {
	Unresolved []string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("no ready steps but %d unresolved: %s",
		len(e.Unresolved), strings.Join(e.Unresolved, ", "))
}

func (e *InvariantError) Is(target error) bool { return target == ErrInvariant }

func (e *InvariantError) ErrorCode() types.ErrorCode { return types.ErrInternalError }

// RunNotFoundError is returned by Resume when no checkpoint exists for a run.
type RunNotFoundError struct {
	RunID string
}

func (e *RunNotFoundError) Error() string {
	return fmt.Sprintf("no paused run %q", e.RunID)
}

func (e *RunNotFoundError) Is(target error) bool { return target == ErrRunNotFound }

func (e *RunNotFoundError) ErrorCode() types.ErrorCode { return types.ErrRunNotFound }

// ResponseError is returned by Resume when a human response does not fit the
// pending request.
type ResponseError struct {
	RequestID string
	Reason    string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("response to request %q rejected: %s", e.RequestID, e.Reason)
}

func (e *ResponseError) Is(target error) bool { return target == ErrInvalidResponse }

func (e *ResponseError) ErrorCode() types.ErrorCode { return types.ErrInvalidResponse }

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The step fails on the attempt
// that returned it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
