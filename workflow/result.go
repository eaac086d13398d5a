package workflow

import "time"

// RunStatus is the status of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunPending   RunStatus = "pending"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the run can no longer be resumed.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// StepStatus is the status of one step within a run.
type StepStatus string

const (
	StepNotReady  StepStatus = "not_ready"
	StepRunning   StepStatus = "running"
	StepWaiting   StepStatus = "waiting"
	StepCompleted StepStatus = "completed"
	StepSkipped   StepStatus = "skipped"
	StepFailed    StepStatus = "failed"
)

// Result is the outcome of one Execute or Resume call.
type Result struct {
	RunID    string
	Workflow string
	Status   RunStatus
	// State is the run state at the moment the call returned, including
	// partial results of a failed run.
	State map[string]any
	// Error is set when Status is RunFailed.
	Error error
	// Pending and Checkpoint are set when Status is RunPending.
	Pending    *PendingWorkflow
	Checkpoint *Checkpoint
	Steps      map[string]StepStatus
	History    *ExecutionHistory
	Duration   time.Duration
}

// Completed reports whether the run finished successfully.
func (r *Result) Completed() bool { return r.Status == RunCompleted }

// Failed reports whether the run failed.
func (r *Result) Failed() bool { return r.Status == RunFailed }

// Paused reports whether the run waits for a human decision.
func (r *Result) Paused() bool { return r.Status == RunPending }
