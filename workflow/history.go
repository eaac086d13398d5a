package workflow

import (
	"sort"
	"sync"
	"time"
)

// StepExecution records one step of a run.
type StepExecution struct {
	Step      string        `json:"step"`
	Attempts  int           `json:"attempts"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Status    StepStatus    `json:"status"`
	Error     string        `json:"error,omitempty"`
}

// ExecutionHistory records the execution path of a run across Execute and
// any number of Resume calls.
type ExecutionHistory struct {
	RunID     string           `json:"run_id"`
	Workflow  string           `json:"workflow"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	Duration  time.Duration    `json:"duration"`
	Status    RunStatus        `json:"status"`
	Steps     []*StepExecution `json:"steps"`
	Error     string           `json:"error,omitempty"`
	mu        sync.RWMutex
}

// NewExecutionHistory creates a history for a new run.
func NewExecutionHistory(runID, workflow string) *ExecutionHistory {
	return &ExecutionHistory{
		RunID:     runID,
		Workflow:  workflow,
		StartTime: time.Now(),
		Status:    RunRunning,
		Steps:     make([]*StepExecution, 0),
	}
}

// RecordStepStart records that a step started.
func (h *ExecutionHistory) RecordStepStart(step string) *StepExecution {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec := &StepExecution{
		Step:      step,
		StartTime: time.Now(),
		Status:    StepRunning,
	}
	h.Steps = append(h.Steps, rec)
	return rec
}

// RecordStepEnd records the outcome of a started step.
func (h *ExecutionHistory) RecordStepEnd(rec *StepExecution, status StepStatus, attempts int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec.EndTime = time.Now()
	rec.Duration = rec.EndTime.Sub(rec.StartTime)
	rec.Attempts = attempts
	rec.Status = status
	if err != nil {
		rec.Error = err.Error()
	}
}

// RecordStep records a step that resolved without executing, such as a
// skipped step or an answered human gate.
func (h *ExecutionHistory) RecordStep(step string, status StepStatus) {
	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Steps = append(h.Steps, &StepExecution{
		Step:      step,
		StartTime: now,
		EndTime:   now,
		Status:    status,
	})
}

// Finish sets the run status and, for terminal statuses, the end time.
func (h *ExecutionHistory) Finish(status RunStatus, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Status = status
	h.Error = ""
	if err != nil {
		h.Error = err.Error()
	}
	if status.Terminal() {
		h.EndTime = time.Now()
		h.Duration = h.EndTime.Sub(h.StartTime)
	}
}

// GetSteps returns a copy of the step records.
func (h *ExecutionHistory) GetSteps() []*StepExecution {
	h.mu.RLock()
	defer h.mu.RUnlock()

	steps := make([]*StepExecution, len(h.Steps))
	copy(steps, h.Steps)
	return steps
}

// GetStep returns the latest record of step.
func (h *ExecutionHistory) GetStep(step string) *StepExecution {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for i := len(h.Steps) - 1; i >= 0; i-- {
		if h.Steps[i].Step == step {
			return h.Steps[i]
		}
	}
	return nil
}

// GetStatus returns the run status.
func (h *ExecutionHistory) GetStatus() RunStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.Status
}

// ExecutionHistoryStore stores and queries execution histories.
type ExecutionHistoryStore struct {
	histories map[string]*ExecutionHistory
	mu        sync.RWMutex
}

// NewExecutionHistoryStore creates a new execution history store.
func NewExecutionHistoryStore() *ExecutionHistoryStore {
	return &ExecutionHistoryStore{
		histories: make(map[string]*ExecutionHistory),
	}
}

// Save saves an execution history.
func (s *ExecutionHistoryStore) Save(history *ExecutionHistory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[history.RunID] = history
}

// Get retrieves an execution history by run ID.
func (s *ExecutionHistoryStore) Get(runID string) (*ExecutionHistory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.histories[runID]
	return h, ok
}

// ListByWorkflow returns all runs of a workflow, oldest first.
func (s *ExecutionHistoryStore) ListByWorkflow(workflow string) []*ExecutionHistory {
	return s.filter(func(h *ExecutionHistory) bool { return h.Workflow == workflow })
}

// ListByStatus returns runs currently in status, oldest first.
func (s *ExecutionHistoryStore) ListByStatus(status RunStatus) []*ExecutionHistory {
	return s.filter(func(h *ExecutionHistory) bool { return h.GetStatus() == status })
}

// ListByTimeRange returns runs started within [start, end], oldest first.
func (s *ExecutionHistoryStore) ListByTimeRange(start, end time.Time) []*ExecutionHistory {
	return s.filter(func(h *ExecutionHistory) bool {
		return !h.StartTime.Before(start) && !h.StartTime.After(end)
	})
}

func (s *ExecutionHistoryStore) filter(keep func(*ExecutionHistory) bool) []*ExecutionHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*ExecutionHistory
	for _, h := range s.histories {
		if keep(h) {
			result = append(result, h)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})
	return result
}
