package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Checkpoint is everything needed to resume a run paused at a human gate.
type Checkpoint struct {
	RunID     string                `json:"run_id"`
	Workflow  string                `json:"workflow"`
	State     map[string]any        `json:"state"`
	Steps     map[string]StepStatus `json:"steps"`
	Pending   *PendingWorkflow      `json:"pending"`
	CreatedAt time.Time             `json:"created_at"`
}

// CheckpointStore persists checkpoints of paused runs. Load returns an error
// matching ErrRunNotFound when no checkpoint exists for runID.
//
// Claim removes the checkpoint of runID only if it still waits on requestID,
// atomically with respect to other Claim calls. It returns an error matching
// ErrRunNotFound when there is nothing left to claim.
type CheckpointStore interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Load(ctx context.Context, runID string) (*Checkpoint, error)
	Claim(ctx context.Context, runID, requestID string) error
	Delete(ctx context.Context, runID string) error
	List(ctx context.Context, workflow string) ([]*Checkpoint, error)
}

// InMemoryCheckpointStore keeps checkpoints in process memory.
type InMemoryCheckpointStore struct {
	checkpoints map[string]*Checkpoint
	mu          sync.RWMutex
}

// NewInMemoryCheckpointStore creates an empty in-memory store.
func NewInMemoryCheckpointStore() *InMemoryCheckpointStore {
	return &InMemoryCheckpointStore{
		checkpoints: make(map[string]*Checkpoint),
	}
}

func (s *InMemoryCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp == nil || cp.RunID == "" {
		return fmt.Errorf("%w: checkpoint without run id", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.RunID] = cp
	return nil
}

func (s *InMemoryCheckpointStore) Load(ctx context.Context, runID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[runID]
	if !ok {
		return nil, &RunNotFoundError{RunID: runID}
	}
	return cp, nil
}

func (s *InMemoryCheckpointStore) Claim(ctx context.Context, runID, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[runID]
	if !ok || cp.Pending == nil || cp.Pending.RequestID != requestID {
		return &RunNotFoundError{RunID: runID}
	}
	delete(s.checkpoints, runID)
	return nil
}

func (s *InMemoryCheckpointStore) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, runID)
	return nil
}

// List returns the checkpoints of workflow, oldest first. An empty workflow
// lists all of them.
func (s *InMemoryCheckpointStore) List(ctx context.Context, workflow string) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Checkpoint
	for _, cp := range s.checkpoints {
		if workflow == "" || cp.Workflow == workflow {
			results = append(results, cp)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results, nil
}
