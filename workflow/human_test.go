package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/dagflow/types"
)

// approvalWorkflow builds prepare -> approve (human) -> finalize.
func approvalWorkflow(t *testing.T, opts ...Option) (*Workflow, *atomic.Int32) {
	t.Helper()
	var finalizeCalls atomic.Int32
	w := newTestWorkflow(t, "approval", opts...)
	mustAdd(t, w, constStep("prepare", "draft"), EdgeConfig{})
	mustAdd(t, w, HumanStep("approve"), EdgeConfig{
		After: []string{"prepare"},
		Type:  StepTypeHuman,
		Prompt: func(s *State) string {
			v, _ := Lookup[string](s, "prepare")
			return fmt.Sprintf("Publish %s?", v)
		},
		Metadata: map[string]any{"team": "docs"},
	})
	mustAdd(t, w, NewFuncStep("finalize", func(_ context.Context, in *StepInput) (any, error) {
		finalizeCalls.Add(1)
		return "published", nil
	}), EdgeConfig{After: []string{"approve"}, When: Approved("approve")})
	return w, &finalizeCalls
}

func TestHumanGate_PauseAndApprove(t *testing.T) {
	t.Parallel()
	store := NewInMemoryCheckpointStore()
	w, finalizeCalls := approvalWorkflow(t, WithCheckpointStore(store))

	first := w.Execute(context.Background(), nil)

	require.Equal(t, RunPending, first.Status)
	require.NoError(t, first.Error)
	require.NotNil(t, first.Pending)
	assert.Equal(t, "approve", first.Pending.StepName)
	assert.Equal(t, first.RunID, first.Pending.RunID)
	assert.Equal(t, "Publish draft?", first.Pending.Prompt)
	assert.Equal(t, "docs", first.Pending.Metadata["team"])
	assert.NotEmpty(t, first.Pending.RequestID)
	assert.Nil(t, first.Pending.ExpiresAt)
	assert.Equal(t, StepWaiting, first.Steps["approve"])
	assert.Equal(t, int32(0), finalizeCalls.Load())
	assert.NotContains(t, first.State, "approve")

	cps, err := store.List(context.Background(), "approval")
	require.NoError(t, err)
	require.Len(t, cps, 1)

	second := w.Resume(context.Background(), first.RunID, HumanInputResponse{
		RequestID: first.Pending.RequestID,
		Approved:  true,
		Comment:   "lgtm",
	})

	require.NoError(t, second.Error)
	assert.Equal(t, RunCompleted, second.Status)
	assert.Equal(t, first.RunID, second.RunID)
	assert.Equal(t, "published", second.State["finalize"])
	assert.Equal(t, "draft", second.State["prepare"])
	resp, ok := second.State["approve"].(HumanInputResponse)
	require.True(t, ok)
	assert.Equal(t, "lgtm", resp.Comment)
	assert.Equal(t, int32(1), finalizeCalls.Load())

	_, err = store.Load(context.Background(), first.RunID)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestHumanGate_RejectSkipsGate(t *testing.T) {
	t.Parallel()
	w, finalizeCalls := approvalWorkflow(t)

	first := w.Execute(context.Background(), nil)
	require.Equal(t, RunPending, first.Status)

	second := w.Resume(context.Background(), first.RunID, HumanInputResponse{
		Approved: false,
		Comment:  "not yet",
		UserID:   "alice",
	})

	require.Equal(t, RunCompleted, second.Status)
	resp, ok := second.State["approve"].(HumanInputResponse)
	require.True(t, ok, "rejection is recorded under the gate name")
	assert.False(t, resp.Approved)
	assert.Equal(t, "not yet", resp.Comment)
	assert.Equal(t, "alice", resp.UserID)
	assert.NotContains(t, second.State, "finalize")
	assert.Equal(t, StepSkipped, second.Steps["approve"])
	assert.Equal(t, StepSkipped, second.Steps["finalize"])
	assert.Equal(t, int32(0), finalizeCalls.Load())
}

func TestHumanGate_RejectedGateStillResolvesDependents(t *testing.T) {
	t.Parallel()
	w := newTestWorkflow(t, "reject-continues")
	mustAdd(t, w, HumanStep("gate"), EdgeConfig{Type: StepTypeHuman})
	mustAdd(t, w, NewFuncStep("after", func(_ context.Context, in *StepInput) (any, error) {
		_, has := in.Deps["gate"]
		return has, nil
	}), After("gate"))

	first := w.Execute(context.Background(), nil)
	require.Equal(t, RunPending, first.Status)

	second := w.Resume(context.Background(), first.RunID, HumanInputResponse{})
	require.Equal(t, RunCompleted, second.Status)
	assert.Equal(t, false, second.State["after"])
}

func TestHumanGate_ResumeUnknownRun(t *testing.T) {
	t.Parallel()
	w, _ := approvalWorkflow(t)

	res := w.Resume(context.Background(), "nope", HumanInputResponse{Approved: true})

	assert.Equal(t, RunFailed, res.Status)
	assert.ErrorIs(t, res.Error, ErrRunNotFound)
	assert.Equal(t, types.ErrRunNotFound, types.GetErrorCode(res.Error))
}

func TestHumanGate_ResumeTwiceFails(t *testing.T) {
	t.Parallel()
	w, finalizeCalls := approvalWorkflow(t)

	first := w.Execute(context.Background(), nil)
	require.Equal(t, RunCompleted, w.Resume(context.Background(), first.RunID, HumanInputResponse{Approved: true}).Status)

	again := w.Resume(context.Background(), first.RunID, HumanInputResponse{Approved: true})
	assert.Equal(t, RunFailed, again.Status)
	assert.ErrorIs(t, again.Error, ErrRunNotFound)
	assert.Equal(t, int32(1), finalizeCalls.Load())
}

func TestHumanGate_ConcurrentResumeAppliesOnce(t *testing.T) {
	t.Parallel()
	w, finalizeCalls := approvalWorkflow(t)
	first := w.Execute(context.Background(), nil)
	require.Equal(t, RunPending, first.Status)

	const callers = 8
	results := make([]*Result, callers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results[i] = w.Resume(context.Background(), first.RunID, HumanInputResponse{Approved: true})
		}()
	}
	close(start)
	wg.Wait()

	completed := 0
	for _, res := range results {
		if res.Status == RunCompleted {
			completed++
			continue
		}
		assert.Equal(t, RunFailed, res.Status)
		assert.ErrorIs(t, res.Error, ErrRunNotFound)
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, int32(1), finalizeCalls.Load())
}

func TestHumanGate_ClaimLostToNewerRequest(t *testing.T) {
	t.Parallel()
	store := NewInMemoryCheckpointStore()
	w, finalizeCalls := approvalWorkflow(t, WithCheckpointStore(store))
	first := w.Execute(context.Background(), nil)
	require.Equal(t, RunPending, first.Status)

	stale := *first.Checkpoint
	newer := *first.Checkpoint
	pending := *first.Pending
	pending.RequestID = "req-newer"
	newer.Pending = &pending
	require.NoError(t, store.Save(context.Background(), &newer))

	res := w.resume(context.Background(), &stale, HumanInputResponse{Approved: true}, true)
	assert.Equal(t, RunFailed, res.Status)
	assert.ErrorIs(t, res.Error, ErrRunNotFound)
	assert.Equal(t, int32(0), finalizeCalls.Load())

	_, err := store.Load(context.Background(), first.RunID)
	assert.NoError(t, err)
}

func TestHumanGate_WrongRequestIDKeepsRunPaused(t *testing.T) {
	t.Parallel()
	w, _ := approvalWorkflow(t)
	first := w.Execute(context.Background(), nil)

	res := w.Resume(context.Background(), first.RunID, HumanInputResponse{RequestID: "other", Approved: true})

	assert.Equal(t, RunPending, res.Status)
	var respErr *ResponseError
	require.ErrorAs(t, res.Error, &respErr)
	assert.ErrorIs(t, res.Error, ErrInvalidResponse)

	ok := w.Resume(context.Background(), first.RunID, HumanInputResponse{RequestID: first.Pending.RequestID, Approved: true})
	assert.Equal(t, RunCompleted, ok.Status)
}

func TestHumanGate_ChoiceOptions(t *testing.T) {
	t.Parallel()
	w := newTestWorkflow(t, "choice")
	mustAdd(t, w, HumanStep("pick"), EdgeConfig{Type: StepTypeHuman, Options: []string{"red", "blue"}})
	mustAdd(t, w, NewFuncStep("paint", func(_ context.Context, in *StepInput) (any, error) {
		resp, _ := Lookup[HumanInputResponse](in.State, "pick")
		return "painted " + resp.SelectedOption, nil
	}), EdgeConfig{After: []string{"pick"}, When: Approved("pick")})

	first := w.Execute(context.Background(), nil)
	require.Equal(t, RunPending, first.Status)
	assert.Equal(t, []string{"red", "blue"}, first.Pending.Options)

	bad := w.Resume(context.Background(), first.RunID, HumanInputResponse{Approved: true, SelectedOption: "green"})
	assert.Equal(t, RunPending, bad.Status)
	assert.ErrorIs(t, bad.Error, ErrInvalidResponse)

	good := w.Resume(context.Background(), first.RunID, HumanInputResponse{Approved: true, SelectedOption: "blue"})
	require.Equal(t, RunCompleted, good.Status)
	assert.Equal(t, "painted blue", good.State["paint"])
}

func TestHumanGate_ExpiredDecisionFails(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	w := newTestWorkflow(t, "expiring", WithClock(clock))
	mustAdd(t, w, HumanStep("sign"), EdgeConfig{Type: StepTypeHuman, Timeout: time.Hour})

	first := w.Execute(context.Background(), nil)
	require.Equal(t, RunPending, first.Status)
	require.NotNil(t, first.Pending.ExpiresAt)
	assert.Equal(t, now.Add(time.Hour), *first.Pending.ExpiresAt)

	now = now.Add(2 * time.Hour)
	res := w.Resume(context.Background(), first.RunID, HumanInputResponse{Approved: true})

	assert.Equal(t, RunFailed, res.Status)
	var timeout *TimeoutError
	require.ErrorAs(t, res.Error, &timeout)
	assert.Equal(t, "sign", timeout.Step)
	assert.Equal(t, StepFailed, res.Steps["sign"])
}

func TestHumanGate_ResumeFromSerializedCheckpoint(t *testing.T) {
	t.Parallel()
	w, _ := approvalWorkflow(t)
	first := w.Execute(context.Background(), nil)
	require.Equal(t, RunPending, first.Status)

	data, err := json.Marshal(first.Checkpoint)
	require.NoError(t, err)

	other, finalizeCalls := approvalWorkflow(t)
	var cp Checkpoint
	require.NoError(t, json.Unmarshal(data, &cp))

	res := other.ResumeFrom(context.Background(), &cp, HumanInputResponse{Approved: true})

	require.NoError(t, res.Error)
	assert.Equal(t, RunCompleted, res.Status)
	assert.Equal(t, "published", res.State["finalize"])
	assert.Equal(t, int32(1), finalizeCalls.Load())
}

func TestHumanGate_ResumeFromRejectsForeignCheckpoint(t *testing.T) {
	t.Parallel()
	w, _ := approvalWorkflow(t)
	first := w.Execute(context.Background(), nil)

	foreign := newTestWorkflow(t, "other")
	mustAdd(t, foreign, HumanStep("approve"), EdgeConfig{Type: StepTypeHuman})

	res := foreign.ResumeFrom(context.Background(), first.Checkpoint, HumanInputResponse{Approved: true})
	assert.Equal(t, RunFailed, res.Status)
	assert.ErrorIs(t, res.Error, ErrValidation)

	res = w.ResumeFrom(context.Background(), nil, HumanInputResponse{})
	assert.ErrorIs(t, res.Error, ErrRunNotFound)
}

func TestHumanGate_BatchFinishesBeforePausing(t *testing.T) {
	t.Parallel()
	w := newTestWorkflow(t, "mixed-batch")

	var workerDone atomic.Bool
	mustAdd(t, w, constStep("start", 1), EdgeConfig{})
	mustAdd(t, w, NewFuncStep("worker", func(context.Context, *StepInput) (any, error) {
		time.Sleep(20 * time.Millisecond)
		workerDone.Store(true)
		return "work", nil
	}), After("start"))
	mustAdd(t, w, HumanStep("gate1"), EdgeConfig{After: []string{"start"}, Type: StepTypeHuman})
	mustAdd(t, w, HumanStep("gate2"), EdgeConfig{After: []string{"start"}, Type: StepTypeHuman})
	mustAdd(t, w, constStep("end", "end"), After("worker", "gate1", "gate2"))

	first := w.Execute(context.Background(), nil)

	require.Equal(t, RunPending, first.Status)
	assert.True(t, workerDone.Load())
	assert.Equal(t, "work", first.State["worker"])
	assert.Equal(t, "gate1", first.Pending.StepName)
	assert.Equal(t, StepNotReady, first.Steps["gate2"])

	second := w.Resume(context.Background(), first.RunID, HumanInputResponse{Approved: true})
	require.Equal(t, RunPending, second.Status)
	assert.Equal(t, "gate2", second.Pending.StepName)
	assert.Equal(t, first.RunID, second.RunID)

	third := w.Resume(context.Background(), first.RunID, HumanInputResponse{Approved: true})
	require.Equal(t, RunCompleted, third.Status)
	assert.Equal(t, "end", third.State["end"])
	assert.Equal(t, "work", third.State["worker"])
}

func TestHumanGate_FailureInBatchBeatsPending(t *testing.T) {
	t.Parallel()
	store := NewInMemoryCheckpointStore()
	w := newTestWorkflow(t, "fail-over-pending", WithCheckpointStore(store))
	mustAdd(t, w, NewFuncStep("broken", func(context.Context, *StepInput) (any, error) {
		return nil, errors.New("broken")
	}), EdgeConfig{})
	mustAdd(t, w, HumanStep("gate"), EdgeConfig{Type: StepTypeHuman})

	res := w.Execute(context.Background(), nil)

	assert.Equal(t, RunFailed, res.Status)
	assert.Nil(t, res.Pending)
	cps, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, cps)
}

type failingStore struct {
	*InMemoryCheckpointStore
}

func (failingStore) Save(context.Context, *Checkpoint) error {
	return errors.New("disk full")
}

func TestHumanGate_CheckpointSaveFailureFailsRun(t *testing.T) {
	t.Parallel()
	w := newTestWorkflow(t, "no-disk", WithCheckpointStore(failingStore{NewInMemoryCheckpointStore()}))
	mustAdd(t, w, HumanStep("gate"), EdgeConfig{Type: StepTypeHuman})

	res := w.Execute(context.Background(), nil)
	assert.Equal(t, RunFailed, res.Status)
	assert.ErrorContains(t, res.Error, "disk full")
}

func TestHumanGate_ListPending(t *testing.T) {
	t.Parallel()
	w, _ := approvalWorkflow(t)
	a := w.Execute(context.Background(), nil)
	b := w.Execute(context.Background(), nil)

	pending, err := w.ListPending(context.Background())
	require.NoError(t, err)
	ids := []string{}
	for _, p := range pending {
		ids = append(ids, p.RunID)
	}
	assert.ElementsMatch(t, []string{a.RunID, b.RunID}, ids)
}

func TestApproved_DecodesRestoredResponse(t *testing.T) {
	t.Parallel()
	s := NewState(map[string]any{
		"typed":    HumanInputResponse{Approved: true},
		"restored": map[string]any{"approved": true},
		"denied":   map[string]any{"approved": false},
	})

	for key, want := range map[string]bool{"typed": true, "restored": true, "denied": false, "absent": false} {
		got, err := Approved(key)(context.Background(), s)
		require.NoError(t, err)
		assert.Equal(t, want, got, key)
	}
}
