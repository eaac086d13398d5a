package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/dagflow/types"
)

func newTestBreaker(now *time.Time) *CircuitBreaker {
	cb := NewCircuitBreaker("step", CircuitBreakerConfig{
		FailureThreshold:  2,
		RecoveryTimeout:   time.Minute,
		HalfOpenMaxProbes: 1,
		SuccessThreshold:  1,
	}, nil, zap.NewNop())
	cb.now = func() time.Time { return *now }
	return cb
}

func TestCircuitBreaker_Transitions(t *testing.T) {
	t.Parallel()
	now := time.Unix(0, 0)
	cb := newTestBreaker(&now)

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Allow()
	var open *CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, types.ErrCircuitOpen, types.GetErrorCode(err))

	now = now.Add(time.Minute)
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.Error(t, cb.Allow(), "probe limit reached")

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()
	now := time.Unix(0, 0)
	cb := newTestBreaker(&now)
	cb.RecordFailure()
	cb.RecordFailure()

	now = now.Add(time.Minute)
	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.Error(t, cb.Allow())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreaker_HalfOpenRecoversWhenProbesBelowSuccessThreshold(t *testing.T) {
	t.Parallel()
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker("step", CircuitBreakerConfig{
		FailureThreshold:  1,
		RecoveryTimeout:   time.Millisecond,
		HalfOpenMaxProbes: 1,
		SuccessThreshold:  2,
	}, nil, zap.NewNop())
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())

	now = now.Add(time.Millisecond)
	require.NoError(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, CircuitHalfOpen, cb.State())

	require.NoError(t, cb.Allow(), "a second probe is needed to reach the success threshold")
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreakerConfig_Normalized(t *testing.T) {
	t.Parallel()
	got := CircuitBreakerConfig{HalfOpenMaxProbes: 1, SuccessThreshold: 3}.normalized()
	def := DefaultCircuitBreakerConfig()

	assert.Equal(t, def.FailureThreshold, got.FailureThreshold)
	assert.Equal(t, def.RecoveryTimeout, got.RecoveryTimeout)
	assert.Equal(t, 3, got.SuccessThreshold)
	assert.Equal(t, 3, got.HalfOpenMaxProbes)

	assert.Equal(t, def, def.normalized())
}

func TestCircuitBreakerRegistry(t *testing.T) {
	t.Parallel()
	r := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig(), nil, zap.NewNop())

	a := r.Get("a")
	assert.Same(t, a, r.Get("a"))
	r.Get("b").RecordFailure()

	states := r.States()
	assert.Equal(t, map[string]CircuitState{"a": CircuitClosed, "b": CircuitClosed}, states)
	r.ResetAll()
	assert.Equal(t, 0, r.Get("b").Failures())
}

func TestCircuitBreaker_SharedAcrossRuns(t *testing.T) {
	t.Parallel()
	changes := make(chan CircuitBreakerEvent, 4)
	w := newTestWorkflow(t, "breaker", WithCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:  2,
		RecoveryTimeout:   time.Hour,
		HalfOpenMaxProbes: 1,
		SuccessThreshold:  1,
	}, func(e CircuitBreakerEvent) { changes <- e }))

	var calls atomic.Int32
	mustAdd(t, w, NewFuncStep("remote", func(context.Context, *StepInput) (any, error) {
		calls.Add(1)
		return nil, errors.New("unavailable")
	}, WithRetry(RetryPolicy{MaxRetries: 2})), EdgeConfig{})

	first := w.Execute(context.Background(), nil)
	require.Equal(t, RunFailed, first.Status)
	assert.Equal(t, int32(2), calls.Load(), "third attempt rejected by the open breaker")
	assert.ErrorIs(t, first.Error, ErrCircuitOpen)

	second := w.Execute(context.Background(), nil)
	require.Equal(t, RunFailed, second.Status)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, CircuitOpen, w.CircuitBreakers().Get("remote").State())

	select {
	case e := <-changes:
		assert.Equal(t, "remote", e.Step)
		assert.Equal(t, CircuitOpen, e.NewState)
	case <-time.After(time.Second):
		t.Fatal("no state change event")
	}
}
