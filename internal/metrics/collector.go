// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/dagflow/workflow"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，实现 workflow.Observer
type Collector struct {
	// 运行指标
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec

	// 步骤指标
	stepExecutionsTotal *prometheus.CounterVec
	stepDuration        *prometheus.HistogramVec
	stepRetriesTotal    *prometheus.CounterVec

	// 人工关卡指标
	gatesOpenedTotal   *prometheus.CounterVec
	gateDecisionsTotal *prometheus.CounterVec

	// 检查点存储指标
	checkpointOpsTotal   *prometheus.CounterVec
	checkpointOpDuration *prometheus.HistogramVec

	logger *zap.Logger
}

var _ workflow.Observer = (*Collector)(nil)

// NewCollector 创建指标收集器，指标注册到默认 Registerer
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 运行指标
	c.runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Total number of workflow runs that reached a reportable status",
		},
		[]string{"workflow", "status"},
	)

	c.runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_run_duration_seconds",
			Help:      "Workflow run duration in seconds, per execute or resume call",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"workflow", "status"},
	)

	// 步骤指标
	c.stepExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_executions_total",
			Help:      "Total number of finished steps",
		},
		[]string{"workflow", "step", "status"},
	)

	c.stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step duration in seconds including retries",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"workflow", "step"},
	)

	c.stepRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_retries_total",
			Help:      "Total number of step retries",
		},
		[]string{"workflow", "step"},
	)

	// 人工关卡指标
	c.gatesOpenedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "human_gates_opened_total",
			Help:      "Total number of human gates a run paused at",
		},
		[]string{"workflow", "step"},
	)

	c.gateDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "human_gate_decisions_total",
			Help:      "Total number of human gate decisions",
		},
		[]string{"workflow", "step", "decision"}, // decision: approved, rejected, expired
	)

	// 检查点存储指标
	c.checkpointOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_operations_total",
			Help:      "Total number of checkpoint store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	c.checkpointOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_operation_duration_seconds",
			Help:      "Checkpoint store operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"backend", "operation"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// workflow.Observer
// =============================================================================

// RunFinished 记录一次 Execute/Resume 的结果
func (c *Collector) RunFinished(wf string, status workflow.RunStatus, d time.Duration) {
	c.runsTotal.WithLabelValues(wf, string(status)).Inc()
	c.runDuration.WithLabelValues(wf, string(status)).Observe(d.Seconds())
}

// StepFinished 记录步骤终态
func (c *Collector) StepFinished(wf, step string, status workflow.StepStatus, d time.Duration) {
	c.stepExecutionsTotal.WithLabelValues(wf, step, string(status)).Inc()
	if status != workflow.StepSkipped {
		c.stepDuration.WithLabelValues(wf, step).Observe(d.Seconds())
	}
}

// StepRetried 记录一次重试
func (c *Collector) StepRetried(wf, step string) {
	c.stepRetriesTotal.WithLabelValues(wf, step).Inc()
}

// GateOpened 记录运行在人工关卡处暂停
func (c *Collector) GateOpened(wf, step string) {
	c.gatesOpenedTotal.WithLabelValues(wf, step).Inc()
}

// GateAnswered 记录人工关卡的决定
func (c *Collector) GateAnswered(wf, step, decision string) {
	c.gateDecisionsTotal.WithLabelValues(wf, step, decision).Inc()
}

// =============================================================================
// 检查点存储
// =============================================================================

// RecordCheckpointOperation 记录检查点存储操作
func (c *Collector) RecordCheckpointOperation(backend, operation string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.checkpointOpsTotal.WithLabelValues(backend, operation, status).Inc()
	c.checkpointOpDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// InstrumentCheckpointStore 包装检查点存储，为每次操作记录指标
func (c *Collector) InstrumentCheckpointStore(backend string, store workflow.CheckpointStore) workflow.CheckpointStore {
	return &instrumentedStore{backend: backend, next: store, collector: c}
}

type instrumentedStore struct {
	backend   string
	next      workflow.CheckpointStore
	collector *Collector
}

func (s *instrumentedStore) Save(ctx context.Context, cp *workflow.Checkpoint) error {
	start := time.Now()
	err := s.next.Save(ctx, cp)
	s.collector.RecordCheckpointOperation(s.backend, "save", err, time.Since(start))
	return err
}

func (s *instrumentedStore) Load(ctx context.Context, runID string) (*workflow.Checkpoint, error) {
	start := time.Now()
	cp, err := s.next.Load(ctx, runID)
	s.collector.RecordCheckpointOperation(s.backend, "load", err, time.Since(start))
	return cp, err
}

func (s *instrumentedStore) Claim(ctx context.Context, runID, requestID string) error {
	start := time.Now()
	err := s.next.Claim(ctx, runID, requestID)
	s.collector.RecordCheckpointOperation(s.backend, "claim", err, time.Since(start))
	return err
}

func (s *instrumentedStore) Delete(ctx context.Context, runID string) error {
	start := time.Now()
	err := s.next.Delete(ctx, runID)
	s.collector.RecordCheckpointOperation(s.backend, "delete", err, time.Since(start))
	return err
}

func (s *instrumentedStore) List(ctx context.Context, wf string) ([]*workflow.Checkpoint, error) {
	start := time.Now()
	cps, err := s.next.List(ctx, wf)
	s.collector.RecordCheckpointOperation(s.backend, "list", err, time.Since(start))
	return cps, err
}
