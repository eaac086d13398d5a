package workflow

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState 熔断器状态
type CircuitState int

const (
	// CircuitClosed 正常放行
	CircuitClosed CircuitState = iota
	// CircuitOpen 拒绝所有尝试
	CircuitOpen
	// CircuitHalfOpen 允许有限次数的探测尝试
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig 熔断器配置
type CircuitBreakerConfig struct {
	// FailureThreshold 连续失败多少次后熔断
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	// RecoveryTimeout 熔断后多久进入半开
	RecoveryTimeout time.Duration `json:"recovery_timeout" yaml:"recovery_timeout"`
	// HalfOpenMaxProbes 半开状态下允许的探测次数
	HalfOpenMaxProbes int `json:"half_open_max_probes" yaml:"half_open_max_probes"`
	// SuccessThreshold 半开状态下连续成功多少次后恢复
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`
}

// DefaultCircuitBreakerConfig 默认熔断器配置
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenMaxProbes: 3,
		SuccessThreshold:  2,
	}
}

// normalized 补齐非正数字段，并保证半开探测次数不少于恢复所需的成功次数
func (c CircuitBreakerConfig) normalized() CircuitBreakerConfig {
	def := DefaultCircuitBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = def.RecoveryTimeout
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	if c.HalfOpenMaxProbes < c.SuccessThreshold {
		c.HalfOpenMaxProbes = c.SuccessThreshold
	}
	return c
}

// CircuitBreakerEvent 熔断器状态变更事件
type CircuitBreakerEvent struct {
	Step      string       `json:"step"`
	OldState  CircuitState `json:"old_state"`
	NewState  CircuitState `json:"new_state"`
	Timestamp time.Time    `json:"timestamp"`
	Reason    string       `json:"reason"`
	Failures  int          `json:"failures"`
}

// CircuitBreakerEventHandler 接收状态变更事件
type CircuitBreakerEventHandler func(event CircuitBreakerEvent)

// CircuitBreaker 单个步骤的熔断器，跨同一 Workflow 的多次运行共享
type CircuitBreaker struct {
	step      string
	config    CircuitBreakerConfig
	state     CircuitState
	failures  int
	successes int
	probes    int
	openedAt  time.Time
	onChange  CircuitBreakerEventHandler
	now       func() time.Time
	logger    *zap.Logger
	mu        sync.Mutex
}

// NewCircuitBreaker 创建熔断器。HalfOpenMaxProbes 小于 SuccessThreshold 时
// 按 SuccessThreshold 处理，否则半开状态永远无法恢复。
func NewCircuitBreaker(step string, config CircuitBreakerConfig, onChange CircuitBreakerEventHandler, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	normalized := config.normalized()
	if normalized != config {
		logger.Warn("circuit breaker config adjusted",
			zap.String("step", step),
			zap.Int("half_open_max_probes", normalized.HalfOpenMaxProbes),
			zap.Int("success_threshold", normalized.SuccessThreshold))
	}
	return &CircuitBreaker{
		step:     step,
		config:   normalized,
		state:    CircuitClosed,
		onChange: onChange,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "circuit_breaker"), zap.String("step", step)),
	}
}

// Allow 检查本次尝试是否放行，拒绝时返回 *CircuitOpenError
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		wait := cb.config.RecoveryTimeout - cb.now().Sub(cb.openedAt)
		if wait > 0 {
			return &CircuitOpenError{
				Step:   cb.step,
				Reason: fmt.Sprintf("%d consecutive failures, retry after %s", cb.failures, wait),
			}
		}
		cb.transitionTo(CircuitHalfOpen, "recovery timeout elapsed")
		cb.probes = 1
		return nil

	case CircuitHalfOpen:
		if cb.probes >= cb.config.HalfOpenMaxProbes {
			return &CircuitOpenError{
				Step:   cb.step,
				Reason: fmt.Sprintf("half-open probe limit %d reached", cb.config.HalfOpenMaxProbes),
			}
		}
		cb.probes++
		return nil

	default:
		return nil
	}
}

// RecordSuccess 记录一次成功尝试
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.failures = 0
			cb.transitionTo(CircuitClosed, fmt.Sprintf("%d successful probes", cb.successes))
		}
	}
}

// RecordFailure 记录一次失败尝试
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.openedAt = cb.now()
			cb.transitionTo(CircuitOpen, fmt.Sprintf("%d consecutive failures", cb.failures))
		}
	case CircuitHalfOpen:
		// 半开状态下任意失败立即重新熔断
		cb.openedAt = cb.now()
		cb.transitionTo(CircuitOpen, "probe failed")
	}
}

// State 返回当前状态
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures 返回连续失败次数
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset 手动恢复为关闭状态
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	if cb.state != CircuitClosed {
		cb.transitionTo(CircuitClosed, "manual reset")
	}
}

// transitionTo 必须在持锁时调用
func (cb *CircuitBreaker) transitionTo(state CircuitState, reason string) {
	old := cb.state
	cb.state = state
	cb.successes = 0
	if state != CircuitHalfOpen {
		cb.probes = 0
	}

	cb.logger.Info("circuit breaker state change",
		zap.String("old_state", old.String()),
		zap.String("new_state", state.String()),
		zap.String("reason", reason),
		zap.Int("failures", cb.failures))

	if cb.onChange != nil {
		event := CircuitBreakerEvent{
			Step:      cb.step,
			OldState:  old,
			NewState:  state,
			Timestamp: cb.now(),
			Reason:    reason,
			Failures:  cb.failures,
		}
		// 异步回调，避免回调中再次访问熔断器时死锁
		go cb.onChange(event)
	}
}

// CircuitBreakerRegistry 按步骤名管理熔断器
type CircuitBreakerRegistry struct {
	breakers map[string]*CircuitBreaker
	config   CircuitBreakerConfig
	onChange CircuitBreakerEventHandler
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewCircuitBreakerRegistry 创建熔断器注册表
func NewCircuitBreakerRegistry(config CircuitBreakerConfig, onChange CircuitBreakerEventHandler, logger *zap.Logger) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
		onChange: onChange,
		logger:   logger,
	}
}

// Get 获取或创建步骤的熔断器
func (r *CircuitBreakerRegistry) Get(step string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[step]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[step]; ok {
		return cb
	}
	cb = NewCircuitBreaker(step, r.config, r.onChange, r.logger)
	r.breakers[step] = cb
	return cb
}

// States 返回所有熔断器的当前状态
func (r *CircuitBreakerRegistry) States() map[string]CircuitState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(map[string]CircuitState, len(r.breakers))
	for step, cb := range r.breakers {
		states[step] = cb.State()
	}
	return states
}

// ResetAll 重置所有熔断器
func (r *CircuitBreakerRegistry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.breakers {
		cb.Reset()
	}
}
