package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/dagflow/checkpoint"
	"github.com/BaSui01/dagflow/config"
	"github.com/BaSui01/dagflow/internal/metrics"
	"github.com/BaSui01/dagflow/internal/server"
	"github.com/BaSui01/dagflow/internal/telemetry"
	"github.com/BaSui01/dagflow/workflow"
	"github.com/BaSui01/dagflow/workflow/dsl"
)

// =============================================================================
// 🧩 运行时装配
// =============================================================================

// app 持有一次命令执行所需的依赖
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     checkpoint.Store
	providers *telemetry.Providers
	collector *metrics.Collector
	metrics   *server.Manager
}

// newApp 加载配置并按配置初始化日志、遥测、指标与检查点存储
func newApp(ctx context.Context, configPath string) (*app, error) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a := &app{cfg: cfg, logger: initLogger(cfg.Log)}

	a.providers, err = telemetry.Init(cfg.Telemetry, a.logger)
	if err != nil {
		a.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	if cfg.Metrics.Enabled {
		a.collector = metrics.NewCollector(cfg.Metrics.Namespace, a.logger)
		srvCfg := server.DefaultConfig()
		srvCfg.Addr = cfg.Metrics.Addr
		a.metrics = server.NewManager(server.Handler(nil), srvCfg, a.logger)
		if err := a.metrics.Start(); err != nil {
			a.close()
			return nil, err
		}
	}

	a.store, err = checkpoint.NewStore(ctx, cfg.Checkpoint, a.logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	return a, nil
}

// options 返回装配到工作流上的选项
func (a *app) options() []workflow.Option {
	var store workflow.CheckpointStore = a.store
	if a.collector != nil {
		store = a.collector.InstrumentCheckpointStore(a.cfg.Checkpoint.Backend, a.store)
	}

	opts := []workflow.Option{
		workflow.WithLogger(a.logger),
		workflow.WithCheckpointStore(store),
		workflow.WithMaxConcurrency(a.cfg.Engine.MaxConcurrency),
		workflow.WithTracerProvider(a.providers.TracerProvider()),
	}
	if a.collector != nil {
		opts = append(opts, workflow.WithObserver(a.collector))
	}
	if cb := a.cfg.Engine.CircuitBreaker; cb.Enabled {
		opts = append(opts, workflow.WithCircuitBreaker(workflow.CircuitBreakerConfig{
			FailureThreshold:  cb.FailureThreshold,
			RecoveryTimeout:   cb.RecoveryTimeout,
			HalfOpenMaxProbes: cb.HalfOpenMaxProbes,
			SuccessThreshold:  cb.SuccessThreshold,
		}, func(ev workflow.CircuitBreakerEvent) {
			a.logger.Warn("circuit breaker state changed",
				zap.String("step", ev.Step),
				zap.String("from", ev.OldState.String()),
				zap.String("to", ev.NewState.String()),
				zap.String("reason", ev.Reason))
		}))
	}
	return opts
}

// load 解析工作流定义并装配运行时选项
func (a *app) load(path string) (*dsl.Program, error) {
	return dsl.NewParser(nil).ParseFile(path, a.options()...)
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close checkpoint store", zap.Error(err))
		}
	}
	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.logger.Warn("failed to stop metrics server", zap.Error(err))
		}
	}
	if err := a.providers.Shutdown(ctx); err != nil {
		a.logger.Warn("failed to shutdown telemetry", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// =============================================================================
// ▶️ run / resume / pending / validate
// =============================================================================

func runWorkflow(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("run", stderr)
	file := fs.String("f", "", "Workflow definition file")
	configPath := fs.String("config", "", "Path to config file")
	inputs := kvFlag{}
	fs.Var(inputs, "input", "Workflow variable as key=value, repeatable")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *file == "" {
		fmt.Fprintln(stderr, "run: -f is required")
		return exitUsage
	}

	a, err := newApp(ctx, *configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailed
	}
	defer a.close()

	prog, err := a.load(*file)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailed
	}
	vars, err := prog.Inputs(inputs.values())
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	if a.cfg.Checkpoint.Backend == "memory" && hasHumanGate(prog) {
		a.logger.Warn("memory checkpoint backend cannot be resumed from another process")
	}

	result := prog.Workflow.Execute(ctx, vars)
	return report(stdout, stderr, result)
}

func runResume(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("resume", stderr)
	file := fs.String("f", "", "Workflow definition file")
	configPath := fs.String("config", "", "Path to config file")
	runID := fs.String("run-id", "", "Paused run to resume")
	requestID := fs.String("request-id", "", "Gate request ID")
	approve := fs.Bool("approve", false, "Approve the gate")
	reject := fs.Bool("reject", false, "Reject the gate")
	option := fs.String("option", "", "Selected option")
	value := fs.String("value", "", "Decision value, JSON or plain string")
	comment := fs.String("comment", "", "Comment")
	user := fs.String("user", "", "Deciding user")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	switch {
	case *file == "" || *runID == "":
		fmt.Fprintln(stderr, "resume: -f and --run-id are required")
		return exitUsage
	case *approve == *reject:
		fmt.Fprintln(stderr, "resume: exactly one of --approve or --reject is required")
		return exitUsage
	}

	a, err := newApp(ctx, *configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailed
	}
	defer a.close()

	prog, err := a.load(*file)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailed
	}

	if *requestID == "" {
		cp, err := a.store.Load(ctx, *runID)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitFailed
		}
		if cp.Pending != nil {
			*requestID = cp.Pending.RequestID
		}
	}

	resp := workflow.HumanInputResponse{
		RequestID:      *requestID,
		Approved:       *approve,
		SelectedOption: *option,
		Comment:        *comment,
		UserID:         *user,
	}
	if *value != "" {
		resp.Value = parseValue(*value)
	}

	result := prog.Workflow.Resume(ctx, *runID, resp)
	return report(stdout, stderr, result)
}

func runPending(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("pending", stderr)
	file := fs.String("f", "", "Workflow definition file")
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *file == "" {
		fmt.Fprintln(stderr, "pending: -f is required")
		return exitUsage
	}

	a, err := newApp(ctx, *configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailed
	}
	defer a.close()

	prog, err := a.load(*file)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailed
	}
	pending, err := prog.Workflow.ListPending(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailed
	}
	if err := writeJSON(stdout, pending); err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailed
	}
	return exitOK
}

func runValidate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("validate", stderr)
	file := fs.String("f", "", "Workflow definition file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *file == "" {
		fmt.Fprintln(stderr, "validate: -f is required")
		return exitUsage
	}

	prog, err := dsl.NewParser(nil).ParseFile(*file)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailed
	}
	g := prog.Workflow.Graph()
	fmt.Fprintf(stdout, "%s: ok (%d steps)\n", prog.Workflow.Name(), len(g.Nodes()))
	return exitOK
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// kvFlag 收集可重复的 key=value 参数
type kvFlag map[string]string

func (f kvFlag) String() string {
	pairs := make([]string, 0, len(f))
	for k, v := range f {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (f kvFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return errors.New("expected key=value")
	}
	f[k] = v
	return nil
}

func (f kvFlag) values() map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func hasHumanGate(prog *dsl.Program) bool {
	for _, n := range prog.DSL.Workflow.Nodes {
		if n.Type == dsl.NodeTypeHuman {
			return true
		}
	}
	return false
}

// =============================================================================
// 🪵 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
