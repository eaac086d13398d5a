package dsl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/dagflow/workflow"
)

// registerBuiltins 注册内置步骤种类
func registerBuiltins(r *StepRegistry) {
	r.Register("passthrough", passthroughStep)
	r.Register("echo", echoStep)
	r.Register("template", templateStep)
	r.Register("sleep", sleepStep)
	r.Register("fail", failStep)
}

// passthroughStep 返回依赖输出；单一依赖时直接返回其值
func passthroughStep(map[string]any) (workflow.StepFunc, error) {
	return func(_ context.Context, in *workflow.StepInput) (any, error) {
		if len(in.Deps) == 1 {
			for _, v := range in.Deps {
				return v, nil
			}
		}
		out := make(map[string]any, len(in.Deps))
		for k, v := range in.Deps {
			out[k] = v
		}
		return out, nil
	}, nil
}

// echoStep 返回 config.value，字符串值按运行状态插值
func echoStep(config map[string]any) (workflow.StepFunc, error) {
	value := config["value"]
	return func(_ context.Context, in *workflow.StepInput) (any, error) {
		s, ok := value.(string)
		if !ok {
			return value, nil
		}
		vars, err := normalize(in.State.Snapshot())
		if err != nil {
			return nil, err
		}
		return interpolate(s, vars), nil
	}, nil
}

// templateStep 渲染 config.template
func templateStep(config map[string]any) (workflow.StepFunc, error) {
	tmpl, err := configString(config, "template")
	if err != nil {
		return nil, err
	}
	if tmpl == "" {
		return nil, errors.New("template is required")
	}
	return func(_ context.Context, in *workflow.StepInput) (any, error) {
		vars, err := normalize(in.State.Snapshot())
		if err != nil {
			return nil, err
		}
		return interpolate(tmpl, vars), nil
	}, nil
}

// sleepStep 等待 config.duration，可被取消
func sleepStep(config map[string]any) (workflow.StepFunc, error) {
	raw, err := configString(config, "duration")
	if err != nil {
		return nil, err
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("duration: %w", err)
	}
	return func(ctx context.Context, _ *workflow.StepInput) (any, error) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
			return d.String(), nil
		}
	}, nil
}

// failStep 在前 config.times 次尝试中失败（times <= 0 时始终失败），
// 之后返回 config.value。config.permanent 为 true 时失败不重试。
func failStep(config map[string]any) (workflow.StepFunc, error) {
	times, err := configInt(config, "times")
	if err != nil {
		return nil, err
	}
	message, err := configString(config, "message")
	if err != nil {
		return nil, err
	}
	if message == "" {
		message = "step failed"
	}
	permanent, _ := config["permanent"].(bool)
	value, ok := config["value"]
	if !ok {
		value = "ok"
	}

	return func(_ context.Context, in *workflow.StepInput) (any, error) {
		if times > 0 && in.Attempt >= times {
			return value, nil
		}
		err := fmt.Errorf("%s (attempt %d)", message, in.Attempt)
		if permanent {
			return nil, workflow.Permanent(err)
		}
		return nil, err
	}, nil
}

// ============================================================
// config helpers
// ============================================================

func configString(config map[string]any, key string) (string, error) {
	v, ok := config[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", key, v)
	}
	return s, nil
}

func configInt(config map[string]any, key string) (int, error) {
	v, ok := config[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%s must be an integer, got %v", key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%s must be an integer, got %T", key, v)
	}
}
