package dsl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/BaSui01/dagflow/workflow"
	"gopkg.in/yaml.v3"
)

// ErrInvalidDSL 标记 DSL 文档本身的错误
var ErrInvalidDSL = errors.New("invalid workflow DSL")

// Parser DSL 解析器
type Parser struct {
	registry *StepRegistry
}

// NewParser 创建 DSL 解析器，registry 为 nil 时使用内置步骤注册表
func NewParser(registry *StepRegistry) *Parser {
	if registry == nil {
		registry = NewStepRegistry()
	}
	return &Parser{registry: registry}
}

// Registry 返回步骤注册表
func (p *Parser) Registry() *StepRegistry { return p.registry }

// Program 解析结果：可执行的工作流与其输入变量定义
type Program struct {
	Workflow *workflow.Workflow
	DSL      *WorkflowDSL
}

// ParseFile 从文件解析 DSL
func (p *Parser) ParseFile(filename string, opts ...workflow.Option) (*Program, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read DSL file: %w", err)
	}
	return p.Parse(data, opts...)
}

// Parse 从 YAML（或 JSON）字节解析 DSL。opts 原样传给 workflow.New。
func (p *Parser) Parse(data []byte, opts ...workflow.Option) (*Program, error) {
	var dsl WorkflowDSL
	if err := yaml.Unmarshal(data, &dsl); err != nil {
		return nil, fmt.Errorf("%w: parse YAML: %v", ErrInvalidDSL, err)
	}
	return p.Build(&dsl, opts...)
}

// Build 验证 DSL 并构建工作流
func (p *Parser) Build(dsl *WorkflowDSL, opts ...workflow.Option) (*Program, error) {
	if errs := NewValidator().Validate(dsl); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		sort.Strings(msgs)
		return nil, fmt.Errorf("%w: %s", ErrInvalidDSL, strings.Join(msgs, "; "))
	}

	if dsl.Description != "" {
		opts = append([]workflow.Option{workflow.WithDescription(dsl.Description)}, opts...)
	}
	wf := workflow.New(dsl.Name, opts...)

	// 先按声明顺序注册全部节点，再连边，节点可以引用后声明的依赖
	for i := range dsl.Workflow.Nodes {
		def := &dsl.Workflow.Nodes[i]
		step, cfg, err := p.buildNode(def, dsl)
		if err != nil {
			return nil, fmt.Errorf("build node %s: %w", def.ID, err)
		}
		if err := wf.AddStep(step, cfg); err != nil {
			return nil, fmt.Errorf("build node %s: %w", def.ID, err)
		}
	}
	for _, def := range dsl.Workflow.Nodes {
		for _, dep := range def.After {
			if err := wf.AddEdge(dep, def.ID); err != nil {
				return nil, fmt.Errorf("build node %s: %w", def.ID, err)
			}
		}
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return &Program{Workflow: wf, DSL: dsl}, nil
}

// buildNode 构建节点的步骤与边配置
func (p *Parser) buildNode(def *NodeDef, dsl *WorkflowDSL) (workflow.Step, workflow.EdgeConfig, error) {
	cfg := workflow.EdgeConfig{
		Timeout:  def.Timeout,
		Options:  def.Options,
		Metadata: def.Metadata,
	}
	if def.When != "" {
		expr, err := Compile(def.When)
		if err != nil {
			return nil, cfg, fmt.Errorf("when: %w", err)
		}
		cfg.When = condition(expr)
	}

	if def.nodeType() == NodeTypeHuman {
		cfg.Type = workflow.StepTypeHuman
		if def.Prompt != "" {
			cfg.Prompt = prompt(def.Prompt)
		}
		return workflow.HumanStep(def.ID), cfg, nil
	}

	kind, config, retry, schema := def.Kind, def.Config, def.Retry, def.OutputSchema
	if def.Step != "" {
		tmpl := dsl.Steps[def.Step]
		if kind == "" {
			kind = tmpl.Kind
		}
		config = mergeConfig(tmpl.Config, config)
		if retry == nil {
			retry = tmpl.Retry
		}
		if schema == nil {
			schema = tmpl.OutputSchema
		}
	}

	fn, err := p.registry.Build(kind, config)
	if err != nil {
		return nil, cfg, err
	}
	var stepOpts []workflow.StepOption
	if retry != nil {
		stepOpts = append(stepOpts, workflow.WithRetry(*retry))
	}
	if schema != nil {
		stepOpts = append(stepOpts, workflow.WithOutputSchema(schema))
	}
	cfg.Type = workflow.StepTypeNormal
	return workflow.NewFuncStep(def.ID, fn, stepOpts...), cfg, nil
}

func mergeConfig(base, override map[string]any) map[string]any {
	if len(base) == 0 {
		return override
	}
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// condition 将编译后的表达式包装为 workflow.Condition
func condition(expr *Expression) workflow.Condition {
	return func(_ context.Context, state *workflow.State) (bool, error) {
		vars, err := normalize(state.Snapshot())
		if err != nil {
			return false, err
		}
		return expr.Eval(vars), nil
	}
}

// prompt 构建审批提示渲染函数
func prompt(template string) workflow.PromptFunc {
	return func(state *workflow.State) string {
		vars, err := normalize(state.Snapshot())
		if err != nil {
			return template
		}
		return interpolate(template, vars)
	}
}

// ============================================================
// OutputSchemaDef
// ============================================================

// Validate 实现 workflow.Schema
func (s *OutputSchemaDef) Validate(output any) error {
	normalized, err := normalize(map[string]any{"v": output})
	if err != nil {
		return err
	}
	v := normalized["v"]

	switch s.Type {
	case "":
	case "object":
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("expected object, got %T", output)
		}
	case "array":
		if _, ok := v.([]any); !ok {
			return fmt.Errorf("expected array, got %T", output)
		}
	case "string":
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string, got %T", output)
		}
	case "number":
		if _, ok := v.(float64); !ok {
			return fmt.Errorf("expected number, got %T", output)
		}
	case "bool":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected bool, got %T", output)
		}
	default:
		return fmt.Errorf("unsupported schema type %q", s.Type)
	}

	if len(s.Required) > 0 {
		obj, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("required fields need an object, got %T", output)
		}
		for _, field := range s.Required {
			if _, ok := obj[field]; !ok {
				return fmt.Errorf("missing required field %q", field)
			}
		}
	}
	return nil
}

// ============================================================
// inputs
// ============================================================

// Inputs 合并变量默认值与调用方提供的值，并检查必填变量。
// 字符串值按变量类型转换，便于命令行传参。
func (prog *Program) Inputs(overrides map[string]any) (map[string]any, error) {
	inputs := make(map[string]any, len(prog.DSL.Variables)+len(overrides))
	for name, def := range prog.DSL.Variables {
		if def.Default != nil {
			inputs[name] = def.Default
		}
	}
	for name, value := range overrides {
		def, declared := prog.DSL.Variables[name]
		if s, ok := value.(string); ok && declared {
			converted, err := coerce(s, def.Type)
			if err != nil {
				return nil, fmt.Errorf("variable %s: %w", name, err)
			}
			value = converted
		}
		inputs[name] = value
	}

	var missing []string
	for name, def := range prog.DSL.Variables {
		if _, ok := inputs[name]; def.Required && !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: missing required variables: %s", workflow.ErrValidation, strings.Join(missing, ", "))
	}
	return inputs, nil
}

func coerce(s, typ string) (any, error) {
	switch typ {
	case "", "string":
		return s, nil
	case "int":
		return strconv.Atoi(s)
	case "float":
		return strconv.ParseFloat(s, 64)
	case "bool":
		return strconv.ParseBool(s)
	case "list":
		var out []any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("expected JSON list: %w", err)
		}
		return out, nil
	case "map":
		var out map[string]any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("expected JSON object: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %q", typ)
	}
}
