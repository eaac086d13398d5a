package dsl

import (
	"time"

	"github.com/BaSui01/dagflow/workflow"
)

// 节点类型
const (
	NodeTypeAction = "action"
	NodeTypeHuman  = "human"
)

// WorkflowDSL 工作流 DSL 顶层结构
type WorkflowDSL struct {
	// Version DSL 版本
	Version string `yaml:"version" json:"version"`
	// Name 工作流名称
	Name string `yaml:"name" json:"name"`
	// Description 工作流描述
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Variables 输入变量定义，作为运行的初始状态
	Variables map[string]VariableDef `yaml:"variables,omitempty" json:"variables,omitempty"`

	// Steps 可复用的步骤模板
	Steps map[string]StepDef `yaml:"steps,omitempty" json:"steps,omitempty"`

	// Workflow 工作流节点定义
	Workflow WorkflowNodesDef `yaml:"workflow" json:"workflow"`

	// Metadata 元数据
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// VariableDef 变量定义
type VariableDef struct {
	Type        string `yaml:"type" json:"type"`                                   // string, int, float, bool, list, map
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`         // 默认值
	Description string `yaml:"description,omitempty" json:"description,omitempty"` // 描述
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`       // 是否必填
}

// StepDef 步骤模板
type StepDef struct {
	Kind         string                `yaml:"kind" json:"kind"` // 注册表中的步骤种类
	Config       map[string]any        `yaml:"config,omitempty" json:"config,omitempty"`
	Retry        *workflow.RetryPolicy `yaml:"retry,omitempty" json:"retry,omitempty"`
	OutputSchema *OutputSchemaDef      `yaml:"output_schema,omitempty" json:"output_schema,omitempty"`
}

// WorkflowNodesDef 工作流节点定义，节点按声明顺序注册
type WorkflowNodesDef struct {
	Nodes []NodeDef `yaml:"nodes" json:"nodes"`
}

// NodeDef 节点定义
type NodeDef struct {
	ID   string `yaml:"id" json:"id"`
	Type string `yaml:"type,omitempty" json:"type,omitempty"` // action（默认）, human

	// Step 引用 steps 中的模板；Kind/Config 为内联定义，覆盖模板
	Step   string         `yaml:"step,omitempty" json:"step,omitempty"`
	Kind   string         `yaml:"kind,omitempty" json:"kind,omitempty"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`

	After   []string      `yaml:"after,omitempty" json:"after,omitempty"`
	When    string        `yaml:"when,omitempty" json:"when,omitempty"` // 条件表达式
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// 人工节点
	Prompt  string   `yaml:"prompt,omitempty" json:"prompt,omitempty"` // 支持 ${path} 插值
	Options []string `yaml:"options,omitempty" json:"options,omitempty"`

	Retry        *workflow.RetryPolicy `yaml:"retry,omitempty" json:"retry,omitempty"`
	OutputSchema *OutputSchemaDef      `yaml:"output_schema,omitempty" json:"output_schema,omitempty"`
	Metadata     map[string]any        `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// nodeType 返回规范化后的节点类型
func (n *NodeDef) nodeType() string {
	if n.Type == "" {
		return NodeTypeAction
	}
	return n.Type
}

// OutputSchemaDef 步骤输出的结构约束
type OutputSchemaDef struct {
	Type     string   `yaml:"type,omitempty" json:"type,omitempty"` // object, array, string, number, bool
	Required []string `yaml:"required,omitempty" json:"required,omitempty"`
}
