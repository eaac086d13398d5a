package dsl

import (
	"fmt"
	"strings"

	"github.com/BaSui01/dagflow/workflow"
)

// Validator DSL 验证器，收集全部问题而不是遇错即停
type Validator struct{}

// NewValidator 创建验证器
func NewValidator() *Validator {
	return &Validator{}
}

var validVariableTypes = map[string]bool{
	"": true, "string": true, "int": true, "float": true, "bool": true, "list": true, "map": true,
}

// Validate 验证 DSL 定义。环检测由工作流构建完成后的 Validate 负责。
func (v *Validator) Validate(dsl *WorkflowDSL) []error {
	var errs []error

	if dsl.Version == "" {
		errs = append(errs, fmt.Errorf("version is required"))
	}
	if dsl.Name == "" {
		errs = append(errs, fmt.Errorf("name is required"))
	}
	if len(dsl.Workflow.Nodes) == 0 {
		errs = append(errs, fmt.Errorf("workflow.nodes must have at least one node"))
	}

	for name, def := range dsl.Variables {
		if !validVariableTypes[def.Type] {
			errs = append(errs, fmt.Errorf("variable %s: invalid type %q", name, def.Type))
		}
	}
	for name, step := range dsl.Steps {
		if step.Kind == "" {
			errs = append(errs, fmt.Errorf("step %s: kind is required", name))
		}
		errs = append(errs, validateRetry("step "+name, step.Retry)...)
	}

	nodeIDs := make(map[string]bool)
	for _, node := range dsl.Workflow.Nodes {
		if node.ID == "" {
			errs = append(errs, fmt.Errorf("node ID is required"))
			continue
		}
		if nodeIDs[node.ID] {
			errs = append(errs, fmt.Errorf("duplicate node ID: %s", node.ID))
		}
		if _, clash := dsl.Variables[node.ID]; clash {
			errs = append(errs, fmt.Errorf("node %s: ID collides with a variable", node.ID))
		}
		nodeIDs[node.ID] = true
	}

	for i := range dsl.Workflow.Nodes {
		errs = append(errs, v.validateNode(&dsl.Workflow.Nodes[i], dsl, nodeIDs)...)
	}
	return errs
}

// validateNode 验证单个节点
func (v *Validator) validateNode(node *NodeDef, dsl *WorkflowDSL, nodeIDs map[string]bool) []error {
	var errs []error
	label := "node " + node.ID

	switch node.nodeType() {
	case NodeTypeAction:
		if node.Step == "" && node.Kind == "" {
			errs = append(errs, fmt.Errorf("%s: action node requires step or kind", label))
		}
		if node.Step != "" {
			if _, ok := dsl.Steps[node.Step]; !ok {
				errs = append(errs, fmt.Errorf("%s: step %q not found in steps", label, node.Step))
			}
		}
		if len(node.Options) > 0 {
			errs = append(errs, fmt.Errorf("%s: options are only valid on human nodes", label))
		}
	case NodeTypeHuman:
		if node.Step != "" || node.Kind != "" {
			errs = append(errs, fmt.Errorf("%s: human node cannot bind a step", label))
		}
		if node.Retry != nil {
			errs = append(errs, fmt.Errorf("%s: human node cannot retry", label))
		}
		seen := make(map[string]bool)
		for _, opt := range node.Options {
			if opt == "" || seen[opt] {
				errs = append(errs, fmt.Errorf("%s: option %q is empty or repeated", label, opt))
			}
			seen[opt] = true
		}
	default:
		errs = append(errs, fmt.Errorf("%s: invalid type %q", label, node.Type))
	}

	if node.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s: timeout must not be negative", label))
	}
	errs = append(errs, validateRetry(label, node.Retry)...)

	for _, dep := range node.After {
		switch {
		case dep == node.ID:
			errs = append(errs, fmt.Errorf("%s: depends on itself", label))
		case !nodeIDs[dep]:
			errs = append(errs, fmt.Errorf("%s: after node %q does not exist", label, dep))
		}
	}

	known := func(root string) bool {
		_, isVar := dsl.Variables[root]
		return nodeIDs[root] || isVar
	}
	if node.When != "" {
		expr, err := Compile(node.When)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: when: %w", label, err))
		} else {
			for _, root := range expr.Roots() {
				if !known(root) {
					errs = append(errs, fmt.Errorf("%s: when references unknown name %q", label, root))
				}
			}
		}
	}
	for _, ref := range extractRefs(node.Prompt) {
		root, _, _ := strings.Cut(ref, ".")
		if !known(root) {
			errs = append(errs, fmt.Errorf("%s: prompt references unknown name %q", label, ref))
		}
	}
	return errs
}

func validateRetry(label string, p *workflow.RetryPolicy) []error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("%s: retry.max_retries must not be negative", label))
	}
	if p.Delay < 0 || p.MaxDelay < 0 {
		errs = append(errs, fmt.Errorf("%s: retry delays must not be negative", label))
	}
	return errs
}
