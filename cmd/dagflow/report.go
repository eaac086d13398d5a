package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/BaSui01/dagflow/workflow"
)

// runReport 是 run/resume 输出到 stdout 的 JSON 结构
type runReport struct {
	RunID      string                         `json:"run_id"`
	Workflow   string                         `json:"workflow"`
	Status     workflow.RunStatus             `json:"status"`
	State      map[string]any                 `json:"state,omitempty"`
	Steps      map[string]workflow.StepStatus `json:"steps,omitempty"`
	Pending    *workflow.PendingWorkflow      `json:"pending,omitempty"`
	Error      string                         `json:"error,omitempty"`
	DurationMS int64                          `json:"duration_ms"`
}

func newRunReport(result *workflow.Result) runReport {
	r := runReport{
		RunID:      result.RunID,
		Workflow:   result.Workflow,
		Status:     result.Status,
		State:      result.State,
		Steps:      result.Steps,
		Pending:    result.Pending,
		DurationMS: result.Duration.Milliseconds(),
	}
	if result.Error != nil {
		r.Error = result.Error.Error()
	}
	return r
}

// report 输出运行结果并返回对应的退出码
func report(stdout, stderr io.Writer, result *workflow.Result) int {
	if err := writeJSON(stdout, newRunReport(result)); err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailed
	}
	switch result.Status {
	case workflow.RunCompleted:
		return exitOK
	case workflow.RunPending:
		return exitPending
	default:
		if result.Error != nil {
			fmt.Fprintln(stderr, result.Error)
		}
		return exitFailed
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// parseValue 将 JSON 文本解码为值，非法 JSON 按普通字符串处理
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}
