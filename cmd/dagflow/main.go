// =============================================================================
// DAGFlow 命令行入口
// =============================================================================
// 从 YAML/JSON 工作流定义执行、恢复和校验 DAG 工作流
//
// 使用方法:
//
//	dagflow run -f flow.yaml --input version=1.2.0   # 执行工作流
//	dagflow resume -f flow.yaml --run-id <id> --approve
//	dagflow pending -f flow.yaml                     # 列出等待人工决策的运行
//	dagflow validate -f flow.yaml                    # 校验定义
//	dagflow migrate up --config dagflow.yaml         # 创建 SQL 检查点表
//	dagflow version                                  # 显示版本信息
// =============================================================================
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// 退出码
const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	exitPending = 3
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitUsage
	}

	switch args[0] {
	case "run":
		return runWorkflow(ctx, args[1:], stdout, stderr)
	case "resume":
		return runResume(ctx, args[1:], stdout, stderr)
	case "pending":
		return runPending(ctx, args[1:], stdout, stderr)
	case "validate":
		return runValidate(args[1:], stdout, stderr)
	case "migrate":
		return runMigrate(ctx, args[1:], stdout, stderr)
	case "version":
		printVersion(stdout)
		return exitOK
	case "help", "-h", "--help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return exitUsage
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "DAGFlow %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `DAGFlow - DAG workflow engine

Usage:
  dagflow <command> [options]

Commands:
  run       Execute a workflow definition
  resume    Answer a human gate and continue a paused run
  pending   List runs waiting for a human decision
  validate  Check a workflow definition without running it
  migrate   Manage the SQL checkpoint schema (up, down, version, status)
  version   Show version information
  help      Show this help message

Common options:
  -f <path>          Workflow definition (YAML or JSON)
  --config <path>    Path to configuration file (YAML)

Options for 'run':
  --input k=v        Workflow variable, repeatable

Options for 'resume':
  --run-id <id>      Paused run to resume (required)
  --approve          Approve the gate
  --reject           Reject the gate
  --option <opt>     Selected option
  --value <json>     Decision value, JSON or plain string
  --comment <text>   Free-form comment
  --user <id>        Deciding user
  --request-id <id>  Gate request ID, defaults to the stored one

Exit codes:
  0 completed, 1 failed, 2 usage error, 3 waiting for a human decision

Examples:
  dagflow run -f release.yaml --input version=1.2.0
  dagflow resume -f release.yaml --run-id 7f9c... --approve --option ship
  dagflow migrate up --config /etc/dagflow/config.yaml
  DAGFLOW_CHECKPOINT_BACKEND=redis dagflow pending -f release.yaml`)
}
