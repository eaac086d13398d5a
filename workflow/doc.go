// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供基于 DAG 的工作流执行引擎。

# 概述

workflow 包负责对有依赖关系的步骤进行编排：按依赖顺序分批调度、
同批步骤并发执行、失败按策略重试、按条件跳过，并可在人工审批节点
（Human Gate）处暂停，待人工答复后通过 Resume 继续执行。
引擎不关心步骤具体做什么，只负责排序、重试与挂起。

# 核心接口与类型

  - Graph              — 依赖图：AddNode / AddEdge / Ready / TopologicalSort（迭代三色 DFS 环检测）
  - Step / FuncStep    — 步骤接口与函数步骤，可选 RetryPolicy 与输出 Schema
  - EdgeConfig         — 依赖、When 条件、步骤类型（normal / human）、Prompt、Timeout
  - State              — 单次运行的共享状态，键为步骤名，由调度器写入
  - Workflow / Builder — 工作流定义与 Fluent 构建器，定义一次、多次运行
  - Result             — 运行结果：completed / failed / pending
  - PendingWorkflow    — 在人工节点暂停时返回的可序列化描述
  - Checkpoint         — 恢复运行所需的状态快照，存于 CheckpointStore

# 主要能力

  - 批量同步调度：每批就绪步骤通过 errgroup 并发执行，全部结束后再计算下一批
  - 重试：Delay * BackoffMultiplier^attempt，支持 MaxDelay 与 Permanent 错误
  - 单次尝试超时（TimeoutError）、panic 恢复（ExecutionError）
  - 取消：每批开始前检查 context，取消优先于其他所有结果（AbortError）
  - 人工审批：Options 选项校验、决策时限、RequestID 校验、拒绝即跳过
  - 熔断器：CircuitBreaker + CircuitBreakerRegistry，按步骤跨运行共享
  - 观测：zap 日志、OpenTelemetry span、Observer 指标回调、StreamEmitter 事件流
  - 执行历史：ExecutionHistory + ExecutionHistoryStore
  - 结构导出：Describe 生成 Definition，支持 JSON / YAML
*/
package workflow
