// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
dagflow 是 DAGFlow 的命令行程序，从 YAML/JSON 定义执行 DAG 工作流。

# 概述

run 执行工作流并以 JSON 输出结果；遇到人工决策节点时运行暂停，
检查点写入配置的存储后返回退出码 3。resume 读取检查点，
提交决策并继续执行。pending 列出等待决策的运行，validate
只做解析与校验。

# 配置

通过 --config 指定 YAML 配置文件，并可用 DAGFLOW_ 前缀的环境
变量覆盖，例如 DAGFLOW_CHECKPOINT_BACKEND=redis。跨进程恢复
需要 redis、sqlite、postgres 或 mysql 后端。

# 可观测性

metrics.enabled 为 true 时在 metrics.addr 暴露 /metrics；
telemetry.enabled 为 true 时通过 OTLP gRPC 导出运行与步骤 span。
*/
package main
