// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的工作流调度指标采集能力。

# 概述

Collector 实现 workflow.Observer，通过 workflow.WithObserver 挂到
工作流上即可记录运行、步骤、重试与人工关卡指标。使用 promauto
自动注册，所有指标按 namespace 隔离。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram 向量指标。

# 主要能力

  - 运行指标：运行总数与耗时，按 workflow/status 分组。
  - 步骤指标：终态计数、耗时与重试次数，按 workflow/step 分组。
  - 人工关卡指标：暂停次数与决定（approved/rejected/expired）计数。
  - 检查点指标：InstrumentCheckpointStore 包装任意存储，
    按 backend/operation/status 记录操作次数与耗时。
*/
package metrics
