// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package checkpoint 提供 workflow.CheckpointStore 的持久化实现，
使暂停在人工关卡处的运行可以跨进程恢复。

# 核心接口与类型

  - RedisStore：JSON 存储于 <prefix>:run:<id>，可设置 TTL，
    按工作流维护以创建时间为分值的有序集合索引
  - GormStore：workflow_checkpoints 表，支持 postgres、mysql、sqlite
  - NewStore：按 config.CheckpointConfig.Backend 构建存储

所有实现的 Load 在检查点不存在时返回匹配 workflow.ErrRunNotFound 的错误。
检查点以 JSON 往返，状态中的值恢复后为 JSON 形态（map、float64 等）。
*/
package checkpoint
