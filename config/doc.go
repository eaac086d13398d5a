// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package config 提供 DAGFlow 的配置管理功能。

# 概述

配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加，
环境变量键由前缀与 env 标签拼接，例如 DAGFLOW_CHECKPOINT_BACKEND。

# 核心接口与类型

  - Config：引擎、检查点、日志、遥测与指标配置
  - Loader：Builder 风格的加载器，支持自定义验证器
  - CheckpointConfig.DSN：为 SQL 后端生成连接字符串
*/
package config
