// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 dagflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、checkpoint、
cmd 等上层模块提供统一的错误码与 Context 传播约定。

# 核心接口与类型

  - ErrorCode / Error — 结构化错误（Code、Message、Retryable、Step、Cause）
  - Coded             — 携带 ErrorCode 的错误接口，workflow 中的具体错误类型均实现它

# 主要能力

  - 错误工具链：GetErrorCode / IsErrorCode / IsRetryable
  - Context 传播：WithRunID / WithWorkflow / WithStepName / WithAttempt
*/
package types
