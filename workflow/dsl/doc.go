// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package dsl 提供 YAML/JSON 声明式工作流定义，
将文档解析为可执行的 workflow.Workflow。

# 概述

文档声明输入变量、可复用的步骤模板和按声明顺序注册的节点。
节点通过 after 声明依赖，通过 when 声明运行条件，
human 类型的节点是人工审批关卡。

# 核心接口与类型

  - Parser：解析文档，验证后构建工作流
  - Program：解析结果，Inputs 合并变量默认值与调用方输入
  - StepRegistry / StepFactory：按 kind 绑定步骤实现
  - Expression：when 条件表达式，编译一次、每次运行求值
  - Validator：收集文档中的全部结构问题

# 主要能力

  - 内置步骤：passthrough、echo、template、sleep、fail
  - 条件表达式：||、&&、比较运算、!、括号与点路径访问
  - ${path} 插值：用于审批提示、echo 与 template 步骤
  - 重试策略、超时、审批选项与输出结构约束
*/
package dsl
