// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 Prometheus 指标导出服务器的生命周期管理。

# 概述

Manager 封装 net/http.Server，在后台 goroutine 中暴露 /metrics
与 /healthz，供 dagflow 命令行在执行工作流期间被抓取。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道，
    提供 Start/Shutdown/Errors/Addr。
  - Config：监听地址、读写超时与优雅关闭超时。
  - Handler：构造导出路由，可指定 prometheus.Gatherer。
*/
package server
