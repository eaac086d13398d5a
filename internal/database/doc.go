// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 为 SQL 检查点存储提供基于 GORM 的连接管理与事务重试。

# 概述

Open 按检查点后端（postgres、mysql、sqlite）选择方言并建立连接，
PoolManager 统一管理连接池参数与生命周期。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、
    Stats()、Close() 等生命周期方法。
  - PoolConfig：最大空闲连接数、最大打开连接数与连接最大生命周期。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 方言选择：Dialector 将后端名称映射为 GORM 方言，sqlite 使用纯 Go 驱动。
  - 事务重试：WithTransactionRetry 对死锁、序列化失败、
    SQLite 锁冲突等瞬时错误按指数退避重试。
*/
package database
