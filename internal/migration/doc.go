// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理检查点表 workflow_checkpoints 的版本化结构变更，
支持 PostgreSQL、MySQL 与 SQLite，基于 golang-migrate 实现。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌。Migrator 复用检查点
存储已打开的 *sql.DB，不再单独建立连接。关闭
checkpoint.database.auto_migrate 后，由 dagflow migrate 负责建表。

# 核心类型

  - Migrator：Up/Down/Version/Status/Close。
  - CLI：为 dagflow migrate 子命令提供格式化输出。
  - DatabaseType：数据库方言（postgres/mysql/sqlite）。
*/
package migration
