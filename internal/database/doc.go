// 版权所有 2024 StateFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供数据库连接与连接池管理能力。

# 概述

本包按配置打开 PostgreSQL 或 SQLite 连接，并通过 PoolManager
统一管理连接池参数、周期健康检查与事务执行。

# 核心类型

  - PoolManager：连接池管理器，封装 sql.DB 连接池参数设置、
    Ping 健康检查与统计信息采集。
  - PoolConfig：连接池配置，可由 config.DatabaseConfig 派生。

# 主要能力

  - 驱动选择：postgres（gorm.io/driver/postgres）与
    sqlite（glebarez/sqlite，纯 Go 实现）。
  - 健康检查：按固定间隔 Ping，失败记录错误日志。
  - 事务：WithTransaction 在 GORM 事务中执行回调。
*/
package database
