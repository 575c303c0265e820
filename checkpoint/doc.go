// Copyright (c) StateFlow Authors.
// Licensed under the MIT License.

/*
Package checkpoint 提供检查点模型、存储契约与三种后端实现。

# 核心类型

  - Checkpoint — 持久化执行快照（含 thread 内严格递增的序号）
  - Store      — 存储契约：Save / Get / GetLatest / ListByThread /
    GetByWorkflow / Count / Delete
  - MemoryStore — 进程内存储（每线程序号计数器）
  - RedisStore  — go-redis 后端（INCR 分配序号 + ZSET 线程索引）
  - GormStore   — GORM SQL 后端（事务内 MAX+1 分配序号）

# 错误约定

读路径无数据时退化为 nil / 空切片；其余存储故障映射为
types.Error 的 STORAGE_* 族错误并带操作名与 thread_id 记录日志，
核心不做重试（重试策略属于后端或上层）。
*/
package checkpoint
