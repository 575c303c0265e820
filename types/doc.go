// Copyright (c) StateFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 StateFlow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 state、checkpoint、thread、
engine 等上层模块提供统一的类型契约。所有跨包共享的结构体、枚举和
错误码均定义于此，以避免循环依赖。

# 核心类型

  - State             — 开放式字符串键状态映射（承载工作流自定义字段）
  - Error / ErrorCode — 结构化错误体系，含 Op、ThreadID、Retryable 标记

# 主要能力

  - 状态工具：State.DeepCopy / DeepEqual（状态快照的深拷贝与深比较）
  - 错误构造：NewNotFoundError / NewValidationError / NewStorageError
  - 错误判定：IsNotFound / IsValidation / IsStorage / GetErrorCode
*/
package types
