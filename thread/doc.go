// Copyright (c) StateFlow Authors.
// Licensed under the MIT License.

// Package thread 管理执行线程的生命周期、分支与快照。
//
// 核心组件：
//   - Service: 线程 CRUD、状态机转换、级联删除
//   - BranchManager: 从历史检查点分叉出隔离的新线程
//   - SnapshotManager: 命名保存点的创建与恢复
//
// 线程状态机：
//
//	created → active ⇄ paused → {completed, failed}
//	active/paused → archived
//
// 终态（completed/failed/archived）拒绝一切后续转换。
package thread
