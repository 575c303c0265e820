// Copyright (c) StateFlow Authors.
// Licensed under the MIT License.

// Package engine 按配置装配 StateFlow 的全部组件并对外提供统一入口。
//
// 使用方法:
//
//	cfg := config.DefaultConfig()
//	eng, err := engine.New(cfg)
//	if err != nil { ... }
//	defer eng.Close()
//
//	th, _ := eng.CreateThread(ctx, "order-flow", nil)
//	eng.SaveCheckpoint(ctx, th.ID, "wf-1", types.State{"step": "a"}, nil)
//
// 存储后端由 config.StorageConfig.Backend 选择：
// memory、redis、postgres 或 sqlite。
package engine
