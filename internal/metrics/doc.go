// 版权所有 2024 StateFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
检查点、线程、分支快照、冲突与存储五大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
工厂绑定到调用方提供的 Registerer，按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - 检查点指标：保存总数与耗时、每线程检查点数量，
    按 backend/status 分组。
  - 线程指标：操作总数、状态转换计数，
    按 operation/from_status/to_status 分组。
  - 分支与快照指标：fork 总数、快照创建与恢复计数。
  - 冲突指标：检测到的字段冲突按类型计数、
    解决结果按 strategy/resolved 分组。
  - 存储指标：后端错误计数、活跃/空闲连接数 Gauge。
*/
package metrics
