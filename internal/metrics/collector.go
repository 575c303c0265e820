// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 检查点指标
	checkpointSavesTotal  *prometheus.CounterVec
	checkpointSaveSeconds *prometheus.HistogramVec
	checkpointCount       *prometheus.GaugeVec

	// 线程指标
	threadOperationsTotal  *prometheus.CounterVec
	threadStateTransitions *prometheus.CounterVec

	// 分支与快照指标
	forksTotal            *prometheus.CounterVec
	snapshotsCreatedTotal *prometheus.CounterVec
	snapshotRestoresTotal *prometheus.CounterVec

	// 冲突指标
	conflictsDetectedTotal *prometheus.CounterVec
	conflictsResolvedTotal *prometheus.CounterVec

	// 存储指标
	storageErrorsTotal *prometheus.CounterVec
	dbConnectionsOpen  *prometheus.GaugeVec
	dbConnectionsIdle  *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时使用默认注册表。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 检查点指标
	c.checkpointSavesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_saves_total",
			Help:      "Total number of checkpoint save operations",
		},
		[]string{"backend", "status"},
	)

	c.checkpointSaveSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_save_duration_seconds",
			Help:      "Checkpoint save duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	c.checkpointCount = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_count",
			Help:      "Number of checkpoints per thread",
		},
		[]string{"thread_id"},
	)

	// 线程指标
	c.threadOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thread_operations_total",
			Help:      "Total number of thread operations",
		},
		[]string{"operation", "status"},
	)

	c.threadStateTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thread_state_transitions_total",
			Help:      "Total number of thread status transitions",
		},
		[]string{"from_status", "to_status"},
	)

	// 分支与快照指标
	c.forksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forks_total",
			Help:      "Total number of thread forks",
		},
		[]string{"status"},
	)

	c.snapshotsCreatedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_created_total",
			Help:      "Total number of snapshots created",
		},
		[]string{"status"},
	)

	c.snapshotRestoresTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_restores_total",
			Help:      "Total number of snapshot restores",
		},
		[]string{"status"},
	)

	// 冲突指标
	c.conflictsDetectedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_detected_total",
			Help:      "Total number of field conflicts detected",
		},
		[]string{"conflict_type"},
	)

	c.conflictsResolvedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_resolved_total",
			Help:      "Total number of conflicts processed by resolution",
		},
		[]string{"strategy", "resolved"},
	)

	// 存储指标
	c.storageErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Total number of storage backend errors",
		},
		[]string{"backend", "code"},
	)

	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🗂️ 检查点指标记录
// =============================================================================

// RecordCheckpointSave 记录检查点保存
func (c *Collector) RecordCheckpointSave(backend, status string, duration time.Duration) {
	c.checkpointSavesTotal.WithLabelValues(backend, status).Inc()
	c.checkpointSaveSeconds.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordCheckpointCount 记录线程当前检查点数量
func (c *Collector) RecordCheckpointCount(threadID string, count uint64) {
	c.checkpointCount.WithLabelValues(threadID).Set(float64(count))
}

// =============================================================================
// 🧵 线程指标记录
// =============================================================================

// RecordThreadOperation 记录线程操作
func (c *Collector) RecordThreadOperation(operation, status string) {
	c.threadOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordStateTransition 记录线程状态转换
func (c *Collector) RecordStateTransition(fromStatus, toStatus string) {
	c.threadStateTransitions.WithLabelValues(fromStatus, toStatus).Inc()
}

// =============================================================================
// 🌿 分支与快照指标记录
// =============================================================================

// RecordFork 记录一次分叉
func (c *Collector) RecordFork(status string) {
	c.forksTotal.WithLabelValues(status).Inc()
}

// RecordSnapshotCreated 记录快照创建
func (c *Collector) RecordSnapshotCreated(status string) {
	c.snapshotsCreatedTotal.WithLabelValues(status).Inc()
}

// RecordSnapshotRestore 记录快照恢复
func (c *Collector) RecordSnapshotRestore(status string) {
	c.snapshotRestoresTotal.WithLabelValues(status).Inc()
}

// =============================================================================
// ⚔️ 冲突指标记录
// =============================================================================

// RecordConflictDetected 记录检测到的字段冲突
func (c *Collector) RecordConflictDetected(conflictType string) {
	c.conflictsDetectedTotal.WithLabelValues(conflictType).Inc()
}

// RecordConflictResolved 记录冲突解决结果
func (c *Collector) RecordConflictResolved(strategy string, resolved bool) {
	label := "false"
	if resolved {
		label = "true"
	}
	c.conflictsResolvedTotal.WithLabelValues(strategy, label).Inc()
}

// =============================================================================
// 🗄️ 存储指标记录
// =============================================================================

// RecordStorageError 记录存储后端错误
func (c *Collector) RecordStorageError(backend, code string) {
	c.storageErrorsTotal.WithLabelValues(backend, code).Inc()
}

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}
