package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/checkpoint"
	"github.com/BaSui01/stateflow/config"
	"github.com/BaSui01/stateflow/internal/database"
	"github.com/BaSui01/stateflow/internal/metrics"
	"github.com/BaSui01/stateflow/state"
	"github.com/BaSui01/stateflow/thread"
	"github.com/BaSui01/stateflow/types"
)

// Engine 是 StateFlow 的统一入口：按配置装配检查点存储、线程服务、
// 分支与快照管理器以及冲突解决器，并对外暴露全部操作。
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger

	checkpoints checkpoint.Store
	service     *thread.Service
	branches    *thread.BranchManager
	snapshots   *thread.SnapshotManager
	resolver    *state.Resolver
	versions    *state.VersionStore

	collector *metrics.Collector

	redisClient *redis.Client
	pool        *database.PoolManager
}

// Option 配置 Engine。
type Option func(*options)

type options struct {
	logger      *zap.Logger
	registerer  prometheus.Registerer
	customFn    state.CustomFunc
	redisClient *redis.Client
}

// WithLogger 注入外部 logger，覆盖配置派生的 logger。
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer 指定 Prometheus 注册表（默认使用全局注册表）。
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithCustomResolution 设置 custom 策略使用的回调。
func WithCustomResolution(fn state.CustomFunc) Option {
	return func(o *options) { o.customFn = fn }
}

// WithRedisClient 注入外部 Redis 客户端（测试常用 miniredis）。
func WithRedisClient(client *redis.Client) Option {
	return func(o *options) { o.redisClient = client }
}

// New 按配置创建 Engine。cfg 为 nil 时使用默认配置。
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, types.NewValidationError(err.Error()).WithOp("engine.new")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = NewLogger(cfg.Log)
	}

	e := &Engine{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "engine")),
	}

	if cfg.Metrics.Enabled {
		e.collector = metrics.NewCollector(cfg.Metrics.Namespace, o.registerer, logger)
	}

	resolverOpts := []state.ResolverOption{
		state.WithHistoryCapacity(cfg.Resolver.HistoryCapacity),
	}
	if o.customFn != nil {
		resolverOpts = append(resolverOpts, state.WithCustomFunc(o.customFn))
	}
	resolver, err := state.NewResolver(state.Strategy(cfg.Resolver.Strategy), logger, resolverOpts...)
	if err != nil {
		return nil, err
	}
	e.resolver = resolver
	e.versions = state.NewVersionStore(logger)

	var (
		cps        checkpoint.Store
		threads    thread.Repository
		branchRepo thread.BranchRepository
		snapRepo   thread.SnapshotRepository
	)

	switch cfg.Storage.Backend {
	case "memory":
		cps = checkpoint.NewMemoryStore(logger)
		threads = thread.NewMemoryRepository()
		branchRepo = thread.NewMemoryBranchRepository()
		snapRepo = thread.NewMemorySnapshotRepository()

	case "redis":
		client := o.redisClient
		if client == nil {
			client = redis.NewClient(&redis.Options{
				Addr:         cfg.Redis.Addr,
				Password:     cfg.Redis.Password,
				DB:           cfg.Redis.DB,
				PoolSize:     cfg.Redis.PoolSize,
				MinIdleConns: cfg.Redis.MinIdleConns,
			})
			e.redisClient = client
		}
		prefix := cfg.Storage.KeyPrefix
		cps = checkpoint.NewRedisStore(client, prefix, 0, logger)
		threads = thread.NewRedisRepository(client, prefix, logger)
		branchRepo = thread.NewRedisBranchRepository(client, prefix, logger)
		snapRepo = thread.NewRedisSnapshotRepository(client, prefix, logger)

	case "postgres", "sqlite":
		dbCfg := cfg.Database
		dbCfg.Driver = cfg.Storage.Backend
		db, err := database.Open(dbCfg)
		if err != nil {
			return nil, types.NewStorageError(types.ErrStorageConnection, "failed to open database", err).
				WithOp("engine.new")
		}
		pool, err := database.NewPoolManager(db, database.PoolConfigFrom(dbCfg), logger)
		if err != nil {
			return nil, types.NewStorageError(types.ErrStorageConnection, "failed to init pool", err).
				WithOp("engine.new")
		}
		e.pool = pool

		if cps, err = checkpoint.NewGormStore(db, logger); err != nil {
			return nil, err
		}
		if threads, err = thread.NewGormRepository(db, logger); err != nil {
			return nil, err
		}
		if branchRepo, err = thread.NewGormBranchRepository(db, logger); err != nil {
			return nil, err
		}
		if snapRepo, err = thread.NewGormSnapshotRepository(db, logger); err != nil {
			return nil, err
		}

	default:
		return nil, types.NewValidationError(fmt.Sprintf("unknown storage backend: %s", cfg.Storage.Backend)).
			WithOp("engine.new")
	}

	e.checkpoints = cps
	e.service = thread.NewService(threads, branchRepo, snapRepo, cps, logger)
	e.branches = thread.NewBranchManager(threads, branchRepo, cps, logger)
	e.snapshots = thread.NewSnapshotManager(threads, snapRepo, cps, logger)

	e.logger.Info("engine initialized",
		zap.String("backend", cfg.Storage.Backend),
		zap.String("resolver_strategy", cfg.Resolver.Strategy),
	)
	return e, nil
}

// Close 释放引擎持有的外部连接。
func (e *Engine) Close() error {
	if e.redisClient != nil {
		if err := e.redisClient.Close(); err != nil {
			return err
		}
	}
	if e.pool != nil {
		return e.pool.Close()
	}
	return nil
}

// =============================================================================
// 🧵 线程操作
// =============================================================================

// CreateThread 创建新线程。
func (e *Engine) CreateThread(ctx context.Context, graphID string, metadata types.State) (*thread.Thread, error) {
	t, err := e.service.Create(ctx, graphID, metadata)
	e.recordThreadOp("create", err)
	return t, err
}

// GetThread 按 ID 查找线程。
func (e *Engine) GetThread(ctx context.Context, threadID string) (*thread.Thread, error) {
	t, err := e.service.Get(ctx, threadID)
	e.recordThreadOp("get", err)
	return t, err
}

// ListThreads 返回全部线程。
func (e *Engine) ListThreads(ctx context.Context) ([]*thread.Thread, error) {
	return e.service.List(ctx)
}

// UpdateThreadStatus 执行线程状态机转换。
func (e *Engine) UpdateThreadStatus(ctx context.Context, threadID string, to thread.Status) (*thread.Thread, error) {
	prev, err := e.service.Get(ctx, threadID)
	if err != nil {
		e.recordThreadOp("update_status", err)
		return nil, err
	}

	t, err := e.service.UpdateStatus(ctx, threadID, to)
	e.recordThreadOp("update_status", err)
	if err == nil && e.collector != nil {
		e.collector.RecordStateTransition(string(prev.Status), string(to))
	}
	return t, err
}

// DeleteThread 级联删除线程及其分支、快照与检查点。
func (e *Engine) DeleteThread(ctx context.Context, threadID string) (bool, error) {
	deleted, err := e.service.Delete(ctx, threadID)
	e.recordThreadOp("delete", err)
	return deleted, err
}

// =============================================================================
// 🗂️ 检查点操作
// =============================================================================

// SaveCheckpoint 为线程保存新检查点并推进 latest 指针。
func (e *Engine) SaveCheckpoint(ctx context.Context, threadID, workflowID string, st, metadata types.State) (*checkpoint.Checkpoint, error) {
	start := time.Now()
	cp, err := e.service.SaveCheckpoint(ctx, threadID, workflowID, st, metadata)
	if e.collector != nil {
		e.collector.RecordCheckpointSave(e.cfg.Storage.Backend, statusLabel(err), time.Since(start))
		if err == nil {
			if n, cntErr := e.checkpoints.Count(ctx, threadID); cntErr == nil {
				e.collector.RecordCheckpointCount(threadID, n)
			}
		}
	}
	return cp, err
}

// GetCheckpoint 按 ID 加载检查点。
func (e *Engine) GetCheckpoint(ctx context.Context, checkpointID string) (*checkpoint.Checkpoint, error) {
	return e.checkpoints.Get(ctx, checkpointID)
}

// ListCheckpoints 列出线程的所有检查点，新者在前。
func (e *Engine) ListCheckpoints(ctx context.Context, threadID string) ([]*checkpoint.Checkpoint, error) {
	return e.checkpoints.ListByThread(ctx, threadID)
}

// LatestState 返回线程最新检查点的状态；无检查点时返回空状态。
func (e *Engine) LatestState(ctx context.Context, threadID string) (types.State, error) {
	return e.service.LatestState(ctx, threadID)
}

// =============================================================================
// 🌿 分支与快照操作
// =============================================================================

// ForkThread 从源线程的指定检查点分叉出隔离的新线程。
func (e *Engine) ForkThread(ctx context.Context, sourceThreadID, checkpointID, branchName string) (*thread.Thread, error) {
	t, err := e.branches.Fork(ctx, sourceThreadID, checkpointID, branchName)
	if e.collector != nil {
		e.collector.RecordFork(statusLabel(err))
	}
	return t, err
}

// ListBranches 返回源线程的全部分支记录。
func (e *Engine) ListBranches(ctx context.Context, sourceThreadID string) ([]*thread.Branch, error) {
	return e.branches.ListBranches(ctx, sourceThreadID)
}

// CreateSnapshot 捕获线程当前状态为命名快照。
func (e *Engine) CreateSnapshot(ctx context.Context, threadID, name, description string) (*thread.Snapshot, error) {
	s, err := e.snapshots.Create(ctx, threadID, name, description)
	if e.collector != nil {
		e.collector.RecordSnapshotCreated(statusLabel(err))
	}
	return s, err
}

// RestoreSnapshot 将快照状态作为新检查点写回线程。
func (e *Engine) RestoreSnapshot(ctx context.Context, threadID, snapshotID string) (*checkpoint.Checkpoint, error) {
	cp, err := e.snapshots.Restore(ctx, threadID, snapshotID)
	if e.collector != nil {
		e.collector.RecordSnapshotRestore(statusLabel(err))
	}
	return cp, err
}

// ListSnapshots 返回线程的全部快照。
func (e *Engine) ListSnapshots(ctx context.Context, threadID string) ([]*thread.Snapshot, error) {
	return e.snapshots.ListByThread(ctx, threadID)
}

// DeleteSnapshot 删除快照。
func (e *Engine) DeleteSnapshot(ctx context.Context, snapshotID string) (bool, error) {
	return e.snapshots.Delete(ctx, snapshotID)
}

// =============================================================================
// ⚔️ 冲突检测与解决
// =============================================================================

// DetectConflicts 对比两份状态，返回字段级冲突列表。
func (e *Engine) DetectConflicts(old, new types.State) []state.FieldConflict {
	conflicts := state.Diff(old, new)
	if e.collector != nil {
		for _, c := range conflicts {
			e.collector.RecordConflictDetected(string(c.Type))
		}
	}
	return conflicts
}

// UpdateStateWithConflictResolution 将 newState 与线程当前状态对比，
// 按配置策略解决冲突后把调和结果保存为新检查点。
// 返回新检查点与策略未能解决的冲突。
func (e *Engine) UpdateStateWithConflictResolution(ctx context.Context, threadID string, newState types.State) (*checkpoint.Checkpoint, []state.FieldConflict, error) {
	current, err := e.service.LatestState(ctx, threadID)
	if err != nil {
		return nil, nil, err
	}

	conflicts := e.DetectConflicts(current, newState)
	resolved, unresolved := e.resolver.Resolve(current, newState, conflicts)
	if e.collector != nil {
		strategy := string(e.resolver.Strategy())
		e.collector.RecordConflictResolved(strategy, len(unresolved) == 0)
	}

	meta := types.State{
		"conflicts_detected":   len(conflicts),
		"conflicts_unresolved": len(unresolved),
		"resolution_strategy":  string(e.resolver.Strategy()),
	}
	cp, err := e.SaveCheckpoint(ctx, threadID, "", resolved, meta)
	if err != nil {
		return nil, unresolved, err
	}

	// 每次调和生成一个内容寻址版本，供审计与回溯
	if _, err := e.versions.CreateVersion(resolved, fmt.Sprintf("thread %s seq %d", threadID, cp.SequenceNumber)); err != nil {
		e.logger.Warn("failed to record state version",
			zap.String("thread_id", threadID),
			zap.Error(err),
		)
	}

	return cp, unresolved, nil
}

// Resolver 返回引擎使用的冲突解决器。
func (e *Engine) Resolver() *state.Resolver {
	return e.resolver
}

// Versions 返回引擎的状态版本库。
func (e *Engine) Versions() *state.VersionStore {
	return e.versions
}

func (e *Engine) recordThreadOp(op string, err error) {
	if e.collector != nil {
		e.collector.RecordThreadOperation(op, statusLabel(err))
	}
	if err != nil && types.IsStorage(err) && e.collector != nil {
		e.collector.RecordStorageError(e.cfg.Storage.Backend, string(types.GetErrorCode(err)))
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
