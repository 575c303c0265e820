package thread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/types"
)

// RedisRepository Redis 线程仓库。
// 线程本体以 JSON 存于 prefix:thread_meta:<id>；全局一个 ZSET 索引
// （score 为创建时间戳）。
type RedisRepository struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisRepository 创建 Redis 线程仓库。
func NewRedisRepository(client *redis.Client, prefix string, logger *zap.Logger) *RedisRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "stateflow"
	}
	return &RedisRepository{
		client: client,
		prefix: prefix,
		logger: logger.With(zap.String("store", "redis_thread")),
	}
}

func (r *RedisRepository) Save(ctx context.Context, t *Thread) error {
	if t == nil || t.ID == "" {
		return types.NewValidationError("thread id is required").WithOp("thread.save")
	}
	data, err := json.Marshal(t)
	if err != nil {
		return types.NewStorageError(types.ErrStorageSerialization, "failed to marshal thread", err).
			WithOp("thread.save").WithThreadID(t.ID)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.threadKey(t.ID), data, 0)
	pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(t.CreatedAt.UnixNano()), Member: t.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return r.storageError("thread.save", t.ID, "failed to persist thread", err)
	}
	return nil
}

func (r *RedisRepository) FindByID(ctx context.Context, id string) (*Thread, error) {
	data, err := r.client.Get(ctx, r.threadKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.NewNotFoundError("thread", id).WithOp("thread.find")
	}
	if err != nil {
		return nil, r.storageError("thread.find", id, "failed to load thread", err)
	}

	var t Thread
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, types.NewStorageError(types.ErrStorageSerialization, "failed to unmarshal thread", err).
			WithOp("thread.find").WithThreadID(id)
	}
	return &t, nil
}

func (r *RedisRepository) FindAll(ctx context.Context) ([]*Thread, error) {
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, r.storageError("thread.find_all", "", "failed to read thread index", err)
	}

	out := make([]*Thread, 0, len(ids))
	for _, id := range ids {
		t, err := r.FindByID(ctx, id)
		if types.IsNotFound(err) {
			r.logger.Warn("indexed thread missing", zap.String("thread_id", id))
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *RedisRepository) Delete(ctx context.Context, id string) (bool, error) {
	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, r.threadKey(id))
	pipe.ZRem(ctx, r.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, r.storageError("thread.delete", id, "failed to delete thread", err)
	}
	return del.Val() > 0, nil
}

func (r *RedisRepository) storageError(op, threadID, message string, err error) error {
	r.logger.Error("redis thread operation failed",
		zap.String("operation", op),
		zap.String("thread_id", threadID),
		zap.Error(err),
	)

	code := types.ErrStorageConnection
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		code = types.ErrStorageTimeout
	}
	return types.NewStorageError(code, message, err).WithOp(op).WithThreadID(threadID).WithRetryable(true)
}

func (r *RedisRepository) threadKey(id string) string {
	return fmt.Sprintf("%s:thread_meta:%s", r.prefix, id)
}

func (r *RedisRepository) indexKey() string {
	return fmt.Sprintf("%s:threads", r.prefix)
}

// RedisBranchRepository Redis 分支仓库。
// 分支本体以 JSON 存于 prefix:branch:<id>；每个源线程一个 ZSET 索引。
type RedisBranchRepository struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisBranchRepository 创建 Redis 分支仓库。
func NewRedisBranchRepository(client *redis.Client, prefix string, logger *zap.Logger) *RedisBranchRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "stateflow"
	}
	return &RedisBranchRepository{
		client: client,
		prefix: prefix,
		logger: logger.With(zap.String("store", "redis_branch")),
	}
}

func (r *RedisBranchRepository) Save(ctx context.Context, b *Branch) error {
	if b == nil || b.ID == "" {
		return types.NewValidationError("branch id is required").WithOp("branch.save")
	}
	data, err := json.Marshal(b)
	if err != nil {
		return types.NewStorageError(types.ErrStorageSerialization, "failed to marshal branch", err).
			WithOp("branch.save")
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.branchKey(b.ID), data, 0)
	pipe.ZAdd(ctx, r.sourceKey(b.SourceThreadID), redis.Z{Score: float64(b.CreatedAt.UnixNano()), Member: b.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return r.storageError("branch.save", b.SourceThreadID, "failed to persist branch", err)
	}
	return nil
}

func (r *RedisBranchRepository) FindByID(ctx context.Context, id string) (*Branch, error) {
	data, err := r.client.Get(ctx, r.branchKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.NewNotFoundError("branch", id).WithOp("branch.find")
	}
	if err != nil {
		return nil, r.storageError("branch.find", "", "failed to load branch", err)
	}

	var b Branch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, types.NewStorageError(types.ErrStorageSerialization, "failed to unmarshal branch", err).
			WithOp("branch.find")
	}
	return &b, nil
}

func (r *RedisBranchRepository) FindBySourceThread(ctx context.Context, sourceThreadID string) ([]*Branch, error) {
	ids, err := r.client.ZRange(ctx, r.sourceKey(sourceThreadID), 0, -1).Result()
	if err != nil {
		return nil, r.storageError("branch.find_by_source", sourceThreadID, "failed to read branch index", err)
	}

	out := make([]*Branch, 0, len(ids))
	for _, id := range ids {
		b, err := r.FindByID(ctx, id)
		if types.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *RedisBranchRepository) Delete(ctx context.Context, id string) (bool, error) {
	b, err := r.FindByID(ctx, id)
	if types.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.branchKey(id))
	pipe.ZRem(ctx, r.sourceKey(b.SourceThreadID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, r.storageError("branch.delete", b.SourceThreadID, "failed to delete branch", err)
	}
	return true, nil
}

func (r *RedisBranchRepository) storageError(op, threadID, message string, err error) error {
	r.logger.Error("redis branch operation failed",
		zap.String("operation", op),
		zap.String("thread_id", threadID),
		zap.Error(err),
	)

	code := types.ErrStorageConnection
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		code = types.ErrStorageTimeout
	}
	return types.NewStorageError(code, message, err).WithOp(op).WithThreadID(threadID).WithRetryable(true)
}

func (r *RedisBranchRepository) branchKey(id string) string {
	return fmt.Sprintf("%s:branch:%s", r.prefix, id)
}

func (r *RedisBranchRepository) sourceKey(threadID string) string {
	return fmt.Sprintf("%s:branches:%s", r.prefix, threadID)
}

// RedisSnapshotRepository Redis 快照仓库。
// 快照本体以 JSON 存于 prefix:snapshot:<id>；每线程一个 ZSET 索引。
type RedisSnapshotRepository struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisSnapshotRepository 创建 Redis 快照仓库。
func NewRedisSnapshotRepository(client *redis.Client, prefix string, logger *zap.Logger) *RedisSnapshotRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "stateflow"
	}
	return &RedisSnapshotRepository{
		client: client,
		prefix: prefix,
		logger: logger.With(zap.String("store", "redis_snapshot")),
	}
}

func (r *RedisSnapshotRepository) Save(ctx context.Context, s *Snapshot) error {
	if s == nil || s.ID == "" {
		return types.NewValidationError("snapshot id is required").WithOp("snapshot.save")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return types.NewStorageError(types.ErrStorageSerialization, "failed to marshal snapshot", err).
			WithOp("snapshot.save").WithThreadID(s.ThreadID)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.snapshotKey(s.ID), data, 0)
	pipe.ZAdd(ctx, r.threadKey(s.ThreadID), redis.Z{Score: float64(s.CreatedAt.UnixNano()), Member: s.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return r.storageError("snapshot.save", s.ThreadID, "failed to persist snapshot", err)
	}
	return nil
}

func (r *RedisSnapshotRepository) FindByID(ctx context.Context, id string) (*Snapshot, error) {
	data, err := r.client.Get(ctx, r.snapshotKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.NewNotFoundError("snapshot", id).WithOp("snapshot.find")
	}
	if err != nil {
		return nil, r.storageError("snapshot.find", "", "failed to load snapshot", err)
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, types.NewStorageError(types.ErrStorageSerialization, "failed to unmarshal snapshot", err).
			WithOp("snapshot.find")
	}
	return &s, nil
}

func (r *RedisSnapshotRepository) FindByThread(ctx context.Context, threadID string) ([]*Snapshot, error) {
	ids, err := r.client.ZRange(ctx, r.threadKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, r.storageError("snapshot.find_by_thread", threadID, "failed to read snapshot index", err)
	}

	out := make([]*Snapshot, 0, len(ids))
	for _, id := range ids {
		s, err := r.FindByID(ctx, id)
		if types.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *RedisSnapshotRepository) Delete(ctx context.Context, id string) (bool, error) {
	s, err := r.FindByID(ctx, id)
	if types.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.snapshotKey(id))
	pipe.ZRem(ctx, r.threadKey(s.ThreadID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, r.storageError("snapshot.delete", s.ThreadID, "failed to delete snapshot", err)
	}
	return true, nil
}

func (r *RedisSnapshotRepository) storageError(op, threadID, message string, err error) error {
	r.logger.Error("redis snapshot operation failed",
		zap.String("operation", op),
		zap.String("thread_id", threadID),
		zap.Error(err),
	)

	code := types.ErrStorageConnection
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		code = types.ErrStorageTimeout
	}
	return types.NewStorageError(code, message, err).WithOp(op).WithThreadID(threadID).WithRetryable(true)
}

func (r *RedisSnapshotRepository) snapshotKey(id string) string {
	return fmt.Sprintf("%s:snapshot:%s", r.prefix, id)
}

func (r *RedisSnapshotRepository) threadKey(threadID string) string {
	return fmt.Sprintf("%s:snapshots:%s", r.prefix, threadID)
}
