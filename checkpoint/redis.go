package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/types"
)

// RedisStore Redis 检查点存储。
// 检查点本体以 JSON 存于 prefix:checkpoint:<id>；每线程一个 ZSET
// 索引（score 为序号）；序号用 INCR 原子分配。
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore 创建 Redis 检查点存储。ttl 为 0 时不过期。
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "stateflow"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With(zap.String("store", "redis_checkpoint")),
	}
}

// Save 保存检查点并分配序号。
func (s *RedisStore) Save(ctx context.Context, threadID, workflowID string, state, metadata types.State) (*Checkpoint, error) {
	// INCR 原子分配；返回值从 1 起，序号从 0 起
	next, err := s.client.Incr(ctx, s.seqKey(threadID)).Result()
	if err != nil {
		return nil, s.storageError("save", threadID, "failed to allocate sequence number", err)
	}
	seq := uint64(next - 1)

	var parentID string
	if prev, err := s.latestID(ctx, threadID); err == nil {
		parentID = prev
	}

	cp := &Checkpoint{
		ID:                 NewCheckpointID(),
		ThreadID:           threadID,
		WorkflowID:         workflowID,
		ParentCheckpointID: parentID,
		SequenceNumber:     seq,
		State:              state,
		Metadata:           metadata,
		CreatedAt:          time.Now(),
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return nil, types.NewStorageError(types.ErrStorageSerialization, "failed to marshal checkpoint", err).
			WithOp("save").WithThreadID(threadID)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.checkpointKey(cp.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.threadKey(threadID), redis.Z{Score: float64(seq), Member: cp.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, s.storageError("save", threadID, "failed to persist checkpoint", err)
	}

	s.logger.Debug("checkpoint saved to redis",
		zap.String("checkpoint_id", cp.ID),
		zap.String("thread_id", threadID),
		zap.Uint64("sequence", seq),
	)

	return cp, nil
}

// Get 按 ID 加载检查点。
func (s *RedisStore) Get(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	data, err := s.client.Get(ctx, s.checkpointKey(checkpointID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.NewNotFoundError("checkpoint", checkpointID).WithOp("get")
	}
	if err != nil {
		return nil, s.storageError("get", "", "failed to load checkpoint", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, types.NewStorageError(types.ErrStorageSerialization, "failed to unmarshal checkpoint", err).WithOp("get")
	}
	return &cp, nil
}

// GetLatest 加载线程最新检查点；无检查点时返回 (nil, nil)。
func (s *RedisStore) GetLatest(ctx context.Context, threadID string) (*Checkpoint, error) {
	id, err := s.latestID(ctx, threadID)
	if err != nil {
		return nil, s.storageError("get_latest", threadID, "failed to read thread index", err)
	}
	if id == "" {
		return nil, nil
	}

	cp, err := s.Get(ctx, id)
	if types.IsNotFound(err) {
		// 索引指向的键已过期
		return nil, nil
	}
	return cp, err
}

// ListByThread 列出线程的所有检查点，新者在前。
func (s *RedisStore) ListByThread(ctx context.Context, threadID string) ([]*Checkpoint, error) {
	ids, err := s.client.ZRevRange(ctx, s.threadKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, s.storageError("list_by_thread", threadID, "failed to read thread index", err)
	}

	out := make([]*Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp, err := s.Get(ctx, id)
		if types.IsNotFound(err) {
			s.logger.Warn("indexed checkpoint missing", zap.String("checkpoint_id", id), zap.String("thread_id", threadID))
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// GetByWorkflow 列出线程内属于指定工作流的检查点，新者在前。
func (s *RedisStore) GetByWorkflow(ctx context.Context, threadID, workflowID string) ([]*Checkpoint, error) {
	all, err := s.ListByThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	out := make([]*Checkpoint, 0, len(all))
	for _, cp := range all {
		if cp.WorkflowID == workflowID {
			out = append(out, cp)
		}
	}
	return out, nil
}

// Count 返回线程的检查点数量。
func (s *RedisStore) Count(ctx context.Context, threadID string) (uint64, error) {
	n, err := s.client.ZCard(ctx, s.threadKey(threadID)).Result()
	if err != nil {
		return 0, s.storageError("count", threadID, "failed to count checkpoints", err)
	}
	return uint64(n), nil
}

// Delete 删除检查点，返回是否确有删除。
func (s *RedisStore) Delete(ctx context.Context, checkpointID string) (bool, error) {
	cp, err := s.Get(ctx, checkpointID)
	if types.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.checkpointKey(checkpointID))
	pipe.ZRem(ctx, s.threadKey(cp.ThreadID), checkpointID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, s.storageError("delete", cp.ThreadID, "failed to delete checkpoint", err)
	}
	return true, nil
}

// latestID 返回线程序号最大的检查点 ID；无则返回空串。
func (s *RedisStore) latestID(ctx context.Context, threadID string) (string, error) {
	ids, err := s.client.ZRevRange(ctx, s.threadKey(threadID), 0, 0).Result()
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

// storageError 记录日志并映射为 STORAGE_* 错误。
func (s *RedisStore) storageError(op, threadID, message string, err error) error {
	s.logger.Error("redis checkpoint operation failed",
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

func (s *RedisStore) checkpointKey(id string) string {
	return fmt.Sprintf("%s:checkpoint:%s", s.prefix, id)
}

func (s *RedisStore) threadKey(threadID string) string {
	return fmt.Sprintf("%s:thread:%s", s.prefix, threadID)
}

func (s *RedisStore) seqKey(threadID string) string {
	return fmt.Sprintf("%s:seq:%s", s.prefix, threadID)
}
