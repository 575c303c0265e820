package checkpoint

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/types"
)

// MemoryStore 进程内检查点存储。
// 用于测试与嵌入式场景；所有读写均做深拷贝，调用方无法越过
// Store 契约篡改已保存的状态。
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
	byThread    map[string][]string // 保存顺序，旧者在前
	sequences   map[string]uint64
	logger      *zap.Logger
}

// NewMemoryStore 创建内存检查点存储。
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		checkpoints: make(map[string]*Checkpoint),
		byThread:    make(map[string][]string),
		sequences:   make(map[string]uint64),
		logger:      logger.With(zap.String("store", "memory_checkpoint")),
	}
}

// Save 保存检查点并分配序号。
func (s *MemoryStore) Save(ctx context.Context, threadID, workflowID string, state, metadata types.State) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewStorageError(types.ErrStorageTimeout, "save cancelled", err).WithOp("save").WithThreadID(threadID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.sequences[threadID]
	s.sequences[threadID] = seq + 1

	var parentID string
	if ids := s.byThread[threadID]; len(ids) > 0 {
		parentID = ids[len(ids)-1]
	}

	cp := &Checkpoint{
		ID:                 NewCheckpointID(),
		ThreadID:           threadID,
		WorkflowID:         workflowID,
		ParentCheckpointID: parentID,
		SequenceNumber:     seq,
		State:              types.DeepCopyState(state),
		Metadata:           types.DeepCopyState(metadata),
		CreatedAt:          time.Now(),
	}

	s.checkpoints[cp.ID] = cp
	s.byThread[threadID] = append(s.byThread[threadID], cp.ID)

	s.logger.Debug("checkpoint saved",
		zap.String("checkpoint_id", cp.ID),
		zap.String("thread_id", threadID),
		zap.Uint64("sequence", seq),
	)

	return cp.Clone(), nil
}

// Get 按 ID 加载检查点。
func (s *MemoryStore) Get(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[checkpointID]
	if !ok {
		return nil, types.NewNotFoundError("checkpoint", checkpointID).WithOp("get")
	}
	return cp.Clone(), nil
}

// GetLatest 加载线程最新检查点；无检查点时返回 (nil, nil)。
func (s *MemoryStore) GetLatest(ctx context.Context, threadID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byThread[threadID]
	if len(ids) == 0 {
		return nil, nil
	}
	return s.checkpoints[ids[len(ids)-1]].Clone(), nil
}

// ListByThread 列出线程的所有检查点，新者在前。
func (s *MemoryStore) ListByThread(ctx context.Context, threadID string) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byThread[threadID]
	out := make([]*Checkpoint, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, s.checkpoints[ids[i]].Clone())
	}
	return out, nil
}

// GetByWorkflow 列出线程内属于指定工作流的检查点，新者在前。
func (s *MemoryStore) GetByWorkflow(ctx context.Context, threadID, workflowID string) ([]*Checkpoint, error) {
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
func (s *MemoryStore) Count(ctx context.Context, threadID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.byThread[threadID])), nil
}

// Delete 删除检查点，返回是否确有删除。
func (s *MemoryStore) Delete(ctx context.Context, checkpointID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.checkpoints[checkpointID]
	if !ok {
		return false, nil
	}
	delete(s.checkpoints, checkpointID)

	ids := s.byThread[cp.ThreadID]
	for i, id := range ids {
		if id == checkpointID {
			s.byThread[cp.ThreadID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return true, nil
}
