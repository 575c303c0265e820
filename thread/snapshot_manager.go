package thread

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/checkpoint"
	"github.com/BaSui01/stateflow/types"
)

// SnapshotManager 管理命名保存点的创建与恢复。
//
// 快照内嵌创建时线程状态的深拷贝，独立于检查点序列存在；
// 恢复不回退历史，而是向前追加一个携带快照状态的新检查点。
type SnapshotManager struct {
	threads     Repository
	snapshots   SnapshotRepository
	checkpoints checkpoint.Store
	logger      *zap.Logger
}

// NewSnapshotManager 创建快照管理器。
func NewSnapshotManager(
	threads Repository,
	snapshots SnapshotRepository,
	checkpoints checkpoint.Store,
	logger *zap.Logger,
) *SnapshotManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotManager{
		threads:     threads,
		snapshots:   snapshots,
		checkpoints: checkpoints,
		logger:      logger.With(zap.String("component", "snapshot_manager")),
	}
}

// Create 捕获线程当前状态为命名快照。名称在线程内唯一；
// 线程尚无检查点时捕获空状态。
func (m *SnapshotManager) Create(ctx context.Context, threadID, name, description string) (*Snapshot, error) {
	if name == "" {
		return nil, types.NewValidationError("snapshot name is required").
			WithOp("snapshot.create").WithThreadID(threadID)
	}
	if _, err := m.threads.FindByID(ctx, threadID); err != nil {
		return nil, err
	}

	existing, err := m.snapshots.FindByThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	for _, s := range existing {
		if s.Name == name {
			return nil, types.NewValidationError("snapshot name already exists: " + name).
				WithOp("snapshot.create").WithThreadID(threadID)
		}
	}

	state := types.State{}
	latest, err := m.checkpoints.GetLatest(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		state = types.DeepCopyState(latest.State)
	}

	snap := &Snapshot{
		ID:          NewSnapshotID(),
		ThreadID:    threadID,
		Name:        name,
		State:       state,
		Description: description,
		CreatedAt:   time.Now(),
	}
	if err := m.snapshots.Save(ctx, snap); err != nil {
		return nil, err
	}

	m.logger.Info("snapshot created",
		zap.String("thread_id", threadID),
		zap.String("snapshot_id", snap.ID),
		zap.String("name", name),
	)
	return cloneSnapshot(snap), nil
}

// Restore 将快照状态写回线程：追加一个新检查点并推进 latest 指针。
// 指针在检查点持久化成功后才更新。
func (m *SnapshotManager) Restore(ctx context.Context, threadID, snapshotID string) (*checkpoint.Checkpoint, error) {
	t, err := m.threads.FindByID(ctx, threadID)
	if err != nil {
		return nil, err
	}

	snap, err := m.snapshots.FindByID(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if snap.ThreadID != threadID {
		return nil, types.NewNotFoundError("snapshot", snapshotID).
			WithOp("snapshot.restore").WithThreadID(threadID)
	}

	meta := types.State{
		"restored_from_snapshot": snapshotID,
		"snapshot_name":          snap.Name,
	}
	cp, err := m.checkpoints.Save(ctx, threadID, "", types.DeepCopyState(snap.State), meta)
	if err != nil {
		return nil, err
	}

	t.LatestCheckpointID = cp.ID
	t.UpdatedAt = time.Now()
	if err := m.threads.Save(ctx, t); err != nil {
		return nil, err
	}

	m.logger.Info("snapshot restored",
		zap.String("thread_id", threadID),
		zap.String("snapshot_id", snapshotID),
		zap.String("checkpoint_id", cp.ID),
	)
	return cp, nil
}

// Get 按 ID 查找快照。
func (m *SnapshotManager) Get(ctx context.Context, snapshotID string) (*Snapshot, error) {
	return m.snapshots.FindByID(ctx, snapshotID)
}

// ListByThread 返回线程的全部快照。
func (m *SnapshotManager) ListByThread(ctx context.Context, threadID string) ([]*Snapshot, error) {
	if _, err := m.threads.FindByID(ctx, threadID); err != nil {
		return nil, err
	}
	return m.snapshots.FindByThread(ctx, threadID)
}

// Delete 删除快照，返回是否实际删除。
func (m *SnapshotManager) Delete(ctx context.Context, snapshotID string) (bool, error) {
	return m.snapshots.Delete(ctx, snapshotID)
}
