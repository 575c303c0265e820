package thread

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/checkpoint"
	"github.com/BaSui01/stateflow/types"
)

// BranchManager 从历史检查点分叉出隔离的新线程。
//
// Fork 流程：
//  1. 校验检查点存在且属于源线程
//  2. 校验分支名在源线程下唯一
//  3. 创建新线程记录
//  4. 深拷贝检查点状态写入新线程（序号从 0 重新开始）
//  5. 持久化分支记录
//
// 第 4、5 步失败时回滚已创建的新线程，保证 fork 要么完整生效，
// 要么对外不可见。
type BranchManager struct {
	threads     Repository
	branches    BranchRepository
	checkpoints checkpoint.Store
	logger      *zap.Logger
}

// NewBranchManager 创建分支管理器。
func NewBranchManager(
	threads Repository,
	branches BranchRepository,
	checkpoints checkpoint.Store,
	logger *zap.Logger,
) *BranchManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BranchManager{
		threads:     threads,
		branches:    branches,
		checkpoints: checkpoints,
		logger:      logger.With(zap.String("component", "branch_manager")),
	}
}

// Fork 从源线程的指定检查点分叉出新线程，返回新线程。
func (m *BranchManager) Fork(ctx context.Context, sourceThreadID, checkpointID, branchName string) (*Thread, error) {
	if branchName == "" {
		return nil, types.NewValidationError("branch name is required").
			WithOp("branch.fork").WithThreadID(sourceThreadID)
	}

	source, err := m.threads.FindByID(ctx, sourceThreadID)
	if err != nil {
		return nil, err
	}

	cp, err := m.checkpoints.Get(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if cp.ThreadID != sourceThreadID {
		return nil, types.NewNotFoundError("checkpoint", checkpointID).
			WithOp("branch.fork").WithThreadID(sourceThreadID)
	}

	existing, err := m.branches.FindBySourceThread(ctx, sourceThreadID)
	if err != nil {
		return nil, err
	}
	for _, b := range existing {
		if b.BranchName == branchName {
			return nil, types.NewValidationError("branch name already exists: " + branchName).
				WithOp("branch.fork").WithThreadID(sourceThreadID)
		}
	}

	now := time.Now()
	forked := &Thread{
		ID:      NewThreadID(),
		GraphID: source.GraphID,
		Status:  StatusCreated,
		Metadata: types.State{
			"forked_from_thread":     sourceThreadID,
			"forked_from_checkpoint": checkpointID,
			"branch_name":            branchName,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.threads.Save(ctx, forked); err != nil {
		return nil, err
	}

	copyMeta := types.DeepCopyState(cp.Metadata)
	if copyMeta == nil {
		copyMeta = types.State{}
	}
	copyMeta["parent_checkpoint_id"] = checkpointID

	copied, err := m.checkpoints.Save(ctx, forked.ID, cp.WorkflowID, types.DeepCopyState(cp.State), copyMeta)
	if err != nil {
		m.rollback(ctx, forked.ID)
		return nil, err
	}

	forked.LatestCheckpointID = copied.ID
	forked.UpdatedAt = time.Now()
	if err := m.threads.Save(ctx, forked); err != nil {
		m.rollback(ctx, forked.ID)
		return nil, err
	}

	branch := &Branch{
		ID:                 NewBranchID(),
		SourceThreadID:     sourceThreadID,
		SourceCheckpointID: checkpointID,
		NewThreadID:        forked.ID,
		BranchName:         branchName,
		CreatedAt:          now,
	}
	if err := m.branches.Save(ctx, branch); err != nil {
		m.rollback(ctx, forked.ID)
		return nil, err
	}

	m.logger.Info("thread forked",
		zap.String("source_thread_id", sourceThreadID),
		zap.String("checkpoint_id", checkpointID),
		zap.String("new_thread_id", forked.ID),
		zap.String("branch_name", branchName),
	)
	return forked.Clone(), nil
}

// ListBranches 返回源线程的全部分支记录。
func (m *BranchManager) ListBranches(ctx context.Context, sourceThreadID string) ([]*Branch, error) {
	if _, err := m.threads.FindByID(ctx, sourceThreadID); err != nil {
		return nil, err
	}
	return m.branches.FindBySourceThread(ctx, sourceThreadID)
}

// rollback 删除半成品线程及其已写入的检查点。回滚失败只记日志，
// 原始错误继续向上传播。
func (m *BranchManager) rollback(ctx context.Context, threadID string) {
	if cps, err := m.checkpoints.ListByThread(ctx, threadID); err == nil {
		for _, cp := range cps {
			_, _ = m.checkpoints.Delete(ctx, cp.ID)
		}
	}
	if _, err := m.threads.Delete(ctx, threadID); err != nil {
		m.logger.Warn("fork rollback failed",
			zap.String("thread_id", threadID),
			zap.Error(err),
		)
	}
}
