package thread

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/stateflow/checkpoint"
	"github.com/BaSui01/stateflow/types"
)

// Service 线程生命周期服务：创建、查询、状态转换与级联删除。
type Service struct {
	threads     Repository
	branches    BranchRepository
	snapshots   SnapshotRepository
	checkpoints checkpoint.Store
	logger      *zap.Logger
}

// NewService 创建线程服务。
func NewService(
	threads Repository,
	branches BranchRepository,
	snapshots SnapshotRepository,
	checkpoints checkpoint.Store,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		threads:     threads,
		branches:    branches,
		snapshots:   snapshots,
		checkpoints: checkpoints,
		logger:      logger.With(zap.String("component", "thread_service")),
	}
}

// Create 创建新线程，初始状态为 created。
func (s *Service) Create(ctx context.Context, graphID string, metadata types.State) (*Thread, error) {
	if graphID == "" {
		return nil, types.NewValidationError("graph id is required").WithOp("thread.create")
	}

	now := time.Now()
	t := &Thread{
		ID:        NewThreadID(),
		GraphID:   graphID,
		Status:    StatusCreated,
		Metadata:  types.DeepCopyState(metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.threads.Save(ctx, t); err != nil {
		return nil, err
	}

	s.logger.Info("thread created",
		zap.String("thread_id", t.ID),
		zap.String("graph_id", graphID),
	)
	return t.Clone(), nil
}

// Get 按 ID 查找线程。
func (s *Service) Get(ctx context.Context, threadID string) (*Thread, error) {
	return s.threads.FindByID(ctx, threadID)
}

// List 返回全部线程，按创建时间升序。
func (s *Service) List(ctx context.Context) ([]*Thread, error) {
	return s.threads.FindAll(ctx)
}

// UpdateStatus 执行状态机转换。非法转换返回 INVALID_TRANSITION，
// 线程状态保持不变。
func (s *Service) UpdateStatus(ctx context.Context, threadID string, to Status) (*Thread, error) {
	t, err := s.threads.FindByID(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(t.Status, to) {
		return nil, types.NewInvalidTransitionError(string(t.Status), string(to)).
			WithOp("thread.update_status").WithThreadID(threadID)
	}

	t.Status = to
	t.UpdatedAt = time.Now()
	if err := s.threads.Save(ctx, t); err != nil {
		return nil, err
	}

	s.logger.Info("thread status updated",
		zap.String("thread_id", threadID),
		zap.String("status", string(to)),
	)
	return t, nil
}

// SaveCheckpoint 为线程保存一个新检查点并推进 latest 指针。
// 指针在检查点持久化成功后才更新，失败时线程记录保持原状。
func (s *Service) SaveCheckpoint(ctx context.Context, threadID, workflowID string, state, metadata types.State) (*checkpoint.Checkpoint, error) {
	t, err := s.threads.FindByID(ctx, threadID)
	if err != nil {
		return nil, err
	}

	cp, err := s.checkpoints.Save(ctx, threadID, workflowID, state, metadata)
	if err != nil {
		return nil, err
	}

	t.LatestCheckpointID = cp.ID
	t.UpdatedAt = time.Now()
	if err := s.threads.Save(ctx, t); err != nil {
		return nil, err
	}
	return cp, nil
}

// LatestState 返回线程最新检查点的状态；无检查点时返回空状态。
func (s *Service) LatestState(ctx context.Context, threadID string) (types.State, error) {
	if _, err := s.threads.FindByID(ctx, threadID); err != nil {
		return nil, err
	}
	cp, err := s.checkpoints.GetLatest(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return types.State{}, nil
	}
	return types.DeepCopyState(cp.State), nil
}

// Delete 级联删除线程：先并发删除其分支记录与快照，再删检查点，
// 最后删除线程本体。任一依赖删除失败则线程记录保持原状。
func (s *Service) Delete(ctx context.Context, threadID string) (bool, error) {
	if _, err := s.threads.FindByID(ctx, threadID); err != nil {
		if types.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.deleteBranches(gctx, threadID) })
	g.Go(func() error { return s.deleteSnapshots(gctx, threadID) })
	if err := g.Wait(); err != nil {
		s.logger.Error("thread cascade delete failed",
			zap.String("thread_id", threadID),
			zap.Error(err),
		)
		return false, err
	}

	if err := s.deleteCheckpoints(ctx, threadID); err != nil {
		return false, err
	}

	deleted, err := s.threads.Delete(ctx, threadID)
	if err != nil {
		return false, err
	}

	s.logger.Info("thread deleted", zap.String("thread_id", threadID))
	return deleted, nil
}

func (s *Service) deleteBranches(ctx context.Context, threadID string) error {
	branches, err := s.branches.FindBySourceThread(ctx, threadID)
	if err != nil {
		return err
	}
	for _, b := range branches {
		if _, err := s.branches.Delete(ctx, b.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) deleteSnapshots(ctx context.Context, threadID string) error {
	snapshots, err := s.snapshots.FindByThread(ctx, threadID)
	if err != nil {
		return err
	}
	for _, snap := range snapshots {
		if _, err := s.snapshots.Delete(ctx, snap.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) deleteCheckpoints(ctx context.Context, threadID string) error {
	cps, err := s.checkpoints.ListByThread(ctx, threadID)
	if err != nil {
		return err
	}
	for _, cp := range cps {
		if _, err := s.checkpoints.Delete(ctx, cp.ID); err != nil {
			return err
		}
	}
	return nil
}
