package thread

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/stateflow/checkpoint"
	"github.com/BaSui01/stateflow/types"
)

func TestBranchManager_Fork(t *testing.T) {
	svc, bm, _ := newTestService(t)
	ctx := context.Background()

	src, err := svc.Create(ctx, "graph-1", nil)
	require.NoError(t, err)
	cp0, err := svc.SaveCheckpoint(ctx, src.ID, "wf-1", types.State{"step": "a"}, nil)
	require.NoError(t, err)
	_, err = svc.SaveCheckpoint(ctx, src.ID, "wf-1", types.State{"step": "b"}, nil)
	require.NoError(t, err)

	// 从第一个检查点分叉
	forked, err := bm.Fork(ctx, src.ID, cp0.ID, "alt-path")
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, forked.ID)
	assert.Equal(t, "graph-1", forked.GraphID)
	assert.Equal(t, StatusCreated, forked.Status)
	assert.Equal(t, src.ID, forked.Metadata["forked_from_thread"])

	// 新线程序号从 0 重新开始，状态取自分叉点而非最新
	cps, err := bm.checkpoints.ListByThread(ctx, forked.ID)
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.Equal(t, uint64(0), cps[0].SequenceNumber)
	assert.Equal(t, "a", cps[0].State["step"])
	assert.Equal(t, cp0.ID, cps[0].Metadata["parent_checkpoint_id"])
	assert.Equal(t, forked.LatestCheckpointID, cps[0].ID)

	branches, err := bm.ListBranches(ctx, src.ID)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, "alt-path", branches[0].BranchName)
	assert.Equal(t, forked.ID, branches[0].NewThreadID)
}

func TestBranchManager_ForkIsolation(t *testing.T) {
	svc, bm, _ := newTestService(t)
	ctx := context.Background()

	src, err := svc.Create(ctx, "graph-1", nil)
	require.NoError(t, err)
	cp, err := svc.SaveCheckpoint(ctx, src.ID, "wf-1", types.State{"x": 1}, nil)
	require.NoError(t, err)

	forked, err := bm.Fork(ctx, src.ID, cp.ID, "iso")
	require.NoError(t, err)

	// 两条时间线此后互不影响
	_, err = svc.SaveCheckpoint(ctx, src.ID, "wf-1", types.State{"x": 2}, nil)
	require.NoError(t, err)
	_, err = svc.SaveCheckpoint(ctx, forked.ID, "wf-1", types.State{"x": 100}, nil)
	require.NoError(t, err)

	srcState, err := svc.LatestState(ctx, src.ID)
	require.NoError(t, err)
	forkState, err := svc.LatestState(ctx, forked.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, srcState["x"])
	assert.Equal(t, 100, forkState["x"])

	srcCount, err := bm.checkpoints.Count(ctx, src.ID)
	require.NoError(t, err)
	forkCount, err := bm.checkpoints.Count(ctx, forked.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), srcCount)
	assert.Equal(t, uint64(2), forkCount)
}

func TestBranchManager_ForkDuplicateName(t *testing.T) {
	svc, bm, _ := newTestService(t)
	ctx := context.Background()

	src, err := svc.Create(ctx, "graph-1", nil)
	require.NoError(t, err)
	cp, err := svc.SaveCheckpoint(ctx, src.ID, "wf-1", types.State{"x": 1}, nil)
	require.NoError(t, err)

	_, err = bm.Fork(ctx, src.ID, cp.ID, "dup")
	require.NoError(t, err)
	_, err = bm.Fork(ctx, src.ID, cp.ID, "dup")
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
}

func TestBranchManager_ForkMissingCheckpoint(t *testing.T) {
	svc, bm, _ := newTestService(t)
	ctx := context.Background()

	src, err := svc.Create(ctx, "graph-1", nil)
	require.NoError(t, err)

	_, err = bm.Fork(ctx, src.ID, "no-such-checkpoint", "b")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestBranchManager_ForkForeignCheckpoint(t *testing.T) {
	svc, bm, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, "graph-1", nil)
	require.NoError(t, err)
	b, err := svc.Create(ctx, "graph-1", nil)
	require.NoError(t, err)
	cpB, err := svc.SaveCheckpoint(ctx, b.ID, "wf-1", types.State{"x": 1}, nil)
	require.NoError(t, err)

	// 检查点属于 b，不能用于 fork a
	_, err = bm.Fork(ctx, a.ID, cpB.ID, "cross")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

// failingSaveStore 在第 N 次 Save 时注入存储错误，用于验证回滚。
type failingSaveStore struct {
	checkpoint.Store
	calls   int
	failOn  int
	failErr error
}

func (s *failingSaveStore) Save(ctx context.Context, threadID, workflowID string, state, metadata types.State) (*checkpoint.Checkpoint, error) {
	s.calls++
	if s.calls == s.failOn {
		return nil, s.failErr
	}
	return s.Store.Save(ctx, threadID, workflowID, state, metadata)
}

func TestBranchManager_ForkRollbackOnCopyFailure(t *testing.T) {
	threads := NewMemoryRepository()
	branches := NewMemoryBranchRepository()
	snapshots := NewMemorySnapshotRepository()
	inner := checkpoint.NewMemoryStore(nil)
	// 第 2 次 Save 是 fork 的复制写入
	store := &failingSaveStore{
		Store:   inner,
		failOn:  2,
		failErr: types.NewStorageError(types.ErrStorageConnection, "write refused", nil),
	}

	svc := NewService(threads, branches, snapshots, store, nil)
	bm := NewBranchManager(threads, branches, store, nil)
	ctx := context.Background()

	src, err := svc.Create(ctx, "graph-1", nil)
	require.NoError(t, err)
	cp, err := svc.SaveCheckpoint(ctx, src.ID, "wf-1", types.State{"x": 1}, nil)
	require.NoError(t, err)

	_, err = bm.Fork(ctx, src.ID, cp.ID, "doomed")
	require.Error(t, err)
	assert.True(t, types.IsStorage(err))

	// 半成品线程已回滚，分支记录未持久化
	all, err := threads.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, src.ID, all[0].ID)

	recs, err := branches.FindBySourceThread(ctx, src.ID)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
