package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/config"
	"github.com/BaSui01/stateflow/state"
	"github.com/BaSui01/stateflow/thread"
	"github.com/BaSui01/stateflow/types"
)

func newMemoryEngine(t *testing.T) *Engine {
	t.Helper()

	cfg := config.DefaultConfig()
	eng, err := New(cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestEngine_EndToEnd(t *testing.T) {
	eng := newMemoryEngine(t)
	ctx := context.Background()

	// 创建并激活线程
	th, err := eng.CreateThread(ctx, "order-flow", types.State{"owner": "alice"})
	require.NoError(t, err)
	_, err = eng.UpdateThreadStatus(ctx, th.ID, thread.StatusActive)
	require.NoError(t, err)

	// 连续保存两个检查点
	cp0, err := eng.SaveCheckpoint(ctx, th.ID, "wf-1", types.State{"x": 1}, nil)
	require.NoError(t, err)
	cp1, err := eng.SaveCheckpoint(ctx, th.ID, "wf-1", types.State{"x": 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cp0.SequenceNumber)
	assert.Equal(t, uint64(1), cp1.SequenceNumber)
	assert.Equal(t, cp0.ID, cp1.ParentCheckpointID)

	list, err := eng.ListCheckpoints(ctx, th.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, cp1.ID, list[0].ID)

	// 从第一个检查点分叉
	forked, err := eng.ForkThread(ctx, th.ID, cp0.ID, "what-if")
	require.NoError(t, err)

	forkState, err := eng.LatestState(ctx, forked.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, forkState["x"])

	// 两条时间线独立推进
	_, err = eng.SaveCheckpoint(ctx, forked.ID, "wf-1", types.State{"x": 100}, nil)
	require.NoError(t, err)

	srcState, err := eng.LatestState(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, srcState["x"])

	branches, err := eng.ListBranches(ctx, th.ID)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, "what-if", branches[0].BranchName)
}

func TestEngine_ConflictResolutionLastWriteWins(t *testing.T) {
	eng := newMemoryEngine(t)
	ctx := context.Background()

	th, err := eng.CreateThread(ctx, "graph-1", nil)
	require.NoError(t, err)
	_, err = eng.SaveCheckpoint(ctx, th.ID, "wf-1", types.State{"x": 1, "y": "keep"}, nil)
	require.NoError(t, err)

	cp, unresolved, err := eng.UpdateStateWithConflictResolution(ctx, th.ID, types.State{"x": 2, "y": "keep", "z": true})
	require.NoError(t, err)
	assert.Empty(t, unresolved)
	assert.Equal(t, 2, cp.State["x"])
	assert.Equal(t, "keep", cp.State["y"])
	assert.Equal(t, true, cp.State["z"])
	assert.Equal(t, "last_write_wins", cp.Metadata["resolution_strategy"])

	// 每次调和登记一个状态版本
	assert.Equal(t, 1, eng.Versions().Len())
}

func TestEngine_ConflictResolutionMergeUnresolved(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Resolver.Strategy = "merge_changes"
	eng, err := New(cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer eng.Close()
	ctx := context.Background()

	th, err := eng.CreateThread(ctx, "graph-1", nil)
	require.NoError(t, err)
	_, err = eng.SaveCheckpoint(ctx, th.ID, "wf-1",
		types.State{"scalar": 1, "nested": map[string]any{"a": 1}}, nil)
	require.NoError(t, err)

	cp, unresolved, err := eng.UpdateStateWithConflictResolution(ctx, th.ID,
		types.State{"scalar": 2, "nested": map[string]any{"a": 1, "b": 2}})
	require.NoError(t, err)

	// 嵌套新增字段直接并入
	nested := cp.State["nested"].(map[string]any)
	assert.Equal(t, 1, nested["a"])
	assert.Equal(t, 2, nested["b"])

	// 非 map 值变更回落 LWW 但标记未解决
	assert.Equal(t, 2, cp.State["scalar"])
	require.Len(t, unresolved, 1)
	assert.Equal(t, "scalar", unresolved[0].FieldPath)
}

func TestEngine_CustomResolution(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Resolver.Strategy = "custom"
	eng, err := New(cfg,
		WithLogger(zap.NewNop()),
		WithCustomResolution(func(old, new types.State, c state.FieldConflict) (any, error) {
			return "custom:" + c.FieldPath, nil
		}),
	)
	require.NoError(t, err)
	defer eng.Close()
	ctx := context.Background()

	th, err := eng.CreateThread(ctx, "graph-1", nil)
	require.NoError(t, err)
	_, err = eng.SaveCheckpoint(ctx, th.ID, "wf-1", types.State{"x": 1}, nil)
	require.NoError(t, err)

	cp, unresolved, err := eng.UpdateStateWithConflictResolution(ctx, th.ID, types.State{"x": 2})
	require.NoError(t, err)
	assert.Empty(t, unresolved)
	assert.Equal(t, "custom:x", cp.State["x"])
}

func TestEngine_CustomStrategyRequiresCallback(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Resolver.Strategy = "custom"

	_, err := New(cfg, WithLogger(zap.NewNop()))
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
}

func TestEngine_SnapshotFlow(t *testing.T) {
	eng := newMemoryEngine(t)
	ctx := context.Background()

	th, err := eng.CreateThread(ctx, "graph-1", nil)
	require.NoError(t, err)
	_, err = eng.SaveCheckpoint(ctx, th.ID, "wf-1", types.State{"x": 1}, nil)
	require.NoError(t, err)

	snap, err := eng.CreateSnapshot(ctx, th.ID, "before-risky-step", "")
	require.NoError(t, err)

	_, err = eng.SaveCheckpoint(ctx, th.ID, "wf-1", types.State{"x": 99}, nil)
	require.NoError(t, err)

	cp, err := eng.RestoreSnapshot(ctx, th.ID, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cp.State["x"])

	st, err := eng.LatestState(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st["x"])

	snaps, err := eng.ListSnapshots(ctx, th.ID)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)

	deleted, err := eng.DeleteSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestEngine_DetectConflicts(t *testing.T) {
	eng := newMemoryEngine(t)

	conflicts := eng.DetectConflicts(
		types.State{"a": 1, "b": "x"},
		types.State{"a": 2, "c": true},
	)
	require.Len(t, conflicts, 3)
}

func TestEngine_DeleteThread(t *testing.T) {
	eng := newMemoryEngine(t)
	ctx := context.Background()

	th, err := eng.CreateThread(ctx, "graph-1", nil)
	require.NoError(t, err)
	_, err = eng.SaveCheckpoint(ctx, th.ID, "wf-1", types.State{"x": 1}, nil)
	require.NoError(t, err)
	_, err = eng.CreateSnapshot(ctx, th.ID, "s", "")
	require.NoError(t, err)

	deleted, err := eng.DeleteThread(ctx, th.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = eng.GetThread(ctx, th.ID)
	assert.True(t, types.IsNotFound(err))
}

func TestEngine_SQLiteBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = "sqlite"
	cfg.Database.Name = fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())

	eng, err := New(cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer eng.Close()
	ctx := context.Background()

	th, err := eng.CreateThread(ctx, "graph-sql", nil)
	require.NoError(t, err)
	cp, err := eng.SaveCheckpoint(ctx, th.ID, "wf-1", types.State{"x": float64(1)}, nil)
	require.NoError(t, err)

	got, err := eng.GetCheckpoint(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(1), got.State["x"])

	loaded, err := eng.GetThread(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, cp.ID, loaded.LatestCheckpointID)
}

func TestEngine_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := config.DefaultConfig()
	cfg.Storage.Backend = "redis"
	cfg.Redis.Addr = mr.Addr()

	eng, err := New(cfg, WithLogger(zap.NewNop()), WithRedisClient(client))
	require.NoError(t, err)
	defer eng.Close()
	ctx := context.Background()

	th, err := eng.CreateThread(ctx, "graph-redis", nil)
	require.NoError(t, err)
	cp0, err := eng.SaveCheckpoint(ctx, th.ID, "wf-1", types.State{"x": float64(1)}, nil)
	require.NoError(t, err)
	_, err = eng.SaveCheckpoint(ctx, th.ID, "wf-1", types.State{"x": float64(2)}, nil)
	require.NoError(t, err)

	forked, err := eng.ForkThread(ctx, th.ID, cp0.ID, "redis-branch")
	require.NoError(t, err)

	st, err := eng.LatestState(ctx, forked.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(1), st["x"])
}

func TestEngine_MetricsEnabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Metrics.Enabled = true

	eng, err := New(cfg,
		WithLogger(zap.NewNop()),
		WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	defer eng.Close()
	ctx := context.Background()

	th, err := eng.CreateThread(ctx, "graph-1", nil)
	require.NoError(t, err)
	_, err = eng.SaveCheckpoint(ctx, th.ID, "wf-1", types.State{"x": 1}, nil)
	require.NoError(t, err)
	_, _, err = eng.UpdateStateWithConflictResolution(ctx, th.ID, types.State{"x": 2})
	require.NoError(t, err)
}

func TestEngine_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = "cassandra"

	_, err := New(cfg, WithLogger(zap.NewNop()))
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
}

func TestEngine_NilConfigUsesDefaults(t *testing.T) {
	eng, err := New(nil, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer eng.Close()

	_, err = eng.CreateThread(context.Background(), "graph-default", nil)
	require.NoError(t, err)
}
