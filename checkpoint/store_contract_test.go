package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/stateflow/types"
)

// testStoreContract 对任一 Store 实现运行同一组契约测试。
// 状态值只用 JSON 往返安全的类型（string / float64 / bool），
// 使序列化后端与内存后端行为一致。
func testStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	t.Run("save allocates increasing sequence numbers", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		var lastSeq uint64
		for i := 0; i < 5; i++ {
			cp, err := store.Save(ctx, "t-seq", "wf-1", types.State{"step": float64(i)}, nil)
			require.NoError(t, err)
			require.NotEmpty(t, cp.ID)
			if i == 0 {
				assert.Equal(t, uint64(0), cp.SequenceNumber)
				assert.Empty(t, cp.ParentCheckpointID)
			} else {
				assert.Greater(t, cp.SequenceNumber, lastSeq)
			}
			lastSeq = cp.SequenceNumber
		}
	})

	t.Run("parent links form a chain", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		first, err := store.Save(ctx, "t-chain", "wf-1", types.State{"v": "a"}, nil)
		require.NoError(t, err)
		second, err := store.Save(ctx, "t-chain", "wf-1", types.State{"v": "b"}, nil)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ParentCheckpointID)
	})

	t.Run("get latest", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		// 空线程退化为 nil
		cp, err := store.GetLatest(ctx, "t-empty")
		require.NoError(t, err)
		assert.Nil(t, cp)

		_, err = store.Save(ctx, "t-latest", "wf-1", types.State{"v": "old"}, nil)
		require.NoError(t, err)
		want, err := store.Save(ctx, "t-latest", "wf-1", types.State{"v": "new"}, nil)
		require.NoError(t, err)

		got, err := store.GetLatest(ctx, "t-latest")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, "new", got.State["v"])
	})

	t.Run("list newest first", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		list, err := store.ListByThread(ctx, "t-nobody")
		require.NoError(t, err)
		assert.Empty(t, list)

		for i := 0; i < 3; i++ {
			_, err := store.Save(ctx, "t-list", "wf-1", types.State{"step": float64(i)}, nil)
			require.NoError(t, err)
		}

		list, err = store.ListByThread(ctx, "t-list")
		require.NoError(t, err)
		require.Len(t, list, 3)
		for i := 0; i < len(list)-1; i++ {
			assert.Greater(t, list[i].SequenceNumber, list[i+1].SequenceNumber)
		}
	})

	t.Run("get by workflow filters", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.Save(ctx, "t-wf", "wf-a", types.State{"v": "1"}, nil)
		require.NoError(t, err)
		_, err = store.Save(ctx, "t-wf", "wf-b", types.State{"v": "2"}, nil)
		require.NoError(t, err)
		_, err = store.Save(ctx, "t-wf", "wf-a", types.State{"v": "3"}, nil)
		require.NoError(t, err)

		onlyA, err := store.GetByWorkflow(ctx, "t-wf", "wf-a")
		require.NoError(t, err)
		require.Len(t, onlyA, 2)
		for _, cp := range onlyA {
			assert.Equal(t, "wf-a", cp.WorkflowID)
		}
	})

	t.Run("count and delete", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		cp, err := store.Save(ctx, "t-del", "wf-1", types.State{"v": "x"}, nil)
		require.NoError(t, err)

		n, err := store.Count(ctx, "t-del")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), n)

		deleted, err := store.Delete(ctx, cp.ID)
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = store.Delete(ctx, cp.ID)
		require.NoError(t, err)
		assert.False(t, deleted, "second delete is a no-op")

		n, err = store.Count(ctx, "t-del")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), n)
	})

	t.Run("get missing checkpoint is NOT_FOUND", func(t *testing.T) {
		store := newStore(t)

		_, err := store.Get(context.Background(), "ckpt_missing")
		assert.True(t, types.IsNotFound(err))
	})

	t.Run("threads are isolated", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		a, err := store.Save(ctx, "t-a", "wf-1", types.State{"who": "a"}, nil)
		require.NoError(t, err)
		b, err := store.Save(ctx, "t-b", "wf-1", types.State{"who": "b"}, nil)
		require.NoError(t, err)

		// 各自的首个检查点序号都从 0 开始
		assert.Equal(t, uint64(0), a.SequenceNumber)
		assert.Equal(t, uint64(0), b.SequenceNumber)

		latestA, err := store.GetLatest(ctx, "t-a")
		require.NoError(t, err)
		assert.Equal(t, "a", latestA.State["who"])
	})

	t.Run("metadata round trip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		meta := types.State{"trigger": "manual", "forked_from": "ckpt_x"}
		cp, err := store.Save(ctx, "t-meta", "wf-1", types.State{"v": "x"}, meta)
		require.NoError(t, err)

		loaded, err := store.Get(ctx, cp.ID)
		require.NoError(t, err)
		assert.Equal(t, "manual", loaded.Metadata["trigger"])
		assert.Equal(t, "ckpt_x", loaded.Metadata["forked_from"])
	})
}
