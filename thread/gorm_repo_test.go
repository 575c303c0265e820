package thread

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/BaSui01/stateflow/checkpoint"
	"github.com/BaSui01/stateflow/types"
)

func newSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func TestGormRepository_RoundTrip(t *testing.T) {
	repo, err := NewGormRepository(newSQLiteDB(t), nil)
	require.NoError(t, err)
	ctx := context.Background()

	now := time.Now().Truncate(time.Millisecond)
	th := &Thread{
		ID:        "t-sql-1",
		GraphID:   "graph-1",
		Status:    StatusActive,
		Metadata:  types.State{"owner": "alice"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, repo.Save(ctx, th))

	got, err := repo.FindByID(ctx, "t-sql-1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, "alice", got.Metadata["owner"])

	// Save 具有 upsert 语义
	th.Status = StatusPaused
	th.LatestCheckpointID = "ckpt-1"
	require.NoError(t, repo.Save(ctx, th))

	got, err = repo.FindByID(ctx, "t-sql-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, got.Status)
	assert.Equal(t, "ckpt-1", got.LatestCheckpointID)

	deleted, err := repo.Delete(ctx, "t-sql-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = repo.FindByID(ctx, "t-sql-1")
	assert.True(t, types.IsNotFound(err))
}

func TestGormRepository_FindAllOrder(t *testing.T) {
	repo, err := NewGormRepository(newSQLiteDB(t), nil)
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Now().Truncate(time.Second)
	for i, id := range []string{"t-c", "t-a", "t-b"} {
		require.NoError(t, repo.Save(ctx, &Thread{
			ID:        id,
			GraphID:   "g",
			Status:    StatusCreated,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "t-c", all[0].ID)
	assert.Equal(t, "t-b", all[2].ID)
}

func TestGormBranchRepository_RoundTrip(t *testing.T) {
	repo, err := NewGormBranchRepository(newSQLiteDB(t), nil)
	require.NoError(t, err)
	ctx := context.Background()

	b := &Branch{
		ID:                 "b-1",
		SourceThreadID:     "t-src",
		SourceCheckpointID: "ckpt-1",
		NewThreadID:        "t-new",
		BranchName:         "alt",
		CreatedAt:          time.Now(),
	}
	require.NoError(t, repo.Save(ctx, b))

	got, err := repo.FindByID(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, "alt", got.BranchName)

	list, err := repo.FindBySourceThread(ctx, "t-src")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "t-new", list[0].NewThreadID)

	deleted, err := repo.Delete(ctx, "b-1")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestGormSnapshotRepository_RoundTrip(t *testing.T) {
	repo, err := NewGormSnapshotRepository(newSQLiteDB(t), nil)
	require.NoError(t, err)
	ctx := context.Background()

	s := &Snapshot{
		ID:        "s-1",
		ThreadID:  "t-1",
		Name:      "milestone",
		State:     types.State{"x": float64(1)},
		CreatedAt: time.Now(),
	}
	require.NoError(t, repo.Save(ctx, s))

	got, err := repo.FindByID(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, float64(1), got.State["x"])

	list, err := repo.FindByThread(ctx, "t-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	deleted, err := repo.Delete(ctx, "s-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = repo.FindByID(ctx, "s-1")
	assert.True(t, types.IsNotFound(err))
}

func TestGormRepositories_ServiceIntegration(t *testing.T) {
	db := newSQLiteDB(t)

	threads, err := NewGormRepository(db, nil)
	require.NoError(t, err)
	branches, err := NewGormBranchRepository(db, nil)
	require.NoError(t, err)
	snapshots, err := NewGormSnapshotRepository(db, nil)
	require.NoError(t, err)

	// SQL 仓库组合进完整服务栈后行为与内存实现一致
	cps, err := checkpoint.NewGormStore(db, nil)
	require.NoError(t, err)
	svc := NewService(threads, branches, snapshots, cps, nil)
	ctx := context.Background()

	th, err := svc.Create(ctx, "graph-sql", nil)
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, th.ID, StatusActive)
	require.NoError(t, err)
	cp, err := svc.SaveCheckpoint(ctx, th.ID, "wf-1", types.State{"x": float64(1)}, nil)
	require.NoError(t, err)

	got, err := svc.Get(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, cp.ID, got.LatestCheckpointID)

	deleted, err := svc.Delete(ctx, th.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
}
