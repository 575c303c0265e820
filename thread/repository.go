package thread

import "context"

// Repository 线程持久化接口
type Repository interface {
	// Save 插入或更新线程
	Save(ctx context.Context, t *Thread) error

	// FindByID 按 ID 查找线程，不存在时返回 NOT_FOUND
	FindByID(ctx context.Context, id string) (*Thread, error)

	// FindAll 返回全部线程，按创建时间升序
	FindAll(ctx context.Context) ([]*Thread, error)

	// Delete 删除线程，返回是否实际删除
	Delete(ctx context.Context, id string) (bool, error)
}

// BranchRepository 分支记录持久化接口
type BranchRepository interface {
	Save(ctx context.Context, b *Branch) error

	FindByID(ctx context.Context, id string) (*Branch, error)

	// FindBySourceThread 返回从指定源线程分叉出的全部分支记录
	FindBySourceThread(ctx context.Context, sourceThreadID string) ([]*Branch, error)

	Delete(ctx context.Context, id string) (bool, error)
}

// SnapshotRepository 快照持久化接口
type SnapshotRepository interface {
	Save(ctx context.Context, s *Snapshot) error

	FindByID(ctx context.Context, id string) (*Snapshot, error)

	// FindByThread 返回指定线程的全部快照，按创建时间升序
	FindByThread(ctx context.Context, threadID string) ([]*Snapshot, error)

	Delete(ctx context.Context, id string) (bool, error)
}
