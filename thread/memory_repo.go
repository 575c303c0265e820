package thread

import (
	"context"
	"sort"
	"sync"

	"github.com/BaSui01/stateflow/types"
)

// MemoryRepository 内存线程仓库，适合测试与单机场景
type MemoryRepository struct {
	mu      sync.RWMutex
	threads map[string]*Thread
}

// NewMemoryRepository 创建内存线程仓库
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{threads: make(map[string]*Thread)}
}

func (r *MemoryRepository) Save(ctx context.Context, t *Thread) error {
	if err := ctx.Err(); err != nil {
		return types.NewStorageError(types.ErrStorageTimeout, "context cancelled", err).
			WithOp("thread.save")
	}
	if t == nil || t.ID == "" {
		return types.NewValidationError("thread id is required").WithOp("thread.save")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads[t.ID] = t.Clone()
	return nil
}

func (r *MemoryRepository) FindByID(ctx context.Context, id string) (*Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.threads[id]
	if !ok {
		return nil, types.NewNotFoundError("thread", id).WithOp("thread.find")
	}
	return t.Clone(), nil
}

func (r *MemoryRepository) FindAll(ctx context.Context) ([]*Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Thread, 0, len(r.threads))
	for _, t := range r.threads {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.threads[id]; !ok {
		return false, nil
	}
	delete(r.threads, id)
	return true, nil
}

// MemoryBranchRepository 内存分支仓库
type MemoryBranchRepository struct {
	mu       sync.RWMutex
	branches map[string]*Branch
}

// NewMemoryBranchRepository 创建内存分支仓库
func NewMemoryBranchRepository() *MemoryBranchRepository {
	return &MemoryBranchRepository{branches: make(map[string]*Branch)}
}

func (r *MemoryBranchRepository) Save(ctx context.Context, b *Branch) error {
	if b == nil || b.ID == "" {
		return types.NewValidationError("branch id is required").WithOp("branch.save")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *b
	r.branches[b.ID] = &cp
	return nil
}

func (r *MemoryBranchRepository) FindByID(ctx context.Context, id string) (*Branch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.branches[id]
	if !ok {
		return nil, types.NewNotFoundError("branch", id).WithOp("branch.find")
	}
	cp := *b
	return &cp, nil
}

func (r *MemoryBranchRepository) FindBySourceThread(ctx context.Context, sourceThreadID string) ([]*Branch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Branch
	for _, b := range r.branches {
		if b.SourceThreadID == sourceThreadID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryBranchRepository) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.branches[id]; !ok {
		return false, nil
	}
	delete(r.branches, id)
	return true, nil
}

// MemorySnapshotRepository 内存快照仓库
type MemorySnapshotRepository struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewMemorySnapshotRepository 创建内存快照仓库
func NewMemorySnapshotRepository() *MemorySnapshotRepository {
	return &MemorySnapshotRepository{snapshots: make(map[string]*Snapshot)}
}

func (r *MemorySnapshotRepository) Save(ctx context.Context, s *Snapshot) error {
	if s == nil || s.ID == "" {
		return types.NewValidationError("snapshot id is required").WithOp("snapshot.save")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[s.ID] = cloneSnapshot(s)
	return nil
}

func (r *MemorySnapshotRepository) FindByID(ctx context.Context, id string) (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.snapshots[id]
	if !ok {
		return nil, types.NewNotFoundError("snapshot", id).WithOp("snapshot.find")
	}
	return cloneSnapshot(s), nil
}

func (r *MemorySnapshotRepository) FindByThread(ctx context.Context, threadID string) ([]*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Snapshot
	for _, s := range r.snapshots {
		if s.ThreadID == threadID {
			out = append(out, cloneSnapshot(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemorySnapshotRepository) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.snapshots[id]; !ok {
		return false, nil
	}
	delete(r.snapshots, id)
	return true, nil
}

func cloneSnapshot(s *Snapshot) *Snapshot {
	cp := *s
	cp.State = types.DeepCopyState(s.State)
	return &cp
}
