package checkpoint

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/stateflow/types"
)

// Checkpoint 工作流执行状态的持久化快照。
// 同一 thread 内 SequenceNumber 严格递增，父链接构成无环链。
type Checkpoint struct {
	ID                 string      `json:"id"`
	ThreadID           string      `json:"thread_id"`
	WorkflowID         string      `json:"workflow_id"`
	ParentCheckpointID string      `json:"parent_checkpoint_id,omitempty"`
	SequenceNumber     uint64      `json:"sequence_number"`
	State              types.State `json:"state"`
	Metadata           types.State `json:"metadata,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
}

// Clone 返回检查点的深拷贝（状态与元数据逐层复制）。
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.State = types.DeepCopyState(c.State)
	out.Metadata = types.DeepCopyState(c.Metadata)
	return &out
}

// Store 检查点存储契约。
//
// Save 必须为 threadID 原子分配下一个 SequenceNumber（调用方保证
// 单线程单写者）。读路径（GetLatest / ListByThread）在无数据时退化为
// nil / 空切片；Get 在缺失时返回 NOT_FOUND。其余存储故障以
// types.Error 的 STORAGE_* 族错误返回，核心不做重试。
type Store interface {
	// Save 持久化一个新检查点并分配序号，返回完整检查点。
	Save(ctx context.Context, threadID, workflowID string, state, metadata types.State) (*Checkpoint, error)

	// Get 按 ID 加载检查点。
	Get(ctx context.Context, checkpointID string) (*Checkpoint, error)

	// GetLatest 加载线程最新检查点；无检查点时返回 (nil, nil)。
	GetLatest(ctx context.Context, threadID string) (*Checkpoint, error)

	// ListByThread 列出线程的所有检查点，新者在前。
	ListByThread(ctx context.Context, threadID string) ([]*Checkpoint, error)

	// GetByWorkflow 列出线程内属于指定工作流的检查点，新者在前。
	GetByWorkflow(ctx context.Context, threadID, workflowID string) ([]*Checkpoint, error)

	// Count 返回线程的检查点数量。
	Count(ctx context.Context, threadID string) (uint64, error)

	// Delete 删除检查点，返回是否确有删除。
	Delete(ctx context.Context, checkpointID string) (bool, error)
}

// NewCheckpointID 生成检查点 ID。
func NewCheckpointID() string {
	return "ckpt_" + uuid.NewString()
}
