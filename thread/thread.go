package thread

import (
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/stateflow/types"
)

// Status 定义线程生命周期状态
type Status string

const (
	StatusCreated   Status = "created"   // Created, no execution yet
	StatusActive    Status = "active"    // Executing
	StatusPaused    Status = "paused"    // Paused (waiting for human/external input)
	StatusCompleted Status = "completed" // Completed (terminal)
	StatusFailed    Status = "failed"    // Failed (terminal)
	StatusArchived  Status = "archived"  // Archived (terminal)
)

// validTransitions 定义合法的状态转换
var validTransitions = map[Status][]Status{
	StatusCreated:   {StatusActive},
	StatusActive:    {StatusPaused, StatusCompleted, StatusFailed, StatusArchived},
	StatusPaused:    {StatusActive, StatusCompleted, StatusFailed, StatusArchived},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusArchived:  {},
}

// CanTransition 检查状态转换是否合法。纯函数，不触碰任何状态。
func CanTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal 判断状态是否为终态。
func IsTerminal(s Status) bool {
	return len(validTransitions[s]) == 0 && s != ""
}

// Thread 一条执行时间线：同一工作流图的一个有序检查点序列。
type Thread struct {
	ID                 string      `json:"id"`
	GraphID            string      `json:"graph_id"`
	Status             Status      `json:"status"`
	LatestCheckpointID string      `json:"latest_checkpoint_id,omitempty"`
	Metadata           types.State `json:"metadata,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// Clone 返回线程的深拷贝。
func (t *Thread) Clone() *Thread {
	if t == nil {
		return nil
	}
	out := *t
	out.Metadata = types.DeepCopyState(t.Metadata)
	return &out
}

// Branch 记录一次 fork：从源线程的某个检查点分叉出的新线程。
// (SourceThreadID, BranchName) 唯一。
type Branch struct {
	ID                 string    `json:"id"`
	SourceThreadID     string    `json:"source_thread_id"`
	SourceCheckpointID string    `json:"source_checkpoint_id"`
	NewThreadID        string    `json:"new_thread_id"`
	BranchName         string    `json:"branch_name"`
	CreatedAt          time.Time `json:"created_at"`
}

// Snapshot 命名保存点：独立于检查点序号的即时状态捕获。
// 内嵌捕获时状态的深拷贝，(ThreadID, Name) 唯一。
type Snapshot struct {
	ID          string      `json:"id"`
	ThreadID    string      `json:"thread_id"`
	Name        string      `json:"name"`
	State       types.State `json:"state"`
	Description string      `json:"description,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// NewThreadID 生成线程 ID。
func NewThreadID() string {
	return "thread_" + uuid.NewString()
}

// NewBranchID 生成分支 ID。
func NewBranchID() string {
	return "branch_" + uuid.NewString()
}

// NewSnapshotID 生成快照 ID。
func NewSnapshotID() string {
	return "snap_" + uuid.NewString()
}
