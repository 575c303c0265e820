package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/stateflow/types"
)

// checkpointRecord 检查点的 SQL 行模型。状态与元数据序列化为 JSON。
type checkpointRecord struct {
	ID                 string `gorm:"primaryKey;size:64"`
	ThreadID           string `gorm:"size:64;index:idx_checkpoint_thread_seq,priority:1"`
	WorkflowID         string `gorm:"size:64;index"`
	ParentCheckpointID string `gorm:"size:64"`
	SequenceNumber     uint64 `gorm:"index:idx_checkpoint_thread_seq,priority:2"`
	State              []byte
	Metadata           []byte
	CreatedAt          time.Time
}

// TableName 指定表名。
func (checkpointRecord) TableName() string {
	return "stateflow_checkpoints"
}

// GormStore GORM 检查点存储（PostgreSQL / SQLite）。
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore 创建 GORM 检查点存储并自动迁移表结构。
func NewGormStore(db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&checkpointRecord{}); err != nil {
		return nil, types.NewStorageError(types.ErrStorageConnection, "failed to migrate checkpoint table", err)
	}
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("store", "gorm_checkpoint")),
	}, nil
}

// Save 保存检查点。序号在事务内按 MAX+1 分配（单写者假设下无竞争）。
func (s *GormStore) Save(ctx context.Context, threadID, workflowID string, state, metadata types.State) (*Checkpoint, error) {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, types.NewStorageError(types.ErrStorageSerialization, "failed to marshal state", err).
			WithOp("save").WithThreadID(threadID)
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, types.NewStorageError(types.ErrStorageSerialization, "failed to marshal metadata", err).
			WithOp("save").WithThreadID(threadID)
	}

	rec := checkpointRecord{
		ID:         NewCheckpointID(),
		ThreadID:   threadID,
		WorkflowID: workflowID,
		State:      stateJSON,
		Metadata:   metaJSON,
		CreatedAt:  time.Now(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev checkpointRecord
		result := tx.Where("thread_id = ?", threadID).
			Order("sequence_number DESC").
			Limit(1).
			Find(&prev)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			rec.SequenceNumber = prev.SequenceNumber + 1
			rec.ParentCheckpointID = prev.ID
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return nil, s.storageError("save", threadID, "failed to persist checkpoint", err)
	}

	s.logger.Debug("checkpoint saved to sql",
		zap.String("checkpoint_id", rec.ID),
		zap.String("thread_id", threadID),
		zap.Uint64("sequence", rec.SequenceNumber),
	)

	return recordToCheckpoint(&rec)
}

// Get 按 ID 加载检查点。
func (s *GormStore) Get(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	var rec checkpointRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", checkpointID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewNotFoundError("checkpoint", checkpointID).WithOp("get")
	}
	if err != nil {
		return nil, s.storageError("get", "", "failed to load checkpoint", err)
	}
	return recordToCheckpoint(&rec)
}

// GetLatest 加载线程最新检查点；无检查点时返回 (nil, nil)。
func (s *GormStore) GetLatest(ctx context.Context, threadID string) (*Checkpoint, error) {
	var rec checkpointRecord
	result := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("sequence_number DESC").
		Limit(1).
		Find(&rec)
	if result.Error != nil {
		return nil, s.storageError("get_latest", threadID, "failed to load latest checkpoint", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return recordToCheckpoint(&rec)
}

// ListByThread 列出线程的所有检查点，新者在前。
func (s *GormStore) ListByThread(ctx context.Context, threadID string) ([]*Checkpoint, error) {
	var recs []checkpointRecord
	err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("sequence_number DESC").
		Find(&recs).Error
	if err != nil {
		return nil, s.storageError("list_by_thread", threadID, "failed to list checkpoints", err)
	}
	return recordsToCheckpoints(recs)
}

// GetByWorkflow 列出线程内属于指定工作流的检查点，新者在前。
func (s *GormStore) GetByWorkflow(ctx context.Context, threadID, workflowID string) ([]*Checkpoint, error) {
	var recs []checkpointRecord
	err := s.db.WithContext(ctx).
		Where("thread_id = ? AND workflow_id = ?", threadID, workflowID).
		Order("sequence_number DESC").
		Find(&recs).Error
	if err != nil {
		return nil, s.storageError("get_by_workflow", threadID, "failed to list checkpoints", err)
	}
	return recordsToCheckpoints(recs)
}

// Count 返回线程的检查点数量。
func (s *GormStore) Count(ctx context.Context, threadID string) (uint64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&checkpointRecord{}).
		Where("thread_id = ?", threadID).
		Count(&n).Error
	if err != nil {
		return 0, s.storageError("count", threadID, "failed to count checkpoints", err)
	}
	return uint64(n), nil
}

// Delete 删除检查点，返回是否确有删除。
func (s *GormStore) Delete(ctx context.Context, checkpointID string) (bool, error) {
	result := s.db.WithContext(ctx).Delete(&checkpointRecord{}, "id = ?", checkpointID)
	if result.Error != nil {
		return false, s.storageError("delete", "", "failed to delete checkpoint", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) storageError(op, threadID, message string, err error) error {
	s.logger.Error("sql checkpoint operation failed",
		zap.String("operation", op),
		zap.String("thread_id", threadID),
		zap.Error(err),
	)

	code := types.ErrStorageConnection
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		code = types.ErrStorageTimeout
	}
	return types.NewStorageError(code, message, err).WithOp(op).WithThreadID(threadID).WithRetryable(true)
}

func recordToCheckpoint(rec *checkpointRecord) (*Checkpoint, error) {
	cp := &Checkpoint{
		ID:                 rec.ID,
		ThreadID:           rec.ThreadID,
		WorkflowID:         rec.WorkflowID,
		ParentCheckpointID: rec.ParentCheckpointID,
		SequenceNumber:     rec.SequenceNumber,
		CreatedAt:          rec.CreatedAt,
	}
	if len(rec.State) > 0 {
		if err := json.Unmarshal(rec.State, &cp.State); err != nil {
			return nil, types.NewStorageError(types.ErrStorageSerialization, "failed to unmarshal state", err)
		}
	}
	if len(rec.Metadata) > 0 {
		if err := json.Unmarshal(rec.Metadata, &cp.Metadata); err != nil {
			return nil, types.NewStorageError(types.ErrStorageSerialization, "failed to unmarshal metadata", err)
		}
	}
	return cp, nil
}

func recordsToCheckpoints(recs []checkpointRecord) ([]*Checkpoint, error) {
	out := make([]*Checkpoint, 0, len(recs))
	for i := range recs {
		cp, err := recordToCheckpoint(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}
