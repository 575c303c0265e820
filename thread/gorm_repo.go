package thread

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/stateflow/types"
)

// threadRecord 线程的 SQL 行模型。
type threadRecord struct {
	ID                 string `gorm:"primaryKey;size:64"`
	GraphID            string `gorm:"size:64;index"`
	Status             string `gorm:"size:16"`
	LatestCheckpointID string `gorm:"size:64"`
	Metadata           []byte
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (threadRecord) TableName() string {
	return "stateflow_threads"
}

// branchRecord 分支的 SQL 行模型。(source_thread_id, branch_name) 唯一。
type branchRecord struct {
	ID                 string `gorm:"primaryKey;size:64"`
	SourceThreadID     string `gorm:"size:64;uniqueIndex:idx_branch_source_name,priority:1"`
	SourceCheckpointID string `gorm:"size:64"`
	NewThreadID        string `gorm:"size:64"`
	BranchName         string `gorm:"size:128;uniqueIndex:idx_branch_source_name,priority:2"`
	CreatedAt          time.Time
}

func (branchRecord) TableName() string {
	return "stateflow_branches"
}

// snapshotRecord 快照的 SQL 行模型。(thread_id, name) 唯一。
type snapshotRecord struct {
	ID          string `gorm:"primaryKey;size:64"`
	ThreadID    string `gorm:"size:64;uniqueIndex:idx_snapshot_thread_name,priority:1"`
	Name        string `gorm:"size:128;uniqueIndex:idx_snapshot_thread_name,priority:2"`
	State       []byte
	Description string `gorm:"size:512"`
	CreatedAt   time.Time
}

func (snapshotRecord) TableName() string {
	return "stateflow_snapshots"
}

// GormRepository GORM 线程仓库（PostgreSQL / SQLite）。
type GormRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormRepository 创建 GORM 线程仓库并自动迁移表结构。
func NewGormRepository(db *gorm.DB, logger *zap.Logger) (*GormRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&threadRecord{}); err != nil {
		return nil, types.NewStorageError(types.ErrStorageConnection, "failed to migrate thread table", err)
	}
	return &GormRepository{
		db:     db,
		logger: logger.With(zap.String("store", "gorm_thread")),
	}, nil
}

func (r *GormRepository) Save(ctx context.Context, t *Thread) error {
	if t == nil || t.ID == "" {
		return types.NewValidationError("thread id is required").WithOp("thread.save")
	}
	metaJSON, err := json.Marshal(t.Metadata)
	if err != nil {
		return types.NewStorageError(types.ErrStorageSerialization, "failed to marshal thread metadata", err).
			WithOp("thread.save").WithThreadID(t.ID)
	}
	rec := threadRecord{
		ID:                 t.ID,
		GraphID:            t.GraphID,
		Status:             string(t.Status),
		LatestCheckpointID: t.LatestCheckpointID,
		Metadata:           metaJSON,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
	if err := r.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return r.storageError("thread.save", t.ID, "failed to persist thread", err)
	}
	return nil
}

func (r *GormRepository) FindByID(ctx context.Context, id string) (*Thread, error) {
	var rec threadRecord
	err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewNotFoundError("thread", id).WithOp("thread.find")
	}
	if err != nil {
		return nil, r.storageError("thread.find", id, "failed to load thread", err)
	}
	return recordToThread(&rec)
}

func (r *GormRepository) FindAll(ctx context.Context) ([]*Thread, error) {
	var recs []threadRecord
	err := r.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&recs).Error
	if err != nil {
		return nil, r.storageError("thread.find_all", "", "failed to list threads", err)
	}
	out := make([]*Thread, 0, len(recs))
	for i := range recs {
		t, err := recordToThread(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *GormRepository) Delete(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).Delete(&threadRecord{}, "id = ?", id)
	if result.Error != nil {
		return false, r.storageError("thread.delete", id, "failed to delete thread", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *GormRepository) storageError(op, threadID, message string, err error) error {
	r.logger.Error("sql thread operation failed",
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

func recordToThread(rec *threadRecord) (*Thread, error) {
	t := &Thread{
		ID:                 rec.ID,
		GraphID:            rec.GraphID,
		Status:             Status(rec.Status),
		LatestCheckpointID: rec.LatestCheckpointID,
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.UpdatedAt,
	}
	if len(rec.Metadata) > 0 {
		if err := json.Unmarshal(rec.Metadata, &t.Metadata); err != nil {
			return nil, types.NewStorageError(types.ErrStorageSerialization, "failed to unmarshal thread metadata", err)
		}
	}
	return t, nil
}

// GormBranchRepository GORM 分支仓库。
type GormBranchRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormBranchRepository 创建 GORM 分支仓库并自动迁移表结构。
func NewGormBranchRepository(db *gorm.DB, logger *zap.Logger) (*GormBranchRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&branchRecord{}); err != nil {
		return nil, types.NewStorageError(types.ErrStorageConnection, "failed to migrate branch table", err)
	}
	return &GormBranchRepository{
		db:     db,
		logger: logger.With(zap.String("store", "gorm_branch")),
	}, nil
}

func (r *GormBranchRepository) Save(ctx context.Context, b *Branch) error {
	if b == nil || b.ID == "" {
		return types.NewValidationError("branch id is required").WithOp("branch.save")
	}
	rec := branchRecord{
		ID:                 b.ID,
		SourceThreadID:     b.SourceThreadID,
		SourceCheckpointID: b.SourceCheckpointID,
		NewThreadID:        b.NewThreadID,
		BranchName:         b.BranchName,
		CreatedAt:          b.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return r.storageError("branch.save", b.SourceThreadID, "failed to persist branch", err)
	}
	return nil
}

func (r *GormBranchRepository) FindByID(ctx context.Context, id string) (*Branch, error) {
	var rec branchRecord
	err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewNotFoundError("branch", id).WithOp("branch.find")
	}
	if err != nil {
		return nil, r.storageError("branch.find", "", "failed to load branch", err)
	}
	return recordToBranch(&rec), nil
}

func (r *GormBranchRepository) FindBySourceThread(ctx context.Context, sourceThreadID string) ([]*Branch, error) {
	var recs []branchRecord
	err := r.db.WithContext(ctx).
		Where("source_thread_id = ?", sourceThreadID).
		Order("created_at ASC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, r.storageError("branch.find_by_source", sourceThreadID, "failed to list branches", err)
	}
	out := make([]*Branch, 0, len(recs))
	for i := range recs {
		out = append(out, recordToBranch(&recs[i]))
	}
	return out, nil
}

func (r *GormBranchRepository) Delete(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).Delete(&branchRecord{}, "id = ?", id)
	if result.Error != nil {
		return false, r.storageError("branch.delete", "", "failed to delete branch", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *GormBranchRepository) storageError(op, threadID, message string, err error) error {
	r.logger.Error("sql branch operation failed",
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

func recordToBranch(rec *branchRecord) *Branch {
	return &Branch{
		ID:                 rec.ID,
		SourceThreadID:     rec.SourceThreadID,
		SourceCheckpointID: rec.SourceCheckpointID,
		NewThreadID:        rec.NewThreadID,
		BranchName:         rec.BranchName,
		CreatedAt:          rec.CreatedAt,
	}
}

// GormSnapshotRepository GORM 快照仓库。
type GormSnapshotRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormSnapshotRepository 创建 GORM 快照仓库并自动迁移表结构。
func NewGormSnapshotRepository(db *gorm.DB, logger *zap.Logger) (*GormSnapshotRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&snapshotRecord{}); err != nil {
		return nil, types.NewStorageError(types.ErrStorageConnection, "failed to migrate snapshot table", err)
	}
	return &GormSnapshotRepository{
		db:     db,
		logger: logger.With(zap.String("store", "gorm_snapshot")),
	}, nil
}

func (r *GormSnapshotRepository) Save(ctx context.Context, s *Snapshot) error {
	if s == nil || s.ID == "" {
		return types.NewValidationError("snapshot id is required").WithOp("snapshot.save")
	}
	stateJSON, err := json.Marshal(s.State)
	if err != nil {
		return types.NewStorageError(types.ErrStorageSerialization, "failed to marshal snapshot state", err).
			WithOp("snapshot.save").WithThreadID(s.ThreadID)
	}
	rec := snapshotRecord{
		ID:          s.ID,
		ThreadID:    s.ThreadID,
		Name:        s.Name,
		State:       stateJSON,
		Description: s.Description,
		CreatedAt:   s.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return r.storageError("snapshot.save", s.ThreadID, "failed to persist snapshot", err)
	}
	return nil
}

func (r *GormSnapshotRepository) FindByID(ctx context.Context, id string) (*Snapshot, error) {
	var rec snapshotRecord
	err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewNotFoundError("snapshot", id).WithOp("snapshot.find")
	}
	if err != nil {
		return nil, r.storageError("snapshot.find", "", "failed to load snapshot", err)
	}
	return recordToSnapshot(&rec)
}

func (r *GormSnapshotRepository) FindByThread(ctx context.Context, threadID string) ([]*Snapshot, error) {
	var recs []snapshotRecord
	err := r.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at ASC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, r.storageError("snapshot.find_by_thread", threadID, "failed to list snapshots", err)
	}
	out := make([]*Snapshot, 0, len(recs))
	for i := range recs {
		s, err := recordToSnapshot(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *GormSnapshotRepository) Delete(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).Delete(&snapshotRecord{}, "id = ?", id)
	if result.Error != nil {
		return false, r.storageError("snapshot.delete", "", "failed to delete snapshot", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *GormSnapshotRepository) storageError(op, threadID, message string, err error) error {
	r.logger.Error("sql snapshot operation failed",
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

func recordToSnapshot(rec *snapshotRecord) (*Snapshot, error) {
	s := &Snapshot{
		ID:          rec.ID,
		ThreadID:    rec.ThreadID,
		Name:        rec.Name,
		Description: rec.Description,
		CreatedAt:   rec.CreatedAt,
	}
	if len(rec.State) > 0 {
		if err := json.Unmarshal(rec.State, &s.State); err != nil {
			return nil, types.NewStorageError(types.ErrStorageSerialization, "failed to unmarshal snapshot state", err)
		}
	}
	return s, nil
}
