package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveCheckpoint 以 thread_id 为键覆盖写入状态快照。
func (s *Storage) SaveCheckpoint(ctx context.Context, threadID, nextNode, status string, state []byte) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if threadID == "" {
		return errors.New("thread id is required")
	}

	cp := Checkpoint{
		ThreadID:  threadID,
		StateJSON: string(state),
		NextNode:  nextNode,
		Status:    status,
		UpdatedAt: time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "thread_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state_json", "next_node", "status", "updated_at"}),
	}).Create(&cp).Error
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint 返回线程最近一次保存的状态快照；线程不存在时返回 (nil, nil)。
func (s *Storage) LoadCheckpoint(ctx context.Context, threadID string) ([]byte, error) {
	cp, err := s.GetCheckpoint(ctx, threadID)
	if err != nil {
		var nf notFoundError
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, err
	}
	return []byte(cp.StateJSON), nil
}

func (s *Storage) GetCheckpoint(ctx context.Context, threadID string) (*Checkpoint, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	var cp Checkpoint
	err := s.db.WithContext(ctx).Where("thread_id = ?", threadID).Take(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError{Entity: "checkpoint", ID: threadID}
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return &cp, nil
}

type CheckpointQuery struct {
	// Status 精确匹配（running/completed），为空不过滤。
	Status string
	// Limit 限制返回条数；<=0 使用默认值。
	Limit int
}

// ListCheckpoints 按更新时间倒序列出检查点（不含状态正文）。
func (s *Storage) ListCheckpoints(ctx context.Context, q CheckpointQuery) ([]Checkpoint, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	db := s.db.WithContext(ctx).Model(&Checkpoint{}).
		Select("thread_id", "next_node", "status", "updated_at")
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}
	var out []Checkpoint
	if err := db.Order("updated_at DESC").Limit(normalizeLimit(q.Limit)).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return out, nil
}

func (s *Storage) CountCheckpoints(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&Checkpoint{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count checkpoints: %w", err)
	}
	return n, nil
}

// DeleteCheckpointsBeforeLimited 删除 updated_at 早于 before 且已完成的检查点，单次最多 limit 条。
// 仍处于 running 的检查点保留，以便后续恢复。
func (s *Storage) DeleteCheckpointsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}

	limit = normalizeDeleteLimit(limit)

	var ids []string
	db := s.db.WithContext(ctx).Model(&Checkpoint{}).
		Select("thread_id").
		Where("updated_at < ? AND status <> ?", before, "running").
		Order("updated_at ASC").
		Limit(limit)
	if err := db.Find(&ids).Error; err != nil {
		return 0, fmt.Errorf("select checkpoint ids: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Where("thread_id IN ?", ids).Delete(&Checkpoint{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete checkpoints: %w", res.Error)
	}
	return res.RowsAffected, nil
}
