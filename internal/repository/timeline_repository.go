package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/timeline-fanout/internal/feed"
	"github.com/d60-Lab/timeline-fanout/internal/model"
)

// TimelineRepository 时间线持久化存储（系统的事实来源）
type TimelineRepository interface {
	// Append 幂等追加一项并把该用户时间线裁剪到 max 条；返回是否新插入
	Append(ctx context.Context, userID string, e feed.Entry, max int) (bool, error)
	// List 按 (posted_at desc, post_id desc) 返回最新的 limit 条
	List(ctx context.Context, userID string, limit int) ([]feed.Entry, error)
	Count(ctx context.Context, userID string) (int64, error)
}

type timelineRepository struct{ db *gorm.DB }

func NewTimelineRepository(db *gorm.DB) TimelineRepository { return &timelineRepository{db: db} }

func (r *timelineRepository) Append(ctx context.Context, userID string, e feed.Entry, max int) (bool, error) {
	var inserted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := &model.TimelineEntry{
			ID:         uuid.New().String(),
			UserID:     userID,
			PostID:     e.PostID,
			AuthorID:   e.AuthorID,
			PostedAt:   e.CreatedAt,
			Source:     e.Source.String(),
			InsertedAt: time.Now(),
		}
		// upsert ignore duplicates
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected > 0
		if !inserted || max <= 0 {
			return nil
		}
		// 滚动窗口：超出上限的最旧条目直接丢弃，不归档
		return tx.Exec(`
            DELETE FROM timeline_entries
            WHERE user_id = ? AND id NOT IN (
                SELECT id FROM timeline_entries
                WHERE user_id = ?
                ORDER BY posted_at DESC, post_id DESC
                LIMIT ?
            )
        `, userID, userID, max).Error
	})
	return inserted, err
}

func (r *timelineRepository) List(ctx context.Context, userID string, limit int) ([]feed.Entry, error) {
	var rows []model.TimelineEntry
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("posted_at DESC, post_id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]feed.Entry, len(rows))
	for i := range rows {
		out[i] = rows[i].ToEntry()
	}
	return out, nil
}

func (r *timelineRepository) Count(ctx context.Context, userID string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.TimelineEntry{}).Where("user_id = ?", userID).Count(&cnt).Error
	return cnt, err
}
