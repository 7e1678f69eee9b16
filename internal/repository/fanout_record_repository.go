package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/timeline-fanout/internal/feed"
	"github.com/d60-Lab/timeline-fanout/internal/model"
)

// FanoutRecordRepository 帖子扇出记录；pull-pending 记录即大 V 帖子索引
type FanoutRecordRepository interface {
	// Create 先写者胜：已存在时返回库中那条，created=false
	Create(ctx context.Context, rec *model.PostFanoutRecord) (stored *model.PostFanoutRecord, created bool, err error)
	Get(ctx context.Context, postID string) (*model.PostFanoutRecord, error)
	// ListPullSince 返回这些作者 posted_at > since 的 pull 帖子，按时间线顺序，最多 limit 条
	ListPullSince(ctx context.Context, authorIDs []string, since int64, limit int) ([]feed.Entry, error)
}

type fanoutRecordRepository struct{ db *gorm.DB }

func NewFanoutRecordRepository(db *gorm.DB) FanoutRecordRepository {
	return &fanoutRecordRepository{db: db}
}

func (r *fanoutRecordRepository) Create(ctx context.Context, rec *model.PostFanoutRecord) (*model.PostFanoutRecord, bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return rec, true, nil
	}
	stored, err := r.Get(ctx, rec.PostID)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

func (r *fanoutRecordRepository) Get(ctx context.Context, postID string) (*model.PostFanoutRecord, error) {
	var rec model.PostFanoutRecord
	err := r.db.WithContext(ctx).Where("post_id = ?", postID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *fanoutRecordRepository) ListPullSince(ctx context.Context, authorIDs []string, since int64, limit int) ([]feed.Entry, error) {
	if len(authorIDs) == 0 {
		return []feed.Entry{}, nil
	}
	var rows []model.PostFanoutRecord
	q := r.db.WithContext(ctx).
		Where("author_id IN ? AND posted_at > ? AND delivery_mode = ?", authorIDs, since, feed.DeliveryPull.String()).
		Order("posted_at DESC, post_id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]feed.Entry, len(rows))
	for i := range rows {
		out[i] = rows[i].PulledEntry()
	}
	return out, nil
}
