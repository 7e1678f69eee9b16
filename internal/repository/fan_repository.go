package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/timeline-fanout/internal/model"
)

type FanRepository interface {
	// Create 幂等写入，返回是否新插入
	Create(ctx context.Context, userID, fanID string) (bool, error)
	// Delete 返回是否确实删除了一行
	Delete(ctx context.Context, userID, fanID string) (bool, error)
	ListFans(ctx context.Context, userID string, offset, limit int) ([]*model.Fan, error)
	// ListFollowersAfter 按 fan_id 游标翻页，附带粉丝的最近活跃时间
	ListFollowersAfter(ctx context.Context, userID, afterFanID string, limit int) ([]model.Follower, error)
}

type fanRepository struct{ db *gorm.DB }

func NewFanRepository(db *gorm.DB) FanRepository { return &fanRepository{db: db} }

func (r *fanRepository) Create(ctx context.Context, userID, fanID string) (bool, error) {
	f := &model.Fan{ID: uuid.New().String(), UserID: userID, FanID: fanID}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(f)
	return res.RowsAffected > 0, res.Error
}

func (r *fanRepository) Delete(ctx context.Context, userID, fanID string) (bool, error) {
	res := r.db.WithContext(ctx).Where("user_id = ? AND fan_id = ?", userID, fanID).Delete(&model.Fan{})
	return res.RowsAffected > 0, res.Error
}

func (r *fanRepository) ListFans(ctx context.Context, userID string, offset, limit int) ([]*model.Fan, error) {
	var res []*model.Fan
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("fan_id").Offset(offset).Limit(limit).Find(&res).Error
	return res, err
}

func (r *fanRepository) ListFollowersAfter(ctx context.Context, userID, afterFanID string, limit int) ([]model.Follower, error) {
	type row struct {
		FanID        string
		LastActiveAt *time.Time
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Table("fans").
		Select("fans.fan_id, user_fanout_profiles.last_active_at").
		Joins("LEFT JOIN user_fanout_profiles ON user_fanout_profiles.user_id = fans.fan_id").
		Where("fans.user_id = ? AND fans.fan_id > ?", userID, afterFanID).
		Order("fans.fan_id").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	res := make([]model.Follower, len(rows))
	for i, r := range rows {
		res[i] = model.Follower{UserID: r.FanID}
		if r.LastActiveAt != nil {
			res[i].LastActiveAt = *r.LastActiveAt
		}
	}
	return res, nil
}
