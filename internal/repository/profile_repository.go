package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/timeline-fanout/internal/model"
)

// ProfileRepository 用户扇出画像
type ProfileRepository interface {
	Get(ctx context.Context, userID string) (*model.UserFanoutProfile, error)
	// Upsert 创建或覆盖 follower_count / last_active_at
	Upsert(ctx context.Context, p *model.UserFanoutProfile) error
	// Touch 刷新最近活跃时间，画像不存在时创建
	Touch(ctx context.Context, userID string, at time.Time) error
	// AddFollowers 原子增减粉丝数，不会减到负数
	AddFollowers(ctx context.Context, userID string, delta int64) error
}

type profileRepository struct{ db *gorm.DB }

func NewProfileRepository(db *gorm.DB) ProfileRepository { return &profileRepository{db: db} }

func (r *profileRepository) Get(ctx context.Context, userID string) (*model.UserFanoutProfile, error) {
	var p model.UserFanoutProfile
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *profileRepository) Upsert(ctx context.Context, p *model.UserFanoutProfile) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"follower_count", "last_active_at", "updated_at"}),
	}).Create(p).Error
}

func (r *profileRepository) Touch(ctx context.Context, userID string, at time.Time) error {
	p := &model.UserFanoutProfile{UserID: userID, LastActiveAt: at}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_active_at", "updated_at"}),
	}).Create(p).Error
}

func (r *profileRepository) AddFollowers(ctx context.Context, userID string, delta int64) error {
	if delta > 0 {
		p := &model.UserFanoutProfile{UserID: userID, FollowerCount: delta}
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"follower_count": gorm.Expr("user_fanout_profiles.follower_count + ?", delta),
			}),
		}).Create(p).Error
	}
	return r.db.WithContext(ctx).Model(&model.UserFanoutProfile{}).
		Where("user_id = ?", userID).
		Update("follower_count", gorm.Expr("CASE WHEN follower_count + ? < 0 THEN 0 ELSE follower_count + ? END", delta, delta)).Error
}
