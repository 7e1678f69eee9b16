package model

import (
	"time"

	"github.com/d60-Lab/timeline-fanout/internal/feed"
)

// UserFanoutProfile 用户扇出画像；follower_count 由关系链冗余维护
type UserFanoutProfile struct {
	UserID        string `gorm:"primaryKey;type:varchar(36)"`
	FollowerCount int64  `gorm:"not null;default:0;index"`
	LastActiveAt  time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (UserFanoutProfile) TableName() string { return "user_fanout_profiles" }

// IsHighFanout 每次按当前粉丝数推导，不落库
func (p *UserFanoutProfile) IsHighFanout(threshold int64) bool {
	return feed.Classify(p.FollowerCount, threshold) == feed.DeliveryPull
}

// Follower 扇出枚举时的一项：粉丝 ID + 最近活跃时间
type Follower struct {
	UserID       string
	LastActiveAt time.Time
}
