package model

import (
	"time"

	"github.com/d60-Lab/timeline-fanout/internal/feed"
)

// TimelineEntry 时间线存储行（按 user_id 切分，每个用户一个逻辑分区）
type TimelineEntry struct {
	ID     string `gorm:"primaryKey;type:varchar(36)"`
	UserID string `gorm:"type:varchar(36);not null;uniqueIndex:ux_timeline_user_post;index:idx_timeline_user_order,priority:1"`
	PostID string `gorm:"type:varchar(64);not null;uniqueIndex:ux_timeline_user_post;index:idx_timeline_user_order,priority:3"`
	// 复合唯一键，避免重复 (user, post)，重放事件靠它幂等
	// ux_timeline_user_post = (user_id, post_id)
	AuthorID   string `gorm:"type:varchar(36);not null"`
	PostedAt   int64  `gorm:"not null;index:idx_timeline_user_order,priority:2"`
	Source     string `gorm:"type:varchar(8);not null"`
	InsertedAt time.Time
}

func (TimelineEntry) TableName() string { return "timeline_entries" }

// ToEntry 转为领域对象
func (t *TimelineEntry) ToEntry() feed.Entry {
	src, err := feed.ParseSource(t.Source)
	if err != nil {
		src = feed.SourcePushed
	}
	return feed.Entry{PostID: t.PostID, AuthorID: t.AuthorID, CreatedAt: t.PostedAt, Source: src}
}
