package model

import (
	"time"

	"github.com/d60-Lab/timeline-fanout/internal/feed"
)

// PostFanoutRecord 每个帖子一条扇出记录；pull 模式的记录同时充当大 V 帖子索引
type PostFanoutRecord struct {
	PostID       string `gorm:"primaryKey;type:varchar(64)"`
	AuthorID     string `gorm:"type:varchar(36);not null;index:idx_fanout_author_time,priority:1"`
	PostedAt     int64  `gorm:"not null;index:idx_fanout_author_time,priority:2"`
	DeliveryMode string `gorm:"type:varchar(16);not null;index"` // pushed, pull-pending
	ContentRef   string `gorm:"type:varchar(255)"`
	CreatedAt    time.Time
}

func (PostFanoutRecord) TableName() string { return "post_fanout_records" }

// Mode 解析投递模式
func (r *PostFanoutRecord) Mode() (feed.DeliveryMode, error) {
	return feed.ParseDeliveryMode(r.DeliveryMode)
}

// PulledEntry 读时合并用的时间线项
func (r *PostFanoutRecord) PulledEntry() feed.Entry {
	return feed.Entry{PostID: r.PostID, AuthorID: r.AuthorID, CreatedAt: r.PostedAt, Source: feed.SourcePulled}
}
