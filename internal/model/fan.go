package model

import "time"

// Fan 粉丝关系（B 的粉丝是 A）冗余自 Follow，扇出时按 user_id 翻页
type Fan struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	UserID    string `gorm:"type:varchar(36);uniqueIndex:idx_fan_pair;not null"`
	FanID     string `gorm:"type:varchar(36);not null;uniqueIndex:idx_fan_pair"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Fan) TableName() string { return "fans" }
