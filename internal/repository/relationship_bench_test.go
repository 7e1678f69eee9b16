package repository

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/d60-Lab/timeline-fanout/internal/feed"
	"github.com/d60-Lab/timeline-fanout/internal/model"
)

func openTestDB(tb testing.TB) *gorm.DB {
	tb.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		tb.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&model.UserFanoutProfile{}, &model.Follow{}, &model.Fan{}, &model.TimelineEntry{}, &model.PostFanoutRecord{}); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return db
}

func BenchmarkFollowWrite_And_FanRedundancy(b *testing.B) {
	db := openTestDB(b)
	followRepo := NewFollowRepository(db)
	fanRepo := NewFanRepository(db)
	ctx := context.Background()

	users := make([]string, 1000)
	for i := range users {
		users[i] = fmt.Sprintf("u%04d", i)
	}

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		from := users[rnd.Intn(len(users))]
		to := users[rnd.Intn(len(users))]
		if from == to {
			continue
		}
		_, _ = followRepo.Create(ctx, from, to)
		_, _ = fanRepo.Create(ctx, to, from)
	}
}

func BenchmarkTimelineAppendAtCap(b *testing.B) {
	db := openTestDB(b)
	repo := NewTimelineRepository(db)
	ctx := context.Background()

	// 先填满窗口，压测的是"插入 + 裁剪"的稳态成本
	for i := 0; i < feed.DefaultMaxTimelineSize; i++ {
		_, _ = repo.Append(ctx, "u0", feed.Entry{PostID: fmt.Sprintf("seed%05d", i), AuthorID: "a", CreatedAt: int64(i), Source: feed.SourcePushed}, feed.DefaultMaxTimelineSize)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e := feed.Entry{PostID: fmt.Sprintf("p%09d", i), AuthorID: "a", CreatedAt: int64(feed.DefaultMaxTimelineSize + i), Source: feed.SourcePushed}
		if _, err := repo.Append(ctx, "u0", e, feed.DefaultMaxTimelineSize); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkQueryFansAndFollowing(b *testing.B) {
	db := openTestDB(b)
	followRepo := NewFollowRepository(db)
	fanRepo := NewFanRepository(db)
	ctx := context.Background()

	// 构造：一个用户 U0 有 N 个粉丝，同时 U0 也关注 N 个用户
	const N = 5000
	for i := 1; i <= N; i++ {
		uid := fmt.Sprintf("u%v", i)
		_, _ = followRepo.Create(ctx, uid, "u0")
		_, _ = fanRepo.Create(ctx, "u0", uid)
		_, _ = followRepo.Create(ctx, "u0", uid)
		_, _ = fanRepo.Create(ctx, uid, "u0")
	}

	b.ResetTimer()
	b.Run("ListFollowersAfter", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = fanRepo.ListFollowersAfter(ctx, "u0", "", 500)
		}
	})

	b.Run("ListFollowing", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = followRepo.ListFollowings(ctx, "u0", 0, 50)
		}
	})
}
