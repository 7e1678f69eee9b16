package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/d60-Lab/timeline-fanout/config"
	"github.com/d60-Lab/timeline-fanout/internal/cache"
	"github.com/d60-Lab/timeline-fanout/internal/model"
	"github.com/d60-Lab/timeline-fanout/internal/repository"
	"github.com/d60-Lab/timeline-fanout/internal/service"
	"github.com/d60-Lab/timeline-fanout/pkg/database"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range vs {
		sum += d
	}
	return sum / time.Duration(len(vs))
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

// 端到端：发帖进 Redis Stream -> 消费者扇出 -> 读时间线
func main() {
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	if err := database.AutoMigrate(db); err != nil {
		panic(err)
	}

	N := envInt("N", 20000)         // 作者粉丝数
	POSTS := envInt("POSTS", 100)   // 发帖数
	WORKERS := envInt("WORKERS", 8) // 消费分道数
	CONC := envInt("CONC", cfg.Fanout.Concurrency)

	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()
	stream := "bench:" + uuid.NewString()[:8]
	defer rdb.Del(ctx, stream)

	// 清表，保证可重复
	for _, tbl := range []string{"timeline_entries", "post_fanout_records", "follows", "fans", "user_fanout_profiles"} {
		_ = db.Exec("DELETE FROM " + tbl).Error
	}
	followers := seed(db, "author0", N)

	followRepo := repository.NewFollowRepository(db)
	fanRepo := repository.NewFanRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	records := repository.NewFanoutRecordRepository(db)
	dir := service.NewFollowerDirectory(fanRepo, followRepo, profileRepo, cfg.Fanout.PageSize)
	retry := service.RetryPolicy{MaxTries: cfg.Fanout.Retry.MaxTries, InitialInterval: cfg.Fanout.Retry.InitialInterval}
	tc := cache.NewRedisCache(rdb, "bench:tl:", cfg.Cache.TTL, cfg.Timeline.MaxSize)
	timelines := service.NewTimelines(repository.NewTimelineRepository(db), tc, cfg.Timeline.MaxSize, retry)
	dispatcher := service.NewDispatcher(dir, records, timelines, service.DispatcherConfig{
		CelebrityThreshold: int64(N),
		Concurrency:        CONC,
	})
	reader := service.NewReader(dir, records, timelines, service.ReaderConfig{CelebrityThreshold: int64(N)})

	consumer := service.NewStreamConsumer(rdb, dispatcher, service.ConsumerOptions{
		Stream:   stream,
		Group:    "bench",
		Consumer: "bench-1",
		Lanes:    WORKERS,
		Block:    100 * time.Millisecond,
		Retry:    retry,
	})
	if err := consumer.EnsureGroup(ctx); err != nil {
		panic(err)
	}
	stop := consumer.Start(ctx)
	defer stop(context.Background())

	publisher := service.NewPublisher(rdb, stream, 0)
	pubDurations := make([]time.Duration, 0, POSTS)
	for i := 0; i < POSTS; i++ {
		st := time.Now()
		if _, err := publisher.Publish(ctx, "author0", fmt.Sprintf("hello %d", i)); err != nil {
			panic(err)
		}
		pubDurations = append(pubDurations, time.Since(st))
	}

	land := make([]time.Duration, 0, POSTS)
	timeout := time.After(2 * time.Minute)
collect:
	for len(land) < POSTS {
		select {
		case d := <-consumer.Metrics():
			land = append(land, d)
		case <-timeout:
			fmt.Printf("timeout while waiting for fanout metrics: got=%d want=%d\n", len(land), POSTS)
			break collect
		}
	}

	fmt.Printf("N=%d POSTS=%d LANES=%d CONC=%d\n", N, POSTS, WORKERS, CONC)
	fmt.Printf("Publish XADD latency: avg=%v p95=%v p99=%v\n", avg(pubDurations), pct(pubDurations, 0.95), pct(pubDurations, 0.99))
	fmt.Printf("Fanout landing (created->acked): samples=%d avg=%v p95=%v p99=%v\n", len(land), avg(land), pct(land, 0.95), pct(land, 0.99))

	if len(followers) > 0 {
		st := time.Now()
		page := must(reader.GetTimeline(ctx, followers[0], 50, ""))
		cold := time.Since(st)
		st = time.Now()
		_ = must(reader.GetTimeline(ctx, followers[0], 50, ""))
		fmt.Printf("Timeline read (follower0, limit=50): cold=%v warm=%v rows=%d\n", cold, time.Since(st), len(page.Entries))
	}
}

// seed 批量写入 n 个粉丝；作者粉丝数等于 n（推模式）
func seed(db *gorm.DB, authorID string, n int) []string {
	now := time.Now()
	ids := make([]string, n)
	follows := make([]model.Follow, n)
	fans := make([]model.Fan, n)
	profiles := make([]model.UserFanoutProfile, n+1)
	for i := 0; i < n; i++ {
		ids[i] = uuid.NewString()
		follows[i] = model.Follow{ID: uuid.NewString(), FollowerID: ids[i], FolloweeID: authorID, CreatedAt: now, UpdatedAt: now}
		fans[i] = model.Fan{ID: uuid.NewString(), UserID: authorID, FanID: ids[i], CreatedAt: now, UpdatedAt: now}
		profiles[i] = model.UserFanoutProfile{UserID: ids[i], LastActiveAt: now}
	}
	profiles[n] = model.UserFanoutProfile{UserID: authorID, FollowerCount: int64(n), LastActiveAt: now}
	_ = db.CreateInBatches(&follows, 1000).Error
	_ = db.CreateInBatches(&fans, 1000).Error
	_ = db.CreateInBatches(&profiles, 1000).Error
	return ids
}
