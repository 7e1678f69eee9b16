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
	"gorm.io/gorm"

	"github.com/d60-Lab/timeline-fanout/config"
	"github.com/d60-Lab/timeline-fanout/internal/cacheperf"
	"github.com/d60-Lab/timeline-fanout/internal/event"
	"github.com/d60-Lab/timeline-fanout/internal/model"
	"github.com/d60-Lab/timeline-fanout/internal/repository"
	"github.com/d60-Lab/timeline-fanout/internal/service"
	"github.com/d60-Lab/timeline-fanout/pkg/database"
)

// 同一个作者分别按推模式和拉模式发帖，对比写放大与读时合并的代价
func main() {
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	mustDo(database.AutoMigrate(db))

	N := envInt("N", 20000)
	POSTS := envInt("POSTS", 20)
	READS := envInt("READS", 200)

	ctx := context.Background()
	mustDo(db.Exec("DELETE FROM timeline_entries").Error)
	mustDo(db.Exec("DELETE FROM post_fanout_records").Error)
	followers := seed(db, "author0", N)

	fmt.Printf("N=%d POSTS=%d READS=%d\n", N, POSTS, READS)
	for _, mode := range []struct {
		name      string
		threshold int64
	}{
		{"push", int64(N)},
		{"pull", int64(N) - 1},
	} {
		store := cacheperf.NewCountingStore(repository.NewTimelineRepository(db), 0)
		dispatcher, reader := build(db, store, cfg, mode.threshold)

		writes := make([]time.Duration, 0, POSTS)
		for i := 0; i < POSTS; i++ {
			ev := &event.PostCreated{
				PostID:    fmt.Sprintf("%s-%d", mode.name, i),
				AuthorID:  "author0",
				CreatedAt: time.Now().UnixMilli(),
			}
			st := time.Now()
			res, err := dispatcher.OnPostCreated(ctx, ev)
			if err != nil {
				panic(err)
			}
			writes = append(writes, time.Since(st))
			if res.Failed > 0 {
				fmt.Printf("  %s: %d follower writes failed\n", ev.PostID, res.Failed)
			}
		}
		appends := store.Counters().Appends

		// 每次读都是冷读（NoCache），体现读时合并本身的代价
		reads := make([]time.Duration, 0, READS)
		for i := 0; i < READS; i++ {
			st := time.Now()
			_ = must(reader.GetTimeline(ctx, followers[i%len(followers)], 20, ""))
			reads = append(reads, time.Since(st))
		}

		fmt.Printf("%-5s dispatch avg=%v p95=%v p99=%v store_appends=%d | cold read avg=%v p95=%v p99=%v\n",
			mode.name, avg(writes), pct(writes, 0.95), pct(writes, 0.99), appends,
			avg(reads), pct(reads, 0.95), pct(reads, 0.99))
	}
}

func build(db *gorm.DB, store *cacheperf.CountingStore, cfg *config.Config, threshold int64) (*service.Dispatcher, *service.Reader) {
	dir := service.NewFollowerDirectory(
		repository.NewFanRepository(db), repository.NewFollowRepository(db), repository.NewProfileRepository(db), cfg.Fanout.PageSize)
	records := repository.NewFanoutRecordRepository(db)
	retry := service.RetryPolicy{
		MaxTries:        cfg.Fanout.Retry.MaxTries,
		InitialInterval: cfg.Fanout.Retry.InitialInterval,
		MaxInterval:     cfg.Fanout.Retry.MaxInterval,
	}
	tl := service.NewTimelines(store, cacheperf.NoCache{}, cfg.Timeline.MaxSize, retry)
	dispatcher := service.NewDispatcher(dir, records, tl, service.DispatcherConfig{
		CelebrityThreshold: threshold,
		Concurrency:        cfg.Fanout.Concurrency,
	})
	reader := service.NewReader(dir, records, tl, service.ReaderConfig{CelebrityThreshold: threshold})
	return dispatcher, reader
}

// seed 批量写入 n 个粉丝的关注、粉丝冗余和画像；返回粉丝 ID
func seed(db *gorm.DB, authorID string, n int) []string {
	mustDo(db.Exec("DELETE FROM follows").Error)
	mustDo(db.Exec("DELETE FROM fans").Error)
	mustDo(db.Exec("DELETE FROM user_fanout_profiles").Error)

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
	mustDo(db.CreateInBatches(&follows, 1000).Error)
	mustDo(db.CreateInBatches(&fans, 1000).Error)
	mustDo(db.CreateInBatches(&profiles, 1000).Error)
	return ids
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range vs {
		sum += v
	}
	return sum / time.Duration(len(vs))
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

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func mustDo(err error) {
	if err != nil {
		panic(err)
	}
}
