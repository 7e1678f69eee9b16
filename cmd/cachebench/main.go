package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/d60-Lab/timeline-fanout/config"
	"github.com/d60-Lab/timeline-fanout/internal/cache"
	"github.com/d60-Lab/timeline-fanout/internal/cacheperf"
	"github.com/d60-Lab/timeline-fanout/internal/model"
	"github.com/d60-Lab/timeline-fanout/internal/repository"
	"github.com/d60-Lab/timeline-fanout/internal/service"
	"github.com/d60-Lab/timeline-fanout/pkg/database"
)

// request 一次读：第 depth 页（depth 从 1 开始），每页 size 条
type request struct {
	userID string
	depth  int
	size   int
}

func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	mustDo(database.AutoMigrate(db))

	users := envInt("USERS", 200)
	perUser := envInt("PER_USER", cfg.Timeline.MaxSize)
	reqCount := envInt("REQS", 9000)
	dbDelay := time.Duration(envInt("DB_DELAY_MS", 0)) * time.Millisecond

	fmt.Println("Setting up test data...")
	mustDo(db.Exec("DELETE FROM timeline_entries").Error)
	userIDs := make([]string, users)
	base := time.Now().UnixMilli()
	for u := 0; u < users; u++ {
		userIDs[u] = fmt.Sprintf("reader%04d", u)
		rows := make([]model.TimelineEntry, perUser)
		for i := range rows {
			rows[i] = model.TimelineEntry{
				ID:         uuid.NewString(),
				UserID:     userIDs[u],
				PostID:     fmt.Sprintf("post-%d-%d", u, i),
				AuthorID:   fmt.Sprintf("author%03d", i%97),
				PostedAt:   base - int64(i)*1000,
				Source:     "pushed",
				InsertedAt: time.Now(),
			}
		}
		mustDo(db.CreateInBatches(&rows, 500).Error)
	}
	fmt.Printf("Test data ready: %d users x %d entries\n", users, perUser)

	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		panic(fmt.Sprintf("Failed to connect to Redis at %s: %v", cfg.Redis.Addr, err))
	}

	store := cacheperf.NewCountingStore(repository.NewTimelineRepository(db), dbDelay)
	reqs := makeRequests(userIDs, reqCount)

	memCache := must(cache.NewMemoryCache(users*2, cfg.Cache.TTL, cfg.Timeline.MaxSize))
	redisCache := cache.NewRedisCache(client, cfg.Cache.KeyPrefix, cfg.Cache.TTL, cfg.Timeline.MaxSize)

	scenarios := []struct {
		name  string
		cache cache.TimelineCache
	}{
		{"No cache", cacheperf.NoCache{}},
		{"LRU in-process", memCache},
		{"Redis ZSET", redisCache},
	}

	fmt.Printf("\nTimeline read latency (%d req across %d users, max=%d)\n", len(reqs), users, cfg.Timeline.MaxSize)
	for _, sc := range scenarios {
		mustDo(client.FlushDB(ctx).Err())
		store.ResetCounters()
		reader := newReader(db, store, sc.cache, cfg)

		durs := run(ctx, reader, reqs)
		keys, _ := client.DBSize(ctx).Result()
		info, _ := client.Info(ctx, "memory").Result()
		c := store.Counters()
		stats := reader.Stats()
		fmt.Printf("%-16s avg=%v p95=%v p99=%v store_lists=%d hits=%d rebuilds=%d redis_keys=%d redis_mem=%s\n",
			sc.name, avg(durs), pct(durs, 0.95), pct(durs, 0.99), c.Lists, stats.Hits, stats.Rebuilds,
			keys, formatBytes(parseRedisMemory(info)))
	}
}

func newReader(db *gorm.DB, store *cacheperf.CountingStore, c cache.TimelineCache, cfg *config.Config) *service.Reader {
	dir := service.NewFollowerDirectory(
		repository.NewFanRepository(db), repository.NewFollowRepository(db), repository.NewProfileRepository(db), cfg.Fanout.PageSize)
	tl := service.NewTimelines(store, c, cfg.Timeline.MaxSize, service.RetryPolicy{MaxTries: 1})
	return service.NewReader(dir, repository.NewFanoutRecordRepository(db), tl, service.ReaderConfig{
		CelebrityThreshold: cfg.Fanout.CelebrityThreshold,
		RebuildTimeout:     cfg.Reader.RebuildTimeout,
		DefaultPageSize:    cfg.Reader.DefaultPageSize,
		MaxPageSize:        cfg.Reader.MaxPageSize,
	})
}

// run 顺序执行请求；深翻页沿 cursor 逐页走到目标页，只计最后一页的耗时
func run(ctx context.Context, reader *service.Reader, reqs []request) []time.Duration {
	out := make([]time.Duration, 0, len(reqs))
	for _, r := range reqs {
		cursor := ""
		for d := 1; d < r.depth; d++ {
			page := must(reader.GetTimeline(ctx, r.userID, r.size, cursor))
			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}
		start := time.Now()
		_ = must(reader.GetTimeline(ctx, r.userID, r.size, cursor))
		out = append(out, time.Since(start))
	}
	return out
}

func makeRequests(userIDs []string, n int) []request {
	sizes := []int{20, 40, 60}
	out := make([]request, n)
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < n; i++ {
		depth := 1
		if rnd.Float64() > 0.72 {
			depth = 2 + rnd.Intn(5)
		}
		out[i] = request{userID: userIDs[rnd.Intn(len(userIDs))], depth: depth, size: sizes[rnd.Intn(len(sizes))]}
	}
	return out
}

// parseRedisMemory 从 INFO memory 中取 used_memory
func parseRedisMemory(info string) int64 {
	for _, line := range strings.Split(info, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "used_memory:"); ok {
			n, _ := strconv.ParseInt(v, 10, 64)
			return n
		}
	}
	return 0
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
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
	sorted := append([]time.Duration(nil), vs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
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
