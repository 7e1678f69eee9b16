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

	"github.com/d60-Lab/timeline-fanout/config"
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

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
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

// 关注写入：同步冗余（关注表 + 粉丝表 + 粉丝数）对比异步冗余，以及冗余落地延迟
func main() {
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	if err := database.AutoMigrate(db); err != nil {
		panic(err)
	}

	N := envInt("N", 10000)
	CONC := envInt("CONC", 1)
	PAGE := envInt("PAGE", 50)
	WORKERS := envInt("WORKERS", 8)

	followRepo := repository.NewFollowRepository(db)
	fanRepo := repository.NewFanRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	replicator := service.NewFanReplicator(fanRepo, profileRepo, WORKERS, 100000)
	stop := replicator.Start()
	asyncSvc := service.NewRelationshipService(followRepo, fanRepo, profileRepo, replicator)
	syncSvc := service.NewRelationshipService(followRepo, fanRepo, profileRepo, nil)

	ctx := context.Background()
	for _, tbl := range []string{"follows", "fans", "user_fanout_profiles"} {
		_ = db.Exec("DELETE FROM " + tbl).Error
	}

	// u0 / u1 为被关注者，其余用户分别关注两人
	now := time.Now()
	_ = profileRepo.Upsert(ctx, &model.UserFanoutProfile{UserID: "u0", LastActiveAt: now})
	_ = profileRepo.Upsert(ctx, &model.UserFanoutProfile{UserID: "u1", LastActiveAt: now})
	users := make([]string, N)
	profiles := make([]model.UserFanoutProfile, N)
	for i := 0; i < N; i++ {
		users[i] = uuid.NewString()
		profiles[i] = model.UserFanoutProfile{UserID: users[i], LastActiveAt: now}
	}
	_ = db.CreateInBatches(&profiles, 1000).Error

	repRecs := make([]time.Duration, 0, N)
	doneRep := make(chan struct{})
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for {
			select {
			case d := <-replicator.Metrics():
				repRecs = append(repRecs, d)
			case <-doneRep:
				return
			}
		}
	}()

	maxQ := 0
	quitSample := make(chan struct{})
	sampled := make(chan struct{})
	go func() {
		defer close(sampled)
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if q := replicator.QueueLen(); q > maxQ {
					maxQ = q
				}
			case <-quitSample:
				return
			}
		}
	}()

	follow := func(svc service.RelationshipService, target string) (time.Duration, []time.Duration) {
		workers := CONC
		if workers > N {
			workers = N
		}
		jobs := make(chan int, N)
		for i := 0; i < N; i++ {
			jobs <- i
		}
		close(jobs)
		recs := make(chan time.Duration, N)
		done := make(chan struct{}, workers)
		t0 := time.Now()
		for w := 0; w < workers; w++ {
			go func() {
				for i := range jobs {
					st := time.Now()
					_, _ = svc.Follow(ctx, users[i], target)
					recs <- time.Since(st)
				}
				done <- struct{}{}
			}()
		}
		for w := 0; w < workers; w++ {
			<-done
		}
		total := time.Since(t0)
		close(recs)
		out := make([]time.Duration, 0, N)
		for d := range recs {
			out = append(out, d)
		}
		return total, out
	}

	asyncDur, asyncRecs := follow(asyncSvc, "u0")
	close(quitSample)
	<-sampled

	drainStart := time.Now()
	_ = stop(context.Background())
	drainDur := time.Since(drainStart)
	close(doneRep)
	<-collected

	syncDur, syncRecs := follow(syncSvc, "u1")

	q0 := time.Now()
	_, _ = asyncSvc.ListFans(ctx, "u0", 1, PAGE)
	fansDur := time.Since(q0)
	q1 := time.Now()
	_, _ = asyncSvc.ListFollowing(ctx, users[0], 1, PAGE)
	follDur := time.Since(q1)

	dir := service.NewFollowerDirectory(fanRepo, followRepo, profileRepo, cfg.Fanout.PageSize)
	c0, _ := dir.GetFollowerCount(ctx, "u0")
	c1, _ := dir.GetFollowerCount(ctx, "u1")

	fmt.Printf("N=%d, CONC=%d, PAGE=%d, WORKERS=%d\n", N, CONC, PAGE, WORKERS)
	fmt.Printf("Async follow latency total: %v, per op: %v, p50: %v, p95: %v, p99: %v\n",
		asyncDur, asyncDur/time.Duration(N), pct(asyncRecs, 0.50), pct(asyncRecs, 0.95), pct(asyncRecs, 0.99))
	fmt.Printf("Sync follow latency total: %v, per op: %v, p50: %v, p95: %v, p99: %v\n",
		syncDur, syncDur/time.Duration(N), pct(syncRecs, 0.50), pct(syncRecs, 0.95), pct(syncRecs, 0.99))
	fmt.Printf("Query fans(%d) latency: %v\n", PAGE, fansDur)
	fmt.Printf("Query following(%d) latency: %v\n", PAGE, follDur)
	fmt.Printf("Follower count: async=%d sync=%d\n", c0, c1)
	if len(repRecs) > 0 {
		fmt.Printf("Replication landing: samples=%d, p50=%v, p95=%v, p99=%v, maxQueue=%d, drain=%v\n",
			len(repRecs), pct(repRecs, 0.50), pct(repRecs, 0.95), pct(repRecs, 0.99), maxQ, drainDur)
	}
}
