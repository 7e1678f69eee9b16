package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/timeline-fanout/internal/cache"
	"github.com/d60-Lab/timeline-fanout/internal/event"
	"github.com/d60-Lab/timeline-fanout/internal/feed"
	"github.com/d60-Lab/timeline-fanout/internal/model"
	"github.com/d60-Lab/timeline-fanout/internal/repository"
	"github.com/d60-Lab/timeline-fanout/pkg/database"
)

var errInjected = errors.New("injected store failure")

// stubStore 包一层真实存储，计数并按需注入延迟和故障
type stubStore struct {
	repository.TimelineRepository

	lists   atomic.Int64
	appends atomic.Int64

	mu          sync.Mutex
	failAppend  map[string]bool
	listErr     error
	listDelay   time.Duration
	appendDelay time.Duration
	inflight    int
	maxInflight int
}

func (s *stubStore) Append(ctx context.Context, userID string, e feed.Entry, max int) (bool, error) {
	s.appends.Add(1)
	s.mu.Lock()
	fail := s.failAppend[userID]
	delay := s.appendDelay
	s.inflight++
	if s.inflight > s.maxInflight {
		s.maxInflight = s.inflight
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
	}()
	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		return false, errInjected
	}
	return s.TimelineRepository.Append(ctx, userID, e, max)
}

func (s *stubStore) List(ctx context.Context, userID string, limit int) ([]feed.Entry, error) {
	s.lists.Add(1)
	s.mu.Lock()
	err, delay := s.listErr, s.listDelay
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	// 延迟放在读之后，拉长"已读存储、未写缓存"的窗口
	got, err := s.TimelineRepository.List(ctx, userID, limit)
	if delay > 0 {
		time.Sleep(delay)
	}
	return got, err
}

type harnessOptions struct {
	threshold      int64
	maxSize        int
	window         time.Duration
	concurrency    int
	rebuildTimeout time.Duration
	redis          bool
	pulls          PullIndex
	now            time.Time
}

type harness struct {
	store      *stubStore
	cache      cache.TimelineCache
	mr         *miniredis.Miniredis
	profiles   repository.ProfileRepository
	follows    repository.FollowRepository
	fans       repository.FanRepository
	records    repository.FanoutRecordRepository
	dir        FollowerDirectory
	rel        RelationshipService
	timelines  *Timelines
	dispatcher *Dispatcher
	reader     *Reader
	now        time.Time
}

func newHarness(t *testing.T, opts ...func(*harnessOptions)) *harness {
	t.Helper()
	o := harnessOptions{
		threshold:      feed.DefaultCelebrityThreshold,
		maxSize:        feed.DefaultMaxTimelineSize,
		window:         30 * 24 * time.Hour,
		concurrency:    8,
		rebuildTimeout: time.Second,
		now:            time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	for _, fn := range opts {
		fn(&o)
	}

	db, err := database.OpenMemory()
	require.NoError(t, err)

	h := &harness{now: o.now}
	h.store = &stubStore{TimelineRepository: repository.NewTimelineRepository(db), failAppend: map[string]bool{}}
	if o.redis {
		h.mr = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: h.mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		h.cache = cache.NewRedisCache(client, "tl:", time.Minute, o.maxSize)
	} else {
		mc, err := cache.NewMemoryCache(1000, time.Minute, o.maxSize)
		require.NoError(t, err)
		h.cache = mc
	}

	h.profiles = repository.NewProfileRepository(db)
	h.follows = repository.NewFollowRepository(db)
	h.fans = repository.NewFanRepository(db)
	h.records = repository.NewFanoutRecordRepository(db)
	h.dir = NewFollowerDirectory(h.fans, h.follows, h.profiles, 7)
	h.rel = NewRelationshipService(h.follows, h.fans, h.profiles, nil)

	retry := RetryPolicy{MaxTries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	h.timelines = NewTimelines(h.store, h.cache, o.maxSize, retry)
	h.dispatcher = NewDispatcher(h.dir, h.records, h.timelines, DispatcherConfig{
		CelebrityThreshold: o.threshold,
		InactiveSkipWindow: o.window,
		Concurrency:        o.concurrency,
	})
	h.dispatcher.now = func() time.Time { return h.now }

	pulls := o.pulls
	if pulls == nil {
		pulls = h.records
	}
	h.reader = NewReader(h.dir, pulls, h.timelines, ReaderConfig{
		CelebrityThreshold: o.threshold,
		RebuildTimeout:     o.rebuildTimeout,
		DefaultPageSize:    20,
		MaxPageSize:        1000,
	})
	return h
}

// addAuthor 创建作者画像
func (h *harness) addAuthor(t *testing.T, authorID string) {
	t.Helper()
	require.NoError(t, h.rel.MarkActive(context.Background(), authorID, h.now))
}

// addFollowers 让 n 个活跃用户关注 author，返回粉丝 ID
func (h *harness) addFollowers(t *testing.T, authorID, prefix string, n int, lastActive time.Time) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s%03d", prefix, i)
		ids[i] = id
		require.NoError(t, h.rel.MarkActive(ctx, id, lastActive))
		_, err := h.rel.Follow(ctx, id, authorID)
		require.NoError(t, err)
	}
	return ids
}

func (h *harness) setFollowerCount(t *testing.T, userID string, n int64) {
	t.Helper()
	require.NoError(t, h.profiles.Upsert(context.Background(), &model.UserFanoutProfile{UserID: userID, FollowerCount: n, LastActiveAt: h.now}))
}

func (h *harness) post(t *testing.T, authorID, postID string, ts int64) *DispatchResult {
	t.Helper()
	res, err := h.dispatcher.OnPostCreated(context.Background(), &event.PostCreated{PostID: postID, AuthorID: authorID, CreatedAt: ts})
	require.NoError(t, err)
	return res
}

func (h *harness) stored(t *testing.T, userID string) []feed.Entry {
	t.Helper()
	got, err := h.store.TimelineRepository.List(context.Background(), userID, 0)
	require.NoError(t, err)
	return got
}

func postIDs(entries []feed.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.PostID
	}
	return out
}

// follow 只写关注表，不改粉丝表和粉丝数（粉丝数由 setFollowerCount 设定）
func (h *harness) follow(t *testing.T, from, to string) {
	t.Helper()
	_, err := h.follows.Create(context.Background(), from, to)
	require.NoError(t, err)
}
