package service

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/d60-Lab/timeline-fanout/internal/feed"
)

// PullIndex 大 V 帖子索引（pull-pending 的扇出记录）
type PullIndex interface {
	ListPullSince(ctx context.Context, authorIDs []string, since int64, limit int) ([]feed.Entry, error)
}

// ReaderConfig 读路径参数
type ReaderConfig struct {
	CelebrityThreshold int64
	// RebuildTimeout 读时合并的上限，超时返回仅含存储部分的结果
	RebuildTimeout time.Duration
	// StoreTimeout 合并后的重建整体上限（与发起请求的调用方解耦）
	StoreTimeout    time.Duration
	DefaultPageSize int
	MaxPageSize     int
	PullLimit       int
}

// Page 一页时间线
type Page struct {
	Entries    []feed.Entry `json:"entries"`
	NextCursor string       `json:"next_cursor"`
	// Partial 本次结果缺少读时合并部分（合并超时或失败）
	Partial bool `json:"partial,omitempty"`
}

// ReaderStats 读路径计数
type ReaderStats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Rebuilds int64 `json:"rebuilds"`
	Partials int64 `json:"partials"`
}

// Reader 时间线读取：缓存命中直接分页；未命中时同一用户的并发请求合并成一次
// "存储 + 大 V 拉取" 重建。
type Reader struct {
	dir       FollowerDirectory
	pulls     PullIndex
	timelines *Timelines
	cfg       ReaderConfig
	group     singleflight.Group
	tracer    trace.Tracer

	hits     atomic.Int64
	misses   atomic.Int64
	rebuilds atomic.Int64
	partials atomic.Int64
}

func NewReader(dir FollowerDirectory, pulls PullIndex, timelines *Timelines, cfg ReaderConfig) *Reader {
	if cfg.CelebrityThreshold <= 0 {
		cfg.CelebrityThreshold = feed.DefaultCelebrityThreshold
	}
	if cfg.RebuildTimeout <= 0 {
		cfg.RebuildTimeout = 2 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 20
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 200
	}
	if cfg.PullLimit <= 0 {
		cfg.PullLimit = timelines.MaxSize()
	}
	return &Reader{
		dir:       dir,
		pulls:     pulls,
		timelines: timelines,
		cfg:       cfg,
		tracer:    otel.Tracer("timeline-fanout/reader"),
	}
}

// GetTimeline 返回 cursor 之后的一页。pageSize<=0 使用默认值，超过上限截断。
// 只有存储不可达时返回 ErrStoreUnavailable，其余故障降级为尽力而为的结果。
func (r *Reader) GetTimeline(ctx context.Context, userID string, pageSize int, cursor string) (*Page, error) {
	ctx, span := r.tracer.Start(ctx, "reader.GetTimeline", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	cur, err := feed.ParseCursor(cursor)
	if err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = r.cfg.DefaultPageSize
	}
	if pageSize > r.cfg.MaxPageSize {
		pageSize = r.cfg.MaxPageSize
	}

	entries, partial, err := r.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("timeline.partial", partial))

	page, next := feed.Paginate(entries, pageSize, cur)
	return &Page{Entries: page, NextCursor: next.Encode(), Partial: partial}, nil
}

func (r *Reader) load(ctx context.Context, userID string) ([]feed.Entry, bool, error) {
	if entries, ok := r.timelines.Cached(ctx, userID); ok {
		r.hits.Add(1)
		return entries, false, nil
	}
	r.misses.Add(1)

	ch := r.group.DoChan(userID, func() (interface{}, error) {
		// 与发起者的取消解耦，避免一个调用方放弃导致其他等待者一起失败
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.StoreTimeout)
		defer cancel()
		// 前一轮重建可能刚刚写好缓存
		if entries, ok := r.timelines.Cached(bctx, userID); ok {
			return &RebuildResult{Entries: entries}, nil
		}
		r.rebuilds.Add(1)
		return r.timelines.Rebuild(bctx, userID, r.pull(userID), r.cfg.RebuildTimeout)
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		rb := res.Val.(*RebuildResult)
		if rb.Partial {
			r.partials.Add(1)
		}
		return rb.Entries, rb.Partial, nil
	}
}

// pull 读时合并：只补存储窗口覆盖范围内缺失的大 V 帖子
func (r *Reader) pull(userID string) FillFunc {
	return func(ctx context.Context, stored []feed.Entry) ([]feed.Entry, error) {
		celebs, err := r.dir.ListHighFanoutFollowings(ctx, userID, r.cfg.CelebrityThreshold)
		if err != nil {
			return nil, err
		}
		if len(celebs) == 0 {
			return nil, nil
		}
		since := int64(math.MinInt64)
		if len(stored) >= r.timelines.MaxSize() {
			oldest, _ := feed.Oldest(stored)
			since = oldest.CreatedAt - 1
		}
		return r.pulls.ListPullSince(ctx, celebs, since, r.cfg.PullLimit)
	}
}

// Stats 读路径计数快照
func (r *Reader) Stats() ReaderStats {
	return ReaderStats{
		Hits:     r.hits.Load(),
		Misses:   r.misses.Load(),
		Rebuilds: r.rebuilds.Load(),
		Partials: r.partials.Load(),
	}
}
