package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/d60-Lab/timeline-fanout/internal/cache"
	"github.com/d60-Lab/timeline-fanout/internal/feed"
	"github.com/d60-Lab/timeline-fanout/internal/repository"
	"github.com/d60-Lab/timeline-fanout/pkg/keylock"
	"github.com/d60-Lab/timeline-fanout/pkg/logger"
)

// ErrStoreUnavailable 时间线存储不可达，调用方可重试
var ErrStoreUnavailable = errors.New("timeline store unavailable")

// RetryPolicy 单个用户粒度的存储重试
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) options() []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	tries := p.MaxTries
	if tries == 0 {
		tries = 1
	}
	return []backoff.RetryOption{backoff.WithBackOff(b), backoff.WithMaxTries(tries)}
}

// FillFunc 读路径补齐：根据已存储的时间线返回需要合并进来的条目
type FillFunc func(ctx context.Context, stored []feed.Entry) ([]feed.Entry, error)

// RebuildResult 一次缓存重建的结果；Partial 表示补齐失败或超时，只含存储部分
type RebuildResult struct {
	Entries []feed.Entry
	Partial bool
}

// Timelines 时间线数据层：持久化存储 + 缓存 + 按用户的写串行化。
// 写路径（Deliver）与读路径重建（Rebuild）拿同一把用户锁，二者不会交错。
type Timelines struct {
	store   repository.TimelineRepository
	cache   cache.TimelineCache
	locks   *keylock.KeyedMutex
	maxSize int
	retry   RetryPolicy
}

func NewTimelines(store repository.TimelineRepository, c cache.TimelineCache, maxSize int, retry RetryPolicy) *Timelines {
	if maxSize <= 0 {
		maxSize = feed.DefaultMaxTimelineSize
	}
	return &Timelines{store: store, cache: c, locks: keylock.New(), maxSize: maxSize, retry: retry}
}

// MaxSize 单用户时间线上限
func (t *Timelines) MaxSize() int { return t.maxSize }

// Deliver 推模式写入一个粉丝的时间线：先落库（带重试），再更新仍然有效的缓存。
// 返回是否为新插入（重放时为 false）。
func (t *Timelines) Deliver(ctx context.Context, userID string, e feed.Entry) (bool, error) {
	unlock := t.locks.Lock(userID)
	defer unlock()

	inserted, err := backoff.Retry(ctx, func() (bool, error) {
		return t.store.Append(ctx, userID, e, t.maxSize)
	}, t.retry.options()...)
	if err != nil {
		return false, fmt.Errorf("%w: append %s: %v", ErrStoreUnavailable, userID, err)
	}

	// 重放也要推一次缓存：上次可能落库成功但缓存更新前失败
	if _, err := t.cache.PushIfLive(ctx, userID, e); err != nil {
		t.degrade(ctx, userID, err)
	}
	return inserted, nil
}

// Rebuild 读路径：读存储、补齐、合并、裁剪并写入新缓存。
// fill 在 timeout 内未完成时返回仅含存储部分的结果，且不写缓存。
func (t *Timelines) Rebuild(ctx context.Context, userID string, fill FillFunc, timeout time.Duration) (*RebuildResult, error) {
	unlock := t.locks.Lock(userID)
	defer unlock()

	stored, err := backoff.Retry(ctx, func() ([]feed.Entry, error) {
		return t.store.List(ctx, userID, t.maxSize)
	}, t.retry.options()...)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrStoreUnavailable, userID, err)
	}

	res := &RebuildResult{Entries: stored}
	if fill != nil {
		fctx, cancel := context.WithTimeout(ctx, timeout)
		extra, err := fill(fctx, stored)
		cancel()
		if err != nil {
			logger.Warn("timeline fill failed, serving store-only result",
				zap.String("user", userID), zap.Error(err))
			res.Partial = true
			return res, nil
		}
		res.Entries = feed.Merge(t.maxSize, stored, extra)
	}

	if err := t.cache.Set(ctx, userID, res.Entries); err != nil {
		t.degrade(ctx, userID, err)
	}
	return res, nil
}

// Cached 读缓存；缓存故障当作未命中
func (t *Timelines) Cached(ctx context.Context, userID string) ([]feed.Entry, bool) {
	entries, ok, err := t.cache.Get(ctx, userID)
	if err != nil {
		logger.Warn("timeline cache read failed", zap.String("user", userID), zap.Error(err))
		return nil, false
	}
	return entries, ok
}

// degrade 缓存写失败不影响主流程。容量错误直接跳过；其他错误尽量删掉该用户缓存，
// 避免留下缺条目的旧视图。
func (t *Timelines) degrade(ctx context.Context, userID string, err error) {
	if errors.Is(err, cache.ErrCacheFull) {
		logger.Warn("timeline cache full, skipping cache write", zap.String("user", userID))
		return
	}
	logger.Warn("timeline cache write failed, invalidating", zap.String("user", userID), zap.Error(err))
	if ierr := t.cache.Invalidate(ctx, userID); ierr != nil {
		logger.Error("timeline cache invalidate failed", zap.String("user", userID), zap.Error(ierr))
	}
}
